package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/faceauth/internal/biometric"
	"github.com/example/faceauth/internal/repository"
	"github.com/example/faceauth/internal/usecase"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage user profiles used by facial login",
}

var profileCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user profile if it does not exist",
	Long: `Create a user profile row with facial recognition disabled. Existing
profiles are left untouched.

Examples:
  faceauth profile create --subject 42`,
	RunE: runProfileCreate,
}

var profileFacialCmd = &cobra.Command{
	Use:   "facial-recognition",
	Short: "Enable or disable facial login for a user",
	Long: `Turn facial login on or off for a user. Enabling requires at least one
enrollment image.

Examples:
  faceauth profile facial-recognition --subject 42 --enable
  faceauth profile facial-recognition --subject 42 --enable=false`,
	RunE: runProfileFacial,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database tables",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(migrateCmd)
	profileCmd.AddCommand(profileCreateCmd)
	profileCmd.AddCommand(profileFacialCmd)

	profileCreateCmd.Flags().String("subject", "", "User id (required)")
	_ = profileCreateCmd.MarkFlagRequired("subject")

	profileFacialCmd.Flags().String("subject", "", "User id (required)")
	profileFacialCmd.Flags().Bool("enable", true, "Enable (true) or disable (false) facial login")
	_ = profileFacialCmd.MarkFlagRequired("subject")
}

func runProfileCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	subjectID := mustGetString(cmd, "subject")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	if err := repository.NewProfileRepository(db, logger).Ensure(ctx, subjectID); err != nil {
		return err
	}
	fmt.Printf("Profile %s ready\n", subjectID)
	return nil
}

func runProfileFacial(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	subjectID := mustGetString(cmd, "subject")
	enable := mustGetBool(cmd, "enable")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	gallery, err := biometric.NewGalleryStore(cfg.Gallery.Dir, logger)
	if err != nil {
		return err
	}
	// Only the gallery and profile store are consulted when toggling the flag.
	enrollment := usecase.NewEnrollmentUseCase(usecase.EnrollmentDeps{
		Gallery:  gallery,
		Profiles: repository.NewProfileRepository(db, logger),
	}, logger)
	if err := enrollment.SetFacialRecognition(ctx, subjectID, enable); err != nil {
		return err
	}
	state := "disabled"
	if enable {
		state = "enabled"
	}
	fmt.Printf("Facial recognition for %s: %s\n", subjectID, state)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repository.NewVerificationRepository(db, logger).AutoMigrate(ctx); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	fmt.Println("Database schema up to date.")
	return nil
}
