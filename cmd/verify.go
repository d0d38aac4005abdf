package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/faceauth/internal/biometric"
	"github.com/example/faceauth/internal/repository"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify an image against a user's enrolled face",
	Long: `Run the verification pipeline for one image: face location, liveness and
comparison against every image in the user's gallery.

With --login the strict login variant runs, which also requires the user to
exist and to have facial recognition enabled. This needs the database.

Examples:
  faceauth verify --subject 42 --image probe.jpg
  faceauth verify --subject 42 --image probe.jpg --login --json`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().String("subject", "", "User id to verify against (required)")
	verifyCmd.Flags().String("image", "", "Path of the probe image (required)")
	verifyCmd.Flags().Bool("login", false, "Run the login variant (checks the user profile)")
	verifyCmd.Flags().Bool("json", false, "Output as JSON")
	_ = verifyCmd.MarkFlagRequired("subject")
	_ = verifyCmd.MarkFlagRequired("image")
}

var errNotVerified = errors.New("not verified")

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	subjectID := mustGetString(cmd, "subject")
	login := mustGetBool(cmd, "login")
	jsonOutput := mustGetBool(cmd, "json")

	data, err := os.ReadFile(mustGetString(cmd, "image"))
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var verdict biometric.Verdict
	if login {
		db, err := openDatabase(ctx, a.cfg.Database, a.logger)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		verdict = a.orchestrator(repository.NewProfileRepository(db, a.logger)).VerifyForLogin(ctx, subjectID, data)
	} else {
		verdict = a.orchestrator(nil).VerifyAgainstProfile(ctx, subjectID, data)
	}

	if jsonOutput {
		if err := outputJSON(verdict); err != nil {
			return err
		}
	} else {
		printVerdict(verdict)
	}
	if !verdict.Verified {
		return fmt.Errorf("%w: %s", errNotVerified, verdict.Code)
	}
	return nil
}

func printVerdict(v biometric.Verdict) {
	fmt.Printf("Verified:    %s\n", yesNo(v.Verified))
	fmt.Printf("Reason:      %s\n", v.Reason)
	if v.Code != "" {
		fmt.Printf("Code:        %s\n", v.Code)
	}
	if v.TotalImages > 0 {
		fmt.Printf("Confidence:  %.2f%%\n", v.Confidence)
		fmt.Printf("Distance:    %.4f\n", v.Distance)
		fmt.Printf("Matched:     %d of %d images\n", v.MatchedCount, v.TotalImages)
	}
	if v.Liveness != nil {
		fmt.Printf("Liveness:    %s\n", v.Liveness.SecurityLevel)
		for _, warning := range v.Liveness.Warnings {
			fmt.Printf("  warning:   %s\n", warning)
		}
	}
}
