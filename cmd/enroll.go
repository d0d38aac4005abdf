package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/faceauth/internal/usecase"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Add an enrollment image to a user's gallery",
	Long: `Screen an image and add it to the user's gallery. The image must show one
face, pass the liveness check and not match any other user's gallery.

Runs offline: the user profile is not looked up.

Examples:
  faceauth enroll --subject 42 --image selfie.jpg
  faceauth enroll --subject 42 --image selfie.jpg --json`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.Flags().String("subject", "", "User id owning the gallery (required)")
	enrollCmd.Flags().String("image", "", "Path of the image to enroll (required)")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
	_ = enrollCmd.MarkFlagRequired("subject")
	_ = enrollCmd.MarkFlagRequired("image")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	subjectID := mustGetString(cmd, "subject")
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

	enrollment := usecase.NewEnrollmentUseCase(usecase.EnrollmentDeps{
		Gallery:  a.gallery,
		Locator:  a.locator,
		Liveness: a.liveness,
		Registry: a.registry,
	}, a.logger)

	result, enrollErr := enrollment.Enroll(ctx, subjectID, data)
	if jsonOutput && result != nil {
		if err := outputJSON(result); err != nil {
			return err
		}
	}
	if enrollErr != nil {
		return fmt.Errorf("enrollment rejected: %w", enrollErr)
	}
	if jsonOutput {
		return nil
	}

	fmt.Printf("Enrolled face for %s\n", result.SubjectID)
	fmt.Printf("  Stored as:     %s\n", result.Path)
	fmt.Printf("  Gallery size:  %d\n", result.TotalImages)
	fmt.Printf("  Face conf.:    %.2f\n", result.Face.Confidence)
	fmt.Printf("  Liveness:      %s (%s)\n", result.Liveness.SecurityLevel, result.Liveness.Reason)
	return nil
}
