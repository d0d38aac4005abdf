package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/faceauth/internal/imageprocessor"
)

var checkUniqueCmd = &cobra.Command{
	Use:   "check-unique",
	Short: "Check whether a face is already enrolled by another user",
	Long: `Compare the face in an image against every user's gallery and report the
first user whose face matches.

Examples:
  faceauth check-unique --image face.jpg
  faceauth check-unique --image face.jpg --exclude 42 --json`,
	RunE: runCheckUnique,
}

var errFaceNotUnique = errors.New("face is not unique")

func init() {
	rootCmd.AddCommand(checkUniqueCmd)
	checkUniqueCmd.Flags().String("image", "", "Path of the image to check (required)")
	checkUniqueCmd.Flags().String("exclude", "", "User id whose gallery is skipped")
	checkUniqueCmd.Flags().Bool("json", false, "Output as JSON")
	_ = checkUniqueCmd.MarkFlagRequired("image")
}

func runCheckUnique(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	exclude := mustGetString(cmd, "exclude")
	jsonOutput := mustGetBool(cmd, "json")

	probe, err := imageprocessor.Load(mustGetString(cmd, "image"))
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	verdict := a.registry.CheckUnique(ctx, probe, exclude)
	if jsonOutput {
		if err := outputJSON(verdict); err != nil {
			return err
		}
		if !verdict.IsUnique {
			return errFaceNotUnique
		}
		return nil
	}

	fmt.Printf("Unique:           %s\n", yesNo(verdict.IsUnique))
	fmt.Printf("Reason:           %s\n", verdict.Reason)
	fmt.Printf("Subjects scanned: %d\n", verdict.SubjectsScanned)
	if verdict.MatchedSubjectID != "" {
		fmt.Printf("Matched user:     %s (confidence %.2f%%)\n", verdict.MatchedSubjectID, verdict.Confidence)
	}
	if !verdict.IsUnique {
		return errFaceNotUnique
	}
	return nil
}
