package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/faceauth/internal/biometric"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Inspect the enrollment gallery",
}

var galleryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled users or one user's images",
	Long: `Without --subject, list every user with a gallery and the number of images.
With --subject, list that user's images newest first.

Examples:
  faceauth gallery list
  faceauth gallery list --subject 42 --json`,
	RunE: runGalleryList,
}

func init() {
	rootCmd.AddCommand(galleryCmd)
	galleryCmd.AddCommand(galleryListCmd)
	galleryListCmd.Flags().String("subject", "", "Only list this user's images")
	galleryListCmd.Flags().Bool("json", false, "Output as JSON")
}

// GallerySubject summarises one user's gallery.
type GallerySubject struct {
	SubjectID string `json:"subject_id"`
	Images    int    `json:"images"`
}

func runGalleryList(cmd *cobra.Command, args []string) error {
	subjectID := mustGetString(cmd, "subject")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	gallery, err := biometric.NewGalleryStore(cfg.Gallery.Dir, logger)
	if err != nil {
		return err
	}

	if subjectID != "" {
		records, err := gallery.ListRecords(subjectID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(records)
		}
		if len(records) == 0 {
			fmt.Printf("No images enrolled for %s\n", subjectID)
			return nil
		}
		for _, record := range records {
			fmt.Printf("%s  %s\n", record.CapturedAt.Format("2006-01-02 15:04:05"), record.Path)
		}
		return nil
	}

	summaries, err := summariseGallery(gallery)
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(summaries)
	}
	if len(summaries) == 0 {
		fmt.Println("Gallery is empty.")
		return nil
	}
	for _, s := range summaries {
		fmt.Printf("%-40s %d\n", s.SubjectID, s.Images)
	}
	return nil
}

func summariseGallery(gallery biometric.GalleryReader) ([]GallerySubject, error) {
	subjects, err := gallery.Subjects()
	if err != nil {
		return nil, err
	}
	summaries := make([]GallerySubject, 0, len(subjects))
	for _, subjectID := range subjects {
		images, err := gallery.ListImages(subjectID)
		if err != nil {
			return nil, err
		}
		if len(images) == 0 {
			continue
		}
		summaries = append(summaries, GallerySubject{SubjectID: subjectID, Images: len(images)})
	}
	return summaries, nil
}
