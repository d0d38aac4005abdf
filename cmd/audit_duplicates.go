package cmd

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/example/faceauth/internal/biometric"
	"github.com/example/faceauth/internal/imageprocessor"
)

var auditDuplicatesCmd = &cobra.Command{
	Use:   "audit-duplicates",
	Short: "Find users whose enrolled faces match each other",
	Long: `Take the newest enrollment image of every user and check it against all
other galleries. Reports every pair of users sharing a face, which points to
duplicate accounts or images enrolled before uniqueness was enforced.

Examples:
  faceauth audit-duplicates
  faceauth audit-duplicates --concurrency 8 --json`,
	RunE: runAuditDuplicates,
}

func init() {
	rootCmd.AddCommand(auditDuplicatesCmd)
	auditDuplicatesCmd.Flags().Int("concurrency", 4, "Number of parallel workers")
	auditDuplicatesCmd.Flags().Bool("json", false, "Output as JSON")
}

// DuplicatePair is two users whose galleries hold the same face.
type DuplicatePair struct {
	SubjectID        string  `json:"subject_id"`
	MatchedSubjectID string  `json:"matched_subject_id"`
	Confidence       float64 `json:"confidence"`
	Distance         float64 `json:"distance"`
}

// AuditResult is the outcome of one audit run.
type AuditResult struct {
	SubjectsScanned int             `json:"subjects_scanned"`
	Duplicates      []DuplicatePair `json:"duplicates"`
	Failures        []string        `json:"failures,omitempty"`
	DurationMs      int64           `json:"duration_ms"`
}

type uniquenessChecker interface {
	CheckUnique(ctx context.Context, probe *imageprocessor.Image, excludeSubjectID string) biometric.UniquenessVerdict
}

func runAuditDuplicates(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	concurrency := mustGetInt(cmd, "concurrency")
	jsonOutput := mustGetBool(cmd, "json")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	subjects, err := a.gallery.Subjects()
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		fmt.Printf("Auditing %d users\n\n", len(subjects))
		bar = progressbar.NewOptions(len(subjects),
			progressbar.OptionSetDescription("Checking faces"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("users"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	progress := func() {
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	result := auditDuplicates(ctx, a.gallery, a.registry, subjects, concurrency, progress)
	if bar != nil {
		fmt.Println()
	}

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Println("\nAudit complete!")
	fmt.Printf("  Users scanned:   %d\n", result.SubjectsScanned)
	fmt.Printf("  Duplicate pairs: %d\n", len(result.Duplicates))
	for _, pair := range result.Duplicates {
		fmt.Printf("    %s <-> %s (confidence %.2f%%)\n", pair.SubjectID, pair.MatchedSubjectID, pair.Confidence)
	}
	if len(result.Failures) > 0 {
		fmt.Printf("  Failures:        %d\n", len(result.Failures))
		for _, failure := range result.Failures {
			fmt.Printf("    %s\n", failure)
		}
	}
	fmt.Printf("  Duration:        %s\n", formatDuration(time.Duration(result.DurationMs)*time.Millisecond))
	return nil
}

// auditDuplicates checks the newest image of each subject against every other
// gallery. A pair found from both sides is reported once.
func auditDuplicates(ctx context.Context, gallery biometric.GalleryReader, checker uniquenessChecker, subjects []string, concurrency int, progress func()) AuditResult {
	start := time.Now()
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu       sync.Mutex
		pairs    = make(map[[2]string]DuplicatePair)
		failures []string
		scanned  int
	)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, subjectID := range subjects {
		wg.Add(1)
		go func(subjectID string) {
			defer wg.Done()
			defer progress()

			sem <- struct{}{}
			defer func() { <-sem }()

			verdict, checked, err := auditSubject(ctx, gallery, checker, subjectID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", subjectID, err))
				return
			}
			if !checked {
				return
			}
			scanned++
			if verdict.IsUnique || verdict.MatchedSubjectID == "" {
				if !verdict.IsUnique {
					failures = append(failures, fmt.Sprintf("%s: %s", subjectID, verdict.Reason))
				}
				return
			}
			key := [2]string{subjectID, verdict.MatchedSubjectID}
			if key[1] < key[0] {
				key[0], key[1] = key[1], key[0]
			}
			if _, seen := pairs[key]; !seen {
				pairs[key] = DuplicatePair{
					SubjectID:        key[0],
					MatchedSubjectID: key[1],
					Confidence:       verdict.Confidence,
					Distance:         verdict.Distance,
				}
			}
		}(subjectID)
	}
	wg.Wait()

	duplicates := make([]DuplicatePair, 0, len(pairs))
	for _, pair := range pairs {
		duplicates = append(duplicates, pair)
	}
	sort.Slice(duplicates, func(i, j int) bool {
		if duplicates[i].SubjectID != duplicates[j].SubjectID {
			return duplicates[i].SubjectID < duplicates[j].SubjectID
		}
		return duplicates[i].MatchedSubjectID < duplicates[j].MatchedSubjectID
	})
	sort.Strings(failures)

	return AuditResult{
		SubjectsScanned: scanned,
		Duplicates:      duplicates,
		Failures:        failures,
		DurationMs:      time.Since(start).Milliseconds(),
	}
}

// auditSubject reports checked=false for subjects without images.
func auditSubject(ctx context.Context, gallery biometric.GalleryReader, checker uniquenessChecker, subjectID string) (biometric.UniquenessVerdict, bool, error) {
	if err := ctx.Err(); err != nil {
		return biometric.UniquenessVerdict{}, false, err
	}
	images, err := gallery.ListImages(subjectID)
	if err != nil {
		return biometric.UniquenessVerdict{}, false, err
	}
	if len(images) == 0 {
		return biometric.UniquenessVerdict{}, false, nil
	}
	probe, err := imageprocessor.Load(images[0])
	if err != nil {
		return biometric.UniquenessVerdict{}, false, err
	}
	return checker.CheckUnique(ctx, probe, subjectID), true, nil
}
