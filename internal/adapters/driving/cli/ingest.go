package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/folio/internal/connectors/filesystem"
	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [notebook-id] [path...]",
	Short: "Upload files into a notebook",
	Long: `Uploads each file and enqueues an ingest job for it. Paths may be
local paths, ~/ paths or file:// URIs. Ingestion runs in the background
worker ('folio worker' or 'folio serve'); use --wait to block until the
ingest jobs finish.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runIngest,
}

var (
	ingestMIMEType string
	ingestWait     bool
	ingestTimeout  time.Duration
)

// waitPollInterval is how often --wait checks job state.
var waitPollInterval = 500 * time.Millisecond

func init() {
	ingestCmd.Flags().StringVar(&ingestMIMEType, "mime-type", "", "override content type detection")
	ingestCmd.Flags().BoolVarP(&ingestWait, "wait", "w", false, "wait for ingest jobs to finish")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 10*time.Minute, "maximum time to wait")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return errors.New("ingest service not configured")
	}

	notebookID := args[0]
	var receipts []*driving.IngestReceipt
	var failed int
	for _, arg := range args[1:] {
		path := filesystem.LocalPath(arg)
		content, err := os.ReadFile(path)
		if err != nil {
			cmd.PrintErrf("  %s %s: %v\n", errorStyle.Render("✗"), arg, err)
			failed++
			continue
		}

		receipt, err := ingestService.Submit(cmd.Context(), driving.IngestRequest{
			NotebookID: notebookID,
			Filename:   filepath.Base(path),
			MIMEType:   ingestMIMEType,
			Content:    content,
		})
		if err != nil {
			cmd.PrintErrf("  %s %s: %v\n", errorStyle.Render("✗"), arg, err)
			failed++
			continue
		}

		note := ""
		if receipt.Deduplicated {
			note = mutedStyle.Render(" (duplicate of existing document)")
		}
		cmd.Printf("  %s %s -> document %s, job %s%s\n", successStyle.Render("✓"), arg, receipt.DocumentID, receipt.JobID, note)
		receipts = append(receipts, receipt)
	}

	if ingestWait && len(receipts) > 0 {
		if err := waitForIngest(cmd, receipts); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args)-1)
	}
	return nil
}

func waitForIngest(cmd *cobra.Command, receipts []*driving.IngestReceipt) error {
	if jobService == nil {
		return errors.New("job service not configured")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), ingestTimeout)
	defer cancel()

	cmd.Println()
	var failures int
	for _, r := range receipts {
		job, err := waitForJob(ctx, r.JobID)
		if err != nil {
			return fmt.Errorf("waiting for job %s: %w", r.JobID, err)
		}
		cmd.Printf("  %s %s\n", badge(string(job.State)), r.DocumentID)
		if job.State != domain.JobSucceeded {
			failures++
			if job.Error != nil {
				cmd.Printf("      %s\n", errorStyle.Render(job.Error.Message))
			}
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d ingest jobs did not succeed", failures)
	}
	return nil
}

// waitForJob polls until the job is terminal.
func waitForJob(ctx context.Context, id string) (*domain.Job, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		job, err := jobService.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.State.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
