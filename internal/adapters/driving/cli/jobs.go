package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/folio/internal/core/domain"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control background jobs",
	Long: `Background jobs ingest documents, compute embeddings, generate report
sections and run batch searches. Jobs move through queued, running,
succeeded, failed (retryable) and failed_final.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel [job-id]",
	Short: "Cancel a job",
	Long: `Cancels a queued or failed job immediately. A running job is marked for
cancellation and stops at its next checkpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsCancel,
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry [job-id]",
	Short: "Run a failed_final job again",
	Long:  `Enqueues a copy of a failed_final job. The original keeps its history.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRetry,
}

var (
	jobsKind     string
	jobsState    string
	jobsNotebook string
	jobsLimit    int
	jobsJSON     bool
)

func init() {
	jobsListCmd.Flags().StringVar(&jobsKind, "kind", "", "filter by kind (ingest, embed, report_section, batch_search)")
	jobsListCmd.Flags().StringVar(&jobsState, "state", "", "filter by state")
	jobsListCmd.Flags().StringVar(&jobsNotebook, "notebook", "", "filter by notebook ID")
	jobsListCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 50, "maximum number of jobs")
	jobsListCmd.Flags().BoolVar(&jobsJSON, "json", false, "output as JSON")
	jobsStatusCmd.Flags().BoolVar(&jobsJSON, "json", false, "output as JSON")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsRetryCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	if jobService == nil {
		return errors.New("job service not configured")
	}

	filter := domain.JobFilter{
		Kind:       domain.JobKind(jobsKind),
		State:      domain.JobState(jobsState),
		NotebookID: jobsNotebook,
		Limit:      jobsLimit,
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return fmt.Errorf("unknown job kind: %s", jobsKind)
	}
	if filter.State != "" && !filter.State.IsValid() {
		return fmt.Errorf("unknown job state: %s", jobsState)
	}

	jobs, err := jobService.List(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	if jobsJSON {
		return printJSON(cmd, jobs)
	}
	if len(jobs) == 0 {
		cmd.Println("No jobs found.")
		return nil
	}

	for i := range jobs {
		j := &jobs[i]
		cmd.Printf("  %s %-36s %-15s %d/%d  %s\n",
			badge(string(j.State)), j.ID, j.Kind, j.Attempts, j.MaxAttempts,
			mutedStyle.Render(j.UpdatedAt.Format("2006-01-02 15:04:05")))
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	if jobService == nil {
		return errors.New("job service not configured")
	}

	job, err := jobService.Status(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if jobsJSON {
		return printJSON(cmd, job)
	}
	printJob(cmd, job)
	return nil
}

func printJob(cmd *cobra.Command, job *domain.Job) {
	cmd.Printf("Job: %s\n\n", job.ID)
	cmd.Printf("  Kind:      %s\n", job.Kind)
	cmd.Printf("  State:     %s\n", stateStyle(string(job.State)).Render(string(job.State)))
	if job.NotebookID != "" {
		cmd.Printf("  Notebook:  %s\n", job.NotebookID)
	}
	cmd.Printf("  Attempts:  %d/%d\n", job.Attempts, job.MaxAttempts)
	cmd.Printf("  Created:   %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if !job.FinishedAt.IsZero() {
		cmd.Printf("  Finished:  %s\n", job.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	if job.State == domain.JobFailed && !job.RunAfter.IsZero() {
		cmd.Printf("  Retry at:  %s\n", job.RunAfter.Format("2006-01-02 15:04:05"))
	}
	if job.CancelRequested {
		cmd.Printf("  %s\n", warningStyle.Render("cancellation requested"))
	}
	if job.Error != nil {
		cmd.Printf("\n  Error (%s): %s\n", job.Error.Kind, errorStyle.Render(job.Error.Message))
	}
	if len(job.Result) > 0 {
		var pretty any
		if err := json.Unmarshal(job.Result, &pretty); err == nil {
			if data, err := json.MarshalIndent(pretty, "  ", "  "); err == nil {
				cmd.Printf("\n  Result:\n  %s\n", data)
			}
		}
	}
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	if jobService == nil {
		return errors.New("job service not configured")
	}

	job, err := jobService.Cancel(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	switch {
	case job.State == domain.JobRunning:
		cmd.Printf("Job %s is running; cancellation requested.\n", job.ID)
		return nil
	case job.State == domain.JobSucceeded:
		cmd.Printf("Job %s already succeeded.\n", job.ID)
		return nil
	}
	cmd.Printf("Job %s cancelled.\n", job.ID)
	return nil
}

func runJobsRetry(cmd *cobra.Command, args []string) error {
	if jobService == nil {
		return errors.New("job service not configured")
	}

	job, err := jobService.Retry(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}
	cmd.Printf("Job %s retried as %s.\n", args[0], job.ID)
	return nil
}
