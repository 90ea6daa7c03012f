package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/folio/internal/adapters/driving/httpapi"
	"github.com/custodia-labs/folio/internal/connectors/filesystem"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the job worker",
	Long: `Serves the HTTP API and, unless --no-worker is given, runs the background
job worker in the same process. When an inbox directory is configured
(inbox.dir or --inbox), files dropped into <inbox>/<notebook-id>/ are
ingested into that notebook.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background job worker",
	Long: `Claims and runs queued jobs until interrupted. Several workers may share
one Postgres database; leases keep each job on a single worker.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

var (
	serveAddr     string
	serveNoWorker bool
	serveInbox    string
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default http.addr)")
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "do not run jobs in this process")
	serveCmd.Flags().StringVar(&serveInbox, "inbox", "", "inbox directory to watch (default inbox.dir)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	if workerService == nil {
		return errors.New("worker service not configured")
	}
	cmd.Println("Worker running. Press Ctrl+C to stop.")
	return workerService.Start(cmd.Context())
}

func runServe(cmd *cobra.Command, _ []string) error {
	if notebookService == nil || retrievalService == nil {
		return errors.New("services not configured")
	}

	addr, inboxDir := serveAddr, serveInbox
	if cfg := appConfig; cfg != nil {
		if addr == "" {
			addr = cfg.HTTP.Addr
		}
		if inboxDir == "" {
			inboxDir = cfg.Inbox.Dir
		}
	}
	if addr == "" {
		return errors.New("no listen address; set http.addr or --addr")
	}

	server := httpapi.New(currentServices().httpServices())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
			cancel()
		}()
	}

	if !serveNoWorker && workerService != nil {
		run("worker", workerService.Start)
	}
	if inboxDir != "" && ingestService != nil {
		inbox := filesystem.NewInbox(filesystem.LocalPath(inboxDir), ingestService)
		cmd.Printf("Watching inbox %s\n", inbox.Root())
		run("inbox", inbox.Run)
	}
	cmd.Printf("Listening on http://%s\n", addr)
	run("http", func(ctx context.Context) error { return server.Start(ctx, addr) })

	wg.Wait()
	close(errCh)
	return <-errCh
}

func (s Services) httpServices() httpapi.Services {
	return httpapi.Services{
		Notebooks: s.Notebooks,
		Documents: s.Documents,
		Ingest:    s.Ingest,
		Jobs:      s.Jobs,
		Retrieval: s.Retrieval,
		Reports:   s.Reports,
		Chat:      s.Chat,
		Events:    s.Events,
		Metrics:   s.Metrics,
	}
}
