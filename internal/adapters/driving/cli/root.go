// Package cli implements the folio command line with cobra.
//
// Services are held in package variables. main installs a Bootstrap that
// builds them from the loaded configuration; tests assign mocks directly.
package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/folio/internal/adapters/driving/httpapi"
	"github.com/custodia-labs/folio/internal/config"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
	"github.com/custodia-labs/folio/internal/logger"
)

// version is set at build time with -ldflags "-X ...cli.version=v1.2.3".
var version = "dev"

// annotationNoServices marks commands that only need the configuration.
const annotationNoServices = "folio/no-services"

// Services are the ports the commands run against.
type Services struct {
	Notebooks driving.NotebookService
	Documents driving.DocumentService
	Ingest    driving.IngestService
	Jobs      driving.JobService
	Retrieval driving.RetrievalService
	Reports   driving.ReportService
	Chat      driving.ChatService
	Worker    driving.WorkerService
	Events    httpapi.EventSource
	Metrics   http.Handler
}

// Bootstrap builds the services for cfg. The returned func releases them.
type Bootstrap func(ctx context.Context, cfg *config.Config) (Services, func() error, error)

var (
	configPath string
	verbose    bool

	bootstrap Bootstrap
	shutdown  func() error
	appConfig *config.Config

	notebookService  driving.NotebookService
	documentService  driving.DocumentService
	ingestService    driving.IngestService
	jobService       driving.JobService
	retrievalService driving.RetrievalService
	reportService    driving.ReportService
	chatService      driving.ChatService
	workerService    driving.WorkerService
	eventSource      httpapi.EventSource
	metricsHandler   http.Handler
)

var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Notebook retrieval, reports and grounded chat",
	Long: `Folio ingests documents into notebooks, chunks and embeds them, and
answers questions over them: vector search, templated reports generated
section by section in the background, and streamed chat with citations.`,
	SilenceUsage:      true,
	PersistentPreRunE: prepare,
	PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
		return release()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.folio/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// SetBootstrap installs the function that builds services before a command runs.
func SetBootstrap(b Bootstrap) {
	bootstrap = b
}

// SetVersion overrides the reported version.
func SetVersion(v string) {
	version = v
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logger.Sync()
	err := rootCmd.ExecuteContext(ctx)
	if relErr := release(); err == nil {
		err = relErr
	}
	return err
}

// setServices assigns every package service variable.
func setServices(s Services) {
	notebookService = s.Notebooks
	documentService = s.Documents
	ingestService = s.Ingest
	jobService = s.Jobs
	retrievalService = s.Retrieval
	reportService = s.Reports
	chatService = s.Chat
	workerService = s.Worker
	eventSource = s.Events
	metricsHandler = s.Metrics
}

func currentServices() Services {
	return Services{
		Notebooks: notebookService,
		Documents: documentService,
		Ingest:    ingestService,
		Jobs:      jobService,
		Retrieval: retrievalService,
		Reports:   reportService,
		Chat:      chatService,
		Worker:    workerService,
		Events:    eventSource,
		Metrics:   metricsHandler,
	}
}

// prepare loads configuration and builds the services, unless the command
// opts out. Services already assigned are left alone.
func prepare(cmd *cobra.Command, _ []string) error {
	if verbose {
		logger.SetVerbose(true)
	}
	// Config-only commands load lazily, so a broken file can still be repaired.
	if bootstrap == nil || !needsServices(cmd) || notebookService != nil {
		return nil
	}

	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	if cfg.Verbose {
		logger.SetVerbose(true)
	}
	services, closeFn, err := bootstrap(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	setServices(services)
	shutdown = closeFn
	return nil
}

func release() error {
	if shutdown == nil {
		return nil
	}
	fn := shutdown
	shutdown = nil
	setServices(Services{})
	return fn()
}

// needsServices is false when the command or one of its parents is annotated.
func needsServices(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[annotationNoServices] == "true" {
			return false
		}
	}
	return true
}

// loadedConfig returns the configuration, loading it when no bootstrap ran.
func loadedConfig() (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	appConfig = cfg
	return cfg, nil
}

func noServices() map[string]string {
	return map[string]string{annotationNoServices: "true"}
}
