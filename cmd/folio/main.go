// Command folio is the notebook retrieval, report and chat CLI.
package main

import (
	"context"
	"os"

	"github.com/custodia-labs/folio/internal/adapters/driving/cli"
	"github.com/custodia-labs/folio/internal/app"
	"github.com/custodia-labs/folio/internal/config"
	"github.com/custodia-labs/folio/internal/logger"
)

// version is set at build time.
var version = "dev"

func main() {
	cli.SetVersion(version)
	cli.SetBootstrap(bootstrap)

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

func bootstrap(ctx context.Context, cfg *config.Config) (cli.Services, func() error, error) {
	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return cli.Services{}, nil, err
	}
	for _, w := range a.Warnings {
		logger.Warn("%s", w)
	}

	return cli.Services{
		Notebooks: a.Notebooks,
		Documents: a.Documents,
		Ingest:    a.Ingest,
		Jobs:      a.Jobs,
		Retrieval: a.Retrieval,
		Reports:   a.Reports,
		Chat:      a.Chat,
		Worker:    a.Worker,
		Events:    a.Broker,
		Metrics:   a.Metrics.Handler(),
	}, a.Close, nil
}
