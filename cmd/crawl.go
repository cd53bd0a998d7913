package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/app"
	"github.com/JakeFAU/directory-crawler/internal/config"
	"github.com/JakeFAU/directory-crawler/internal/report"
	"github.com/JakeFAU/directory-crawler/internal/telemetry"
)

type crawlFlags struct {
	specialty string
	location  string
	startURL  string
	results   int
	maxPages  int
	workers   int
	noDetails bool
}

func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one search and writes the profiles found",
		Long: `Walks the listing pages for the configured specialty and location,
collects unique profile URLs and then fetches each profile through the
data endpoint, document and browser tiers. Flags override the config file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			flags.apply(cmd, &rt.cfg)
			return runCrawl(cmd, rt)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.specialty, "specialty", "", "specialty to search, e.g. \"Cardiology\"")
	f.StringVar(&flags.location, "location", "", "location to search, e.g. \"Austin, TX\"")
	f.StringVar(&flags.startURL, "start-url", "", "crawl this listing URL instead of building one")
	f.IntVar(&flags.results, "results", 0, "number of records wanted")
	f.IntVar(&flags.maxPages, "max-pages", 0, "listing pages to visit")
	f.IntVar(&flags.workers, "concurrency", 0, "parallel detail fetches (max 10)")
	f.BoolVar(&flags.noDetails, "no-details", false, "emit listing records without visiting profiles")
	return cmd
}

func (f crawlFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("specialty") {
		cfg.Search.Specialty = f.specialty
	}
	if changed("location") {
		cfg.Search.Location = f.location
	}
	if changed("start-url") {
		cfg.Search.StartURL = f.startURL
	}
	if changed("results") {
		cfg.Search.ResultsWanted = f.results
	}
	if changed("max-pages") {
		cfg.Search.MaxPages = f.maxPages
	}
	if changed("concurrency") {
		cfg.Crawler.Concurrency = f.workers
	}
	if changed("no-details") {
		cfg.Search.CollectDetails = !f.noDetails
	}
	cfg.Clamp()
}

func runCrawl(cmd *cobra.Command, rt *runtime) error {
	if err := rt.cfg.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			rt.logger.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	services, err := app.NewServices(ctx, rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			rt.logger.Warn("failed to close services", zap.Error(err))
		}
	}()

	summary, runErr := app.NewCrawl(rt.cfg, services.Sessions, services.Sink, rt.logger).Run(ctx)
	report.Summary(cmd.OutOrStdout(), summary)
	if runErr != nil {
		return fmt.Errorf("crawl: %w", runErr)
	}
	return nil
}
