package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/publication-pipeline/internal/browser"
	"github.com/jonathan/publication-pipeline/internal/observability"
	"github.com/jonathan/publication-pipeline/internal/pipeline"
	"github.com/jonathan/publication-pipeline/internal/telemetry"
	"github.com/jonathan/publication-pipeline/internal/types"
)

var (
	scrapeKeyword string
	scrapeSources []string
	scrapePages   int
	scrapeHeaded  bool
	scrapeNoFinal bool

	replayDir string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape every source, reconcile duplicates and export",
	Long: `Runs one scraper per source in order, pausing between sources. After each
source the browser is closed, duplicate titles are removed and the source's
records are exported to <output_dir>/<source>_results.json. A final snapshot of
the whole store is written to export.path.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := browser.DefaultOptions()
		opts.Headless = !(scrapeHeaded || cfg.Browser.Headed)
		opts.UserAgent = cfg.Browser.UserAgent
		opts.Timeout = cfg.Browser.Timeout.Std()
		opts.Verbose = verbose
		return runScrape(cmd, pipeline.ChromeLaunch(opts))
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run the pipeline over saved result pages instead of a live browser",
	Long: `Replays saved HTML result pages (1.html, 2.html, ...) through the same page
loop, reconciliation and export as scrape. Pages for a source are read from
<dir>/<acm|ieee|sd> when that directory exists, otherwise from <dir>.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := os.Stat(replayDir); err != nil {
			return fmt.Errorf("replay directory: %w", err)
		}
		return runScrape(cmd, pipeline.ReplayLaunch(replayDir))
	},
}

func init() {
	for _, c := range []*cobra.Command{scrapeCmd, replayCmd} {
		c.Flags().StringVarP(&scrapeKeyword, "keyword", "k", "", "Search keyword (defaults to config keyword)")
		c.Flags().StringSliceVarP(&scrapeSources, "source", "s", nil, "Sources to scrape: acm, ieee, sd (repeatable, default all)")
		c.Flags().IntVarP(&scrapePages, "pages", "p", 0, "Max pages per source (defaults to config pages)")
		c.Flags().BoolVar(&scrapeNoFinal, "no-final-export", false, "Skip the final all-sources snapshot")
		rootCmd.AddCommand(c)
	}
	scrapeCmd.Flags().BoolVar(&scrapeHeaded, "headed", false, "Show the browser window")
	replayCmd.Flags().StringVar(&replayDir, "dir", "", "Directory of saved result pages")
	_ = replayCmd.MarkFlagRequired("dir")
}

func runScrape(cmd *cobra.Command, launch pipeline.LaunchFunc) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.WithoutCancel(ctx)) }()

	counters, err := telemetry.NewCounters()
	if err != nil {
		return fmt.Errorf("failed to create counters: %w", err)
	}

	srcs, err := parseSources(scrapeSources)
	if err != nil {
		return err
	}
	registry, err := loadRegistry()
	if err != nil {
		return err
	}
	uploader, err := newUploader()
	if err != nil {
		return err
	}

	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	keyword := cfg.Keyword
	if scrapeKeyword != "" {
		keyword = scrapeKeyword
	}
	exportPath := cfg.Export.Path
	if scrapeNoFinal {
		exportPath = ""
	}

	printer := observability.NewPrinter(cmd.OutOrStdout())
	opts := pipeline.RunOptions{
		Store:    s,
		Registry: registry,
		Launch:   launch,
		Sources:  srcs,
		Keyword:  keyword,
		MaxPages: func(src types.Source) int {
			if scrapePages > 0 {
				return scrapePages
			}
			return cfg.PagesFor(src.Slug(), 1)
		},
		Cooldown:   cfg.Pipeline.Cooldown.Std(),
		OutputDir:  cfg.Pipeline.OutputDir,
		ExportPath: exportPath,
		Uploader:   uploader,
		Counters:   counters,
	}
	if verbose {
		opts.OnProgress = printer.PrintProgress
	}

	summary, err := pipeline.Run(ctx, opts)
	if err != nil {
		return err
	}
	printer.PrintRunSummary(summary)
	return nil
}
