// Package pipeline provides the high-level orchestration of a scrape run:
// per-source scraping, reconciliation and export.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/publication-pipeline/internal/browser"
	"github.com/jonathan/publication-pipeline/internal/export"
	"github.com/jonathan/publication-pipeline/internal/extract"
	"github.com/jonathan/publication-pipeline/internal/reconcile"
	"github.com/jonathan/publication-pipeline/internal/sources"
	"github.com/jonathan/publication-pipeline/internal/store"
	"github.com/jonathan/publication-pipeline/internal/telemetry"
	"github.com/jonathan/publication-pipeline/internal/types"
)

// Progress steps reported through ProgressCallback.
const (
	StepLaunch     = "launch"
	StepScrapePage = "scrape_page"
	StepClose      = "close"
	StepReconcile  = "reconcile"
	StepExport     = "export"
	StepCooldown   = "cooldown"
)

// ProgressEvent represents a progress update during a run
type ProgressEvent struct {
	RunID   string       `json:"run_id"`
	Step    string       `json:"step"`
	Source  types.Source `json:"source,omitempty"`
	Message string       `json:"message"`
	Content any          `json:"content,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// emitProgress calls the progress callback if configured
func emitProgress(cb ProgressCallback, runID, step string, source types.Source, message string, content any) {
	if cb != nil {
		cb(ProgressEvent{
			RunID:   runID,
			Step:    step,
			Source:  source,
			Message: message,
			Content: content,
		})
	}
}

// LaunchFunc returns the browser launcher used for one source.
type LaunchFunc func(def sources.Definition) browser.Launcher

// ChromeLaunch launches a fresh Chrome for every source.
func ChromeLaunch(opts browser.Options) LaunchFunc {
	return func(sources.Definition) browser.Launcher {
		return browser.NewChromeLauncher(opts)
	}
}

// ReplayLaunch replays saved pages. Pages for a source are read from
// dir/<slug> when that directory exists, otherwise from dir itself.
func ReplayLaunch(dir string) LaunchFunc {
	return func(def sources.Definition) browser.Launcher {
		pageDir := dir
		if info, err := os.Stat(filepath.Join(dir, def.Source.Slug())); err == nil && info.IsDir() {
			pageDir = filepath.Join(dir, def.Source.Slug())
		}
		return browser.NewReplayLauncher(pageDir, def.Pagination.Next)
	}
}

// RunOptions holds configuration for running the pipeline
type RunOptions struct {
	Store    store.Store
	Registry *sources.Registry
	Launch   LaunchFunc

	// Sources to scrape, in order. Empty means every source in the registry.
	Sources []types.Source
	Keyword string
	// MaxPages returns the page limit for a source.
	MaxPages func(types.Source) int
	Cooldown time.Duration

	// OutputDir receives per-source exports and failure screenshots.
	OutputDir string
	// ExportPath is the final all-sources snapshot. Empty skips it.
	ExportPath string
	Uploader   export.Uploader

	Sleep      SleepFunc
	Counters   *telemetry.Counters
	OnProgress ProgressCallback
}

func (o *RunOptions) normalize() error {
	if o.Store == nil {
		return fmt.Errorf("store is required")
	}
	if o.Registry == nil {
		return fmt.Errorf("source registry is required")
	}
	if o.Launch == nil {
		return fmt.Errorf("browser launcher is required")
	}
	if o.Keyword == "" {
		return fmt.Errorf("keyword is required")
	}
	if len(o.Sources) == 0 {
		o.Sources = o.Registry.Sources()
	}
	for _, src := range o.Sources {
		if _, ok := o.Registry.Get(src); !ok {
			return fmt.Errorf("no source definition for %s", src)
		}
	}
	if o.MaxPages == nil {
		o.MaxPages = func(types.Source) int { return 1 }
	}
	if o.Sleep == nil {
		o.Sleep = Sleep
	}
	if o.OutputDir == "" {
		o.OutputDir = "."
	}
	if o.Counters == nil {
		counters, err := telemetry.NewCounters()
		if err != nil {
			return fmt.Errorf("failed to create counters: %w", err)
		}
		o.Counters = counters
	}
	return nil
}

// StageErrors holds the failure, if any, of every stage of a source run.
// Each stage runs regardless of failures in the ones before it.
type StageErrors struct {
	Launch    string `json:"launch,omitempty"`
	Scrape    string `json:"scrape,omitempty"`
	Close     string `json:"close,omitempty"`
	Reconcile string `json:"reconcile,omitempty"`
	Export    string `json:"export,omitempty"`
}

// Any reports whether any stage failed.
func (e StageErrors) Any() bool {
	return e.Launch != "" || e.Scrape != "" || e.Close != "" || e.Reconcile != "" || e.Export != ""
}

// SourceSummary describes one scraper invocation.
type SourceSummary struct {
	Source    types.Source      `json:"source"`
	Stats     ScrapeStats       `json:"stats"`
	Reconcile *reconcile.Report `json:"reconcile,omitempty"`
	Export    *export.Result    `json:"export,omitempty"`
	Errors    StageErrors       `json:"errors"`
	Duration  time.Duration     `json:"duration"`
}

// RunSummary describes a full run over every selected source.
type RunSummary struct {
	RunID       string           `json:"run_id"`
	Keyword     string           `json:"keyword"`
	Started     time.Time        `json:"started"`
	Finished    time.Time        `json:"finished"`
	Sources     []*SourceSummary `json:"sources"`
	Total       int64            `json:"total"`
	Export      *export.Result   `json:"export,omitempty"`
	ExportError string           `json:"export_error,omitempty"`
}

// Run scrapes every selected source sequentially, pausing for the cooldown
// between sources, then writes the final snapshot of the whole store.
// It only returns an error for invalid options; failures inside the run are
// reported in the summary.
func Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	summary := &RunSummary{
		RunID:   uuid.NewString(),
		Keyword: opts.Keyword,
		Started: time.Now(),
	}
	slog.Info("starting run", "run_id", summary.RunID, "keyword", opts.Keyword, "sources", opts.Sources)

	for i, src := range opts.Sources {
		if i > 0 && opts.Cooldown > 0 {
			emitProgress(opts.OnProgress, summary.RunID, StepCooldown, src,
				fmt.Sprintf("cooling down for %s", opts.Cooldown), nil)
			if err := opts.Sleep(ctx, opts.Cooldown); err != nil {
				slog.Warn("run interrupted", "error", err)
				break
			}
		}
		summary.Sources = append(summary.Sources, runSource(ctx, &opts, summary.RunID, src))
	}

	// The final snapshot is written even when the context was cancelled.
	finalCtx := context.WithoutCancel(ctx)
	if total, err := opts.Store.Count(finalCtx, store.Filter{}); err != nil {
		slog.Error("failed to count records", "error", err)
	} else {
		summary.Total = total
		slog.Info("records in store", "total", total)
	}
	if opts.ExportPath != "" {
		result, err := export.Export(finalCtx, opts.Store, export.Options{
			Path:     opts.ExportPath,
			Uploader: opts.Uploader,
		})
		if err != nil {
			summary.ExportError = err.Error()
			slog.Error("final export failed", "error", err)
		} else {
			summary.Export = result
		}
		emitProgress(opts.OnProgress, summary.RunID, StepExport, "", "final export", result)
	}

	summary.Finished = time.Now()
	slog.Info("run finished", "run_id", summary.RunID, "elapsed", summary.Finished.Sub(summary.Started).Round(time.Second))
	return summary, nil
}

// RunSource performs one scraper invocation for src.
func RunSource(ctx context.Context, opts RunOptions, src types.Source) (*SourceSummary, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	return runSource(ctx, &opts, uuid.NewString(), src), nil
}

// runSource acquires a browser session, scrapes, and then always runs the
// shutdown sequence in order: close the session, reconcile, export. The
// shutdown also runs when scraping panics.
func runSource(ctx context.Context, opts *RunOptions, runID string, src types.Source) (summary *SourceSummary) {
	start := time.Now()
	def, _ := opts.Registry.Get(src)
	summary = &SourceSummary{Source: src}

	var session browser.Session
	defer func() {
		if r := recover(); r != nil {
			summary.Errors.Scrape = fmt.Sprintf("panic: %v", r)
			slog.Error("scraper panicked", "source", src, "panic", r)
		}
		shutdown(context.WithoutCancel(ctx), opts, runID, def, session, summary)
		summary.Duration = time.Since(start)
	}()

	slog.Info("starting scraper", "source", src, "name", def.Name())
	emitProgress(opts.OnProgress, runID, StepLaunch, src, "launching browser", nil)
	var err error
	session, err = opts.Launch(def)(ctx)
	if err != nil {
		summary.Errors.Launch = err.Error()
		slog.Error("failed to launch browser", "source", src, "error", err)
		return summary
	}

	s := &scraper{
		def:       def,
		extractor: extract.New(def),
		session:   session,
		store:     opts.Store,
		keyword:   opts.Keyword,
		maxPages:  opts.MaxPages(src),
		outputDir: opts.OutputDir,
		sleep:     opts.Sleep,
		counters:  opts.Counters,
		progress:  opts.OnProgress,
		runID:     runID,
	}
	if err := s.scrape(ctx, &summary.Stats); err != nil {
		summary.Errors.Scrape = err.Error()
		slog.Error("scrape ended early", "source", src, "error", err)
	}
	slog.Info("scraper finished", "source", src,
		"pages", summary.Stats.Pages,
		"inserted", summary.Stats.Inserted,
		"duplicates", summary.Stats.Duplicates,
		"stop", summary.Stats.StopReason)
	return summary
}

// shutdown closes the session, reconciles the store and exports this
// source's records. Every step runs even when an earlier one failed.
func shutdown(ctx context.Context, opts *RunOptions, runID string, def sources.Definition, session browser.Session, summary *SourceSummary) {
	src := def.Source

	if session != nil {
		if err := session.Close(); err != nil {
			summary.Errors.Close = err.Error()
			slog.Warn("failed to close browser", "source", src, "error", err)
		}
		emitProgress(opts.OnProgress, runID, StepClose, src, "browser closed", nil)
	}

	report, err := reconcile.Run(ctx, opts.Store)
	summary.Reconcile = report
	if err != nil {
		summary.Errors.Reconcile = err.Error()
		slog.Error("reconciliation failed", "source", src, "error", err)
	} else {
		telemetry.Add(ctx, opts.Counters.ReconcileDrops, int(report.Deleted), string(src))
	}
	emitProgress(opts.OnProgress, runID, StepReconcile, src, "reconciled", report)

	path := filepath.Join(opts.OutputDir, src.Slug()+"_results.json")
	result, err := export.Export(ctx, opts.Store, export.Options{Path: path, Source: src})
	if err != nil {
		summary.Errors.Export = err.Error()
		slog.Error("export failed", "source", src, "error", err)
	} else {
		summary.Export = result
	}
	emitProgress(opts.OnProgress, runID, StepExport, src, "exported "+path, result)
}
