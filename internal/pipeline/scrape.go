package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/publication-pipeline/internal/browser"
	"github.com/jonathan/publication-pipeline/internal/extract"
	"github.com/jonathan/publication-pipeline/internal/sources"
	"github.com/jonathan/publication-pipeline/internal/store"
	"github.com/jonathan/publication-pipeline/internal/telemetry"
	"github.com/jonathan/publication-pipeline/internal/types"
)

// midpointY is the first scroll target when a source lazy-loads in two steps.
const midpointY = 1000

// pollInterval is how often a wait_clickable next control is re-checked.
const pollInterval = 500 * time.Millisecond

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ScrapeStats counts what one source produced.
type ScrapeStats struct {
	Pages        int `json:"pages"`
	Containers   int `json:"containers"`
	Extracted    int `json:"extracted"`
	Inserted     int `json:"inserted"`
	Duplicates   int `json:"duplicates"`
	InsertErrors int `json:"insert_errors"`
	Dropped      int `json:"dropped"`
	// StopReason says why the page loop ended.
	StopReason string `json:"stop_reason"`
}

// Stop reasons recorded in ScrapeStats.
const (
	StopPageLimit    = "page limit reached"
	StopNoContainers = "no results on page"
	StopNoNext       = "no next page control"
	StopPageError    = "page error"
)

// scraper walks the result pages of one source with one session.
type scraper struct {
	def       sources.Definition
	extractor *extract.Extractor
	session   browser.Session
	store     store.Store
	keyword   string
	maxPages  int
	outputDir string
	sleep     SleepFunc
	counters  *telemetry.Counters
	progress  ProgressCallback
	runID     string
}

// scrape runs the page loop. Records already inserted are kept whatever
// happens later; the returned error only describes why the loop ended early.
func (s *scraper) scrape(ctx context.Context, stats *ScrapeStats) error {
	url := s.def.BuildSearchURL(s.keyword)
	slog.Info("opening search", "source", s.def.Source, "url", url, "max_pages", s.maxPages)
	if err := s.session.Navigate(ctx, url); err != nil {
		stats.StopReason = StopPageError
		return fmt.Errorf("failed to open search page: %w", err)
	}

	if err := s.waitReady(ctx); err != nil {
		stats.StopReason = StopPageError
		return err
	}
	s.dismissBanner(ctx)

	for page := 1; page <= s.maxPages; page++ {
		slog.Info("processing page", "source", s.def.Source, "page", page)

		if err := s.scroll(ctx); err != nil {
			stats.StopReason = StopPageError
			return fmt.Errorf("page %d: %w", page, err)
		}

		html, err := s.session.HTML(ctx)
		if err != nil {
			stats.StopReason = StopPageError
			return fmt.Errorf("page %d: failed to read page: %w", page, err)
		}
		containers, err := extract.Containers(html, s.def.Selectors.Container)
		if err != nil {
			stats.StopReason = StopPageError
			return fmt.Errorf("page %d: %w", page, err)
		}
		if len(containers) == 0 {
			slog.Warn("no articles found on page, stopping", "source", s.def.Source, "page", page)
			if name := s.def.Ready.ScreenshotOnFail; name != "" {
				s.screenshot(ctx, pageScreenshotName(name, page))
			}
			stats.StopReason = StopNoContainers
			return nil
		}

		stats.Pages++
		stats.Containers += len(containers)
		records, xs := s.extractor.Extract(containers)
		stats.Extracted += len(records)
		stats.Dropped += xs.Dropped
		telemetry.Add(ctx, s.counters.Dropped, xs.Dropped, string(s.def.Source))

		for _, rec := range records {
			s.insert(ctx, rec, stats)
		}
		emitProgress(s.progress, s.runID, StepScrapePage, s.def.Source,
			fmt.Sprintf("page %d: %d containers, %d records", page, len(containers), len(records)), xs)

		if page >= s.maxPages {
			stats.StopReason = StopPageLimit
			return nil
		}

		advanced, err := s.nextPage(ctx)
		if err != nil {
			stats.StopReason = StopPageError
			return fmt.Errorf("page %d: pagination failed: %w", page, err)
		}
		if !advanced {
			slog.Info("pagination stopped", "source", s.def.Source, "page", page)
			stats.StopReason = StopNoNext
			return nil
		}
	}
	stats.StopReason = StopPageLimit
	return nil
}

// insert writes one record immediately. Duplicates are expected once the
// unique index exists and are only counted.
func (s *scraper) insert(ctx context.Context, rec types.PublicationRecord, stats *ScrapeStats) {
	source := string(s.def.Source)
	_, err := s.store.Insert(ctx, rec)
	switch {
	case err == nil:
		stats.Inserted++
		telemetry.Add(ctx, s.counters.Inserted, 1, source)
	case errors.Is(err, store.ErrDuplicate):
		stats.Duplicates++
		telemetry.Add(ctx, s.counters.Duplicates, 1, source)
		slog.Debug("duplicate title ignored", "source", source, "title", rec.Title)
	default:
		stats.InsertErrors++
		telemetry.Add(ctx, s.counters.InsertErrors, 1, source)
		slog.Error("insert failed", "source", source, "title", rec.Title, "error", err)
	}
}

// waitReady blocks until the first page can be read.
func (s *scraper) waitReady(ctx context.Context) error {
	ready := s.def.Ready
	if ready.WaitFor == "" {
		return s.sleep(ctx, ready.Delay)
	}

	err := s.session.WaitVisible(ctx, ready.WaitFor, ready.Timeout)
	if err == nil {
		slog.Info("results list found", "source", s.def.Source)
		return nil
	}
	if ready.ScreenshotOnFail != "" {
		s.screenshot(ctx, ready.ScreenshotOnFail)
	}
	return fmt.Errorf("results did not load: %w", err)
}

// screenshot saves the current page under the output directory. Failures are logged.
func (s *scraper) screenshot(ctx context.Context, name string) {
	path := filepath.Join(s.outputDir, name)
	if err := s.session.Screenshot(ctx, path); err != nil {
		slog.Warn("failed to save screenshot", "path", path, "error", err)
		return
	}
	slog.Info("saved screenshot", "path", path)
}

// pageScreenshotName inserts the page number before the extension:
// debug_sd_page.png becomes debug_sd_page_3.png.
func pageScreenshotName(name string, page int) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), page, ext)
}

// dismissBanner clicks the consent banner when present. Failures are ignored.
func (s *scraper) dismissBanner(ctx context.Context) {
	banner := s.def.Selectors.Banner
	if banner == "" {
		return
	}
	ok, err := s.session.Exists(ctx, banner)
	if err != nil || !ok {
		return
	}
	if err := s.session.Click(ctx, banner); err != nil {
		slog.Debug("banner click failed", "source", s.def.Source, "error", err)
	}
}

// scroll triggers lazy loading before containers are read.
func (s *scraper) scroll(ctx context.Context) error {
	if s.def.Scroll.Midpoint {
		if err := s.session.Scroll(ctx, midpointY); err != nil {
			return err
		}
		if err := s.sleep(ctx, time.Second); err != nil {
			return err
		}
	}
	if err := s.session.Scroll(ctx, browser.ScrollBottom); err != nil {
		return err
	}
	return s.sleep(ctx, s.def.Scroll.Settle)
}

// nextPage moves to the following result page. It returns false when the
// next control is not found, which ends the loop normally.
func (s *scraper) nextPage(ctx context.Context) (bool, error) {
	p := s.def.Pagination

	found, err := s.findNext(ctx)
	if err != nil || !found {
		return false, err
	}
	if err := s.session.Click(ctx, p.Next); err != nil {
		return false, err
	}
	if err := s.sleep(ctx, p.Settle); err != nil {
		return false, err
	}
	return true, nil
}

func (s *scraper) findNext(ctx context.Context) (bool, error) {
	p := s.def.Pagination
	if p.Strategy == sources.PaginateImmediate {
		return s.session.Exists(ctx, p.Next)
	}

	attempts := int(p.Timeout/pollInterval) + 1
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := s.sleep(ctx, pollInterval); err != nil {
				return false, err
			}
		}
		ok, err := s.session.Exists(ctx, p.Next)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
