package server

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/publication-pipeline/internal/analytics"
	"github.com/jonathan/publication-pipeline/internal/enrich"
	"github.com/jonathan/publication-pipeline/internal/reconcile"
	"github.com/jonathan/publication-pipeline/internal/store"
	"github.com/jonathan/publication-pipeline/internal/types"
)

// Limits for GET /api/publications.
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

var yearParam = regexp.MustCompile(`^(\d{4}|Unknown|All)$`)

// KPIResponse is the body of GET /api/kpi/summary.
type KPIResponse struct {
	analytics.KPI
	// RawRecords counts the scraped records, which may differ from the
	// fact table until the next ETL pass.
	RawRecords int64            `json:"raw_records"`
	Filter     analytics.Filter `json:"filter"`
}

// DropResponse is the body of DELETE /api/admin/publications.
type DropResponse struct {
	Dropped bool `json:"dropped"`
}

// olapViews maps the {view} path segment to its aggregation.
var olapViews = map[string]func([]types.EnrichedRecord) any{
	"time_distribution": func(r []types.EnrichedRecord) any { return analytics.TimeDistribution(r) },
	"geo_distribution":  func(r []types.EnrichedRecord) any { return analytics.GeoDistribution(r) },
	"quality_quartile":  func(r []types.EnrichedRecord) any { return analytics.QuartileDistribution(r) },
	"keywords":          func(r []types.EnrichedRecord) any { return analytics.Keywords(r) },
	"authors":           func(r []types.EnrichedRecord) any { return analytics.TopAuthors(r, analytics.DefaultTopAuthors) },
	"network":           func(r []types.EnrichedRecord) any { return analytics.CoAuthorNetwork(r, analytics.DefaultTopAuthors) },
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleFilterOptions lists the years and countries present in the fact table.
func (s *Server) handleFilterOptions(w http.ResponseWriter, r *http.Request) {
	s.cached(w, r, r.URL.Path, func(ctx context.Context) (any, error) {
		recs, err := s.store.ListEnriched(ctx, store.Filter{})
		if err != nil {
			return nil, err
		}
		return analytics.Options(recs), nil
	})
}

// handleKPISummary loads the raw count and the fact table concurrently.
func (s *Server) handleKPISummary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, HTTPStatus(err), err.Error())
		return
	}

	s.cached(w, r, cacheKey(r.URL.Path, filter), func(ctx context.Context) (any, error) {
		var (
			raw  int64
			recs []types.EnrichedRecord
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			n, err := s.store.Count(gctx, store.Filter{})
			raw = n
			return err
		})
		g.Go(func() error {
			out, err := s.store.ListEnriched(gctx, store.Filter{})
			recs = out
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}

		return KPIResponse{
			KPI:        analytics.Summary(analytics.Apply(recs, filter)),
			RawRecords: raw,
			Filter:     filter,
		}, nil
	})
}

// handleOLAP serves one of the dashboard aggregations.
func (s *Server) handleOLAP(w http.ResponseWriter, r *http.Request) {
	view := r.PathValue("view")
	aggregate, ok := olapViews[view]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown view: "+view)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, HTTPStatus(err), err.Error())
		return
	}

	s.cached(w, r, cacheKey(r.URL.Path, filter), func(ctx context.Context) (any, error) {
		recs, err := s.store.ListEnriched(ctx, store.Filter{})
		if err != nil {
			return nil, err
		}
		return aggregate(analytics.Apply(recs, filter)), nil
	})
}

// handleListPublications returns raw records, optionally for one source.
func (s *Server) handleListPublications(w http.ResponseWriter, r *http.Request) {
	var filter store.Filter
	if v := r.URL.Query().Get("source"); v != "" {
		src, err := types.ParseSource(v)
		if err != nil {
			verr := &ErrValidation{Field: "source", Message: err.Error()}
			writeError(w, HTTPStatus(verr), verr.Error())
			return
		}
		filter.Source = src
	}

	filter.Limit = defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			verr := &ErrValidation{Field: "limit", Message: "must be between 1 and " + strconv.Itoa(maxListLimit)}
			writeError(w, HTTPStatus(verr), verr.Error())
			return
		}
		filter.Limit = n
	}

	stored, err := s.store.List(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list publications", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list publications")
		return
	}
	recs := make([]types.PublicationRecord, 0, len(stored))
	for _, rec := range stored {
		recs = append(recs, rec.PublicationRecord)
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleReconcile removes duplicate titles and installs the unique index.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	s.invalidateCache()
	report, err := reconcile.Run(r.Context(), s.store)
	s.invalidateCache()
	if err != nil {
		slog.Error("reconciliation failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("reconciled via api", "deleted", report.Deleted, "remaining", report.Remaining)
	writeJSON(w, http.StatusOK, report)
}

// handleETL rebuilds the fact table from the raw records.
func (s *Server) handleETL(w http.ResponseWriter, r *http.Request) {
	s.invalidateCache()
	result, err := enrich.Run(r.Context(), s.store, s.now)
	s.invalidateCache()
	if err != nil {
		slog.Error("etl failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDropPublications deletes every record. It requires ?confirm=true.
func (s *Server) handleDropPublications(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		verr := &ErrValidation{Field: "confirm", Message: "set confirm=true to delete all publications"}
		writeError(w, HTTPStatus(verr), verr.Error())
		return
	}
	s.invalidateCache()
	err := s.store.Drop(r.Context())
	s.invalidateCache()
	if err != nil {
		slog.Error("failed to drop publications", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to drop publications")
		return
	}
	slog.Warn("all publications dropped via api", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, DropResponse{Dropped: true})
}

// cached serves key from the response cache, computing and storing it on a miss.
// Errors are not cached.
func (s *Server) cached(w http.ResponseWriter, r *http.Request, key string, compute func(context.Context) (any, error)) {
	if v, ok := s.cache.Get(key); ok {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, v)
		return
	}

	gen := s.cacheGeneration()
	v, err := compute(r.Context())
	if err != nil {
		slog.Error("failed to compute response", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load publications")
		return
	}
	s.addToCache(gen, key, v)
	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, v)
}

// invalidateCache empties the response cache and starts a new generation.
// Mutations call it before and after touching the store.
func (s *Server) invalidateCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cacheGen++
	s.cache.Purge()
}

func (s *Server) cacheGeneration() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cacheGen
}

// addToCache stores v only if no mutation started since gen was read.
func (s *Server) addToCache(gen uint64, key string, v any) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if gen != s.cacheGen {
		return
	}
	s.cache.Add(key, v)
}

// parseFilter reads the year and country query parameters.
func parseFilter(r *http.Request) (analytics.Filter, error) {
	q := r.URL.Query()
	f := analytics.Filter{
		Year:    strings.TrimSpace(q.Get("year")),
		Country: strings.TrimSpace(q.Get("country")),
	}
	if f.Year != "" && !yearParam.MatchString(f.Year) {
		return f, &ErrValidation{Field: "year", Message: "must be a four digit year, Unknown or All"}
	}
	if f.Year == analytics.All {
		f.Year = ""
	}
	if f.Country == analytics.All {
		f.Country = ""
	}
	return f, nil
}

func cacheKey(path string, f analytics.Filter) string {
	return path + "?year=" + f.Year + "&country=" + f.Country
}
