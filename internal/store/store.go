// Package store persists raw publication records and the enriched fact table.
//
// Three backends implement Store: SQLite (the default, also used by tests),
// PostgreSQL and MongoDB. The backend is chosen from the URL scheme in Open.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonathan/publication-pipeline/internal/types"
)

// ErrDuplicate is returned by Insert when the unique title index rejects a record.
var ErrDuplicate = errors.New("duplicate title")

// Table and collection names shared by all backends.
const (
	ArticlesTable = "articles"
	FactTable     = "fact_publications"
	TitleIndex    = "idx_articles_title_unique"
)

// Store is an append-only record store with the few bulk operations the
// reconciler and the enrichment pass need.
type Store interface {
	// Insert appends rec and returns its id. A unique index collision yields ErrDuplicate.
	Insert(ctx context.Context, rec types.PublicationRecord) (string, error)
	// DuplicateGroups returns every title held by more than one record.
	// Groups are ordered by their earliest member; members are in store order.
	DuplicateGroups(ctx context.Context) ([]DuplicateGroup, error)
	// DeleteIDs removes the given records and returns how many were deleted.
	DeleteIDs(ctx context.Context, ids []string) (int64, error)
	// EnsureUniqueTitleIndex installs the unique index on title. It is idempotent.
	EnsureUniqueTitleIndex(ctx context.Context) error
	// List returns raw records in store order.
	List(ctx context.Context, filter Filter) ([]types.StoredRecord, error)
	// Count returns the number of raw records matching filter.
	Count(ctx context.Context, filter Filter) (int64, error)
	// ReplaceEnriched swaps the fact table contents for recs.
	ReplaceEnriched(ctx context.Context, recs []types.EnrichedRecord) error
	// ListEnriched returns the fact table in insertion order.
	ListEnriched(ctx context.Context, filter Filter) ([]types.EnrichedRecord, error)
	// Drop deletes all raw and enriched data and removes the unique index.
	Drop(ctx context.Context) error
	Close() error
}

// Filter narrows List, Count and ListEnriched. Zero values mean no restriction.
type Filter struct {
	Source types.Source
	Limit  int
}

// DuplicateGroup is a title shared by several records.
type DuplicateGroup struct {
	Title   string
	IDs     []string
	Sources []types.Source
}

// Keep returns the id that survives reconciliation: the earliest inserted.
func (g DuplicateGroup) Keep() string {
	if len(g.IDs) == 0 {
		return ""
	}
	return g.IDs[0]
}

// Discard returns every id except the survivor.
func (g DuplicateGroup) Discard() []string {
	if len(g.IDs) < 2 {
		return nil
	}
	return g.IDs[1:]
}

// CrossSource reports whether the group spans more than one source.
func (g DuplicateGroup) CrossSource() bool {
	for _, s := range g.Sources {
		if s != g.Sources[0] {
			return true
		}
	}
	return false
}

// DistinctSources returns the group's sources without repeats, in first-seen order.
func (g DuplicateGroup) DistinctSources() []types.Source {
	seen := make(map[types.Source]bool, len(g.Sources))
	var out []types.Source
	for _, s := range g.Sources {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Open connects to the store described by url.
//
//	sqlite://path, sqlite://:memory:, file:path or a bare path  -> SQLite
//	postgres://... or postgresql://...                          -> PostgreSQL
//	mongodb://... or mongodb+srv://...                          -> MongoDB
func Open(ctx context.Context, url string) (Store, error) {
	switch {
	case url == "":
		return nil, fmt.Errorf("store url is empty")
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return OpenPostgres(ctx, url)
	case strings.HasPrefix(url, "mongodb://"), strings.HasPrefix(url, "mongodb+srv://"):
		return OpenMongo(ctx, url)
	case strings.HasPrefix(url, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(url, "sqlite://"))
	case strings.Contains(url, "://"):
		return nil, fmt.Errorf("unsupported store url scheme: %s", Redact(url))
	default:
		return OpenSQLite(ctx, url)
	}
}

// groupRows folds (id, title, source) rows, already in store order, into
// duplicate groups ordered by their first member.
func groupRows(rows []groupRow) []DuplicateGroup {
	index := make(map[string]int)
	var groups []DuplicateGroup
	for _, r := range rows {
		i, ok := index[r.title]
		if !ok {
			i = len(groups)
			index[r.title] = i
			groups = append(groups, DuplicateGroup{Title: r.title})
		}
		groups[i].IDs = append(groups[i].IDs, r.id)
		groups[i].Sources = append(groups[i].Sources, r.source)
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.IDs) > 1 {
			out = append(out, g)
		}
	}
	return out
}

type groupRow struct {
	id     string
	title  string
	source types.Source
}

// Redact hides credentials in a connection URL for error messages and logs.
func Redact(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***@" + rest[at+1:]
	}
	return scheme + "://" + rest
}
