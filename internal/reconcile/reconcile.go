// Package reconcile removes duplicate titles from the record store and then
// installs the unique title index so later runs cannot reintroduce them.
//
// Reconciliation is lossy: the earliest record of each title survives and the
// fields of the discarded duplicates are not merged into it.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonathan/publication-pipeline/internal/store"
	"github.com/jonathan/publication-pipeline/internal/types"
)

// Collision is a title found under more than one source.
type Collision struct {
	Title   string         `json:"title"`
	Sources []types.Source `json:"sources"`
}

// Report summarizes one reconciliation pass.
type Report struct {
	Groups         int         `json:"groups"`
	Deleted        int64       `json:"deleted"`
	Remaining      int64       `json:"remaining"`
	IndexInstalled bool        `json:"index_installed"`
	CrossSource    []Collision `json:"cross_source,omitempty"`
}

// Error represents a failed reconciliation step.
type Error struct {
	Step    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("reconcile %s: %s: %v", e.Step, e.Message, e.Cause)
	}
	return fmt.Sprintf("reconcile %s: %s", e.Step, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Run groups records by title, keeps the earliest-inserted record of every
// group, deletes the rest in one bulk call, and installs the unique index.
//
// Titles shared across sources are treated as duplicates like any other and
// reported in Report.CrossSource.
func Run(ctx context.Context, s store.Store) (*Report, error) {
	report := &Report{}

	groups, err := s.DuplicateGroups(ctx)
	if err != nil {
		return report, &Error{Step: "group", Message: "failed to find duplicate titles", Cause: err}
	}
	report.Groups = len(groups)

	var discard []string
	for _, g := range groups {
		discard = append(discard, g.Discard()...)
		if g.CrossSource() {
			c := Collision{Title: g.Title, Sources: g.DistinctSources()}
			report.CrossSource = append(report.CrossSource, c)
			slog.Warn("title collides across sources", "title", c.Title, "sources", c.Sources, "kept", g.Sources[0])
		}
	}

	if len(discard) > 0 {
		deleted, err := s.DeleteIDs(ctx, discard)
		report.Deleted = deleted
		if err != nil {
			return report, &Error{Step: "delete", Message: "failed to delete duplicates", Cause: err}
		}
	}

	if err := s.EnsureUniqueTitleIndex(ctx); err != nil {
		return report, &Error{Step: "index", Message: "failed to install unique title index", Cause: err}
	}
	report.IndexInstalled = true

	remaining, err := s.Count(ctx, store.Filter{})
	if err != nil {
		slog.Warn("failed to count records after reconcile", "error", err)
	} else {
		report.Remaining = remaining
	}

	slog.Info("reconcile complete",
		"groups", report.Groups,
		"deleted", report.Deleted,
		"remaining", report.Remaining,
		"cross_source", len(report.CrossSource),
	)
	return report, nil
}
