package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/publication-pipeline/internal/store"
	"github.com/jonathan/publication-pipeline/internal/types"
)

func newStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func rec(title string, source types.Source) types.PublicationRecord {
	return types.PublicationRecord{
		Title:    title,
		Authors:  types.UnknownAuthors,
		DatePub:  "2020",
		Source:   source,
		Journal:  string(source),
		Abstract: types.AbstractNA,
	}
}

func TestRun_KeepsEarliestPerTitle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, rec("A", types.SourceACM))
	require.NoError(t, err)
	_, err = s.Insert(ctx, rec("A", types.SourceIEEE))
	require.NoError(t, err)
	_, err = s.Insert(ctx, rec("B", types.SourceACM))
	require.NoError(t, err)

	report, err := Run(ctx, s)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Groups)
	assert.EqualValues(t, 1, report.Deleted)
	assert.EqualValues(t, 2, report.Remaining)
	assert.True(t, report.IndexInstalled)
	require.Len(t, report.CrossSource, 1)
	assert.Equal(t, "A", report.CrossSource[0].Title)
	assert.Equal(t, []types.Source{types.SourceACM, types.SourceIEEE}, report.CrossSource[0].Sources)

	records, err := s.List(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "A", records[0].Title)
	assert.Equal(t, types.SourceACM, records[0].Source)
	assert.Equal(t, "B", records[1].Title)
}

func TestRun_LeavesAtMostOnePerTitle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	titles := []string{"x", "y", "x", "z", "x", "y"}
	for _, title := range titles {
		_, err := s.Insert(ctx, rec(title, types.SourceScienceDirect))
		require.NoError(t, err)
	}

	report, err := Run(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Groups)
	assert.EqualValues(t, 3, report.Deleted)
	assert.Empty(t, report.CrossSource)

	records, err := s.List(ctx, store.Filter{})
	require.NoError(t, err)
	seen := map[string]int{}
	for _, r := range records {
		seen[r.Title]++
	}
	assert.Equal(t, map[string]int{"x": 1, "y": 1, "z": 1}, seen)
}

func TestRun_Idempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, _ = s.Insert(ctx, rec("A", types.SourceACM))
	_, _ = s.Insert(ctx, rec("A", types.SourceACM))

	_, err := Run(ctx, s)
	require.NoError(t, err)

	report, err := Run(ctx, s)
	require.NoError(t, err)
	assert.Zero(t, report.Groups)
	assert.Zero(t, report.Deleted)
	assert.EqualValues(t, 1, report.Remaining)
}

func TestRun_IndexRejectsLaterDuplicates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, _ = s.Insert(ctx, rec("A", types.SourceACM))

	_, err := Run(ctx, s)
	require.NoError(t, err)

	_, err = s.Insert(ctx, rec("A", types.SourceIEEE))
	assert.ErrorIs(t, err, store.ErrDuplicate)

	n, err := s.Count(ctx, store.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRun_EmptyStore(t *testing.T) {
	report, err := Run(context.Background(), newStore(t))
	require.NoError(t, err)
	assert.Zero(t, report.Groups)
	assert.True(t, report.IndexInstalled)
}

// failingStore fails at a chosen step and delegates everything else.
type failingStore struct {
	store.Store
	failGroups bool
	failDelete bool
}

var errBoom = errors.New("boom")

func (f *failingStore) DuplicateGroups(ctx context.Context) ([]store.DuplicateGroup, error) {
	if f.failGroups {
		return nil, errBoom
	}
	return f.Store.DuplicateGroups(ctx)
}

func (f *failingStore) DeleteIDs(ctx context.Context, ids []string) (int64, error) {
	if f.failDelete {
		return 0, errBoom
	}
	return f.Store.DeleteIDs(ctx, ids)
}

func TestRun_StoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("group", func(t *testing.T) {
		_, err := Run(ctx, &failingStore{Store: newStore(t), failGroups: true})
		var rerr *Error
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "group", rerr.Step)
		assert.ErrorIs(t, err, errBoom)
	})

	t.Run("delete leaves index uninstalled", func(t *testing.T) {
		s := newStore(t)
		_, _ = s.Insert(ctx, rec("A", types.SourceACM))
		_, _ = s.Insert(ctx, rec("A", types.SourceACM))

		report, err := Run(ctx, &failingStore{Store: s, failDelete: true})
		var rerr *Error
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "delete", rerr.Step)
		assert.False(t, report.IndexInstalled)
		assert.Equal(t, 1, report.Groups)
	})
}
