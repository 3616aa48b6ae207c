package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/publication-pipeline/internal/types"
)

// runContract exercises the behaviour every backend must share.
// s must be empty.
func runContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("insert keeps store order", func(t *testing.T) {
		require.NoError(t, s.Drop(ctx))
		for _, title := range []string{"Z", "M", "A"} {
			_, err := s.Insert(ctx, record(title, types.SourceACM))
			require.NoError(t, err)
		}
		recs, err := s.List(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "Z", recs[0].Title)
		assert.Equal(t, "A", recs[2].Title)
	})

	t.Run("duplicate groups and delete", func(t *testing.T) {
		require.NoError(t, s.Drop(ctx))
		first, _ := s.Insert(ctx, record("A", types.SourceACM))
		second, _ := s.Insert(ctx, record("A", types.SourceIEEE))
		_, _ = s.Insert(ctx, record("B", types.SourceACM))

		groups, err := s.DuplicateGroups(ctx)
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, []string{first, second}, groups[0].IDs)
		assert.True(t, groups[0].CrossSource())

		n, err := s.DeleteIDs(ctx, groups[0].Discard())
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		total, err := s.Count(ctx, Filter{})
		require.NoError(t, err)
		assert.EqualValues(t, 2, total)
	})

	t.Run("unique index", func(t *testing.T) {
		require.NoError(t, s.Drop(ctx))
		_, _ = s.Insert(ctx, record("A", types.SourceACM))
		require.NoError(t, s.EnsureUniqueTitleIndex(ctx))

		_, err := s.Insert(ctx, record("A", types.SourceScienceDirect))
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("fact table", func(t *testing.T) {
		require.NoError(t, s.Drop(ctx))
		stamp := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		recs := []types.EnrichedRecord{{
			PublicationRecord: record("A", types.SourceACM),
			Quartile:          "Q2",
			Country:           "France",
			ImpactScore:       3.4,
			Citations:         12,
			GeneratedKeywords: []string{"Cloud"},
			ETLTimestamp:      stamp,
		}}
		require.NoError(t, s.ReplaceEnriched(ctx, recs))

		got, err := s.ListEnriched(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Q2", got[0].Quartile)
		assert.Equal(t, []string{"Cloud"}, got[0].GeneratedKeywords)
		assert.True(t, stamp.Equal(got[0].ETLTimestamp))
	})

	require.NoError(t, s.Drop(ctx))
}

func TestSQLite_Contract(t *testing.T) {
	runContract(t, newTestStore(t))
}
