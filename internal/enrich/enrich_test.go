package enrich

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/publication-pipeline/internal/store"
	"github.com/jonathan/publication-pipeline/internal/types"
)

var fixedTime = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func rec(title string) types.PublicationRecord {
	return types.PublicationRecord{
		Title:    title,
		Authors:  "Alice Martin",
		DatePub:  "2022",
		Source:   types.SourceACM,
		Journal:  "ACM",
		Abstract: types.AbstractNA,
	}
}

func TestEnrich_Deterministic(t *testing.T) {
	a := Enrich(rec("Consensus in Permissioned Ledgers"), fixedTime)
	b := Enrich(rec("Consensus in Permissioned Ledgers"), fixedTime.Add(time.Hour))

	assert.Equal(t, a.Quartile, b.Quartile)
	assert.Equal(t, a.Country, b.Country)
	assert.Equal(t, a.ImpactScore, b.ImpactScore)
	assert.Equal(t, a.Citations, b.Citations)
	assert.Equal(t, a.GeneratedKeywords, b.GeneratedKeywords)
}

func TestEnrich_KeepsBaseFields(t *testing.T) {
	base := rec("Smart Grid Trust")
	out := Enrich(base, fixedTime)
	assert.Equal(t, base, out.PublicationRecord)
	assert.Equal(t, fixedTime, out.ETLTimestamp)
}

func TestEnrich_FieldRanges(t *testing.T) {
	for i := range 500 {
		out := Enrich(rec(fmt.Sprintf("title %d", i)), fixedTime)

		assert.Contains(t, Quartiles, out.Quartile)
		assert.Contains(t, Countries, out.Country)
		assert.GreaterOrEqual(t, out.ImpactScore, 0.5)
		assert.LessOrEqual(t, out.ImpactScore, 10.0)
		assert.InDelta(t, out.ImpactScore*10, float64(int(out.ImpactScore*10+0.5)), 1e-9)
		assert.GreaterOrEqual(t, out.Citations, 0)
		assert.LessOrEqual(t, out.Citations, maxCitations)

		require.NotEmpty(t, out.GeneratedKeywords)
		assert.LessOrEqual(t, len(out.GeneratedKeywords), maxKeywords)
		sorted := slices.Clone(out.GeneratedKeywords)
		slices.Sort(sorted)
		assert.Len(t, slices.Compact(sorted), len(out.GeneratedKeywords), "keywords must be distinct")
		for _, kw := range out.GeneratedKeywords {
			assert.Contains(t, Keywords, kw)
		}
	}
}

func TestEnrich_QuartileSpread(t *testing.T) {
	counts := map[string]int{}
	for i := range 2000 {
		counts[Enrich(rec(fmt.Sprintf("paper-%d", i)), fixedTime).Quartile]++
	}
	// Every quartile is reachable and the middle two dominate.
	for _, q := range Quartiles {
		assert.Positive(t, counts[q], q)
	}
	assert.Greater(t, counts["Q2"]+counts["Q3"], counts["Q1"]+counts["Q4"])
}

func TestWeighted_RespectsZeroWeights(t *testing.T) {
	r := newRand("x")
	for range 100 {
		assert.Equal(t, "b", weighted(r, []string{"a", "b", "c"}, []int{0, 1, 0}))
	}
}

func TestRun_RebuildsFactTable(t *testing.T) {
	ctx := context.Background()
	s, err := store.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	for _, title := range []string{"A", "B", "C"} {
		_, err := s.Insert(ctx, rec(title))
		require.NoError(t, err)
	}

	result, err := Run(ctx, s, func() time.Time { return fixedTime })
	require.NoError(t, err)
	assert.Equal(t, 3, result.Read)
	assert.Equal(t, 3, result.Written)
	assert.Equal(t, fixedTime, result.Timestamp)

	facts, err := s.ListEnriched(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, facts, 3)
	assert.Equal(t, "A", facts[0].Title)
	assert.Equal(t, Enrich(rec("A"), fixedTime).Quartile, facts[0].Quartile)

	// A second run replaces rather than appends.
	_, err = Run(ctx, s, nil)
	require.NoError(t, err)
	facts, err = s.ListEnriched(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, facts, 3)
}
