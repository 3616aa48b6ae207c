package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/publication-pipeline/internal/sources"
	"github.com/jonathan/publication-pipeline/internal/types"
)

func acmDefinition(t *testing.T) sources.Definition {
	t.Helper()
	reg, err := sources.Default()
	require.NoError(t, err)
	def, ok := reg.Get(types.SourceACM)
	require.True(t, ok)
	return def
}

const acmItem = `
<li class="search-result__item">
  <div class="issue-item">
    <h5 class="issue-item__title"><a href="/doi/10.1145/1">  Blockchain   Consensus at Scale </a></h5>
    <ul class="rlist--inline">
      <li>Alice Martin</li>
      <li>Bob Chen</li>
    </ul>
    <div class="issue-item__detail">Proceedings, June 2021, pp. 1-10</div>
  </div>
</li>`

func TestExtract_FullItem(t *testing.T) {
	ex := New(acmDefinition(t))

	records, stats := ex.Extract([]string{acmItem})
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "Blockchain Consensus at Scale", rec.Title)
	assert.Equal(t, "Alice Martin\nBob Chen", rec.Authors)
	assert.Equal(t, "2021", rec.DatePub)
	assert.Equal(t, types.SourceACM, rec.Source)
	assert.Equal(t, "ACM", rec.Journal)
	assert.Equal(t, types.AbstractNA, rec.Abstract)

	assert.Equal(t, 1, stats.Containers)
	assert.Equal(t, 1, stats.Yielded)
	assert.Zero(t, stats.Dropped)
	assert.Empty(t, stats.FieldFallbacks)
}

func TestExtract_FieldFallbacksAreIndependent(t *testing.T) {
	ex := New(acmDefinition(t))

	// Title present, authors and year missing.
	html := `<div class="issue-item"><h5 class="issue-item__title"><a>Smart Contract Auditing</a></h5></div>`

	records, stats := ex.Extract([]string{html})
	require.Len(t, records, 1)
	assert.Equal(t, "Smart Contract Auditing", records[0].Title)
	assert.Equal(t, types.UnknownAuthors, records[0].Authors)
	assert.Equal(t, types.UnknownDate, records[0].DatePub)
	assert.Equal(t, 1, stats.FieldFallbacks[FieldAuthors])
	assert.Equal(t, 1, stats.FieldFallbacks[FieldYear])
}

func TestExtract_UnknownTitleIsNeverYielded(t *testing.T) {
	ex := New(acmDefinition(t))

	containers := []string{
		`<div class="issue-item"><ul class="rlist--inline"><li>No Title</li></ul> 2019</div>`,
		`<div class="issue-item"><h5 class="issue-item__title"><a>   </a></h5></div>`,
		acmItem,
	}

	records, stats := ex.Extract(containers)
	require.Len(t, records, 1)
	for _, rec := range records {
		assert.NotEqual(t, types.UnknownTitle, rec.Title)
	}
	assert.Equal(t, 3, stats.Containers)
	assert.Equal(t, 2, stats.Dropped)
	assert.Equal(t, 1, stats.Yielded)
}

func TestExtract_LiteralSentinelTitleIsDropped(t *testing.T) {
	ex := New(acmDefinition(t))
	html := `<div class="issue-item"><h5 class="issue-item__title"><a>Unknown Title</a></h5> 2020</div>`

	records, stats := ex.Extract([]string{html})
	assert.Empty(t, records)
	assert.Equal(t, 1, stats.Dropped)
}

func TestExtract_NeverFailsOnGarbage(t *testing.T) {
	ex := New(acmDefinition(t))

	inputs := []string{
		"",
		"<<<>>>",
		"<div class=\"issue-item\"><h5 class=\"issue-item__title\"><a>Unclosed",
		"plain text 1999",
		"\x00\xff\xfe",
	}

	assert.NotPanics(t, func() {
		records, stats := ex.Extract(inputs)
		assert.Equal(t, len(inputs), stats.Containers)
		assert.Equal(t, stats.Containers, stats.Yielded+stats.Dropped+stats.ItemErrors)
		for _, rec := range records {
			assert.NotEqual(t, types.UnknownTitle, rec.Title)
		}
	})
}

func TestExtract_EmptyPage(t *testing.T) {
	ex := New(acmDefinition(t))
	records, stats := ex.Extract(nil)
	assert.Empty(t, records)
	assert.Zero(t, stats.Containers)
}

func TestExtract_PreservesOrder(t *testing.T) {
	ex := New(acmDefinition(t))
	item := func(title string) string {
		return `<div class="issue-item"><h5 class="issue-item__title"><a>` + title + `</a></h5></div>`
	}

	records, _ := ex.Extract([]string{item("C"), item("A"), item("B")})
	require.Len(t, records, 3)
	assert.Equal(t, "C", records[0].Title)
	assert.Equal(t, "A", records[1].Title)
	assert.Equal(t, "B", records[2].Title)
}

func TestExtract_IEEEAlternativeSelectors(t *testing.T) {
	reg, err := sources.Default()
	require.NoError(t, err)
	def, _ := reg.Get(types.SourceIEEE)
	ex := New(def)

	html := `<div class="result-item">
		<h2><a>Federated Learning on the Edge</a></h2>
		<p class="author">Dana Ruiz; Ken Ito</p>
		<div class="description">Year: 2019 | Conference Paper</div>
	</div>`

	records, _ := ex.Extract([]string{html})
	require.Len(t, records, 1)
	assert.Equal(t, "Federated Learning on the Edge", records[0].Title)
	assert.Equal(t, "Dana Ruiz; Ken Ito", records[0].Authors)
	assert.Equal(t, "2019", records[0].DatePub)
	assert.Equal(t, types.SourceIEEE, records[0].Source)
	assert.Equal(t, "IEEE", records[0].Journal)
	assert.Equal(t, types.SourceIEEE, ex.Source())
}

func TestFindYear(t *testing.T) {
	tests := []struct {
		text    string
		want    string
		wantErr bool
	}{
		{"Published 2021", "2021", false},
		{"vol 12, 1999 and 2005", "1999", false},
		{"id 120210", "", true},
		{"1850", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := findYear(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSafeField_RecoversPanics(t *testing.T) {
	value, ferr := safeField("title", func() (string, error) {
		panic("boom")
	})
	assert.Empty(t, value)
	require.NotNil(t, ferr)
	assert.Equal(t, "title", ferr.Field)
	assert.Contains(t, ferr.Error(), "boom")
}

func TestContainers(t *testing.T) {
	page := `<html><body><ul>` + acmItem + acmItem + `</ul><div class="other"></div></body></html>`

	containers, err := Containers(page, "li.search-result__item")
	require.NoError(t, err)
	require.Len(t, containers, 2)
	assert.Contains(t, containers[0], "Blockchain")

	records, stats := New(acmDefinition(t)).Extract(containers)
	assert.Len(t, records, 2)
	assert.Equal(t, 2, stats.Yielded)
}

func TestContainers_NoMatches(t *testing.T) {
	containers, err := Containers(`<html><body></body></html>`, "li.search-result__item")
	require.NoError(t, err)
	assert.Empty(t, containers)
}
