// Package analytics computes the dashboard aggregations over enriched records.
// All functions are pure; callers load the fact table and pass it in.
package analytics

import (
	"cmp"
	"regexp"
	"slices"
	"strings"

	"github.com/jonathan/publication-pipeline/internal/types"
)

// All as a filter value means no restriction.
const All = "All"

// DefaultTopAuthors bounds TopAuthors and the co-author network.
const DefaultTopAuthors = 10

// Filter restricts records by year and country. Empty or All matches everything.
type Filter struct {
	Year    string `json:"year,omitempty"`
	Country string `json:"country,omitempty"`
}

func (f Filter) matches(r types.EnrichedRecord) bool {
	if f.Year != "" && f.Year != All && r.DatePub != f.Year {
		return false
	}
	if f.Country != "" && f.Country != All && r.Country != f.Country {
		return false
	}
	return true
}

// Apply returns the records matching f, preserving order.
func Apply(recs []types.EnrichedRecord, f Filter) []types.EnrichedRecord {
	out := make([]types.EnrichedRecord, 0, len(recs))
	for _, r := range recs {
		if f.matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// FilterOptions lists the values the dashboard offers in its filter dropdowns.
type FilterOptions struct {
	Years     []string `json:"years"`
	Countries []string `json:"countries"`
}

// Options returns the distinct known years (descending) and countries (ascending).
func Options(recs []types.EnrichedRecord) FilterOptions {
	years := map[string]bool{}
	countries := map[string]bool{}
	for _, r := range recs {
		if r.HasKnownYear() {
			years[r.DatePub] = true
		}
		if r.Country != "" {
			countries[r.Country] = true
		}
	}

	opts := FilterOptions{Years: sortedKeys(years), Countries: sortedKeys(countries)}
	slices.Reverse(opts.Years)
	return opts
}

// KPI holds the dashboard headline numbers. Citation and impact figures are synthetic.
type KPI struct {
	TotalPubs      int     `json:"total_pubs"`
	TotalCitations int     `json:"total_citations"`
	AvgImpact      float64 `json:"avg_impact"`
	TotalAuthors   int     `json:"total_authors"`
	Synthetic      bool    `json:"synthetic"`
}

// Summary computes the KPI block for recs.
func Summary(recs []types.EnrichedRecord) KPI {
	kpi := KPI{TotalPubs: len(recs), Synthetic: true}
	authors := map[string]bool{}
	var impact float64
	for _, r := range recs {
		kpi.TotalCitations += r.Citations
		impact += r.ImpactScore
		for _, a := range SplitAuthors(r.Authors) {
			authors[a] = true
		}
	}
	if len(recs) > 0 {
		kpi.AvgImpact = round2(impact / float64(len(recs)))
	}
	kpi.TotalAuthors = len(authors)
	return kpi
}

// YearCount is one bar of the publications-per-year chart.
type YearCount struct {
	Year  string `json:"year"`
	Count int    `json:"count"`
}

// TimeDistribution counts records per year, ascending, excluding unknown years.
func TimeDistribution(recs []types.EnrichedRecord) []YearCount {
	counts := map[string]int{}
	for _, r := range recs {
		if r.HasKnownYear() {
			counts[r.DatePub]++
		}
	}
	out := make([]YearCount, 0, len(counts))
	for _, y := range sortedKeys(counts) {
		out = append(out, YearCount{Year: y, Count: counts[y]})
	}
	return out
}

// CountryCount is one region of the map.
type CountryCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

// GeoDistribution counts records per country, largest first.
func GeoDistribution(recs []types.EnrichedRecord) []CountryCount {
	counts := map[string]int{}
	for _, r := range recs {
		if r.Country != "" {
			counts[r.Country]++
		}
	}
	out := make([]CountryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CountryCount{Country: c, Count: n})
	}
	slices.SortFunc(out, func(a, b CountryCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Country, b.Country))
	})
	return out
}

// CategoryValue is one slice of the quartile pie.
type CategoryValue struct {
	Category string `json:"category"`
	Value    int    `json:"value"`
}

// QuartileDistribution counts records per quartile. Q1..Q4 are always present.
func QuartileDistribution(recs []types.EnrichedRecord) []CategoryValue {
	order := []string{"Q1", "Q2", "Q3", "Q4"}
	counts := map[string]int{}
	for _, r := range recs {
		counts[r.Quartile]++
	}
	out := make([]CategoryValue, 0, len(order))
	for _, q := range order {
		out = append(out, CategoryValue{Category: q, Value: counts[q]})
	}
	return out
}

// KeywordValue is one word of the word cloud.
type KeywordValue struct {
	Text  string `json:"text"`
	Value int    `json:"value"`
}

// Keywords counts generated keywords, most frequent first.
func Keywords(recs []types.EnrichedRecord) []KeywordValue {
	counts := map[string]int{}
	for _, r := range recs {
		for _, kw := range r.GeneratedKeywords {
			counts[kw]++
		}
	}
	out := make([]KeywordValue, 0, len(counts))
	for kw, n := range counts {
		out = append(out, KeywordValue{Text: kw, Value: n})
	}
	slices.SortFunc(out, func(a, b KeywordValue) int {
		return cmp.Or(cmp.Compare(b.Value, a.Value), cmp.Compare(a.Text, b.Text))
	})
	return out
}

// AuthorCount is one bar of the top-authors chart.
type AuthorCount struct {
	Author string `json:"author"`
	Count  int    `json:"count"`
}

// TopAuthors returns the n most prolific authors. Unknown authors are ignored.
func TopAuthors(recs []types.EnrichedRecord, n int) []AuthorCount {
	counts := map[string]int{}
	for _, r := range recs {
		for _, a := range SplitAuthors(r.Authors) {
			counts[a]++
		}
	}
	out := make([]AuthorCount, 0, len(counts))
	for a, c := range counts {
		out = append(out, AuthorCount{Author: a, Count: c})
	}
	slices.SortFunc(out, func(a, b AuthorCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Author, b.Author))
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Node is an author in the co-author network, sized by publication count.
type Node struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

// Link joins two authors who share at least one publication.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Network is the co-author graph.
type Network struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// CoAuthorNetwork builds the graph among the n most prolific authors.
// Each pair of co-authors appears once in Links.
func CoAuthorNetwork(recs []types.EnrichedRecord, n int) Network {
	top := TopAuthors(recs, n)
	inTop := make(map[string]bool, len(top))
	net := Network{Nodes: make([]Node, 0, len(top)), Links: []Link{}}
	for _, a := range top {
		inTop[a.Author] = true
		net.Nodes = append(net.Nodes, Node{ID: a.Author, Value: a.Count})
	}

	seen := map[Link]bool{}
	for _, r := range recs {
		var members []string
		for _, a := range SplitAuthors(r.Authors) {
			if inTop[a] && !slices.Contains(members, a) {
				members = append(members, a)
			}
		}
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				src, dst := members[i], members[j]
				if dst < src {
					src, dst = dst, src
				}
				l := Link{Source: src, Target: dst}
				if !seen[l] {
					seen[l] = true
					net.Links = append(net.Links, l)
				}
			}
		}
	}
	return net
}

var authorSeparators = regexp.MustCompile(`[;,\n]+`)

// SplitAuthors splits the free-text authors field into trimmed names.
// The Unknown sentinel yields no names.
func SplitAuthors(authors string) []string {
	if strings.TrimSpace(authors) == "" || authors == types.UnknownAuthors {
		return nil
	}
	var names []string
	for _, part := range authorSeparators.Split(authors, -1) {
		name := strings.Join(strings.Fields(part), " ")
		if name != "" && name != types.UnknownAuthors {
			names = append(names, name)
		}
	}
	return names
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
