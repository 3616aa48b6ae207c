package extract

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/publication-pipeline/internal/sources"
	"github.com/jonathan/publication-pipeline/internal/types"
)

// yearPattern matches a four digit year between 1900 and 2099.
var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Field names used in stats and errors.
const (
	FieldTitle   = "title"
	FieldAuthors = "authors"
	FieldYear    = "date_pub"
)

// Stats summarizes one call to Extract.
type Stats struct {
	Containers     int
	Yielded        int
	Dropped        int // title could not be resolved
	ItemErrors     int
	FieldFallbacks map[string]int
}

// Extractor reads records out of listing containers using one source definition.
type Extractor struct {
	def sources.Definition
}

// New creates an extractor for def.
func New(def sources.Definition) *Extractor {
	return &Extractor{def: def}
}

// Source returns the source this extractor assigns to its records.
func (e *Extractor) Source() types.Source {
	return e.def.Source
}

// Extract converts container HTML fragments into records, in container order.
// Items whose title cannot be resolved are dropped. Extract never fails:
// a broken container is skipped and counted in Stats.
func (e *Extractor) Extract(containers []string) ([]types.PublicationRecord, Stats) {
	stats := Stats{
		Containers:     len(containers),
		FieldFallbacks: make(map[string]int),
	}
	records := make([]types.PublicationRecord, 0, len(containers))

	for i, html := range containers {
		rec, fallbacks, err := e.extractItem(i, html)
		for _, fe := range fallbacks {
			stats.FieldFallbacks[fe.Field]++
			slog.Debug("field fallback", "source", e.def.Source, "item", i, "error", fe)
		}
		if err != nil {
			stats.ItemErrors++
			slog.Warn("skipping item", "source", e.def.Source, "error", err)
			continue
		}
		if rec.Title == types.UnknownTitle {
			stats.Dropped++
			continue
		}
		records = append(records, rec)
	}

	stats.Yielded = len(records)
	return records, stats
}

// extractItem builds one record. Each field is resolved independently so that a
// failure in one never affects the others.
func (e *Extractor) extractItem(index int, html string) (rec types.PublicationRecord, fallbacks []*FieldError, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ItemError{Index: index, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return rec, nil, &ItemError{Index: index, Message: "failed to parse container HTML", Cause: err}
	}

	resolve := func(field, sentinel string, fn func() (string, error)) string {
		value, ferr := safeField(field, fn)
		if ferr != nil {
			fallbacks = append(fallbacks, ferr)
			return sentinel
		}
		return value
	}

	rec.Title = resolve(FieldTitle, types.UnknownTitle, func() (string, error) {
		return firstText(doc, e.def.Selectors.Title, false)
	})
	rec.Authors = resolve(FieldAuthors, types.UnknownAuthors, func() (string, error) {
		return firstText(doc, e.def.Selectors.Authors, true)
	})
	rec.DatePub = resolve(FieldYear, types.UnknownDate, func() (string, error) {
		return findYear(doc.Text())
	})

	rec.Source = e.def.Source
	rec.Journal = e.def.Journal
	rec.Abstract = types.AbstractNA

	return rec, fallbacks, nil
}

// safeField runs fn, converting both errors and panics into a FieldError.
func safeField(field string, fn func() (string, error)) (value string, ferr *FieldError) {
	defer func() {
		if r := recover(); r != nil {
			value = ""
			ferr = &FieldError{Field: field, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	value, err := fn()
	if err != nil {
		return "", &FieldError{Field: field, Message: "not resolved", Cause: err}
	}
	return value, nil
}

// firstText returns the trimmed text of the first element matching selector.
// When keepLines is set, line breaks are preserved with each line trimmed.
func firstText(doc *goquery.Document, selector string, keepLines bool) (string, error) {
	if selector == "" {
		return "", fmt.Errorf("no selector configured")
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("selector %q matched nothing", selector)
	}

	var text string
	if keepLines {
		text = cleanLines(sel.Text())
	} else {
		text = strings.Join(strings.Fields(sel.Text()), " ")
	}
	if text == "" {
		return "", fmt.Errorf("selector %q matched an empty element", selector)
	}
	return text, nil
}

// findYear returns the first four digit year in text.
func findYear(text string) (string, error) {
	year := yearPattern.FindString(text)
	if year == "" {
		return "", fmt.Errorf("no year found")
	}
	return year, nil
}

// cleanLines trims every line and drops blank ones.
func cleanLines(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

// Containers splits a rendered page into the outer HTML of every element
// matching selector, in document order.
func Containers(html, selector string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	var out []string
	var firstErr error
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		fragment, err := goquery.OuterHtml(sel)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		out = append(out, fragment)
	})
	if firstErr != nil && len(out) == 0 {
		return nil, fmt.Errorf("failed to render containers: %w", firstErr)
	}
	return out, nil
}
