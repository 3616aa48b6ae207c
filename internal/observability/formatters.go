// Package observability provides formatted output utilities for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/jonathan/publication-pipeline/internal/analytics"
	"github.com/jonathan/publication-pipeline/internal/pipeline"
	"github.com/jonathan/publication-pipeline/internal/reconcile"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintProgress outputs one line per pipeline progress event.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(event pipeline.ProgressEvent) {
	if event.Source != "" {
		fmt.Fprintf(p.out, "[%s] %-11s %s\n", event.Source, event.Step, event.Message)
		return
	}
	fmt.Fprintf(p.out, "%-11s %s\n", event.Step, event.Message)
}

// PrintSourceSummary outputs what one scraper invocation did.
func (p *Printer) PrintSourceSummary(s *pipeline.SourceSummary) {
	if s == nil {
		return
	}

	var sb strings.Builder
	st := s.Stats
	sb.WriteString(fmt.Sprintf("Pages:       %d\n", st.Pages))
	sb.WriteString(fmt.Sprintf("Containers:  %d\n", st.Containers))
	sb.WriteString(fmt.Sprintf("Inserted:    %d\n", st.Inserted))
	if st.Duplicates > 0 {
		sb.WriteString(fmt.Sprintf("Duplicates:  %d\n", st.Duplicates))
	}
	if st.Dropped > 0 {
		sb.WriteString(fmt.Sprintf("Dropped:     %d\n", st.Dropped))
	}
	if st.InsertErrors > 0 {
		sb.WriteString(fmt.Sprintf("Insert errs: %d\n", st.InsertErrors))
	}
	if st.StopReason != "" {
		sb.WriteString(fmt.Sprintf("Stopped:     %s\n", st.StopReason))
	}
	if s.Reconcile != nil {
		sb.WriteString(fmt.Sprintf("Reconciled:  %d removed, %d remaining\n", s.Reconcile.Deleted, s.Reconcile.Remaining))
	}
	if s.Export != nil {
		sb.WriteString(fmt.Sprintf("Exported:    %d to %s\n", s.Export.Records, s.Export.Path))
		if s.Export.Skipped > 0 {
			sb.WriteString(fmt.Sprintf("Skipped:     %d invalid records\n", s.Export.Skipped))
		}
	}
	sb.WriteString(fmt.Sprintf("Elapsed:     %s", s.Duration.Round(time.Second)))

	errs := stageErrors(s.Errors)
	if len(errs) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(strings.Join(errs, "\n"))
	}

	p.printBox(strings.ToUpper(string(s.Source))+" SCRAPE", sb.String())
}

func stageErrors(e pipeline.StageErrors) []string {
	var out []string
	for _, stage := range []struct{ name, msg string }{
		{"launch", e.Launch},
		{"scrape", e.Scrape},
		{"close", e.Close},
		{"reconcile", e.Reconcile},
		{"export", e.Export},
	} {
		if stage.msg != "" {
			out = append(out, fmt.Sprintf("⚠ %s: %s", stage.name, stage.msg))
		}
	}
	return out
}

// PrintRunSummary outputs every source summary followed by the run totals.
func (p *Printer) PrintRunSummary(s *pipeline.RunSummary) {
	if s == nil {
		return
	}
	for _, src := range s.Sources {
		p.PrintSourceSummary(src)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:      %s\n", s.RunID))
	sb.WriteString(fmt.Sprintf("Keyword:  %s\n", s.Keyword))
	sb.WriteString(fmt.Sprintf("Sources:  %d\n", len(s.Sources)))
	sb.WriteString(fmt.Sprintf("Records:  %d\n", s.Total))
	switch {
	case s.ExportError != "":
		sb.WriteString(fmt.Sprintf("Export:   ⚠ %s\n", s.ExportError))
	case s.Export != nil:
		sb.WriteString(fmt.Sprintf("Export:   %s\n", s.Export.Path))
		if up := s.Export.Upload; up != nil {
			sb.WriteString(fmt.Sprintf("Uploaded: s3://%s/%s\n", up.Bucket, up.Key))
		}
	}
	sb.WriteString(fmt.Sprintf("Elapsed:  %s", s.Finished.Sub(s.Started).Round(time.Second)))

	p.printBox("RUN COMPLETE", sb.String())
}

// PrintReconcileReport outputs the result of a reconciliation pass.
func (p *Printer) PrintReconcileReport(r *reconcile.Report) {
	if r == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Duplicate titles: %d\n", r.Groups))
	sb.WriteString(fmt.Sprintf("Removed:          %d\n", r.Deleted))
	sb.WriteString(fmt.Sprintf("Remaining:        %d\n", r.Remaining))
	if r.IndexInstalled {
		sb.WriteString("Unique index:     installed")
	} else {
		sb.WriteString("Unique index:     missing")
	}

	if len(r.CrossSource) > 0 {
		sb.WriteString(fmt.Sprintf("\n\nShared across sources (%d):\n", len(r.CrossSource)))
		count := min(len(r.CrossSource), maxItemsToShow)
		for i := 0; i < count; i++ {
			c := r.CrossSource[i]
			srcs := make([]string, len(c.Sources))
			for j, s := range c.Sources {
				srcs[j] = string(s)
			}
			sb.WriteString(fmt.Sprintf("  • %s [%s]\n", c.Title, strings.Join(srcs, ", ")))
		}
		if len(r.CrossSource) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(r.CrossSource)-maxItemsToShow))
		}
	}

	p.printBox("RECONCILIATION", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintYearCounts renders publications per year as a table.
func (p *Printer) PrintYearCounts(counts []analytics.YearCount) {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.AppendHeader(table.Row{"Year", "Publications"})
	total := 0
	for _, c := range counts {
		t.AppendRow(table.Row{c.Year, c.Count})
		total += c.Count
	}
	t.AppendFooter(table.Row{"Total", total})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

// PrintKPI renders the dashboard headline numbers as a table.
func (p *Printer) PrintKPI(kpi analytics.KPI, rawRecords int64) {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Raw records", rawRecords},
		{"Publications", kpi.TotalPubs},
		{"Authors", kpi.TotalAuthors},
		{"Citations*", kpi.TotalCitations},
		{"Avg impact*", fmt.Sprintf("%.2f", kpi.AvgImpact)},
	})
	if kpi.Synthetic {
		t.SetCaption("* synthetic values")
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

// PrintAuthors renders the top authors as a table.
func (p *Printer) PrintAuthors(authors []analytics.AuthorCount) {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.AppendHeader(table.Row{"#", "Author", "Publications"})
	for i, a := range authors {
		t.AppendRow(table.Row{i + 1, a.Author, a.Count})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}
