package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/roach88/e2eshark/internal/ledger"
	"github.com/roach88/e2eshark/internal/scheduler"
	"github.com/roach88/e2eshark/internal/store"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	redRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)
	titleStyle  = lipgloss.NewStyle().Bold(true)
	passedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "2", Dark: "10"})
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).Bold(true)
)

// resultsTable is a lipgloss table that renders failing rows in red.
type resultsTable struct {
	Table *lgtable.Table
	Count int
	Reds  map[int]bool
}

func newResultsTable(alignments ...lipgloss.Position) *resultsTable {
	t := &resultsTable{Reds: make(map[int]bool)}
	t.Table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row < 0:
				s = headerRowStyle
			case t.Reds[row]:
				s = redRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
	return t
}

func (t *resultsTable) Row(isRed bool, row ...string) {
	if isRed {
		t.Reds[t.Count] = true
	}
	t.Table.Row(row...)
	t.Count++
}

// summaryJSON is the JSON document of a finished run.
type summaryJSON struct {
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Total   int          `json:"total"`
	Elapsed float64      `json:"elapsed_seconds"`
	Failing []failedTest `json:"failing,omitempty"`
}

type failedTest struct {
	Test  string `json:"test"`
	Kind  string `json:"kind"`
	Phase string `json:"phase,omitempty"`
	Dir   string `json:"dir"`
	Error string `json:"error,omitempty"`
}

func renderSummary(w io.Writer, format string, sum *scheduler.Summary) error {
	doc := summaryJSON{
		Passed:  sum.Passed,
		Failed:  sum.Failed,
		Total:   sum.Total(),
		Elapsed: sum.Elapsed.Seconds(),
	}
	for _, r := range sum.FailedResults() {
		ft := failedTest{Test: r.Test.String(), Kind: string(r.Kind()), Phase: string(r.Phase()), Dir: r.Dir}
		if r.Failure != nil {
			ft.Error = r.Failure.Error()
		}
		doc.Failing = append(doc.Failing, ft)
	}

	if format == "json" {
		f := &OutputFormatter{Format: format, Writer: w}
		return f.RunSuccess(sum.RunID, doc)
	}

	fmt.Fprintf(w, "%s %s, %s, %s total in %s\n",
		titleStyle.Render("Summary:"),
		passedStyle.Render(fmt.Sprintf("%d passed", doc.Passed)),
		failStyle(doc.Failed).Render(fmt.Sprintf("%d failed", doc.Failed)),
		humanize.Comma(int64(doc.Total)),
		sum.Elapsed.Round(time.Millisecond))
	if len(doc.Failing) == 0 {
		return nil
	}
	table := newResultsTable(lipgloss.Left)
	table.Table.Headers("Test", "Failure", "Run directory")
	for _, ft := range doc.Failing {
		failure := ft.Kind
		if ft.Phase != "" && ft.Kind != ft.Phase {
			failure = ft.Kind + " in " + ft.Phase
		}
		table.Row(true, ft.Test, failure, ft.Dir)
	}
	fmt.Fprintln(w, table.Table.Render())
	return nil
}

func failStyle(failed int) lipgloss.Style {
	if failed > 0 {
		return failedStyle
	}
	return lipgloss.NewStyle()
}

// renderRun prints a stored run as a table of tests and phase times.
func renderRun(w io.Writer, run store.Run, now time.Time) {
	status := "in progress"
	if !run.Finished.IsZero() {
		status = "took " + run.Finished.Sub(run.Started).Round(time.Millisecond).String()
	}
	passed, failed := 0, 0
	for _, r := range run.Results {
		if r.Pass {
			passed++
		} else {
			failed++
		}
	}
	fmt.Fprintf(w, "%s %s (started %s, %s)\n",
		titleStyle.Render("Run"), run.ID, humanize.RelTime(run.Started, now, "ago", "from now"), status)
	fmt.Fprintf(w, "%s, %s\n",
		passedStyle.Render(fmt.Sprintf("%d passed", passed)),
		failStyle(failed).Render(fmt.Sprintf("%d failed", failed)))
	if len(run.Results) == 0 {
		return
	}

	headers := []string{"Test", "Result"}
	for _, p := range ledger.Phases {
		headers = append(headers, string(p))
	}
	table := newResultsTable(lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Table.Headers(headers...)
	for _, r := range run.Results {
		row := []string{r.Test, "passed"}
		if !r.Pass {
			row[1] = "failed[" + failureTag(r) + "]"
		}
		times := make(map[ledger.Phase]store.PhaseOutcome, len(r.Phases))
		for _, p := range r.Phases {
			times[p.Phase] = p
		}
		for _, p := range ledger.Phases {
			o, ok := times[p]
			switch {
			case !ok || o.Status == ledger.NotRun:
				row = append(row, "-")
			case o.Status == ledger.Failed:
				row = append(row, "x "+formatSeconds(o.Elapsed))
			default:
				row = append(row, formatSeconds(o.Elapsed))
			}
		}
		table.Row(!r.Pass, row...)
	}
	fmt.Fprintln(w, table.Table.Render())
}

// failureTag matches the tag of the per-test result line.
func failureTag(r store.TestResult) string {
	switch {
	case r.Kind == "output-mismatch":
		return r.Kind
	case r.Phase != "":
		return r.Phase
	case r.Kind != "":
		return r.Kind
	}
	return "unknown"
}

func formatSeconds(d time.Duration) string {
	return humanize.FtoaWithDigits(d.Seconds(), 3) + "s"
}
