package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mikey/phish-ledger/internal/core"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// render writes v as JSON or YAML, or calls text for the human readable form
func render(w io.Writer, format string, v any, text func(w io.Writer) error) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}

func table(w io.Writer, header string, rows func(tw *tabwriter.Writer)) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	rows(tw)
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatLine(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprint(*n)
}

// oneLine flattens text for a table cell
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}

func emailsTable(w io.Writer, emails []core.FlaggedEmail) error {
	return table(w, "ID\tFLAGGED AT\tRISK\tFINDINGS\tSENDER\tSUBJECT", func(tw *tabwriter.Writer) {
		for _, e := range emails {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
				e.ID, formatTime(e.FlaggedAt), e.RiskLevel, e.TotalFindings, e.Sender, oneLine(e.Subject, 60))
		}
	})
}

func findingsTable(w io.Writer, findings []core.Finding) error {
	return table(w, "ID\tEMAIL\tSEGMENT\tLINE\tPHRASE", func(tw *tabwriter.Writer) {
		for _, f := range findings {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", f.ID, f.EmailID, f.Segment, formatLine(f.LineNumber), oneLine(f.Phrase, 60))
		}
	})
}

func statsTable(w io.Writer, stats []core.PhraseStatistic) error {
	return table(w, "PHRASE\tOCCURRENCES\tEMAILS\tFIRST SEEN\tLAST SEEN", func(tw *tabwriter.Writer) {
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
				oneLine(s.Phrase, 60), s.TotalOccurrences, s.EmailsAffected, formatTime(s.FirstSeen), formatTime(s.LastSeen))
		}
	})
}

func reportText(w io.Writer, r *core.OccurrenceReport) error {
	fmt.Fprintf(w, "=== Summary (generated %s) ===\n", formatTime(r.GeneratedAt))
	fmt.Fprintf(w, "Flagged emails: %d\n", r.Summary.TotalFlaggedEmails)
	fmt.Fprintf(w, "Findings:       %d\n", r.Summary.TotalFindings)
	fmt.Fprintf(w, "Unique emails:  %d\n", r.Summary.UniqueEmails)

	fmt.Fprintf(w, "\n=== Top phrases ===\n")
	if err := statsTable(w, r.TopPhrases); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n=== Recent activity ===\n")
	return table(w, "ID\tFLAGGED AT\tFINDINGS\tSUBJECT", func(tw *tabwriter.Writer) {
		for _, a := range r.RecentActivity {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", a.ID, formatTime(a.FlaggedAt), a.TotalFindings, oneLine(a.Subject, 60))
		}
	})
}
