// Package report aggregates terminal test outcomes and renders them.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/kerncheck/internal/pipeline"
)

// MissingMessage replaces an empty failure message.
const MissingMessage = "no error message captured"

// ExcerptLines bounds the stdout and stderr tails printed per failure.
const ExcerptLines = 10

// TestResult is the terminal outcome of one test.
type TestResult struct {
	ID          string          `json:"id"`
	Seq         int             `json:"seq"`
	Kind        string          `json:"kind"`
	Status      pipeline.Status `json:"status"`
	Message     string          `json:"message,omitempty"`
	FailedStage string          `json:"failed_stage,omitempty"`
	Stdout      string          `json:"stdout,omitempty"`
	Stderr      string          `json:"stderr,omitempty"`
	Workdir     string          `json:"workdir,omitempty"`
}

// Summary counts outcomes. Failed is always Total minus Passed, so a test
// left UNKNOWN counts as failed.
type Summary struct {
	RunID    string       `json:"run_id,omitempty"`
	Total    int          `json:"total"`
	Passed   int          `json:"passed"`
	Failed   int          `json:"failed"`
	Results  []TestResult `json:"results"`
	Skipped  []Skipped    `json:"skipped,omitempty"`
	Failures []TestResult `json:"-"`
}

// Skipped is a test definition discovery could not instantiate.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Summarize counts results in the order given.
func Summarize(results []TestResult) *Summary {
	s := &Summary{Total: len(results), Results: results}
	for _, r := range results {
		if r.Status == pipeline.StatusPassed {
			s.Passed++
			continue
		}
		s.Failures = append(s.Failures, r)
	}
	s.Failed = s.Total - s.Passed
	return s
}

// AllPassed reports whether every test passed.
func (s *Summary) AllPassed() bool { return s.Failed == 0 }

// WriteText prints the banner report.
func WriteText(w io.Writer, s *Summary) error {
	var b strings.Builder
	b.WriteString("*********** TEST REPORT ***********\n\n")
	fmt.Fprintf(&b, "Total # of tests : %d\n", s.Total)
	fmt.Fprintf(&b, "# of passed tests: %d\n", s.Passed)
	fmt.Fprintf(&b, "# of failed tests: %d\n", s.Failed)
	b.WriteString("\n")

	for _, r := range s.Failures {
		fmt.Fprintf(&b, "%s : %s\n", r.ID, r.Status)
		if r.FailedStage != "" {
			fmt.Fprintf(&b, "FAILED STAGE: %s\n", r.FailedStage)
		}
		b.WriteString("ERROR MSG:\n")
		msg := strings.TrimRight(r.Message, "\n")
		if msg == "" {
			msg = MissingMessage
		}
		b.WriteString(msg)
		b.WriteString("\n")
		writeExcerpt(&b, "STDOUT", r.Stdout)
		writeExcerpt(&b, "STDERR", r.Stderr)
		b.WriteString("\n")
	}

	for _, sk := range s.Skipped {
		fmt.Fprintf(&b, "%s : SKIPPED\n%s\n\n", sk.Path, sk.Reason)
	}

	b.WriteString("***********************************\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON emits the summary as indented JSON.
func WriteJSON(w io.Writer, s *Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func writeExcerpt(b *strings.Builder, label, text string) {
	tail := Tail(text, ExcerptLines)
	if tail == "" {
		return
	}
	fmt.Fprintf(b, "%s (last %d lines):\n%s\n", label, ExcerptLines, tail)
}

// Tail returns the last n non-trailing lines of text.
func Tail(text string, n int) string {
	text = strings.TrimRight(text, "\n")
	if text == "" || n <= 0 {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
