// Package format renders traversal results and ledger rows as terminal or
// Markdown tables.
package format

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Mode selects the table flavour written by Result and Ledger.
type Mode int

const (
	ASCII    Mode = iota // box-drawing terminal tables
	Markdown             // GitHub-flavoured Markdown tables
)

// ParseMode maps a --format flag value to a Mode. Empty means ASCII.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ascii", "table":
		return ASCII, nil
	case "markdown", "md":
		return Markdown, nil
	default:
		return ASCII, fmt.Errorf("unknown output format %q", s)
	}
}

func newWriter(m Mode, header ...any) table.Writer {
	w := table.NewWriter()
	if m == ASCII {
		w.SetStyle(table.StyleLight)
	}
	w.AppendHeader(table.Row(header))
	return w
}

func render(w table.Writer, m Mode) string {
	if m == Markdown {
		return w.RenderMarkdown()
	}
	return w.Render()
}

// Truncate shortens s to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
