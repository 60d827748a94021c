package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/danmuck/mikrolink/internal/protocol"
	"github.com/danmuck/mikrolink/internal/protocol/reply"
	"github.com/fatih/color"
	"github.com/goccy/go-yaml"
	"github.com/mattn/go-isatty"
)

const (
	formatTable = "table"
	formatYAML  = "yaml"
	formatJSON  = "json"
)

func validFormat(f string) bool {
	switch f {
	case formatTable, formatYAML, formatJSON:
		return true
	}
	return false
}

// document is the structured form of a reply for yaml and json output.
type document struct {
	Kind   string               `yaml:"kind" json:"kind"`
	Rows   []reply.Row          `yaml:"rows,omitempty" json:"rows,omitempty"`
	Errors map[string]reply.Row `yaml:"errors,omitempty" json:"errors,omitempty"`
	Ret    string               `yaml:"ret,omitempty" json:"ret,omitempty"`
}

func toDocument(r reply.Reply) document {
	return document{
		Kind:   r.Kind().String(),
		Rows:   r.Rows,
		Errors: r.Errors,
		Ret:    r.Scalar,
	}
}

type printer struct {
	w      io.Writer
	format string
	color  bool
}

// newPrinter colors table output only when w is a terminal.
func newPrinter(w io.Writer, format string) *printer {
	p := &printer{w: w, format: format}
	if f, ok := w.(*os.File); ok {
		p.color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return p
}

func (p *printer) style(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if p.color {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func (p *printer) Reply(r reply.Reply) error {
	switch p.format {
	case formatYAML:
		out, err := yaml.Marshal(toDocument(r))
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err = p.w.Write(out)
		return err
	case formatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(toDocument(r))
	}

	switch r.Kind() {
	case reply.KindRows:
		return p.table(r.Rows)
	case reply.KindScalar:
		_, err := fmt.Fprintln(p.w, r.Scalar)
		return err
	case reply.KindError:
		return p.errors(r.Errors)
	default:
		_, err := p.style(color.Faint).Fprintln(p.w, "(no data)")
		return err
	}
}

func (p *printer) errors(errs map[string]reply.Row) error {
	markers := make([]string, 0, len(errs))
	for m := range errs {
		markers = append(markers, m)
	}
	sort.Strings(markers)
	red := p.style(color.FgRed, color.Bold)
	for _, m := range markers {
		row := errs[m]
		msg := row[protocol.AttrMessage]
		if msg == "" {
			msg = "(no message)"
		}
		if _, err := red.Fprintf(p.w, "%s: %s\n", strings.TrimPrefix(m, "!"), msg); err != nil {
			return err
		}
	}
	return nil
}

// table prints rows aligned under the union of their keys, ".id" first.
func (p *printer) table(rows []reply.Row) error {
	cols := columns(rows)
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c)
		for _, row := range rows {
			if n := len(row[c]); n > widths[i] {
				widths[i] = n
			}
		}
	}

	header := p.style(color.Bold, color.FgCyan)
	var b strings.Builder
	for i, c := range cols {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(header.Sprint(pad(c, widths[i], i == len(cols)-1)))
	}
	b.WriteByte('\n')
	for _, row := range rows {
		for i, c := range cols {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(pad(row[c], widths[i], i == len(cols)-1))
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

func columns(rows []reply.Row) []string {
	seen := map[string]struct{}{}
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Slice(cols, func(i, j int) bool {
		if cols[i] == ".id" || cols[j] == ".id" {
			return cols[i] == ".id"
		}
		return cols[i] < cols[j]
	})
	return cols
}

func pad(s string, width int, last bool) string {
	if last || len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
