// Package tui renders ledger output for terminals.
package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aretw0/ledger/pkg/domain"
	"github.com/muesli/termenv"
)

// Printer writes colored output. Colors degrade to plain text when w is not a terminal.
type Printer struct {
	w   io.Writer
	out *termenv.Output
}

// NewPrinter creates a Printer over w.
func NewPrinter(w io.Writer, opts ...termenv.OutputOption) *Printer {
	return &Printer{w: w, out: termenv.NewOutput(w, opts...)}
}

// Header prints a section title.
func (p *Printer) Header(title string) {
	fmt.Fprintln(p.w, p.out.String("== "+title+" ==").Bold().Foreground(p.out.Color("#818cf8")))
}

// Step prints a numbered step.
func (p *Printer) Step(n int, text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.out.String(fmt.Sprintf("[%d]", n)).Foreground(p.out.Color("#a78bfa")), text)
}

// Value prints a labelled JSON value.
func (p *Printer) Value(label string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", v))
	}
	fmt.Fprintf(p.w, "    %s %s\n", p.out.String(label+":").Faint(), string(data))
}

// Error prints err in red.
func (p *Printer) Error(err error) {
	fmt.Fprintf(p.w, "    %s %v\n", p.out.String("error:").Foreground(p.out.Color("#fb7185")), err)
}

// Record prints one journal record on a line: sequence, time, command, ids and arguments.
func (p *Printer) Record(rec domain.Record) {
	seq := p.out.String(fmt.Sprintf("#%-5d", rec.Seq)).Foreground(p.out.Color("#c084fc"))
	cmd := p.out.String(rec.Command).Bold()
	fmt.Fprintf(p.w, "%s %s %s", seq, rec.Timestamp.UTC().Format(time.RFC3339), cmd)

	for _, a := range rec.IDs {
		fmt.Fprintf(p.w, " %s=%d", a.Type, a.ID)
	}

	args, err := json.Marshal(rec.Args)
	if err != nil {
		args = []byte("?")
	}
	fmt.Fprintf(p.w, " %s\n", p.out.String(string(args)).Faint())
}
