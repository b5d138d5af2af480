// Package console renders runs and history for a terminal.
package console

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/loykin/scanrun/internal/run"
)

// progressStep is the granularity of printed progress updates.
const progressStep = 10

// Printer is a run.Sink for a terminal: output lines go to out, status and
// progress to info so the scan output stays pipeable.
type Printer struct {
	mu       sync.Mutex
	out      io.Writer
	info     io.Writer
	caser    cases.Caser
	lastStep int
	quiet    bool
}

// NewPrinter returns a Printer. info may be the same writer as out.
func NewPrinter(out, info io.Writer) *Printer {
	return &Printer{
		out:      out,
		info:     info,
		caser:    cases.Title(language.English),
		lastStep: -1,
	}
}

// SetQuiet suppresses progress updates; statuses are still printed.
func (p *Printer) SetQuiet(q bool) {
	p.mu.Lock()
	p.quiet = q
	p.mu.Unlock()
}

func (p *Printer) OnLine(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, text)
}

func (p *Printer) OnStatus(st run.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st.State == run.StateRunning {
		p.lastStep = -1
	}
	_, _ = fmt.Fprintln(p.info, p.statusLine(st))
}

func (p *Printer) statusLine(st run.Status) string {
	prefix := "[" + p.caser.String(st.State.String()) + "]"
	if st.IsError() {
		prefix = "[Error]"
	}
	return prefix + " " + st.Message
}

// OnProgress prints once per progressStep and always at 100.
func (p *Printer) OnProgress(percent int, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quiet || label == "" {
		return
	}
	if percent == 0 {
		p.lastStep = -1
	}
	step := percent / progressStep
	if step <= p.lastStep && percent < 100 {
		return
	}
	p.lastStep = step
	_, _ = fmt.Fprintf(p.info, "%3d%% %s\n", percent, label)
}

// StateLabel renders a state for display, e.g. "Cancelling".
func StateLabel(s run.State) string {
	return cases.Title(language.English).String(s.String())
}
