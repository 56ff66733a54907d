// Package console renders detection output on a terminal: log lines,
// status lines, a progress bar and the final summary.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/Iron-Ham/spotbridge/internal/engine"
)

const barWidth = 30

// Console writes run output to w. It implements engine.Sink.
type Console struct {
	mu          sync.Mutex
	w           io.Writer
	interactive bool
	drawing     bool
}

// New creates a Console on w. The progress bar is only drawn when w is a
// terminal.
func New(w io.Writer) *Console {
	c := &Console{w: w}
	if f, ok := w.(*os.File); ok {
		c.interactive = term.IsTerminal(int(f.Fd()))
	}
	return c
}

// NewInteractive creates a Console that always draws progress.
func NewInteractive(w io.Writer) *Console {
	return &Console{w: w, interactive: true}
}

// Log prints msg. Indented lines are rendered as code.
func (c *Console) Log(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endBar()
	for _, line := range strings.SplitAfter(msg, "\n") {
		if line == "" {
			continue
		}
		body := strings.TrimSuffix(line, "\n")
		if strings.HasPrefix(body, "  ") {
			body = codeStyle.Render(body)
		}
		fmt.Fprint(c.w, body)
		if strings.HasSuffix(line, "\n") {
			fmt.Fprintln(c.w)
		}
	}
}

// SetStatus prints a status line.
func (c *Console) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endBar()
	fmt.Fprintln(c.w, statusStyle.Render("▸ "+status))
}

// SetProgress redraws the progress bar.
func (c *Console) SetProgress(fraction float64) {
	if !c.interactive {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.w, "\r"+Bar(fraction, barWidth))
	c.drawing = fraction < 1
	if !c.drawing {
		fmt.Fprintln(c.w)
	}
}

// endBar moves past a partially drawn bar.
func (c *Console) endBar() {
	if c.drawing {
		fmt.Fprintln(c.w)
		c.drawing = false
	}
}

// Bar renders a progress bar of the given width.
func Bar(fraction float64, width int) string {
	fraction = min(max(fraction, 0), 1)
	filled := int(fraction * float64(width))
	return barFillStyle.Render(strings.Repeat("█", filled)) +
		barRestStyle.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %3.0f%%", fraction*100)
}

// Summary prints the outcome of a run.
func (c *Console) Summary(res engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endBar()
	if !res.OK {
		fmt.Fprintln(c.w, errorStyle.Render("✗ "+res.Message))
		return
	}
	fmt.Fprintln(c.w, successStyle.Render(fmt.Sprintf("✓ %d spots in %d frames", res.Spots.Count(), len(res.Spots.Frames()))),
		mutedStyle.Render(fmt.Sprintf("(%s)", res.ProcessingTime.Round(1e6))))
}
