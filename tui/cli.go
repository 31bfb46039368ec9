package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/imagepress/imagepress/notify"
)

// CLIProgress prints notices and batch progress as plain lines, for the
// non-interactive process command.
type CLIProgress struct {
	mu sync.Mutex
	w  io.Writer

	quiet bool

	// inline is set while a progress line without a trailing newline is on
	// screen.
	inline bool

	styles    *Styles
	startTime time.Time
}

// NewCLIProgress creates a new CLI progress display
func NewCLIProgress(quiet, noColor bool) *CLIProgress {
	p := &CLIProgress{
		w:         os.Stdout,
		quiet:     quiet,
		styles:    DefaultStyles(),
		startTime: time.Now(),
	}
	if noColor {
		p.styles = PlainStyles()
	}
	return p
}

// SetWriter sets the output writer
func (p *CLIProgress) SetWriter(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.w = w
}

// HandleEvent prints one event. It is a notify.Callback.
func (p *CLIProgress) HandleEvent(e notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Errors are printed even in quiet mode.
	if p.quiet && !(e.Type == notify.EventNotice && e.Level == notify.LevelError) {
		return
	}

	switch e.Type {
	case notify.EventBatchStart:
		p.endLine()
		fmt.Fprintf(p.w, "%s %s: %d image(s)...\n", p.styles.Info.Render(SymbolInProgress), e.Op, e.Total)

	case notify.EventBatchProgress:
		fmt.Fprintf(p.w, "\r  %s %3.0f%% %d/%d", renderTextBar(e.Percent, 30), e.Percent*100, e.Done, e.Total)
		if e.Failed > 0 {
			fmt.Fprintf(p.w, " (%d failed)", e.Failed)
		}
		p.inline = true

	case notify.EventBatchComplete:
		p.endLine()
		icon := p.styles.Success.Render(SymbolSuccess)
		if e.Failed > 0 {
			icon = p.styles.Warning.Render(SymbolWarning)
		}
		fmt.Fprintf(p.w, "%s %s finished in %s\n", icon, e.Op, FormatDuration(e.Elapsed))

	case notify.EventNotice:
		p.endLine()
		fmt.Fprintf(p.w, "%s %s\n", p.styles.LevelIcon(e.Level), p.styles.LevelStyle(e.Level).Render(e.Message))
	}
}

// endLine terminates an open progress line.
func (p *CLIProgress) endLine() {
	if p.inline {
		fmt.Fprint(p.w, "\r\033[K")
		p.inline = false
	}
}

// PrintHeader prints a header for the run
func (p *CLIProgress) PrintHeader(backend string, files int) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, p.styles.Title.Render("imagepress"))
	fmt.Fprintf(p.w, "  %s %s\n", p.styles.Muted.Render("Backend:"), backend)
	fmt.Fprintf(p.w, "  %s %d\n", p.styles.Muted.Render("Files:"), files)
	fmt.Fprintln(p.w)
}

// ProcessResult summarises a process run.
type ProcessResult struct {
	Uploaded  int
	Succeeded int
	Failed    int
	Exported  int
	Location  string
	TotalTime time.Duration
	Error     error
}

// PrintSummary prints a summary at the end
func (p *CLIProgress) PrintSummary(result ProcessResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quiet && result.Error == nil {
		return
	}

	p.endLine()
	fmt.Fprintln(p.w)
	if result.Error != nil {
		fmt.Fprintf(p.w, "%s Processing failed: %v\n", p.styles.Error.Render(SymbolError), result.Error)
		fmt.Fprintln(p.w)
		return
	}

	fmt.Fprintf(p.w, "  %-12s %d\n", "Uploaded:", result.Uploaded)
	fmt.Fprintf(p.w, "  %-12s %d\n", "Succeeded:", result.Succeeded)
	fmt.Fprintf(p.w, "  %-12s %d\n", "Failed:", result.Failed)
	fmt.Fprintf(p.w, "  %-12s %d\n", "Exported:", result.Exported)
	if result.Location != "" {
		fmt.Fprintf(p.w, "  %-12s %s\n", "Output:", result.Location)
	}
	fmt.Fprintf(p.w, "  %-12s %s\n", "Total time:", FormatDuration(result.TotalTime))
	fmt.Fprintln(p.w)
}

// renderTextBar draws an ASCII bar for terminals without colour.
func renderTextBar(percent float64, width int) string {
	percent = min(max(percent, 0), 1)
	filled := int(percent * float64(width))
	bar := "[" + strings.Repeat("=", filled)
	if filled < width {
		bar += ">" + strings.Repeat(" ", width-filled-1)
	}
	return bar + "]"
}
