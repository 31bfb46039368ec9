// Package tui is the terminal front end for imagepress: a bubbletea app with
// an image table, a notification panel, batch progress and a mouse-driven
// watermark editor, plus a plain line printer for non-interactive runs.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/imagepress/imagepress"
	"github.com/imagepress/imagepress/notify"
)

// Palette. The editor frame and the title bar share the dark base.
var (
	ColorPrimary    = lipgloss.Color("#CBA6F7")
	ColorSecondary  = lipgloss.Color("#6C7086")
	ColorSuccess    = lipgloss.Color("#A6E3A1")
	ColorWarning    = lipgloss.Color("#F9E2AF")
	ColorError      = lipgloss.Color("#F38BA8")
	ColorInfo       = lipgloss.Color("#74C7EC")
	ColorMuted      = lipgloss.Color("#7F849C")
	ColorBackground = lipgloss.Color("#1E1E2E")
	ColorForeground = lipgloss.Color("#CDD6F4")
)

const (
	SymbolSuccess    = "✓"
	SymbolError      = "✗"
	SymbolWarning    = "⚠"
	SymbolInProgress = "⟳"
	SymbolPending    = "○"
	SymbolArrow      = "→"
	SymbolBullet     = "•"
)

// Styles holds every lipgloss style the views use. Build one with
// DefaultStyles or PlainStyles.
type Styles struct {
	Title       lipgloss.Style
	Subtitle    lipgloss.Style
	SectionHead lipgloss.Style

	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style

	Panel       lipgloss.Style
	ActivePanel lipgloss.Style

	TableHeader lipgloss.Style
	TableRow    lipgloss.Style
	TableCell   lipgloss.Style

	HelpKey  lipgloss.Style
	HelpDesc lipgloss.Style

	// variants colours the SHOWING column by variant kind.
	variants map[imagepress.VariantKind]lipgloss.Style
}

// DefaultStyles returns the coloured theme.
func DefaultStyles() *Styles {
	fg := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	panel := func(border lipgloss.Color) lipgloss.Style {
		return lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1)
	}
	underlined := func(c lipgloss.Color) lipgloss.Style {
		return fg(c).Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(ColorSecondary)
	}

	return &Styles{
		Title:       fg(ColorPrimary).Bold(true).MarginBottom(1),
		Subtitle:    fg(ColorForeground).Bold(true),
		SectionHead: underlined(ColorInfo).MarginBottom(1),

		Success: fg(ColorSuccess),
		Error:   fg(ColorError),
		Warning: fg(ColorWarning),
		Info:    fg(ColorInfo),
		Muted:   fg(ColorMuted),

		Panel:       panel(ColorSecondary),
		ActivePanel: panel(ColorPrimary),

		TableHeader: underlined(ColorPrimary),
		TableRow:    fg(ColorForeground),
		TableCell:   lipgloss.NewStyle().PaddingRight(2),

		HelpKey:  fg(ColorInfo).Bold(true),
		HelpDesc: fg(ColorMuted),

		variants: map[imagepress.VariantKind]lipgloss.Style{
			imagepress.VariantOriginal:    fg(ColorMuted),
			imagepress.VariantWebP:        fg(ColorSuccess),
			imagepress.VariantJPEG:        fg(ColorSuccess),
			imagepress.VariantWatermarked: fg(ColorPrimary),
			imagepress.VariantModified:    fg(ColorInfo),
		},
	}
}

// PlainStyles returns styles that render text unchanged, for --no-color and
// for writers that are not terminals.
func PlainStyles() *Styles {
	p := lipgloss.NewStyle()
	return &Styles{
		Title: p, Subtitle: p, SectionHead: p,
		Success: p, Error: p, Warning: p, Info: p, Muted: p,
		Panel: p, ActivePanel: p,
		TableHeader: p, TableRow: p, TableCell: p.PaddingRight(2),
		HelpKey: p, HelpDesc: p,
	}
}

// Variant renders a variant name in its colour.
func (s *Styles) Variant(kind imagepress.VariantKind) string {
	if st, ok := s.variants[kind]; ok {
		return st.Render(string(kind))
	}
	return string(kind)
}

// StatusIcon maps a status word to a coloured symbol.
func (s *Styles) StatusIcon(status string) string {
	switch status {
	case "success", "ok", "done":
		return s.Success.Render(SymbolSuccess)
	case "error", "failed":
		return s.Error.Render(SymbolError)
	case "warning", "partial", "stale":
		return s.Warning.Render(SymbolWarning)
	case "running", "uploading", "exporting":
		return s.Info.Render(SymbolInProgress)
	case "pending", "none":
		return s.Muted.Render(SymbolPending)
	}
	return s.Muted.Render(SymbolBullet)
}

// LevelStyle returns the style used for notices of the given level.
func (s *Styles) LevelStyle(level notify.Level) lipgloss.Style {
	switch level {
	case notify.LevelSuccess:
		return s.Success
	case notify.LevelWarning:
		return s.Warning
	case notify.LevelError:
		return s.Error
	}
	return s.Info
}

// LevelIcon returns the notice symbol for level, styled like its text.
func (s *Styles) LevelIcon(level notify.Level) string {
	symbol := SymbolBullet
	switch level {
	case notify.LevelSuccess:
		symbol = SymbolSuccess
	case notify.LevelWarning:
		symbol = SymbolWarning
	case notify.LevelError:
		symbol = SymbolError
	}
	return s.LevelStyle(level).Render(symbol)
}

// FormatDuration renders d compactly: "850ms", "1.5s", "2m5s", "1h3m".
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d/time.Minute), int(d%time.Minute/time.Second))
	}
	return fmt.Sprintf("%dh%dm", int(d/time.Hour), int(d%time.Hour/time.Minute))
}
