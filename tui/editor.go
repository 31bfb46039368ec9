package tui

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/imagepress/imagepress"
	"github.com/imagepress/imagepress/watermark"
)

// The preview is drawn at a fixed offset from the top-left of the screen.
// Mouse coordinates are translated with the same offset.
const (
	previewLeft = 2
	previewTop  = 2
)

// Colours cycled with the 'c' key.
var watermarkPalette = []string{"#ffffff", "#000000", "#ff4136", "#ffdc00", "#2ecc40", "#0074d9"}

// EditorDoneMsg is sent when the editor closes. Config is the placement
// to apply; it is unset when the editor was cancelled.
type EditorDoneMsg struct {
	Config    imagepress.WatermarkConfig
	Cancelled bool
}

// PreviewLoadedMsg carries the decoded preview for the editor.
type PreviewLoadedMsg struct {
	ImageID string
	Preview *watermark.Preview
	Err     error
}

// EditorModel places a text watermark over a half-block rendering of an
// image. Each terminal cell shows two preview pixels stacked vertically, so
// the preview is measured in pixels and pointer rows count twice.
type EditorModel struct {
	editor  *watermark.Editor
	text    textinput.Model
	styles  *Styles
	imageID string
	file    string

	// Maximum preview size in cells.
	maxCols, maxRows int

	pixels  image.Image
	size    imagepress.Size
	palette int
	status  string
}

// NewEditorModel opens the editor for one image. base supplies the
// starting text and styling; the placement starts at base.Position.
func NewEditorModel(rec imagepress.ImageRecord, base imagepress.WatermarkConfig, width, height int, styles *Styles) *EditorModel {
	if styles == nil {
		styles = DefaultStyles()
	}
	ti := textinput.New()
	ti.Placeholder = "watermark text"
	ti.CharLimit = 64
	ti.Width = 32
	ti.SetValue(base.Text)
	ti.Focus()

	m := &EditorModel{
		text:    ti,
		styles:  styles,
		imageID: rec.ImageID,
		file:    rec.FileName,
		maxCols: max(width-2*previewLeft, 8),
		maxRows: max(height-previewTop-8, 4),
	}

	// Until a preview arrives the placement area is an empty box at full
	// size, mapped against the natural size recorded for the image.
	m.size = imagepress.Size{Width: m.maxCols, Height: m.maxRows * 2}
	natural := m.size
	if rec.NaturalSize != nil && !rec.NaturalSize.IsZero() {
		natural = *rec.NaturalSize
	}
	m.editor = watermark.NewEditor(watermark.NewMapper(m.bounds(), natural), base)
	return m
}

// ImageID returns the image being edited.
func (m *EditorModel) ImageID() string { return m.imageID }

// PreviewBounds returns the maximum preview size in pixels, for ProbeReader.
func (m *EditorModel) PreviewBounds() (int, int) {
	return m.maxCols, m.maxRows * 2
}

// Editor exposes the underlying placement state.
func (m *EditorModel) Editor() *watermark.Editor { return m.editor }

// bounds is the preview rectangle in pixel units with its origin at the
// preview's top-left corner.
func (m *EditorModel) bounds() watermark.Rect {
	return watermark.Rect{W: float64(m.size.Width), H: float64(m.size.Height)}
}

// SetPreview installs a decoded preview. The placement is kept and the
// mapper is rebuilt for the new size.
func (m *EditorModel) SetPreview(p *watermark.Preview) {
	if p == nil || p.Size.IsZero() {
		return
	}
	m.pixels = p.Image
	m.size = p.Size
	draft := m.editor.Draft()
	m.editor = watermark.NewEditor(watermark.NewMapper(m.bounds(), p.Natural), draft)
}

// CellToPoint converts a terminal cell to a point in preview pixels. The
// centre of the cell is used, and each cell row covers two pixel rows.
func CellToPoint(x, y int) watermark.Point {
	return watermark.Point{
		X: float64(x-previewLeft) + 0.5,
		Y: float64(y-previewTop)*2 + 1,
	}
}

// Update handles keys and mouse events while the editor is open.
func (m *EditorModel) Update(msg tea.Msg) (*EditorModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.handleMouse(msg)
		return m, nil

	case PreviewLoadedMsg:
		if msg.ImageID != m.imageID {
			return m, nil
		}
		if msg.Err != nil {
			m.status = "preview unavailable: " + msg.Err.Error()
			return m, nil
		}
		m.SetPreview(msg.Preview)
		m.status = fmt.Sprintf("natural size %dx%d", msg.Preview.Natural.Width, msg.Preview.Natural.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.text.Focused() {
		var cmd tea.Cmd
		m.text, cmd = m.text.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *EditorModel) handleMouse(msg tea.MouseMsg) {
	mapper := m.editor.Mapper()
	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft {
			return
		}
		if mapper.Press(CellToPoint(msg.X, msg.Y)) {
			debugLog("editor: drag start at %d,%d", msg.X, msg.Y)
		}
	case tea.MouseActionMotion:
		mapper.Move(CellToPoint(msg.X, msg.Y))
	case tea.MouseActionRelease:
		// Release ends the drag wherever the pointer is.
		mapper.Release()
	}
}

func (m *EditorModel) handleKey(msg tea.KeyMsg) (*EditorModel, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m, func() tea.Msg { return EditorDoneMsg{Cancelled: true} }
	case "enter":
		cfg, err := m.editor.Config()
		if err != nil {
			// Sent as drafted so the batch reports the validation failure.
			cfg = m.editor.Draft()
		}
		return m, func() tea.Msg { return EditorDoneMsg{Config: cfg} }
	case "tab":
		if m.text.Focused() {
			m.text.Blur()
		} else {
			return m, m.text.Focus()
		}
		return m, nil
	}

	if m.text.Focused() {
		var cmd tea.Cmd
		m.text, cmd = m.text.Update(msg)
		m.editor.SetText(m.text.Value())
		return m, cmd
	}

	mapper := m.editor.Mapper()
	switch key := msg.String(); key {
	case "left", "h":
		mapper.Nudge(-1, 0)
	case "right", "l":
		mapper.Nudge(1, 0)
	case "up", "k":
		mapper.Nudge(0, -1)
	case "down", "j":
		mapper.Nudge(0, 1)
	case "1", "2", "3", "4", "5":
		anchors := watermark.Anchors()
		a := anchors[int(key[0]-'1')]
		if err := mapper.SelectAnchor(a); err == nil {
			m.status = "anchor " + string(a)
		}
	case "r":
		m.editor.AdjustRotation(15)
	case "R":
		m.editor.AdjustRotation(-15)
	case "o":
		m.editor.AdjustOpacity(0.1)
	case "O":
		m.editor.AdjustOpacity(-0.1)
	case "+", "=":
		m.editor.SetFontSize(m.editor.Draft().FontSize + 2)
	case "-":
		m.editor.SetFontSize(max(m.editor.Draft().FontSize-2, 0))
	case "c":
		m.palette = (m.palette + 1) % len(watermarkPalette)
		if err := m.editor.SetColor(watermarkPalette[m.palette]); err != nil {
			m.status = err.Error()
		}
	}
	return m, nil
}

// markerCell returns the cell, relative to the preview origin, under the
// current placement.
func (m *EditorModel) markerCell() (int, int) {
	natural := watermark.ToNatural(m.editor.Mapper().Position(), m.size)
	col := min(int(natural.X), m.size.Width-1)
	row := min(int(natural.Y)/2, (m.size.Height+1)/2-1)
	return max(col, 0), max(row, 0)
}

// renderPreview draws the image (or an empty frame) with the watermark
// marker blended in at its opacity.
func (m *EditorModel) renderPreview() []string {
	cfg := m.editor.Draft()
	mark, err := colorful.Hex(cfg.Color)
	if err != nil {
		mark = colorful.Color{R: 1, G: 1, B: 1}
	}
	mc, mr := m.markerCell()
	rows := (m.size.Height + 1) / 2
	frame, _ := colorful.Hex("#313244")

	lines := make([]string, rows)
	for r := range rows {
		var sb strings.Builder
		for c := range m.size.Width {
			top, bottom := frame, frame
			if m.pixels != nil {
				b := m.pixels.Bounds()
				top = pixelColor(m.pixels.At(b.Min.X+c, b.Min.Y+2*r), frame)
				if 2*r+1 < m.size.Height {
					bottom = pixelColor(m.pixels.At(b.Min.X+c, b.Min.Y+2*r+1), frame)
				} else {
					bottom = top
				}
			}
			if c == mc && r == mr {
				fg := top.BlendRgb(mark, cfg.Opacity)
				sb.WriteString(lipgloss.NewStyle().
					Foreground(lipgloss.Color(fg.Hex())).
					Background(lipgloss.Color(bottom.Hex())).
					Bold(true).
					Render("◆"))
				continue
			}
			sb.WriteString(lipgloss.NewStyle().
				Foreground(lipgloss.Color(top.Hex())).
				Background(lipgloss.Color(bottom.Hex())).
				Render("▀"))
		}
		lines[r] = sb.String()
	}
	return lines
}

func pixelColor(c color.Color, fallback colorful.Color) colorful.Color {
	cc, ok := colorful.MakeColor(c)
	if !ok {
		return fallback
	}
	return cc
}

// View renders the editor full screen.
func (m *EditorModel) View() string {
	var b strings.Builder
	b.WriteString("  " + m.styles.Title.UnsetMarginBottom().Render("Watermark "+m.file) + "\n\n")

	pad := strings.Repeat(" ", previewLeft)
	for _, line := range m.renderPreview() {
		b.WriteString(pad + line + "\n")
	}
	b.WriteString("\n")

	cfg := m.editor.Draft()
	mapper := m.editor.Mapper()
	pos := mapper.Position()
	swatch := lipgloss.NewStyle().Background(lipgloss.Color(cfg.Color)).Render("  ")

	b.WriteString(fmt.Sprintf("  %s %s\n", m.styles.Muted.Render("Text:"), m.text.View()))
	font := "auto"
	if cfg.FontSize > 0 {
		font = fmt.Sprintf("%dpt", cfg.FontSize)
	}
	b.WriteString(fmt.Sprintf("  %s %5.1f%%, %5.1f%%   %s %s %s   %s %+.0f°   %s %.1f   %s %s   %s\n",
		m.styles.Muted.Render("Position:"), pos.X, pos.Y,
		m.styles.Muted.Render("Colour:"), swatch, cfg.Color,
		m.styles.Muted.Render("Rotation:"), cfg.Rotation,
		m.styles.Muted.Render("Opacity:"), cfg.Opacity,
		m.styles.Muted.Render("Font:"), font,
		m.styles.Muted.Render(mapper.State().String())))
	if m.status != "" {
		b.WriteString("  " + m.styles.Muted.Render(m.status) + "\n")
	}
	b.WriteString("\n" + m.renderHelp())
	return b.String()
}

func (m *EditorModel) renderHelp() string {
	keys := []struct{ key, desc string }{
		{"drag", "place"},
		{"tab", "text/placement"},
		{"arrows", "nudge"},
		{"1-5", "anchors"},
		{"c", "colour"},
		{"r/R", "rotate"},
		{"o/O", "opacity"},
		{"+/-", "font"},
		{"enter", "apply"},
		{"esc", "cancel"},
	}
	if m.text.Focused() {
		keys = keys[:2]
		keys = append(keys, struct{ key, desc string }{"enter", "apply"}, struct{ key, desc string }{"esc", "cancel"})
	}
	var parts []string
	for _, k := range keys {
		parts = append(parts, m.styles.HelpKey.Render(k.key)+" "+m.styles.HelpDesc.Render(k.desc))
	}
	return "  " + strings.Join(parts, "  •  ")
}
