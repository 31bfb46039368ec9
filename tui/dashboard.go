package tui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/imagepress/imagepress"
	"github.com/imagepress/imagepress/download"
	"github.com/imagepress/imagepress/notify"
	"github.com/imagepress/imagepress/orchestrator"
	"github.com/imagepress/imagepress/session"
	"github.com/imagepress/imagepress/tracker"
	"github.com/imagepress/imagepress/watermark"
)

// DashboardConfig holds configuration for the dashboard.
type DashboardConfig struct {
	Title string

	// Files are uploaded when the dashboard starts.
	Files []string

	// Compression settings used by the 'c' key; 'f' toggles the format.
	Format  imagepress.Format
	Quality float64

	// Ops is the basic operation applied by the 'b' key.
	Ops imagepress.OpsSpec

	// Watermark is the editor's starting configuration.
	Watermark imagepress.WatermarkConfig

	// ExportTarget describes where 'e' writes files, for display.
	ExportTarget string

	// Variant is exported by 'e' instead of the current state's selection
	// when set. 'v' cycles it.
	Variant imagepress.VariantKind

	// Timeout bounds each batch; zero means no limit.
	Timeout time.Duration

	// MaxNotices caps the notification history.
	MaxNotices int
}

// DefaultDashboardConfig returns default dashboard configuration.
func DefaultDashboardConfig() DashboardConfig {
	grayscale := struct{}{}
	return DashboardConfig{
		Title:      "imagepress",
		Format:     imagepress.FormatWebP,
		Quality:    0.8,
		Ops:        imagepress.OpsSpec{Grayscale: &grayscale},
		Watermark:  imagepress.DefaultWatermarkConfig(),
		MaxNotices: 200,
	}
}

// Messages produced by the dashboard's commands.
type (
	eventMsg struct{ event notify.Event }

	uploadDoneMsg struct {
		report session.UploadReport
		err    error
	}

	batchDoneMsg struct {
		report orchestrator.Report
		err    error
	}

	exportDoneMsg struct {
		report download.Report
		err    error
	}

	deleteDoneMsg struct {
		imageID string
		err     error
	}
)

// DashboardModel is the main TUI model.
type DashboardModel struct {
	cfg      DashboardConfig
	ctx      context.Context
	session  *session.Session
	exporter *download.Exporter

	width  int
	height int

	spinner  spinner.Model
	noticeVw viewport.Model
	progress *BatchProgress
	editor   *EditorModel

	events      chan notify.Event
	unsubscribe func()

	records  []imagepress.ImageRecord
	state    imagepress.OperationKind
	selected int
	notices  []notify.Event
	running  int

	styles    *Styles
	startTime time.Time
	quitting  bool
}

// NewDashboardModel builds the model and subscribes it to the session's
// notifications. Call Close when the program ends.
func NewDashboardModel(ctx context.Context, s *session.Session, exporter *download.Exporter, cfg DashboardConfig) *DashboardModel {
	if cfg.MaxNotices <= 0 {
		cfg.MaxNotices = 200
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorInfo)

	m := &DashboardModel{
		cfg:       cfg,
		ctx:       ctx,
		session:   s,
		exporter:  exporter,
		spinner:   sp,
		noticeVw:  viewport.New(80, 8),
		progress:  NewBatchProgress(),
		events:    make(chan notify.Event, 256),
		styles:    DefaultStyles(),
		startTime: time.Now(),
	}
	m.unsubscribe = s.Notices().Subscribe(m.enqueue)
	m.refresh()
	return m
}

// enqueue runs on producer goroutines. Progress events are dropped when
// the UI falls behind; notices are not.
func (m *DashboardModel) enqueue(e notify.Event) {
	if e.Type == notify.EventNotice {
		select {
		case m.events <- e:
		case <-m.ctx.Done():
		}
		return
	}
	select {
	case m.events <- e:
	default:
		debugLog("dropped %s event for batch %s", e.Type, e.BatchID)
	}
}

// Close detaches the model from the session.
func (m *DashboardModel) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// Init starts the spinner, the event listener and the initial upload.
func (m *DashboardModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.listenForEvents()}
	if len(m.cfg.Files) > 0 {
		cmds = append(cmds, m.upload(m.cfg.Files))
	}
	return tea.Batch(cmds...)
}

// listenForEvents waits for the next notification and hands it to Update,
// which re-arms the listener.
func (m *DashboardModel) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		select {
		case e := <-m.events:
			return eventMsg{event: e}
		case <-m.ctx.Done():
			return nil
		}
	}
}

// Update handles messages.
func (m *DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.noticeVw.Width = max(msg.Width-6, 20)
		m.progress.SetWidth(msg.Width - 6)

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		if m.editor != nil {
			var cmd tea.Cmd
			m.editor, cmd = m.editor.Update(msg)
			return m, cmd
		}
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		if m.editor != nil {
			m.editor, _ = m.editor.Update(msg)
		}
		return m, nil

	case PreviewLoadedMsg:
		if m.editor != nil {
			m.editor, _ = m.editor.Update(msg)
		}

	case EditorDoneMsg:
		m.editor = nil
		if !msg.Cancelled {
			m.cfg.Watermark = msg.Config
			cmds = append(cmds, m.runBatch(func(ctx context.Context) (orchestrator.Report, error) {
				return m.session.Watermark(ctx, msg.Config)
			}))
		}

	case eventMsg:
		m.applyEvent(msg.event)
		cmds = append(cmds, m.listenForEvents())

	case uploadDoneMsg:
		m.running--
		m.refresh()

	case batchDoneMsg:
		m.running--
		if msg.err != nil {
			debugLog("batch ended: %v", msg.err)
		}
		m.refresh()

	case exportDoneMsg:
		m.running--
		if msg.err == nil && msg.report.Failed == 0 && len(msg.report.Items) > 0 {
			m.addNotice(notify.LevelInfo, fmt.Sprintf("Exported %d file(s) to %s", len(msg.report.Items), m.cfg.ExportTarget))
		}

	case deleteDoneMsg:
		m.running--
		m.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	default:
		if m.editor != nil {
			var cmd tea.Cmd
			m.editor, cmd = m.editor.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *DashboardModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "j", "down":
		if m.selected < len(m.records)-1 {
			m.selected++
		}
	case "k", "up":
		if m.selected > 0 {
			m.selected--
		}
	case "g":
		m.selected = 0
	case "G":
		m.selected = max(len(m.records)-1, 0)

	case "f":
		if m.cfg.Format == imagepress.FormatWebP {
			m.cfg.Format = imagepress.FormatJPEG
		} else {
			m.cfg.Format = imagepress.FormatWebP
		}
	case "+", "=":
		m.cfg.Quality = min(m.cfg.Quality+0.1, 1)
	case "-":
		m.cfg.Quality = max(m.cfg.Quality-0.1, 0.1)

	case "c":
		format, quality := m.cfg.Format, m.cfg.Quality
		return m, m.runBatch(func(ctx context.Context) (orchestrator.Report, error) {
			return m.session.Compress(ctx, format, quality)
		})

	case "b":
		ops := m.cfg.Ops
		return m, m.runBatch(func(ctx context.Context) (orchestrator.Report, error) {
			return m.session.BasicOperation(ctx, ops)
		})

	case "w":
		rec, ok := m.current()
		if !ok {
			// Lets the batch report that there is nothing to watermark.
			cfg := m.cfg.Watermark
			return m, m.runBatch(func(ctx context.Context) (orchestrator.Report, error) {
				return m.session.Watermark(ctx, cfg)
			})
		}
		m.editor = NewEditorModel(rec, m.cfg.Watermark, m.width, m.height, m.styles)
		return m, tea.Batch(m.loadPreview(rec.ImageID), textinput.Blink)

	case "v":
		m.cfg.Variant = nextVariant(m.cfg.Variant)
	case "e":
		return m, m.export()

	case "x":
		if rec, ok := m.current(); ok {
			return m, m.delete(rec.ImageID)
		}

	case "pgup":
		m.noticeVw.ScrollUp(m.noticeVw.Height)
	case "pgdown":
		m.noticeVw.ScrollDown(m.noticeVw.Height)
	}
	return m, nil
}

// nextVariant cycles auto, then every variant kind, then auto again.
func nextVariant(v imagepress.VariantKind) imagepress.VariantKind {
	if v == "" {
		return imagepress.AllVariants[0]
	}
	for i, k := range imagepress.AllVariants {
		if k == v && i+1 < len(imagepress.AllVariants) {
			return imagepress.AllVariants[i+1]
		}
	}
	return ""
}

func (m *DashboardModel) current() (imagepress.ImageRecord, bool) {
	if m.selected < 0 || m.selected >= len(m.records) {
		return imagepress.ImageRecord{}, false
	}
	return m.records[m.selected], true
}

// refresh reloads the collection and tracker state from the session.
func (m *DashboardModel) refresh() {
	m.records = m.session.Store().Records()
	m.state = m.session.Tracker().State()
	if m.selected >= len(m.records) {
		m.selected = max(len(m.records)-1, 0)
	}
}

func (m *DashboardModel) applyEvent(e notify.Event) {
	m.progress.Apply(e)
	if e.Type == notify.EventNotice {
		m.notices = append(m.notices, e)
		if len(m.notices) > m.cfg.MaxNotices {
			m.notices = m.notices[len(m.notices)-m.cfg.MaxNotices:]
		}
		m.noticeVw.SetContent(m.renderNotices())
		m.noticeVw.GotoBottom()
	}
	if e.Type == notify.EventBatchComplete {
		m.refresh()
	}
}

// addNotice records a notice that did not come from the session.
func (m *DashboardModel) addNotice(level notify.Level, message string) {
	m.applyEvent(notify.Event{Type: notify.EventNotice, Level: level, Scope: notify.ScopeBatch, Timestamp: time.Now(), Message: message})
}

func (m *DashboardModel) opContext() (context.Context, context.CancelFunc) {
	if m.cfg.Timeout > 0 {
		return context.WithTimeout(m.ctx, m.cfg.Timeout)
	}
	return context.WithCancel(m.ctx)
}

func (m *DashboardModel) upload(paths []string) tea.Cmd {
	m.running++
	return func() tea.Msg {
		ctx, cancel := m.opContext()
		defer cancel()
		report, err := m.session.Upload(ctx, paths...)
		return uploadDoneMsg{report: report, err: err}
	}
}

func (m *DashboardModel) runBatch(fn func(context.Context) (orchestrator.Report, error)) tea.Cmd {
	m.running++
	return func() tea.Msg {
		ctx, cancel := m.opContext()
		defer cancel()
		report, err := fn(ctx)
		return batchDoneMsg{report: report, err: err}
	}
}

func (m *DashboardModel) export() tea.Cmd {
	if m.exporter == nil {
		m.addNotice(notify.LevelWarning, "No export target configured")
		return nil
	}
	records, state, variant := m.records, m.state, m.cfg.Variant
	m.running++
	return func() tea.Msg {
		ctx, cancel := m.opContext()
		defer cancel()
		report, err := m.exporter.ExportVariant(ctx, records, state, variant)
		return exportDoneMsg{report: report, err: err}
	}
}

func (m *DashboardModel) delete(imageID string) tea.Cmd {
	m.running++
	return func() tea.Msg {
		ctx, cancel := m.opContext()
		defer cancel()
		return deleteDoneMsg{imageID: imageID, err: m.session.Delete(ctx, imageID)}
	}
}

func (m *DashboardModel) loadPreview(imageID string) tea.Cmd {
	maxW, maxH := m.editor.PreviewBounds()
	return func() tea.Msg {
		ctx, cancel := m.opContext()
		defer cancel()
		data, _, err := m.session.Preview(ctx, imageID)
		if err != nil {
			return PreviewLoadedMsg{ImageID: imageID, Err: err}
		}
		p, err := watermark.ProbeReader(bytes.NewReader(data), maxW, maxH)
		return PreviewLoadedMsg{ImageID: imageID, Preview: p, Err: err}
	}
}

// View renders the dashboard, or the editor while one is open.
func (m *DashboardModel) View() string {
	if m.quitting {
		return ""
	}
	if m.editor != nil {
		return m.editor.View()
	}

	var b strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary).
		Background(ColorBackground).
		Padding(0, 2).
		Width(m.width)

	activity := m.styles.Success.Render("●")
	if m.running > 0 {
		activity = m.spinner.View()
	}
	title := fmt.Sprintf("%s  %s  %s %s  Uptime: %s",
		activity,
		m.cfg.Title,
		m.styles.Muted.Render("showing:"),
		m.state.Label(),
		FormatDuration(time.Since(m.startTime)))
	b.WriteString(titleStyle.Render(title) + "\n\n")

	halfWidth := max((m.width-4)/2, 30)
	top := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderImagesPanel(halfWidth+12),
		"  ",
		m.renderSettingsPanel(halfWidth-14))
	b.WriteString(top + "\n")

	b.WriteString(m.styles.Panel.Width(max(m.width-4, 40)).Render(
		m.styles.SectionHead.Render("Batch")+"\n"+m.progress.View(m.styles)) + "\n")

	b.WriteString(m.renderNoticesPanel() + "\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m *DashboardModel) renderImagesPanel(width int) string {
	content := RenderImagesTable(m.records, m.state, m.selected, m.styles)
	return m.styles.ActivePanel.Width(width).Render(
		m.styles.SectionHead.Render(fmt.Sprintf("Images (%d)", len(m.records))) + "\n" + content)
}

func (m *DashboardModel) renderSettingsPanel(width int) string {
	var b strings.Builder
	row := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", m.styles.Muted.Render(fmt.Sprintf("%-11s", label)), value)
	}
	row("State:", string(m.state))
	row("Variant:", string(tracker.Selected(m.state)))
	row("Compress:", fmt.Sprintf("%s q=%.1f", m.cfg.Format, m.cfg.Quality))
	row("Basic op:", strings.Join(m.cfg.Ops.Names(), "+"))
	text := m.cfg.Watermark.Text
	if text == "" {
		text = m.styles.Muted.Render("(none)")
	}
	row("Watermark:", text)
	exportAs := "auto"
	if m.cfg.Variant != "" {
		exportAs = m.styles.Variant(m.cfg.Variant)
	}
	row("Export as:", exportAs)
	if m.cfg.ExportTarget != "" {
		row("Export to:", m.cfg.ExportTarget)
	}
	row("Running:", fmt.Sprintf("%d", m.running))
	return m.styles.Panel.Width(width).Render(m.styles.SectionHead.Render("Settings") + "\n" + b.String())
}

func (m *DashboardModel) renderNoticesPanel() string {
	height := 8
	if m.height > 0 {
		height = max(m.height/3-4, 4)
	}
	m.noticeVw.Height = height
	if len(m.notices) == 0 {
		m.noticeVw.SetContent(m.styles.Muted.Render("  No notifications yet"))
	}
	return m.styles.Panel.Width(max(m.width-4, 40)).Render(
		m.styles.SectionHead.Render("Notifications") + "\n" + m.noticeVw.View())
}

func (m *DashboardModel) renderNotices() string {
	var b strings.Builder
	for _, e := range m.notices {
		fmt.Fprintf(&b, "  %s %s %s\n",
			m.styles.Muted.Render(e.Timestamp.Format("15:04:05")),
			m.styles.LevelIcon(e.Level),
			m.styles.LevelStyle(e.Level).Render(e.Message))
	}
	return b.String()
}

func (m *DashboardModel) renderHelp() string {
	keys := []struct{ key, desc string }{
		{"j/k", "select"},
		{"c", "compress"},
		{"f", "format"},
		{"+/-", "quality"},
		{"w", "watermark"},
		{"b", "basic op"},
		{"e", "export"},
		{"v", "export variant"},
		{"x", "delete"},
		{"q", "quit"},
	}
	var parts []string
	for _, k := range keys {
		parts = append(parts, m.styles.HelpKey.Render(k.key)+" "+m.styles.HelpDesc.Render(k.desc))
	}
	return lipgloss.NewStyle().Padding(0, 2).Render(strings.Join(parts, "  •  "))
}

// RunDashboard runs the dashboard until the user quits or ctx ends. The
// session is closed on return, so batches still in flight are discarded.
func RunDashboard(ctx context.Context, s *session.Session, exporter *download.Exporter, cfg DashboardConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewDashboardModel(ctx, s, exporter, cfg)
	defer model.Close()
	defer s.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
