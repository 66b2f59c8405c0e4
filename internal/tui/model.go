package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/discovery/internal/discovery"
	"github.com/muurk/discovery/internal/ssdp"
)

// Engine is the part of discovery.Engine the watch screen drives
type Engine interface {
	Snapshot() []ssdp.ServiceRecord
	Session() string
	Subscribe() *discovery.Subscription
	Broadcast() <-chan error
	Reset()
}

// Namer resolves the name shown for a service. *config.Registry implements
// it with user nicknames.
type Namer interface {
	DisplayName(rec ssdp.ServiceRecord) string
}

type recordNamer struct{}

func (recordNamer) DisplayName(rec ssdp.ServiceRecord) string { return rec.DisplayName() }

// Options configures the watch screen
type Options struct {
	Names               Namer
	RebroadcastInterval time.Duration // 0 = only on request
}

// Messages for async operations
type eventMsg discovery.Event
type feedClosedMsg struct{}
type broadcastDoneMsg struct{ err error }
type rebroadcastMsg struct{}

// keyMap defines key bindings for the watch screen
type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Detail    key.Binding
	Back      key.Binding
	Broadcast key.Binding
	Rescan    key.Binding
	Quit      key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Detail, k.Broadcast, k.Rescan, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Detail, k.Back},
		{k.Broadcast, k.Rescan, k.Quit},
	}
}

// detailKeyMap is shown while a payload is open
type detailKeyMap struct {
	Scroll key.Binding
	Back   key.Binding
	Quit   key.Binding
}

func (k detailKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Scroll, k.Back, k.Quit}
}

func (k detailKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Scroll, k.Back, k.Quit}}
}

func newKeyMap() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "move up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "move down"),
		),
		Detail: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "payload"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Broadcast: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "broadcast"),
		),
		Rescan: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reset + rescan"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// serviceItem wraps a ServiceRecord for use with bubbles/list
type serviceItem struct {
	record ssdp.ServiceRecord
	name   string
}

func (i serviceItem) FilterValue() string {
	return i.name + " " + i.record.USN + " " + i.record.Server
}

func (i serviceItem) Title() string { return i.name }

func (i serviceItem) Description() string {
	desc := fmt.Sprintf("%s • %s", i.record.Server, i.record.Location)
	if i.record.Expired(time.Now()) {
		desc += " • expired"
	}
	return desc
}

// Model is the live service list. It subscribes to the engine once and
// keeps reading events until the engine stops or the user quits.
type Model struct {
	engine  Engine
	names   Namer
	sub     *discovery.Subscription
	session string
	seen    map[string]bool

	interval time.Duration

	list       list.Model
	detail     viewport.Model
	showDetail bool
	spinner    spinner.Model
	help       help.Model
	keys       keyMap
	detailKeys detailKeyMap

	searching bool
	stopped   bool
	lastErr   error
	lastSent  time.Time

	width  int
	height int
}

// New creates the watch model. The subscription is taken before the
// snapshot so no service found in between is lost; duplicates are dropped
// by USN.
func New(engine Engine, opts Options) Model {
	names := opts.Names
	if names == nil {
		names = recordNamer{}
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	services := list.New([]list.Item{}, list.NewDefaultDelegate(), DefaultWidth-4, DefaultHeight-chromeHeight)
	services.Title = "Discovered Services"
	services.Styles.Title = TitleStyle
	services.SetShowStatusBar(false)
	services.SetShowHelp(false)
	services.SetFilteringEnabled(true)

	m := Model{
		engine:   engine,
		names:    names,
		sub:      engine.Subscribe(),
		session:  engine.Session(),
		seen:     make(map[string]bool),
		interval: opts.RebroadcastInterval,
		list:     services,
		detail:   viewport.New(DefaultWidth-4, DefaultHeight-chromeHeight),
		spinner:  s,
		help:     help.New(),
		keys:     newKeyMap(),
		detailKeys: detailKeyMap{
			Scroll: key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "scroll")),
			Back:   key.NewBinding(key.WithKeys("esc", "enter"), key.WithHelp("esc", "back")),
			Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		},
	}

	for _, rec := range engine.Snapshot() {
		m.addRecord(rec)
	}
	return m
}

// Init sends the first M-SEARCH and starts reading events
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		waitForEvent(m.sub),
		broadcast(m.engine),
		m.spinner.Tick,
	}
	if m.interval > 0 {
		cmds = append(cmds, scheduleRebroadcast(m.interval))
	}
	return tea.Batch(cmds...)
}

// Close releases the subscription
func (m Model) Close() {
	m.sub.Close()
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width-4, max(msg.Height-chromeHeight, 3))
		m.detail.Width = msg.Width - 4
		m.detail.Height = max(msg.Height-chromeHeight, 3)
		return m, nil

	case tea.KeyMsg:
		if m.showDetail {
			return m.updateDetail(msg)
		}
		// Typing into the filter must not trigger shortcuts
		if m.list.FilterState() != list.Filtering {
			if next, cmd, handled := m.handleKey(msg); handled {
				return next, cmd
			}
		}

	case eventMsg:
		ev := discovery.Event(msg)
		if ev.Session == m.session {
			if ev.IsError() {
				m.lastErr = ev.Err
			} else {
				cmd = m.addRecord(ev.Record)
			}
		}
		return m, tea.Batch(cmd, waitForEvent(m.sub))

	case feedClosedMsg:
		m.stopped = true
		m.searching = false
		return m, nil

	case broadcastDoneMsg:
		m.searching = false
		m.lastErr = msg.err
		if msg.err == nil {
			m.lastSent = time.Now()
		}
		return m, nil

	case rebroadcastMsg:
		if m.stopped {
			return m, nil
		}
		m.searching = true
		return m, tea.Batch(broadcast(m.engine), scheduleRebroadcast(m.interval))

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit, true

	case key.Matches(msg, m.keys.Detail):
		item, ok := m.list.SelectedItem().(serviceItem)
		if !ok {
			return m, nil, true
		}
		m.showDetail = true
		m.detail.SetContent(renderRecord(item))
		m.detail.GotoTop()
		return m, nil, true

	case key.Matches(msg, m.keys.Broadcast):
		if m.stopped {
			return m, nil, true
		}
		m.searching = true
		return m, broadcast(m.engine), true

	case key.Matches(msg, m.keys.Rescan):
		if m.stopped {
			return m, nil, true
		}
		m.engine.Reset()
		m.session = m.engine.Session()
		m.seen = make(map[string]bool)
		m.lastErr = nil
		m.searching = true
		return m, tea.Batch(m.list.SetItems(nil), broadcast(m.engine)), true
	}
	return m, nil, false
}

func (m Model) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.detailKeys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.detailKeys.Back):
		m.showDetail = false
		return m, nil
	}

	var cmd tea.Cmd
	m.detail, cmd = m.detail.Update(msg)
	return m, cmd
}

// addRecord appends rec unless its USN is already listed
func (m *Model) addRecord(rec ssdp.ServiceRecord) tea.Cmd {
	if m.seen[rec.USN] {
		return nil
	}
	m.seen[rec.USN] = true
	item := serviceItem{record: rec, name: m.names.DisplayName(rec)}
	return m.list.InsertItem(len(m.list.Items()), item)
}

// Services returns the listed records in discovery order
func (m Model) Services() []ssdp.ServiceRecord {
	items := m.list.Items()
	out := make([]ssdp.ServiceRecord, 0, len(items))
	for _, it := range items {
		if s, ok := it.(serviceItem); ok {
			out = append(out, s.record)
		}
	}
	return out
}

// View renders the watch screen
func (m Model) View() string {
	var content string
	var helpText string

	if m.showDetail {
		content = m.detail.View()
		helpText = m.help.View(m.detailKeys)
	} else {
		content = lipgloss.JoinVertical(lipgloss.Left, m.statusLine(), "", m.renderList())
		helpText = m.help.View(m.keys)
	}

	width, height := m.width, m.height
	if width == 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	return RenderApplicationContainer(content, helpText, width, height)
}

func (m Model) statusLine() string {
	var b strings.Builder

	switch {
	case m.stopped:
		b.WriteString(RenderWarning("discovery stopped"))
	case m.searching:
		b.WriteString(m.spinner.View() + " searching")
	default:
		b.WriteString(StatusStyle.Render("● listening"))
	}

	b.WriteString(SubtitleStyle.Render(fmt.Sprintf("  %d services • session %s", len(m.list.Items()), shortSession(m.session))))

	if !m.lastSent.IsZero() {
		b.WriteString(SubtitleStyle.Render(" • last M-SEARCH " + m.lastSent.Format("15:04:05")))
	}
	if m.lastErr != nil {
		b.WriteString("\n")
		b.WriteString(RenderError(m.lastErr.Error()))
	}
	return b.String()
}

func (m Model) renderList() string {
	if len(m.list.Items()) == 0 {
		return "  " + SubtitleStyle.Render("No services yet. Press b to search again.")
	}
	return m.list.View()
}

func renderRecord(item serviceItem) string {
	rec := item.record
	var b strings.Builder

	b.WriteString(TitleStyle.Render(item.name))
	b.WriteString("\n\n")

	field := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(LabelStyle.Render(label) + value + "\n")
	}
	field("USN", rec.USN)
	field("Location", rec.Location)
	field("Server", rec.Server)
	field("ST", rec.SearchTarget)
	field("From", rec.Source)
	field("Expires", rec.Expiry.Format(time.RFC3339))

	if rec.Payload != "" {
		b.WriteString("\n")
		b.WriteString(PayloadStyle.Render(strings.TrimRight(strings.ReplaceAll(rec.Payload, "\r\n", "\n"), "\n")))
	}
	return b.String()
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// waitForEvent blocks for the next event of sub
func waitForEvent(sub *discovery.Subscription) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub.C()
		if !ok {
			return feedClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func broadcast(engine Engine) tea.Cmd {
	return func() tea.Msg {
		return broadcastDoneMsg{err: <-engine.Broadcast()}
	}
}

func scheduleRebroadcast(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(time.Time) tea.Msg {
		return rebroadcastMsg{}
	})
}

// Run shows the watch screen until the user quits
func Run(engine Engine, opts Options) error {
	m := New(engine, opts)
	defer m.Close()

	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("watch screen failed: %w", err)
	}
	return nil
}
