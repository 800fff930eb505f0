package chat

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
)

const (
	fps        = 30
	gaugeWidth = 20
)

type keyMap struct {
	Send  key.Binding
	Reset key.Binding
	Up    key.Binding
	Down  key.Binding
	Quit  key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Reset, k.Up, k.Down, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func defaultKeyMap() keyMap {
	return keyMap{
		Send:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Reset: key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "new conversation")),
		Up:    key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
		Down:  key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "scroll down")),
		Quit:  key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "quit")),
	}
}

type styles struct {
	title lipgloss.Style
	user  lipgloss.Style
	bot   lipgloss.Style
	err   lipgloss.Style
	dim   lipgloss.Style
	panel lipgloss.Style
}

func defaultStyles() styles {
	brand := lipgloss.Color("99")
	return styles{
		title: lipgloss.NewStyle().Bold(true).Foreground(brand),
		user:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81")),
		bot:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		err:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		panel: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1),
	}
}

type frameMsg struct{}

func nextFrame() tea.Cmd {
	return tea.Tick(time.Second/fps, func(time.Time) tea.Msg { return frameMsg{} })
}

type replyMsg struct {
	text string
	err  error
}

type line struct {
	role string // "you", "bot", "error" or "info"
	text string
}

// Model is the bubbletea model for a chat session.
type Model struct {
	ctx     context.Context
	session *Session
	title   string

	input  textinput.Model
	view   viewport.Model
	spin   spinner.Model
	help   help.Model
	keys   keyMap
	styles styles

	lines  []line
	busy   bool
	width  int
	height int

	// gauge eases toward the session's context usage.
	spring    harmonica.Spring
	gauge     float64
	gaugeVel  float64
	animating bool
}

// NewModel returns a chat front end over s; title is shown in the header.
func NewModel(ctx context.Context, s *Session, title string) Model {
	in := textinput.New()
	in.Placeholder = "say something and press enter"
	in.CharLimit = 1000
	in.Prompt = "> "
	in.Focus()

	return Model{
		ctx:     ctx,
		session: s,
		title:   title,
		input:   in,
		view:    viewport.New(80, 16),
		spin:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:    help.New(),
		keys:    defaultKeyMap(),
		styles:  defaultStyles(),
		width:   80,
		height:  24,
		spring:  harmonica.NewSpring(harmonica.FPS(fps), 6.0, 1.0),
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) replyCmd(text string) tea.Cmd {
	ctx, s := m.ctx, m.session
	return func() tea.Msg {
		out, err := s.Reply(ctx, text)
		return replyMsg{text: out, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Reset):
			if !m.busy {
				m.session.Reset()
				m.lines = append(m.lines[:0], line{role: "info", text: "new conversation"})
				m.refresh()
				cmd := m.startGauge()
				return m, cmd
			}
			return m, nil
		case key.Matches(msg, m.keys.Up):
			m.view.PageUp()
			return m, nil
		case key.Matches(msg, m.keys.Down):
			m.view.PageDown()
			return m, nil
		case key.Matches(msg, m.keys.Send):
			text := strings.TrimSpace(m.input.Value())
			if m.busy || text == "" {
				return m, nil
			}
			m.input.Reset()
			m.busy = true
			m.lines = append(m.lines, line{role: "you", text: text})
			m.refresh()
			return m, tea.Batch(m.spin.Tick, m.replyCmd(text))
		}

	case replyMsg:
		m.busy = false
		if msg.err != nil {
			m.lines = append(m.lines, line{role: "error", text: msg.err.Error()})
		} else {
			m.lines = append(m.lines, line{role: "bot", text: msg.text})
		}
		m.refresh()
		cmd := m.startGauge()
		return m, cmd

	case frameMsg:
		target := m.session.ContextUsage()
		m.gauge, m.gaugeVel = m.spring.Update(m.gauge, m.gaugeVel, target)
		if math.Abs(m.gauge-target) < 1e-3 && math.Abs(m.gaugeVel) < 1e-3 {
			m.gauge, m.gaugeVel, m.animating = target, 0, false
			return m, nil
		}
		return m, nextFrame()

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) startGauge() tea.Cmd {
	if m.animating {
		return nil
	}
	m.animating = true
	return nextFrame()
}

func (m Model) gaugeView() string {
	v := min(1, max(0, m.gauge))
	filled := int(math.Round(v * gaugeWidth))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", gaugeWidth-filled)
	return m.styles.dim.Render(fmt.Sprintf("turn %d  context %s %3.0f%%", m.session.Turns(), bar, 100*v))
}

func (m *Model) layout() {
	m.view.Width = max(20, m.width-4)
	m.view.Height = max(5, m.height-8)
	m.input.Width = max(10, m.width-6)
	m.help.Width = m.width
	m.refresh()
}

// refresh re-renders the transcript into the viewport and scrolls to the end.
func (m *Model) refresh() {
	wrap := lipgloss.NewStyle().Width(max(10, m.view.Width-2))
	out := make([]string, 0, len(m.lines))
	for _, l := range m.lines {
		var label string
		switch l.role {
		case "you":
			label = m.styles.user.Render("you: ")
		case "bot":
			label = m.styles.bot.Render("bot: ")
		case "error":
			label = m.styles.err.Render("error: ")
		default:
			out = append(out, m.styles.dim.Render(wrap.Render(l.text)))
			continue
		}
		out = append(out, wrap.Render(label+l.text))
	}
	m.view.SetContent(strings.Join(out, "\n"))
	m.view.GotoBottom()
}

func (m Model) View() string {
	header := m.styles.title.Render(m.title) + "  " + m.gaugeView()
	status := m.input.View()
	if m.busy {
		status = m.spin.View() + m.styles.dim.Render(" generating…")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.styles.panel.Render(m.view.View()),
		status,
		m.help.View(m.keys),
	)
}

// Run starts a full-screen chat and blocks until the user quits or ctx ends.
func Run(ctx context.Context, s *Session, title string) error {
	p := tea.NewProgram(NewModel(ctx, s, title), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
