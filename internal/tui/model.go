package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/adminmcp/agent/internal/pipeline"
)

// maxScrollback bounds the in-memory terminal transcript.
const maxScrollback = 256 * 1024

type state int

const (
	// stateStreaming shows live terminal output only.
	stateStreaming state = iota
	// stateConfirming shows the modal prompt for the front of the
	// pending queue.
	stateConfirming
	// stateEditing shows the command edit input.
	stateEditing
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	promptBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("11")).
			Padding(0, 1)

	promptTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("11"))

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))
)

// pendingConfirm is one queued tutor-mode request.
type pendingConfirm struct {
	req   pipeline.Request
	reply chan pipeline.Confirmation
}

type model struct {
	title    string
	viewport viewport.Model
	ready    bool
	width    int
	height   int

	transcript strings.Builder

	state   state
	pending []pendingConfirm
	edit    textinput.Model
}

func newModel(title string) *model {
	return &model{title: title}
}

func (m *model) Init() tea.Cmd {
	return nil
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case outputMsg:
		m.appendOutput(msg)

	case confirmMsg:
		m.pending = append(m.pending, pendingConfirm{req: msg.req, reply: msg.reply})
		if m.state == stateStreaming {
			m.state = stateConfirming
		}

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.state == stateEditing {
		switch msg.String() {
		case "enter":
			m.resolveFront(pipeline.Confirmation{Decision: pipeline.DecisionEdit}, m.edit.Value())
			return m, nil
		case "esc":
			m.state = stateConfirming
			return m, nil
		case "ctrl+c":
			return m.quit()
		}
		var cmd tea.Cmd
		m.edit, cmd = m.edit.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m.quit()
	}

	if m.state == stateConfirming && len(m.pending) > 0 {
		switch msg.String() {
		case "a", "y":
			m.resolveFront(pipeline.Confirmation{Decision: pipeline.DecisionApprove}, "")
			return m, nil
		case "d", "n":
			m.resolveFront(pipeline.Confirmation{Decision: pipeline.DecisionDeny}, "")
			return m, nil
		case "e":
			m.edit = textinput.New()
			m.edit.SetValue(m.pending[0].req.Command)
			m.edit.CharLimit = 0
			m.edit.Width = max(20, m.width-8)
			m.edit.Focus()
			m.state = stateEditing
			return m, textinput.Blink
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// quit denies everything still pending and exits.
func (m *model) quit() (tea.Model, tea.Cmd) {
	for _, p := range m.pending {
		p.reply <- pipeline.Confirmation{Decision: pipeline.DecisionDeny}
	}
	m.pending = nil
	return m, tea.Quit
}

// resolveFront answers the front of the queue and advances to the next
// pending request, if any.
func (m *model) resolveFront(conf pipeline.Confirmation, edited string) {
	if conf.Decision == pipeline.DecisionEdit {
		conf.EditedCommand = edited
	}
	front := m.pending[0]
	m.pending = m.pending[1:]
	front.reply <- conf

	if len(m.pending) > 0 {
		m.state = stateConfirming
	} else {
		m.state = stateStreaming
	}
}

func (m *model) appendOutput(chunk []byte) {
	m.transcript.Write(chunk)
	if m.transcript.Len() > maxScrollback {
		trimmed := m.transcript.String()
		trimmed = trimmed[len(trimmed)-maxScrollback:]
		m.transcript.Reset()
		m.transcript.WriteString(trimmed)
	}
	if m.ready {
		atBottom := m.viewport.AtBottom()
		m.viewport.SetContent(m.wrappedTranscript())
		if atBottom {
			m.viewport.GotoBottom()
		}
	}
}

func (m *model) layout() {
	headerHeight := 1
	footerHeight := 1
	vpHeight := max(1, m.height-headerHeight-footerHeight)
	if !m.ready {
		m.viewport = viewport.New(m.width, vpHeight)
		m.viewport.YPosition = headerHeight
		m.viewport.SetContent(m.wrappedTranscript())
		m.viewport.GotoBottom()
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = vpHeight
		m.viewport.SetContent(m.wrappedTranscript())
	}
}

func (m *model) wrappedTranscript() string {
	content := strings.ReplaceAll(m.transcript.String(), "\r\n", "\n")
	if m.width > 0 {
		content = wordwrap.String(content, m.width)
	}
	return content
}

func (m *model) View() string {
	if !m.ready {
		return "\n  Loading..."
	}

	title := titleStyle.Render(m.title)
	line := strings.Repeat("─", max(0, m.width-lipgloss.Width(title)))
	header := lipgloss.JoinHorizontal(lipgloss.Center, title, infoStyle.Render(line))

	var footer string
	switch m.state {
	case stateConfirming:
		footer = m.confirmView()
	case stateEditing:
		footer = m.editView()
	default:
		footer = infoStyle.Render(" q: quit │ ↑/↓: scroll ")
	}

	return header + "\n" + m.viewport.View() + "\n" + footer
}

func (m *model) confirmView() string {
	front := m.pending[0]
	width := max(20, m.width-4)
	body := promptTitleStyle.Render("Approve command?") + "\n" +
		commandStyle.Render(wordwrap.String(front.req.Command, width)) + "\n" +
		infoStyle.Render("a: approve │ d: deny │ e: edit")
	box := promptBoxStyle.Width(width).Render(body)
	if n := len(m.pending) - 1; n > 0 {
		box += "\n" + infoStyle.Render(fmt.Sprintf(" %d more waiting ", n))
	}
	return box
}

func (m *model) editView() string {
	width := max(20, m.width-4)
	body := promptTitleStyle.Render("Edit command") + "\n" +
		m.edit.View() + "\n" +
		infoStyle.Render("enter: run edited │ esc: back")
	return promptBoxStyle.Width(width).Render(body)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
