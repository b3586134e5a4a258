package client

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	headerHeight = 2
	inputHeight  = 2
)

// chatSession is the part of Session the interface drives.
type chatSession interface {
	Send(text string) error
	History() []string
	Updates() <-chan struct{}
	Err() error
}

type (
	historyMsg      struct{}
	disconnectedMsg struct{ err error }
	sendErrMsg      struct{ err error }
)

// Model is the bubbletea model of the chat window: the history above a
// single-line input.
type Model struct {
	session  chatSession
	title    string
	viewport viewport.Model
	input    textinput.Model

	history      []string
	ready        bool
	disconnected bool
	err          error
}

// NewModel creates the chat window for session.
func NewModel(session chatSession, title string) Model {
	input := textinput.New()
	input.Placeholder = "Type a message or !commands (Enter to send, Ctrl+C to quit)"
	input.Focus()

	return Model{
		session: session,
		title:   title,
		input:   input,
		history: session.History(),
	}
}

// Run shows the chat window for session until the user quits.
func Run(session *Session, title string) error {
	p := tea.NewProgram(NewModel(session, title), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run chat window: %w", err)
	}
	return nil
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForUpdate(m.session))
}

func waitForUpdate(session chatSession) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-session.Updates(); !ok {
			return disconnectedMsg{err: session.Err()}
		}
		return historyMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}
		m.input, tiCmd = m.input.Update(msg)

	case tea.WindowSizeMsg:
		height := msg.Height - headerHeight - inputHeight
		if height < 1 {
			height = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.input.Width = msg.Width - 4
		m.refresh()

	case historyMsg:
		m.history = m.session.History()
		m.refresh()
		return m, waitForUpdate(m.session)

	case disconnectedMsg:
		m.disconnected = true
		m.err = msg.err
		m.history = m.session.History()
		m.refresh()
		return m, nil

	case sendErrMsg:
		m.err = msg.err
		return m, nil
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	m.input.Reset()
	if m.disconnected && text == exitCommand {
		return m, tea.Quit
	}
	if text == "" || m.disconnected {
		return m, nil
	}

	if err := m.session.Send(text); err != nil {
		return m, func() tea.Msg { return sendErrMsg{err: err} }
	}
	if text == exitCommand {
		return m, tea.Quit
	}

	m.history = m.session.History()
	m.refresh()
	return m, nil
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.history, "\n"))
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Connecting..."
	}

	var b strings.Builder
	b.WriteString(m.title)
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	switch {
	case m.disconnected && m.err != nil:
		fmt.Fprintf(&b, "Disconnected: %v (Ctrl+C to quit)", m.err)
	case m.disconnected:
		b.WriteString("Disconnected from server. (Ctrl+C to quit)")
	case m.err != nil:
		fmt.Fprintf(&b, "Error: %v\n%s", m.err, m.input.View())
	default:
		b.WriteString(m.input.View())
	}
	return b.String()
}
