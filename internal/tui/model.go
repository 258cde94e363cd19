// Package tui is the terminal lobby screen. The bubbletea update loop is the
// single UI context that owns the client agent's state.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cory-johannsen/mathblast/internal/client"
)

const (
	// transcriptLines is how many chat lines are shown.
	transcriptLines = 12
	inputWidth      = 48
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	connectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	offlineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	readyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	waitingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Bold(true)
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// eventMsg carries one lobby event into Update.
type eventMsg struct {
	event client.Event
}

// Model is the lobby screen.
type Model struct {
	agent  *client.Agent
	input  textinput.Model
	notice string
}

// New creates the lobby screen for agent. The agent should already have
// attempted to connect.
func New(agent *client.Agent) Model {
	input := textinput.New()
	input.Placeholder = "say something..."
	input.CharLimit = 200
	input.Width = inputWidth
	input.Focus()

	return Model{agent: agent, input: input}
}

// waitForEvent blocks on the agent's event channel and hands the next event to Update.
func waitForEvent(events <-chan client.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg{event: ev}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.agent.Events()))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.agent.Apply(msg.event)
		switch msg.event.Kind {
		case client.EventStart:
			m.notice = "Everyone is ready. Starting!"
		case client.EventDisconnected:
			m.notice = "Lost the lobby connection. Playing offline."
		}
		return m, waitForEvent(m.agent.Events())

	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "ctrl+c":
			_ = m.agent.Close()
			return m, tea.Quit
		case "enter":
			if text := strings.TrimSpace(m.input.Value()); text != "" {
				m.agent.SendChat(text)
				m.input.Reset()
			}
			return m, nil
		case "ctrl+r":
			m.agent.ToggleReady()
			return m, nil
		case "ctrl+l":
			m.agent.RequestList()
			return m, nil
		case "ctrl+s":
			m.agent.RequestStart()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("MathBlast Lobby"))
	b.WriteString("  ")
	if m.agent.Status() == client.StatusConnected {
		b.WriteString(connectedStyle.Render(m.agent.Status().String()))
	} else {
		b.WriteString(offlineStyle.Render(m.agent.Status().String()))
	}
	b.WriteString("\n\n")

	b.WriteString(boxStyle.Render(m.renderRoster()))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.renderTranscript()))
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice))
		b.WriteString("\n")
	}

	label := waitingStyle.Render("you: not ready")
	if m.agent.Ready() {
		label = readyStyle.Render("you: READY")
	}
	b.WriteString(label)
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter chat · ctrl+r ready · ctrl+l refresh · ctrl+s start? · esc quit"))
	return b.String()
}

func (m Model) renderRoster() string {
	roster := m.agent.Roster()
	if len(roster) == 0 {
		return waitingStyle.Render("waiting for players...")
	}
	lines := make([]string, 0, len(roster))
	for _, p := range roster {
		mark := waitingStyle.Render("waiting")
		if p.Ready {
			mark = readyStyle.Render("READY")
		}
		lines = append(lines, fmt.Sprintf("%-16s lvl %-3d %s", p.Name, p.Level, mark))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderTranscript() string {
	lines := m.agent.Transcript()
	if len(lines) == 0 {
		return waitingStyle.Render("no messages yet")
	}
	if len(lines) > transcriptLines {
		lines = lines[len(lines)-transcriptLines:]
	}
	return strings.Join(lines, "\n")
}
