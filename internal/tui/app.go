// Package tui renders the interactive conversation view: live transcript,
// speaking state, and the save-or-discard prompt once a conversation ends.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/reverie-voice/reverie/internal/conversation"
	"github.com/reverie-voice/reverie/pkg/audio"
	"github.com/reverie-voice/reverie/pkg/types"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true)
	agentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("70")).Bold(true)
)

// Config holds the dependencies and display settings for the TUI.
type Config struct {
	// Controller drives the conversation lifecycle.
	Controller *conversation.Controller

	// AgentID is the remote agent started on the start key.
	AgentID string

	// AgentName is the display name shown in the header. Falls back to
	// AgentID when empty.
	AgentName string

	// Gate, when non-nil, is the [PromptGate] whose microphone permission
	// requests this view renders and answers.
	Gate *PromptGate
}

type updateMsg conversation.Update

type permissionMsg struct{ req *permissionRequest }

type actionErrMsg struct{ err error }

type savedMsg struct{}

type discardedMsg struct{}

type model struct {
	ctrl      *conversation.Controller
	agentID   string
	agentName string

	width  int
	height int

	session     conversation.Session
	decision    *conversation.Decision
	gate        *PromptGate
	pendingPerm *permissionRequest

	transcript viewport.Model
	spinner    spinner.Model
	keys       keyMap
	help       help.Model
	showHelp   bool

	actionErr error
	notice    string
}

// Run starts the interactive conversation view and blocks until the user
// quits. ctx cancellation is honoured for the controller calls issued from
// key presses.
func Run(ctx context.Context, cfg Config) error {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := model{
		ctrl:       cfg.Controller,
		agentID:    cfg.AgentID,
		agentName:  cfg.AgentName,
		gate:       cfg.Gate,
		transcript: viewport.New(80, 20),
		spinner:    sp,
		keys:       defaultKeyMap,
		help:       help.New(),
	}
	if m.agentName == "" {
		m.agentName = cfg.AgentID
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, listenCmd(m.ctrl)}
	if m.gate != nil {
		cmds = append(cmds, gateCmd(m.gate))
	}
	return tea.Batch(cmds...)
}

// listenCmd waits for the next controller state change.
func listenCmd(ctrl *conversation.Controller) tea.Cmd {
	return func() tea.Msg {
		return updateMsg(<-ctrl.Updates())
	}
}

// gateCmd waits for the next microphone permission request.
func gateCmd(gate *PromptGate) tea.Cmd {
	return func() tea.Msg {
		return permissionMsg{req: <-gate.requests}
	}
}

func startCmd(ctx context.Context, ctrl *conversation.Controller, agentID string) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.Start(ctx, agentID); err != nil {
			return actionErrMsg{err}
		}
		return nil
	}
}

func endCmd(ctx context.Context, ctrl *conversation.Controller) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.End(ctx); err != nil {
			return actionErrMsg{err}
		}
		return nil
	}
}

func confirmCmd(ctx context.Context, d *conversation.Decision) tea.Cmd {
	return func() tea.Msg {
		if err := d.Confirm(ctx); err != nil {
			return actionErrMsg{err}
		}
		return savedMsg{}
	}
}

func discardCmd(ctx context.Context, d *conversation.Decision) tea.Cmd {
	return func() tea.Msg {
		if err := d.Discard(ctx); err != nil {
			return actionErrMsg{err}
		}
		return discardedMsg{}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.transcript.Width = msg.Width
		m.transcript.Height = max(msg.Height-6, 3)
		m.help.Width = msg.Width
		return m, nil

	case updateMsg:
		m.session = msg.Session
		m.decision = msg.Decision
		m.transcript.SetContent(renderTranscript(m.session.Transcript))
		m.transcript.GotoBottom()
		if m.session.Status == conversation.StatusFailed && m.session.Err != nil {
			m.actionErr = m.session.Err
		}
		return m, listenCmd(m.ctrl)

	case permissionMsg:
		m.pendingPerm = msg.req
		return m, gateCmd(m.gate)

	case actionErrMsg:
		m.actionErr = msg.err
		if errors.Is(msg.err, conversation.ErrAlreadyResolved) {
			m.decision = nil
		}
		return m, nil

	case savedMsg:
		m.decision = nil
		m.notice = "transcript saved"
		return m, nil

	case discardedMsg:
		m.decision = nil
		m.notice = "transcript discarded"
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctx := context.Background()
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil

	case key.Matches(msg, m.keys.Start):
		m.actionErr = nil
		m.notice = ""
		return m, startCmd(ctx, m.ctrl, m.agentID)

	case key.Matches(msg, m.keys.End):
		m.actionErr = nil
		return m, endCmd(ctx, m.ctrl)

	case key.Matches(msg, m.keys.Save):
		if m.pendingPerm != nil {
			m.pendingPerm.answer(audio.Granted)
			m.pendingPerm = nil
			return m, nil
		}
		if m.decision == nil {
			return m, nil
		}
		m.actionErr = nil
		return m, confirmCmd(ctx, m.decision)

	case key.Matches(msg, m.keys.Discard):
		if m.pendingPerm != nil {
			m.pendingPerm.answer(audio.Denied)
			m.pendingPerm = nil
			return m, nil
		}
		if m.decision == nil {
			return m, nil
		}
		m.actionErr = nil
		return m, discardCmd(ctx, m.decision)

	case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Reverie"))
	b.WriteString(dimStyle.Render("  ·  " + m.agentName + "  ·  "))
	b.WriteString(m.statusBadge())
	b.WriteString("\n\n")

	if len(m.session.Transcript) == 0 {
		b.WriteString(dimStyle.Render("No conversation yet. Press s to start talking."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.transcript.View())
		b.WriteString("\n")
	}

	if m.pendingPerm != nil {
		b.WriteString("\n")
		b.WriteString(promptStyle.Render(
			"Allow microphone access for this conversation? (y)es / (n)o"))
		b.WriteString("\n")
	}
	if m.decision != nil {
		b.WriteString("\n")
		b.WriteString(promptStyle.Render(fmt.Sprintf(
			"Keep this conversation? %d turns recorded. (y)es / (n)o", len(m.decision.Transcript()))))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString("\n")
		b.WriteString(successStyle.Render(m.notice))
		b.WriteString("\n")
	}
	if m.actionErr != nil {
		b.WriteString("\n")
		b.WriteString(errStyle.Render("error: " + m.actionErr.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.showHelp {
		b.WriteString(m.help.FullHelpView(m.keys.FullHelp()))
	} else {
		b.WriteString(footerStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))
	}
	return b.String()
}

// statusBadge renders the session state, with a spinner while the connection
// is being established.
func (m model) statusBadge() string {
	s := m.session.Status
	switch s {
	case conversation.StatusRequestingPermission, conversation.StatusConnecting:
		return m.spinner.View() + dimStyle.Render(s.String())
	case conversation.StatusSpeaking:
		return agentStyle.Render("agent speaking")
	case conversation.StatusListening:
		return userStyle.Render("listening to you")
	case conversation.StatusFailed:
		return errStyle.Render("failed")
	default:
		return dimStyle.Render(s.String())
	}
}

func renderTranscript(ts types.Transcript) string {
	var b strings.Builder
	for _, u := range ts {
		label := userStyle.Render("you")
		if u.Speaker == types.SpeakerAgent {
			label = agentStyle.Render("agent")
		}
		b.WriteString(fmt.Sprintf("%s %s  %s\n",
			dimStyle.Render(u.Timestamp.Local().Format("15:04:05")),
			label,
			u.Text,
		))
	}
	return b.String()
}
