package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/zhouzirui/nova/internal/client"
	"github.com/zhouzirui/nova/internal/model/auth"
	"github.com/zhouzirui/nova/internal/model/chat"
	"github.com/zhouzirui/nova/internal/service/conversation"
	"github.com/zhouzirui/nova/internal/service/feedback"
)

const (
	noticeExpired   = "Your session has expired. Please log in again."
	noticeLoggedOut = "You have been logged out."
	helpText        = "Commands: /attach <path>, /new, /logout, /quit. Tab moves between the input and the answers."
)

// Update handles messages and updates the model (Bubble Tea interface).
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		switch m.screen {
		case screenLogin:
			return m.handleLoginKey(msg)
		case screenChat:
			return m.handleChatKey(msg)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.screen == screenChat && m.snap.Loading {
			m.refresh()
		}
		return m, cmd

	case loginResultMsg:
		m.loggingIn = false
		if msg.err != nil {
			m.lastErr = loginError(msg.err)
			return m, nil
		}
		m.lastErr = nil
		m.notice = ""
		m.profile = msg.profile
		m.password.Reset()
		m.screen = screenConnecting
		return m, connectCmd(m.opts.Connect, msg.profile)

	case connectedMsg:
		if msg.err != nil {
			m.log.Warn().Err(msg.err).Msg("open conversation failed")
			m.screen = screenLogin
			m.lastErr = msg.err
			return m, nil
		}
		m.conv = msg.conv
		m.fb = msg.fb
		m.gen++
		m.screen = screenChat
		m.focus = focusInput
		m.selected = ""
		m.lastErr = nil
		m.snap = m.conv.Snapshot()
		m.syncInput()
		m.refresh()
		m.viewport.GotoBottom()
		focusCmd := m.input.Focus()
		return m, tea.Batch(waitForUpdate(m.conv.Updates(), m.gen), focusCmd)

	case updateMsg:
		if msg.gen != m.gen || m.conv == nil {
			return m, nil
		}
		atBottom := m.viewport.AtBottom()
		m.snap = m.conv.Snapshot()
		m.syncInput()
		m.refresh()
		if atBottom {
			m.viewport.GotoBottom()
		}
		return m, waitForUpdate(m.conv.Updates(), m.gen)

	case conversationClosedMsg:
		return m, nil

	case attachResultMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.lastErr = nil
		m.notice = fmt.Sprintf("%s will be sent with your next message.", msg.file.Name)
		return m, nil

	case UnauthorizedMsg:
		if m.screen == screenLogin {
			return m, nil
		}
		return m.toLogin(noticeExpired, m.opts.Expired)
	}

	return m, nil
}

// toLogin shows the login screen. The conversation is closed and forget
// runs in the background.
func (m Model) toLogin(notice string, forget func()) (tea.Model, tea.Cmd) {
	cmd := closeCmd(m.conv, forget)
	m.conv = nil
	m.fb = nil
	m.gen++
	m.snap = conversation.Snapshot{}
	m.profile = auth.Profile{}

	m.screen = screenLogin
	m.notice = notice
	m.lastErr = nil
	m.loggingIn = false
	m.loginFocus = 1
	m.username.Blur()
	focusCmd := m.password.Focus()
	return m, tea.Batch(cmd, focusCmd)
}

func (m Model) handleLoginKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab", "up", "down":
		cmd := m.focusLoginField(1 - m.loginFocus)
		return m, cmd

	case "enter":
		if m.loggingIn {
			return m, nil
		}
		if m.loginFocus == 0 {
			cmd := m.focusLoginField(1)
			return m, cmd
		}
		creds := auth.Credentials{
			Username: strings.TrimSpace(m.username.Value()),
			Password: m.password.Value(),
		}
		if creds.Username == "" || creds.Password == "" {
			m.lastErr = errors.New("username and password are required")
			return m, nil
		}
		m.loggingIn = true
		m.lastErr = nil
		return m, loginCmd(m.opts.Auth, creds, m.opts.RequestTimeout)
	}

	var cmd tea.Cmd
	if m.loginFocus == 0 {
		m.username, cmd = m.username.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m *Model) focusLoginField(i int) tea.Cmd {
	m.loginFocus = i
	if i == 0 {
		m.password.Blur()
		return m.username.Focus()
	}
	m.username.Blur()
	return m.password.Focus()
}

func (m Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	switch m.focus {
	case focusTranscript:
		return m.handleTranscriptKey(msg)
	case focusReason:
		return m.handleReasonKey(msg)
	}

	switch msg.String() {
	case "tab":
		m.focusTranscript()
		return m, nil

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if strings.HasPrefix(text, "/") {
			m.input.Reset()
			return m.handleCommand(text)
		}
		if m.snap.Loading {
			return m, nil
		}
		err := m.conv.Submit(text)
		switch {
		case errors.Is(err, conversation.ErrEmptyInput), errors.Is(err, conversation.ErrBusy):
			return m, nil
		case err != nil:
			m.lastErr = err
			return m, nil
		}
		m.input.Reset()
		m.lastErr = nil
		m.notice = ""
		m.viewport.GotoBottom()
		return m, nil
	}

	if m.snap.Loading {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleCommand(text string) (tea.Model, tea.Cmd) {
	name, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/attach":
		if arg == "" {
			m.lastErr = errors.New("usage: /attach <path>")
			return m, nil
		}
		if m.snap.Loading {
			m.lastErr = conversation.ErrBusy
			return m, nil
		}
		m.notice = "Uploading " + arg + "..."
		return m, attachCmd(m.conv, arg, m.opts.RequestTimeout)

	case "/new", "/reset":
		if err := m.conv.Reset(); err != nil {
			m.lastErr = err
			return m, nil
		}
		m.selected = ""
		m.expanded = make(map[string]bool)
		m.notice = ""
		return m, nil

	case "/logout":
		return m.toLogin(noticeLoggedOut, m.opts.Logout)

	case "/help":
		m.notice = helpText
		return m, nil

	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit
	}

	m.lastErr = fmt.Errorf("unknown command %s (try /help)", name)
	return m, nil
}

func (m Model) handleTranscriptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "tab", "esc":
		m.focus = focusInput
		m.refresh()
		cmd := m.input.Focus()
		return m, cmd

	case "up", "k":
		m.moveSelection(-1)
		return m, nil

	case "down", "j":
		m.moveSelection(1)
		return m, nil
	}

	selected, ok := m.selectedMessage()
	if !ok {
		return m, nil
	}

	switch key {
	case "s":
		if _, sources := chat.SplitSources(selected.Content); sources != "" {
			m.expanded[selected.ID] = !m.expanded[selected.ID]
			m.refresh()
		}
		return m, nil

	case "+", "l":
		m.applyFeedback(m.fb.Like(selected.ID))
		return m, nil

	case "-", "d":
		if err := m.fb.Dislike(selected.ID); err != nil {
			m.applyFeedback(err)
			return m, nil
		}
		m.focus = focusReason
		m.reasonID = selected.ID
		m.input.Reset()
		m.input.SetValue(m.fb.View(selected.ID).Reason)
		m.input.Placeholder = "Tell us what went wrong (optional), enter to send, esc to cancel"
		m.refresh()
		cmd := m.input.Focus()
		return m, cmd
	}

	if selected.Kind == chat.KindChoice {
		if n, err := strconv.Atoi(key); err == nil && n >= 1 && n <= len(selected.Choices) {
			if err := m.conv.SelectService(selected.Choices[n-1].Value); err != nil {
				m.lastErr = err
				return m, nil
			}
			m.focus = focusInput
			m.lastErr = nil
			cmd := m.input.Focus()
			return m, cmd
		}
	}
	return m, nil
}

func (m Model) handleReasonKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.fb.SetReason(m.reasonID, strings.TrimSpace(m.input.Value()))
		err := m.fb.Confirm(m.reasonID)
		if errors.Is(err, feedback.ErrInFlight) {
			// Keep the reason open so it can be sent once the earlier call settles.
			m.lastErr = err
			return m, nil
		}
		m.applyFeedback(err)
		m.leaveReason()
		return m, nil

	case "esc":
		m.fb.CancelReason(m.reasonID)
		m.leaveReason()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) leaveReason() {
	m.reasonID = ""
	m.focus = focusTranscript
	m.input.Reset()
	m.input.Placeholder = "Describe your issue..."
	m.input.Blur()
	m.refresh()
}

func (m *Model) applyFeedback(err error) {
	switch {
	case err == nil, errors.Is(err, feedback.ErrAlreadySubmitted):
		m.lastErr = nil
	default:
		m.lastErr = err
	}
	m.refresh()
}

func (m *Model) focusTranscript() {
	m.focus = focusTranscript
	m.input.Blur()
	if _, ok := m.selectedMessage(); !ok {
		m.moveSelection(-1)
	}
	m.refresh()
}

// moveSelection steps through the messages that accept an action. With
// nothing selected it starts from the most recent one.
func (m *Model) moveSelection(delta int) {
	var ids []string
	for _, msg := range m.snap.Messages {
		if selectable(msg) {
			ids = append(ids, msg.ID)
		}
	}
	if len(ids) == 0 {
		m.selected = ""
		return
	}

	current := -1
	for i, id := range ids {
		if id == m.selected {
			current = i
		}
	}
	next := len(ids) - 1
	if current >= 0 {
		next = current + delta
	}
	if next < 0 {
		next = 0
	}
	if next >= len(ids) {
		next = len(ids) - 1
	}
	m.selected = ids[next]
	m.refresh()
}

func (m Model) selectedMessage() (chat.Message, bool) {
	if m.selected == "" {
		return chat.Message{}, false
	}
	for _, msg := range m.snap.Messages {
		if msg.ID == m.selected {
			return msg, true
		}
	}
	return chat.Message{}, false
}

func selectable(msg chat.Message) bool {
	if msg.Role != chat.RoleAssistant || msg.Streaming {
		return false
	}
	if msg.Kind == chat.KindChoice && len(msg.Choices) > 0 {
		return true
	}
	if msg.FeedbackEligible {
		return true
	}
	_, sources := chat.SplitSources(msg.Content)
	return sources != ""
}

// syncInput disables typing while a query runs.
func (m *Model) syncInput() {
	if m.focus != focusInput {
		return
	}
	if m.snap.Loading {
		m.input.Blur()
		return
	}
	m.input.Focus()
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.input.SetWidth(width)
	m.viewport.Width = width
	m.viewport.Height = height - inputHeight - 5
	if m.viewport.Height < 3 {
		m.viewport.Height = 3
	}
	if err := m.setRenderer(width); err != nil {
		m.log.Warn().Err(err).Msg("rebuild markdown renderer")
	}
	m.refresh()
}

func loginError(err error) error {
	if errors.Is(err, client.ErrUnauthorized) {
		return errors.New("invalid username or password")
	}
	return err
}
