package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zhouzirui/nova/internal/model/auth"
)

// waitForUpdate blocks until the conversation signals a change. It is
// re-armed after every updateMsg.
func waitForUpdate(updates <-chan struct{}, gen int) tea.Cmd {
	if updates == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return conversationClosedMsg{gen: gen}
		}
		return updateMsg{gen: gen}
	}
}

func loginCmd(a Authenticator, creds auth.Credentials, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		profile, err := a.Login(ctx, creds)
		return loginResultMsg{profile: profile, err: err}
	}
}

func connectCmd(connect ConnectFunc, profile auth.Profile) tea.Cmd {
	return func() tea.Msg {
		conv, fb, err := connect(profile)
		return connectedMsg{conv: conv, fb: fb, err: err}
	}
}

func attachCmd(conv Conversation, path string, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		file, err := conv.Attach(ctx, path)
		return attachResultMsg{file: file, err: err}
	}
}

// closeCmd tears a conversation down off the event loop, then runs after.
// Close waits for in-flight work, so nothing is persisted once after runs.
func closeCmd(conv Conversation, after func()) tea.Cmd {
	if conv == nil && after == nil {
		return nil
	}
	return func() tea.Msg {
		if conv != nil {
			conv.Close()
		}
		if after != nil {
			after()
		}
		return nil
	}
}
