package tui

import (
	"github.com/zhouzirui/nova/internal/model/auth"
	"github.com/zhouzirui/nova/internal/model/upload"
)

// UnauthorizedMsg tells the UI the backend rejected the stored token. Send it
// with tea.Program.Send from the client's unauthorized hook.
type UnauthorizedMsg struct{}

// loginResultMsg carries the outcome of a login attempt.
type loginResultMsg struct {
	profile auth.Profile
	err     error
}

// connectedMsg carries the conversation opened for a profile.
type connectedMsg struct {
	conv Conversation
	fb   Feedback
	err  error
}

// updateMsg signals a visible change of the conversation of generation gen.
type updateMsg struct {
	gen int
}

// conversationClosedMsg reports that the update channel of gen was closed.
type conversationClosedMsg struct {
	gen int
}

// attachResultMsg carries the outcome of an upload.
type attachResultMsg struct {
	file upload.File
	err  error
}
