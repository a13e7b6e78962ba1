package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/nova/internal/model/chat"
	model "github.com/zhouzirui/nova/internal/model/feedback"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	selectedStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.ThickBorder()).
			BorderLeft(true).
			BorderForeground(lipgloss.Color("205")).
			PaddingLeft(1)

	unselectedStyle = lipgloss.NewStyle().PaddingLeft(2)
)

// View renders the UI (Bubble Tea interface).
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	switch m.screen {
	case screenLogin:
		return m.loginView()
	case screenConnecting:
		return fmt.Sprintf("\n  %s Connecting as %s...\n", m.spinner.View(), m.profile.Name)
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.footer())
	return b.String()
}

func (m Model) loginView() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(titleStyle.Render("  Nova Assistant"))
	b.WriteString("\n\n")
	if m.notice != "" {
		b.WriteString("  " + statusStyle.Render(m.notice) + "\n\n")
	}
	b.WriteString("  " + m.username.View() + "\n")
	b.WriteString("  " + m.password.View() + "\n\n")

	switch {
	case m.loggingIn:
		b.WriteString("  " + m.spinner.View() + " Signing in...\n")
	case m.lastErr != nil:
		b.WriteString("  " + errorStyle.Render("✗ "+m.lastErr.Error()) + "\n")
	}
	b.WriteString(hintStyle.Render("\n  [tab to switch fields, enter to sign in, ctrl+c to quit]"))
	return b.String()
}

func (m Model) header() string {
	label := m.snap.Service
	if label == "" {
		label = "qa"
	}
	line := titleStyle.Render("Nova Assistant") +
		hintStyle.Render(fmt.Sprintf(" | %s | service: %s", m.profile.Name, label))
	return line + "\n" + hintStyle.Render(strings.Repeat("─", max(m.width, 1)))
}

func (m Model) footer() string {
	var b strings.Builder

	if m.snap.PendingUpload != nil {
		b.WriteString(statusStyle.Render(fmt.Sprintf("📎 %s (%s) is attached to your next message", m.snap.PendingUpload.Name, humanSize(m.snap.PendingUpload.Size))))
		b.WriteString("\n")
	}
	switch {
	case m.lastErr != nil:
		b.WriteString(errorStyle.Render("✗ " + m.lastErr.Error()))
		b.WriteString("\n")
	case m.notice != "":
		b.WriteString(hintStyle.Render(m.notice))
		b.WriteString("\n")
	}

	switch {
	case m.focus == focusReason:
		b.WriteString(statusStyle.Render("Why was this answer not helpful?"))
		b.WriteString("\n")
		b.WriteString(m.input.View())
	case m.snap.Loading:
		b.WriteString(hintStyle.Render(fmt.Sprintf("%s Waiting for the answer...", m.spinner.View())))
	default:
		b.WriteString(m.input.View())
	}

	b.WriteString("\n")
	b.WriteString(hintStyle.Render(m.keyHint()))
	return b.String()
}

func (m Model) keyHint() string {
	switch m.focus {
	case focusTranscript:
		hint := "[↑/↓ select"
		if msg, ok := m.selectedMessage(); ok {
			if msg.Kind == chat.KindChoice {
				hint += fmt.Sprintf(", 1-%d choose", len(msg.Choices))
			}
			if msg.AcceptsFeedback() {
				hint += ", + like, - dislike"
			}
			if _, sources := chat.SplitSources(msg.Content); sources != "" {
				hint += ", s sources"
			}
		}
		return hint + ", tab back to input]"
	case focusReason:
		return "[enter to send, esc to cancel]"
	}
	return "[enter to send, tab to rate or choose, /help for commands, ctrl+c to quit]"
}

// refresh re-renders the transcript into the viewport.
func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
}

func (m *Model) renderTranscript() string {
	var b strings.Builder
	for _, msg := range m.snap.Messages {
		block := m.renderMessage(msg)
		if msg.ID == m.selected && m.focus != focusInput {
			block = selectedStyle.Render(block)
		} else {
			block = unselectedStyle.Render(block)
		}
		b.WriteString(block)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Model) renderMessage(msg chat.Message) string {
	var b strings.Builder

	if msg.Role == chat.RoleUser {
		b.WriteString(userStyle.Render("You"))
		b.WriteString("\n")
		b.WriteString(msg.Content)
		if msg.Attachment != nil {
			b.WriteString("\n")
			b.WriteString(hintStyle.Render(fmt.Sprintf("📎 %s · %s · %s", msg.Attachment.Name, msg.Attachment.Type, humanSize(msg.Attachment.Size))))
		}
		return b.String()
	}

	b.WriteString(assistantStyle.Render("Nova"))
	b.WriteString("\n")

	if msg.Streaming {
		status := msg.StatusText
		if status == "" {
			status = msg.Content
		}
		b.WriteString(m.spinner.View() + " " + statusStyle.Render(status))
		return b.String()
	}

	body, sources := chat.SplitSources(msg.Content)
	b.WriteString(m.markdown(body))

	if msg.Kind == chat.KindChoice {
		for i, choice := range msg.Choices {
			fmt.Fprintf(&b, "\n  %d. %s", i+1, choice.Label)
		}
	}

	if sources != "" {
		b.WriteString("\n")
		if m.expanded[msg.ID] {
			b.WriteString(hintStyle.Render("▾ Sources"))
			b.WriteString("\n")
			b.WriteString(m.markdown(sources))
		} else {
			b.WriteString(hintStyle.Render("▸ Sources"))
		}
	}

	if line := m.feedbackLine(msg); line != "" {
		b.WriteString("\n")
		b.WriteString(line)
	}
	return b.String()
}

func (m *Model) feedbackLine(msg chat.Message) string {
	if !msg.FeedbackEligible || msg.Streaming || m.fb == nil {
		return ""
	}
	view := m.fb.View(msg.ID)

	switch {
	case view.Confirmation:
		return okStyle.Render("✓ Thanks for your feedback!")
	case view.Status == model.StatusPending:
		return hintStyle.Render("Sending feedback...")
	case view.Status == model.StatusError:
		return errorStyle.Render(view.Err)
	case msg.FeedbackSubmitted || view.Status == model.StatusSubmitted:
		verdict := "helpful"
		if view.Liked != nil && !*view.Liked {
			verdict = "not helpful"
		}
		return hintStyle.Render("Rated " + verdict)
	case view.ReasonOpen:
		return statusStyle.Render("👎 waiting for your reason...")
	case view.Liked != nil && *view.Liked:
		return hintStyle.Render("👍 sending...")
	}
	if msg.ID == m.selected && m.focus == focusTranscript {
		return hintStyle.Render("[+] helpful  [-] not helpful")
	}
	return ""
}

// markdown renders content with glamour, caching by content.
func (m *Model) markdown(content string) string {
	if out, ok := m.rendered[content]; ok {
		return out
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		out = content
	}
	out = strings.Trim(out, "\n")
	m.rendered[content] = out
	return out
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
