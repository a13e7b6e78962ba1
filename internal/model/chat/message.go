package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind distinguishes plain text messages from structured prompts.
type Kind string

const (
	KindText   Kind = "text"
	KindChoice Kind = "choice"
)

// Fixed user-facing strings of the conversation flow.
const (
	PlaceholderContent    = "Thinking..."
	InitialStatus         = "Seeking the best answer..."
	ServiceUnavailable    = "Service not available. Please try again later."
	TaskStartFailed       = "Failed to start the task. Please try again."
	InterruptedContent    = "This answer was interrupted. Please ask again."
	WelcomeContent        = "Welcome to Nova Assistant! 👋\n\nHow can I help you today? Please describe your issue."
	WelcomeChoicesContent = "Welcome to Nova Assistant! 👋\n\nHow can I help you today? Please select a service:"
)

// Choice is one selectable option of a choice prompt.
type Choice struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Attachment references a file uploaded ahead of a query.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// Message is one entry of the conversation transcript.
type Message struct {
	ID                string      `json:"id"`
	Role              Role        `json:"role"`
	Kind              Kind        `json:"kind,omitempty"`
	Content           string      `json:"content"`
	Choices           []Choice    `json:"choices,omitempty"`
	Attachment        *Attachment `json:"attachment,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
	Streaming         bool        `json:"streaming,omitempty"`
	StatusText        string      `json:"statusText,omitempty"`
	FeedbackEligible  bool        `json:"feedbackEligible,omitempty"`
	FeedbackSubmitted bool        `json:"feedbackSubmitted,omitempty"`
}

// NewUserMessage builds a user turn.
func NewUserMessage(id, content string, now time.Time) Message {
	return Message{
		ID:        id,
		Role:      RoleUser,
		Kind:      KindText,
		Content:   content,
		Timestamp: now,
	}
}

// NewAssistantMessage builds a finished assistant turn that takes no feedback.
func NewAssistantMessage(id, content string, now time.Time) Message {
	return Message{
		ID:        id,
		Role:      RoleAssistant,
		Kind:      KindText,
		Content:   content,
		Timestamp: now,
	}
}

// NewPlaceholder builds the streaming assistant turn shown while a task runs.
func NewPlaceholder(id string, now time.Time) Message {
	return Message{
		ID:               id,
		Role:             RoleAssistant,
		Kind:             KindText,
		Content:          PlaceholderContent,
		Timestamp:        now,
		Streaming:        true,
		StatusText:       InitialStatus,
		FeedbackEligible: true,
	}
}

// NewChoicePrompt builds an assistant prompt offering a fixed set of options.
func NewChoicePrompt(id, content string, choices []Choice, now time.Time) Message {
	return Message{
		ID:        id,
		Role:      RoleAssistant,
		Kind:      KindChoice,
		Content:   content,
		Choices:   append([]Choice(nil), choices...),
		Timestamp: now,
	}
}

// AcceptsFeedback reports whether the feedback controls should be offered.
func (m Message) AcceptsFeedback() bool {
	return m.Role == RoleAssistant && m.FeedbackEligible && !m.Streaming && !m.FeedbackSubmitted
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	out := m
	if m.Choices != nil {
		out.Choices = append([]Choice(nil), m.Choices...)
	}
	if m.Attachment != nil {
		attachment := *m.Attachment
		out.Attachment = &attachment
	}
	return out
}
