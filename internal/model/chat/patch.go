package chat

// Patch carries the mutable fields of a message. Nil fields are left untouched.
type Patch struct {
	Content           *string
	Streaming         *bool
	StatusText        *string
	FeedbackSubmitted *bool
}

// Ptr returns a pointer to v, for building patches inline.
func Ptr[T any](v T) *T { return &v }

// Finalize is the terminal patch of a streaming message.
func Finalize(content string) Patch {
	return Patch{
		Content:    Ptr(content),
		Streaming:  Ptr(false),
		StatusText: Ptr(""),
	}
}

// Progress only touches the status line of a streaming message.
func Progress(status string) Patch {
	return Patch{StatusText: Ptr(status)}
}

// Empty reports whether the patch would change nothing.
func (p Patch) Empty() bool {
	return p.Content == nil && p.Streaming == nil && p.StatusText == nil && p.FeedbackSubmitted == nil
}

// Apply merges p into m. FeedbackSubmitted only ever moves from false to true.
func (p Patch) Apply(m Message) Message {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Streaming != nil {
		m.Streaming = *p.Streaming
	}
	if p.StatusText != nil {
		m.StatusText = *p.StatusText
	}
	if p.FeedbackSubmitted != nil && *p.FeedbackSubmitted {
		m.FeedbackSubmitted = true
	}
	return m
}
