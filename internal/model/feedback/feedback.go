package feedback

import (
	"errors"
	"strings"
	"time"
)

var ErrMessageIDRequired = errors.New("messageId is required")

// Request is the body of a feedback submission.
type Request struct {
	MessageID string `json:"messageId"`
	Liked     bool   `json:"liked"`
	Reason    string `json:"reason,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Validate checks the fields the backend relies on.
func (r Request) Validate() error {
	if strings.TrimSpace(r.MessageID) == "" {
		return ErrMessageIDRequired
	}
	return nil
}

// Response is the backend's acknowledgement.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Record is a stored submission.
type Record struct {
	Request
	ID        string    `json:"id"`
	User      string    `json:"user,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Status is the client-side submission state of one message.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusError     Status = "error"
)

// View is what the UI needs to render feedback controls for a message.
type View struct {
	Liked        *bool
	Reason       string
	ReasonOpen   bool
	Status       Status
	Err          string
	Confirmation bool
}
