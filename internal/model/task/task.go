package task

import "time"

// State is the lifecycle position of a task.
type State string

const (
	StatePending   State = "pending"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Active reports whether the task still owns a push channel.
func (s State) Active() bool {
	return s == StatePending || s == StateStreaming
}

// StartRequest is the body of a task-start call.
type StartRequest struct {
	Query    string `json:"query"`
	FilePath string `json:"file_path,omitempty"`
}

// StartResponse identifies the unit of work whose progress is streamed back.
type StartResponse struct {
	MessageID string `json:"message_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

// ID returns the message id, falling back to the task id older servers send.
func (r StartResponse) ID() string {
	if r.MessageID != "" {
		return r.MessageID
	}
	return r.TaskID
}

// Task is the backend record of one submitted query.
type Task struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner,omitempty"`
	Service   string    `json:"service"`
	Query     string    `json:"query"`
	FilePath  string    `json:"filePath,omitempty"`
	State     State     `json:"state"`
	Answer    string    `json:"answer,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Question is what the answering backend receives for one task.
type Question struct {
	TaskID   string
	User     string
	Service  string
	Query    string
	FilePath string
	History  []Turn
}

// Turn is one answered query kept as conversation history.
type Turn struct {
	Service string    `json:"service"`
	Query   string    `json:"query"`
	Answer  string    `json:"answer"`
	AskedAt time.Time `json:"askedAt"`
}
