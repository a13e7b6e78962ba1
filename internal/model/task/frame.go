package task

// Frame is one event delivered on a task's push channel.
type Frame struct {
	Type    string `json:"type,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	TypeError     = "error"
	StageEnd      = "end"
	StageProgress = "progress"
)

// FrameKind classifies a frame for the client state machine.
type FrameKind int

const (
	FrameProgress FrameKind = iota
	FrameEnd
	FrameFailure
)

func (k FrameKind) String() string {
	switch k {
	case FrameEnd:
		return "end"
	case FrameFailure:
		return "failure"
	default:
		return "progress"
	}
}

// Kind maps a frame onto the taxonomy. An error type wins over an end stage.
func (f Frame) Kind() FrameKind {
	if f.Type == TypeError {
		return FrameFailure
	}
	if f.Stage == StageEnd {
		return FrameEnd
	}
	return FrameProgress
}

// Terminal reports whether the frame ends its task.
func (f Frame) Terminal() bool {
	return f.Kind() != FrameProgress
}

// ProgressFrame reports an intermediate status.
func ProgressFrame(status string) Frame {
	return Frame{Stage: StageProgress, Status: status}
}

// EndFrame carries the final answer.
func EndFrame(message string) Frame {
	return Frame{Stage: StageEnd, Message: message}
}

// ErrorFrame reports that the task failed server side.
func ErrorFrame(message string) Frame {
	return Frame{Type: TypeError, Message: message}
}
