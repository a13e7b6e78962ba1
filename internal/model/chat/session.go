package chat

// TranscriptKey is the fixed session-storage key of the conversation.
const TranscriptKey = "nova.chat.transcript"

// ServiceKey stores the service route chosen from the welcome prompt.
const ServiceKey = "nova.chat.service"

// Rehydrate prepares a transcript loaded from session storage. Messages left
// streaming by an earlier process have no channel to finish them, so they are
// closed out as interrupted. The second return value counts those messages.
func Rehydrate(messages []Message) ([]Message, int) {
	out := make([]Message, 0, len(messages))
	seen := make(map[string]struct{}, len(messages))
	orphaned := 0
	for _, msg := range messages {
		if msg.ID == "" {
			continue
		}
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		if msg.Streaming {
			msg = Finalize(InterruptedContent).Apply(msg)
			orphaned++
		}
		out = append(out, msg.Clone())
	}
	return out, orphaned
}
