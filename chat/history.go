package chat

// Tail returns the most recent entries, keeping at most limit of them.
// A limit of zero or less keeps everything. The result shares no memory with
// history.
func Tail(history []Message, limit int) []Message {
	if len(history) == 0 {
		return []Message{}
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]Message, len(history))
	copy(out, history)
	return out
}
