package planner

// trimWindow keeps the first message (the task) plus the most recent turns so the conversation
// never exceeds size messages. The kept tail always resumes with an assistant turn, so it never
// opens with tool results whose calls were dropped.
func trimWindow(msgs []Message, size int) []Message {
	if size < 3 || len(msgs) <= size {
		return msgs
	}
	start := len(msgs) - (size - 1)
	for start < len(msgs) && msgs[start].Role == RoleUser {
		start++
	}
	out := make([]Message, 0, 1+len(msgs)-start)
	out = append(out, msgs[0])
	return append(out, msgs[start:]...)
}
