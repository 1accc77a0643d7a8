package conversation

// Message kinds written to the debug feed.
const (
	KindUI      = "UI"
	KindCmd     = "CMD"
	KindUser    = "USER"
	KindResp    = "RESP"
	KindError   = "ERROR"
	KindSession = "SESSION"
	KindAudio   = "AUDIO"
)

// State is the user-visible text of one conversation.
type State struct {
	EditableText string   `json:"editableText"`
	LastReply    string   `json:"lastReply"`
	TurnLog      []string `json:"turnLog"`
}

// Overwrite replaces the editable text and returns the previous value, so the
// caller can log it.
func (s *State) Overwrite(text string) string {
	previous := s.EditableText
	s.EditableText = text
	return previous
}

// AppendReply appends an assistant reply to the editable text and records it
// as the last reply.
func (s *State) AppendReply(reply string) {
	s.EditableText += "\n\nAssistant: " + reply
	s.LastReply = reply
}

// Record appends a line to the ordered turn log.
func (s *State) Record(line string) {
	s.TurnLog = append(s.TurnLog, line)
}

// Snapshot returns a copy safe to hand to other goroutines.
func (s *State) Snapshot() State {
	return State{
		EditableText: s.EditableText,
		LastReply:    s.LastReply,
		TurnLog:      append([]string(nil), s.TurnLog...),
	}
}
