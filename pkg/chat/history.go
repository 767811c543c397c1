package chat

import "encoding/json"

// History is the append-only transcript of a conversation. Messages can be
// added but never modified or removed, so callers may hand out snapshots
// without worrying about later mutation.
type History struct {
	messages []Message
}

func NewHistory(msgs ...Message) *History {
	h := &History{}
	h.Append(msgs...)
	return h
}

// Append adds messages to the end of the transcript. Each message is cloned
// on the way in so the caller cannot mutate it afterwards.
func (h *History) Append(msgs ...Message) {
	for _, m := range msgs {
		h.messages = append(h.messages, m.Clone())
	}
}

// Messages returns a copy of the transcript in order.
func (h *History) Messages() []Message {
	out := make([]Message, len(h.messages))
	for i, m := range h.messages {
		out[i] = m.Clone()
	}
	return out
}

func (h *History) Len() int {
	return len(h.messages)
}

// Last returns the most recent message, or false when the transcript is
// empty.
func (h *History) Last() (Message, bool) {
	if len(h.messages) == 0 {
		return Message{}, false
	}
	return h.messages[len(h.messages)-1].Clone(), true
}

func (h *History) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.messages)
}

func (h *History) UnmarshalJSON(data []byte) error {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	h.messages = msgs
	return nil
}
