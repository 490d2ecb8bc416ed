package core

// ConversationState is the unit of work for one turn of a thread.
//
// Messages are kept in causal order. Entries are never deleted in place by
// stages; stages return an Update and the state applies it.
type ConversationState struct {
	Messages []Message `json:"-"`
	Summary  string    `json:"summary"`
}

// Removal is a tombstone instruction deleting a message by id.
type Removal struct {
	ID string
}

// Remove builds a Removal for id.
func Remove(id string) Removal { return Removal{ID: id} }

// Update is the delta a stage contributes to a ConversationState.
//
// Messages are merged by id: an id already present replaces the existing
// entry in place, a new id is appended. Removals are applied afterwards as
// a set. A nil Summary leaves the summary untouched; a non-nil one replaces it.
type Update struct {
	Messages []Message
	Remove   []Removal
	Summary  *string
}

// IsZero reports whether the update carries no change.
func (u Update) IsZero() bool {
	return len(u.Messages) == 0 && len(u.Remove) == 0 && u.Summary == nil
}

// Apply folds u into the state.
func (s *ConversationState) Apply(u Update) {
	for _, m := range u.Messages {
		s.merge(m)
	}

	if len(u.Remove) > 0 {
		drop := make(map[string]struct{}, len(u.Remove))
		for _, r := range u.Remove {
			drop[r.ID] = struct{}{}
		}

		kept := s.Messages[:0]
		for _, m := range s.Messages {
			if _, ok := drop[m.MessageID()]; ok {
				continue
			}
			kept = append(kept, m)
		}
		// clear the tail so dropped messages can be collected
		for i := len(kept); i < len(s.Messages); i++ {
			s.Messages[i] = nil
		}
		s.Messages = kept
	}

	if u.Summary != nil {
		s.Summary = *u.Summary
	}
}

func (s *ConversationState) merge(m Message) {
	id := m.MessageID()
	for i, existing := range s.Messages {
		if existing.MessageID() == id {
			s.Messages[i] = m
			return
		}
	}
	s.Messages = append(s.Messages, m)
}

// Clone returns a copy whose message slice can diverge from the original.
func (s *ConversationState) Clone() *ConversationState {
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	return &ConversationState{Messages: msgs, Summary: s.Summary}
}

// Last returns the most recent message, or nil when the log is empty.
func (s *ConversationState) Last() Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// LastAssistant returns the most recent message if it is an assistant reply.
func (s *ConversationState) LastAssistant() (AssistantMessage, bool) {
	am, ok := s.Last().(AssistantMessage)
	return am, ok
}

// FindCall locates the assistant message that issued the tool call callID.
func (s *ConversationState) FindCall(callID string) (AssistantMessage, ToolCall, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		am, ok := s.Messages[i].(AssistantMessage)
		if !ok {
			continue
		}
		for _, tc := range am.ToolCalls {
			if tc.ID == callID {
				return am, tc, true
			}
		}
	}
	return AssistantMessage{}, ToolCall{}, false
}

// Has reports whether a message with id is present.
func (s *ConversationState) Has(id string) bool {
	for _, m := range s.Messages {
		if m.MessageID() == id {
			return true
		}
	}
	return false
}

// PendingCalls returns the tool calls that have no tool-result in the log,
// in issue order.
func (s *ConversationState) PendingCalls() []ToolCall {
	answered := make(map[string]struct{})
	for _, m := range s.Messages {
		if tr, ok := m.(ToolResultMessage); ok {
			answered[tr.CallID] = struct{}{}
		}
	}

	var out []ToolCall
	for _, m := range s.Messages {
		am, ok := m.(AssistantMessage)
		if !ok {
			continue
		}
		for _, tc := range am.ToolCalls {
			if _, done := answered[tc.ID]; !done {
				out = append(out, tc)
			}
		}
	}
	return out
}

// ResolvePending answers every pending tool call with an error tool-result
// placed directly after the issuing assistant message and its existing
// results. It returns the number of results added.
func (s *ConversationState) ResolvePending(content string) int {
	pending := s.PendingCalls()
	if len(pending) == 0 {
		return 0
	}
	open := make(map[string]struct{}, len(pending))
	for _, tc := range pending {
		open[tc.ID] = struct{}{}
	}

	out := make([]Message, 0, len(s.Messages)+len(pending))
	for i := 0; i < len(s.Messages); i++ {
		m := s.Messages[i]
		out = append(out, m)

		am, ok := m.(AssistantMessage)
		if !ok || !am.HasToolCalls() {
			continue
		}
		for i+1 < len(s.Messages) {
			if _, isResult := s.Messages[i+1].(ToolResultMessage); !isResult {
				break
			}
			i++
			out = append(out, s.Messages[i])
		}
		for _, tc := range am.ToolCalls {
			if _, missing := open[tc.ID]; missing {
				out = append(out, NewToolResultMessage(tc, content, true))
			}
		}
	}
	s.Messages = out
	return len(pending)
}
