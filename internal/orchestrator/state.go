package orchestrator

import (
	"strings"

	"github.com/google/uuid"
)

// Roles for conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the conversation transcript. Author is the worker
// name for assistant messages and empty for user messages.
type Message struct {
	Role    string `json:"role"`
	Author  string `json:"author,omitempty"`
	Content string `json:"content"`
}

// State is the running conversation state for one turn. It is owned by the
// loop; workers receive a snapshot and report changes through an Update.
type State struct {
	ConversationID           string
	Messages                 []Message
	Next                     string
	ActiveProject            string
	ActiveProjectDescription string
	ActiveProjectInfo        map[string]any
	// PendingQuestion is set when the last worker explicitly flagged its
	// message as a question for the human.
	PendingQuestion bool
	Err             string
}

// NewState starts an empty conversation.
func NewState() *State {
	return &State{ConversationID: uuid.NewString()}
}

// Update is the partial state a worker returns from one invocation. Nil
// pointer fields leave the current value untouched; Messages are appended.
type Update struct {
	Messages                 []Message
	ActiveProject            *string
	ActiveProjectDescription *string
	ActiveProjectInfo        map[string]any
	// AsksUser marks the worker's last message as an open question for the
	// human, independent of whether the text happens to end in "?".
	AsksUser bool
	Err      string
}

// Merge folds a worker update into the state: append messages, last write
// wins per field.
func (s *State) Merge(update Update) {
	s.Messages = append(s.Messages, update.Messages...)
	if update.ActiveProject != nil {
		s.ActiveProject = *update.ActiveProject
	}
	if update.ActiveProjectDescription != nil {
		s.ActiveProjectDescription = *update.ActiveProjectDescription
	}
	if update.ActiveProjectInfo != nil {
		s.ActiveProjectInfo = update.ActiveProjectInfo
	}
	if update.Err != "" {
		s.Err = update.Err
	}
	s.PendingQuestion = update.AsksUser
}

// AppendUser records an incoming human message and clears any pending
// worker question.
func (s *State) AppendUser(content string) {
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: content})
	s.PendingQuestion = false
}

// Snapshot returns a copy safe to hand to a worker: the message slice is
// cloned so an ill-behaved worker cannot edit the transcript in place.
func (s *State) Snapshot() State {
	copied := *s
	copied.Messages = make([]Message, len(s.Messages))
	copy(copied.Messages, s.Messages)
	return copied
}

// LastMessage returns the newest message, or a zero Message for an empty
// transcript.
func (s *State) LastMessage() Message {
	if len(s.Messages) == 0 {
		return Message{}
	}
	return s.Messages[len(s.Messages)-1]
}

// LastAssistantContent returns the content of the newest worker-authored
// message. It is what the loop surfaces to the caller.
func (s *State) LastAssistantContent() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}

// StringPtr adapts a value for Update's optional fields.
func StringPtr(v string) *string {
	return &v
}

// endsInQuestion reports the open-question convention: a trimmed message
// body ending in a question mark hands control back to the human.
func endsInQuestion(content string) bool {
	return strings.HasSuffix(strings.TrimSpace(content), "?")
}
