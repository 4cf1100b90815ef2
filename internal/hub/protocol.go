package hub

// ClientMessage is anything a websocket client may send.
type ClientMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Project string `json:"project,omitempty"`
}

// ReplyMessage carries the assistant's answer for one chat turn.
type ReplyMessage struct {
	Type         string `json:"type"`
	Text         string `json:"text"`
	Author       string `json:"author,omitempty"`
	Project      string `json:"project,omitempty"`
	AwaitingUser bool   `json:"awaiting_user"`
	Error        string `json:"error,omitempty"`
}

// ProjectsMessage is the catalog snapshot, sent once on connect and again
// whenever the catalog changes.
type ProjectsMessage struct {
	Type string        `json:"type"`
	List []ProjectInfo `json:"list"`
}

type ProjectInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// EventMessage notifies subscribers about project record changes. Events for
// the same project within the batching window are coalesced.
type EventMessage struct {
	Type    string   `json:"type"`
	Project string   `json:"project"`
	Events  []string `json:"events"`
	Ts      int64    `json:"ts"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type hubBroadcast struct {
	data    []byte
	project string
}
