package server

// Event is the JSON envelope for every server-to-client message.
//
//	{"type": "status", "data": "listening"}
//	{"type": "transcript", "data": "Guten Tag, ich..."}
//	{"type": "insight", "data": "* Risikoprofil klären."}
type Event struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

// Event types sent to the client.
const (
	// EventStatus reports a session lifecycle change.
	EventStatus = "status"

	// EventTranscript carries the full stabilized transcript so far.
	EventTranscript = "transcript"

	// EventInsight carries one accepted agent suggestion.
	EventInsight = "insight"

	// EventPong answers a client ping.
	EventPong = "pong"
)

// Command is the JSON envelope for every client-to-server message.
//
//	{"action": "start", "language": "de"}
//	{"action": "stop"}
//	{"action": "ping"}
type Command struct {
	Action   string `json:"action"`
	Language string `json:"language,omitempty"`
}

// Command actions accepted from the client.
const (
	// ActionStart begins a new advisory session. A session already running
	// on the connection is stopped and replaced.
	ActionStart = "start"

	// ActionStop flushes and closes the running session.
	ActionStop = "stop"

	// ActionPing requests an [EventPong] keepalive reply.
	ActionPing = "ping"
)
