// Package live runs a bidirectional voice session against a realtime model:
// microphone frames stream out over a transport while the model's audio is
// decoded and scheduled gaplessly, with barge-in and turn bookkeeping.
package live

import (
	"context"

	"github.com/pteprep/livevoice/pkg/audio"
)

// State is the lifecycle state of a Session.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Interrupted
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Interrupted:
		return "interrupted"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// active reports whether the session accepts inbound audio.
func (s State) active() bool {
	return s == Open || s == Interrupted
}

// Turn is one finalized exchange.
type Turn struct {
	User  string `json:"user"`
	Model string `json:"model"`
}

// Message is one server message from the model, already parsed by the
// transport. AudioChunks carry base64 PCM16 at audio.ModelFormat.
type Message struct {
	AudioChunks      []string
	InputTranscript  string
	OutputTranscript string
	Interrupted      bool
	TurnComplete     bool
}

// Handler receives transport callbacks. Callbacks for one transport are
// delivered sequentially.
type Handler interface {
	OnOpen()
	OnMessage(msg Message)
	OnError(err error)
	OnClose(reason string)
}

// Transport is an open connection to the model.
type Transport interface {
	SendAudio(p audio.Packet) error
	Close() error
}

// Dialer opens transports. Dial returns once the connection attempt is
// underway; OnOpen signals that the model is ready to receive audio.
type Dialer interface {
	Dial(ctx context.Context, h Handler) (Transport, error)
}

type EventType string

const (
	StateChanged      EventType = "STATE_CHANGED"
	TranscriptPartial EventType = "TRANSCRIPT_PARTIAL"
	TurnCompleted     EventType = "TURN_COMPLETED"
	InterruptedEvent  EventType = "INTERRUPTED"
	ErrorEvent        EventType = "ERROR"
)

// Event is emitted on Session.Events. Data is a State for StateChanged, a
// Partial for TranscriptPartial, a Turn for TurnCompleted, the number of
// stopped handles for InterruptedEvent and an error for ErrorEvent.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
}

// Partial holds the transcript accumulated since the last turn completed.
type Partial struct {
	User  string `json:"user"`
	Model string `json:"model"`
}
