package live

// ServerEvent is the tagged variant for messages arriving on the streaming
// channel. Exactly one concrete type describes each event; the transport
// classifies raw messages eagerly so nothing downstream handles an untyped
// payload.
type ServerEvent interface {
	serverEvent()
}

// UserTranscriptDelta carries an append-only fragment of the user's speech
// transcript for the current turn.
type UserTranscriptDelta struct {
	Text string
}

// ModelTranscriptDelta carries an append-only fragment of the model's speech
// transcript for the current turn.
type ModelTranscriptDelta struct {
	Text string
}

// TurnComplete marks the end of one user/model exchange.
type TurnComplete struct{}

// AudioPayload carries one chunk of synthesized speech as raw PCM bytes.
type AudioPayload struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// MalformedPayload carries an inbound audio part that could not be decoded.
// The session drops it and logs the reason; the stream continues.
type MalformedPayload struct {
	Err error
}

// StreamClosed signals that the remote party closed the channel.
type StreamClosed struct {
	Reason string
}

// StreamError signals an asynchronous, fatal channel failure.
type StreamError struct {
	Err error
}

func (UserTranscriptDelta) serverEvent()  {}
func (ModelTranscriptDelta) serverEvent() {}
func (TurnComplete) serverEvent()         {}
func (AudioPayload) serverEvent()         {}
func (MalformedPayload) serverEvent()     {}
func (StreamClosed) serverEvent()         {}
func (StreamError) serverEvent()          {}

// Role identifies the speaker a transcript fragment belongs to.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Event is the interface for all observable session events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StateChangedEvent is emitted when the session state changes.
type StateChangedEvent struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// TranscriptDeltaEvent is emitted as transcript fragments arrive.
type TranscriptDeltaEvent struct {
	Role  Role   `json:"role"`
	Delta string `json:"delta"`
}

func (e *TranscriptDeltaEvent) EventType() string { return "transcript.delta" }

// TurnCompletedEvent is emitted when a turn is sealed into history.
type TurnCompletedEvent struct {
	Turn Turn `json:"turn"`
}

func (e *TurnCompletedEvent) EventType() string { return "turn.completed" }

// AudioLevelEvent is emitted per captured frame with energy information,
// for a UI level meter.
type AudioLevelEvent struct {
	RMS  float64 `json:"rms"`
	Peak float64 `json:"peak"`
}

func (e *AudioLevelEvent) EventType() string { return "audio.level" }

// SessionClosedEvent is emitted when the session ends.
type SessionClosedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e *SessionClosedEvent) EventType() string { return "session.closed" }

// ErrorEvent is emitted when a fatal error terminates the session.
type ErrorEvent struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }
