package live

// SessionState represents the current state of the live session.
type SessionState int

const (
	// StateConnecting is the initial state while devices and the channel
	// are being acquired.
	StateConnecting SessionState = iota
	// StateInitializing is after the channel is open but before the
	// first server acknowledgment wires up capture.
	StateInitializing
	// StateConnected is when audio flows in both directions.
	StateConnected
	// StateClosed is when the session ended normally. Terminal.
	StateClosed
	// StateError is when the session ended with a fatal error. Terminal.
	StateError
)

// String returns the state name as rendered by the UI layer.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible from s.
func (s SessionState) Terminal() bool {
	return s == StateClosed || s == StateError
}

// SessionConfig holds all configuration for a live session.
type SessionConfig struct {
	// Model is the realtime speech model to connect to.
	Model string `json:"model"`

	// System is the system prompt passed through to the model.
	System string `json:"system,omitempty"`

	// Voice is the prebuilt voice name for synthesized speech.
	Voice string `json:"voice,omitempty"`

	// InputSampleRate is the capture sample rate in Hz. Default: 16000.
	InputSampleRate int `json:"input_sample_rate"`

	// OutputSampleRate is the playback sample rate in Hz. Default: 24000.
	OutputSampleRate int `json:"output_sample_rate"`

	// Channels is the number of audio channels. Default: 1 (mono).
	Channels int `json:"channels"`

	// FrameSize is the capture frame length in samples per channel.
	// Default: 4096.
	FrameSize int `json:"frame_size"`
}

// DefaultSessionConfig returns a SessionConfig with the platform defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:            "gemini-2.5-flash-native-audio-preview-09-2025",
		System:           "You are a friendly and helpful AI Tutor on the Manetar platform. Keep your responses concise and encouraging.",
		Voice:            "Zephyr",
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
		Channels:         1,
		FrameSize:        4096,
	}
}

// StreamConfig is the pass-through configuration handed to StreamClient.Open.
// The session performs no validation of these options beyond rejecting an
// unopened or already-open channel.
type StreamConfig struct {
	// Model is the realtime model name.
	Model string `json:"model"`

	// ResponseModalities lists the requested output modalities.
	// For audio sessions this is ["AUDIO"].
	ResponseModalities []string `json:"response_modalities,omitempty"`

	// Voice is the prebuilt voice name.
	Voice string `json:"voice,omitempty"`

	// InputTranscription requests transcription of captured user speech.
	InputTranscription bool `json:"input_transcription"`

	// OutputTranscription requests transcription of model speech.
	OutputTranscription bool `json:"output_transcription"`

	// SystemPrompt is the system instruction for the model.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// StreamConfig derives the channel configuration from the session config.
func (c SessionConfig) StreamConfig() StreamConfig {
	return StreamConfig{
		Model:               c.Model,
		ResponseModalities:  []string{"AUDIO"},
		Voice:               c.Voice,
		InputTranscription:  true,
		OutputTranscription: true,
		SystemPrompt:        c.System,
	}
}

// AudioConfig specifies audio format parameters.
type AudioConfig struct {
	// SampleRate in Hz. Common values: 16000, 24000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: 16 for the PCM wire format.
	BitsPerSample int `json:"bits_per_sample"`
}

// BytesPerSecond returns the audio byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c AudioConfig) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c AudioConfig) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}
