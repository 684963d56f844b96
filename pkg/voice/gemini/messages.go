package gemini

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/manetar-ai/manetar-live/pkg/live"
)

// Wire types for the BidiGenerateContent websocket protocol. Field names
// follow the service's camelCase JSON.

type setupMessage struct {
	Setup *sessionSetup `json:"setup"`
}

type sessionSetup struct {
	Model                    string            `json:"model"`
	GenerationConfig         *generationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *content          `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}         `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}         `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig *voiceConfig `json:"voiceConfig,omitempty"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig *prebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type clientMessage struct {
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	Error         *serverError   `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// newSessionSetup builds the setup payload from a stream config.
func newSessionSetup(cfg live.StreamConfig) setupMessage {
	setup := &sessionSetup{
		Model: "models/" + cfg.Model,
	}

	gc := &generationConfig{ResponseModalities: cfg.ResponseModalities}
	if cfg.Voice != "" {
		gc.SpeechConfig = &speechConfig{
			VoiceConfig: &voiceConfig{
				PrebuiltVoiceConfig: &prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	setup.GenerationConfig = gc

	if cfg.SystemPrompt != "" {
		setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemPrompt}}}
	}
	if cfg.InputTranscription {
		setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		setup.OutputAudioTranscription = &struct{}{}
	}
	return setupMessage{Setup: setup}
}

// newRealtimeInput wraps one encoded chunk as a realtime input message.
func newRealtimeInput(chunk live.EncodedAudioChunk) clientMessage {
	return clientMessage{
		RealtimeInput: &realtimeInput{
			MediaChunks: []inlineData{{
				MIMEType: chunk.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(chunk.Data),
			}},
		},
	}
}

// classify converts one server message into its ordered typed events. A
// single message can carry a transcript fragment, a turn boundary, and audio
// at once; transcripts are surfaced first so readers never see audio for
// text they have not received.
func classify(msg serverMessage) []live.ServerEvent {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}

	var events []live.ServerEvent
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, live.UserTranscriptDelta{Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, live.ModelTranscriptDelta{Text: sc.OutputTranscription.Text})
	}
	if sc.TurnComplete {
		events = append(events, live.TurnComplete{})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				events = append(events, live.MalformedPayload{
					Err: live.NewMalformedAudioError("audio part is not valid base64"),
				})
				continue
			}
			events = append(events, live.AudioPayload{
				Data:       data,
				SampleRate: parsePCMRate(p.InlineData.MIMEType),
				Channels:   1,
			})
		}
	}
	return events
}

// parsePCMRate extracts the sample rate from a mime type such as
// "audio/pcm;rate=24000". Synthesized audio defaults to 24kHz.
func parsePCMRate(mimeType string) int {
	const defaultRate = 24000
	for _, param := range strings.Split(mimeType, ";") {
		param = strings.TrimSpace(param)
		if rest, ok := strings.CutPrefix(param, "rate="); ok {
			if rate, err := strconv.Atoi(rest); err == nil && rate > 0 {
				return rate
			}
		}
	}
	return defaultRate
}
