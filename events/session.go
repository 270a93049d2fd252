package events

import "github.com/codewandler/voiceagent-go/tool"

type Session struct {
	ID                      string                   `json:"id,omitempty"`
	Object                  string                   `json:"object,omitempty"`
	ExpiresAt               int64                    `json:"expires_at,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	Model                   string                   `json:"model,omitempty"`
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	ToolChoice              string                   `json:"tool_choice,omitempty"`
	Temperature             float64                  `json:"temperature,omitempty"`
	Speed                   float64                  `json:"speed,omitempty"`
}

// SessionUpdate is always sent as a complete configuration. TurnDetection has
// no omitempty: a nil value is sent as null, which disables server side VAD.
type SessionUpdate struct {
	TurnDetection           *TurnDetection           `json:"turn_detection"`
	InputAudioFormat        AudioFormat              `json:"input_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	OutputAudioFormat       AudioFormat              `json:"output_audio_format,omitempty"`
	Temperature             float64                  `json:"temperature,omitempty"`
	Speed                   float64                  `json:"speed,omitempty"`
	Tools                   []tool.Definition        `json:"tools"`
	ToolChoice              tool.Choice              `json:"tool_choice,omitempty"`
}

// TurnDetection holds the VAD configuration.
type TurnDetection struct {
	Type              string  `json:"type,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response,omitempty"`
	InterruptResponse bool    `json:"interrupt_response,omitempty"`
}

type InputAudioTranscription struct {
	Model string `json:"model"`
}
