package realtime

import (
	"encoding/json"
	"strings"
)

// Client event types.
const (
	typeSessionUpdate          = "session.update"
	typeInputAudioAppend       = "input_audio_buffer.append"
	typeInputAudioCommit       = "input_audio_buffer.commit"
	typeInputAudioClear        = "input_audio_buffer.clear"
	typeConversationItemCreate = "conversation.item.create"
	typeResponseCreate         = "response.create"
	typeResponseCancel         = "response.cancel"
)

// Server event types.
const (
	typeError                 = "error"
	typeSessionCreated        = "session.created"
	typeSessionUpdated        = "session.updated"
	typeSpeechStarted         = "input_audio_buffer.speech_started"
	typeSpeechStopped         = "input_audio_buffer.speech_stopped"
	typeBufferCommitted       = "input_audio_buffer.committed"
	typeBufferCleared         = "input_audio_buffer.cleared"
	typeInputTranscript       = "conversation.item.input_audio_transcription.completed"
	typeResponseCreated       = "response.created"
	typeResponseDone          = "response.done"
	typeResponseCancelled     = "response.cancelled"
	typeResponseAudioDelta    = "response.audio.delta"
	typeResponseAudioDone     = "response.audio.done"
	typeResponseTextDelta     = "response.text.delta"
	typeResponseTextDone      = "response.text.done"
	typeTranscriptDelta       = "response.audio_transcript.delta"
	typeTranscriptDone        = "response.audio_transcript.done"
	codeResponseNotActive     = "response_cancel_not_active"
	authErrorCodeInvalidKey   = "invalid_api_key"
	authErrorTypeInvalidReq   = "invalid_request_error"
	authErrorTypeAuthenticate = "authentication_error"
)

// StatusCancelled is the response.done status of a cancelled response.
const StatusCancelled = "cancelled"

// ClientEvent is the base structure for all client events.
type ClientEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

// SessionUpdateEvent updates session configuration.
type SessionUpdateEvent struct {
	ClientEvent
	Session SessionConfig `json:"session"`
}

// SessionConfig is the session configuration sent in session.update.
// TurnDetection has no omitempty: an explicit null disables server VAD,
// while omitting it makes the server fall back to its default.
type SessionConfig struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetectionConfig `json:"turn_detection"`
	Temperature             float64              `json:"temperature,omitempty"`
	MaxResponseOutputTokens any                  `json:"max_response_output_tokens,omitempty"`
}

// TranscriptionConfig selects the input transcription model.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// TurnDetectionConfig configures server-side voice activity detection.
type TurnDetectionConfig struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    *bool   `json:"create_response,omitempty"`
	InterruptResponse *bool   `json:"interrupt_response,omitempty"`
}

// InputAudioBufferAppendEvent appends audio to the input buffer.
type InputAudioBufferAppendEvent struct {
	ClientEvent
	Audio string `json:"audio"` // Base64-encoded PCM16
}

// ConversationItemCreateEvent adds an item to the conversation.
type ConversationItemCreateEvent struct {
	ClientEvent
	Item ConversationItem `json:"item"`
}

// ConversationItem represents an item in the conversation.
type ConversationItem struct {
	ID      string                `json:"id,omitempty"`
	Type    string                `json:"type"`
	Role    string                `json:"role,omitempty"`
	Content []ConversationContent `json:"content,omitempty"`
}

// ConversationContent represents content within a conversation item.
type ConversationContent struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ServerEvent is the base structure for all server events.
type ServerEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

// ErrorEvent indicates an error occurred.
type ErrorEvent struct {
	ServerEvent
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// SessionCreatedEvent is sent when the session is established.
type SessionCreatedEvent struct {
	ServerEvent
	Session SessionInfo `json:"session"`
}

// SessionInfo contains the server's view of the session.
type SessionInfo struct {
	ID                string               `json:"id"`
	Model             string               `json:"model"`
	Voice             string               `json:"voice"`
	InputAudioFormat  string               `json:"input_audio_format"`
	OutputAudioFormat string               `json:"output_audio_format"`
	TurnDetection     *TurnDetectionConfig `json:"turn_detection"`
}

// SpeechEvent covers speech_started and speech_stopped.
type SpeechEvent struct {
	ServerEvent
	AudioStartMs int    `json:"audio_start_ms,omitempty"`
	AudioEndMs   int    `json:"audio_end_ms,omitempty"`
	ItemID       string `json:"item_id"`
}

// InputTranscriptEvent carries the transcription of the user's audio.
type InputTranscriptEvent struct {
	ServerEvent
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

// ResponseEvent covers response.created, response.done and response.cancelled.
type ResponseEvent struct {
	ServerEvent
	ResponseID string       `json:"response_id,omitempty"`
	Response   ResponseInfo `json:"response"`
}

// ID returns the response id from either field.
func (e *ResponseEvent) ID() string {
	if e.Response.ID != "" {
		return e.Response.ID
	}
	return e.ResponseID
}

// ResponseInfo contains response details.
type ResponseInfo struct {
	ID     string     `json:"id"`
	Status string     `json:"status"`
	Usage  *UsageInfo `json:"usage,omitempty"`
}

// UsageInfo contains token usage information.
type UsageInfo struct {
	TotalTokens  int `json:"total_tokens"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResponseDeltaEvent covers audio, text and transcript deltas and their done events.
type ResponseDeltaEvent struct {
	ServerEvent
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta,omitempty"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ParseServerEvent parses a raw JSON message into the matching event type.
// Unknown types come back as *ServerEvent.
func ParseServerEvent(data []byte) (any, error) {
	var base ServerEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}

	switch base.Type {
	case typeError:
		var e ErrorEvent
		return &e, json.Unmarshal(data, &e)
	case typeSessionCreated, typeSessionUpdated:
		var e SessionCreatedEvent
		return &e, json.Unmarshal(data, &e)
	case typeSpeechStarted, typeSpeechStopped:
		var e SpeechEvent
		return &e, json.Unmarshal(data, &e)
	case typeInputTranscript:
		var e InputTranscriptEvent
		return &e, json.Unmarshal(data, &e)
	case typeResponseCreated, typeResponseDone, typeResponseCancelled:
		var e ResponseEvent
		return &e, json.Unmarshal(data, &e)
	case typeResponseAudioDelta, typeResponseAudioDone,
		typeResponseTextDelta, typeResponseTextDone,
		typeTranscriptDelta, typeTranscriptDone:
		var e ResponseDeltaEvent
		return &e, json.Unmarshal(data, &e)
	default:
		return &base, nil
	}
}

// isBenignCancelError reports whether an error event is the server saying
// there was nothing to cancel.
func isBenignCancelError(d ErrorDetail) bool {
	if d.Code == codeResponseNotActive {
		return true
	}
	msg := strings.ToLower(d.Message)
	return strings.Contains(msg, "none active response") || strings.Contains(msg, "no active response")
}

// isAuthError reports whether an error event rejects the credentials.
func isAuthError(d ErrorDetail) bool {
	if d.Type == authErrorTypeAuthenticate || d.Code == authErrorCodeInvalidKey {
		return true
	}
	msg := strings.ToLower(d.Message)
	return d.Type == authErrorTypeInvalidReq &&
		(strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized"))
}
