package realtime

// EventType identifies a client event.
type EventType int

// Event types delivered to the OnEvent handler.
const (
	EventSpeechStarted EventType = iota
	EventSpeechStopped
	EventTranscriptDelta
	EventTranscriptDone
	EventAudioDelta
	EventResponseDone
	EventResponseCancelled
	EventProtocolError
	EventResponseCreated
	EventInputTranscript
	EventDisconnected
	EventReconnected
	EventConnectionLost
)

var eventTypeNames = map[EventType]string{
	EventSpeechStarted:     "speech_started",
	EventSpeechStopped:     "speech_stopped",
	EventTranscriptDelta:   "transcript_delta",
	EventTranscriptDone:    "transcript_done",
	EventAudioDelta:        "audio_delta",
	EventResponseDone:      "response_done",
	EventResponseCancelled: "response_cancelled",
	EventProtocolError:     "protocol_error",
	EventResponseCreated:   "response_created",
	EventInputTranscript:   "input_transcript",
	EventDisconnected:      "disconnected",
	EventReconnected:       "reconnected",
	EventConnectionLost:    "connection_lost",
}

// String returns the event type name.
func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// CancelOutcome is the result of a response.cancel.
type CancelOutcome int

const (
	// CancelUnacknowledged means no acknowledgement arrived in time or the
	// connection dropped first.
	CancelUnacknowledged CancelOutcome = iota
	// CancelConfirmed means the server cancelled an active response.
	CancelConfirmed
	// CancelNoActiveResponse means the response had already finished.
	CancelNoActiveResponse
)

// String returns the outcome name.
func (o CancelOutcome) String() string {
	switch o {
	case CancelConfirmed:
		return "confirmed"
	case CancelNoActiveResponse:
		return "no_active_response"
	default:
		return "unacknowledged"
	}
}

// Succeeded reports whether the server acknowledged the cancel.
func (o CancelOutcome) Succeeded() bool {
	return o == CancelConfirmed || o == CancelNoActiveResponse
}

// Event is a decoded server event or connection notification. Only the
// fields relevant to Type are set.
type Event struct {
	Type       EventType
	ResponseID string
	// Text is the transcript delta or final transcript.
	Text string
	// Audio is decoded PCM16 for EventAudioDelta.
	Audio []byte
	// Status is the response status for EventResponseDone.
	Status string
	// Outcome is set for EventResponseCancelled.
	Outcome CancelOutcome
	// Code is the server error code for EventProtocolError.
	Code string
	// Err is set for EventProtocolError, EventDisconnected and EventConnectionLost.
	Err error
	// Session is set for EventReconnected.
	Session *Session
}
