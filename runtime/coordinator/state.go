package coordinator

import "time"

// State is the coordinator state.
type State int

// Coordinator states.
const (
	StateIdle State = iota
	StateRecordingUser
	StateAwaitingResponse
	StateAiResponding
	StateInterrupting
	StateClosing
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StateRecordingUser:    "recording_user",
	StateAwaitingResponse: "awaiting_response",
	StateAiResponding:     "ai_responding",
	StateInterrupting:     "interrupting",
	StateClosing:          "closing",
}

// String returns the state name used in logs and metrics.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// TurnStatus is how a turn ended.
type TurnStatus string

// Turn outcomes.
const (
	TurnOpen        TurnStatus = "open"
	TurnCompleted   TurnStatus = "completed"
	TurnInterrupted TurnStatus = "interrupted"
	TurnCancelled   TurnStatus = "cancelled"
	TurnFailed      TurnStatus = "failed"
)

// Interrupt sources, as reported to the observer.
const (
	SourceLocal    = "local"
	SourceRemote   = "remote"
	SourceExplicit = "explicit"
)

// turn is the open ResponseTurn. requested and streaming are tracked
// separately so an interrupt before the first delta still cancels cleanly.
type turn struct {
	id         string
	started    time.Time
	requested  bool
	streaming  bool
	responseID string
	userText   string
	aiText     []byte
}

// TurnSnapshot is a read-only view of the open turn.
type TurnSnapshot struct {
	ID         string
	ResponseID string
	UserText   string
	AIText     string
	Requested  bool
	Streaming  bool
	StartedAt  time.Time
}

func (t *turn) snapshot() TurnSnapshot {
	return TurnSnapshot{
		ID:         t.id,
		ResponseID: t.responseID,
		UserText:   t.userText,
		AIText:     string(t.aiText),
		Requested:  t.requested,
		Streaming:  t.streaming,
		StartedAt:  t.started,
	}
}

// Role names a transcript speaker.
type Role string

// Transcript speakers.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Transcript is one piece of text delivered to the transcript sink.
type Transcript struct {
	TurnID string
	Role   Role
	Text   string
	// Final is set for the complete text of a finished utterance.
	Final bool
}
