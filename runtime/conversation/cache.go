// Package conversation stores completed voice turns and renders them as
// context for a new or resumed realtime session.
//
// Three backends implement Cache: MemoryCache for tests and dry runs,
// FileCache for local JSON session files, and RedisCache for shared
// deployments.
package conversation

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Defaults.
const (
	DefaultMaxContextChars = 4000
	DefaultMaxTurns        = 20
	DefaultResumeWindow    = 24 * time.Hour
	DefaultRetention       = 7 * 24 * time.Hour

	summaryMinTurns = 5
	recentTurns     = 5
	previewRunes    = 30
)

var (
	// ErrEmptyTurn is returned when both sides of a turn are empty.
	ErrEmptyTurn = errors.New("turn has no text")
	// ErrUnknownFormat is returned by Export for an unsupported format.
	ErrUnknownFormat = errors.New("unknown export format")
	// ErrSessionNotFound is returned when a named session does not exist.
	ErrSessionNotFound = errors.New("session not found")
)

// Turn is one completed exchange.
type Turn struct {
	Index     int       `json:"turn_id"`
	Timestamp time.Time `json:"timestamp"`
	UserText  string    `json:"user_text"`
	AIText    string    `json:"ai_text"`
}

// Cache persists turns for one conversation session.
type Cache interface {
	// SessionID identifies the session turns are appended to.
	SessionID() string
	// AppendTurn records a completed turn.
	AppendTurn(ctx context.Context, userText, aiText string) error
	// Turns returns every stored turn, oldest first.
	Turns(ctx context.Context) ([]Turn, error)
	// GetContext renders recent turns within maxChars. It returns "" when
	// there is no history.
	GetContext(ctx context.Context, maxChars int) (string, error)
	Close() error
}

// Stats summarizes a session.
type Stats struct {
	SessionID       string  `json:"session_id"`
	TotalTurns      int     `json:"total_turns"`
	DurationMinutes float64 `json:"session_duration_minutes"`
	TotalUserChars  int     `json:"total_user_chars"`
	TotalAIChars    int     `json:"total_ai_chars"`
	AvgUserChars    float64 `json:"average_user_response_length"`
	AvgAIChars      float64 `json:"average_ai_response_length"`
	ContextChars    int     `json:"current_context_length"`
	File            string  `json:"cache_file,omitempty"`
}

// NewSessionID returns an id of the form 20060102_150405_<8 hex>.
func NewSessionID(now time.Time) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return now.Format("20060102_150405") + "_" + hex[:8]
}

func newTurn(index int, userText, aiText string, now time.Time) (Turn, error) {
	userText = strings.TrimSpace(userText)
	aiText = strings.TrimSpace(aiText)
	if userText == "" && aiText == "" {
		return Turn{}, ErrEmptyTurn
	}
	return Turn{Index: index, Timestamp: now, UserText: userText, AIText: aiText}, nil
}

const (
	contextHeader = "Here is our conversation so far. Use it as background when answering:\n"
	contextFooter = "\nAnswer my next question naturally, taking this history into account."
)

// BuildContext renders turns newest-first until adding another would exceed
// maxChars, then restores chronological order. When turns were left out of
// a history longer than five turns, a one-line summary of the earlier ones
// is included. Length is counted in characters, not bytes.
func BuildContext(turns []Turn, maxChars int) string {
	if len(turns) == 0 {
		return ""
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxContextChars
	}

	total := utf8.RuneCountInString(contextHeader)
	var picked []string
	for i := len(turns) - 1; i >= 0; i-- {
		block := formatContextTurn(turns[i])
		n := utf8.RuneCountInString(block)
		if total+n > maxChars {
			break
		}
		picked = append(picked, block)
		total += n
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	if len(picked) < len(turns) && len(turns) > summaryMinTurns {
		b.WriteString("\nEarlier conversation summary: ")
		b.WriteString(summarize(turns[:len(turns)-recentTurns]))
		b.WriteString("\n")
	}
	for i := len(picked) - 1; i >= 0; i-- {
		b.WriteString(picked[i])
	}
	b.WriteString(contextFooter)
	return b.String()
}

func formatContextTurn(t Turn) string {
	var b strings.Builder
	b.WriteString("\nTurn ")
	b.WriteString(itoa(t.Index))
	b.WriteString(":\nUser: ")
	b.WriteString(t.UserText)
	b.WriteString("\nAssistant: ")
	b.WriteString(t.AIText)
	b.WriteString("\n")
	return b.String()
}

// summarize lists the first few user requests of the early turns.
func summarize(early []Turn) string {
	var asked []string
	for _, t := range early {
		if t.UserText == "" {
			continue
		}
		asked = append(asked, preview(t.UserText, previewRunes))
		if len(asked) == 3 {
			break
		}
	}
	s := itoa(len(early)) + " earlier turns"
	if len(asked) > 0 {
		s += "; the user asked about: " + strings.Join(asked, "; ")
	}
	return s
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

func computeStats(sessionID string, turns []Turn, maxChars int) Stats {
	st := Stats{SessionID: sessionID, TotalTurns: len(turns)}
	if len(turns) == 0 {
		return st
	}
	for _, t := range turns {
		st.TotalUserChars += utf8.RuneCountInString(t.UserText)
		st.TotalAIChars += utf8.RuneCountInString(t.AIText)
	}
	n := float64(len(turns))
	st.AvgUserChars = float64(st.TotalUserChars) / n
	st.AvgAIChars = float64(st.TotalAIChars) / n
	st.DurationMinutes = sessionMinutes(turns)
	st.ContextChars = utf8.RuneCountInString(BuildContext(turns, maxChars))
	return st
}

func sessionMinutes(turns []Turn) float64 {
	if len(turns) < 2 {
		return 0
	}
	d := turns[len(turns)-1].Timestamp.Sub(turns[0].Timestamp).Minutes()
	return float64(int(d*10+0.5)) / 10
}
