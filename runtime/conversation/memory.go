package conversation

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryCache keeps the most recent turns in memory.
type MemoryCache struct {
	mu        sync.RWMutex
	sessionID string
	turns     []Turn
	next      int
	maxTurns  int
	now       func() time.Time
}

// NewMemoryCache creates an empty cache bounded to maxTurns. Zero uses
// DefaultMaxTurns.
func NewMemoryCache(maxTurns int) *MemoryCache {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &MemoryCache{
		sessionID: NewSessionID(time.Now()),
		maxTurns:  maxTurns,
		now:       time.Now,
	}
}

// SessionID implements Cache.
func (m *MemoryCache) SessionID() string { return m.sessionID }

// AppendTurn implements Cache. The oldest turn is evicted past maxTurns.
func (m *MemoryCache) AppendTurn(_ context.Context, userText, aiText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := newTurn(m.next+1, userText, aiText, m.now())
	if err != nil {
		return err
	}
	m.next++
	m.turns = append(m.turns, t)
	if over := len(m.turns) - m.maxTurns; over > 0 {
		m.turns = append([]Turn(nil), m.turns[over:]...)
	}
	return nil
}

// Turns implements Cache.
func (m *MemoryCache) Turns(_ context.Context) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Turn(nil), m.turns...), nil
}

// GetContext implements Cache.
func (m *MemoryCache) GetContext(ctx context.Context, maxChars int) (string, error) {
	turns, _ := m.Turns(ctx)
	return BuildContext(turns, maxChars), nil
}

// Close implements Cache.
func (m *MemoryCache) Close() error { return nil }

func itoa(n int) string { return strconv.Itoa(n) }
