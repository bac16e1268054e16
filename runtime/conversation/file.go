package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RRiiiccckkk/FractFlow/runtime/logger"
)

const (
	sessionFilePrefix = "session_"
	sessionFileSuffix = ".json"
	dirPerm           = 0o755
	filePerm          = 0o644
)

// sessionFile is the on-disk layout of one session.
type sessionFile struct {
	SessionID   string    `json:"session_id"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdate  time.Time `json:"last_update"`
	CurrentTurn int       `json:"current_turn"`
	Turns       []Turn    `json:"conversation_history"`
	Statistics  Stats     `json:"statistics"`
}

// SessionSummary describes a session file on disk.
type SessionSummary struct {
	ID      string
	Path    string
	ModTime time.Time
}

// FileCache stores one session as a JSON file under a cache directory.
// Writes go to a temporary file that is renamed over the session file.
type FileCache struct {
	mu sync.Mutex

	dir             string
	path            string
	data            sessionFile
	resumed         bool
	resumeWindow    time.Duration
	maxContextChars int
	sessionID       string
	now             func() time.Time
}

// FileOption configures a FileCache.
type FileOption func(*FileCache)

// WithResumeWindow sets how recent the newest session must be to resume it.
// Zero always starts a new session.
func WithResumeWindow(d time.Duration) FileOption {
	return func(c *FileCache) { c.resumeWindow = d }
}

// WithSession opens the named session instead of resuming the newest one.
func WithSession(id string) FileOption {
	return func(c *FileCache) { c.sessionID = id }
}

// WithContextChars sets the context size used by Stats.
func WithContextChars(n int) FileOption {
	return func(c *FileCache) { c.maxContextChars = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) FileOption {
	return func(c *FileCache) { c.now = now }
}

// OpenFileCache opens dir, creating it if needed. It resumes the most
// recently written session when that file is within the resume window,
// otherwise it starts a new session. A new session is not written until
// its first turn.
func OpenFileCache(dir string, opts ...FileOption) (*FileCache, error) {
	c := &FileCache{
		dir:             dir,
		resumeWindow:    DefaultResumeWindow,
		maxContextChars: DefaultMaxContextChars,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	if c.sessionID != "" {
		path := sessionPath(dir, c.sessionID)
		data, err := readSessionFile(path)
		if err != nil {
			return nil, err
		}
		c.path, c.data, c.resumed = path, *data, true
		return c, nil
	}

	if c.resumeWindow > 0 {
		if err := c.resumeLatest(); err != nil {
			logger.Warn("Conversation: failed to resume session, starting fresh", "error", err)
		}
	}
	if !c.resumed {
		now := c.now()
		id := NewSessionID(now)
		c.path = sessionPath(dir, id)
		c.data = sessionFile{SessionID: id, CreatedAt: now}
	}

	logger.Info("Conversation: cache opened",
		"dir", dir, "session_id", c.data.SessionID, "turns", len(c.data.Turns), "resumed", c.resumed)
	return c, nil
}

func (c *FileCache) resumeLatest() error {
	sessions, err := ListSessions(c.dir)
	if err != nil || len(sessions) == 0 {
		return err
	}
	latest := sessions[0]
	if age := c.now().Sub(latest.ModTime); age > c.resumeWindow {
		logger.Info("Conversation: newest session too old to resume", "age", age.Round(time.Minute))
		return nil
	}
	data, err := readSessionFile(latest.Path)
	if err != nil {
		return err
	}
	c.path, c.data, c.resumed = latest.Path, *data, true
	return nil
}

// SessionID implements Cache.
func (c *FileCache) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.SessionID
}

// Path returns the session file path.
func (c *FileCache) Path() string { return c.path }

// Resumed reports whether an existing session was loaded.
func (c *FileCache) Resumed() bool { return c.resumed }

// AppendTurn implements Cache. The session file is rewritten on every call.
func (c *FileCache) AppendTurn(_ context.Context, userText, aiText string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	t, err := newTurn(c.data.CurrentTurn+1, userText, aiText, now)
	if err != nil {
		return err
	}
	c.data.CurrentTurn++
	c.data.Turns = append(c.data.Turns, t)
	c.data.LastUpdate = now
	c.data.Statistics = computeStats(c.data.SessionID, c.data.Turns, c.maxContextChars)

	if err := c.saveLocked(); err != nil {
		return err
	}
	logger.Debug("Conversation: turn saved", "turn", t.Index,
		"user_chars", len([]rune(t.UserText)), "ai_chars", len([]rune(t.AIText)))
	return nil
}

// Turns implements Cache.
func (c *FileCache) Turns(_ context.Context) ([]Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Turn(nil), c.data.Turns...), nil
}

// GetContext implements Cache.
func (c *FileCache) GetContext(ctx context.Context, maxChars int) (string, error) {
	turns, _ := c.Turns(ctx)
	return BuildContext(turns, maxChars), nil
}

// Stats summarizes the open session.
func (c *FileCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := computeStats(c.data.SessionID, c.data.Turns, c.maxContextChars)
	st.File = c.path
	return st
}

// Export writes the open session in the given format.
func (c *FileCache) Export(w io.Writer, format ExportFormat) error {
	c.mu.Lock()
	id := c.data.SessionID
	turns := append([]Turn(nil), c.data.Turns...)
	c.mu.Unlock()
	return Export(w, format, id, turns, c.now())
}

// Cleanup removes session files last written before olderThan ago. The
// open session is kept. It returns the number of files removed.
func (c *FileCache) Cleanup(olderThan time.Duration) (int, error) {
	sessions, err := ListSessions(c.dir)
	if err != nil {
		return 0, err
	}
	cutoff := c.now().Add(-olderThan)
	removed := 0
	var errs []error
	for _, s := range sessions {
		if s.Path == c.path || !s.ModTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("Conversation: removed old sessions", "count", removed, "older_than", olderThan)
	}
	return removed, errors.Join(errs...)
}

// Close implements Cache.
func (c *FileCache) Close() error {
	st := c.Stats()
	if st.TotalTurns > 0 {
		logger.Info("Conversation: session closed",
			"session_id", st.SessionID, "turns", st.TotalTurns,
			"duration_minutes", st.DurationMinutes, "file", st.File)
	}
	return nil
}

func (c *FileCache) saveLocked() error {
	data, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	tmp := strings.TrimSuffix(c.path, sessionFileSuffix) + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// ListSessions returns the session files in dir, newest first.
func ListSessions(dir string) ([]SessionSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []SessionSummary
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, sessionFilePrefix) || !strings.HasSuffix(name, sessionFileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, SessionSummary{
			ID:      strings.TrimSuffix(strings.TrimPrefix(name, sessionFilePrefix), sessionFileSuffix),
			Path:    filepath.Join(dir, name),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}

func sessionPath(dir, id string) string {
	return filepath.Join(dir, sessionFilePrefix+id+sessionFileSuffix)
}

func readSessionFile(path string) (*sessionFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, path)
		}
		return nil, err
	}
	var data sessionFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse session file %s: %w", path, err)
	}
	return &data, nil
}
