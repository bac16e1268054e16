package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCache_NewSessionWritesOnFirstTurn(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenFileCache(dir)
	require.NoError(t, err)
	assert.False(t, c.Resumed())

	_, err = os.Stat(c.Path())
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, c.AppendTurn(context.Background(), "hello", "hi there"))

	raw, err := os.ReadFile(c.Path())
	require.NoError(t, err)
	var data sessionFile
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, c.SessionID(), data.SessionID)
	assert.Equal(t, 1, data.CurrentTurn)
	require.Len(t, data.Turns, 1)
	assert.Equal(t, "hello", data.Turns[0].UserText)
	assert.Equal(t, 1, data.Statistics.TotalTurns)

	// No temporary file is left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileCache_ResumesRecentSession(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := OpenFileCache(dir)
	require.NoError(t, err)
	require.NoError(t, first.AppendTurn(ctx, "one", "1"))
	require.NoError(t, first.AppendTurn(ctx, "two", "2"))

	second, err := OpenFileCache(dir)
	require.NoError(t, err)
	assert.True(t, second.Resumed())
	assert.Equal(t, first.SessionID(), second.SessionID())

	require.NoError(t, second.AppendTurn(ctx, "three", "3"))
	turns, err := second.Turns(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, 3, turns[2].Index)
}

func TestFileCache_StaleSessionNotResumed(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	old, err := OpenFileCache(dir)
	require.NoError(t, err)
	require.NoError(t, old.AppendTurn(ctx, "old", "news"))
	stale := time.Now().Add(-25 * time.Hour)
	require.NoError(t, os.Chtimes(old.Path(), stale, stale))

	c, err := OpenFileCache(dir)
	require.NoError(t, err)
	assert.False(t, c.Resumed())
	assert.NotEqual(t, old.SessionID(), c.SessionID())

	text, err := c.GetContext(ctx, 4000)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestFileCache_ResumeDisabled(t *testing.T) {
	dir := t.TempDir()
	first, err := OpenFileCache(dir)
	require.NoError(t, err)
	require.NoError(t, first.AppendTurn(context.Background(), "a", "b"))

	c, err := OpenFileCache(dir, WithResumeWindow(0))
	require.NoError(t, err)
	assert.False(t, c.Resumed())
}

func TestFileCache_CorruptNewestStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session_bad.json"), []byte("{"), 0o644))

	c, err := OpenFileCache(dir)
	require.NoError(t, err)
	assert.False(t, c.Resumed())
}

func TestFileCache_WithSession(t *testing.T) {
	dir := t.TempDir()
	first, err := OpenFileCache(dir)
	require.NoError(t, err)
	require.NoError(t, first.AppendTurn(context.Background(), "a", "b"))

	c, err := OpenFileCache(dir, WithSession(first.SessionID()))
	require.NoError(t, err)
	assert.Equal(t, first.SessionID(), c.SessionID())

	_, err = OpenFileCache(dir, WithSession("20000101_000000_deadbeef"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFileCache_Cleanup(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	var paths, ids []string
	for i := 0; i < 3; i++ {
		c, err := OpenFileCache(dir, WithResumeWindow(0))
		require.NoError(t, err)
		require.NoError(t, c.AppendTurn(ctx, "q", "a"))
		paths = append(paths, c.Path())
		ids = append(ids, c.SessionID())
	}
	old := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(paths[0], old, old))
	require.NoError(t, os.Chtimes(paths[1], old, old))

	current, err := OpenFileCache(dir, WithSession(ids[1]))
	require.NoError(t, err)

	removed, err := current.Cleanup(DefaultRetention)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	sessions, err := ListSessions(dir)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
	_, err = os.Stat(paths[1])
	assert.NoError(t, err, "open session must survive cleanup")
}

func TestFileCache_StatsAndExport(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	c, err := OpenFileCache(dir, WithClock(now))
	require.NoError(t, err)
	require.NoError(t, c.AppendTurn(context.Background(), "what's the weather", "sunny"))
	clock = clock.Add(2 * time.Minute)
	require.NoError(t, c.AppendTurn(context.Background(), "and tomorrow", "rain"))

	st := c.Stats()
	assert.Equal(t, 2, st.TotalTurns)
	assert.Equal(t, 2.0, st.DurationMinutes)
	assert.Equal(t, c.Path(), st.File)

	var buf bytes.Buffer
	require.NoError(t, c.Export(&buf, FormatMarkdown))
	md := buf.String()
	assert.Contains(t, md, "# Conversation history")
	assert.Contains(t, md, "**Session**: "+c.SessionID())
	assert.Contains(t, md, "**Turns**: 2")
	assert.Contains(t, md, "## Turn 2 (09:02:00)")
	assert.Contains(t, md, "**Assistant**: rain")

	buf.Reset()
	require.NoError(t, c.Export(&buf, FormatJSON))
	var turns []Turn
	require.NoError(t, json.Unmarshal(buf.Bytes(), &turns))
	assert.Len(t, turns, 2)

	require.NoError(t, c.Close())
}
