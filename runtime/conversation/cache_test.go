package conversation

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTurns(n int, start time.Time) []Turn {
	turns := make([]Turn, n)
	for i := range turns {
		turns[i] = Turn{
			Index:     i + 1,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			UserText:  "question " + itoa(i+1),
			AIText:    "answer " + itoa(i+1),
		}
	}
	return turns
}

func TestNewSessionID(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	id := NewSessionID(now)
	assert.Regexp(t, regexp.MustCompile(`^20260304_050607_[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, NewSessionID(now))
}

func TestBuildContext_Empty(t *testing.T) {
	assert.Equal(t, "", BuildContext(nil, 100))
}

func TestBuildContext_AllFitInOrder(t *testing.T) {
	turns := makeTurns(3, time.Now())
	ctx := BuildContext(turns, 4000)

	assert.True(t, strings.HasPrefix(ctx, contextHeader))
	assert.True(t, strings.HasSuffix(ctx, contextFooter))
	assert.NotContains(t, ctx, "Earlier conversation summary")

	i1 := strings.Index(ctx, "question 1")
	i2 := strings.Index(ctx, "question 2")
	i3 := strings.Index(ctx, "question 3")
	assert.True(t, i1 >= 0 && i1 < i2 && i2 < i3)
	assert.Contains(t, ctx, "Assistant: answer 2")
}

func TestBuildContext_NewestFirstWithinLimit(t *testing.T) {
	turns := makeTurns(4, time.Now())
	block := len(formatContextTurn(turns[3]))
	limit := len(contextHeader) + 2*block

	ctx := BuildContext(turns, limit)
	assert.NotContains(t, ctx, "question 1\n")
	assert.NotContains(t, ctx, "question 2\n")
	assert.Contains(t, ctx, "question 3")
	assert.Contains(t, ctx, "question 4")
	// Four turns is too few for a summary.
	assert.NotContains(t, ctx, "Earlier conversation summary")
}

func TestBuildContext_SummaryForLongHistory(t *testing.T) {
	turns := makeTurns(8, time.Now())
	block := len(formatContextTurn(turns[7]))
	limit := len(contextHeader) + 2*block

	ctx := BuildContext(turns, limit)
	assert.Contains(t, ctx, "Earlier conversation summary: 3 earlier turns; the user asked about: question 1; question 2; question 3")
	assert.Contains(t, ctx, "question 8")
	assert.NotContains(t, ctx, "Turn 6:")
}

func TestBuildContext_CountsCharacters(t *testing.T) {
	turns := []Turn{{Index: 1, UserText: "你好", AIText: "你好，有什么可以帮你？"}}
	block := formatContextTurn(turns[0])
	limit := len([]rune(contextHeader)) + len([]rune(block))
	assert.Contains(t, BuildContext(turns, limit), "你好")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short", 30))
	assert.Equal(t, "abc...", preview("abcdef", 3))
}

func TestComputeStats(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	turns := makeTurns(4, start)

	st := computeStats("s1", turns, 4000)
	assert.Equal(t, "s1", st.SessionID)
	assert.Equal(t, 4, st.TotalTurns)
	assert.Equal(t, 3.0, st.DurationMinutes)
	assert.Equal(t, 4*len("question 1"), st.TotalUserChars)
	assert.InDelta(t, float64(len("answer 1")), st.AvgAIChars, 1e-9)
	assert.Positive(t, st.ContextChars)

	assert.Equal(t, Stats{SessionID: "s2"}, computeStats("s2", nil, 4000))
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(3)
	defer c.Close()

	assert.NotEmpty(t, c.SessionID())
	assert.ErrorIs(t, c.AppendTurn(ctx, "  ", ""), ErrEmptyTurn)

	for i := 1; i <= 5; i++ {
		require.NoError(t, c.AppendTurn(ctx, " q"+itoa(i)+" ", "a"+itoa(i)))
	}

	turns, err := c.Turns(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, 3, turns[0].Index)
	assert.Equal(t, "q3", turns[0].UserText)
	assert.Equal(t, 5, turns[2].Index)

	text, err := c.GetContext(ctx, 4000)
	require.NoError(t, err)
	assert.Contains(t, text, "User: q5")
	assert.NotContains(t, text, "q2")
}
