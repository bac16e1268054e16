package conversation

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExportFormat(t *testing.T) {
	tests := []struct {
		in   string
		want ExportFormat
	}{
		{"markdown", FormatMarkdown},
		{"MD", FormatMarkdown},
		{"text", FormatText},
		{"txt", FormatText},
		{" json ", FormatJSON},
	}
	for _, tt := range tests {
		got, err := ParseExportFormat(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseExportFormat("pdf")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestExport_Text(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, FormatText, "sid", makeTurns(2, now), now))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Conversation history export - 2026-05-01 12:00:00\n"))
	assert.Contains(t, out, "Session: sid")
	assert.Contains(t, out, strings.Repeat("=", 50))
	assert.Contains(t, out, "Turn 1 (12:00:00)")
	assert.Contains(t, out, "User: question 2")
	assert.Equal(t, 2, strings.Count(out, strings.Repeat("-", 30)))
}

func TestExport_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, FormatMarkdown, "sid", nil, time.Now()))
	assert.Equal(t, "No conversation history to export\n", buf.String())

	buf.Reset()
	require.NoError(t, Export(&buf, FormatJSON, "sid", nil, time.Now()))
	assert.Equal(t, "[]\n", buf.String())
}

func TestExport_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Export(&buf, "yaml", "sid", nil, time.Now()), ErrUnknownFormat)
}
