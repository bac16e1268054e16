package conversation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ExportFormat selects the Export rendering.
type ExportFormat string

// Export formats.
const (
	FormatMarkdown ExportFormat = "markdown"
	FormatText     ExportFormat = "text"
	FormatJSON     ExportFormat = "json"
)

// ParseExportFormat validates a format name.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatMarkdown, FormatText, FormatJSON:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	case "txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Export renders turns of one session.
func Export(w io.Writer, format ExportFormat, sessionID string, turns []Turn, now time.Time) error {
	switch format {
	case FormatJSON:
		if turns == nil {
			turns = []Turn{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(turns)
	case FormatMarkdown, FormatText:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	if len(turns) == 0 {
		_, err := io.WriteString(w, "No conversation history to export\n")
		return err
	}

	var b strings.Builder
	minutes := sessionMinutes(turns)
	stamp := now.Format("2006-01-02 15:04:05")

	if format == FormatMarkdown {
		fmt.Fprintf(&b, "# Conversation history\n\n")
		fmt.Fprintf(&b, "**Session**: %s\n", sessionID)
		fmt.Fprintf(&b, "**Exported**: %s\n", stamp)
		fmt.Fprintf(&b, "**Turns**: %d\n", len(turns))
		fmt.Fprintf(&b, "**Duration**: %.1f minutes\n\n---\n\n", minutes)
		for i, t := range turns {
			fmt.Fprintf(&b, "## Turn %d (%s)\n\n", i+1, t.Timestamp.Format("15:04:05"))
			fmt.Fprintf(&b, "**User**: %s\n\n", t.UserText)
			fmt.Fprintf(&b, "**Assistant**: %s\n\n---\n\n", t.AIText)
		}
	} else {
		fmt.Fprintf(&b, "Conversation history export - %s\n", stamp)
		fmt.Fprintf(&b, "Session: %s\n", sessionID)
		fmt.Fprintf(&b, "Turns: %d\n", len(turns))
		fmt.Fprintf(&b, "Duration: %.1f minutes\n\n%s\n\n", minutes, strings.Repeat("=", 50))
		for i, t := range turns {
			fmt.Fprintf(&b, "Turn %d (%s)\n\n", i+1, t.Timestamp.Format("15:04:05"))
			fmt.Fprintf(&b, "User: %s\n\n", t.UserText)
			fmt.Fprintf(&b, "Assistant: %s\n\n%s\n\n", t.AIText, strings.Repeat("-", 30))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
