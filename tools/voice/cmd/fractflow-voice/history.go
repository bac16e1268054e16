package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/RRiiiccckkk/FractFlow/runtime/conversation"
)

func newHistoryCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and manage saved conversations",
	}
	cmd.PersistentFlags().String(keyHistoryDir, "", "history directory (default from the manifest)")
	_ = v.BindPFlag(keyHistoryDir, cmd.PersistentFlags().Lookup(keyHistoryDir))

	cmd.AddCommand(
		newHistoryListCmd(v),
		newHistoryStatsCmd(v),
		newHistoryExportCmd(v),
		newHistoryCleanupCmd(v),
	)
	return cmd
}

// historySettings resolves the history directory and retention.
func historySettings(v *viper.Viper) (string, time.Duration, error) {
	cfg, err := loadAgent(v)
	if err != nil {
		return "", 0, err
	}
	dir := cfg.Spec.Conversation.Dir
	if d := v.GetString(keyHistoryDir); d != "" {
		dir = d
	}
	return dir, cfg.Spec.Conversation.Retention, nil
}

// openSession opens session id, or the newest session when id is empty.
func openSession(dir, id string) (*conversation.FileCache, error) {
	if id == "" {
		sessions, err := conversation.ListSessions(dir)
		if err != nil {
			return nil, err
		}
		if len(sessions) == 0 {
			return nil, fmt.Errorf("no conversations in %s", dir)
		}
		id = sessions[0].ID
	}
	return conversation.OpenFileCache(dir, conversation.WithSession(id))
}

func newHistoryListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved sessions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _, err := historySettings(v)
			if err != nil {
				return err
			}
			sessions, err := conversation.ListSessions(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintf(out, "No conversations in %s\n", dir)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tUPDATED")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\n", s.ID, s.ModTime.Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func newHistoryStatsCmd(v *viper.Viper) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show statistics for a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _, err := historySettings(v)
			if err != nil {
				return err
			}
			cache, err := openSession(dir, session)
			if err != nil {
				return err
			}
			defer cache.Close()
			return printStats(cmd.OutOrStdout(), cache.Stats())
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id (default newest)")
	return cmd
}

func printStats(w io.Writer, s conversation.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Session:\t%s\n", s.SessionID)
	fmt.Fprintf(tw, "Turns:\t%d\n", s.TotalTurns)
	fmt.Fprintf(tw, "Duration:\t%.1f min\n", s.DurationMinutes)
	fmt.Fprintf(tw, "User chars:\t%d (avg %.1f)\n", s.TotalUserChars, s.AvgUserChars)
	fmt.Fprintf(tw, "Assistant chars:\t%d (avg %.1f)\n", s.TotalAIChars, s.AvgAIChars)
	fmt.Fprintf(tw, "Context chars:\t%d\n", s.ContextChars)
	if s.File != "" {
		fmt.Fprintf(tw, "File:\t%s\n", s.File)
	}
	return tw.Flush()
}

func newHistoryExportCmd(v *viper.Viper) *cobra.Command {
	var session, format, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a session as markdown, text or json",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := conversation.ParseExportFormat(format)
			if err != nil {
				return err
			}
			dir, _, err := historySettings(v)
			if err != nil {
				return err
			}
			cache, err := openSession(dir, session)
			if err != nil {
				return err
			}
			defer cache.Close()

			if output == "" {
				return cache.Export(cmd.OutOrStdout(), f)
			}
			file, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := cache.Export(file, f); err != nil {
				_ = file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id (default newest)")
	cmd.Flags().StringVarP(&format, "format", "f", string(conversation.FormatMarkdown), "markdown, text or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

func newHistoryCleanupCmd(v *viper.Viper) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete sessions not updated within the retention period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, retention, err := historySettings(v)
			if err != nil {
				return err
			}
			if olderThan > 0 {
				retention = olderThan
			}
			// A zero resume window opens a fresh, unwritten session so
			// every existing file is a cleanup candidate.
			cache, err := conversation.OpenFileCache(dir, conversation.WithResumeWindow(0))
			if err != nil {
				return err
			}
			defer cache.Close()
			n, err := cache.Cleanup(retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d session(s) older than %s\n", n, retention)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention override, e.g. 72h")
	return cmd
}
