package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/RRiiiccckkk/FractFlow/runtime/coordinator"
	"github.com/RRiiiccckkk/FractFlow/runtime/logger"
	"github.com/RRiiiccckkk/FractFlow/runtime/realtime"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a voice conversation",
		Long: `Start a full-duplex voice conversation with the realtime model.

In manual mode press Enter to start speaking and Enter again to send.
In continuous mode the server detects when you stop talking.

Commands typed at the prompt:
  <Enter>   start or finish a turn (manual mode)
  i         interrupt the assistant
  q         quit
  <text>    send a typed message`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVoice(cmd, v)
		},
	}

	cmd.Flags().String(keyMode, "", "conversation mode: manual or continuous")
	cmd.Flags().Bool(keyDryRun, false, "use a silent in-memory audio device")
	cmd.Flags().String(keyMetricsAddr, "", "serve Prometheus metrics on this address")
	cmd.Flags().Bool(keyPrintMetrics, false, "print all session metrics on exit")
	for _, k := range []string{keyMode, keyDryRun, keyMetricsAddr, keyPrintMetrics} {
		_ = v.BindPFlag(k, cmd.Flags().Lookup(k))
	}
	return cmd
}

func runVoice(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadAgent(v)
	if err != nil {
		return err
	}
	if cfg.Spec.Logging != nil {
		if err := logger.Configure(cfg.Spec.Logging.LoggerSpec()); err != nil {
			return fmt.Errorf("logging: %w", err)
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logger.SetVerbose(true)
		}
	}
	if cfg.Spec.Realtime.APIKey == "" {
		return errors.New("no API key: set DASHSCOPE_API_KEY or QWEN_API_KEY, or spec.realtime.apiKey")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	a, err := buildApp(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(ctx); cerr != nil {
			logger.Warn("Shutdown: release failed", "error", cerr)
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- a.coord.Run(ctx) }()

	select {
	case <-a.coord.Ready():
	case err := <-runErr:
		return err
	}
	fmt.Fprintf(out, "Connected (%s mode). Type q to quit.\n", cfg.Spec.Mode)
	if interactive(cmd.InOrStdin()) {
		fmt.Fprintln(out, promptHelp(cfg.Spec.Mode))
	}

	quit := make(chan struct{})
	go readCommands(ctx, cmd.InOrStdin(), a.coord, realtime.Mode(cfg.Spec.Mode), out, quit)

	select {
	case err := <-runErr:
		return err
	case <-quit:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.coord.Shutdown(shutdownCtx); err != nil {
		return err
	}
	err = <-runErr
	if perr := printSummary(out, a.metrics, v.GetBool(keyPrintMetrics)); perr != nil {
		logger.Warn("Metrics: summary failed", "error", perr)
	}
	return err
}

func interactive(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func promptHelp(mode string) string {
	if mode == string(realtime.ModeManual) {
		return "Enter: start/send a turn   i: interrupt   q: quit   text: type a message"
	}
	return "Speak any time   i: interrupt   q: quit   text: type a message"
}

// commandKind is a parsed prompt line.
type commandKind int

const (
	cmdToggle commandKind = iota
	cmdInterrupt
	cmdQuit
	cmdText
)

func parseCommand(line string) (commandKind, string) {
	text := strings.TrimSpace(line)
	switch strings.ToLower(text) {
	case "":
		return cmdToggle, ""
	case "i", "interrupt":
		return cmdInterrupt, ""
	case "q", "quit", "exit":
		return cmdQuit, ""
	default:
		return cmdText, text
	}
}

// controller is the subset of the coordinator the prompt drives.
type controller interface {
	State() coordinator.State
	StartTurn(ctx context.Context) error
	Commit(ctx context.Context) error
	Interrupt(ctx context.Context) error
	SendText(ctx context.Context, text string) error
}

// handleLine applies one prompt line. It reports whether to quit.
func handleLine(ctx context.Context, c controller, mode realtime.Mode, line string, out io.Writer) (bool, error) {
	kind, text := parseCommand(line)
	switch kind {
	case cmdQuit:
		return true, nil
	case cmdInterrupt:
		return false, c.Interrupt(ctx)
	case cmdText:
		return false, c.SendText(ctx, text)
	}

	if mode != realtime.ModeManual {
		fmt.Fprintln(out, "Listening; just speak.")
		return false, nil
	}
	switch c.State() {
	case coordinator.StateIdle:
		if err := c.StartTurn(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "Recording... press Enter to send.")
		return false, nil
	case coordinator.StateRecordingUser:
		return false, c.Commit(ctx)
	default:
		// Enter while the assistant talks cuts it off.
		return false, c.Interrupt(ctx)
	}
}

func readCommands(ctx context.Context, in io.Reader, c controller, mode realtime.Mode, out io.Writer, quit chan<- struct{}) {
	defer close(quit)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		done, err := handleLine(ctx, c, mode, sc.Text(), out)
		if err != nil {
			if errors.Is(err, coordinator.ErrClosed) {
				return
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if done {
			return
		}
	}
}
