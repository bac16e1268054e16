// Command fractflow-voice runs a full-duplex voice conversation against a
// realtime speech service and manages the local conversation history.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/RRiiiccckkk/FractFlow/runtime/logger"
)

// envPrefix namespaces the environment overrides read through viper,
// e.g. FRACTFLOW_MODE or FRACTFLOW_METRICS_ADDR.
const envPrefix = "FRACTFLOW"

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fractflow-voice",
		Short:         "Full-duplex voice assistant",
		Version:       GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: false,
		Long: `fractflow-voice talks to a realtime speech service with local
microphone capture and speaker playback. The assistant can be interrupted
while it speaks, and the conversation history is kept between sessions.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cmd.Flags().Changed("verbose") {
				verbose, err := cmd.Flags().GetBool("verbose")
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error getting verbose flag: %v\n", err)
					return
				}
				logger.SetVerbose(verbose)
			}
		},
	}
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringP(keyConfig, "c", "", "VoiceAgent manifest path")
	cmd.PersistentFlags().String(keyEnvFile, "", "dotenv file with API keys (default ./.env if present)")

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	_ = v.BindPFlag(keyConfig, cmd.PersistentFlags().Lookup(keyConfig))
	_ = v.BindPFlag(keyEnvFile, cmd.PersistentFlags().Lookup(keyEnvFile))

	cmd.AddCommand(newRunCmd(v), newHistoryCmd(v), newConfigCmd(), newVersionCmd())
	cmd.SetVersionTemplate(GetVersionInfo() + "\n")
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

func main() {
	Execute()
}
