// Command jarvis is the JARVIS voice assistant daemon: a realtime Gemini Live
// session with local microphone capture, speaker playback and Telegram
// message delivery, controlled over a small HTTP API.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/jarvis/internal/app"
	"github.com/MrWong99/jarvis/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:          "jarvis",
		Short:        "JARVIS voice assistant over Gemini Live",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return config.LoadDotEnv(flags.envFiles...)
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to the YAML configuration file (defaults apply when empty)")
	root.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil, "dotenv files to load credentials from (default .env)")

	run := newRunCmd(flags)
	root.AddCommand(run, newDevicesCmd(), newSendCmd(flags), newVersionCmd())

	// Running bare `jarvis` starts the daemon.
	root.RunE = run.RunE
	root.Flags().AddFlagSet(run.Flags())

	root.SetErrPrefix("jarvis:")
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jarvis %s\n", version)
		},
	}
}

// newLogger builds the stderr text logger whose level follows lv.
func newLogger(lv *slog.LevelVar, level config.LogLevel) *slog.Logger {
	lv.Set(app.ParseLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}
