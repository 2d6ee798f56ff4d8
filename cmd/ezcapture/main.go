package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func init() {
	// Tray and hotkey CGO calls must run on the main thread on macOS
	runtime.LockOSThread()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command
type options struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "ezcapture",
		Short:         "Capture microphone and system audio into WAV chunks",
		Long:          "EzCapture records the microphone, system audio or both mixed into fixed-length WAV chunks and joins them into final.wav when a session stops.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default: user config dir/EzCapture/config.json)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(newSourcesCmd(opts))
	rootCmd.AddCommand(newRecordCmd(opts))
	rootCmd.AddCommand(newFinalizeCmd(opts))
	rootCmd.AddCommand(newRecordingsCmd(opts))
	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newTrayCmd(opts))

	return rootCmd
}
