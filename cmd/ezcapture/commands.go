package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yok-tottii/EzCapture/internal/events"
	"github.com/yok-tottii/EzCapture/internal/finalize"
	"github.com/yok-tottii/EzCapture/internal/session"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSourcesCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List capture sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts, os.Stderr)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.openAudio(); err != nil {
				return err
			}

			sources := app.sessions.Discover()
			if asJSON {
				return printJSON(sources)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tCHANNELS\tRATE\tNAME")
			for _, s := range sources {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", s.ID, s.Kind, s.Channels, s.SampleRate, s.DisplayName)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print sources as JSON")

	return cmd
}

func newRecordCmd(opts *options) *cobra.Command {
	var mode string
	var sources []string
	var duration time.Duration
	var doFinalize bool
	var separate bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a session in the foreground (Ctrl+C to stop)",
		Long:  "Record the microphone, system audio or both mixed until interrupted or until --duration elapses, then join the chunks into final.wav.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts, os.Stderr)
			if err != nil {
				return err
			}
			defer app.Close()

			if mode == "" {
				mode = app.config.DefaultMode
			}
			kind := session.Kind(mode)
			switch kind {
			case session.KindMic, session.KindSystem, session.KindMix:
			default:
				return fmt.Errorf("unknown mode %q (mic, system, mix)", mode)
			}

			if err := app.openAudio(); err != nil {
				return err
			}
			if cmd.Flags().Changed("separate") {
				app.sessions.SetSeparateSources(separate)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			evs, unsubscribe := app.bus.Subscribe()
			defer unsubscribe()

			var s session.Session
			if len(sources) > 0 {
				s, err = app.sessions.Start(ctx, sources, kind)
			} else {
				s, err = app.sessions.StartMode(ctx, kind)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Recording %s session %s into %s\n", s.Kind, s.ID, s.Directory)

			for done := false; !done; {
				select {
				case e := <-evs:
					printEvent(e)
				case <-ctx.Done():
					done = true
				}
			}

			if !doFinalize {
				s, err := app.sessions.Stop()
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Stopped after %d chunks (%v)\n", s.ChunkIndex, s.Duration())
				fmt.Println(s.Directory)
				return nil
			}

			s, path, err := app.sessions.StopAndFinalize()
			if err != nil {
				return fmt.Errorf("session %s: %w", s.ID, err)
			}
			fmt.Fprintf(os.Stderr, "Stopped after %d chunks (%v)\n", s.ChunkIndex, s.Duration())
			fmt.Println(path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Session kind: mic, system or mix (default from config)")
	cmd.Flags().StringSliceVarP(&sources, "sources", "s", nil, "Source IDs to record instead of the mode defaults")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop automatically after this long")
	cmd.Flags().BoolVar(&doFinalize, "finalize", true, "Join the chunks into final.wav when stopping")
	cmd.Flags().BoolVar(&separate, "separate", false, "Also write per-source chunks in mix sessions")

	return cmd
}

func printEvent(e events.Event) {
	switch e.Type {
	case events.ChunkCompleted:
		fmt.Fprintf(os.Stderr, "  chunk %v\n", e.Data)
	case events.SourceFailed:
		fmt.Fprintf(os.Stderr, "  source failed: %v\n", e.Data)
	}
}

func newFinalizeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <session-id|directory>",
		Short: "Join the chunks of a stopped session into final.wav",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts, os.Stderr)
			if err != nil {
				return err
			}
			defer app.Close()

			target := args[0]
			var path string
			if info, statErr := os.Stat(target); statErr == nil && info.IsDir() {
				f := &finalize.Finalizer{Logger: app.logger.With("finalize"), Metrics: app.metrics}
				path, err = f.Finalize(target)
			} else {
				path, err = app.sessions.FinalizeSession(target)
			}
			if err != nil {
				return err
			}

			fmt.Println(path)
			return nil
		},
	}
}

func newRecordingsCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "List recorded sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts, os.Stderr)
			if err != nil {
				return err
			}
			defer app.Close()

			recs, err := app.sessions.Recordings()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(recs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSTARTED\tCHUNKS\tFINAL")
			for _, r := range recs {
				final := "-"
				if r.Final != "" {
					final = "yes"
				}
				started := "-"
				if !r.StartedAt.IsZero() {
					started = r.StartedAt.Local().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Kind, started, r.Chunks, final)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print recordings as JSON")

	return cmd
}
