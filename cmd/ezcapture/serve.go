package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yok-tottii/EzCapture/internal/api"
	"github.com/yok-tottii/EzCapture/internal/server"
)

// startServer serves the control API on the configured local port
func (a *App) startServer() (*server.Server, *api.Handler, error) {
	srvConfig := server.DefaultConfig()
	srvConfig.Port = a.config.ServerPort

	srv := server.New(srvConfig, a.logger.With("server"))
	handler := api.New(a.config, a.sessions, a.bus, a.metrics, a.logger.With("api"))
	handler.SetConfigPath(a.configPath)
	handler.RegisterRoutes(srv.GetMux())

	if err := srv.Start(); err != nil {
		return nil, nil, err
	}
	a.logger.Info("Control API listening on %s", srv.URL())
	return srv, handler, nil
}

func newServeCmd(opts *options) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local control API without a tray icon",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts, os.Stderr)
			if err != nil {
				return err
			}
			defer app.Close()

			if cmd.Flags().Changed("port") {
				app.config.ServerPort = port
			}
			if err := app.openAudio(); err != nil {
				return err
			}

			srv, handler, err := app.startServer()
			if err != nil {
				return err
			}
			handler.OnSettingsChanged(app.applySettings)
			fmt.Fprintln(os.Stderr, srv.URL())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			app.logger.Info("Shutting down")
			return srv.Stop()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default from config, 0 picks a free port)")

	return cmd
}
