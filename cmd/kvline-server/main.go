// Command kvline-server runs the key/value store server: command-line
// parsing, logging setup, and signal-driven graceful shutdown are the
// external collaborators the core spec deliberately leaves out.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lineframe/kvline/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var port uint16
	var logLevel string

	cmd := &cobra.Command{
		Use:   "kvline-server",
		Short: "Run the kvline key/value store server",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
			}
			logrus.SetLevel(level)
			return run(fmt.Sprintf(":%d", port))
		},
	}

	cmd.Flags().Uint16Var(&port, "port", 6379, "TCP port to listen on")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus level: trace, debug, info, warn, error")
	return cmd
}

func run(addr string) error {
	l, err := server.New(server.Config{Addr: addr})
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	logrus.WithField("addr", l.Addr().String()).Info("listening")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- l.Run() }()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
	}

	logrus.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := l.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-runErr
	logrus.Info("shutdown complete")
	return nil
}
