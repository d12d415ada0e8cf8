// Package run implements the long-running capture service command.
package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/printfarm/enclosure-cam/internal/app"
	"github.com/printfarm/enclosure-cam/internal/errors"
	"github.com/printfarm/enclosure-cam/internal/logger"
)

const telemetryFlushTimeout = 2 * time.Second

// Command creates the run command.
func Command(rt *app.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the capture loop",
		Long: "Register every camera with Prusa Connect and upload a snapshot of each " +
			"online printer's enclosure every interval until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Service(cmd.Context(), rt)
		},
	}
	return cmd
}

// Service holds the instance lock and runs the application until SIGINT or
// SIGTERM. SIGHUP reopens the log file.
func Service(parent context.Context, rt *app.Runtime) error {
	log := rt.Log("main")
	settings := rt.Settings

	lock := flock.New(settings.Main.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return errors.New(fmt.Errorf("acquire lock %s: %w", settings.Main.LockFile, err)).
			Component("main").
			Category(errors.CategoryFileIO).
			Build()
	}
	if !locked {
		return fmt.Errorf("another enclosure-cam instance holds %s", settings.Main.LockFile)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn("failed to release lock", logger.Error(err))
		}
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go rotateOnHangup(ctx, rt, log)

	a, err := app.New(settings, rt.Info, rt.Log("app"))
	if err != nil {
		return err
	}

	log.Info("starting enclosure-cam",
		logger.String("version", rt.Info.Version()),
		logger.Int("enclosures", len(a.Enclosures)))

	runErr := a.Run(ctx)
	if err := a.Close(); err != nil {
		log.Warn("error during shutdown", logger.Error(err))
	}
	errors.FlushTelemetry(telemetryFlushTimeout)

	if runErr != nil {
		return runErr
	}
	log.Info("enclosure-cam stopped")
	return nil
}

func rotateOnHangup(ctx context.Context, rt *app.Runtime, log logger.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if rt.Logger == nil {
				continue
			}
			if err := rt.Logger.Rotate(); err != nil {
				log.Warn("failed to reopen log file", logger.Error(err))
				continue
			}
			log.Info("log file reopened")
		}
	}
}
