package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/armadaproject/importtracker/internal/importtracker"
)

func runCmd(app *importtracker.App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Serve the import tracker API and consume the configured subsystem's channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilSignal(app.StartUp)
		},
	}
}

func fakeWorkerCmd(app *importtracker.App) *cobra.Command {
	return &cobra.Command{
		Use:   "fakeworker",
		Short: "Pretend to be a subsystem worker, reporting every import on the processing channel as Ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilSignal(app.RunFakeWorker)
		},
	}
}

var errStopSignal = errors.New("stopped by signal")

// runUntilSignal runs f until it returns or SIGINT or SIGTERM is received, which cancels its
// context and shuts it down gracefully.
func runUntilSignal(f func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(context.Background())

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stopSignal)

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-stopSignal:
			return errStopSignal
		}
	})
	g.Go(func() error {
		if err := f(ctx); err != nil {
			return err
		}
		return errStopSignal
	})

	if err := g.Wait(); err != nil && err != errStopSignal {
		return err
	}
	return nil
}
