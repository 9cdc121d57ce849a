package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/dshills/redotask/internal/app"
	"github.com/dshills/redotask/internal/task"
	"github.com/dshills/redotask/internal/workspace"
)

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var (
		format   string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the target list whenever recipes or settings change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := flags.open(cmd, true)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return watchTasks(ctx, application, cmd.OutOrStdout(), format, rate.NewLimiter(rate.Every(interval), 1))
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", formatText, "Output format (text, json, yaml)")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Minimum time between refreshes")
	return cmd
}

// watchTasks prints the task list, then prints it again after each
// invalidation until ctx is done. Bursts of invalidations are folded into
// one refresh per limiter token.
func watchTasks(ctx context.Context, application *app.Application, w io.Writer, format string, limiter *rate.Limiter) error {
	changed := make(chan struct{}, 1)
	sub := application.OnDidChangeTasks(func(workspace.Folder) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer sub.Dispose()

	gray := color.New(color.FgHiBlack).SprintFunc()
	for {
		tasks, err := application.Tasks(ctx, task.Filter{})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			application.Logger().Warn("%v", err)
		}
		if err := renderTasks(w, tasks, format); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		// Drop signals that arrived while waiting; this refresh covers them.
		select {
		case <-changed:
		default:
		}
		fmt.Fprintln(w, gray(fmt.Sprintf("-- %s", time.Now().Format("15:04:05"))))
	}
}
