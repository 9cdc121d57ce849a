package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dshills/redotask/internal/task"
)

// exitCanceled is returned when a run is interrupted.
const exitCanceled = 130

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		folder string
		label  string
	)

	cmd := &cobra.Command{
		Use:   "run [target]",
		Short: "Build a redo target",
		Long: `Run builds a target with "redo -- <target>" in its folder. With --label
the task is looked up in the folder's .vscode/tasks.json instead. The
command exits with the status of the build.`,
		Args: func(cmd *cobra.Command, args []string) error {
			switch {
			case label != "" && len(args) > 0:
				return errors.New("give a target or --label, not both")
			case label == "" && len(args) != 1:
				return errors.New("requires a target")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := flags.open(cmd, false)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var resolved *task.Task
			if label != "" {
				resolved, err = application.ResolveLabel(ctx, label, folder)
			} else {
				resolved, err = application.Resolve(ctx, args[0], folder)
			}
			if err != nil {
				return err
			}

			exec, err := application.Run(ctx, resolved, newOutputPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			<-exec.Done()

			return finish(cmd.ErrOrStderr(), exec)
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Workspace folder that owns the target")
	cmd.Flags().StringVar(&label, "label", "", "Run the tasks.json entry with this label")
	return cmd
}

// finish reports the outcome of exec and maps it to an exit status.
func finish(w io.Writer, exec *task.Execution) error {
	renderProblems(w, exec.Problems)

	state, code := exec.Status()
	switch state {
	case task.ExecutionStateSucceeded:
		return nil
	case task.ExecutionStateCanceled:
		fmt.Fprintln(w, color.YellowString("%s canceled", exec.Task.Name))
		return &exitError{code: exitCanceled}
	default:
		if code <= 0 && exec.Error != nil {
			return fmt.Errorf("%s: %w", exec.Task.Name, exec.Error)
		}
		if code <= 0 {
			code = 1
		}
		fmt.Fprintln(w, color.RedString("%s failed with exit status %d", exec.Task.Name, code))
		return &exitError{code: code}
	}
}

// outputPrinter copies task output to the terminal as it arrives.
type outputPrinter struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

func newOutputPrinter(stdout, stderr io.Writer) *task.ListenerFuncs {
	p := &outputPrinter{stdout: stdout, stderr: stderr}
	return &task.ListenerFuncs{
		Started: p.started,
		Output:  p.output,
	}
}

func (p *outputPrinter) started(exec *task.Execution) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Fprintln(p.stderr, cyan(fmt.Sprintf("> %s", strings.Join(exec.Task.Execution.CommandLine(), " "))))
}

func (p *outputPrinter) output(_ *task.Execution, line task.OutputLine) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.stdout
	if line.Stream == task.OutputStreamStderr {
		w = p.stderr
	}
	fmt.Fprintln(w, line.Content)
}

