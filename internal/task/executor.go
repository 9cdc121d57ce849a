package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotResolved is returned when a task without an execution is run.
	ErrNotResolved = errors.New("task has no execution")

	// ErrExecutionNotFound is returned for an unknown execution ID.
	ErrExecutionNotFound = errors.New("execution not found")
)

// ExecutorConfig configures the task executor.
type ExecutorConfig struct {
	// DefaultEnv are environment variables to add to all tasks.
	DefaultEnv map[string]string

	// OutputBufferSize is the longest output line that can be captured.
	OutputBufferSize int

	// MaxConcurrent is the maximum concurrent task executions.
	MaxConcurrent int

	// KillGrace is how long to wait for output pipes after the process
	// exits or a canceled process group has been killed.
	KillGrace time.Duration
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		OutputBufferSize: 64 * 1024,
		MaxConcurrent:    4,
		KillGrace:        2 * time.Second,
	}
}

// ExecutionState represents the state of a task execution.
type ExecutionState string

const (
	// ExecutionStatePending indicates the task is waiting to run.
	ExecutionStatePending ExecutionState = "pending"
	// ExecutionStateRunning indicates the task is currently running.
	ExecutionStateRunning ExecutionState = "running"
	// ExecutionStateSucceeded indicates the process exited with status 0.
	ExecutionStateSucceeded ExecutionState = "succeeded"
	// ExecutionStateFailed indicates the process failed or could not start.
	ExecutionStateFailed ExecutionState = "failed"
	// ExecutionStateCanceled indicates the execution was canceled.
	ExecutionStateCanceled ExecutionState = "canceled"
)

// Finished reports whether s is a terminal state.
func (s ExecutionState) Finished() bool {
	return s == ExecutionStateSucceeded || s == ExecutionStateFailed || s == ExecutionStateCanceled
}

// Execution represents a running or completed task execution.
// Fields are safe to read once Done is closed.
type Execution struct {
	// ID is a unique identifier for this execution.
	ID string

	// Task is the task being executed.
	Task *Task

	// State is the current execution state.
	State ExecutionState

	// StartTime is when the process started.
	StartTime time.Time

	// EndTime is when execution ended.
	EndTime time.Time

	// ExitCode is the process exit code (-1 if it never finished).
	ExitCode int

	// Error is any error that occurred.
	Error error

	// Problems are problems found in the output.
	Problems []Problem

	cmd      *osexec.Cmd
	cancel   context.CancelFunc
	output   *OutputProcessor
	done     chan struct{}
	doneOnce sync.Once

	notifiedComplete bool

	mu sync.RWMutex
}

// ExecutionListener receives execution events.
type ExecutionListener interface {
	// OnExecutionStarted is called when the process starts.
	OnExecutionStarted(exec *Execution)

	// OnExecutionOutput is called for each output line.
	OnExecutionOutput(exec *Execution, line OutputLine)

	// OnExecutionProblem is called when a problem is detected.
	OnExecutionProblem(exec *Execution, problem Problem)

	// OnExecutionCompleted is called once when execution completes.
	OnExecutionCompleted(exec *Execution)
}

// ListenerFuncs adapts optional functions to ExecutionListener.
type ListenerFuncs struct {
	Started   func(*Execution)
	Output    func(*Execution, OutputLine)
	Problem   func(*Execution, Problem)
	Completed func(*Execution)
}

// OnExecutionStarted implements ExecutionListener.
func (l *ListenerFuncs) OnExecutionStarted(exec *Execution) {
	if l.Started != nil {
		l.Started(exec)
	}
}

// OnExecutionOutput implements ExecutionListener.
func (l *ListenerFuncs) OnExecutionOutput(exec *Execution, line OutputLine) {
	if l.Output != nil {
		l.Output(exec, line)
	}
}

// OnExecutionProblem implements ExecutionListener.
func (l *ListenerFuncs) OnExecutionProblem(exec *Execution, problem Problem) {
	if l.Problem != nil {
		l.Problem(exec, problem)
	}
}

// OnExecutionCompleted implements ExecutionListener.
func (l *ListenerFuncs) OnExecutionCompleted(exec *Execution) {
	if l.Completed != nil {
		l.Completed(exec)
	}
}

// Executor runs resolved tasks as subprocesses.
type Executor struct {
	config ExecutorConfig

	executions   map[string]*Execution
	executionsMu sync.RWMutex

	// sem limits concurrent executions.
	sem chan struct{}

	problems *ProblemMatchers

	listeners   []ExecutionListener
	listenersMu sync.RWMutex
}

// NewExecutor creates a new task executor.
func NewExecutor(config ExecutorConfig) *Executor {
	defaults := DefaultExecutorConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.OutputBufferSize <= 0 {
		config.OutputBufferSize = defaults.OutputBufferSize
	}
	if config.KillGrace <= 0 {
		config.KillGrace = defaults.KillGrace
	}

	return &Executor{
		config:     config,
		executions: make(map[string]*Execution),
		sem:        make(chan struct{}, config.MaxConcurrent),
		problems:   NewProblemMatchers(),
	}
}

// ProblemMatchers returns the matcher registry used for task output.
func (e *Executor) ProblemMatchers() *ProblemMatchers {
	return e.problems
}

// AddListener adds an execution listener.
func (e *Executor) AddListener(listener ExecutionListener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, listener)
}

// RemoveListener removes an execution listener.
func (e *Executor) RemoveListener(listener ExecutionListener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	for i, l := range e.listeners {
		if l == listener {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Execute starts a resolved task and returns the execution handle.
func (e *Executor) Execute(ctx context.Context, task *Task) (*Execution, error) {
	if task == nil || task.Execution == nil {
		return nil, ErrNotResolved
	}
	if task.Execution.Command == "" {
		return nil, fmt.Errorf("task %s: empty command", task.Name)
	}

	execCtx, cancel := context.WithCancel(ctx)
	exec := &Execution{
		ID:       uuid.NewString(),
		Task:     task,
		State:    ExecutionStatePending,
		ExitCode: -1,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	e.executionsMu.Lock()
	e.executions[exec.ID] = exec
	e.executionsMu.Unlock()

	go e.runExecution(execCtx, exec)

	return exec, nil
}

// ExecuteSync runs a task and waits for it to complete.
func (e *Executor) ExecuteSync(ctx context.Context, task *Task) (*Execution, error) {
	exec, err := e.Execute(ctx, task)
	if err != nil {
		return nil, err
	}
	<-exec.Done()
	return exec, nil
}

// GetExecution returns an execution by ID.
func (e *Executor) GetExecution(id string) (*Execution, bool) {
	e.executionsMu.RLock()
	defer e.executionsMu.RUnlock()
	exec, ok := e.executions[id]
	return exec, ok
}

// ListExecutions returns all tracked executions ordered by start.
func (e *Executor) ListExecutions() []*Execution {
	e.executionsMu.RLock()
	result := make([]*Execution, 0, len(e.executions))
	for _, exec := range e.executions {
		result = append(result, exec)
	}
	e.executionsMu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		ti, tj := result[i].startTime(), result[j].startTime()
		if ti.Equal(tj) {
			return result[i].ID < result[j].ID
		}
		return ti.Before(tj)
	})
	return result
}

// CancelExecution cancels an execution by ID.
func (e *Executor) CancelExecution(id string) error {
	exec, ok := e.GetExecution(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	exec.Cancel()
	return nil
}

// CancelAll cancels all active executions.
func (e *Executor) CancelAll() {
	for _, exec := range e.ListExecutions() {
		exec.Cancel()
	}
}

// CleanupCompleted removes finished executions from tracking.
func (e *Executor) CleanupCompleted() int {
	e.executionsMu.Lock()
	defer e.executionsMu.Unlock()

	count := 0
	for id, exec := range e.executions {
		exec.mu.RLock()
		state := exec.State
		exec.mu.RUnlock()

		if state.Finished() {
			delete(e.executions, id)
			count++
		}
	}
	return count
}

func (e *Executor) runExecution(ctx context.Context, exec *Execution) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		e.setExecutionState(exec, ExecutionStateCanceled, ctx.Err())
		return
	}

	cmd := e.buildCommand(ctx, exec.Task.Execution)

	// The command copies into these writers, so WaitDelay bounds the copy
	// when a descendant keeps the pipes open after the process exits.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	closeWriters := func() {
		stdoutW.Close()
		stderrW.Close()
	}

	exec.mu.Lock()
	exec.cmd = cmd
	exec.output = NewOutputProcessor(e.config.OutputBufferSize)
	exec.mu.Unlock()

	matchers := e.problems.Lookup(exec.Task.ProblemMatchers)

	if err := cmd.Start(); err != nil {
		closeWriters()
		if ctx.Err() != nil {
			e.setExecutionState(exec, ExecutionStateCanceled, ctx.Err())
			return
		}
		e.setExecutionState(exec, ExecutionStateFailed, fmt.Errorf("start %s: %w", cmd.Path, err))
		return
	}

	exec.mu.Lock()
	exec.StartTime = time.Now()
	exec.State = ExecutionStateRunning
	exec.mu.Unlock()
	e.notifyStarted(exec)

	var outputWg sync.WaitGroup
	outputWg.Add(2)
	go func() {
		defer outputWg.Done()
		e.processOutput(exec, stdoutR, OutputStreamStdout, matchers)
	}()
	go func() {
		defer outputWg.Done()
		e.processOutput(exec, stderrR, OutputStreamStderr, matchers)
	}()

	err := cmd.Wait()
	closeWriters()
	outputWg.Wait()

	if errors.Is(err, osexec.ErrWaitDelay) {
		// The process itself exited successfully.
		err = nil
	}

	exec.mu.Lock()
	exec.EndTime = time.Now()
	var exitErr *osexec.ExitError
	switch {
	case ctx.Err() != nil:
		exec.State = ExecutionStateCanceled
		exec.Error = ctx.Err()
	case errors.As(err, &exitErr):
		exec.State = ExecutionStateFailed
		exec.Error = err
		exec.ExitCode = exitErr.ExitCode()
	case err != nil:
		exec.State = ExecutionStateFailed
		exec.Error = err
	default:
		exec.State = ExecutionStateSucceeded
		exec.ExitCode = 0
	}
	exec.mu.Unlock()

	e.notifyCompleted(exec)
}

// buildCommand creates the command for a process execution. The process
// runs in its own group so cancellation reaches its children.
func (e *Executor) buildCommand(ctx context.Context, pe *ProcessExecution) *osexec.Cmd {
	cmd := osexec.CommandContext(ctx, pe.Command, pe.Args...)
	cmd.Dir = pe.Cwd
	cmd.Env = e.buildEnvironment(pe)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = e.config.KillGrace
	return cmd
}

// buildEnvironment creates the environment for a process.
// Precedence (highest to lowest): execution env > default env > os.Environ()
func (e *Executor) buildEnvironment(pe *ProcessExecution) []string {
	envMap := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.Index(kv, "="); idx > 0 {
			envMap[kv[:idx]] = kv[idx+1:]
		}
	}
	for k, v := range e.config.DefaultEnv {
		envMap[k] = v
	}
	for k, v := range pe.Env {
		envMap[k] = v
	}

	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(envMap))
	for _, k := range keys {
		env = append(env, k+"="+envMap[k])
	}
	return env
}

func (e *Executor) processOutput(exec *Execution, r io.Reader, stream OutputStream, matchers []*CompiledMatcher) {
	// A scan error (line too long) leaves the output partially captured;
	// the rest of the stream is drained so the process is not blocked.
	err := exec.output.Process(r, stream, func(line OutputLine) {
		e.notifyOutput(exec, line)

		for _, m := range matchers {
			if problem, ok := m.Match(line.Content); ok {
				exec.mu.Lock()
				exec.Problems = append(exec.Problems, problem)
				exec.mu.Unlock()
				e.notifyProblem(exec, problem)
				break
			}
		}
	})
	if err != nil {
		_, _ = io.Copy(io.Discard, r)
	}
}

func (e *Executor) setExecutionState(exec *Execution, state ExecutionState, err error) {
	exec.mu.Lock()
	exec.State = state
	exec.Error = err
	if exec.EndTime.IsZero() {
		exec.EndTime = time.Now()
	}
	exec.mu.Unlock()

	if state.Finished() {
		e.notifyCompleted(exec)
	}
}

func (e *Executor) snapshotListeners() []ExecutionListener {
	e.listenersMu.RLock()
	defer e.listenersMu.RUnlock()
	listeners := make([]ExecutionListener, len(e.listeners))
	copy(listeners, e.listeners)
	return listeners
}

func (e *Executor) notifyStarted(exec *Execution) {
	for _, l := range e.snapshotListeners() {
		l.OnExecutionStarted(exec)
	}
}

func (e *Executor) notifyOutput(exec *Execution, line OutputLine) {
	for _, l := range e.snapshotListeners() {
		l.OnExecutionOutput(exec, line)
	}
}

func (e *Executor) notifyProblem(exec *Execution, problem Problem) {
	for _, l := range e.snapshotListeners() {
		l.OnExecutionProblem(exec, problem)
	}
}

func (e *Executor) notifyCompleted(exec *Execution) {
	exec.mu.Lock()
	if exec.notifiedComplete {
		exec.mu.Unlock()
		return
	}
	exec.notifiedComplete = true
	exec.mu.Unlock()

	// Listeners run before Done is closed so waiters observe their effects.
	for _, l := range e.snapshotListeners() {
		l.OnExecutionCompleted(exec)
	}
	exec.markDone()
	if exec.cancel != nil {
		exec.cancel()
	}
}

// Cancel cancels the execution and kills its process group.
func (ex *Execution) Cancel() {
	ex.mu.RLock()
	cancel := ex.cancel
	ex.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
}

// Done returns a channel that's closed when execution completes.
func (ex *Execution) Done() <-chan struct{} {
	return ex.done
}

func (ex *Execution) markDone() {
	ex.doneOnce.Do(func() {
		close(ex.done)
	})
}

// Status returns the current state and exit code.
func (ex *Execution) Status() (ExecutionState, int) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.State, ex.ExitCode
}

// IsRunning returns true if the execution is still running.
func (ex *Execution) IsRunning() bool {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.State == ExecutionStateRunning
}

func (ex *Execution) startTime() time.Time {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.StartTime
}

// Duration returns the execution duration.
func (ex *Execution) Duration() time.Duration {
	ex.mu.RLock()
	defer ex.mu.RUnlock()

	if ex.StartTime.IsZero() {
		return 0
	}
	end := ex.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(ex.StartTime)
}

// Output returns all captured output lines.
func (ex *Execution) Output() []OutputLine {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	if ex.output == nil {
		return nil
	}
	return ex.output.Lines()
}

// StreamLines returns the captured lines of one stream.
func (ex *Execution) StreamLines(stream OutputStream) []OutputLine {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	if ex.output == nil {
		return nil
	}
	return ex.output.StreamLines(stream)
}
