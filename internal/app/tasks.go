package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dshills/redotask/internal/task"
	"github.com/dshills/redotask/internal/task/redo"
	"github.com/dshills/redotask/internal/tasksfile"
	"github.com/dshills/redotask/internal/workspace"
)

// Tasks returns the tasks of every provider that match filter, ordered by
// folder and name. Tasks from healthy providers are returned alongside
// the error of a failing one.
func (app *Application) Tasks(ctx context.Context, filter task.Filter) ([]*task.Task, error) {
	if err := app.checkRunning(ctx); err != nil {
		return nil, err
	}
	if filter.Folder != "" {
		if _, err := app.Folder(filter.Folder); err != nil {
			return nil, err
		}
	}

	tasks, err := app.registry.FetchTasks(ctx, filter)
	task.SortTasks(tasks)
	return tasks, err
}

// Folder returns the workspace folder with the given name. An empty name
// selects the only folder of a single-folder workspace.
func (app *Application) Folder(name string) (workspace.Folder, error) {
	if name == "" {
		folders := app.workspace.Folders()
		if len(folders) != 1 {
			return workspace.Folder{}, ErrFolderRequired
		}
		return folders[0], nil
	}
	f, ok := app.workspace.FolderByName(name)
	if !ok {
		return workspace.Folder{}, fmt.Errorf("%w: %s", ErrUnknownFolder, name)
	}
	return f, nil
}

// Resolve returns a runnable task for the redo target in the named folder.
func (app *Application) Resolve(ctx context.Context, target, folderName string) (*task.Task, error) {
	if err := app.checkRunning(ctx); err != nil {
		return nil, err
	}
	folder, err := app.Folder(folderName)
	if err != nil {
		return nil, NewOperationError("resolve", target, err)
	}

	stub := &task.Task{Definition: redo.Definition(target), Scope: &folder}
	return app.resolve(ctx, stub)
}

// TasksFile returns the entries of the named folder's tasks.json as stubs.
func (app *Application) TasksFile(folderName string) ([]*task.Task, error) {
	folder, err := app.Folder(folderName)
	if err != nil {
		return nil, err
	}
	if folder.Path == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoFolderPath, folder.Name)
	}
	return tasksfile.Load(filepath.Join(folder.Path, tasksfile.DefaultPath), &folder)
}

// ResolveLabel resolves the tasks.json entry with the given label.
func (app *Application) ResolveLabel(ctx context.Context, label, folderName string) (*task.Task, error) {
	if err := app.checkRunning(ctx); err != nil {
		return nil, err
	}
	stubs, err := app.TasksFile(folderName)
	if err != nil {
		return nil, NewOperationError("resolve", label, err)
	}
	for _, stub := range stubs {
		if stub.Name == label {
			return app.resolve(ctx, stub)
		}
	}
	return nil, NewOperationError("resolve", label, ErrTaskNotFound)
}

func (app *Application) resolve(ctx context.Context, stub *task.Task) (*task.Task, error) {
	resolved, err := app.registry.Resolve(ctx, stub)
	if err != nil {
		return nil, NewOperationError("resolve", stub.Name, err)
	}
	if resolved == nil {
		name := stub.Name
		if target, ok := redo.Target(stub.Definition); ok {
			name = target
		}
		return nil, NewOperationError("resolve", name, ErrNotResolvable)
	}
	return resolved, nil
}

// Run starts a resolved task. Listener, if not nil, receives the events of
// this execution only and is detached once it completes.
func (app *Application) Run(ctx context.Context, t *task.Task, listener task.ExecutionListener) (*task.Execution, error) {
	if err := app.checkRunning(ctx); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, NewOperationError("run", "", task.ErrNotResolved)
	}

	var scoped *executionFilter
	if listener != nil {
		scoped = &executionFilter{task: t, next: listener}
		app.executor.AddListener(scoped)
	}

	exec, err := app.executor.Execute(ctx, t)
	if err != nil {
		if scoped != nil {
			app.executor.RemoveListener(scoped)
		}
		return nil, NewOperationError("run", t.Name, err)
	}
	app.logger.WithField("task", t.Name).Debug("started %s", exec.ID)

	if scoped != nil {
		go func() {
			<-exec.Done()
			app.executor.RemoveListener(scoped)
		}()
	}
	return exec, nil
}

// Export writes the redo tasks of the named folder into a tasks.json file.
// An empty path writes the folder's own .vscode/tasks.json.
func (app *Application) Export(ctx context.Context, folderName, path string) (tasksfile.Result, error) {
	if err := app.checkRunning(ctx); err != nil {
		return tasksfile.Result{}, err
	}
	folder, err := app.Folder(folderName)
	if err != nil {
		return tasksfile.Result{}, NewOperationError("export", folderName, err)
	}
	if path == "" {
		if folder.Path == "" {
			return tasksfile.Result{}, NewOperationError("export", folder.Name, ErrNoFolderPath)
		}
		path = filepath.Join(folder.Path, tasksfile.DefaultPath)
	}

	tasks, err := app.registry.FetchTasks(ctx, task.Filter{Type: redo.Kind, Folder: folder.Name})
	if err != nil && len(tasks) == 0 {
		// Another folder's failure does not block this one.
		return tasksfile.Result{}, NewOperationError("export", folder.Name, err)
	}
	task.SortTasks(tasks)

	res, err := tasksfile.Export(path, tasks)
	if err != nil {
		return res, NewOperationError("export", path, err)
	}
	app.logger.WithField("folder", folder.Name).Info("exported %d added, %d updated to %s", res.Added, res.Updated, path)
	return res, nil
}

// executionFilter forwards the events of executions of one task.
type executionFilter struct {
	task *task.Task
	next task.ExecutionListener
}

func (f *executionFilter) OnExecutionStarted(exec *task.Execution) {
	if exec.Task == f.task {
		f.next.OnExecutionStarted(exec)
	}
}

func (f *executionFilter) OnExecutionOutput(exec *task.Execution, line task.OutputLine) {
	if exec.Task == f.task {
		f.next.OnExecutionOutput(exec, line)
	}
}

func (f *executionFilter) OnExecutionProblem(exec *task.Execution, problem task.Problem) {
	if exec.Task == f.task {
		f.next.OnExecutionProblem(exec, problem)
	}
}

func (f *executionFilter) OnExecutionCompleted(exec *task.Execution) {
	if exec.Task == f.task {
		f.next.OnExecutionCompleted(exec)
	}
}
