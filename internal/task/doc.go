// Package task is the host side of redotask's task integration.
//
// Task providers contribute tasks for one kind (for example "redo"). The
// Registry aggregates them and routes resolution requests by kind; the
// Executor runs a resolved task's ProcessExecution as a child process.
//
//	┌──────────────────────────────────────────────┐
//	│                 Registry                     │
//	│  - Register(kind, Provider) Disposable       │
//	│  - FetchTasks aggregates every provider      │
//	│  - Resolve routes by Definition.Type         │
//	└──────────────────────────────────────────────┘
//	                     │ resolved *Task
//	                     ▼
//	┌──────────────────────────────────────────────┐
//	│                 Executor                     │
//	│  - Runs Command/Args in Cwd, no shell        │
//	│  - Streams stdout/stderr lines to listeners  │
//	│  - Applies problem matchers                  │
//	│  - Records the process exit code             │
//	└──────────────────────────────────────────────┘
//
// # Task Definitions
//
// A Definition carries a kind tag in Type and every other field in
// Properties, so definitions read back from a tasks.json file keep fields
// the host does not know about. Providers decide which properties they
// require; a definition missing them resolves to nothing.
//
// # Execution States
//
//   - Pending: waiting for a concurrency slot
//   - Running: process started
//   - Succeeded: exit status 0
//   - Failed: non-zero exit or the process could not start
//   - Canceled: context canceled or Cancel called
//
// # Problem Matchers
//
// Matchers are named ("$gcc", "$go") and use ECMAScript regular
// expressions, so patterns copied from VS Code task definitions work
// unchanged.
package task
