package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/redotask/internal/app"
)

// globalFlags are the flags shared by every command.
type globalFlags struct {
	folders       []string
	workspaceFile string
	configDir     string
	logLevel      string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "redotask",
		Short: "Discover and run redo targets as tasks",
		Long: `redotask finds the .do recipes of each workspace folder and offers
every buildable target as a task. Tasks run as "redo -- <target>" in the
folder that owns them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringArrayVarP(&flags.folders, "workspace", "w", nil, "Workspace folder (repeatable, default: current directory)")
	pf.StringVar(&flags.workspaceFile, "workspace-file", "", "Workspace file listing folders and settings")
	pf.StringVar(&flags.configDir, "config", "", "User configuration directory")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newListCmd(flags),
		newRunCmd(flags),
		newWatchCmd(flags),
		newExportCmd(flags),
		newConfigCmd(flags),
		newVersionCmd(),
	)
	return root
}

// options builds application options from the global flags.
func (f *globalFlags) options(cmd *cobra.Command, watch bool) app.Options {
	opts := app.Options{
		Folders:       f.folders,
		WorkspaceFile: f.workspaceFile,
		ConfigDir:     f.configDir,
		LogLevel:      f.logLevel,
		LogOutput:     cmd.ErrOrStderr(),
		Watch:         watch,
	}
	if len(opts.Folders) == 0 && opts.WorkspaceFile == "" {
		if cwd, err := os.Getwd(); err == nil {
			opts.Folders = []string{cwd}
		}
	}
	return opts
}

// open starts the application for one command.
func (f *globalFlags) open(cmd *cobra.Command, watch bool) (*app.Application, error) {
	return app.New(f.options(cmd, watch))
}
