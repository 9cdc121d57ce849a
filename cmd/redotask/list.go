package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/redotask/internal/task"
)

func newListCmd(flags *globalFlags) *cobra.Command {
	var (
		format string
		folder string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the redo targets of every workspace folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := flags.open(cmd, false)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			tasks, err := application.Tasks(cmd.Context(), task.Filter{Folder: folder})
			if err != nil {
				if len(tasks) == 0 {
					return err
				}
				application.Logger().Warn("%v", err)
			}
			return renderTasks(cmd.OutOrStdout(), tasks, format)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", formatText, "Output format (text, json, yaml)")
	cmd.Flags().StringVar(&folder, "folder", "", "Only list targets of this folder")
	return cmd
}
