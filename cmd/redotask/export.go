package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newExportCmd(flags *globalFlags) *cobra.Command {
	var (
		folder string
		file   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the redo targets of a folder into a tasks.json file",
		Long: `Export adds an entry for each redo target of the folder to its
.vscode/tasks.json, or to --file. Entries for targets already in the file
are updated in place; other entries are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := flags.open(cmd, false)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			res, err := application.Export(cmd.Context(), folder, file)
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d added, %d updated\n", green("exported"), res.Added, res.Updated)
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Workspace folder to export")
	cmd.Flags().StringVar(&file, "file", "", "Tasks file to write (default: <folder>/.vscode/tasks.json)")
	return cmd
}
