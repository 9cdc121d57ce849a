package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dshills/redotask/internal/app"
	"github.com/dshills/redotask/internal/workspace"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write settings",
	}
	cmd.PersistentFlags().StringVar(&folder, "folder", "", "Folder scope (default: global)")

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the effective value of a setting and the layer it came from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := flags.open(cmd, false)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			scope, err := configScope(application, folder)
			if err != nil {
				return err
			}
			value, source, err := application.Config().Lookup(args[0], scope)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			text, err := formatValue(value)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t(%s)\n", text, source)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <section.key> <value>",
		Short: "Write a setting to the user settings or a folder's config file",
		Long: `Set parses the value as YAML, so "true", "3" and "[a, b]" are stored
as a bool, a number and a list. Without --folder the user settings file
is written; with it, the folder's .redotask/config.toml.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			section, key, ok := strings.Cut(args[0], ".")
			if !ok || section == "" || key == "" {
				return fmt.Errorf("key %q must have the form section.key", args[0])
			}
			value, err := parseValue(args[1])
			if err != nil {
				return err
			}

			application, err := flags.open(cmd, false)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			scope, err := configScope(application, folder)
			if err != nil {
				return err
			}
			return application.Config().Set(section, key, value, scope)
		},
	}

	unset := &cobra.Command{
		Use:   "unset <section.key>",
		Short: "Remove a setting from the user settings or a folder's config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			section, key, ok := strings.Cut(args[0], ".")
			if !ok || section == "" || key == "" {
				return fmt.Errorf("key %q must have the form section.key", args[0])
			}

			application, err := flags.open(cmd, false)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			scope, err := configScope(application, folder)
			if err != nil {
				return err
			}
			if err := application.Config().Unset(section, key, scope); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print every effective setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := flags.open(cmd, false)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			scope, err := configScope(application, folder)
			if err != nil {
				return err
			}
			settings := application.Config().Settings(scope)
			keys := make([]string, 0, len(settings))
			for k := range settings {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			for _, k := range keys {
				text, err := formatValue(settings[k])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", k, text)
			}
			return nil
		},
	}

	cmd.AddCommand(get, set, unset, list)
	return cmd
}

// configScope returns the folder named by the --folder flag, or nil for
// the global scope.
func configScope(application *app.Application, name string) (*workspace.Folder, error) {
	if name == "" {
		return nil, nil
	}
	f, err := application.Folder(name)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// parseValue reads a command line value as a YAML scalar or list.
func parseValue(s string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("parsing value %q: %w", s, err)
	}
	switch v.(type) {
	case nil:
		return s, nil
	case map[string]any:
		return nil, errors.New("set one key at a time; objects are not accepted")
	}
	return v, nil
}

// formatValue renders a setting on one line.
func formatValue(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	node := &yaml.Node{}
	if err := node.Encode(v); err != nil {
		return "", err
	}
	node.Style = yaml.FlowStyle
	data, err := yaml.Marshal(node)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
