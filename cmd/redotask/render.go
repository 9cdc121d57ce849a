package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/dshills/redotask/internal/task"
	"github.com/dshills/redotask/internal/task/redo"
)

// Output formats.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	folderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	countStyle  = lipgloss.NewStyle().Faint(true)
)

// taskView is the serialized form of a task.
type taskView struct {
	Folder  string   `json:"folder" yaml:"folder"`
	Target  string   `json:"target" yaml:"target"`
	Label   string   `json:"label" yaml:"label"`
	Group   string   `json:"group,omitempty" yaml:"group,omitempty"`
	Command []string `json:"command,omitempty" yaml:"command,omitempty"`
}

func newTaskView(t *task.Task) taskView {
	v := taskView{
		Folder: t.FolderName(),
		Label:  t.Name,
		Group:  string(t.Group),
	}
	v.Target, _ = redo.Target(t.Definition)
	if t.Execution != nil {
		v.Command = t.Execution.CommandLine()
	}
	return v
}

// renderTasks writes tasks to w in the given format.
func renderTasks(w io.Writer, tasks []*task.Task, format string) error {
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, newTaskView(t))
	}

	switch format {
	case formatText, "":
		renderText(w, views)
		return nil
	case formatJSON:
		data, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

func renderText(w io.Writer, views []taskView) {
	if len(views) == 0 {
		fmt.Fprintln(w, countStyle.Render("no redo targets found"))
		return
	}

	gray := color.New(color.FgHiBlack).SprintFunc()

	width := 0
	for _, v := range views {
		width = max(width, len(v.Label))
	}

	folder := ""
	for i, v := range views {
		if i == 0 || v.Folder != folder {
			if i > 0 {
				fmt.Fprintln(w)
			}
			folder = v.Folder
			fmt.Fprintln(w, folderStyle.Render(folder))
		}
		fmt.Fprintf(w, "  %-*s  %s\n", width, v.Label, gray(strings.Join(v.Command, " ")))
	}

	noun := "targets"
	if len(views) == 1 {
		noun = "target"
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, countStyle.Render(fmt.Sprintf("%d %s", len(views), noun)))
}

// renderProblems writes a summary of the problems found in task output.
func renderProblems(w io.Writer, problems []task.Problem) {
	if len(problems) == 0 {
		return
	}

	red := color.New(color.FgRed, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "\n%s\n", red(fmt.Sprintf("%d problem(s):", len(problems))))
	for _, p := range problems {
		line := p.String()
		if p.Severity == task.ProblemSeverityError {
			fmt.Fprintf(w, "  %s\n", red(line))
		} else {
			fmt.Fprintf(w, "  %s\n", yellow(line))
		}
	}
}
