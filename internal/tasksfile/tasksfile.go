// Package tasksfile reads and writes editor tasks.json files.
//
// Entries are read as task stubs: a definition plus the task-level fields
// (label, group, problemMatcher). Stubs carry no execution; the provider
// registered for the definition's type resolves them.
package tasksfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/dshills/redotask/internal/task"
	"github.com/dshills/redotask/internal/workspace"
)

// DefaultPath is the tasks file location relative to a folder.
const DefaultPath = ".vscode/tasks.json"

// ErrInvalid is returned for content that is not a tasks file.
var ErrInvalid = errors.New("invalid tasks file")

// emptyFile is written when exporting to a file that does not exist.
const emptyFile = `{"version":"2.0.0","tasks":[]}`

// taskFields are entry keys that describe the task rather than its
// definition.
var taskFields = map[string]bool{
	"label":          true,
	"group":          true,
	"problemMatcher": true,
	"detail":         true,
	"dependsOn":      true,
	"dependsOrder":   true,
	"presentation":   true,
	"runOptions":     true,
	"options":        true,
	"isBackground":   true,
}

// Load reads the tasks file at path and returns its entries as stubs
// scoped to folder.
func Load(path string, folder *workspace.Folder) ([]*task.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tasks, err := Parse(data, folder)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tasks, nil
}

// Parse returns the entries of a tasks document as stubs. Entries that
// are not objects yield stubs with an empty definition.
func Parse(data []byte, folder *workspace.Folder) ([]*task.Task, error) {
	data = jsonc.ToJSON(data)
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalid)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: top level is not an object", ErrInvalid)
	}

	entries := doc.Get("tasks")
	if !entries.Exists() {
		return []*task.Task{}, nil
	}
	if !entries.IsArray() {
		return nil, fmt.Errorf("%w: tasks is not an array", ErrInvalid)
	}

	var tasks []*task.Task
	entries.ForEach(func(key, entry gjson.Result) bool {
		tasks = append(tasks, stub(int(key.Int()), entry, folder))
		return true
	})
	if tasks == nil {
		tasks = []*task.Task{}
	}
	return tasks, nil
}

func stub(index int, entry gjson.Result, folder *workspace.Folder) *task.Task {
	t := &task.Task{
		Definition: task.NewDefinition("", nil),
		Scope:      folder,
		Name:       "tasks[" + strconv.Itoa(index) + "]",
		Source:     "tasks.json",
	}
	if !entry.IsObject() {
		return t
	}

	props := make(map[string]any)
	entry.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if k != "type" && !taskFields[k] {
			props[k] = value.Value()
		}
		return true
	})
	t.Definition = task.NewDefinition(entry.Get("type").String(), props)

	if label := entry.Get("label"); label.Type == gjson.String {
		t.Name = label.String()
	} else if target, ok := t.Definition.String("target"); ok {
		t.Name = t.Definition.Type + ": " + target
	}
	t.Detail = entry.Get("detail").String()
	t.Group = parseGroup(entry.Get("group"))
	t.ProblemMatchers = parseMatchers(entry.Get("problemMatcher"))
	return t
}

// parseGroup accepts "build" and {"kind": "build", "isDefault": true}.
func parseGroup(v gjson.Result) task.Group {
	if v.IsObject() {
		v = v.Get("kind")
	}
	switch task.Group(v.String()) {
	case task.GroupBuild:
		return task.GroupBuild
	case task.GroupTest:
		return task.GroupTest
	case task.GroupClean:
		return task.GroupClean
	default:
		return task.GroupNone
	}
}

func parseMatchers(v gjson.Result) []string {
	if v.Type == gjson.String {
		return []string{v.String()}
	}
	var names []string
	for _, m := range v.Array() {
		if m.Type == gjson.String {
			names = append(names, m.String())
		}
	}
	return names
}

// Result counts the entries changed by Export.
type Result struct {
	Added   int
	Updated int
}

// Export writes an entry for each task into the tasks file at path,
// creating it if needed. An entry whose definition matches a task is
// updated in place; other entries and unrelated keys are kept. Comments
// are not preserved.
func Export(path string, tasks []*task.Task) (Result, error) {
	var res Result

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		data = []byte(emptyFile)
	case err != nil:
		return res, err
	default:
		data = jsonc.ToJSON(data)
		if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
			return res, fmt.Errorf("%s: %w", path, ErrInvalid)
		}
	}

	if !gjson.GetBytes(data, "version").Exists() {
		if data, err = sjson.SetBytes(data, "version", "2.0.0"); err != nil {
			return res, err
		}
	}
	if entries := gjson.GetBytes(data, "tasks"); entries.Exists() && !entries.IsArray() {
		return res, fmt.Errorf("%s: %w: tasks is not an array", path, ErrInvalid)
	}

	for _, t := range tasks {
		entry := Entry(t)
		if i, ok := findEntry(data, t.Definition); ok {
			for _, key := range []string{"label", "group"} {
				data, err = sjson.SetBytes(data, "tasks."+strconv.Itoa(i)+"."+key, entry[key])
				if err != nil {
					return res, err
				}
			}
			res.Updated++
			continue
		}
		if data, err = sjson.SetBytes(data, "tasks.-1", entry); err != nil {
			return res, err
		}
		res.Added++
	}

	if err := writeFile(path, pretty.PrettyOptions(data, &pretty.Options{Width: 80, Indent: "  "})); err != nil {
		return res, err
	}
	return res, nil
}

// Entry returns the tasks.json entry for t.
func Entry(t *task.Task) map[string]any {
	entry := t.Definition.Map()
	entry["label"] = Label(t)
	group := t.Group
	if group == task.GroupNone {
		group = task.GroupBuild
	}
	entry["group"] = string(group)
	return entry
}

// Label returns the label written for t.
func Label(t *task.Task) string {
	if target, ok := t.Definition.String("target"); ok {
		return t.Definition.Type + ": " + target
	}
	return t.Name
}

// findEntry returns the index of the entry whose type and definition
// properties equal d.
func findEntry(data []byte, d task.Definition) (int, bool) {
	found := -1
	gjson.GetBytes(data, "tasks").ForEach(func(key, entry gjson.Result) bool {
		if !entry.IsObject() || entry.Get("type").String() != d.Type {
			return true
		}
		for k, v := range d.Properties {
			got := entry.Get(gjson.Escape(k))
			if !got.Exists() || !reflect.DeepEqual(got.Value(), v) {
				return true
			}
		}
		found = int(key.Int())
		return false
	})
	return found, found >= 0
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tasks-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
