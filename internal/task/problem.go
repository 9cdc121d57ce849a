package task

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
)

// matchTimeout bounds a single pattern match against one output line.
const matchTimeout = 100 * time.Millisecond

// ProblemSeverity indicates the severity of a problem.
type ProblemSeverity string

const (
	// ProblemSeverityError is an error.
	ProblemSeverityError ProblemSeverity = "error"
	// ProblemSeverityWarning is a warning.
	ProblemSeverityWarning ProblemSeverity = "warning"
	// ProblemSeverityInfo is informational.
	ProblemSeverityInfo ProblemSeverity = "info"
)

// Problem represents a detected problem from task output.
type Problem struct {
	// File is the file path where the problem occurred.
	File string

	// Line is the line number (1-based).
	Line int

	// Column is the column number (1-based, 0 if unknown).
	Column int

	// Severity indicates error, warning, or info.
	Severity ProblemSeverity

	// Code is an optional error code.
	Code string

	// Message is the problem description.
	Message string

	// Source is the tool that reported the problem.
	Source string
}

// String formats the problem as file:line:col: severity: message.
func (p Problem) String() string {
	loc := p.File
	if p.Line > 0 {
		loc += ":" + strconv.Itoa(p.Line)
		if p.Column > 0 {
			loc += ":" + strconv.Itoa(p.Column)
		}
	}
	return fmt.Sprintf("%s: %s: %s", loc, p.Severity, p.Message)
}

// ProblemPattern defines a regular expression for matching problems.
// Group indexes are 1-based; 0 skips the field.
type ProblemPattern struct {
	// Regexp is an ECMAScript regular expression.
	Regexp string

	File     int
	Line     int
	Column   int
	Severity int
	Code     int
	Message  int

	// DefaultSeverity is used when Severity is 0.
	DefaultSeverity ProblemSeverity
}

// ProblemMatcherDefinition defines a named problem matcher.
type ProblemMatcherDefinition struct {
	// Name is the matcher name, conventionally "$" followed by the tool.
	Name string

	// Owner identifies the tool (e.g., "go", "gcc").
	Owner string

	// Patterns are tried in order; the first match wins.
	Patterns []ProblemPattern
}

// CompiledMatcher is a compiled problem matcher ready for use.
type CompiledMatcher struct {
	def      ProblemMatcherDefinition
	patterns []*compiledPattern
}

type compiledPattern struct {
	regex   *regexp2.Regexp
	pattern ProblemPattern
}

// Name returns the matcher name.
func (m *CompiledMatcher) Name() string {
	return m.def.Name
}

// Match attempts to match a line and extract a problem.
func (m *CompiledMatcher) Match(line string) (Problem, bool) {
	for _, p := range m.patterns {
		match, err := p.regex.FindStringMatch(line)
		if err != nil || match == nil {
			continue
		}

		group := func(n int) string {
			if n <= 0 {
				return ""
			}
			g := match.GroupByNumber(n)
			if g == nil {
				return ""
			}
			return g.String()
		}
		number := func(n int) int {
			v, _ := strconv.Atoi(group(n))
			return v
		}

		problem := Problem{
			Source:  m.def.Owner,
			File:    group(p.pattern.File),
			Line:    number(p.pattern.Line),
			Column:  number(p.pattern.Column),
			Code:    group(p.pattern.Code),
			Message: strings.TrimSpace(group(p.pattern.Message)),
		}

		if s := group(p.pattern.Severity); s != "" {
			problem.Severity = parseSeverity(s)
		} else {
			problem.Severity = p.pattern.DefaultSeverity
			if problem.Severity == "" {
				problem.Severity = ProblemSeverityError
			}
		}

		return problem, true
	}

	return Problem{}, false
}

func parseSeverity(s string) ProblemSeverity {
	switch strings.ToLower(s) {
	case "warning", "warn":
		return ProblemSeverityWarning
	case "info", "note":
		return ProblemSeverityInfo
	default:
		return ProblemSeverityError
	}
}

// ProblemMatchers is a registry of named problem matchers.
type ProblemMatchers struct {
	mu       sync.RWMutex
	matchers map[string]*CompiledMatcher
}

// NewProblemMatchers creates a registry holding the built-in matchers.
func NewProblemMatchers() *ProblemMatchers {
	pm := &ProblemMatchers{
		matchers: make(map[string]*CompiledMatcher),
	}
	for _, def := range builtinMatchers() {
		if err := pm.Register(def); err != nil {
			panic(fmt.Sprintf("builtin problem matcher %s: %v", def.Name, err))
		}
	}
	return pm
}

// Register compiles and registers a problem matcher definition,
// replacing any matcher with the same name.
func (pm *ProblemMatchers) Register(def ProblemMatcherDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("problem matcher has no name")
	}

	compiled := &CompiledMatcher{
		def:      def,
		patterns: make([]*compiledPattern, 0, len(def.Patterns)),
	}
	for i, p := range def.Patterns {
		re, err := regexp2.Compile(p.Regexp, regexp2.ECMAScript)
		if err != nil {
			return fmt.Errorf("problem matcher %s pattern %d: %w", def.Name, i, err)
		}
		re.MatchTimeout = matchTimeout
		compiled.patterns = append(compiled.patterns, &compiledPattern{regex: re, pattern: p})
	}

	pm.mu.Lock()
	pm.matchers[def.Name] = compiled
	pm.mu.Unlock()
	return nil
}

// Get returns a compiled matcher by name.
func (pm *ProblemMatchers) Get(name string) (*CompiledMatcher, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	m, ok := pm.matchers[name]
	return m, ok
}

// Names returns all registered matcher names in sorted order.
func (pm *ProblemMatchers) Names() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	names := make([]string, 0, len(pm.matchers))
	for name := range pm.matchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the matchers for names, skipping unknown ones.
func (pm *ProblemMatchers) Lookup(names []string) []*CompiledMatcher {
	var result []*CompiledMatcher
	for _, name := range names {
		if m, ok := pm.Get(name); ok {
			result = append(result, m)
		}
	}
	return result
}

func builtinMatchers() []ProblemMatcherDefinition {
	return []ProblemMatcherDefinition{
		{
			// GCC/Clang style: file:line:column: severity: message
			Name:  "$gcc",
			Owner: "gcc",
			Patterns: []ProblemPattern{
				{
					Regexp:   `^(.+?):(\d+):(\d+):\s*(fatal error|error|warning|note):\s*(.+)$`,
					File:     1,
					Line:     2,
					Column:   3,
					Severity: 4,
					Message:  5,
				},
				{
					Regexp:   `^(.+?):(\d+):\s*(fatal error|error|warning|note):\s*(.+)$`,
					File:     1,
					Line:     2,
					Severity: 3,
					Message:  4,
				},
			},
		},
		{
			// Go compiler and vet: file:line:column: message
			Name:  "$go",
			Owner: "go",
			Patterns: []ProblemPattern{
				{
					Regexp:  `^(?:\./)?([^\s:]+\.go):(\d+):(\d+):\s*(.+)$`,
					File:    1,
					Line:    2,
					Column:  3,
					Message: 4,
				},
				{
					Regexp:  `^(?:\./)?([^\s:]+\.go):(\d+):\s*(.+)$`,
					File:    1,
					Line:    2,
					Message: 3,
				},
			},
		},
		{
			// redo reports failing targets as: redo  <target> (exit N)
			Name:  "$redo",
			Owner: "redo",
			Patterns: []ProblemPattern{
				{
					Regexp:          `^redo\s+(\S+)\s+\(exit\s+(\d+)\)$`,
					File:            1,
					Code:            2,
					Message:         0,
					DefaultSeverity: ProblemSeverityError,
				},
			},
		},
	}
}
