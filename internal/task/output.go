package task

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"time"
)

// OutputStream identifies the source stream.
type OutputStream int

const (
	// OutputStreamStdout is standard output.
	OutputStreamStdout OutputStream = iota
	// OutputStreamStderr is standard error.
	OutputStreamStderr
)

// String returns the stream name.
func (s OutputStream) String() string {
	switch s {
	case OutputStreamStdout:
		return "stdout"
	case OutputStreamStderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// OutputLine represents a single line of output.
type OutputLine struct {
	// Content is the line content (without newline).
	Content string

	// Stream identifies the source (stdout or stderr).
	Stream OutputStream

	// Timestamp is when the line was received.
	Timestamp time.Time

	// LineNumber is the sequential line number across both streams (1-based).
	LineNumber int
}

// OutputProcessor captures the lines of one execution. Both streams may
// be processed concurrently.
type OutputProcessor struct {
	mu         sync.RWMutex
	lines      []OutputLine
	bufferSize int
	lineCount  int
}

// NewOutputProcessor creates a new output processor. bufferSize bounds
// the longest line that can be read.
func NewOutputProcessor(bufferSize int) *OutputProcessor {
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}

	return &OutputProcessor{
		lines:      make([]OutputLine, 0, 256),
		bufferSize: bufferSize,
	}
}

// Process reads r line by line, recording each line and passing it to
// callback. It returns the scanner error, if any.
func (p *OutputProcessor) Process(r io.Reader, stream OutputStream, callback func(OutputLine)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), p.bufferSize)

	for scanner.Scan() {
		p.mu.Lock()
		p.lineCount++
		line := OutputLine{
			Content:    scanner.Text(),
			Stream:     stream,
			Timestamp:  time.Now(),
			LineNumber: p.lineCount,
		}
		p.lines = append(p.lines, line)
		p.mu.Unlock()

		if callback != nil {
			callback(line)
		}
	}

	return scanner.Err()
}

// Lines returns all captured output lines.
func (p *OutputProcessor) Lines() []OutputLine {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]OutputLine, len(p.lines))
	copy(result, p.lines)
	return result
}

// StreamLines returns the lines of one stream.
func (p *OutputProcessor) StreamLines(stream OutputStream) []OutputLine {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result []OutputLine
	for _, line := range p.lines {
		if line.Stream == stream {
			result = append(result, line)
		}
	}
	return result
}

// LineCount returns the total number of lines processed.
func (p *OutputProcessor) LineCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lineCount
}

// LastLines returns the last n lines.
func (p *OutputProcessor) LastLines(n int) []OutputLine {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if n <= 0 || len(p.lines) == 0 {
		return nil
	}
	if n > len(p.lines) {
		n = len(p.lines)
	}

	result := make([]OutputLine, n)
	copy(result, p.lines[len(p.lines)-n:])
	return result
}

// Content returns all output joined by newlines.
func (p *OutputProcessor) Content() string {
	return joinLines(p.Lines())
}

func joinLines(lines []OutputLine) string {
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line.Content)
	}
	return b.String()
}
