package report

import (
	"io"
	"sync"

	"github.com/muesli/termenv"
)

// Sink receives log lines. Implementations must be safe for concurrent use.
type Sink interface {
	// Log records a progress line.
	Log(line string)

	// Error records a failure line.
	Error(line string)
}

// Level distinguishes progress lines from failures.
type Level uint8

// Line levels.
const (
	LevelInfo Level = iota
	LevelError
)

// Line is one recorded line.
type Line struct {
	Level Level
	Text  string
}

// Memory is a Sink that keeps every line in order.
type Memory struct {
	mu    sync.Mutex
	lines []Line
}

// Log implements Sink.
func (m *Memory) Log(line string) { m.add(LevelInfo, line) }

// Error implements Sink.
func (m *Memory) Error(line string) { m.add(LevelError, line) }

func (m *Memory) add(l Level, text string) {
	m.mu.Lock()
	m.lines = append(m.lines, Line{Level: l, Text: text})
	m.mu.Unlock()
}

// Lines returns a copy of all recorded lines.
func (m *Memory) Lines() []Line {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Line, len(m.lines))
	copy(out, m.lines)
	return out
}

// Texts returns the text of every line, errors included.
func (m *Memory) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.lines))
	for i, l := range m.lines {
		out[i] = l.Text
	}
	return out
}

// Reset drops all recorded lines.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.lines = nil
	m.mu.Unlock()
}

// ColorMode selects when Writer colours error lines.
type ColorMode uint8

// Colour modes.
const (
	// ColorAuto colours when the destination is a terminal that supports it.
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

// ParseColorMode parses "auto", "always" or "never".
func ParseColorMode(s string) (ColorMode, bool) {
	switch s {
	case "", "auto":
		return ColorAuto, true
	case "always":
		return ColorAlways, true
	case "never":
		return ColorNever, true
	}
	return ColorAuto, false
}

// Writer is a Sink that writes one line per call to an io.Writer. Error
// lines are printed in red when colour is enabled.
type Writer struct {
	mu  sync.Mutex
	out *termenv.Output
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer, mode ColorMode) *Writer {
	var out *termenv.Output
	switch mode {
	case ColorAlways:
		out = termenv.NewOutput(w, termenv.WithProfile(termenv.ANSI))
	case ColorNever:
		out = termenv.NewOutput(w, termenv.WithProfile(termenv.Ascii))
	default:
		out = termenv.NewOutput(w)
	}
	return &Writer{out: out}
}

// Log implements Sink.
func (w *Writer) Log(line string) { w.write(line) }

// Error implements Sink.
func (w *Writer) Error(line string) {
	w.write(w.out.String(line).Foreground(w.out.Color("1")).String())
}

func (w *Writer) write(s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = io.WriteString(w.out, s+"\n")
}

// multi fans lines out to several sinks.
type multi []Sink

// Multi returns a Sink that forwards every line to each of sinks in order.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (m multi) Log(line string) {
	for _, s := range m {
		s.Log(line)
	}
}

func (m multi) Error(line string) {
	for _, s := range m {
		s.Error(line)
	}
}

// Discard is a Sink that drops every line.
var Discard Sink = discard{}

type discard struct{}

func (discard) Log(string)   {}
func (discard) Error(string) {}
