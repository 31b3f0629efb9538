// Package console keeps the bounded tail of a server's console output.
package console

import (
	"strings"
	"sync"
	"time"
)

type Source int

const (
	SourceServer Source = iota
	SourceDaemon
	SourceInstall
	SourceTransfer
)

// Line is one console line as received.
type Line struct {
	Text       string
	ReceivedAt time.Time
	Source     Source
}

// Buffer retains the newest lines up to its retention size. Dropping
// older lines never affects correctness; the buffer only feeds displays.
type Buffer struct {
	mu      sync.RWMutex
	lines   []Line
	max     int
	version uint64
}

func NewBuffer(max int) *Buffer {
	if max < 0 {
		max = 0
	}
	b := &Buffer{max: max}
	if max > 0 {
		b.lines = make([]Line, 0, max)
	}
	return b
}

// Append adds a line, splitting on embedded newlines the way a
// terminal would render them.
func (b *Buffer) Append(l Line) {
	text := strings.TrimRight(l.Text, "\r\n")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max == 0 {
		return
	}
	for _, part := range strings.Split(text, "\n") {
		b.lines = append(b.lines, Line{Text: strings.TrimRight(part, "\r"), ReceivedAt: l.ReceivedAt, Source: l.Source})
	}
	if over := len(b.lines) - b.max; over > 0 {
		b.lines = append(b.lines[:0:0], b.lines[over:]...)
	}
	b.version++
}

// Lines returns a copy of the retained lines, oldest first.
func (b *Buffer) Lines() []Line {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.lines) == 0 {
		return nil
	}
	out := make([]Line, len(b.lines))
	copy(out, b.lines)
	return out
}

// Text joins the retained lines for a viewport.
func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var sb strings.Builder
	for i, l := range b.lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(l.Text)
	}
	return sb.String()
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// Version increases on every change, so renderers can skip redraws.
func (b *Buffer) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// Reset empties the buffer, for a view that reopens.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.lines = b.lines[:0]
	b.version++
	b.mu.Unlock()
}

// SetRetention changes the retention size, keeping the newest lines.
func (b *Buffer) SetRetention(max int) {
	if max < 0 {
		max = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.max = max
	if over := len(b.lines) - max; over > 0 {
		b.lines = append(b.lines[:0:0], b.lines[over:]...)
		b.version++
	}
}
