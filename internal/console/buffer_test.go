package console

import (
	"fmt"
	"testing"
	"time"
)

func TestBufferKeepsNewestLines(t *testing.T) {
	b := NewBuffer(3)
	for i := 0; i < 5; i++ {
		b.Append(Line{Text: fmt.Sprintf("line %d", i), ReceivedAt: time.Unix(int64(i), 0)})
	}
	lines := b.Lines()
	if len(lines) != 3 {
		t.Fatalf("len = %d, want 3", len(lines))
	}
	for i, want := range []string{"line 2", "line 3", "line 4"} {
		if lines[i].Text != want {
			t.Errorf("lines[%d] = %q, want %q", i, lines[i].Text, want)
		}
	}
	if b.Text() != "line 2\nline 3\nline 4" {
		t.Errorf("Text = %q", b.Text())
	}
}

func TestBufferSplitsEmbeddedNewlines(t *testing.T) {
	b := NewBuffer(10)
	b.Append(Line{Text: "first\r\nsecond\n"})
	lines := b.Lines()
	if len(lines) != 2 || lines[0].Text != "first" || lines[1].Text != "second" {
		t.Errorf("Lines = %+v", lines)
	}
}

func TestBufferResetAndRetention(t *testing.T) {
	b := NewBuffer(5)
	for i := 0; i < 5; i++ {
		b.Append(Line{Text: fmt.Sprint(i)})
	}
	v := b.Version()
	b.SetRetention(2)
	if b.Len() != 2 || b.Lines()[0].Text != "3" {
		t.Errorf("after SetRetention Lines = %+v", b.Lines())
	}
	if b.Version() == v {
		t.Error("trimming did not bump the version")
	}
	b.Reset()
	if b.Len() != 0 || b.Lines() != nil {
		t.Errorf("Reset left %d lines", b.Len())
	}
	b.Append(Line{Text: "again"})
	if b.Len() != 1 {
		t.Error("buffer did not restart after Reset")
	}
}

func TestZeroRetentionDropsEverything(t *testing.T) {
	b := NewBuffer(0)
	b.Append(Line{Text: "x"})
	if b.Len() != 0 {
		t.Errorf("Len = %d, want 0", b.Len())
	}
}
