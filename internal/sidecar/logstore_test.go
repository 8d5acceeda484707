package sidecar

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backend-sidecar.log")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing log: %v", err)
	}
	return path
}

func TestLogStore_Cursor(t *testing.T) {
	store := NewLogStore(80, 4000)

	tests := []struct {
		name string
		path string
		want int64
	}{
		{"no path", "", 0},
		{"missing file", filepath.Join(t.TempDir(), "absent.log"), 0},
		{"existing file", writeLog(t, "0123456789"), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Cursor(tt.path)
			if err != nil {
				t.Fatalf("Cursor() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Cursor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLogStore_ReadChunk(t *testing.T) {
	path := writeLog(t, "hello world")
	store := NewLogStore(80, 4000)

	tests := []struct {
		name       string
		offset     int64
		maxBytes   int
		wantChunk  string
		wantOffset int64
	}{
		{"from start", 0, DefaultChunkBytes, "hello world", 11},
		{"middle", 6, DefaultChunkBytes, "world", 11},
		{"negative offset clamps to zero", -5, DefaultChunkBytes, "hello world", 11},
		{"offset past end clamps to length", 100, DefaultChunkBytes, "", 11},
		{"at end", 11, DefaultChunkBytes, "", 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ReadChunk(path, tt.offset, tt.maxBytes)
			if err != nil {
				t.Fatalf("ReadChunk() error = %v", err)
			}
			if got.Text != tt.wantChunk {
				t.Errorf("Text = %q, want %q", got.Text, tt.wantChunk)
			}
			if got.NextOffset != tt.wantOffset {
				t.Errorf("NextOffset = %d, want %d", got.NextOffset, tt.wantOffset)
			}
		})
	}
}

func TestLogStore_ReadChunkNoPath(t *testing.T) {
	got, err := NewLogStore(80, 4000).ReadChunk("", 42, 0)
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	if got.NextOffset != 42 || got.Text != "" {
		t.Errorf("ReadChunk() = %+v, want empty chunk at 42", got)
	}
}

func TestLogStore_ReadChunkMissingFile(t *testing.T) {
	_, err := NewLogStore(80, 4000).ReadChunk(filepath.Join(t.TempDir(), "absent.log"), 0, 0)

	var le *LogError
	if !errors.As(err, &le) {
		t.Fatalf("ReadChunk() error = %v, want *LogError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadChunk() error = %v, want os.ErrNotExist", err)
	}
}

func TestLogStore_ReadChunkStreamsWholeFile(t *testing.T) {
	content := strings.Repeat("abcdefghij", 500) // 5000 bytes
	path := writeLog(t, content)
	store := NewLogStore(80, 4000)

	var (
		got    strings.Builder
		offset int64
		reads  int
	)
	for {
		c, err := store.ReadChunk(path, offset, 1) // clamps up to MinChunkBytes
		if err != nil {
			t.Fatalf("ReadChunk() error = %v", err)
		}
		if c.NextOffset == offset {
			break
		}
		if len(c.Text) > MinChunkBytes {
			t.Fatalf("chunk of %d bytes exceeds clamp %d", len(c.Text), MinChunkBytes)
		}
		got.WriteString(c.Text)
		offset = c.NextOffset
		reads++
	}

	if got.String() != content {
		t.Errorf("streamed content differs: got %d bytes, want %d", got.Len(), len(content))
	}
	if reads != 5 {
		t.Errorf("reads = %d, want 5", reads)
	}
}

func TestLogStore_ReadChunkZeroClampsToMinimum(t *testing.T) {
	path := writeLog(t, strings.Repeat("x", 4096))

	got, err := NewLogStore(80, 4000).ReadChunk(path, 0, 0)
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	if len(got.Text) != MinChunkBytes || got.NextOffset != MinChunkBytes {
		t.Errorf("ReadChunk(max 0) read %d bytes to offset %d, want %d", len(got.Text), got.NextOffset, MinChunkBytes)
	}
}

func TestLogStore_ReadChunkInvalidUTF8(t *testing.T) {
	path := writeLog(t, "ok \xff\xfe done")

	got, err := NewLogStore(80, 4000).ReadChunk(path, 0, DefaultChunkBytes)
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	if !utf8.ValidString(got.Text) {
		t.Errorf("Chunk %q is not valid UTF-8", got.Text)
	}
	if !strings.HasPrefix(got.Text, "ok ") || !strings.HasSuffix(got.Text, " done") {
		t.Errorf("Chunk = %q, want surrounding text kept", got.Text)
	}
	if got.NextOffset != 10 {
		t.Errorf("NextOffset = %d, want 10 bytes consumed", got.NextOffset)
	}
}

func TestClampChunk(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, MinChunkBytes},
		{DefaultChunkBytes, DefaultChunkBytes},
		{-1, MinChunkBytes},
		{10, MinChunkBytes},
		{4096, 4096},
		{10 * 1024 * 1024, MaxChunkBytes},
	}
	for _, tt := range tests {
		if got := clampChunk(tt.in); got != tt.want {
			t.Errorf("clampChunk(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTrimTail(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		lines int
		chars int
		want  string
	}{
		{"short", "a\nb\n", 80, 4000, "a\nb"},
		{"keeps last lines", "1\n2\n3\n4\n", 2, 4000, "3\n4"},
		{"crlf", "1\r\n2\r\n", 80, 4000, "1\n2"},
		{"trims chars from front", "abcdef", 80, 3, "def"},
		{"multibyte chars", "ééééé", 80, 2, "éé"},
		{"empty", "", 80, 4000, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trimTail(tt.text, tt.lines, tt.chars); got != tt.want {
				t.Errorf("trimTail() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogStore_Tail(t *testing.T) {
	var b strings.Builder
	for i := range 200 {
		b.WriteString(strings.Repeat("x", 10))
		b.WriteString(string(rune('a' + i%26)))
		b.WriteString("\n")
	}
	path := writeLog(t, b.String())

	tail, err := NewLogStore(80, 4000).Tail(path)
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	if n := strings.Count(tail, "\n") + 1; n != 80 {
		t.Errorf("Tail() has %d lines, want 80", n)
	}
	if !strings.HasSuffix(tail, "xxxxxxxxxx"+string(rune('a'+199%26))) {
		t.Errorf("Tail() does not end with the last line: %q", tail[len(tail)-20:])
	}
}

func TestLogStore_TailBlock(t *testing.T) {
	store := NewLogStore(80, 4000)

	t.Run("no path", func(t *testing.T) {
		if got := store.TailBlock(""); got != "" {
			t.Errorf("TailBlock(\"\") = %q, want empty", got)
		}
	})

	t.Run("readable", func(t *testing.T) {
		path := writeLog(t, "boot\nTraceback: boom\n")
		want := "Backend log: " + path + "\n--- log tail ---\nboot\nTraceback: boom\n----------------"
		if got := store.TailBlock(path); got != want {
			t.Errorf("TailBlock() = %q, want %q", got, want)
		}
	})

	t.Run("unreadable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "absent.log")
		got := store.TailBlock(path)
		if !strings.HasPrefix(got, "Backend log read failed: ") || !strings.HasSuffix(got, "("+path+")") {
			t.Errorf("TailBlock() = %q, want read failure naming %s", got, path)
		}
	})
}
