package sidecar

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// Chunk size bounds for ReadChunk.
const (
	DefaultChunkBytes = 64 * 1024
	MinChunkBytes     = 1024
	MaxChunkBytes     = 1024 * 1024
)

// tailWindow bounds how much of the file end Tail reads.
const tailWindow = 256 * 1024

// LogChunk is one slice of the log returned to the frontend.
type LogChunk struct {
	NextOffset int64  `json:"next_offset"`
	Text       string `json:"text"`
}

// LogStore gives byte-offset access to the append-only backend log.
// It keeps no open file: every call opens the file afresh, so concurrent
// readers never share a position.
type LogStore struct {
	tailLines int
	tailChars int
}

// NewLogStore creates a LogStore whose tails keep at most tailLines lines
// and tailChars characters.
func NewLogStore(tailLines, tailChars int) *LogStore {
	return &LogStore{tailLines: tailLines, tailChars: tailChars}
}

// Cursor returns the current log length. It is 0 when no path is known yet
// or the file has not been created.
func (s *LogStore) Cursor(path string) (int64, error) {
	if path == "" {
		return 0, nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, &LogError{Op: "stat", Path: path, Err: err}
	}
	return info.Size(), nil
}

// ReadChunk reads up to maxBytes starting at offset. The offset is clamped
// to [0, length] and maxBytes to [MinChunkBytes, MaxChunkBytes]. Callers
// with no preference pass DefaultChunkBytes. Invalid UTF-8 is replaced,
// never rejected.
func (s *LogStore) ReadChunk(path string, offset int64, maxBytes int) (LogChunk, error) {
	if path == "" {
		return LogChunk{NextOffset: offset}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return LogChunk{}, &LogError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return LogChunk{}, &LogError{Op: "stat", Path: path, Err: err}
	}

	length := info.Size()
	offset = min(max(offset, 0), length)
	limit := min(int64(clampChunk(maxBytes)), length-offset)

	buf := make([]byte, limit)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return LogChunk{}, &LogError{Op: "read", Path: path, Err: err}
	}

	return LogChunk{
		NextOffset: offset + int64(n),
		Text:       decodeLossy(buf[:n]),
	}, nil
}

func clampChunk(maxBytes int) int {
	return min(max(maxBytes, MinChunkBytes), MaxChunkBytes)
}

// decodeLossy decodes UTF-8, substituting U+FFFD for invalid sequences.
func decodeLossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return string(out)
}

// Tail returns the last lines of the log, capped to the configured line
// and character counts. Characters are trimmed from the front.
func (s *LogStore) Tail(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &LogError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", &LogError{Op: "stat", Path: path, Err: err}
	}

	start := max(info.Size()-tailWindow, 0)
	buf := make([]byte, info.Size()-start)
	n, err := f.ReadAt(buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", &LogError{Op: "read", Path: path, Err: err}
	}

	return trimTail(decodeLossy(buf[:n]), s.tailLines, s.tailChars), nil
}

// trimTail keeps the last maxLines lines, then the last maxChars characters.
func trimTail(text string, maxLines, maxChars int) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	tail := strings.Join(lines, "\n")

	if count := utf8.RuneCountInString(tail); count > maxChars {
		skip := count - maxChars
		for i := range tail {
			if skip == 0 {
				return tail[i:]
			}
			skip--
		}
	}
	return tail
}

// TailBlock formats the log tail for failure messages. It returns "" when
// no path is known.
func (s *LogStore) TailBlock(path string) string {
	if path == "" {
		return ""
	}
	tail, err := s.Tail(path)
	if err != nil {
		var le *LogError
		if errors.As(err, &le) {
			err = le.Err
		}
		return fmt.Sprintf("Backend log read failed: %v (%s)", err, path)
	}
	return fmt.Sprintf("Backend log: %s\n--- log tail ---\n%s\n----------------", path, tail)
}
