// source.go reads the gateway access log incrementally: each poll resumes
// at the cursor's byte offset and returns only complete, newline-terminated
// lines, so a line the gateway is still writing is never half-ingested.
package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aihub/gateway-monitor/internal/db/models"
)

// ErrLogUnavailable marks the access log as missing or unreadable. Callers
// degrade to serving the existing store instead of failing the request.
var ErrLogUnavailable = errors.New("access log unavailable")

const (
	defaultScanCap = 5000
	readBufferSize = 64 * 1024
)

// RawLine is one complete line plus the byte offset where it started. The
// offset and the file identity anchor the line's idempotence key.
type RawLine struct {
	Offset int64
	Text   string
}

// Batch is the outcome of one source poll.
type Batch struct {
	FileIdentity string
	Rotated      bool // identity changed or the file shrank; reading restarted at zero
	StartOffset  int64
	EndOffset    int64 // cursor position after consuming Lines
	Lines        []RawLine
	More         bool // scan cap hit with data left; the next poll continues
}

// Source reads complete appended lines from a single log file.
type Source struct {
	path    string
	scanCap int
}

// NewSource creates a source for the given path. scanCap bounds the number
// of lines one poll may consume; values <= 0 select the default.
func NewSource(path string, scanCap int) *Source {
	if scanCap <= 0 {
		scanCap = defaultScanCap
	}
	return &Source{path: path, scanCap: scanCap}
}

// Probe reports whether the log file is currently reachable.
func (s *Source) Probe() error {
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}
	return nil
}

// Poll reads the complete lines appended since the cursor. A cursor recorded
// against a different file identity, or an offset beyond the current file
// size, resets reading to the start and flags the batch as rotated. A
// trailing line without its newline is left for a later poll.
func (s *Source) Poll(cursor *models.IngestCursor) (*Batch, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}

	batch := &Batch{FileIdentity: fileIdentity(info)}

	offset := int64(0)
	if cursor != nil {
		switch {
		case cursor.FileIdentity != batch.FileIdentity:
			batch.Rotated = true // replaced file, start over
		case info.Size() < cursor.ByteOffset:
			batch.Rotated = true // truncated in place, start over
		default:
			offset = cursor.ByteOffset
		}
	}
	batch.StartOffset = offset
	batch.EndOffset = offset

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to offset %d: %w", offset, err)
	}

	reader := bufio.NewReaderSize(f, readBufferSize)
	for len(batch.Lines) < s.scanCap {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// Partial trailing line: the gateway has not finished it yet.
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read log line at offset %d: %w", batch.EndOffset, err)
		}
		batch.Lines = append(batch.Lines, RawLine{
			Offset: batch.EndOffset,
			Text:   strings.TrimRight(line, "\r\n"),
		})
		batch.EndOffset += int64(len(line))
	}

	if len(batch.Lines) >= s.scanCap && batch.EndOffset < info.Size() {
		batch.More = true
	}

	return batch, nil
}
