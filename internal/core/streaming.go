package core

// streaming.go wraps import input readers.
//
// The parser consumes the file as a stream, so the service never holds a
// whole file in memory. The reader here counts bytes for the import result
// and enforces the configured maximum file size. Byte order marks and
// character sets are handled by the ofx parser, which must see the raw
// bytes to honor the declared encoding.

import (
	"errors"
	"fmt"
	"io"
)

// ErrFileTooLarge is returned once the input exceeds the configured size.
var ErrFileTooLarge = errors.New("file exceeds maximum size")

// StreamingCountingReader tracks bytes read and optionally fails once more
// than Limit bytes have been read.
type StreamingCountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // If known (0 if unknown)
	Limit     int64 // 0 disables the check
}

// NewStreamingCountingReader creates a counting reader with optional total
// size and limit.
func NewStreamingCountingReader(r io.Reader, total, limit int64) *StreamingCountingReader {
	return &StreamingCountingReader{
		reader: r,
		Total:  total,
		Limit:  limit,
	}
}

// Read implements io.Reader.
func (r *StreamingCountingReader) Read(p []byte) (int, error) {
	if r.Limit > 0 && r.BytesRead > r.Limit {
		return 0, fmt.Errorf("%w (%d bytes)", ErrFileTooLarge, r.Limit)
	}
	if r.Limit > 0 {
		// Allow one byte past the limit so an exact-size file still sees EOF.
		if room := r.Limit - r.BytesRead + 1; int64(len(p)) > room {
			p = p[:room]
		}
	}
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	if r.Limit > 0 && r.BytesRead > r.Limit {
		return n, fmt.Errorf("%w (%d bytes)", ErrFileTooLarge, r.Limit)
	}
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *StreamingCountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead * 100 / r.Total)
}
