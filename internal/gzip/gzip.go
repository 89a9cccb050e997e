// Package gzip provides a streaming gzip compressor that tracks how many input bytes
// it has consumed, so uploads can report the uncompressed payload size.
package gzip

import (
	"compress/gzip"
	"io"
)

// Streamer compresses the reader it is Reset with as it is read. Streamer implements
// io.Reader.
type Streamer struct {
	pr *io.PipeReader

	inputSize int64
}

// New creates a new Streamer. Reset must be called before the first Read.
func New() *Streamer {
	return &Streamer{}
}

// Compress is a shortcut for New() + Reset(r).
func Compress(r io.Reader) *Streamer {
	s := New()
	s.Reset(r)
	return s
}

// Reset starts the Streamer compressing from r, discarding any prior state.
func (s *Streamer) Reset(r io.Reader) {
	pr, pw := io.Pipe()
	s.pr = pr
	s.inputSize = 0

	zw := gzip.NewWriter(pw)
	go func() {
		n, err := io.Copy(zw, r)
		s.inputSize = n
		if err != nil {
			zw.Close()
			pw.CloseWithError(err)
			return
		}
		if err := zw.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()
}

// Read implements io.Reader, yielding the compressed stream.
func (s *Streamer) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// InputSize returns the number of uncompressed bytes consumed so far. It is only
// accurate after the stream has been fully read.
func (s *Streamer) InputSize() int64 {
	return s.inputSize
}
