package eventstream

import (
	"context"
	"errors"
	"io"
	"iter"
)

// Stream yields fragments from an upstream body as chunks arrive.
type Stream struct {
	src       io.Reader
	chunkSize int
	re        *Reassembler
}

// NewStream creates a Stream reading from src.
func NewStream(src io.Reader, opts Options) *Stream {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Stream{
		src:       src,
		chunkSize: chunkSize,
		re:        NewReassembler(opts),
	}
}

// Fragments returns a single-use iterator over the fragments of the body.
//
// The sequence ends when the source reports io.EOF; unparsed leftovers are
// discarded. A read error or context cancellation is yielded once as the
// final element. Breaking out of the loop stops reading immediately.
func (s *Stream) Fragments(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		buf := make([]byte, s.chunkSize)
		for {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			n, err := s.src.Read(buf)
			if n > 0 {
				for _, fragment := range s.re.Feed(buf[:n]) {
					if !yield(fragment, nil) {
						return
					}
				}
			}

			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
		}
	}
}

// Stats returns the reassembly counters collected so far.
func (s *Stream) Stats() Stats {
	return s.re.Stats()
}

// ParseBody extracts the full reply from a complete upstream body.
//
// The whole body is scanned without a buffer bound. When the body carries no
// fragment record at all, the printable residue of the body is returned
// instead so that plain-text upstream replies are not lost.
func ParseBody(body []byte, opts Options) (string, Stats) {
	opts.MaxBufferSize = 0
	re := NewReassembler(opts)

	var text []byte
	for _, fragment := range re.Feed(body) {
		text = append(text, fragment...)
	}

	if re.Stats().Fragments == 0 {
		return re.Residual(), re.Stats()
	}
	return string(text), re.Stats()
}
