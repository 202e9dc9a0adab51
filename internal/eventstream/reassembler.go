package eventstream

import (
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultMaxBufferSize bounds the live streaming buffer.
	DefaultMaxBufferSize = 10240

	// DefaultChunkSize is the read size used by Stream.
	DefaultChunkSize = 1024
)

// Options configures a Reassembler.
type Options struct {
	// Marker is the literal prefix of a fragment record. Defaults to DefaultMarker.
	Marker string

	// MaxBufferSize is the number of trailing bytes retained when the buffer
	// overflows. Zero disables the bound.
	MaxBufferSize int

	// ChunkSize is the read size used by Stream. Defaults to DefaultChunkSize.
	ChunkSize int
}

// Stats describes what a Reassembler did with its input.
type Stats struct {
	// Fragments is the number of fragments emitted.
	Fragments int
	// Malformed counts brace-balanced spans that failed to decode as JSON.
	Malformed int
	// Unrecognized counts decoded objects without a string content field.
	Unrecognized int
	// Truncations counts buffer overflows.
	Truncations int
	// TruncatedBytes is the total number of bytes discarded by overflows.
	TruncatedBytes int
}

// Reassembler turns arriving chunks into content fragments. It is owned by a
// single request and is not safe for concurrent use.
type Reassembler struct {
	marker  []byte
	maxSize int
	buf     []byte
	stats   Stats
}

// NewReassembler creates a Reassembler.
func NewReassembler(opts Options) *Reassembler {
	marker := opts.Marker
	if marker == "" {
		marker = DefaultMarker
	}
	return &Reassembler{
		marker:  []byte(marker),
		maxSize: opts.MaxBufferSize,
	}
}

// Feed appends chunk to the buffer and returns every fragment completed by it,
// in arrival order.
func (r *Reassembler) Feed(chunk []byte) []string {
	r.buf = append(r.buf, chunk...)

	if r.maxSize > 0 && len(r.buf) > r.maxSize {
		drop := len(r.buf) - r.maxSize
		n := copy(r.buf, r.buf[drop:])
		r.buf = r.buf[:n]
		r.stats.Truncations++
		r.stats.TruncatedBytes += drop
	}

	var fragments []string
	pending := r.buf
	for {
		object, rest := Extract(pending, r.marker)
		if object == nil {
			break
		}
		if text, ok := r.decode(object); ok {
			fragments = append(fragments, text)
		}
		pending = rest
	}

	if len(pending) != len(r.buf) {
		n := copy(r.buf, pending)
		r.buf = r.buf[:n]
	}

	return fragments
}

// decode returns the content field of a complete object.
func (r *Reassembler) decode(object []byte) (string, bool) {
	var record struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(object, &record); err != nil {
		r.stats.Malformed++
		return "", false
	}
	if record.Content == nil {
		r.stats.Unrecognized++
		return "", false
	}
	r.stats.Fragments++
	return *record.Content, true
}

// Residual returns the printable text left in the buffer, with framing lines
// removed: lines that are empty or start with ':' after stripping control
// bytes. It is a best-effort fallback for bodies that carry no fragment
// records at all.
func (r *Reassembler) Residual() string {
	var kept []string
	for line := range strings.SplitSeq(string(r.buf), "\n") {
		line = strings.TrimSpace(strings.Map(printable, line))
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// Buffered returns the number of unparsed bytes currently held.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Stats returns a snapshot of the counters.
func (r *Reassembler) Stats() Stats {
	return r.stats
}

func printable(c rune) rune {
	if c == utf8.RuneError {
		return -1
	}
	if c == ' ' || c == '\t' || unicode.IsPrint(c) {
		return c
	}
	return -1
}
