// Package eventstream reconstructs assistant text fragments from the vendor's
// chunked event-stream body.
//
// The upstream body is a sequence of binary frames, each carrying a small JSON
// payload such as {"content":"Hello"}. The frames have no schema this package
// relies on; instead it scans the raw bytes for the payload marker and uses a
// brace/string state machine to cut out complete JSON objects:
//
//   - Extract pulls one complete object out of a buffer, or reports that more
//     input is needed.
//   - Reassembler owns a bounded buffer, feeds it from arriving chunks and
//     decodes every complete object into a fragment.
//   - Stream adapts an io.Reader into a lazy iter.Seq2 of fragments for the
//     live streaming path.
//   - ParseBody handles the whole-body path used for buffered responses.
//
// Parsing never fails: incomplete objects wait for more input and malformed
// ones are dropped and counted in Stats.
//
// # Bounded buffer
//
// When the buffer grows beyond Options.MaxBufferSize, only the trailing bytes
// are kept. This is a lossy safety valve against unbounded memory growth, not
// a correctness guarantee: an object that straddles the cut is lost.
// Truncation only happens right after a chunk is appended and before the
// extraction pass, never while an object is being scanned.
package eventstream
