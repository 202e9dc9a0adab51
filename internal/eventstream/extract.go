package eventstream

import "bytes"

// DefaultMarker is the literal prefix of a content fragment record.
const DefaultMarker = `{"content":`

// Extract scans buf from the first occurrence of marker and returns the first
// complete object together with the bytes following it.
//
// The scan tracks string and escape state so that braces inside JSON strings
// are ignored. When the marker is absent or the object is still open at the
// end of buf, Extract returns a nil object and buf unchanged; the caller must
// wait for more input. Extract must be called repeatedly until it returns nil
// because a single chunk may complete several objects.
func Extract(buf, marker []byte) (object, rest []byte) {
	start := bytes.Index(buf, marker)
	if start < 0 {
		return nil, buf
	}

	var (
		depth      int
		inString   bool
		escapeNext bool
	)

	for i := start; i < len(buf); i++ {
		c := buf[i]

		if escapeNext {
			escapeNext = false
			continue
		}
		if c == '\\' {
			escapeNext = true
			continue
		}
		if c == '"' {
			inString = !inString
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			if depth == 0 {
				// Closing brace before any opening one: the candidate at start
				// cannot form a balanced span, move on to the next marker.
				next := bytes.Index(buf[i+1:], marker)
				if next < 0 {
					return nil, buf
				}
				start = i + 1 + next
				i = start - 1
				inString = false
				continue
			}
			depth--
			if depth == 0 {
				return buf[start : i+1], buf[i+1:]
			}
		}
	}

	return nil, buf
}
