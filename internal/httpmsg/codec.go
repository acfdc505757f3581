package httpmsg

import (
	"fmt"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// HeaderComplete reports whether buf contains a full header section
// terminator, and if so, the offset of the first byte after it.
func HeaderComplete(buf []byte) (offset int, ok bool) {
	idx := strings.Index(string(buf), headerTerminator)
	if idx < 0 {
		return 0, false
	}
	return idx + len(headerTerminator), true
}

// AddOrReplaceField splices a "name: value\r\n" field into a raw header
// buffer. If a field with the same name (case-insensitive) already exists,
// its value is replaced in place; otherwise the new field is inserted
// immediately after the start line. All other bytes — including the
// trailing CRLFCRLF and any body — are preserved exactly. The result is a
// freshly allocated buffer of the new exact size, so repeated calls with
// the same (name, value) are idempotent: the second call finds the field
// already in place and produces byte-identical output.
func AddOrReplaceField(header []byte, name, value string) ([]byte, error) {
	if !httpguts.ValidHeaderFieldName(name) {
		return nil, fmt.Errorf("%w: invalid field name %q", ErrInvalidHeader, name)
	}

	termIdx := strings.Index(string(header), headerTerminator)
	if termIdx < 0 {
		return nil, fmt.Errorf("%w: no header terminator", ErrInvalidHeader)
	}

	startLineEnd := strings.Index(string(header[:termIdx]), crlf)
	if startLineEnd < 0 {
		// Header section is only the start line (no fields yet).
		startLineEnd = termIdx + len(crlf)
	} else {
		startLineEnd += len(crlf)
	}

	newLine := name + ": " + value + crlf
	lowerPrefix := strings.ToLower(name) + ":"

	// Walk field lines by absolute offset so replacement never relies on
	// substring search, which could mismatch a value that happens to
	// contain another line's bytes.
	pos := startLineEnd
	for pos < termIdx {
		nl := strings.Index(string(header[pos:termIdx]), crlf)
		var lineEnd int
		if nl < 0 {
			lineEnd = termIdx
		} else {
			lineEnd = pos + nl
		}
		line := string(header[pos:lineEnd])
		if strings.HasPrefix(strings.ToLower(line)+":", lowerPrefix) {
			out := make([]byte, 0, len(header)-(lineEnd+len(crlf)-pos)+len(newLine))
			out = append(out, header[:pos]...)
			out = append(out, newLine...)
			out = append(out, header[lineEnd+len(crlf):]...)
			return out, nil
		}
		pos = lineEnd + len(crlf)
	}

	out := make([]byte, 0, len(header)+len(newLine))
	out = append(out, header[:startLineEnd]...)
	out = append(out, newLine...)
	out = append(out, header[startLineEnd:]...)
	return out, nil
}
