package protocol

import (
	"bytes"
	"fmt"
	"sort"
)

// OK is the literal success response for requests that carry no payload.
var OK = []byte("OK")

// NotFound is the literal response for a read or delete that missed.
var NotFound = []byte("NOT_FOUND")

// FormatValue formats a successful READ response.
func FormatValue(value []byte) []byte {
	return Escape(value)
}

// FormatError formats a protocol or storage error for the wire.
func FormatError(err error) []byte {
	return []byte(fmt.Sprintf("ERROR: %s", err.Error()))
}

// FormatReadRange formats a READRANGE response as newline-terminated
// "key: value" lines; the newline the connection appends after every
// response then forms the terminating blank line. Keys are sorted for
// deterministic output even though the index itself has no ordering.
func FormatReadRange(results map[string][]byte) []byte {
	if len(results) == 0 {
		return NotFound
	}

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.Write(Escape([]byte(k)))
		buf.WriteString(": ")
		buf.Write(Escape(results[k]))
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}
