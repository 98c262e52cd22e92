package tracer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

func decodeString(value []byte) (string, bool) {
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", false
	}
	return s, true
}

// decodeMatches splits a scan value into its elements. Only the outer array is required;
// elements that do not fit ElementMatch are kept as printed but left out of the typed view.
func decodeMatches(value []byte) (elements []json.RawMessage, matches []ElementMatch, err error) {
	if err := json.Unmarshal(value, &elements); err != nil {
		return nil, nil, fmt.Errorf("decoding element matches: %w", err)
	}
	for _, raw := range elements {
		var m ElementMatch
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		matches = append(matches, m)
	}
	return elements, matches, nil
}

// writeReport prints a scan value as received, indented by two spaces and followed by a
// newline.
func writeReport(w io.Writer, value []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, value, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
