package annotations

import (
	"bytes"
	"encoding/json"
	"strings"
)

var jsonNull = []byte("null")

// Payload is opaque JSON owned by the editing surface. On the wire it is a JSON string
// holding the exact bytes, so no encoder along the way can compact or escape it.
// Decoding also accepts a bare JSON value, kept exactly as received.
type Payload []byte

// MarshalJSON encodes the payload as a JSON string.
func (payload Payload) MarshalJSON() ([]byte, error) {
	if payload == nil {
		return jsonNull, nil
	}
	return json.Marshal(string(payload))
}

// UnmarshalJSON restores the payload bytes from either wire form.
func (payload *Payload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull):
		*payload = nil
	case trimmed[0] == '"':
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		*payload = Payload(raw)
	default:
		*payload = append(Payload(nil), trimmed...)
	}
	return nil
}

// String returns the payload bytes as text.
func (payload Payload) String() string {
	return string(payload)
}

func (payload Payload) valid() bool {
	return len(payload) == 0 || json.Valid(payload)
}

func (payload Payload) empty() bool {
	switch strings.TrimSpace(string(payload)) {
	case "", "null", "[]", "{}":
		return true
	default:
		return false
	}
}
