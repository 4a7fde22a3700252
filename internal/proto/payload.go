package proto

import (
	"bytes"
	"encoding/json"
	"errors"
)

// PayloadKind tags the variant carried by a Payload. The core never
// interprets bytes by kind — it exists purely so the client's own variant
// survives a queue round-trip unchanged (spec.md §9).
type PayloadKind string

// Payload variants.
const (
	KindBinary     PayloadKind = "binary"
	KindText       PayloadKind = "text"
	KindStructured PayloadKind = "structured"
)

// Payload is the opaque, tagged client payload. The server never
// interprets its contents; it only needs to preserve the variant
// (binary/text/structured) through JSON marshal/unmarshal cycles without
// re-encoding raw bytes as something lossier, such as a JSON string.
//
// Binary payloads ride encoding/json's native []byte<->base64 handling,
// which is the idiomatic way to carry raw bytes through a JSON envelope
// without hand-rolling a second encoding layer.
type Payload struct {
	Kind       PayloadKind
	Binary     []byte
	Text       string
	Structured json.RawMessage
}

// wirePayload is the on-the-wire shape of Payload.
type wirePayload struct {
	Kind       PayloadKind     `json:"kind"`
	Binary     []byte          `json:"bin,omitempty"`
	Text       string          `json:"text,omitempty"`
	Structured json.RawMessage `json:"struct,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	w := wirePayload{Kind: p.Kind}
	switch p.Kind {
	case KindBinary:
		w.Binary = p.Binary
	case KindText:
		w.Text = p.Text
	case KindStructured:
		w.Structured = p.Structured
	default:
		return nil, errors.New("proto: payload has no kind set")
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	// Accept a bare JSON string as a convenience for text-only clients,
	// otherwise expect the tagged wire shape.
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		p.Kind = KindText
		p.Text = s
		return nil
	}

	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Kind = w.Kind
	p.Binary = w.Binary
	p.Text = w.Text
	p.Structured = w.Structured
	return nil
}

// Size returns the wire-relevant byte length used for MAX_PAYLOAD_SIZE
// enforcement (spec.md §4.4 step 3).
func (p Payload) Size() int64 {
	switch p.Kind {
	case KindBinary:
		return int64(len(p.Binary))
	case KindText:
		return int64(len(p.Text))
	case KindStructured:
		return int64(len(p.Structured))
	default:
		return 0
	}
}
