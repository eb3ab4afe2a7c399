package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fairwaylabs/caddielink/internal/compress"
)

// ErrUnknownKind is returned when a frame names a kind this peer does not
// understand. Unknown kinds are a permanent decode failure, never retried.
var ErrUnknownKind = errors.New("message: unknown kind")

// Frame is the transport-agnostic wire envelope. Payload holds the JSON
// body, snappy-compressed when Compressed is set.
type Frame struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Priority   Priority  `json:"priority"`
	CreatedAt  time.Time `json:"created_at"`
	Compressed bool      `json:"compressed"`
	Payload    []byte    `json:"payload"`
}

// Encode serializes a message to wire bytes, compressing the body when
// beneficial.
func Encode(m Message) ([]byte, error) {
	if m.Body == nil {
		return nil, fmt.Errorf("message %s: nil body", m.ID)
	}
	body, err := json.Marshal(m.Body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", m.Kind, err)
	}

	frame := Frame{
		ID:        m.ID,
		Kind:      m.Kind,
		Priority:  m.Priority,
		CreatedAt: m.CreatedAt,
		Payload:   body,
	}
	if packed, ok := compress.IfBeneficial(body); ok {
		frame.Compressed = true
		frame.Payload = packed
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal frame %s: %w", m.ID, err)
	}
	return data, nil
}

// Decode parses wire bytes back into a message, decompressing and decoding
// the typed body. Any failure here is permanent: the payload is presumed
// malformed and the caller drops it.
func Decode(data []byte) (Message, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Message{}, fmt.Errorf("unmarshal frame: %w", err)
	}

	body := frame.Payload
	if frame.Compressed {
		raw, err := compress.Decode(body)
		if err != nil {
			return Message{}, fmt.Errorf("decompress frame %s: %w", frame.ID, err)
		}
		body = raw
	}

	decoded, err := decodeBody(frame.Kind, body)
	if err != nil {
		return Message{}, err
	}

	return Message{
		ID:          frame.ID,
		Kind:        frame.Kind,
		Priority:    frame.Priority,
		CreatedAt:   frame.CreatedAt,
		RequiresAck: requiresAck(frame.Kind),
		Body:        decoded,
	}, nil
}

// decodeBody matches exhaustively over kinds; there is exactly one body
// type per kind.
func decodeBody(kind Kind, data []byte) (Body, error) {
	var (
		body Body
		err  error
	)
	switch kind {
	case KindRoundStart:
		var b RoundStartBody
		err = json.Unmarshal(data, &b)
		body = b
	case KindRoundEnd:
		var b RoundEndBody
		err = json.Unmarshal(data, &b)
		body = b
	case KindScore:
		var b ScoreUpdateBody
		err = json.Unmarshal(data, &b)
		body = b
	case KindTelemetry:
		var b TelemetryBody
		err = json.Unmarshal(data, &b)
		body = b
	case KindHaptic:
		var b HapticBody
		err = json.Unmarshal(data, &b)
		body = b
	case KindControl:
		var b ControlBody
		err = json.Unmarshal(data, &b)
		body = b
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", kind, err)
	}
	return body, nil
}
