package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luciancaetano/kephasgate"
)

const (
	MaxCommandSize = 4096             // outbound commands are rejected above this size
	MaxFrameSize   = 16 * 1024 * 1024 // 16MB max inbound frame size
)

var (
	ErrPayloadTooLarge = errors.New(kephasgate.ErrPayloadTooLarge)
	ErrInvalidFrame    = errors.New(kephasgate.ErrInvalidMessageFormat)
)

// Frame is a single gateway message.
//
// S is nil on frames that carry no sequence number. T is only set on
// dispatch frames.
type Frame struct {
	Op kephasgate.Opcode `json:"op"`
	D  json.RawMessage   `json:"d"`
	S  *int64            `json:"s,omitempty"`
	T  string            `json:"t,omitempty"`
}

// Dispatch is a dispatch frame handed from a session to the pipeline.
type Dispatch struct {
	ShardID    int
	Sequence   int64
	Name       string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// NewFrame marshals payload as the frame data. A nil payload encodes as null.
func NewFrame(op kephasgate.Opcode, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Op: op}, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return Frame{Op: op, D: raw}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("%s: %w", kephasgate.ErrFailedToEncode, err)
	}
	return Frame{Op: op, D: data}, nil
}

// Encode encodes an outbound frame, rejecting commands larger than MaxCommandSize.
func Encode(f Frame) ([]byte, error) {
	out, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kephasgate.ErrFailedToEncode, err)
	}
	if len(out) > MaxCommandSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(out), MaxCommandSize)
	}
	return out, nil
}

// Decode decodes an inbound frame.
// The frame data references a copy owned by the frame; the input may be reused.
func Decode(data []byte) (Frame, error) {
	if len(data) > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(data), MaxFrameSize)
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if f.Op == kephasgate.OpDispatch && f.T == "" {
		return Frame{}, fmt.Errorf("%w: dispatch without event name", ErrInvalidFrame)
	}
	return f, nil
}
