package wsutil

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// ErrEmptyPayload is returned when an event carries no bytes.
var ErrEmptyPayload = errors.New("empty payload")

// Codec marshals payloads going over the Websocket. The wire format is assumed
// to be reliable; the codec only has to round-trip values.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

// DefaultCodec is the codec used by DecodeOP and NewOP. It uses encoding/json.
var DefaultCodec Codec = jsonCodec{}

// OPCode is a generic type for websocket OP codes.
type OPCode uint8

// OP is the envelope of every signaling message: {"op": int, "d": payload}.
type OP struct {
	Code OPCode          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
}

// NewOP encodes v as the data of a new OP. A nil v produces a null payload.
func NewOP(codec Codec, code OPCode, v interface{}) ([]byte, error) {
	op := OP{Code: code}

	if v != nil {
		b, err := codec.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode v")
		}

		op.Data = b
	}

	b, err := codec.Marshal(op)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode payload")
	}

	return b, nil
}

// UnmarshalData decodes the OP's data into v using the default codec.
func (op *OP) UnmarshalData(v interface{}) error {
	return DefaultCodec.Unmarshal(op.Data, v)
}

// HasData returns true if the OP carries a non-null payload.
func (op *OP) HasData() bool {
	return len(op.Data) > 0 && string(op.Data) != "null"
}

// DecodeOP decodes the envelope of a data Event.
func DecodeOP(ev Event) (*OP, error) {
	if ev.Error != nil {
		return nil, ev.Error
	}

	if ev.Close != nil {
		return nil, ev.Close
	}

	if len(ev.Data) == 0 {
		return nil, ErrEmptyPayload
	}

	var op *OP
	if err := DefaultCodec.Unmarshal(ev.Data, &op); err != nil {
		return nil, errors.Wrap(err, "OP error: "+string(ev.Data))
	}

	if op == nil {
		return nil, ErrEmptyPayload
	}

	return op, nil
}

// UnknownOPError is returned by handlers that receive an OP code they do not
// know. It is not a fatal error.
type UnknownOPError struct {
	Code OPCode
	Data json.RawMessage
}

// Error formats the unknown OP error with the code and payload.
func (err UnknownOPError) Error() string {
	return fmt.Sprintf("unknown OP code %d: %s", err.Code, string(err.Data))
}

// IsUnknownOP returns true if the error is an UnknownOPError.
func IsUnknownOP(err error) bool {
	var unknown UnknownOPError
	return errors.As(err, &unknown)
}
