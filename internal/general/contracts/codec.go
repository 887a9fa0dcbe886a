package contracts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed matches every *DecodeError via errors.Is.
var ErrMalformed = errors.New("malformed envelope")

// DecodeError reports a payload that cannot be turned into the requested envelope.
type DecodeError struct {
	Envelope string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Envelope, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrMalformed }

// Envelope is the set of wire types handled by the codec.
type Envelope interface {
	RequestEnvelope | InboundRequest | ResponseEnvelope
}

// Encode serializes an envelope to its JSON wire form.
func Encode[T Envelope](v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}

// Decode parses a JSON object into T. Numbers inside AdditionalInfo are kept as json.Number
// so they re-encode unchanged.
func Decode[T Envelope](b []byte) (T, error) {
	var v T
	name := fmt.Sprintf("%T", v)

	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return v, &DecodeError{Envelope: name, Err: errors.New("payload is not a JSON object")}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return v, &DecodeError{Envelope: name, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return v, &DecodeError{Envelope: name, Err: errors.New("trailing data after JSON object")}
	}

	return v, nil
}
