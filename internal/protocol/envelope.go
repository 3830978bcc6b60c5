package protocol

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrUnknownKind indicates an envelope tag outside the closed set.
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrMalformed indicates a payload that does not decode as its kind.
	ErrMalformed = errors.New("malformed message")
)

// Envelope carries one tagged message across a process boundary.
type Envelope struct {
	Kind    Kind               `msgpack:"kind"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

// Wrap encodes a host or simulation message into an envelope.
func Wrap(msg interface{ Kind() Kind }) (Envelope, error) {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: encode %s: %v", ErrMalformed, msg.Kind(), err)
	}
	return Envelope{Kind: msg.Kind(), Payload: payload}, nil
}

// DecodeHost unwraps an envelope into a HostMessage. Tags outside the host
// set are rejected with ErrUnknownKind.
func DecodeHost(env Envelope) (HostMessage, error) {
	switch env.Kind {
	case KindBoot:
		return decodeAs[Boot](env)
	case KindStart:
		return decodeAs[Start](env)
	case KindStop:
		return decodeAs[Stop](env)
	case KindAbility:
		return decodeAs[Ability](env)
	case KindOffline:
		return decodeAs[Offline](env)
	case KindVisibility:
		return decodeAs[Visibility](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
}

// DecodeSim unwraps an envelope into a SimMessage.
func DecodeSim(env Envelope) (SimMessage, error) {
	switch env.Kind {
	case KindReady:
		return decodeAs[Ready](env)
	case KindTick:
		return decodeAs[Tick](env)
	case KindLog:
		return decodeAs[Log](env)
	case KindFatal:
		return decodeAs[Fatal](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
}

func decodeAs[T any](env Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, nil
	}
	if err := msgpack.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Kind, err)
	}
	return v, nil
}

// Marshal encodes an envelope to bytes.
func Marshal(env Envelope) ([]byte, error) {
	return msgpack.Marshal(&env)
}

// Unmarshal decodes bytes into an envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}
	return env, nil
}
