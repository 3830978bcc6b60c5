package bridge

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"

	"github.com/signalsfoundry/idle-engine/internal/protocol"
)

// CodecName is the gRPC content-subtype carried by bridge streams.
const CodecName = "msgpack"

func init() {
	encoding.RegisterCodec(codec{})
}

// codec frames protocol envelopes as msgpack instead of protobuf.
type codec struct{}

func (codec) Name() string { return CodecName }

func (codec) Marshal(v any) ([]byte, error) {
	env, ok := v.(*protocol.Envelope)
	if !ok {
		return nil, fmt.Errorf("bridge codec: cannot marshal %T", v)
	}
	return protocol.Marshal(*env)
}

func (codec) Unmarshal(data []byte, v any) error {
	env, ok := v.(*protocol.Envelope)
	if !ok {
		return fmt.Errorf("bridge codec: cannot unmarshal into %T", v)
	}
	return msgpack.Unmarshal(data, env)
}
