package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtobufCodec is the schema-based binary codec for high-throughput
// transport. Event payloads are mapped onto a protobuf Struct, which keeps
// the wire form schema-evolution safe: unknown fields are carried, defined
// fields are never lost.
type ProtobufCodec struct{}

// NewProtobufCodec returns the protobuf codec.
func NewProtobufCodec() *ProtobufCodec { return &ProtobufCodec{} }

var errProtoNeedsMap = errors.New("protobuf codec requires a map payload")

func (c *ProtobufCodec) Serialize(v any) ([]byte, error) {
	m, ok := normalize(v).(map[string]any)
	if !ok {
		return nil, &SerializationError{Format: FormatProtobuf, Err: errProtoNeedsMap}
	}

	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, &SerializationError{Format: FormatProtobuf, Err: err}
	}

	data, err := proto.Marshal(st)
	if err != nil {
		return nil, &SerializationError{Format: FormatProtobuf, Err: err}
	}
	return data, nil
}

func (c *ProtobufCodec) Deserialize(data []byte) (any, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, &DeserializationError{Format: FormatProtobuf, Err: err}
	}
	return st.AsMap(), nil
}

func (c *ProtobufCodec) ContentType() string { return "application/x-protobuf" }

func (c *ProtobufCodec) FormatName() string { return FormatProtobuf }

func (c *ProtobufCodec) SupportsSchemaEvolution() bool { return true }
