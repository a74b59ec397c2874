package codec

import "github.com/vmihailenco/msgpack/v5"

// MsgpackCodec is the compact binary general-purpose codec. It preserves
// round-trip fidelity for primitives, maps, and slices while producing
// smaller output than the JSON codec for the same value.
type MsgpackCodec struct{}

// NewMsgpackCodec returns the msgpack codec.
func NewMsgpackCodec() *MsgpackCodec { return &MsgpackCodec{} }

func (c *MsgpackCodec) Serialize(v any) ([]byte, error) {
	data, err := msgpack.Marshal(normalize(v))
	if err != nil {
		return nil, &SerializationError{Format: FormatMsgpack, Err: err}
	}
	return data, nil
}

func (c *MsgpackCodec) Deserialize(data []byte) (any, error) {
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, &DeserializationError{Format: FormatMsgpack, Err: err}
	}
	return v, nil
}

func (c *MsgpackCodec) ContentType() string { return "application/msgpack" }

func (c *MsgpackCodec) FormatName() string { return FormatMsgpack }

func (c *MsgpackCodec) SupportsSchemaEvolution() bool { return false }
