package codec

import "github.com/bytedance/sonic"

// sonicConfig matches encoding/json semantics.
var sonicConfig = sonic.ConfigStd

// JSONCodec is the human-readable codec. Dates and decimals are written as
// canonical strings and stay strings after a round trip.
type JSONCodec struct{}

// NewJSONCodec returns the JSON codec.
func NewJSONCodec() *JSONCodec { return &JSONCodec{} }

func (c *JSONCodec) Serialize(v any) ([]byte, error) {
	data, err := sonicConfig.Marshal(normalize(v))
	if err != nil {
		return nil, &SerializationError{Format: FormatJSON, Err: err}
	}
	return data, nil
}

func (c *JSONCodec) Deserialize(data []byte) (any, error) {
	var v any
	if err := sonicConfig.Unmarshal(data, &v); err != nil {
		return nil, &DeserializationError{Format: FormatJSON, Err: err}
	}
	return v, nil
}

func (c *JSONCodec) ContentType() string { return "application/json" }

func (c *JSONCodec) FormatName() string { return FormatJSON }

func (c *JSONCodec) SupportsSchemaEvolution() bool { return false }
