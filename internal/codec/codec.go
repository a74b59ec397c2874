// Package codec provides the pluggable serialization layer converting
// structured events to and from wire-format bytes. Implementations are
// selected by name through a fail-closed factory.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

// Codec converts structured values to byte payloads and back. Structured
// values are maps, slices, and primitives; date/time and arbitrary-precision
// decimal values are canonicalized to strings on serialize (see normalize.go).
type Codec interface {
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte) (any, error)

	// ContentType returns the MIME type of the wire format.
	ContentType() string
	// FormatName returns the registry name of the codec.
	FormatName() string
	// SupportsSchemaEvolution reports whether the wire format tolerates
	// schema changes between producer and consumer.
	SupportsSchemaEvolution() bool
}

// ErrInvalidFormat is returned by New for unknown codec names.
var ErrInvalidFormat = errors.New("codec: invalid format")

// SerializationError wraps a failure converting a value to bytes.
type SerializationError struct {
	Format string
	Err    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("codec: %s serialization failed: %v", e.Format, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// DeserializationError wraps a failure converting bytes back to a value.
type DeserializationError struct {
	Format string
	Err    error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("codec: %s deserialization failed: %v", e.Format, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// Format names accepted by New.
const (
	FormatJSON     = "json"
	FormatMsgpack  = "msgpack"
	FormatProtobuf = "protobuf"
)

// New returns the codec registered under name. The lookup is
// case-insensitive; unknown names fail with ErrInvalidFormat.
func New(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case FormatJSON:
		return NewJSONCodec(), nil
	case FormatMsgpack:
		return NewMsgpackCodec(), nil
	case FormatProtobuf:
		return NewProtobufCodec(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, name)
	}
}

// Recommend maps a usage label to the codec name best suited for it.
// Unknown labels fall back to JSON.
func Recommend(usage string) string {
	switch strings.ToLower(strings.TrimSpace(usage)) {
	case "development":
		return FormatJSON
	case "general":
		return FormatMsgpack
	case "high_performance":
		return FormatProtobuf
	case "external_api":
		return FormatJSON
	default:
		return FormatJSON
	}
}
