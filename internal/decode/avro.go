package decode

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/hamba/avro/v2"
)

// Schema-registry wire format: one magic byte (0), a big-endian uint32 schema
// ID, then the Avro-encoded payload.
const wireHeaderLen = 5

// SchemaLookup resolves a schema ID from the Avro wire header to the schema
// text registered under it. Implemented by the schema registry adapter.
type SchemaLookup interface {
	SchemaTextByID(ctx context.Context, id int) (string, error)
}

// newAvroDecoder builds the one non-total decoder in the registry. It can
// fail in exactly two ways: the schema cannot be resolved
// (ErrSchemaUnavailable) or the payload does not fit the wire format or its
// schema (ErrPayloadIncompatible).
func newAvroDecoder(lookup SchemaLookup) Decoder {
	return func(ctx context.Context, data []byte) (string, error) {
		if len(data) < wireHeaderLen {
			return "", fmt.Errorf("%w: %d byte payload, wire header needs %d", ErrPayloadIncompatible, len(data), wireHeaderLen)
		}
		if data[0] != 0 {
			return "", fmt.Errorf("%w: bad magic byte 0x%02x", ErrPayloadIncompatible, data[0])
		}
		if lookup == nil {
			return "", fmt.Errorf("%w: no schema registry configured", ErrSchemaUnavailable)
		}

		id := int(binary.BigEndian.Uint32(data[1:wireHeaderLen]))
		text, err := lookup.SchemaTextByID(ctx, id)
		if err != nil {
			return "", fmt.Errorf("%w: schema %d: %v", ErrSchemaUnavailable, id, err)
		}
		schema, err := avro.Parse(text)
		if err != nil {
			return "", fmt.Errorf("%w: schema %d: %v", ErrSchemaUnavailable, id, err)
		}

		var value any
		if err := avro.Unmarshal(schema, data[wireHeaderLen:], &value); err != nil {
			return "", fmt.Errorf("%w: schema %d: %v", ErrPayloadIncompatible, id, err)
		}

		pretty, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return "", fmt.Errorf("%w: schema %d: %v", ErrPayloadIncompatible, id, err)
		}
		return string(pretty), nil
	}
}
