// Package decode renders raw Kafka message key/value bytes as display text.
//
// Every decoder except the schema-based Avro one is total: it accepts any
// byte slice, including empty and malformed input, and returns a string
// without error. Unreadable input degrades to placeholders or replacement
// characters rather than failing, so viewer code never has to special-case
// decoder errors for plain kinds.
package decode

import (
	"context"
	"errors"
)

// Kind selects a decoding strategy. The values double as the wire identifiers
// used by the IPC surface.
type Kind string

const (
	KindString   Kind = "string"
	KindUTF16LE  Kind = "string-utf16le"
	KindUTF16BE  Kind = "string-utf16be"
	KindISO88591 Kind = "string-iso8859-1"
	KindHex      Kind = "hex"
	KindBase64   Kind = "base64"
	KindJSON     Kind = "json"
	KindInt16    Kind = "int16"
	KindInt32    Kind = "int32"
	KindInt64    Kind = "int64"
	KindFloat32  Kind = "float32"
	KindFloat64  Kind = "float64"
	KindAvro     Kind = "avro"
	KindNoKey    Kind = "no-key"
)

var (
	// ErrSchemaUnavailable reports that the schema referenced by an Avro
	// payload could not be fetched, or that no schema lookup is configured.
	ErrSchemaUnavailable = errors.New("decode: schema unavailable")

	// ErrPayloadIncompatible reports that the payload does not match the
	// schema-registry wire format or cannot be decoded with its schema.
	ErrPayloadIncompatible = errors.New("decode: payload incompatible with schema")
)

// Decoder converts raw bytes into display text. The context is only consulted
// by decoders that perform I/O (schema lookups); plain decoders ignore it.
type Decoder func(ctx context.Context, data []byte) (string, error)

// Registry dispatches decoding by Kind.
type Registry struct {
	decoders map[Kind]Decoder
}

// NewRegistry builds a registry with all plain decoders installed. A non-nil
// lookup additionally enables the Avro kind; with a nil lookup Avro decoding
// returns ErrSchemaUnavailable.
func NewRegistry(lookup SchemaLookup) *Registry {
	r := &Registry{decoders: map[Kind]Decoder{
		KindString:   plain(decodeUTF8),
		KindUTF16LE:  plain(decodeUTF16LE),
		KindUTF16BE:  plain(decodeUTF16BE),
		KindISO88591: plain(decodeISO88591),
		KindHex:      plain(HexDump),
		KindBase64:   plain(decodeBase64),
		KindJSON:     plain(decodeJSON),
		KindInt16:    plain(decodeInt16),
		KindInt32:    plain(decodeInt32),
		KindInt64:    plain(decodeInt64),
		KindFloat32:  plain(decodeFloat32),
		KindFloat64:  plain(decodeFloat64),
		KindNoKey:    plain(decodeNoKey),
	}}
	r.decoders[KindAvro] = newAvroDecoder(lookup)
	return r
}

// Decode renders data according to kind. Unknown kinds fall back to the hex
// dump so callers always get something readable.
func (r *Registry) Decode(ctx context.Context, kind Kind, data []byte) (string, error) {
	dec, ok := r.decoders[kind]
	if !ok {
		return HexDump(data), nil
	}
	return dec(ctx, data)
}

// Kinds lists the registered kinds in no particular order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.decoders))
	for k := range r.decoders {
		kinds = append(kinds, k)
	}
	return kinds
}

// plain lifts a total decoder into the Decoder signature.
func plain(fn func([]byte) string) Decoder {
	return func(_ context.Context, data []byte) (string, error) {
		return fn(data), nil
	}
}

func decodeNoKey([]byte) string { return "<no key>" }
