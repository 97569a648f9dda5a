package decode

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"unicode/utf16"
)

// decodeUTF8 interprets data as UTF-8, replacing invalid sequences with the
// Unicode replacement character.
func decodeUTF8(data []byte) string {
	return strings.ToValidUTF8(string(data), "�")
}

func decodeUTF16LE(data []byte) string {
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		units = append(units, uint16(data[i])|uint16(data[i+1])<<8)
	}
	// A trailing odd byte is ignored.
	return string(utf16.Decode(units))
}

func decodeUTF16BE(data []byte) string {
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		units = append(units, uint16(data[i])<<8|uint16(data[i+1]))
	}
	return string(utf16.Decode(units))
}

// decodeISO88591 maps each byte to the Unicode codepoint of the same value.
func decodeISO88591(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		b.WriteRune(rune(c))
	}
	return b.String()
}

// decodeBase64 treats data as a base64 string and returns its decoded text.
// Input that is not valid base64 yields a placeholder instead of an error.
func decodeBase64(data []byte) string {
	text := strings.TrimSpace(decodeUTF8(data))
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(text)
	}
	if err != nil {
		return "<invalid base64: " + err.Error() + ">"
	}
	return decodeUTF8(raw)
}

// decodeJSON pretty-prints data when it parses as JSON, and otherwise falls
// back to the lossy string rendering.
func decodeJSON(data []byte) string {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return decodeUTF8(data)
	}
	pretty, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return decodeUTF8(data)
	}
	return string(pretty)
}
