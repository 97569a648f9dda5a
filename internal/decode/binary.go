package decode

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const hexBytesPerLine = 16

// HexDump renders data in the classic offset / hex columns / ASCII gutter
// layout, 16 bytes per line with an extra gap after the eighth column.
// It is the fallback rendering for unknown kinds, so it must accept anything.
func HexDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	var b strings.Builder
	for base := 0; base < len(data); base += hexBytesPerLine {
		if base > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%08x:  ", base)

		end := base + hexBytesPerLine
		if end > len(data) {
			end = len(data)
		}
		line := data[base:end]

		for i := 0; i < hexBytesPerLine; i++ {
			if i < len(line) {
				fmt.Fprintf(&b, "%02x ", line[i])
			} else {
				b.WriteString("   ")
			}
			if i == hexBytesPerLine/2-1 {
				b.WriteByte(' ')
			}
		}

		b.WriteString(" |")
		for _, c := range line {
			if c >= 0x20 && c < 0x7f {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('|')
	}
	return b.String()
}

// shortInput is the placeholder returned by the numeric decoders when the
// payload is smaller than the type being decoded.
func shortInput(got, need int) string {
	return fmt.Sprintf("<Insufficient data: %d bytes, need %d>", got, need)
}

func decodeInt16(data []byte) string {
	if len(data) < 2 {
		return shortInput(len(data), 2)
	}
	return strconv.FormatInt(int64(int16(binary.BigEndian.Uint16(data))), 10)
}

func decodeInt32(data []byte) string {
	if len(data) < 4 {
		return shortInput(len(data), 4)
	}
	return strconv.FormatInt(int64(int32(binary.BigEndian.Uint32(data))), 10)
}

func decodeInt64(data []byte) string {
	if len(data) < 8 {
		return shortInput(len(data), 8)
	}
	return strconv.FormatInt(int64(binary.BigEndian.Uint64(data)), 10)
}

func decodeFloat32(data []byte) string {
	if len(data) < 4 {
		return shortInput(len(data), 4)
	}
	v := math.Float32frombits(binary.BigEndian.Uint32(data))
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

func decodeFloat64(data []byte) string {
	if len(data) < 8 {
		return shortInput(len(data), 8)
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(data))
	return strconv.FormatFloat(v, 'g', -1, 64)
}
