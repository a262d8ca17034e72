package hostbridge

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/untoldecay/wadup/internal/sink"
)

// Schema wire encoding (interface A): a compact textual form, one column
// per line, "name:Type"; the first line is the table name.
func encodeSchema(s sink.TableSchema) string {
	var b strings.Builder
	b.WriteString(s.Name)
	for _, c := range s.Columns {
		b.WriteByte('\n')
		b.WriteString(c.Name)
		b.WriteByte(':')
		b.WriteString(c.Type.String())
	}
	return b.String()
}

func decodeSchema(text string) (sink.TableSchema, error) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || lines[0] == "" {
		return sink.TableSchema{}, fmt.Errorf("hostbridge: empty schema")
	}
	s := sink.TableSchema{Name: lines[0]}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return sink.TableSchema{}, fmt.Errorf("hostbridge: malformed column spec %q", line)
		}
		t, err := sink.ParseColumnType(parts[1])
		if err != nil {
			return sink.TableSchema{}, err
		}
		s.Columns = append(s.Columns, sink.Column{Name: parts[0], Type: t})
	}
	return s, nil
}

// Row value wire encoding: a sequence of tagged values, tag byte
// {1: int64, 2: float64, 3: utf-8 string}; int64/float64 little-endian
// fixed width; string length-prefixed (4-byte LE length) UTF-8.
const (
	tagInt64  = 1
	tagFloat  = 2
	tagString = 3
)

func decodeValues(buf []byte) ([]sink.Value, error) {
	var values []sink.Value
	for len(buf) > 0 {
		tag := buf[0]
		buf = buf[1:]
		switch tag {
		case tagInt64:
			if len(buf) < 8 {
				return nil, fmt.Errorf("hostbridge: truncated int64 value")
			}
			v := int64(binary.LittleEndian.Uint64(buf[:8]))
			values = append(values, sink.IntValue(v))
			buf = buf[8:]
		case tagFloat:
			if len(buf) < 8 {
				return nil, fmt.Errorf("hostbridge: truncated float64 value")
			}
			bits := binary.LittleEndian.Uint64(buf[:8])
			values = append(values, sink.FloatValue(math.Float64frombits(bits)))
			buf = buf[8:]
		case tagString:
			if len(buf) < 4 {
				return nil, fmt.Errorf("hostbridge: truncated string length")
			}
			n := binary.LittleEndian.Uint32(buf[:4])
			buf = buf[4:]
			if uint32(len(buf)) < n {
				return nil, fmt.Errorf("hostbridge: truncated string value")
			}
			values = append(values, sink.StringValue(string(buf[:n])))
			buf = buf[n:]
		default:
			return nil, fmt.Errorf("hostbridge: unknown value tag %d", tag)
		}
	}
	return values, nil
}
