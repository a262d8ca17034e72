package hostbridge

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/untoldecay/wadup/internal/sink"
)

func TestEncodeDecodeSchemaRoundTrip(t *testing.T) {
	schema := sink.TableSchema{
		Name: "hits",
		Columns: []sink.Column{
			{Name: "offset", Type: sink.Int64},
			{Name: "score", Type: sink.Float64},
			{Name: "label", Type: sink.String},
		},
	}

	encoded := encodeSchema(schema)
	got, err := decodeSchema(encoded)
	if err != nil {
		t.Fatalf("decodeSchema: %v", err)
	}
	if got.Name != schema.Name {
		t.Errorf("decoded name = %q, want %q", got.Name, schema.Name)
	}
	if !got.Equal(schema) {
		t.Errorf("decoded schema = %+v, want %+v", got, schema)
	}
}

func TestEncodeSchemaNoColumns(t *testing.T) {
	schema := sink.TableSchema{Name: "empty"}
	got, err := decodeSchema(encodeSchema(schema))
	if err != nil {
		t.Fatalf("decodeSchema: %v", err)
	}
	if got.Name != "empty" || len(got.Columns) != 0 {
		t.Errorf("decoded = %+v, want empty column list named %q", got, "empty")
	}
}

func TestDecodeSchemaRejectsEmptyInput(t *testing.T) {
	if _, err := decodeSchema(""); err == nil {
		t.Error("decodeSchema(\"\"): expected error, got nil")
	}
}

func TestDecodeSchemaRejectsMalformedColumn(t *testing.T) {
	if _, err := decodeSchema("table\nbadcolumn"); err == nil {
		t.Error("decodeSchema with column missing ':': expected error, got nil")
	}
}

func TestDecodeSchemaRejectsUnknownType(t *testing.T) {
	if _, err := decodeSchema("table\ncol:Bool"); err == nil {
		t.Error("decodeSchema with unknown column type: expected error, got nil")
	}
}

func appendInt64(buf []byte, v int64) []byte {
	buf = append(buf, tagInt64)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func appendFloat64(buf []byte, v float64) []byte {
	buf = append(buf, tagFloat)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return append(buf, b[:]...)
}

func appendString(buf []byte, v string) []byte {
	buf = append(buf, tagString)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(v)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, v...)
}

func TestDecodeValuesMixedTypes(t *testing.T) {
	var buf []byte
	buf = appendInt64(buf, 42)
	buf = appendFloat64(buf, 3.5)
	buf = appendString(buf, "hello")

	values, err := decodeValues(buf)
	if err != nil {
		t.Fatalf("decodeValues: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("len(values) = %d, want 3", len(values))
	}
	if values[0].Kind != sink.Int64 || values[0].Int != 42 {
		t.Errorf("values[0] = %+v, want int64 42", values[0])
	}
	if values[1].Kind != sink.Float64 || values[1].Float != 3.5 {
		t.Errorf("values[1] = %+v, want float64 3.5", values[1])
	}
	if values[2].Kind != sink.String || values[2].Str != "hello" {
		t.Errorf("values[2] = %+v, want string %q", values[2], "hello")
	}
}

func TestDecodeValuesEmptyBuffer(t *testing.T) {
	values, err := decodeValues(nil)
	if err != nil {
		t.Fatalf("decodeValues(nil): %v", err)
	}
	if len(values) != 0 {
		t.Errorf("len(values) = %d, want 0", len(values))
	}
}

func TestDecodeValuesTruncatedInt64(t *testing.T) {
	if _, err := decodeValues([]byte{tagInt64, 1, 2, 3}); err == nil {
		t.Error("decodeValues with truncated int64: expected error, got nil")
	}
}

func TestDecodeValuesTruncatedString(t *testing.T) {
	var buf []byte
	buf = append(buf, tagString)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, 10)
	buf = append(buf, lenBuf...)
	buf = append(buf, "short"...)
	if _, err := decodeValues(buf); err == nil {
		t.Error("decodeValues with truncated string body: expected error, got nil")
	}
}

func TestDecodeValuesUnknownTag(t *testing.T) {
	if _, err := decodeValues([]byte{0xFF}); err == nil {
		t.Error("decodeValues with unknown tag: expected error, got nil")
	}
}
