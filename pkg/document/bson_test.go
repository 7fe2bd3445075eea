package document

import (
	"errors"
	"testing"
	"time"
)

func sampleDocument() *Document {
	doc := NewDocument()
	doc.Set(IDField, NewObjectID())
	doc.Set("null", nil)
	doc.Set("bool", true)
	doc.Set("int32", int32(-42))
	doc.Set("int64", int64(1)<<40)
	doc.Set("float", 3.25)
	doc.Set("string", "héllo")
	doc.Set("empty", "")
	doc.Set("binary", []byte{0x00, 0x01, 0xff})
	doc.Set("when", time.Date(2024, 2, 29, 12, 30, 0, 123456789, time.UTC))
	doc.Set("tags", []interface{}{"a", int64(2), nil, []interface{}{1.5}})
	doc.SetPath("nested.deeper.value", "x")
	return doc
}

func TestMarshalRoundTrip(t *testing.T) {
	doc := sampleDocument()

	data, err := Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if !decoded.Equal(doc) {
		t.Fatalf("Round trip changed the document:\n got  %s\n want %s", decoded, doc)
	}

	// Type fidelity that JSON would lose
	for field, want := range map[string]Type{
		"int32": TypeInt32, "int64": TypeInt64, "float": TypeFloat64,
		IDField: TypeObjectID, "when": TypeTimestamp, "binary": TypeBinary,
	} {
		v, _ := decoded.GetValue(field)
		if v.Type != want {
			t.Errorf("Field %s decoded as %s, want %s", field, v.Type, want)
		}
	}

	keys := decoded.Keys()
	if keys[0] != IDField || keys[len(keys)-1] != "nested" {
		t.Errorf("Field order not preserved: %v", keys)
	}
}

func TestEncoderReuse(t *testing.T) {
	enc := NewEncoder()
	first, err := enc.Encode(NewDocumentFromMap(map[string]interface{}{"a": 1}))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := enc.Encode(NewDocumentFromMap(map[string]interface{}{"b": "two"})); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	doc, err := NewDecoder(first).Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if v, _ := doc.Get("a"); v != int64(1) {
		t.Errorf("Earlier output was overwritten by a later Encode: %s", doc)
	}
}

func TestUnmarshalCorrupt(t *testing.T) {
	data, err := Marshal(sampleDocument())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short size", []byte{1, 0}},
		{"tiny size", []byte{2, 0, 0, 0, 0}},
		{"truncated", data[:len(data)/2]},
		{"unknown type", []byte{8, 0, 0, 0, 0x7f, 'a', 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal(tt.data); !errors.Is(err, ErrCorruptDocument) {
				t.Errorf("Expected ErrCorruptDocument, got %v", err)
			}
		})
	}
}
