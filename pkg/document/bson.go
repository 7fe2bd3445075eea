package document

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// ErrCorruptDocument is returned when encoded bytes cannot be decoded
var ErrCorruptDocument = errors.New("corrupt encoded document")

// Marshal encodes a document into the binary layout used by the storage
// backends. The encoding preserves field order and value types, which JSON
// cannot (int64 versus float64, ObjectID, timestamps).
func Marshal(doc *Document) ([]byte, error) {
	return NewEncoder().Encode(doc)
}

// Unmarshal decodes bytes produced by Marshal
func Unmarshal(data []byte) (*Document, error) {
	return NewDecoder(data).Decode()
}

// Encoder encodes documents to a BSON-like binary format
type Encoder struct {
	buf *bytes.Buffer
}

// NewEncoder creates a new encoder
func NewEncoder() *Encoder {
	return &Encoder{buf: new(bytes.Buffer)}
}

// Encode encodes a document.
// Layout: [4-byte size][elements...][0x00 terminator]
// Element: [1-byte type][cstring key][value]
func (e *Encoder) Encode(doc *Document) ([]byte, error) {
	e.buf.Reset()
	if err := e.encodeDocument(doc); err != nil {
		return nil, err
	}
	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	return out, nil
}

func (e *Encoder) encodeDocument(doc *Document) error {
	start := e.buf.Len()
	e.buf.Write([]byte{0, 0, 0, 0})

	for _, key := range doc.Keys() {
		value, _ := doc.GetValue(key)
		if err := e.encodeElement(key, value.Type, value.Data); err != nil {
			return fmt.Errorf("failed to encode field %s: %w", key, err)
		}
	}
	e.buf.WriteByte(0x00)

	binary.LittleEndian.PutUint32(e.buf.Bytes()[start:], uint32(e.buf.Len()-start))
	return nil
}

func (e *Encoder) encodeElement(key string, t Type, data interface{}) error {
	e.buf.WriteByte(byte(t))
	e.buf.WriteString(key)
	e.buf.WriteByte(0x00)

	var scratch [8]byte
	switch t {
	case TypeNull:
	case TypeBoolean:
		if data.(bool) {
			e.buf.WriteByte(0x01)
		} else {
			e.buf.WriteByte(0x00)
		}
	case TypeInt32:
		binary.LittleEndian.PutUint32(scratch[:4], uint32(data.(int32)))
		e.buf.Write(scratch[:4])
	case TypeInt64:
		binary.LittleEndian.PutUint64(scratch[:], uint64(data.(int64)))
		e.buf.Write(scratch[:])
	case TypeFloat64:
		binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(data.(float64)))
		e.buf.Write(scratch[:])
	case TypeString:
		str := data.(string)
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(str)+1))
		e.buf.Write(scratch[:4])
		e.buf.WriteString(str)
		e.buf.WriteByte(0x00)
	case TypeBinary:
		b := data.([]byte)
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(b)))
		e.buf.Write(scratch[:4])
		e.buf.WriteByte(0x00) // generic subtype
		e.buf.Write(b)
	case TypeObjectID:
		id := data.(ObjectID)
		e.buf.Write(id[:])
	case TypeTimestamp:
		binary.LittleEndian.PutUint64(scratch[:], uint64(data.(time.Time).UnixNano()))
		e.buf.Write(scratch[:])
	case TypeArray:
		// Arrays are documents keyed "0", "1", ...
		arr := data.([]interface{})
		arrDoc := NewDocument()
		for i, item := range arr {
			arrDoc.Set(strconv.Itoa(i), item)
		}
		return e.encodeDocument(arrDoc)
	case TypeDocument:
		return e.encodeDocument(data.(*Document))
	default:
		return fmt.Errorf("unsupported type: %v", t)
	}
	return nil
}

// Decoder decodes bytes produced by Encoder
type Decoder struct {
	reader *bytes.Reader
}

// NewDecoder creates a new decoder
func NewDecoder(data []byte) *Decoder {
	return &Decoder{reader: bytes.NewReader(data)}
}

// Decode decodes one document
func (d *Decoder) Decode() (*Document, error) {
	var size int32
	if err := binary.Read(d.reader, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("%w: failed to read document size: %v", ErrCorruptDocument, err)
	}
	if size < 5 {
		return nil, fmt.Errorf("%w: invalid document size %d", ErrCorruptDocument, size)
	}

	doc := NewDocument()
	for {
		typeByte, err := d.reader.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read element type: %v", ErrCorruptDocument, err)
		}
		if typeByte == 0x00 {
			break
		}

		key, err := d.readCString()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read key: %v", ErrCorruptDocument, err)
		}

		value, err := d.decodeValue(Type(typeByte))
		if err != nil {
			return nil, fmt.Errorf("failed to decode value for key %s: %w", key, err)
		}
		doc.Set(key, value)
	}
	return doc, nil
}

func (d *Decoder) readCString() (string, error) {
	var buf bytes.Buffer
	for {
		b, err := d.reader.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0x00 {
			return buf.String(), nil
		}
		buf.WriteByte(b)
	}
}

func (d *Decoder) readN(n int) ([]byte, error) {
	if n < 0 || n > d.reader.Len() {
		return nil, fmt.Errorf("%w: length %d out of range", ErrCorruptDocument, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.reader, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	return b, nil
}

func (d *Decoder) decodeValue(t Type) (interface{}, error) {
	switch t {
	case TypeNull:
		return nil, nil
	case TypeBoolean:
		b, err := d.readN(1)
		if err != nil {
			return nil, err
		}
		return b[0] != 0x00, nil
	case TypeInt32:
		b, err := d.readN(4)
		if err != nil {
			return nil, err
		}
		return int32(binary.LittleEndian.Uint32(b)), nil
	case TypeInt64:
		b, err := d.readN(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(b)), nil
	case TypeFloat64:
		b, err := d.readN(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case TypeString:
		lb, err := d.readN(4)
		if err != nil {
			return nil, err
		}
		b, err := d.readN(int(int32(binary.LittleEndian.Uint32(lb))))
		if err != nil {
			return nil, err
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("%w: empty string payload", ErrCorruptDocument)
		}
		return string(b[:len(b)-1]), nil
	case TypeBinary:
		lb, err := d.readN(4)
		if err != nil {
			return nil, err
		}
		n := int(int32(binary.LittleEndian.Uint32(lb)))
		if _, err := d.readN(1); err != nil {
			return nil, err
		}
		return d.readN(n)
	case TypeObjectID:
		b, err := d.readN(12)
		if err != nil {
			return nil, err
		}
		var id ObjectID
		copy(id[:], b)
		return id, nil
	case TypeTimestamp:
		b, err := d.readN(8)
		if err != nil {
			return nil, err
		}
		return time.Unix(0, int64(binary.LittleEndian.Uint64(b))).UTC(), nil
	case TypeArray:
		arrDoc, err := d.decodeEmbedded()
		if err != nil {
			return nil, err
		}
		arr := make([]interface{}, arrDoc.Len())
		for i := range arr {
			arr[i], _ = arrDoc.Get(strconv.Itoa(i))
		}
		return arr, nil
	case TypeDocument:
		return d.decodeEmbedded()
	default:
		return nil, fmt.Errorf("%w: unsupported type 0x%02x", ErrCorruptDocument, byte(t))
	}
}

func (d *Decoder) decodeEmbedded() (*Document, error) {
	lb, err := d.readN(4)
	if err != nil {
		return nil, err
	}
	size := int(int32(binary.LittleEndian.Uint32(lb)))
	rest, err := d.readN(size - 4)
	if err != nil {
		return nil, err
	}
	return NewDecoder(append(lb, rest...)).Decode()
}
