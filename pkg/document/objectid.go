package document

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ObjectID is a 12-byte identifier assigned to documents inserted without an
// _id. Layout: [4-byte seconds][5-byte source][3-byte counter]. Ids from one
// source sort in creation order, and byte order is their order in filters,
// sorts and indexes.
type ObjectID [12]byte

// ErrInvalidObjectID is returned when text does not hold an ObjectID
var ErrInvalidObjectID = errors.New("invalid ObjectID")

const objectIDCounterMask = 0x00ffffff

// objectIDSource hands out ids for one process
type objectIDSource struct {
	unique  [5]byte
	counter atomic.Uint32
}

func newObjectIDSource(unique [5]byte, seed uint32) *objectIDSource {
	s := &objectIDSource{unique: unique}
	s.counter.Store(seed & objectIDCounterMask)
	return s
}

func (s *objectIDSource) next(now time.Time) ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(now.Unix()))
	copy(id[4:9], s.unique[:])
	c := s.counter.Add(1) & objectIDCounterMask
	id[9], id[10], id[11] = byte(c>>16), byte(c>>8), byte(c)
	return id
}

var objectIDs = func() *objectIDSource {
	var b [9]byte
	rand.Read(b[:])
	var unique [5]byte
	copy(unique[:], b[:5])
	return newObjectIDSource(unique, binary.BigEndian.Uint32(b[5:]))
}()

// NewObjectID generates a new ObjectID
func NewObjectID() ObjectID {
	return objectIDs.next(time.Now())
}

// NewObjectIDFromTime returns the smallest ObjectID for the second t falls
// in. It is a bound for selecting documents by creation time, e.g.
// {"_id": {"$gte": NewObjectIDFromTime(since)}}.
func NewObjectIDFromTime(t time.Time) ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(t.Unix()))
	return id
}

// ObjectIDFromHex parses the 24-character hex form of an ObjectID
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != hex.EncodedLen(len(id)) {
		return ObjectID{}, fmt.Errorf("%w: hex length %d", ErrInvalidObjectID, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return ObjectID{}, fmt.Errorf("%w: %v", ErrInvalidObjectID, err)
	}
	return id, nil
}

// Hex returns the hex string representation of the ObjectID
func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ObjectID) String() string {
	return id.Hex()
}

// Timestamp returns the creation second encoded in the ObjectID, in UTC
func (id ObjectID) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0).UTC()
}

// IsZero returns true if the ObjectID is the zero value
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}

// Compare orders ObjectIDs by their bytes, which is creation order
func (id ObjectID) Compare(other ObjectID) int {
	return bytes.Compare(id[:], other[:])
}

// MarshalText encodes the id as hex, so encoding/json and yaml write it as
// a plain string and it can key a map
func (id ObjectID) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(len(id)))
	hex.Encode(out, id[:])
	return out, nil
}

// UnmarshalText parses the hex form written by MarshalText
func (id *ObjectID) UnmarshalText(text []byte) error {
	parsed, err := ObjectIDFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
