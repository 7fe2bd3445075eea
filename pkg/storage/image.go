package storage

import (
	"fmt"

	"github.com/mnohosten/shelfdb/pkg/document"
)

// snapshotImage is the encoded form of a Snapshot: documents are kept as
// serialized bytes so every value type survives the round trip
type snapshotImage struct {
	Version     int               `msgpack:"version"`
	Collections []collectionImage `msgpack:"collections"`
}

type collectionImage struct {
	Name      string      `msgpack:"name"`
	Documents [][]byte    `msgpack:"documents"`
	Indexes   []IndexSpec `msgpack:"indexes"`
}

func encodeSnapshot(snap *Snapshot, ser *DocumentSerializer) (*snapshotImage, error) {
	img := &snapshotImage{Version: SnapshotVersion, Collections: make([]collectionImage, 0, len(snap.Collections))}
	for _, coll := range snap.Collections {
		ci := collectionImage{Name: coll.Name, Indexes: coll.Indexes, Documents: make([][]byte, 0, len(coll.Documents))}
		for _, doc := range coll.Documents {
			raw, err := ser.SerializeDocument(doc)
			if err != nil {
				return nil, fmt.Errorf("collection %s: %w", coll.Name, err)
			}
			ci.Documents = append(ci.Documents, raw)
		}
		img.Collections = append(img.Collections, ci)
	}
	return img, nil
}

func decodeSnapshot(img *snapshotImage, ser *DocumentSerializer) (*Snapshot, error) {
	if img.Version > SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, img.Version)
	}
	snap := &Snapshot{Version: img.Version, Collections: make([]CollectionSnapshot, 0, len(img.Collections))}
	for _, ci := range img.Collections {
		cs := CollectionSnapshot{Name: ci.Name, Indexes: ci.Indexes, Documents: make([]*document.Document, 0, len(ci.Documents))}
		for i, raw := range ci.Documents {
			doc, err := ser.DeserializeDocument(raw)
			if err != nil {
				return nil, fmt.Errorf("collection %s document %d: %w", ci.Name, i, err)
			}
			cs.Documents = append(cs.Documents, doc)
		}
		snap.Collections = append(snap.Collections, cs)
	}
	return snap, nil
}
