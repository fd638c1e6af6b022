package replication

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"

	"github.com/raniellyferreira/kvscript/engine"
)

// ErrChecksum is returned when an entry does not match its checksum
var ErrChecksum = errors.New("replication: entry checksum mismatch")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("replication: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Entry is one committed batch
type Entry struct {
	Seq      uint64      `cbor:"1,keyasint"`
	Ops      []engine.Op `cbor:"2,keyasint"`
	Checksum uint64      `cbor:"3,keyasint"`
}

// entryBody is the checksummed part of an Entry
type entryBody struct {
	Seq uint64      `cbor:"1,keyasint"`
	Ops []engine.Op `cbor:"2,keyasint"`
}

func checksum(seq uint64, ops []engine.Op) (uint64, error) {
	body, err := cborEncMode.Marshal(entryBody{Seq: seq, Ops: ops})
	if err != nil {
		return 0, fmt.Errorf("replication: encode entry body: %w", err)
	}
	return xxhash.Sum64(body), nil
}

// newEntry builds a checksummed entry
func newEntry(seq uint64, ops []engine.Op) (Entry, error) {
	sum, err := checksum(seq, ops)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Seq: seq, Ops: ops, Checksum: sum}, nil
}

// Verify recomputes the checksum of e
func (e *Entry) Verify() error {
	sum, err := checksum(e.Seq, e.Ops)
	if err != nil {
		return err
	}
	if sum != e.Checksum {
		return fmt.Errorf("%w: seq %d", ErrChecksum, e.Seq)
	}
	return nil
}

// Batch rebuilds the engine batch carried by e
func (e *Entry) Batch() *engine.Batch {
	return engine.BatchFromOps(e.Ops)
}

// MarshalEntry serializes an Entry to CBOR bytes.
func MarshalEntry(e *Entry) ([]byte, error) {
	return cborEncMode.Marshal(e)
}

// UnmarshalEntry deserializes an Entry from CBOR bytes and verifies it.
func UnmarshalEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := cbor.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("replication: unmarshal entry: %w", err)
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return &e, nil
}
