package slicebuf

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ErrNotFull is returned by Write when the slice still has free or
// pending columns.
var ErrNotFull = errors.New("slicebuf: only a full slice may be written")

// ErrSchemaMismatch is returned by Read when the stored layout
// geometry does not match the layout the caller expects.
var ErrSchemaMismatch = errors.New("slicebuf: stored slice layout is not schema-compatible")

// schemaFingerprint is a cheap structural check persisted alongside
// the raw buffer: capacity, max rank, buffer size. A full semantic
// check of the term table/doc schema is the caller's responsibility,
// the way pamreader.go cross-checks its own header fields before
// trusting a record block.
type schemaFingerprint struct {
	capacity   uint32
	maxRank    uint8
	bufferSize uint32
}

func fingerprintOf(l Layout) schemaFingerprint {
	return schemaFingerprint{
		capacity:   uint32(l.Capacity),
		maxRank:    uint8(l.MaxRank),
		bufferSize: l.BufferBytes(),
	}
}

// Write serializes a full slice: its schema fingerprint, raw buffer,
// and every allocated variable blob, in that order. It fails with
// ErrNotFull unless the slice is full.
func (s *Slice) Write(w io.Writer) error {
	if !s.Full() {
		return ErrNotFull
	}
	fp := fingerprintOf(s.layout)
	var hdr [9]byte
	binary.LittleEndian.PutUint32(hdr[0:4], fp.capacity)
	hdr[4] = fp.maxRank
	binary.LittleEndian.PutUint32(hdr[5:9], fp.bufferSize)
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "slicebuf: writing header")
	}
	if _, err := w.Write(s.buf); err != nil {
		return errors.Wrap(err, "slicebuf: writing buffer")
	}
	return s.layout.DocTable().WriteVariableBlobs(w, s.buf, s.blobs)
}

// Read reconstructs a Slice from a stream produced by Write, checking
// that the stored layout matches want. Read does not re-initialize
// rows; it restores them from the stream. Every column of the restored
// slice is Committed.
func Read(r io.Reader, want Layout) (*Slice, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "slicebuf: reading header")
	}
	got := schemaFingerprint{
		capacity:   binary.LittleEndian.Uint32(hdr[0:4]),
		maxRank:    hdr[4],
		bufferSize: binary.LittleEndian.Uint32(hdr[5:9]),
	}
	wantFP := fingerprintOf(want)
	if got != wantFP {
		return nil, ErrSchemaMismatch
	}

	buf := make([]byte, want.BufferBytes())
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "slicebuf: reading buffer")
	}

	blobs := make([][]byte, want.DocTable().VariableBlobSlots())
	if err := want.DocTable().LoadVariableBlobs(r, buf, blobs); err != nil {
		return nil, errors.Wrap(err, "slicebuf: reading variable blobs")
	}

	s := &Slice{
		id:               readTrailer(buf, want),
		layout:           want,
		buf:              buf,
		blobs:            blobs,
		unallocatedCount: 0,
		columnState:      make([]columnState, want.Capacity),
		zeroRef:          make(chan struct{}),
	}
	for i := range s.columnState {
		s.columnState[i] = stateCommitted
	}
	s.refCount = 1
	registry.Store(s.id, s)
	return s, nil
}
