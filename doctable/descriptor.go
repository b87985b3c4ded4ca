package doctable

import (
	"encoding/binary"

	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/grailbio/base/log"
	grailunsafe "github.com/grailbio/base/unsafe"
)

// Descriptor is a stateless accessor for the doc table region of a slice
// buffer, the document-table analogue of rowtable.Descriptor.
type Descriptor struct {
	schema   Schema
	capacity bitfunnelpb.DocIndex
	offset   uint32 // byte offset of the doc table within the slice buffer
	layout   recordLayout
}

// NewDescriptor builds a Descriptor for capacity documents laid out at
// offset bytes into the slice buffer.
func NewDescriptor(schema Schema, capacity bitfunnelpb.DocIndex, offset uint32) Descriptor {
	return Descriptor{
		schema:   schema,
		capacity: capacity,
		offset:   offset,
		layout:   layoutFor(schema),
	}
}

// RecordBytes returns the fixed per-document record size, in bytes.
func (d Descriptor) RecordBytes() uint32 { return d.layout.recordSize }

// TableBytes returns the total byte size of the doc table region.
func (d Descriptor) TableBytes() uint32 { return d.layout.recordSize * uint32(d.capacity) }

// VariableBlobSlots returns the number of variable-blob side-table slots
// the slice layer must allocate: one per (column, variable blob id) pair.
func (d Descriptor) VariableBlobSlots() int {
	return int(d.capacity) * d.schema.VariableBlobCount
}

func (d Descriptor) checkColumn(col bitfunnelpb.DocIndex) {
	if col >= d.capacity {
		log.Panicf("doctable: column %d out of range [0,%d)", col, d.capacity)
	}
}

func (d Descriptor) recordOffset(col bitfunnelpb.DocIndex) uint32 {
	d.checkColumn(col)
	return d.offset + uint32(col)*d.layout.recordSize
}

// GetDocId returns the document id stored for column col.
func (d Descriptor) GetDocId(buf []byte, col bitfunnelpb.DocIndex) bitfunnelpb.DocId {
	off := d.recordOffset(col) + d.layout.docIdOffset
	return bitfunnelpb.DocId(binary.LittleEndian.Uint64(buf[off : off+docIdBytes]))
}

// SetDocId stores id for column col.
func (d Descriptor) SetDocId(buf []byte, col bitfunnelpb.DocIndex, id bitfunnelpb.DocId) {
	off := d.recordOffset(col) + d.layout.docIdOffset
	binary.LittleEndian.PutUint64(buf[off:off+docIdBytes], uint64(id))
}

func (d Descriptor) checkFixedBlobId(blobId int) {
	if blobId < 0 || blobId >= len(d.schema.FixedBlobSizes) {
		log.Panicf("doctable: fixed blob id %d out of range [0,%d)", blobId, len(d.schema.FixedBlobSizes))
	}
}

// GetFixedBlob returns the bytes of fixed blob blobId for column col. The
// blob is always valid (zero-initialized) once the column is allocated.
func (d Descriptor) GetFixedBlob(buf []byte, col bitfunnelpb.DocIndex, blobId int) []byte {
	d.checkFixedBlobId(blobId)
	rec := d.recordOffset(col)
	start := rec + d.layout.fixedOffsets[blobId]
	size := d.schema.FixedBlobSizes[blobId]
	return buf[start : start+size]
}

// GetFixedBlobString returns fixed blob blobId for column col as a string,
// aliasing the slice buffer's bytes rather than copying them. Grounded in
// encoding/fasta's eager index, which hands out fasta sequences the same
// way with unsafe.BytesToString. Callers must not retain the string past
// a later mutation of this column's blob.
func (d Descriptor) GetFixedBlobString(buf []byte, col bitfunnelpb.DocIndex, blobId int) string {
	return grailunsafe.BytesToString(d.GetFixedBlob(buf, col, blobId))
}

func (d Descriptor) checkVarBlobId(blobId int) {
	if blobId < 0 || blobId >= d.schema.VariableBlobCount {
		log.Panicf("doctable: variable blob id %d out of range [0,%d)", blobId, d.schema.VariableBlobCount)
	}
}

func (d Descriptor) varDescOffset(col bitfunnelpb.DocIndex, blobId int) uint32 {
	d.checkVarBlobId(blobId)
	rec := d.recordOffset(col)
	return rec + d.layout.varDescOffset + uint32(blobId)*varDescBytes
}

// varSlotIndex returns col's index into the slice-owned variable blob
// side table for blobId.
func (d Descriptor) varSlotIndex(col bitfunnelpb.DocIndex, blobId int) int {
	return int(col)*d.schema.VariableBlobCount + blobId
}

// AllocateVariableBlob allocates a size-byte variable blob for (col,
// blobId). It panics if the slot was already allocated. The returned
// slice is owned by blobs and released only when the whole side table is
// dropped at slice destruction.
func (d Descriptor) AllocateVariableBlob(buf []byte, blobs [][]byte, col bitfunnelpb.DocIndex, blobId int, size uint32) []byte {
	descOff := d.varDescOffset(col, blobId)
	if binary.LittleEndian.Uint32(buf[descOff:descOff+varDescBytes]) != 0 {
		log.Panicf("doctable: variable blob (col=%d,blob=%d) already allocated", col, blobId)
	}
	blob := make([]byte, size)
	blobs[d.varSlotIndex(col, blobId)] = blob
	// Store size+1 so a genuine zero-length allocation is still
	// distinguishable from "never allocated".
	binary.LittleEndian.PutUint32(buf[descOff:descOff+varDescBytes], size+1)
	return blob
}

// GetVariableBlob returns the variable blob for (col, blobId), or nil if
// it was never allocated.
func (d Descriptor) GetVariableBlob(buf []byte, blobs [][]byte, col bitfunnelpb.DocIndex, blobId int) []byte {
	descOff := d.varDescOffset(col, blobId)
	if binary.LittleEndian.Uint32(buf[descOff:descOff+varDescBytes]) == 0 {
		return nil
	}
	return blobs[d.varSlotIndex(col, blobId)]
}

// Cleanup releases every variable blob owned by this doc table, called
// when the owning slice is destroyed.
func (d Descriptor) Cleanup(blobs [][]byte) {
	for i := range blobs {
		blobs[i] = nil
	}
}
