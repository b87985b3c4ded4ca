package doctable

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bitfunnel/bfcore/bitfunnelpb"
)

// WriteVariableBlobs serializes every allocated variable blob, in column
// order, for the snapshot writer.
func (d Descriptor) WriteVariableBlobs(w io.Writer, buf []byte, blobs [][]byte) error {
	var lenBuf [4]byte
	for col := bitfunnelpb.DocIndex(0); col < d.capacity; col++ {
		for blobId := 0; blobId < d.schema.VariableBlobCount; blobId++ {
			blob := d.GetVariableBlob(buf, blobs, col, blobId)
			if blob == nil {
				continue
			}
			binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(blob)))
			if _, err := w.Write(lenBuf[:]); err != nil {
				return err
			}
			if _, err := w.Write(blob); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadVariableBlobs reconstructs the variable blob side table from a
// stream produced by WriteVariableBlobs. buf must already have its length
// descriptors populated (e.g. by restoring the raw doc table bytes
// first); LoadVariableBlobs only refills the heap-owned payloads.
func (d Descriptor) LoadVariableBlobs(r io.Reader, buf []byte, blobs [][]byte) error {
	var lenBuf [4]byte
	for col := bitfunnelpb.DocIndex(0); col < d.capacity; col++ {
		for blobId := 0; blobId < d.schema.VariableBlobCount; blobId++ {
			descOff := d.varDescOffset(col, blobId)
			if binary.LittleEndian.Uint32(buf[descOff:descOff+varDescBytes]) == 0 {
				continue
			}
			if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
				return fmt.Errorf("doctable: reading variable blob length: %w", err)
			}
			size := binary.LittleEndian.Uint32(lenBuf[:])
			blob := make([]byte, size)
			if _, err := io.ReadFull(r, blob); err != nil {
				return fmt.Errorf("doctable: reading variable blob payload: %w", err)
			}
			blobs[d.varSlotIndex(col, blobId)] = blob
		}
	}
	return nil
}
