// Package snapshot persists slice buffers and a sealed term table to
// durable storage: a magic number, a version string, a checksum and
// the payload length, followed by the payload, all written as a single
// recordio record compressed with zstd.
//
// This package is write-only. There is no persistence format
// evolution to support here: exactly one encoding exists, and nothing
// in bfcore reads it back.
package snapshot

import (
	"bytes"
	"context"
	"encoding/binary"

	"blainsmith.com/go/seahash"
	"github.com/bitfunnel/bfcore/slicebuf"
	"github.com/bitfunnel/bfcore/termtable"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
)

// Magic identifies a bfcore snapshot file.
const Magic = uint64(0x70616e736c6e6662) // "bfnlsnap" read little-endian

// FormatVersion is this package's single current encoding version. A
// future reader, if one is ever written, must reject anything else.
const FormatVersion = "1.0.0"

func init() {
	recordiozstd.Init()
}

// WriteSlice persists one full slice's raw buffer and variable blobs
// to path as a single zstd-compressed recordio block. It returns
// slicebuf.ErrNotFull if sl still has free or pending columns.
func WriteSlice(ctx context.Context, path string, sl *slicebuf.Slice) (err error) {
	var payload bytes.Buffer
	if err := sl.Write(&payload); err != nil {
		return err
	}
	return writeBlock(ctx, path, payload.Bytes())
}

// WriteTermTable persists a sealed term table's entries, row ids and
// adhoc pool configuration to path.
func WriteTermTable(ctx context.Context, path string, tt *termtable.TermTable) (err error) {
	return writeBlock(ctx, path, encodeTermTable(tt))
}

// writeBlock frames payload with the magic/version/checksum header
// and writes it as a single recordio record compressed with zstd.
func writeBlock(ctx context.Context, path string, payload []byte) (err error) {
	var out file.File
	if out, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, out, &err)

	rio := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	rio.Append(frame(payload))
	err = rio.Finish()
	return
}

// frame prepends the magic number, the format version, a seahash
// checksum of payload, and the payload length.
func frame(payload []byte) []byte {
	h := seahash.New()
	h.Write(payload)
	checksum := h.Sum64()

	var buf bytes.Buffer
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], Magic)
	buf.Write(u64[:])
	writeString(&buf, FormatVersion)
	binary.LittleEndian.PutUint64(u64[:], checksum)
	buf.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], uint64(len(payload)))
	buf.Write(u64[:])
	buf.Write(payload)
	return buf.Bytes()
}

func writeString(buf *bytes.Buffer, s string) {
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(s)))
	buf.Write(u32[:])
	buf.WriteString(s)
}
