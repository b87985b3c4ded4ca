package snapshot

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/bitfunnel/bfcore/termtable"
)

// encodeTermTable serializes a sealed term table's row ids, every
// explicitly registered hash's resolution, the adhoc pool
// configuration and each rank's total row count, in that order. The
// encoding is internal to this package: nothing reads it back, so its
// layout can change freely between bfcore versions.
func encodeTermTable(tt *termtable.TermTable) []byte {
	var buf bytes.Buffer

	rowIds := tt.RowIds()
	writeUint32(&buf, uint32(len(rowIds)))
	for _, id := range rowIds {
		writeUint32(&buf, uint32(id))
	}

	entries := tt.Entries()
	hashes := make([]uint64, 0, len(entries))
	for hash := range entries {
		hashes = append(hashes, hash)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	writeUint32(&buf, uint32(len(hashes)))
	for _, hash := range hashes {
		e := entries[hash]
		writeUint64(&buf, hash)
		buf.WriteByte(byte(e.Kind))
		writeUint32(&buf, uint32(e.Start))
		writeUint32(&buf, uint32(e.Length))
	}

	pool := tt.AdhocPool()
	if pool.Configured {
		buf.WriteByte(1)
		buf.WriteByte(byte(pool.Rank))
		writeUint32(&buf, uint32(pool.RowBase))
		writeUint32(&buf, uint32(pool.Count))
	} else {
		buf.WriteByte(0)
	}

	ranks := tt.Ranks()
	writeUint32(&buf, uint32(len(ranks)))
	for _, r := range ranks {
		buf.WriteByte(byte(r))
		writeUint32(&buf, uint32(tt.GetTotalRowCount(r)))
	}

	return buf.Bytes()
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
