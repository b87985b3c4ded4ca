package ingest

import (
	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/bitfunnel/bfcore/shard"
	"github.com/bitfunnel/bfcore/slicebuf"
	"github.com/bitfunnel/bfcore/termtable"
	"github.com/grailbio/base/log"
)

// DocumentHandle is the surface a Source's Ingest method uses to write
// into the column assigned to one document.
type DocumentHandle interface {
	AddPosting(term bitfunnelpb.Term)
	AssertFact(factHash uint64)
	AllocateVariableBlob(blobId int, size uint32) []byte
	GetVariableBlob(blobId int) []byte
	GetFixedBlob(blobId int) []byte
	GetDocId() bitfunnelpb.DocId
	GetBit(row bitfunnelpb.RowId) int
}

// handle is the concrete DocumentHandle bound to one (slice, column)
// pair for the duration of one ingest call.
type handle struct {
	sh     *shard.Shard
	slice  *slicebuf.Slice
	column bitfunnelpb.DocIndex
	docId  bitfunnelpb.DocId
	tt     *termtable.TermTable
}

func newHandle(sh *shard.Shard, slice *slicebuf.Slice, column bitfunnelpb.DocIndex, docId bitfunnelpb.DocId, tt *termtable.TermTable) *handle {
	return &handle{sh: sh, slice: slice, column: column, docId: docId, tt: tt}
}

// setRowsForHash resolves hash against the term table and sets every
// row bit it maps to for this handle's column. Disposed terms (never
// registered and no adhoc pool configured) are silently dropped:
// there is no row to set.
func (h *handle) setRowsForHash(hash uint64) {
	kind, start, length := h.tt.GetTermInfo(bitfunnelpb.Term{RawHash: hash})
	switch kind {
	case termtable.Explicit, termtable.Fact:
		for _, row := range h.tt.RowIds()[start : start+length] {
			h.setBit(row)
		}
	case termtable.Adhoc:
		// The pool supports arbitrarily many redundant rows per term;
		// this index resolves every unregistered term to exactly one,
		// slot 0, which is sufficient to make the term queryable and
		// keeps build-time and query-time resolution identical.
		h.setBit(h.tt.AdhocRow(hash, 0))
	case termtable.Disposed:
	}
}

func (h *handle) setBit(row bitfunnelpb.RowId) {
	if !row.IsValid() {
		return
	}
	rd, ok := h.slice.RowTable(row.Rank())
	if !ok {
		log.Panicf("ingest: term table resolved a row at rank %d but this slice has no row table there", row.Rank())
	}
	rd.SetBit(h.slice.Buffer(), row.Index(), h.column)
}

// AddPosting sets the row bit(s) term resolves to.
func (h *handle) AddPosting(term bitfunnelpb.Term) { h.setRowsForHash(term.RawHash) }

// AssertFact sets the private row bit registered for factHash by
// termtable.AddFactRow.
func (h *handle) AssertFact(factHash uint64) { h.setRowsForHash(factHash) }

func (h *handle) AllocateVariableBlob(blobId int, size uint32) []byte {
	return h.slice.DocTable().AllocateVariableBlob(h.slice.Buffer(), h.slice.VariableBlobs(), h.column, blobId, size)
}

func (h *handle) GetVariableBlob(blobId int) []byte {
	return h.slice.DocTable().GetVariableBlob(h.slice.Buffer(), h.slice.VariableBlobs(), h.column, blobId)
}

func (h *handle) GetFixedBlob(blobId int) []byte {
	return h.slice.DocTable().GetFixedBlob(h.slice.Buffer(), h.column, blobId)
}

func (h *handle) GetDocId() bitfunnelpb.DocId { return h.docId }

func (h *handle) GetBit(row bitfunnelpb.RowId) int {
	rd, ok := h.slice.RowTable(row.Rank())
	if !ok {
		return 0
	}
	return rd.GetBit(h.slice.Buffer(), row.Index(), h.column)
}

// softDeletedRow resolves the system row that marks a column invisible
// to queries.
func softDeletedRow(tt *termtable.TermTable) bitfunnelpb.RowId {
	kind, start, length := tt.GetTermInfo(bitfunnelpb.Term{RawHash: bitfunnelpb.SoftDeletedRowHash})
	if kind != termtable.Explicit || length != 1 {
		log.Panicf("ingest: term table has no valid soft-deleted system row")
	}
	return tt.RowIds()[start]
}

func (h *handle) setSoftDeleted(value bool) {
	row := softDeletedRow(h.tt)
	rd, ok := h.slice.RowTable(row.Rank())
	if !ok {
		log.Panicf("ingest: slice has no row table for the soft-deleted row's rank")
	}
	if value {
		rd.SetBit(h.slice.Buffer(), row.Index(), h.column)
	} else {
		rd.ClearBit(h.slice.Buffer(), row.Index(), h.column)
	}
}
