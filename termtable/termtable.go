// Package termtable implements the index's schema: the map from a
// term's hash to the row ids a query must intersect to evaluate it.
//
// A TermTable is built once, by a single goroutine, through the
// Open*/Close*/Seal builder sequence below, then frozen. After Seal it
// is read-only and safe for concurrent GetTermInfo/GetTotalRowCount
// calls from many query goroutines, the same way rowtable.Descriptor
// is a stateless, share-by-many-readers value once its geometry is
// fixed.
package termtable

import (
	"sort"

	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/grailbio/base/log"
)

// Kind classifies the entry a term's hash resolves to.
type Kind int

const (
	// Explicit terms were enumerated at build time: open_term /
	// add_row_id / close_term.
	Explicit Kind = iota
	// Adhoc terms were never seen at build time; their rows are
	// selected pseudo-randomly from a reserved pool at query time.
	Adhoc
	// Fact terms hold one private row for a host-defined boolean.
	Fact
	// Disposed terms were removed from the index after having once
	// been Explicit or Fact; get_term_info returns length 0. A hash
	// that was never registered also resolves as Disposed when the
	// table has no sized adhoc pool.
	Disposed
)

func (k Kind) String() string {
	switch k {
	case Explicit:
		return "Explicit"
	case Adhoc:
		return "Adhoc"
	case Fact:
		return "Fact"
	case Disposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// entry is the internal record a sealed term hash resolves to.
type entry struct {
	kind   Kind
	rank   bitfunnelpb.Rank
	start  int // index into rowIds, for Explicit/Fact
	length int
}

// adhocPool is one rank's reserved row range for pseudo-random term
// resolution.
type adhocPool struct {
	rank    bitfunnelpb.Rank
	rowBase bitfunnelpb.RowIndex // first row index of the pool
	count   bitfunnelpb.RowIndex // pool size; rows [rowBase, rowBase+count)
}

// rankCounters tracks row-index allocation and finalized row counts
// for one rank. Explicit row ids are assigned by an external
// row-assignment pass and simply
// recorded here via AddRowId/observeIndex; fact rows and the adhoc
// pool are minted directly by the table. Both draw from the same
// high-water mark so the two never collide as long as the external
// assignment pass avoids indices the table has already minted (the
// three system rows, then any fact rows added before it).
type rankCounters struct {
	nextIndex     bitfunnelpb.RowIndex
	explicitCount bitfunnelpb.RowIndex
	adhocCount    bitfunnelpb.RowIndex
	countsSet     bool
}

// TermTable is the builder and, once Seal'd, the read-only term
// resolver.
type TermTable struct {
	sealed bool

	ranks map[bitfunnelpb.Rank]*rankCounters

	// At most one adhoc pool per table; each shard's term table has
	// one sealed geometry and one pool to draw from.
	adhocPool    *adhocPool
	adhocOpening bool
	adhocRank    bitfunnelpb.Rank

	rowIds  []bitfunnelpb.RowId // backing storage for Explicit/Fact entries
	entries map[uint64]*entry  // keyed by Term.RawHash

	// building state for the in-progress open_term/add_row_id/close_term
	// sequence.
	building      bool
	buildingRowId []bitfunnelpb.RowId

	nextFactHash uint64
}

// New creates an empty, unsealed TermTable and auto-registers the
// three system rows (soft-deleted, match-all, match-none) at rank 0,
// indices 0, 1 and 2 respectively.
func New() *TermTable {
	t := &TermTable{
		ranks:        map[bitfunnelpb.Rank]*rankCounters{},
		entries:      map[uint64]*entry{},
		nextFactHash: 3,
	}
	t.rankCounters(0) // ensure rank 0 exists before system rows mint from it

	t.registerSystemRow(bitfunnelpb.SoftDeletedRowHash)
	t.registerSystemRow(bitfunnelpb.MatchAllRowHash)
	t.registerSystemRow(bitfunnelpb.MatchNoneRowHash)
	return t
}

func (t *TermTable) rankCounters(rank bitfunnelpb.Rank) *rankCounters {
	rc, ok := t.ranks[rank]
	if !ok {
		rc = &rankCounters{}
		t.ranks[rank] = rc
	}
	return rc
}

func (t *TermTable) registerSystemRow(hash uint64) {
	t.OpenTerm()
	t.AddRowId(t.mintRowId(0, false))
	t.CloseTerm(hash)
}

func (t *TermTable) mintRowId(rank bitfunnelpb.Rank, isAdhoc bool) bitfunnelpb.RowId {
	rc := t.rankCounters(rank)
	idx := rc.nextIndex
	rc.nextIndex++
	return bitfunnelpb.NewRowId(rank, idx, isAdhoc)
}

// observeIndex bumps rank's high-water mark so a later mint (fact row
// or adhoc pool base) never reuses an index an externally-assigned
// explicit row id already occupies.
func (t *TermTable) observeIndex(rank bitfunnelpb.Rank, index bitfunnelpb.RowIndex) {
	rc := t.rankCounters(rank)
	if index >= rc.nextIndex {
		rc.nextIndex = index + 1
	}
}

func (t *TermTable) checkBuilding() {
	if t.sealed {
		log.Panicf("termtable: table is sealed")
	}
}

// OpenTerm begins accumulating the row-id sequence for a new explicit
// term.
func (t *TermTable) OpenTerm() {
	t.checkBuilding()
	if t.building {
		log.Panicf("termtable: open_term called while another term is open")
	}
	t.building = true
	t.buildingRowId = t.buildingRowId[:0]
}

// AddRowId appends one row id to the term currently being built. The
// row id itself is assigned by the external row-assignment pass that
// decides term-to-row placement; the table only records it, and
// CloseTerm folds it into its rank's row-count bookkeeping.
func (t *TermTable) AddRowId(id bitfunnelpb.RowId) {
	t.checkBuilding()
	if !t.building {
		log.Panicf("termtable: add_row_id called with no open term")
	}
	t.buildingRowId = append(t.buildingRowId, id)
}

// CloseTerm finishes the term opened by OpenTerm and associates the
// accumulated row ids with hash as an Explicit entry. Re-closing an
// already-registered hash is fatal.
func (t *TermTable) CloseTerm(hash uint64) {
	t.checkBuilding()
	if !t.building {
		log.Panicf("termtable: close_term called with no open term")
	}
	if _, exists := t.entries[hash]; exists {
		log.Panicf("termtable: duplicate close_term for hash %d", hash)
	}
	start := len(t.rowIds)
	t.rowIds = append(t.rowIds, t.buildingRowId...)
	for _, id := range t.buildingRowId {
		if id.IsValid() && !id.IsAdhoc() {
			t.observeIndex(id.Rank(), id.Index())
		}
	}
	t.entries[hash] = &entry{
		kind:   Explicit,
		start:  start,
		length: len(t.buildingRowId),
	}
	t.building = false
	t.buildingRowId = t.buildingRowId[:0]
}

// AddFactRow reserves one private row at rank for a host-defined
// boolean fact and returns the synthetic hash it was registered under
// along with the row id minted for it.
func (t *TermTable) AddFactRow(rank bitfunnelpb.Rank) (uint64, bitfunnelpb.RowId) {
	t.checkBuilding()
	if t.building {
		log.Panicf("termtable: add_fact_row called while a term is open")
	}
	hash := t.nextFactHash
	t.nextFactHash++

	id := t.mintRowId(rank, false)
	start := len(t.rowIds)
	t.rowIds = append(t.rowIds, id)
	t.entries[hash] = &entry{
		kind:   Fact,
		rank:   rank,
		start:  start,
		length: 1,
	}
	return hash, id
}

// OpenAdhocTerm reserves a pool of rows at rank from which adhoc terms
// draw pseudo-random row selections at query time. Only one adhoc pool
// may be open, and only one may ever be created, per table.
func (t *TermTable) OpenAdhocTerm(rank bitfunnelpb.Rank) {
	t.checkBuilding()
	if t.adhocPool != nil || t.adhocOpening {
		log.Panicf("termtable: only one adhoc pool is supported per term table")
	}
	t.adhocOpening = true
	t.adhocRank = rank
}

// CloseAdhocTerm finalizes the adhoc pool opened by OpenAdhocTerm. The
// pool's size is fixed later by SetRowCounts(rank, _, adhocCount); the
// base row index is taken now, and SetRowCounts moves it past any rows
// minted or observed at this rank in the meantime, so explicit/fact
// rows added afterward at this rank never collide with it.
func (t *TermTable) CloseAdhocTerm() {
	t.checkBuilding()
	if !t.adhocOpening {
		log.Panicf("termtable: close_adhoc_term called with no open adhoc term")
	}
	rc := t.rankCounters(t.adhocRank)
	t.adhocPool = &adhocPool{
		rank:    t.adhocRank,
		rowBase: rc.nextIndex,
	}
	t.adhocOpening = false
}

// SetRowCounts finalizes the row table dimensions for rank: explicitCount
// is the number of non-adhoc rows already minted at this rank (recorded
// only; GetTotalRowCount follows the rank's high-water mark and no
// cross-check against it is made), and adhocCount sizes this rank's
// adhoc pool, if any.
func (t *TermTable) SetRowCounts(rank bitfunnelpb.Rank, explicitCount, adhocCount bitfunnelpb.RowIndex) {
	t.checkBuilding()
	rc := t.rankCounters(rank)
	if rc.countsSet {
		log.Panicf("termtable: set_row_counts called twice for rank %d", rank)
	}
	rc.explicitCount = explicitCount
	rc.adhocCount = adhocCount
	rc.countsSet = true

	if adhocCount > 0 {
		if t.adhocPool == nil || t.adhocPool.rank != rank {
			log.Panicf("termtable: set_row_counts adhoc_count>0 for rank %d with no adhoc pool open there", rank)
		}
		if rc.nextIndex > t.adhocPool.rowBase {
			t.adhocPool.rowBase = rc.nextIndex
		}
		t.adhocPool.count = adhocCount
		rc.nextIndex = t.adhocPool.rowBase + adhocCount
	}
}

// Seal freezes the table. Every subsequent query uses a sealed table;
// the builder methods above all panic once sealed.
func (t *TermTable) Seal() {
	if t.sealed {
		log.Panicf("termtable: seal called twice")
	}
	if t.building {
		log.Panicf("termtable: seal called with a term still open")
	}
	t.sealed = true
}

// DisposeTerm removes hash from the index. A disposed term's
// get_term_info reports kind Disposed with length 0; its row ids, if
// any, are not reclaimed (a future compaction pass owns that).
func (t *TermTable) DisposeTerm(hash uint64) {
	e, ok := t.entries[hash]
	if !ok {
		log.Panicf("termtable: dispose_term for unknown hash %d", hash)
	}
	e.kind = Disposed
	e.length = 0
}

// GetTermInfo resolves term to the row range (or adhoc pool slot
// range) a query must use to evaluate it. A hash this table has never
// seen resolves as Adhoc against the configured pool; if no pool is
// configured, or it was never sized, it resolves as Disposed with
// length 0.
func (t *TermTable) GetTermInfo(term bitfunnelpb.Term) (kind Kind, start, length int) {
	if !t.sealed {
		log.Panicf("termtable: get_term_info called on an unsealed table")
	}
	if e, ok := t.entries[term.RawHash]; ok {
		return e.kind, e.start, e.length
	}
	if t.adhocPool == nil || t.adhocPool.count == 0 {
		return Disposed, 0, 0
	}
	return Adhoc, 0, int(t.adhocPool.count)
}

// RowIds returns the slice of row ids an Explicit or Fact entry's
// (start, length) indexes into. Callers must not retain or mutate the
// returned slice past the table's lifetime.
func (t *TermTable) RowIds() []bitfunnelpb.RowId {
	return t.rowIds
}

// AdhocRow deterministically selects the row id for adhoc slot
// (rawHash, slot) against the table's adhoc pool. The same (rawHash,
// slot) pair always yields the same row id, at build time and at
// query time.
func (t *TermTable) AdhocRow(rawHash uint64, slot int) bitfunnelpb.RowId {
	if t.adhocPool == nil || t.adhocPool.count == 0 {
		return bitfunnelpb.InvalidRowId
	}
	offset := adhocSlotHash(rawHash, slot) % uint64(t.adhocPool.count)
	return bitfunnelpb.NewRowId(t.adhocPool.rank, t.adhocPool.rowBase+bitfunnelpb.RowIndex(offset), true)
}

// GetTotalRowCount returns the number of rows laid out in slice
// buffers at rank: the explicit/fact rows minted there plus the adhoc
// pool size, if rank hosts one.
func (t *TermTable) GetTotalRowCount(rank bitfunnelpb.Rank) bitfunnelpb.RowIndex {
	rc, ok := t.ranks[rank]
	if !ok {
		return 0
	}
	return rc.nextIndex
}

// Ranks returns every rank with at least one minted row, in ascending
// order, for callers that need to enumerate GetTotalRowCount without
// already knowing the table's rank set (snapshot does this to persist
// each rank's row count alongside its row table).
func (t *TermTable) Ranks() []bitfunnelpb.Rank {
	ranks := make([]bitfunnelpb.Rank, 0, len(t.ranks))
	for r := range t.ranks {
		ranks = append(ranks, r)
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i] < ranks[j] })
	return ranks
}

// EntryInfo is the exported view of one sealed term's resolution.
type EntryInfo struct {
	Kind   Kind
	Start  int
	Length int
}

// Entries returns a copy of every explicitly registered hash's
// resolution, keyed by raw hash. Adhoc resolution for hashes this
// table never saw at build time is computed, not stored, so it has no
// entry here even though GetTermInfo resolves it.
func (t *TermTable) Entries() map[uint64]EntryInfo {
	out := make(map[uint64]EntryInfo, len(t.entries))
	for hash, e := range t.entries {
		out[hash] = EntryInfo{Kind: e.kind, Start: e.start, Length: e.length}
	}
	return out
}

// AdhocPoolInfo describes this table's reserved adhoc row range, if any.
type AdhocPoolInfo struct {
	Configured bool
	Rank       bitfunnelpb.Rank
	RowBase    bitfunnelpb.RowIndex
	Count      bitfunnelpb.RowIndex
}

// AdhocPool returns the table's adhoc pool configuration, for
// snapshot to persist alongside the explicit entries.
func (t *TermTable) AdhocPool() AdhocPoolInfo {
	if t.adhocPool == nil {
		return AdhocPoolInfo{}
	}
	return AdhocPoolInfo{
		Configured: true,
		Rank:       t.adhocPool.rank,
		RowBase:    t.adhocPool.rowBase,
		Count:      t.adhocPool.count,
	}
}
