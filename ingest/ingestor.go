// Package ingest implements the ingestor: the top-level entry point
// that routes documents to shards, drives per-document posting
// ingestion through a DocumentHandle, and owns the doc-id map, the
// recycler and the token manager shared by every shard.
package ingest

import (
	"sync"

	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/bitfunnel/bfcore/bufpool"
	"github.com/bitfunnel/bfcore/docidmap"
	"github.com/bitfunnel/bfcore/doctable"
	"github.com/bitfunnel/bfcore/recycler"
	"github.com/bitfunnel/bfcore/shard"
	"github.com/bitfunnel/bfcore/slicebuf"
	"github.com/bitfunnel/bfcore/termtable"
	"github.com/grailbio/base/errorreporter"
	grailerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"
)

// ErrDuplicateDocId is returned by Add when doc_id is already present
// in the doc-id map.
var ErrDuplicateDocId = errors.New("ingest: duplicate document id")

// ErrUnknownDocId is returned by GetHandle for an id with no live
// column.
var ErrUnknownDocId = errors.New("ingest: unknown document id")

// IngestorOpts configures New.
type IngestorOpts struct {
	// ShardBounds is the sorted sequence of posting-count upper bounds
	// defining one shard per entry.
	ShardBounds []int
	Schema      doctable.Schema
	BufferBytes uint32
	MaxRank     bitfunnelpb.Rank

	AllocatorBlocks    int
	RecyclerQueueDepth int
}

const (
	// DefaultBufferBytes is the slice-buffer block size used when
	// IngestorOpts.BufferBytes is left zero.
	DefaultBufferBytes = 1 << 16
	// DefaultAllocatorBlocks is the allocator pool size used when
	// IngestorOpts.AllocatorBlocks is left zero.
	DefaultAllocatorBlocks = 64
	// DefaultRecyclerQueueDepth is the recycler queue depth used when
	// IngestorOpts.RecyclerQueueDepth is left zero.
	DefaultRecyclerQueueDepth = 16
)

func validateIngestorOpts(o *IngestorOpts) error {
	if len(o.ShardBounds) == 0 {
		return grailerrors.E("ingest: IngestorOpts.ShardBounds must have at least one entry")
	}
	if o.BufferBytes == 0 {
		o.BufferBytes = DefaultBufferBytes
	}
	if o.AllocatorBlocks == 0 {
		o.AllocatorBlocks = DefaultAllocatorBlocks
	}
	if o.RecyclerQueueDepth == 0 {
		o.RecyclerQueueDepth = DefaultRecyclerQueueDepth
	}
	return nil
}

// group tracks the columns ingested between one open_group/close_group
// pair so expire_group can retire them together.
type group struct {
	members []*handle
}

// Ingestor is the top-level column store entry point: it owns the
// shards, the doc-id map, the recycler and the token manager.
type Ingestor struct {
	shards     []*shard.Shard
	termTables []*termtable.TermTable
	shardDef   *shard.Definition

	allocator *bufpool.Allocator
	recycler  *recycler.Recycler
	tokens    *recycler.TokenManager

	docIds *docidmap.Map
	cache  documentCache

	deleteMu sync.Mutex

	groupMu     sync.Mutex
	activeGroup *group
	groups      map[uint64]*group
}

// New builds an Ingestor with one shard per termTables entry, in the
// same order as opts.ShardBounds.
func New(termTables []*termtable.TermTable, opts IngestorOpts) (*Ingestor, error) {
	if err := validateIngestorOpts(&opts); err != nil {
		return nil, err
	}
	if len(termTables) != len(opts.ShardBounds) {
		return nil, grailerrors.E("ingest: len(termTables) must equal len(opts.ShardBounds)")
	}

	allocator := bufpool.New(int(opts.BufferBytes), opts.AllocatorBlocks)
	rec := recycler.New(allocator, opts.RecyclerQueueDepth)
	tokens := recycler.NewTokenManager()

	shards := make([]*shard.Shard, len(termTables))
	for i, tt := range termTables {
		shards[i] = shard.New(tt, opts.Schema, allocator, opts.BufferBytes, opts.MaxRank, rec, tokens)
	}

	return &Ingestor{
		shards:     shards,
		termTables: termTables,
		shardDef:   shard.NewDefinition(opts.ShardBounds),
		allocator:  allocator,
		recycler:   rec,
		tokens:     tokens,
		docIds:     docidmap.New(),
		groups:     map[uint64]*group{},
	}, nil
}

// GetShardCount returns the number of shards.
func (ing *Ingestor) GetShardCount() int { return len(ing.shards) }

// GetShard returns shard i.
func (ing *Ingestor) GetShard(i int) *shard.Shard { return ing.shards[i] }

// Add routes source to a shard by posting count, allocates a column,
// plays source's postings into a handle, activates and commits the
// column, then inserts (docId -> handle) into the doc-id map. If
// source.Ingest fails, or the doc id is already present, the column is
// rolled back (committed then expired) and the first error encountered
// is returned.
func (ing *Ingestor) Add(docId bitfunnelpb.DocId, source Source) error {
	postingCount := source.PostingCount()
	shardID := ing.shardDef.Route(postingCount)
	sh := ing.shards[shardID]
	tt := ing.termTables[shardID]

	slice, col, err := sh.AllocateDocument()
	if err != nil {
		return err
	}

	h := newHandle(sh, slice, col, docId, tt)
	// Keep the column hidden while its posting bits are being written.
	h.setSoftDeleted(true)

	var errp errorreporter.T
	errp.Set(source.Ingest(h))

	slice.DocTable().SetDocId(slice.Buffer(), col, docId)
	if errp.Err() == nil {
		// All posting bits are written by now, so marking the column
		// visible here guarantees any query that sees it also sees
		// every posting bit.
		h.setSoftDeleted(false)
	}
	slice.CommitDocument(col)

	if errp.Err() == nil {
		if !ing.docIds.Insert(docId, h) {
			errp.Set(ErrDuplicateDocId)
		} else {
			ing.cache.prepend(h)
			ing.trackGroupMember(h)
		}
	}

	if err := errp.Err(); err != nil {
		// Roll back: hide the column again before expiring it, so a
		// reader that raced the failed add never keeps seeing it.
		h.setSoftDeleted(true)
		ing.expireAndMaybeRecycle(sh, slice, col)
		return err
	}

	vlog.VI(1).Infof("ingest: doc %d -> shard %d column %d", docId, shardID, col)
	return nil
}

func (ing *Ingestor) expireAndMaybeRecycle(sh *shard.Shard, slice *slicebuf.Slice, col bitfunnelpb.DocIndex) {
	if slice.ExpireDocument(col) {
		sh.RecycleSlice(slice)
	}
}

func (ing *Ingestor) trackGroupMember(h *handle) {
	ing.groupMu.Lock()
	defer ing.groupMu.Unlock()
	if ing.activeGroup != nil {
		ing.activeGroup.members = append(ing.activeGroup.members, h)
	}
}

// Delete removes docId from the doc-id map, sets its soft-deleted bit
// immediately (making the column invisible to queries before any
// recycling happens), and records its expiry. Deleting an unknown id
// is not an error: it returns false.
func (ing *Ingestor) Delete(docId bitfunnelpb.DocId) bool {
	ing.deleteMu.Lock()
	defer ing.deleteMu.Unlock()

	v, ok := ing.docIds.Get(docId)
	if !ok {
		return false
	}
	h := v.(*handle)
	ing.docIds.Delete(docId)
	h.setSoftDeleted(true)
	if h.slice.ExpireDocument(h.column) {
		h.sh.RecycleSlice(h.slice)
	}
	return true
}

// Contains reports whether docId has a live column.
func (ing *Ingestor) Contains(docId bitfunnelpb.DocId) bool {
	return ing.docIds.Contains(docId)
}

// GetHandle returns the handle backing docId, or ErrUnknownDocId.
func (ing *Ingestor) GetHandle(docId bitfunnelpb.DocId) (DocumentHandle, error) {
	v, ok := ing.docIds.Get(docId)
	if !ok {
		return nil, ErrUnknownDocId
	}
	return v.(*handle), nil
}

// Iterate walks every document ever successfully added, most recently
// added first, until fn returns false. The walk is a snapshot of the
// cache at the time Iterate is called: documents added concurrently
// during the walk are not visited, but a document deleted or expired
// during the walk is still visited, since the cache never unlinks
// nodes.
func (ing *Ingestor) Iterate(fn func(DocumentHandle) bool) {
	ing.cache.iterate(fn)
}

// OpenGroup begins tracking a contiguous range of documents under id.
// Only one group may be open at a time.
func (ing *Ingestor) OpenGroup(id uint64) {
	ing.groupMu.Lock()
	defer ing.groupMu.Unlock()
	if ing.activeGroup != nil {
		log.Panicf("ingest: open_group called while a group is already open")
	}
	ing.groups[id] = &group{}
	ing.activeGroup = ing.groups[id]
}

// CloseGroup ends the group opened by OpenGroup.
func (ing *Ingestor) CloseGroup() {
	ing.groupMu.Lock()
	defer ing.groupMu.Unlock()
	if ing.activeGroup == nil {
		log.Panicf("ingest: close_group called with no open group")
	}
	ing.activeGroup = nil
}

// ExpireGroup expires every column assigned to group id, if docs were
// ingested under it and have not already been deleted individually.
func (ing *Ingestor) ExpireGroup(id uint64) {
	ing.groupMu.Lock()
	g, ok := ing.groups[id]
	delete(ing.groups, id)
	ing.groupMu.Unlock()
	if !ok {
		return
	}
	for _, h := range g.members {
		if !ing.docIds.Delete(h.docId) {
			continue // already individually deleted
		}
		h.setSoftDeleted(true)
		if h.slice.ExpireDocument(h.column) {
			h.sh.RecycleSlice(h.slice)
		}
	}
}

// Shutdown closes the recycler queue and the token manager, draining
// in-flight recycling work rather than aborting it.
func (ing *Ingestor) Shutdown() {
	ing.recycler.Shutdown()
	ing.tokens.Shutdown()
}
