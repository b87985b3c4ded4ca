// Package shard implements the shard: the largest unit of the column
// store below the ingestor, owning an ordered list of slices plus the
// separately-swappable vector of slice buffers readers scan under a
// token.
package shard

import (
	"github.com/biogo/store/llrb"
	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/grailbio/base/log"
)

// bound is one entry of a shard Definition: documents with a posting
// count <= upperBound, and > the previous entry's upperBound, route to
// shardID. Only upperBound participates in ordering.
type bound struct {
	upperBound int
	shardID    bitfunnelpb.ShardId
}

// Compare orders bounds by upperBound, for use as an llrb.Comparable.
func (b bound) Compare(other llrb.Comparable) int {
	return b.upperBound - other.(bound).upperBound
}

// Definition is a sorted sequence of posting-count upper bounds; shard
// 0 holds the smallest documents.
type Definition struct {
	tree llrb.Tree
}

// NewDefinition builds a Definition from ascending upper bounds. The
// last bound should be a sentinel large enough to be >= any real
// posting count (the index's "infinity" shard).
func NewDefinition(upperBounds []int) *Definition {
	d := &Definition{tree: llrb.Tree{}}
	for i, ub := range upperBounds {
		d.tree.Insert(bound{upperBound: ub, shardID: bitfunnelpb.ShardId(i)})
	}
	return d
}

// Route chooses the first shard whose upper bound is >= postingCount.
// It panics if postingCount exceeds every configured bound.
func (d *Definition) Route(postingCount int) bitfunnelpb.ShardId {
	c := d.tree.Ceil(bound{upperBound: postingCount})
	if c == nil {
		log.Panicf("shard: posting count %d exceeds every configured shard bound", postingCount)
	}
	return c.(bound).shardID
}
