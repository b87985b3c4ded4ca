// Package bufpool implements the slice-buffer allocator: a fixed-size
// block pool that hands out and reclaims the contiguous byte buffers
// slices are built from.
package bufpool

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrExhausted is returned by Allocate when the pool has no free blocks
// left. The host is expected to retry or shed load, not crash.
var ErrExhausted = errors.New("bufpool: allocator exhausted")

// ErrWrongSize is returned by Allocate when byteSize does not match the
// allocator's configured block size.
var ErrWrongSize = errors.New("bufpool: requested size does not match configured block size")

// Allocator hands out fixed-size byte blocks from a pre-allocated pool.
// Allocate fails unless the requested size equals the configured block
// size; Release zeroes a block before returning it to the pool so a
// fresh slice always observes known-zero memory, matching the
// rowtable/doctable Initialize contract.
type Allocator struct {
	blockSize int
	total     int

	mu   sync.Mutex
	free [][]byte
}

// New creates an Allocator with blockCount blocks of blockSize bytes each,
// all allocated up front.
func New(blockSize, blockCount int) *Allocator {
	if blockSize <= 0 {
		panic("bufpool: blockSize must be positive")
	}
	a := &Allocator{
		blockSize: blockSize,
		total:     blockCount,
		free:      make([][]byte, 0, blockCount),
	}
	for i := 0; i < blockCount; i++ {
		a.free = append(a.free, make([]byte, blockSize))
	}
	return a
}

// BlockSize returns the fixed size of every block this allocator serves.
func (a *Allocator) BlockSize() int { return a.blockSize }

// Allocate returns one zeroed block of byteSize bytes. byteSize must equal
// BlockSize(). Returns ErrExhausted when the pool is empty.
func (a *Allocator) Allocate(byteSize int) ([]byte, error) {
	if byteSize != a.blockSize {
		return nil, ErrWrongSize
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.free)
	if n == 0 {
		return nil, ErrExhausted
	}
	buf := a.free[n-1]
	a.free = a.free[:n-1]
	return buf, nil
}

// Release zeroes buf and returns it to the pool. buf must have come from
// this Allocator.
func (a *Allocator) Release(buf []byte) {
	if len(buf) != a.blockSize {
		panic("bufpool: released buffer does not match block size")
	}
	for i := range buf {
		buf[i] = 0
	}
	a.mu.Lock()
	a.free = append(a.free, buf)
	a.mu.Unlock()
}

// InUseCount returns the number of blocks currently checked out.
func (a *Allocator) InUseCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total - len(a.free)
}
