package slicebuf

import (
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/log"
)

// registry maps a slice id, stored in the trailing word of its
// buffer, back to the owning *Slice. This is the safer-language
// substitute for embedding a raw pointer in the buffer: any code that
// holds only a []byte can still recover its Slice via
// GetSliceFromBuffer, but the buffer itself never carries anything
// the garbage collector would need to scan.
var registry sync.Map // map[uint64]*Slice

var nextSliceID uint64

func allocateSliceID() uint64 {
	return atomic.AddUint64(&nextSliceID, 1)
}

// GetSliceFromBuffer recovers the Slice whose trailing back-pointer is
// encoded in buf, using layout to find the trailer. It panics if buf's
// trailer does not name a live, registered slice.
func GetSliceFromBuffer(buf []byte, layout Layout) *Slice {
	id := readTrailer(buf, layout)
	v, ok := registry.Load(id)
	if !ok {
		log.Panicf("slicebuf: buffer trailer does not name a registered slice")
	}
	return v.(*Slice)
}
