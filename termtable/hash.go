package termtable

import (
	"encoding/binary"

	"github.com/minio/highwayhash"
)

// adhocSlotZeroKey is the fixed HighwayHash key used for adhoc-pool slot
// selection. A constant, all-zero key is fine here: the security property
// HighwayHash buys (a keyed, collision-resistant hash) isn't what this call
// needs, just a hash family distinct from the FarmHash fingerprint terms
// are hashed with everywhere else, so that fold-in artifacts in one don't
// bias the other.
var adhocSlotZeroKey = make([]byte, highwayhash.Size)

// adhocSlotHash deterministically maps (rawHash, slot) to a 64-bit value
// that AdhocRow reduces modulo the pool size. The same (rawHash, slot)
// pair always yields the same value, for build-time and query-time
// resolution alike.
func adhocSlotHash(rawHash uint64, slot int) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], rawHash)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(slot))
	sum := highwayhash.Sum(buf[:], adhocSlotZeroKey)
	return binary.LittleEndian.Uint64(sum[:8])
}
