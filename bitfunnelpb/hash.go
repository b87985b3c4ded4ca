package bitfunnelpb

import (
	"encoding/binary"

	farm "github.com/dgryski/go-farm"
)

// CombineHash mixes two term hashes into the hash of their concatenation,
// in order. It is intentionally non-commutative: CombineHash(a, b) !=
// CombineHash(b, a) for almost all a != b, because a and b occupy fixed,
// distinct byte ranges of the buffer that FarmHash fingerprints. Phrase
// terms must be built with the same argument order at index-build time and
// at query time.
func CombineHash(a, b uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], a)
	binary.LittleEndian.PutUint64(buf[8:16], b)
	return farm.Fingerprint64(buf[:])
}

// Combine builds the (n+1)-gram term formed by appending next to t. Both
// terms must share a stream; the result's GramSize is the sum of the two,
// capped at MaxGramSize (callers are expected to never exceed it, since
// n-gram emission is bounded by the configured max gram size).
func Combine(t, next Term) Term {
	size := t.GramSize + next.GramSize
	if size > MaxGramSize {
		size = MaxGramSize
	}
	return Term{
		RawHash:  CombineHash(t.RawHash, next.RawHash),
		Stream:   t.Stream,
		GramSize: size,
	}
}

// HashUnigram computes the raw hash of a single token's bytes with the
// same FarmHash fingerprint used for combined hashes, so unigram and
// phrase hashes share one hashing family. The stream is not part of the
// hash; it is carried separately in Term.Stream.
func HashUnigram(text []byte) uint64 {
	return farm.Fingerprint64(text)
}
