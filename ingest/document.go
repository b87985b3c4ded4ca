package ingest

import (
	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/grailbio/base/log"
)

// Source is the document surface the Ingestor consumes: implementors
// report a posting count used for shard routing, then write into a
// handle once a column has been allocated for them.
type Source interface {
	PostingCount() int
	Ingest(handle DocumentHandle) error
}

type streamState int

const (
	streamIdle streamState = iota
	streamOpen
)

// Document is a stream-based posting builder: unigrams pushed through
// a ring of length maxGramSize are combined into n-gram terms, and the
// deduplicated posting set is replayed into a handle to satisfy
// Source. Hosts that need fact assertions or blob writes alongside
// their postings can embed a Document and override Ingest.
type Document struct {
	maxGramSize bitfunnelpb.GramSize
	state       streamState
	stream      bitfunnelpb.StreamId
	ring        []uint64 // unigram raw hashes awaiting emission

	seen     map[bitfunnelpb.Term]bool
	postings []bitfunnelpb.Term
}

// NewDocument creates an empty Document whose streams combine up to
// maxGramSize consecutive unigrams into phrase terms.
func NewDocument(maxGramSize bitfunnelpb.GramSize) *Document {
	if maxGramSize < bitfunnelpb.MinGramSize || maxGramSize > bitfunnelpb.MaxGramSize {
		log.Panicf("ingest: max gram size %d out of range [%d,%d]", maxGramSize, bitfunnelpb.MinGramSize, bitfunnelpb.MaxGramSize)
	}
	return &Document{
		maxGramSize: maxGramSize,
		seen:        map[bitfunnelpb.Term]bool{},
	}
}

// OpenStream begins a new stream.
func (d *Document) OpenStream(stream bitfunnelpb.StreamId) {
	if d.state != streamIdle {
		log.Panicf("ingest: open_stream called while a stream is already open")
	}
	d.state = streamOpen
	d.stream = stream
	d.ring = d.ring[:0]
}

// AddTerm hashes text as one unigram, pushes it into the ring, and
// emits every n-gram anchored at the ring's front once the ring
// reaches maxGramSize.
func (d *Document) AddTerm(text []byte) {
	if d.state != streamOpen {
		log.Panicf("ingest: add_term called with no open stream")
	}
	d.ring = append(d.ring, bitfunnelpb.HashUnigram(text))
	if len(d.ring) == int(d.maxGramSize) {
		d.emitWindow(len(d.ring))
		d.ring = d.ring[1:]
	}
}

// CloseStream drains the ring, emitting the remaining shrinking
// windows, and returns to Idle.
func (d *Document) CloseStream() {
	if d.state != streamOpen {
		log.Panicf("ingest: close_stream called with no open stream")
	}
	for len(d.ring) > 0 {
		d.emitWindow(len(d.ring))
		d.ring = d.ring[1:]
	}
	d.state = streamIdle
}

// emitWindow emits the unigram through the count-gram term anchored at
// ring[0], deduplicating against terms already emitted for this
// document.
func (d *Document) emitWindow(count int) {
	term := bitfunnelpb.Term{RawHash: d.ring[0], Stream: d.stream, GramSize: bitfunnelpb.MinGramSize}
	d.emit(term)
	for i := 1; i < count; i++ {
		next := bitfunnelpb.Term{RawHash: d.ring[i], Stream: d.stream, GramSize: bitfunnelpb.MinGramSize}
		term = bitfunnelpb.Combine(term, next)
		d.emit(term)
	}
}

func (d *Document) emit(term bitfunnelpb.Term) {
	if d.seen[term] {
		return
	}
	d.seen[term] = true
	d.postings = append(d.postings, term)
}

// PostingCount returns the number of distinct postings accumulated so
// far, used by the ingestor for shard routing.
func (d *Document) PostingCount() int { return len(d.postings) }

// Postings returns the deduplicated set of terms this document has
// emitted, in emission order.
func (d *Document) Postings() []bitfunnelpb.Term { return d.postings }

// Ingest writes every deduplicated posting into handle. Hosts that
// need additional facts or blobs should call this and then make their
// own handle calls.
func (d *Document) Ingest(handle DocumentHandle) error {
	for _, term := range d.postings {
		handle.AddPosting(term)
	}
	return nil
}
