// Package recycler implements the token manager and the recycling
// queue: the two pieces that let a reader dereference a slice-buffer
// snapshot safely while an ingestion thread swaps it out from under
// them.
package recycler

import (
	"sync"

	"github.com/grailbio/base/log"
)

// generation is one epoch of outstanding tokens. Tokens requested
// while a generation is current all count against the same
// WaitGroup; StartTracker retires the current generation (readers
// already holding a token from it keep counting against it) and
// opens a fresh one for subsequent RequestToken calls, the classic
// epoch-reclamation split.
type generation struct {
	wg sync.WaitGroup
}

// Token is a short-lived permit a reader holds while it dereferences
// a snapshot of a shard's slice buffers. Release must be called
// exactly once.
type Token struct {
	gen *generation
}

// Release returns the token. Safe to call from any goroutine, but
// only once per token.
func (t Token) Release() {
	t.gen.wg.Done()
}

// Tracker snapshots the set of tokens outstanding at the moment
// StartTracker was called; WaitForCompletion blocks until every one
// of them has been released.
type Tracker struct {
	gen *generation
}

// WaitForCompletion blocks until every token outstanding at the
// moment the tracker was started has been released.
func (tr *Tracker) WaitForCompletion() {
	tr.gen.wg.Wait()
}

// TokenManager hands out tokens to reader threads and lets a writer
// wait for a point-in-time snapshot of them to fully drain.
type TokenManager struct {
	mu       sync.Mutex
	current  *generation
	shutdown bool
}

// NewTokenManager creates a TokenManager ready to hand out tokens.
func NewTokenManager() *TokenManager {
	return &TokenManager{current: &generation{}}
}

// RequestToken hands out a token against the current generation. It
// panics if the manager has been shut down.
func (m *TokenManager) RequestToken() Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		log.Panicf("recycler: request_token after shutdown")
	}
	gen := m.current
	gen.wg.Add(1)
	return Token{gen: gen}
}

// StartTracker snapshots the current generation and opens a new one
// for subsequent tokens, so the returned Tracker's WaitForCompletion
// only waits for tokens that existed at this call.
func (m *TokenManager) StartTracker() *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr := &Tracker{gen: m.current}
	m.current = &generation{}
	return tr
}

// Shutdown refuses further RequestToken calls. Tokens already handed
// out continue to drain normally; Shutdown does not wait for them.
func (m *TokenManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = true
}
