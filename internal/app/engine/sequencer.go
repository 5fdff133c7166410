package engine

import "sync"

// Sequencer serializes every state-mutating engine call, mirroring the
// total-ordered execution of the source ledger. A call either commits in
// full or fails with no partial state; no two mutations interleave.
//
// Side effects that leave the engine (slashing, transfers) must not run
// while the sequencer is held: callers collect them into a deferred queue
// and drain it after release, so a misbehaving external call cannot re-enter
// in-progress consensus state.
type Sequencer struct {
	mu sync.Mutex
}

// NewSequencer creates a sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Do runs fn while holding the serialization lock.
func (s *Sequencer) Do(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}
