package call

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// candidateQueue buffers negotiation candidates until the peer session is
// ready for them, then becomes a pass-through. Every candidate goes through
// the queue, whether or not the session exists yet; that single path is what
// keeps arrival order and removes the apply-live-versus-backlog race.
//
// The flush happens exactly once. Candidates pushed after it apply
// immediately, still under the queue's lock, so ordering holds across the
// transition.
type candidateQueue struct {
	mu        sync.Mutex
	pending   []json.RawMessage
	apply     func(json.RawMessage) error
	live      bool
	discarded bool
}

func (q *candidateQueue) Push(candidate json.RawMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.discarded {
		return
	}
	if q.live {
		q.applyLocked(candidate)
		return
	}
	q.pending = append(q.pending, candidate)
}

// Flush drains the backlog in arrival order and switches the queue to live
// application through apply. Calling it again is a no-op.
func (q *candidateQueue) Flush(apply func(json.RawMessage) error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.live || q.discarded {
		return
	}
	q.apply = apply
	q.live = true
	for _, c := range q.pending {
		q.applyLocked(c)
	}
	q.pending = nil
}

// Discard drops the backlog and ignores everything that arrives afterwards.
// Used on termination.
func (q *candidateQueue) Discard() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.discarded = true
	q.pending = nil
	q.apply = nil
}

func (q *candidateQueue) applyLocked(candidate json.RawMessage) {
	if err := q.apply(candidate); err != nil {
		// A bad candidate is not fatal to the call; the transport keeps
		// trying the others.
		log.Warn().Err(err).Msg("Failed to apply negotiation candidate")
	}
}
