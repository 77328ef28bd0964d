// Package inmemory keeps poll tallies in process memory. Entries live for
// the process lifetime and are never evicted, which is acceptable for a
// single-instance deployment.
package inmemory

import (
	"context"
	"sync"

	"github.com/mohammad-safakhou/wikirace/internal/poll"
)

type Ledger struct {
	mu    sync.Mutex
	polls map[string]poll.Poll
}

func NewLedger() *Ledger {
	return &Ledger{polls: make(map[string]poll.Poll)}
}

func (l *Ledger) RecordVote(ctx context.Context, cardID string, option poll.Option) (poll.Poll, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.polls[cardID]
	if !ok {
		p = poll.Zero(cardID)
	}
	p.Votes[option]++
	p.TotalVotes++
	l.polls[cardID] = p
	return clone(p), nil
}

func (l *Ledger) GetPoll(ctx context.Context, cardID string) (poll.Poll, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.polls[cardID]
	if !ok {
		return poll.Zero(cardID), nil
	}
	return clone(p), nil
}

// clone copies the vote map so callers cannot mutate ledger state.
func clone(p poll.Poll) poll.Poll {
	votes := make(map[poll.Option]int64, len(p.Votes))
	for opt, n := range p.Votes {
		votes[opt] = n
	}
	p.Votes = votes
	return p
}
