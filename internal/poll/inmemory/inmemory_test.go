package inmemory

import (
	"context"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/wikirace/internal/poll"
)

func TestRecordVoteCreatesAndIncrements(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	p, err := l.RecordVote(ctx, "c1", poll.FourToSix)
	if err != nil {
		t.Fatalf("RecordVote: %v", err)
	}
	if p.Votes[poll.FourToSix] != 1 || p.TotalVotes != 1 {
		t.Fatalf("unexpected poll after first vote: %+v", p)
	}

	p, err = l.RecordVote(ctx, "c1", poll.FourToSix)
	if err != nil {
		t.Fatalf("RecordVote: %v", err)
	}
	if p.Votes[poll.FourToSix] != 2 || p.TotalVotes != 2 {
		t.Fatalf("unexpected poll after second vote: %+v", p)
	}
}

func TestGetPollUnseenCardIsZero(t *testing.T) {
	l := NewLedger()
	p, err := l.GetPoll(context.Background(), "never-voted")
	if err != nil {
		t.Fatalf("GetPoll: %v", err)
	}
	if p.TotalVotes != 0 {
		t.Fatalf("expected zero total, got %d", p.TotalVotes)
	}
	for _, opt := range poll.Options {
		if p.Votes[opt] != 0 {
			t.Fatalf("expected zero bucket %s, got %d", opt, p.Votes[opt])
		}
	}
}

func TestTotalEqualsBucketSumUnderConcurrency(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	const votersPerBucket = 50
	var wg sync.WaitGroup
	for _, opt := range poll.Options {
		for i := 0; i < votersPerBucket; i++ {
			wg.Add(1)
			go func(o poll.Option) {
				defer wg.Done()
				if _, err := l.RecordVote(ctx, "c1", o); err != nil {
					t.Errorf("RecordVote: %v", err)
				}
			}(opt)
		}
	}
	wg.Wait()

	p, err := l.GetPoll(ctx, "c1")
	if err != nil {
		t.Fatalf("GetPoll: %v", err)
	}
	var sum int64
	for _, n := range p.Votes {
		sum += n
	}
	if sum != p.TotalVotes {
		t.Fatalf("total %d != bucket sum %d", p.TotalVotes, sum)
	}
	if want := int64(votersPerBucket * len(poll.Options)); p.TotalVotes != want {
		t.Fatalf("lost updates: total %d, want %d", p.TotalVotes, want)
	}
}

func TestReturnedPollIsACopy(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	p, _ := l.RecordVote(ctx, "c1", poll.TenPlus)
	p.Votes[poll.TenPlus] = 99

	fresh, _ := l.GetPoll(ctx, "c1")
	if fresh.Votes[poll.TenPlus] != 1 {
		t.Fatalf("ledger state mutated through returned poll: %+v", fresh)
	}
}
