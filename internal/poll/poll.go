// Package poll defines the vote ledger for click-count predictions.
//
// The ledger is a pure tally: it does not know who voted, and it does not
// deduplicate. At-most-one-vote-per-viewer is enforced by the feed client
// remembering its own prior vote, which is a documented limitation, not an
// access-control mechanism.
package poll

import "context"

// Option is one of the four predicted click-count buckets.
type Option string

const (
	OneToThree  Option = "1-3"
	FourToSix   Option = "4-6"
	SevenToNine Option = "7-9"
	TenPlus     Option = "10+"
)

// Options lists every bucket in display order.
var Options = []Option{OneToThree, FourToSix, SevenToNine, TenPlus}

func (o Option) Valid() bool {
	for _, opt := range Options {
		if o == opt {
			return true
		}
	}
	return false
}

// Poll is the tally for one card. TotalVotes always equals the sum of the
// bucket counts. UserVote is only ever populated client-side.
type Poll struct {
	CardID     string           `json:"card_id"`
	Votes      map[Option]int64 `json:"votes"`
	TotalVotes int64            `json:"total_votes"`
	UserVote   Option           `json:"user_vote,omitempty"`
}

// Zero returns an empty poll for a card that has never been voted on.
// Absence is not a failure.
func Zero(cardID string) Poll {
	votes := make(map[Option]int64, len(Options))
	for _, opt := range Options {
		votes[opt] = 0
	}
	return Poll{CardID: cardID, Votes: votes}
}

// Ledger records and reads vote tallies. RecordVote increments the bucket
// and the derived total as one indivisible operation, creating a
// zero-initialized poll first if the card is unseen.
type Ledger interface {
	RecordVote(ctx context.Context, cardID string, option Option) (Poll, error)
	GetPoll(ctx context.Context, cardID string) (Poll, error)
}
