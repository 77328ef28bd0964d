// Package redisledger backs the poll ledger with a redis hash per card.
// Each vote is a single HINCRBY; the total is derived from the bucket
// counts at read time, so total == sum holds by construction without a
// transaction.
package redisledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/wikirace/internal/poll"
)

const pollKeyPrefix = "poll:"

type Ledger struct {
	client *redis.Client
}

// Conn opens a redis client and verifies the connection with a ping.
func Conn(ctx context.Context, addr, password string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: timeout,
		Password:    password,
		DB:          db,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}

func NewLedger(client *redis.Client) *Ledger {
	return &Ledger{client: client}
}

func (l *Ledger) RecordVote(ctx context.Context, cardID string, option poll.Option) (poll.Poll, error) {
	key := pollKeyPrefix + cardID
	if err := l.client.HIncrBy(ctx, key, string(option), 1).Err(); err != nil {
		return poll.Poll{}, fmt.Errorf("increment %s/%s: %w", cardID, option, err)
	}
	return l.GetPoll(ctx, cardID)
}

func (l *Ledger) GetPoll(ctx context.Context, cardID string) (poll.Poll, error) {
	fields, err := l.client.HGetAll(ctx, pollKeyPrefix+cardID).Result()
	if err != nil {
		return poll.Poll{}, fmt.Errorf("read poll %s: %w", cardID, err)
	}

	p := poll.Zero(cardID)
	for _, opt := range poll.Options {
		raw, ok := fields[string(opt)]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return poll.Poll{}, fmt.Errorf("corrupt count for %s/%s: %w", cardID, opt, err)
		}
		p.Votes[opt] = n
		p.TotalVotes += n
	}
	return p, nil
}
