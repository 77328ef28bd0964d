// Package postgres backs the poll ledger with a polls table. A vote is a
// single upsert statement, so the read-modify-write is atomic on the
// database side.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/wikirace/internal/poll"
)

type Ledger struct {
	DB *sql.DB
}

func NewWithDSN(ctx context.Context, dsn string) (*Ledger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Ledger{DB: db}, nil
}

func (l *Ledger) RecordVote(ctx context.Context, cardID string, option poll.Option) (poll.Poll, error) {
	_, err := l.DB.ExecContext(ctx,
		`INSERT INTO polls (card_id, bucket, votes) VALUES ($1, $2, 1)
		 ON CONFLICT (card_id, bucket) DO UPDATE SET votes = polls.votes + 1`,
		cardID, string(option))
	if err != nil {
		return poll.Poll{}, fmt.Errorf("record vote %s/%s: %w", cardID, option, err)
	}
	return l.GetPoll(ctx, cardID)
}

func (l *Ledger) GetPoll(ctx context.Context, cardID string) (poll.Poll, error) {
	rows, err := l.DB.QueryContext(ctx,
		`SELECT bucket, votes FROM polls WHERE card_id = $1`, cardID)
	if err != nil {
		return poll.Poll{}, fmt.Errorf("read poll %s: %w", cardID, err)
	}
	defer rows.Close()

	p := poll.Zero(cardID)
	for rows.Next() {
		var bucket string
		var votes int64
		if err := rows.Scan(&bucket, &votes); err != nil {
			return poll.Poll{}, fmt.Errorf("scan poll row: %w", err)
		}
		opt := poll.Option(bucket)
		if !opt.Valid() {
			continue
		}
		p.Votes[opt] = votes
		p.TotalVotes += votes
	}
	if err := rows.Err(); err != nil {
		return poll.Poll{}, fmt.Errorf("iterate poll rows: %w", err)
	}
	return p, nil
}
