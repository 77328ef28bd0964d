package redisledger

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/wikirace/internal/poll"
)

func startRedis(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	rd, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("failed to start redis: %v", err)
	}
	port, err := rd.MappedPort(ctx, "6379")
	if err != nil {
		_ = rd.Terminate(ctx)
		t.Fatalf("failed to get mapped port: %v", err)
	}
	host, err := rd.Host(ctx)
	if err != nil {
		_ = rd.Terminate(ctx)
		t.Fatalf("failed to get host: %v", err)
	}
	return rd, fmt.Sprintf("%s:%s", host, port.Port())
}

func TestLedgerAgainstRedis(t *testing.T) {
	if os.Getenv("WIKIRACE_INTEGRATION") == "" {
		t.Skip("set WIKIRACE_INTEGRATION=1 to run container-backed tests")
	}
	ctx := context.Background()
	rd, addr := startRedis(t, ctx)
	defer func() { _ = rd.Terminate(ctx) }()

	client, err := Conn(ctx, addr, "", 0, 5*time.Second)
	if err != nil {
		t.Fatalf("Conn: %v", err)
	}
	defer client.Close()
	ledger := NewLedger(client)

	p, err := ledger.GetPoll(ctx, "unseen")
	if err != nil {
		t.Fatalf("GetPoll: %v", err)
	}
	if p.TotalVotes != 0 {
		t.Fatalf("unseen card should read zero, got %+v", p)
	}

	const perBucket = 25
	var wg sync.WaitGroup
	for _, opt := range poll.Options {
		for i := 0; i < perBucket; i++ {
			wg.Add(1)
			go func(o poll.Option) {
				defer wg.Done()
				if _, err := ledger.RecordVote(ctx, "c1", o); err != nil {
					t.Errorf("RecordVote: %v", err)
				}
			}(opt)
		}
	}
	wg.Wait()

	p, err = ledger.GetPoll(ctx, "c1")
	if err != nil {
		t.Fatalf("GetPoll: %v", err)
	}
	var sum int64
	for _, n := range p.Votes {
		sum += n
	}
	if sum != p.TotalVotes || p.TotalVotes != int64(perBucket*len(poll.Options)) {
		t.Fatalf("tally mismatch: total=%d sum=%d", p.TotalVotes, sum)
	}
}
