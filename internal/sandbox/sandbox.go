// Package sandbox abstracts the remote browser instance a race runs in:
// create a session, execute one textual command, destroy the session.
package sandbox

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured means the access credential for the remote sandbox is
// missing. Checked at first use, not at startup.
var ErrNotConfigured = errors.New("sandbox credential not configured")

// UpstreamError wraps a failure reported by the remote service or a
// request that exceeded its time bound.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("sandbox %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Session identifies one remote browser instance. A session is owned by
// exactly one race and must be closed exactly once when the race ends.
type Session struct {
	ID          string
	LiveViewURL string
}

// ExecResult carries the outcome of one command. A failed command sets
// Err instead of raising, so the caller can feed the failure back to the
// agent as tool output rather than aborting the race.
type ExecResult struct {
	Result string
	Err    string
}

// Gateway is the browser-sandbox surface used by the race driver.
type Gateway interface {
	CreateSession(ctx context.Context) (Session, error)
	Exec(ctx context.Context, sessionID, command string) ExecResult
	// CloseSession is best-effort: failures are swallowed because cleanup
	// runs in a guaranteed-execution path and must never block or crash
	// the caller.
	CloseSession(ctx context.Context, sessionID string)
}
