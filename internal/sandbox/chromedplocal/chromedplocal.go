// Package chromedplocal runs races against a locally managed headless
// Chrome instead of the remote sandbox service. It interprets the same
// agent-browser command subset the agent is prompted with (open,
// snapshot -i, click @ref, scroll down, get title), which makes it a
// drop-in gateway for credential-less development.
package chromedplocal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/mohammad-safakhou/wikirace/internal/sandbox"
)

const (
	execTimeout  = 30 * time.Second
	linksPerPage = 40
)

type link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

type session struct {
	ctx          context.Context
	cancelCtx    context.CancelFunc
	cancelAlloc  context.CancelFunc
	refs         map[string]string
	scrollOffset int
}

type Gateway struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func New() *Gateway {
	return &Gateway{sessions: make(map[string]*session)}
}

func (g *Gateway) CreateSession(ctx context.Context) (sandbox.Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("WikiRaceAgent/1.0 (+contact@example.com)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	bctx, cancelCtx := chromedp.NewContext(actx)

	// Start the browser now so a broken Chrome install surfaces here, not
	// mid-race.
	if err := chromedp.Run(bctx); err != nil {
		cancelCtx()
		cancelAlloc()
		return sandbox.Session{}, &sandbox.UpstreamError{Op: "start chrome", Err: err}
	}

	id := uuid.NewString()
	g.mu.Lock()
	g.sessions[id] = &session{
		ctx:         bctx,
		cancelCtx:   cancelCtx,
		cancelAlloc: cancelAlloc,
		refs:        make(map[string]string),
	}
	g.mu.Unlock()

	return sandbox.Session{ID: id}, nil
}

func (g *Gateway) Exec(ctx context.Context, sessionID, command string) sandbox.ExecResult {
	g.mu.Lock()
	sess, ok := g.sessions[sessionID]
	g.mu.Unlock()
	if !ok {
		return sandbox.ExecResult{Err: fmt.Sprintf("unknown session %s", sessionID)}
	}

	runCtx, cancel := context.WithTimeout(sess.ctx, execTimeout)
	defer cancel()

	out, err := g.run(runCtx, sess, strings.TrimSpace(command))
	if err != nil {
		return sandbox.ExecResult{Err: err.Error()}
	}
	if strings.TrimSpace(out) == "" {
		out = "(no output)"
	}
	return sandbox.ExecResult{Result: out}
}

func (g *Gateway) run(ctx context.Context, sess *session, command string) (string, error) {
	rest, ok := strings.CutPrefix(command, "agent-browser ")
	if !ok {
		return "", fmt.Errorf("unsupported command %q", command)
	}
	rest = strings.TrimSpace(rest)

	switch {
	case strings.HasPrefix(rest, "open"):
		url := strings.Trim(strings.TrimSpace(strings.TrimPrefix(rest, "open")), `"'`)
		if url == "" {
			return "", fmt.Errorf("open requires a url")
		}
		sess.scrollOffset = 0
		err := chromedp.Run(ctx,
			chromedp.Navigate(url),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
		if err != nil {
			return "", err
		}
		return "opened " + url, nil

	case strings.HasPrefix(rest, "snapshot"):
		return g.snapshot(ctx, sess)

	case strings.HasPrefix(rest, "click"):
		ref := strings.TrimSpace(strings.TrimPrefix(rest, "click"))
		href, ok := sess.refs[ref]
		if !ok {
			return "", fmt.Errorf("unknown ref %s, take a snapshot first", ref)
		}
		sess.scrollOffset = 0
		err := chromedp.Run(ctx,
			chromedp.Navigate(href),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
		if err != nil {
			return "", err
		}
		var title string
		if err := chromedp.Run(ctx, chromedp.Title(&title)); err != nil {
			return "", err
		}
		return "clicked " + ref + ", now on: " + title, nil

	case strings.HasPrefix(rest, "scroll"):
		sess.scrollOffset += linksPerPage
		return g.snapshot(ctx, sess)

	case strings.HasPrefix(rest, "get title"):
		var title string
		if err := chromedp.Run(ctx, chromedp.Title(&title)); err != nil {
			return "", err
		}
		return title, nil
	}

	return "", fmt.Errorf("unsupported command %q", command)
}

// snapshot lists the interactive wiki links in the current viewport
// window, assigning @refs the click command resolves against.
func (g *Gateway) snapshot(ctx context.Context, sess *session) (string, error) {
	var title string
	var links []link
	err := chromedp.Run(ctx,
		chromedp.Title(&title),
		chromedp.Evaluate(
			`Array.from(document.querySelectorAll('#bodyContent a[href*="/wiki/"]'))
				.filter(a => a.textContent.trim() && !a.getAttribute('href').includes(':'))
				.map(a => ({text: a.textContent.trim(), href: a.href}))`,
			&links,
		),
	)
	if err != nil {
		return "", err
	}

	start := sess.scrollOffset
	if start > len(links) {
		start = len(links)
	}
	end := start + linksPerPage
	if end > len(links) {
		end = len(links)
	}
	window := links[start:end]

	sess.refs = make(map[string]string, len(window))
	var b strings.Builder
	fmt.Fprintf(&b, "Page: %s\n", title)
	for i, l := range window {
		ref := fmt.Sprintf("@e%d", start+i+1)
		sess.refs[ref] = l.Href
		fmt.Fprintf(&b, "- %s %s\n", l.Text, ref)
	}
	if end < len(links) {
		fmt.Fprintf(&b, "(%d more links, use scroll down)\n", len(links)-end)
	}
	return b.String(), nil
}

func (g *Gateway) CloseSession(ctx context.Context, sessionID string) {
	g.mu.Lock()
	sess, ok := g.sessions[sessionID]
	delete(g.sessions, sessionID)
	g.mu.Unlock()
	if !ok {
		return
	}
	sess.cancelCtx()
	sess.cancelAlloc()
}
