// Package feed is the client side of the race protocol: it keeps the
// ordered card list, gates race starts on which card the viewer is
// looking at, consumes the run stream, and folds it into per-card state.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/mohammad-safakhou/wikirace/internal/cards"
	"github.com/mohammad-safakhou/wikirace/internal/poll"
	"github.com/mohammad-safakhou/wikirace/internal/stream"
)

// Phase is the card lifecycle. Transitions are one-directional:
// prediction -> running -> result.
type Phase string

const (
	PhasePrediction Phase = "prediction"
	PhaseRunning    Phase = "running"
	PhaseResult     Phase = "result"
)

const (
	// maxAgentActions bounds the recent-activity log per card.
	maxAgentActions = 20
	// prefetchThreshold is how close to the end of the feed the viewer
	// gets before more cards are requested.
	prefetchThreshold = 2
	defaultPageSize   = 5
)

// AgentAction is one entry of the recent-activity log.
type AgentAction struct {
	Command       string    `json:"command"`
	ResultPreview string    `json:"result_preview,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// RunResult is the finalized outcome of one race. PathTitles is the
// start title followed by each step's chosen link text.
type RunResult struct {
	CardID     string        `json:"card_id"`
	Success    bool          `json:"success"`
	Steps      []stream.Step `json:"steps"`
	PathTitles []string      `json:"path_titles"`
	TotalSteps int           `json:"total_steps"`
}

// CardState composes a card with everything the feed shows about it.
type CardState struct {
	Card         cards.Card    `json:"card"`
	Phase        Phase         `json:"phase"`
	Poll         poll.Poll     `json:"poll"`
	Run          *RunResult    `json:"run,omitempty"`
	CurrentStep  *stream.Step  `json:"current_step,omitempty"`
	SessionID    string        `json:"session_id,omitempty"`
	LiveViewURL  string        `json:"live_view_url,omitempty"`
	AgentActions []AgentAction `json:"agent_actions"`
}

// Controller owns the feed. All card state lives behind one mutex;
// each in-flight race is an independent goroutine whose only shared
// state is the card it updates.
type Controller struct {
	baseURL string
	client  *http.Client
	logger  *log.Logger

	mu          sync.Mutex
	cards       []*CardState
	byID        map[string]*CardState
	activeIndex int
	loading     bool

	races sync.WaitGroup
}

func NewController(baseURL string, client *http.Client) *Controller {
	if client == nil {
		client = &http.Client{}
	}
	return &Controller{
		baseURL: baseURL,
		client:  client,
		logger:  log.New(log.Writer(), "[FEED] ", log.LstdFlags),
		byID:    make(map[string]*CardState),
	}
}

// Wait blocks until every in-flight race has finished.
func (c *Controller) Wait() {
	c.races.Wait()
}

// FetchCards appends count fresh prediction-phase cards to the feed.
func (c *Controller) FetchCards(ctx context.Context, count int) error {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	if count <= 0 {
		count = defaultPageSize
	}

	u := c.baseURL + "/cards?count=" + strconv.Itoa(count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build cards request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch cards: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch cards: status %d", resp.StatusCode)
	}

	var payload struct {
		Cards []cards.Card `json:"cards"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode cards: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, card := range payload.Cards {
		state := &CardState{
			Card:         card,
			Phase:        PhasePrediction,
			Poll:         poll.Zero(card.CardID),
			AgentActions: []AgentAction{},
		}
		c.cards = append(c.cards, state)
		c.byID[card.CardID] = state
	}
	return nil
}

// Len reports how many cards the feed currently holds.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cards)
}

// Snapshot returns a copy of one card's state.
func (c *Controller) Snapshot(cardID string) (CardState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.byID[cardID]
	if !ok {
		return CardState{}, false
	}
	return copyState(state), true
}

// CardAt returns a copy of the card at the given feed position.
func (c *Controller) CardAt(index int) (CardState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.cards) {
		return CardState{}, false
	}
	return copyState(c.cards[index]), true
}

func copyState(s *CardState) CardState {
	out := *s
	out.AgentActions = append([]AgentAction(nil), s.AgentActions...)
	if s.Run != nil {
		run := *s.Run
		run.Steps = append([]stream.Step(nil), s.Run.Steps...)
		run.PathTitles = append([]string(nil), s.Run.PathTitles...)
		out.Run = &run
	}
	if s.CurrentStep != nil {
		step := *s.CurrentStep
		out.CurrentStep = &step
	}
	votes := make(map[poll.Option]int64, len(s.Poll.Votes))
	for opt, n := range s.Poll.Votes {
		votes[opt] = n
	}
	out.Poll.Votes = votes
	return out
}

// SetActiveIndex marks the card the viewer is looking at, starts its
// race if it has not run yet, and prefetches more cards when the viewer
// approaches the end of the feed.
func (c *Controller) SetActiveIndex(ctx context.Context, index int) {
	c.mu.Lock()
	if index < 0 || index >= len(c.cards) {
		c.mu.Unlock()
		return
	}
	c.activeIndex = index
	cardID := c.cards[index].Card.CardID
	needMore := index >= len(c.cards)-prefetchThreshold
	c.mu.Unlock()

	if needMore {
		if err := c.FetchCards(ctx, defaultPageSize); err != nil {
			c.logger.Printf("prefetch: %v", err)
		}
	}
	c.StartRace(ctx, cardID)
}

// Vote casts the viewer's single vote for a card. Repeat votes are
// no-ops: the prior choice is remembered client-side as UserVote and
// never re-sent. The local tally is updated optimistically and kept if
// the server call fails.
func (c *Controller) Vote(ctx context.Context, cardID string, option poll.Option) error {
	if !option.Valid() {
		return fmt.Errorf("unknown vote bucket %q", option)
	}

	c.mu.Lock()
	state, ok := c.byID[cardID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown card %s", cardID)
	}
	if state.Poll.UserVote != "" {
		c.mu.Unlock()
		return nil
	}
	state.Poll.UserVote = option
	state.Poll.Votes[option]++
	state.Poll.TotalVotes++
	c.mu.Unlock()

	body, _ := json.Marshal(map[string]string{"card_id": cardID, "vote": string(option)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/poll", bytes.NewReader(body))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Keep the optimistic tally.
		c.logger.Printf("vote %s: %v", cardID, err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Printf("vote %s: status %d", cardID, resp.StatusCode)
		return nil
	}

	var server poll.Poll
	if err := json.NewDecoder(resp.Body).Decode(&server); err != nil {
		return nil
	}
	server.UserVote = option

	c.mu.Lock()
	state.Poll = server
	c.mu.Unlock()
	return nil
}

// RefreshPoll replaces a card's tally with the server's, preserving the
// locally recorded user vote.
func (c *Controller) RefreshPoll(ctx context.Context, cardID string) error {
	u := c.baseURL + "/poll?card_id=" + url.QueryEscape(cardID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("poll %s: status %d", cardID, resp.StatusCode)
	}
	var server poll.Poll
	if err := json.NewDecoder(resp.Body).Decode(&server); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.byID[cardID]
	if !ok {
		return fmt.Errorf("unknown card %s", cardID)
	}
	server.UserVote = state.Poll.UserVote
	state.Poll = server
	return nil
}

// StartRace fires at most once per card, when it first becomes active.
func (c *Controller) StartRace(ctx context.Context, cardID string) {
	c.mu.Lock()
	state, ok := c.byID[cardID]
	if !ok || state.Phase != PhasePrediction {
		c.mu.Unlock()
		return
	}
	state.Phase = PhaseRunning
	card := state.Card
	c.mu.Unlock()

	c.races.Add(1)
	go func() {
		defer c.races.Done()
		c.runRace(ctx, card)
	}()
}

// failRace absorbs a start or stream failure into the result phase with
// an explicit failed framing; there is no intermediate error state.
func (c *Controller) failRace(cardID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.byID[cardID]
	if !ok {
		return
	}
	state.Phase = PhaseResult
	state.Run = &RunResult{
		CardID:     cardID,
		Success:    false,
		Steps:      []stream.Step{},
		PathTitles: []string{},
		TotalSteps: 0,
	}
}

func (c *Controller) runRace(ctx context.Context, card cards.Card) {
	cardID := card.CardID

	startBody, _ := json.Marshal(card)
	startReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/race/start", bytes.NewReader(startBody))
	if err != nil {
		c.failRace(cardID)
		return
	}
	startReq.Header.Set("Content-Type", "application/json")

	startResp, err := c.client.Do(startReq)
	if err != nil {
		c.logger.Printf("card %s: start failed: %v", cardID, err)
		c.failRace(cardID)
		return
	}
	if startResp.StatusCode != http.StatusOK {
		startResp.Body.Close()
		c.logger.Printf("card %s: start failed: status %d", cardID, startResp.StatusCode)
		c.failRace(cardID)
		return
	}

	var started struct {
		SessionID   string `json:"session_id"`
		LiveViewURL string `json:"live_view_url"`
	}
	err = json.NewDecoder(startResp.Body).Decode(&started)
	startResp.Body.Close()
	if err != nil {
		c.failRace(cardID)
		return
	}

	c.mu.Lock()
	if state, ok := c.byID[cardID]; ok {
		state.SessionID = started.SessionID
		state.LiveViewURL = started.LiveViewURL
	}
	c.mu.Unlock()

	runBody, _ := json.Marshal(map[string]any{
		"session_id":   started.SessionID,
		"start_title":  card.StartTitle,
		"target_title": card.TargetTitle,
		"max_steps":    card.MaxSteps,
		"card_id":      cardID,
	})
	runReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/race/run", bytes.NewReader(runBody))
	if err != nil {
		c.failRace(cardID)
		return
	}
	runReq.Header.Set("Content-Type", "application/json")

	runResp, err := c.client.Do(runReq)
	if err != nil {
		c.logger.Printf("card %s: run failed: %v", cardID, err)
		c.failRace(cardID)
		return
	}
	defer runResp.Body.Close()
	if runResp.StatusCode != http.StatusOK {
		c.logger.Printf("card %s: run failed: status %d", cardID, runResp.StatusCode)
		c.failRace(cardID)
		return
	}

	c.consumeStream(card, runResp.Body)
}

// consumeStream folds run events into card state as frames complete, so
// the viewer sees a live-growing path rather than a final reveal.
func (c *Controller) consumeStream(card cards.Card, body io.Reader) {
	cardID := card.CardID
	dec := stream.NewDecoder()
	var steps []stream.Step
	raceSuccess := false

	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				switch ev.Type {
				case stream.EventBrowser:
					c.applyBrowser(cardID, ev)

				case stream.EventStep:
					if ev.Step == nil {
						continue
					}
					steps = append(steps, *ev.Step)
					if ev.Step.Success {
						raceSuccess = true
					}
					c.applyStep(card, ev.Step, steps, raceSuccess)

				case stream.EventDone:
					raceSuccess = ev.Success

				case stream.EventError:
					c.logger.Printf("card %s: race error: %s", cardID, ev.Error)
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Printf("card %s: stream read: %v", cardID, err)
			}
			break
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.byID[cardID]
	if !ok {
		return
	}
	state.Phase = PhaseResult
	state.Run = &RunResult{
		CardID:     cardID,
		Success:    raceSuccess,
		Steps:      steps,
		PathTitles: pathTitles(card.StartTitle, steps),
		TotalSteps: len(steps),
	}
}

func (c *Controller) applyBrowser(cardID string, ev stream.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.byID[cardID]
	if !ok {
		return
	}
	state.AgentActions = append(state.AgentActions, AgentAction{
		Command:       ev.Command,
		ResultPreview: ev.Result,
		Timestamp:     time.Now(),
	})
	if len(state.AgentActions) > maxAgentActions {
		state.AgentActions = state.AgentActions[len(state.AgentActions)-maxAgentActions:]
	}
}

func (c *Controller) applyStep(card cards.Card, step *stream.Step, steps []stream.Step, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.byID[card.CardID]
	if !ok {
		return
	}
	current := *step
	state.CurrentStep = &current
	state.Run = &RunResult{
		CardID:     card.CardID,
		Success:    success,
		Steps:      append([]stream.Step(nil), steps...),
		PathTitles: pathTitles(card.StartTitle, steps),
		TotalSteps: len(steps),
	}
}

func pathTitles(startTitle string, steps []stream.Step) []string {
	titles := make([]string, 0, len(steps)+1)
	titles = append(titles, startTitle)
	for _, s := range steps {
		titles = append(titles, s.SelectedLink)
	}
	return titles
}
