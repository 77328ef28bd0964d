// Package stream implements the race progress wire protocol: UTF-8 text
// frames of the form "data: <JSON>\n\n" carrying browser, step, done and
// error events from the agent driver to the feed client.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// EventType enumerates the four frame shapes.
type EventType string

const (
	EventBrowser EventType = "browser"
	EventStep    EventType = "step"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Step is one navigation record reported by the agent. Step numbers are
// 1-based and monotonically increasing within a run.
type Step struct {
	StepNumber   int    `json:"step_number"`
	CurrentTitle string `json:"current_title"`
	SelectedLink string `json:"selected_link"`
	Reason       string `json:"reason"`
	Success      bool   `json:"success"`
	Target       string `json:"target"`
	CardID       string `json:"card_id"`
}

// Event is one frame payload. Fields are populated according to Type.
type Event struct {
	Type    EventType `json:"type"`
	Command string    `json:"command,omitempty"`
	Result  string    `json:"result,omitempty"`
	Step    *Step     `json:"step,omitempty"`
	Success bool      `json:"success,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Encoder writes events as SSE frames. If the underlying writer supports
// http.Flusher each frame is flushed immediately so the client sees
// progress as it happens.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one frame. A write failure is returned but callers are
// expected to keep going: a broken channel must never skip cleanup.
func (e *Encoder) Encode(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if f, ok := e.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Decoder re-assembles frames from arbitrary read boundaries. Partial
// input is buffered until the closing blank line arrives; malformed JSON
// payloads are discarded silently rather than aborting the stream.
type Decoder struct {
	buf bytes.Buffer
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends raw bytes and returns every event completed by them, in
// arrival order.
func (d *Decoder) Feed(p []byte) []Event {
	d.buf.Write(p)

	var events []Event
	for {
		raw := d.buf.Bytes()
		idx := bytes.Index(raw, []byte("\n\n"))
		if idx < 0 {
			break
		}
		frame := string(raw[:idx])
		d.buf.Next(idx + 2)

		ev, ok := parseFrame(frame)
		if ok {
			events = append(events, ev)
		}
	}
	return events
}

func parseFrame(frame string) (Event, bool) {
	for _, line := range strings.Split(frame, "\n") {
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(line[5:])), &ev); err != nil {
			return Event{}, false
		}
		return ev, true
	}
	return Event{}, false
}
