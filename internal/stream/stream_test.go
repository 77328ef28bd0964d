package stream

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeFrameShape(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Encode(Event{Type: EventDone, Success: true}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "data: ") {
		t.Fatalf("frame missing data prefix: %q", out)
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Fatalf("frame missing terminator: %q", out)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	events := []Event{
		{Type: EventBrowser, Command: "agent-browser snapshot -i", Result: "- Brazil @e1"},
		{Type: EventStep, Step: &Step{StepNumber: 1, CurrentTitle: "Donald Trump", SelectedLink: "Brazil", Reason: "direct link", Target: "Brazil", CardID: "c1", Success: true}},
		{Type: EventDone, Success: true},
	}
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}

	dec := NewDecoder()
	got := dec.Feed(buf.Bytes())
	if len(got) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(got))
	}
	if got[1].Step == nil || got[1].Step.SelectedLink != "Brazil" {
		t.Fatalf("step payload lost: %+v", got[1])
	}
	if !got[2].Success {
		t.Fatalf("done flag lost: %+v", got[2])
	}
}

func TestDecodeSplitFrame(t *testing.T) {
	whole := "data: {\"type\":\"step\",\"step\":{\"step_number\":1,\"current_title\":\"Dinosaur\",\"selected_link\":\"Bird\",\"reason\":\"evolution\",\"success\":false}}\n\ndata: {\"type\":\"done\",\"success\":false}\n\n"

	ref := NewDecoder().Feed([]byte(whole))

	// Split inside the JSON payload of the first frame.
	dec := NewDecoder()
	var got []Event
	got = append(got, dec.Feed([]byte(whole[:40]))...)
	got = append(got, dec.Feed([]byte(whole[40:]))...)

	if len(got) != len(ref) {
		t.Fatalf("split decode yielded %d events, whole yielded %d", len(got), len(ref))
	}
	for i := range ref {
		if got[i].Type != ref[i].Type {
			t.Fatalf("event %d: type %q != %q", i, got[i].Type, ref[i].Type)
		}
	}
	if got[0].Step == nil || got[0].Step.SelectedLink != "Bird" {
		t.Fatalf("split decode mangled step: %+v", got[0])
	}
}

func TestDecodeDiscardsMalformed(t *testing.T) {
	dec := NewDecoder()
	input := "data: {not json}\n\ndata: {\"type\":\"done\",\"success\":true}\n\n"
	got := dec.Feed([]byte(input))
	if len(got) != 1 {
		t.Fatalf("expected malformed frame dropped, got %d events", len(got))
	}
	if got[0].Type != EventDone || !got[0].Success {
		t.Fatalf("surviving event wrong: %+v", got[0])
	}
}

func TestDecodeIgnoresNonDataLines(t *testing.T) {
	dec := NewDecoder()
	got := dec.Feed([]byte(": keepalive\n\ndata: {\"type\":\"error\",\"error\":\"boom\"}\n\n"))
	if len(got) != 1 || got[0].Error != "boom" {
		t.Fatalf("unexpected events: %+v", got)
	}
}
