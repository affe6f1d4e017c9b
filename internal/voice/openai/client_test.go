package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexvoice/voicegate/internal/voice"
)

// fakeRealtime is an in-process stand-in for the realtime endpoint. It
// records inbound events and greets the first response.create with a
// short scripted turn.
type fakeRealtime struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	received []map[string]any
	greeted  bool

	// script is sent instead of the default greeting when set.
	script []map[string]any
}

func (f *fakeRealtime) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		f.mu.Lock()
		f.received = append(f.received, msg)
		firstResponse := msg["type"] == "response.create" && !f.greeted
		if firstResponse {
			f.greeted = true
		}
		script := f.script
		f.mu.Unlock()

		if firstResponse {
			if script == nil {
				script = []map[string]any{
					{"type": "response.created"},
					{"type": "response.audio.delta", "delta": "AAAA"},
					{"type": "response.audio_transcript.done", "transcript": "hello there"},
					{"type": "response.done"},
				}
			}
			for _, ev := range script {
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}
	}
}

func (f *fakeRealtime) eventsOfType(typ string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, m := range f.received {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func newFakeSession(t *testing.T, cfg voice.Config) (*Client, *fakeRealtime) {
	t.Helper()
	fake := &fakeRealtime{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)

	cfg.OpenAI.BaseURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "?model=test"
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = "sk-test"
	}
	c := New(cfg)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, fake
}

func collect(t *testing.T, ch <-chan voice.Event, n int) []voice.Event {
	t.Helper()
	var out []voice.Event
	deadline := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("events closed after %d of %d events", len(out), n)
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestConnectNegotiatesMulawSession(t *testing.T) {
	_, fake := newFakeSession(t, voice.Config{SystemPrompt: "Be brief."})

	// Wait for the handshake to land.
	deadline := time.Now().Add(2 * time.Second)
	var updates []map[string]any
	for time.Now().Before(deadline) {
		if updates = fake.eventsOfType("session.update"); len(updates) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(updates) != 1 {
		t.Fatalf("got %d session.update events", len(updates))
	}
	session := updates[0]["session"].(map[string]any)
	if session["input_audio_format"] != "g711_ulaw" || session["output_audio_format"] != "g711_ulaw" {
		t.Errorf("session formats = %v / %v", session["input_audio_format"], session["output_audio_format"])
	}
	if session["instructions"] != "Be brief." {
		t.Errorf("instructions = %v", session["instructions"])
	}
}

func TestGreetingTurnIsNormalized(t *testing.T) {
	c, _ := newFakeSession(t, voice.Config{})

	events := collect(t, c.Events(), 4)
	if _, ok := events[0].(voice.ResponseStarted); !ok {
		t.Errorf("event 0 = %T, want ResponseStarted", events[0])
	}
	if delta, ok := events[1].(voice.AudioDelta); !ok || delta.PayloadB64 != "AAAA" {
		t.Errorf("event 1 = %#v", events[1])
	}
	if tr, ok := events[2].(voice.AssistantTranscript); !ok || tr.Text != "hello there" {
		t.Errorf("event 2 = %#v", events[2])
	}
	if _, ok := events[3].(voice.ResponseDone); !ok {
		t.Errorf("event 3 = %T, want ResponseDone", events[3])
	}
}

func TestSendAudioAndCancel(t *testing.T) {
	c, fake := newFakeSession(t, voice.Config{})
	ctx := context.Background()

	if err := c.SendAudioBase64(ctx, "dGVzdA=="); err != nil {
		t.Fatalf("SendAudioBase64: %v", err)
	}
	if err := c.CancelResponse(ctx); err != nil {
		t.Fatalf("CancelResponse: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(fake.eventsOfType("input_audio_buffer.append")) > 0 &&
			len(fake.eventsOfType("response.cancel")) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("audio append or cancel never reached the server")
}

type escalatingRunner struct{}

func (escalatingRunner) Specs() []voice.ToolSpec {
	return []voice.ToolSpec{{Name: "escalate_to_human", InputSchema: json.RawMessage(`{}`)}}
}

func (escalatingRunner) Execute(context.Context, string, string) (voice.ToolResult, error) {
	return voice.ToolResult{Output: "Please hold.", TriggersEscalation: true}, nil
}

func TestToolCallTriggersEscalation(t *testing.T) {
	fakeCfg := voice.Config{Tools: escalatingRunner{}}
	fake := &fakeRealtime{script: []map[string]any{
		{"type": "response.created"},
		{"type": "response.function_call_arguments.done",
			"name": "escalate_to_human", "arguments": "{}", "call_id": "call_1"},
	}}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)

	fakeCfg.OpenAI.BaseURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "?model=test"
	fakeCfg.OpenAI.APIKey = "sk-test"
	c := New(fakeCfg)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	events := collect(t, c.Events(), 2)
	if _, ok := events[1].(voice.EscalationRequested); !ok {
		t.Fatalf("event 1 = %T, want EscalationRequested", events[1])
	}

	// The tool result goes back as a function_call_output item.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, m := range fake.eventsOfType("conversation.item.create") {
			if item, ok := m["item"].(map[string]any); ok && item["type"] == "function_call_output" {
				if item["call_id"] != "call_1" {
					t.Errorf("call_id = %v", item["call_id"])
				}
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("function_call_output never reached the server")
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _ := newFakeSession(t, voice.Config{})

	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// The event stream drains and closes.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed")
		}
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	c, _ := newFakeSession(t, voice.Config{})
	c.Close()
	if err := c.SendAudioBase64(context.Background(), "AAAA"); err == nil {
		t.Error("expected error writing after Close")
	}
}
