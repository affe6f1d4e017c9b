// Package openai adapts the OpenAI Realtime API to the voice client
// interface. Audio passes through untouched; the session is negotiated
// as G.711 mu-law on both legs so frames from the phone network can be
// forwarded as-is.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexvoice/voicegate/internal/voice"
)

const defaultBaseURL = "wss://api.openai.com/v1/realtime"

const defaultModel = "gpt-4o-realtime-preview-2024-12-17"

// Register installs the factory under the provider name "openai".
func Register() {
	voice.RegisterFactory("openai", func(cfg voice.Config) (voice.Client, error) {
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai: api key is required")
		}
		return New(cfg), nil
	})
}

// Client is one realtime session.
type Client struct {
	cfg    voice.Config
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	events    chan voice.Event
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ voice.Client = (*Client)(nil)

// New builds an unconnected client.
func New(cfg voice.Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With("provider", "openai"),
		events: make(chan voice.Event, 256),
		done:   make(chan struct{}),
	}
}

// Connect dials the realtime endpoint, configures the session, and
// requests the opening greeting.
func (c *Client) Connect(ctx context.Context) error {
	base := c.cfg.OpenAI.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	model := c.cfg.OpenAI.Model
	if model == "" {
		model = defaultModel
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.OpenAI.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	url := base
	if !strings.Contains(url, "model=") {
		url += "?model=" + model
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial realtime api: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial realtime api: %w", err)
	}
	c.conn = conn

	if err := c.sendSessionUpdate(); err != nil {
		conn.Close()
		return err
	}

	go c.readLoop()

	// Ask for the greeting so the assistant speaks first.
	if err := c.writeJSON(map[string]any{"type": "response.create"}); err != nil {
		return fmt.Errorf("request greeting: %w", err)
	}
	return nil
}

func (c *Client) sendSessionUpdate() error {
	session := map[string]any{
		"modalities":          []string{"text", "audio"},
		"instructions":        c.cfg.SystemPrompt,
		"voice":               c.cfg.OpenAI.Voice,
		"input_audio_format":  "g711_ulaw",
		"output_audio_format": "g711_ulaw",
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
		"turn_detection": map[string]any{
			"type": "server_vad",
		},
	}
	if c.cfg.Tools != nil {
		var tools []map[string]any
		for _, spec := range c.cfg.Tools.Specs() {
			tools = append(tools, map[string]any{
				"type":        "function",
				"name":        spec.Name,
				"description": spec.Description,
				"parameters":  json.RawMessage(spec.InputSchema),
			})
		}
		session["tools"] = tools
		session["tool_choice"] = "auto"
	}
	if err := c.writeJSON(map[string]any{"type": "session.update", "session": session}); err != nil {
		return fmt.Errorf("configure session: %w", err)
	}
	return nil
}

// serverEvent is the superset of fields read off the wire.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	CallID     string `json:"call_id"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("realtime socket closed", "error", err)
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("unparseable realtime event", "error", err)
			continue
		}

		switch ev.Type {
		case "response.created":
			c.emit(voice.ResponseStarted{})
		case "response.audio.delta":
			c.emit(voice.AudioDelta{PayloadB64: ev.Delta})
		case "conversation.item.input_audio_transcription.completed":
			c.emit(voice.UserTranscript{Text: ev.Transcript})
		case "response.audio_transcript.done":
			c.emit(voice.AssistantTranscript{Text: ev.Transcript})
		case "response.done":
			c.emit(voice.ResponseDone{})
		case "response.function_call_arguments.done":
			c.handleToolCall(ev)
		case "error":
			msg := "unknown error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			c.emit(voice.ErrorEvent{Message: msg})
		}
	}
}

func (c *Client) handleToolCall(ev serverEvent) {
	if c.cfg.Tools == nil {
		c.emit(voice.ToolInvoked{Name: ev.Name, Arguments: ev.Arguments, CallID: ev.CallID})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := c.cfg.Tools.Execute(ctx, ev.Name, ev.Arguments)
	if err != nil {
		c.logger.Warn("tool execution failed", "tool", ev.Name, "error", err)
		result.Output = "The tool is unavailable right now."
	}
	if err := c.SendToolResult(ctx, ev.CallID, result.Output); err != nil {
		c.logger.Warn("tool result delivery failed", "tool", ev.Name, "error", err)
	}
	if result.TriggersEscalation {
		c.emit(voice.EscalationRequested{Reason: "agent_decision"})
	}
}

func (c *Client) emit(ev voice.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// SendAudioBase64 appends caller audio to the input buffer. The payload
// is already base64 mu-law, exactly what the session expects.
func (c *Client) SendAudioBase64(ctx context.Context, payload string) error {
	return c.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": payload,
	})
}

// SendUserMessage injects a text turn and asks for a spoken response.
func (c *Client) SendUserMessage(ctx context.Context, text string) error {
	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
	if err := c.writeJSON(item); err != nil {
		return err
	}
	return c.writeJSON(map[string]any{"type": "response.create"})
}

// CancelResponse aborts the in-flight assistant turn, if any.
func (c *Client) CancelResponse(ctx context.Context) error {
	return c.writeJSON(map[string]any{"type": "response.cancel"})
}

// SendToolResult returns a function call output and requests the
// follow-up turn.
func (c *Client) SendToolResult(ctx context.Context, callID, result string) error {
	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  result,
		},
	}
	if err := c.writeJSON(item); err != nil {
		return err
	}
	return c.writeJSON(map[string]any{"type": "response.create"})
}

// Events returns the normalized event stream.
func (c *Client) Events() <-chan voice.Event {
	return c.events
}

// SupportsTools reports whether tool schemas were attached.
func (c *Client) SupportsTools() bool {
	return c.cfg.Tools != nil
}

// Close shuts the session down. Safe to call repeatedly and
// concurrently with the read loop.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		if c.conn != nil {
			deadline := time.Now().Add(time.Second)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			c.writeMu.Lock()
			c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			c.writeMu.Unlock()
			c.conn.Close()
		}
	})
	return nil
}

func (c *Client) writeJSON(v any) error {
	if c.closed.Load() {
		return fmt.Errorf("openai: session closed")
	}
	if c.conn == nil {
		return fmt.Errorf("openai: not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write realtime event: %w", err)
	}
	return nil
}
