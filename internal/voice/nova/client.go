// Package nova adapts Amazon Nova Sonic's bidirectional stream to the
// voice client interface. Nova speaks linear PCM (16kHz in, 24kHz out),
// so caller audio is transcoded from mu-law on the way in and assistant
// audio back to mu-law on the way out.
package nova

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/uuid"

	"github.com/lexvoice/voicegate/internal/audio"
	"github.com/lexvoice/voicegate/internal/voice"
)

const (
	defaultModelID = "amazon.nova-sonic-v1:0"
	defaultVoiceID = "olivia"

	inputSampleRate  = 16000
	outputSampleRate = 24000
	phoneSampleRate  = 8000
)

// Register installs the factory under the provider name "nova".
func Register() {
	voice.RegisterFactory("nova", func(cfg voice.Config) (voice.Client, error) {
		if cfg.Nova.Region == "" {
			return nil, fmt.Errorf("nova: region is required")
		}
		return New(cfg), nil
	})
}

// Client is one Nova Sonic session. One prompt is active at a time; a
// cancel ends the prompt and opens a fresh one.
type Client struct {
	cfg    voice.Config
	logger *slog.Logger

	stream  *bedrockruntime.InvokeModelWithBidirectionalStreamEventStream
	writeMu sync.Mutex

	promptMu         sync.Mutex
	promptName       string
	audioContentName string
	audioStarted     bool

	audioIn chan []byte

	events    chan voice.Event
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	// responseStarted tracks whether the current assistant turn has
	// been announced downstream.
	responseStarted atomic.Bool
}

var _ voice.Client = (*Client)(nil)

// New builds an unconnected client.
func New(cfg voice.Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.With("provider", "nova"),
		audioIn: make(chan []byte, 512),
		events:  make(chan voice.Event, 256),
		done:    make(chan struct{}),
	}
}

// Connect opens the bidirectional stream and runs the session
// handshake. Nova speaks first: the handshake ends with a synthetic
// greeting request so the caller hears a voice immediately.
func (c *Client) Connect(ctx context.Context) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.cfg.Nova.Region))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	brc := bedrockruntime.NewFromConfig(awsCfg)

	modelID := c.cfg.Nova.ModelID
	if modelID == "" {
		modelID = defaultModelID
	}
	out, err := brc.InvokeModelWithBidirectionalStream(ctx, &bedrockruntime.InvokeModelWithBidirectionalStreamInput{
		ModelId: aws.String(modelID),
	})
	if err != nil {
		return fmt.Errorf("open bidirectional stream: %w", err)
	}
	c.stream = out.GetStream()

	if err := c.send(ctx, map[string]any{
		"sessionStart": map[string]any{
			"inferenceConfiguration": map[string]any{
				"maxTokens":   1024,
				"topP":        0.9,
				"temperature": 0.7,
			},
		},
	}); err != nil {
		return fmt.Errorf("session start: %w", err)
	}

	if err := c.startPrompt(ctx); err != nil {
		return err
	}

	go c.readLoop()
	go c.audioSender()

	return c.sendTextContent(ctx, "USER", "Please greet the caller briefly and offer to help.")
}

// startPrompt opens a fresh prompt and replays the system instructions.
// Called at connect and after each cancel.
func (c *Client) startPrompt(ctx context.Context) error {
	c.promptMu.Lock()
	c.promptName = uuid.New().String()
	c.audioContentName = uuid.New().String()
	c.audioStarted = false
	prompt := c.promptName
	c.promptMu.Unlock()

	voiceID := c.cfg.Nova.VoiceID
	if voiceID == "" {
		voiceID = defaultVoiceID
	}

	promptStart := map[string]any{
		"promptName": prompt,
		"textOutputConfiguration": map[string]any{
			"mediaType": "text/plain",
		},
		"audioOutputConfiguration": map[string]any{
			"mediaType":       "audio/lpcm",
			"sampleRateHertz": outputSampleRate,
			"sampleSizeBits":  16,
			"channelCount":    1,
			"voiceId":         voiceID,
			"encoding":        "base64",
			"audioType":       "SPEECH",
		},
		"toolUseOutputConfiguration": map[string]any{
			"mediaType": "application/json",
		},
	}
	if c.cfg.Tools != nil {
		var specs []map[string]any
		for _, spec := range c.cfg.Tools.Specs() {
			specs = append(specs, map[string]any{
				"toolSpec": map[string]any{
					"name":        spec.Name,
					"description": spec.Description,
					// Nova wants the JSON schema as a string.
					"inputSchema": map[string]any{"json": string(spec.InputSchema)},
				},
			})
		}
		promptStart["toolConfiguration"] = map[string]any{"tools": specs}
	}
	if err := c.send(ctx, map[string]any{"promptStart": promptStart}); err != nil {
		return fmt.Errorf("prompt start: %w", err)
	}

	if c.cfg.SystemPrompt != "" {
		if err := c.sendTextContent(ctx, "SYSTEM", c.cfg.SystemPrompt); err != nil {
			return fmt.Errorf("system prompt: %w", err)
		}
	}
	return nil
}

// sendTextContent writes one complete text content block.
func (c *Client) sendTextContent(ctx context.Context, role, text string) error {
	c.promptMu.Lock()
	prompt := c.promptName
	c.promptMu.Unlock()
	contentName := uuid.New().String()

	if err := c.send(ctx, map[string]any{
		"contentStart": map[string]any{
			"promptName":  prompt,
			"contentName": contentName,
			"type":        "TEXT",
			"interactive": true,
			"role":        role,
			"textInputConfiguration": map[string]any{
				"mediaType": "text/plain",
			},
		},
	}); err != nil {
		return err
	}
	if err := c.send(ctx, map[string]any{
		"textInput": map[string]any{
			"promptName":  prompt,
			"contentName": contentName,
			"content":     text,
		},
	}); err != nil {
		return err
	}
	return c.send(ctx, map[string]any{
		"contentEnd": map[string]any{
			"promptName":  prompt,
			"contentName": contentName,
		},
	})
}

// audioSender drains queued caller audio into the stream, opening the
// audio content block lazily on the first chunk so the block always
// belongs to the current prompt.
func (c *Client) audioSender() {
	ctx := context.Background()
	for {
		select {
		case <-c.done:
			return
		case pcm := <-c.audioIn:
			c.promptMu.Lock()
			prompt := c.promptName
			contentName := c.audioContentName
			needStart := !c.audioStarted
			c.audioStarted = true
			c.promptMu.Unlock()

			if needStart {
				if err := c.send(ctx, map[string]any{
					"contentStart": map[string]any{
						"promptName":  prompt,
						"contentName": contentName,
						"type":        "AUDIO",
						"interactive": true,
						"role":        "USER",
						"audioInputConfiguration": map[string]any{
							"mediaType":       "audio/lpcm",
							"sampleRateHertz": inputSampleRate,
							"sampleSizeBits":  16,
							"channelCount":    1,
							"audioType":       "SPEECH",
							"encoding":        "base64",
						},
					},
				}); err != nil {
					if !c.closed.Load() {
						c.logger.Warn("audio content start failed", "error", err)
					}
					return
				}
			}

			if err := c.send(ctx, map[string]any{
				"audioInput": map[string]any{
					"promptName":  prompt,
					"contentName": contentName,
					"content":     base64.StdEncoding.EncodeToString(pcm),
				},
			}); err != nil {
				if !c.closed.Load() {
					c.logger.Warn("audio input failed", "error", err)
				}
				return
			}
		}
	}
}

// novaEvent is the superset of output event shapes read off the stream.
type novaEvent struct {
	Event struct {
		ContentStart *struct {
			Role string `json:"role"`
			Type string `json:"type"`
		} `json:"contentStart"`
		TextOutput *struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"textOutput"`
		AudioOutput *struct {
			Content string `json:"content"`
		} `json:"audioOutput"`
		ToolUse *struct {
			ToolName  string `json:"toolName"`
			ToolUseID string `json:"toolUseId"`
			Content   string `json:"content"`
		} `json:"toolUse"`
		ContentEnd *struct {
			Type       string `json:"type"`
			StopReason string `json:"stopReason"`
		} `json:"contentEnd"`
	} `json:"event"`
}

func (c *Client) readLoop() {
	defer close(c.events)
	for raw := range c.stream.Events() {
		chunk, ok := raw.(*types.InvokeModelWithBidirectionalStreamOutputMemberChunk)
		if !ok || chunk.Value.Bytes == nil {
			continue
		}
		var ev novaEvent
		if err := json.Unmarshal(chunk.Value.Bytes, &ev); err != nil {
			c.logger.Warn("unparseable stream event", "error", err)
			continue
		}
		c.dispatch(ev)
	}
	if err := c.stream.Err(); err != nil && !c.closed.Load() {
		c.emit(voice.ErrorEvent{Message: err.Error()})
	}
}

func (c *Client) dispatch(ev novaEvent) {
	e := ev.Event
	switch {
	case e.AudioOutput != nil:
		if c.responseStarted.CompareAndSwap(false, true) {
			c.emit(voice.ResponseStarted{})
		}
		payload, err := c.transcodeOut(e.AudioOutput.Content)
		if err != nil {
			c.logger.Warn("audio transcode failed", "error", err)
			return
		}
		c.emit(voice.AudioDelta{PayloadB64: payload})

	case e.TextOutput != nil:
		switch e.TextOutput.Role {
		case "USER":
			c.emit(voice.UserTranscript{Text: e.TextOutput.Content})
		case "ASSISTANT":
			c.emit(voice.AssistantTranscript{Text: e.TextOutput.Content})
		}

	case e.ToolUse != nil:
		c.handleToolUse(e.ToolUse.ToolName, e.ToolUse.ToolUseID, e.ToolUse.Content)

	case e.ContentEnd != nil:
		if e.ContentEnd.Type == "AUDIO" && c.responseStarted.CompareAndSwap(true, false) {
			c.emit(voice.ResponseDone{})
		}
	}
}

func (c *Client) handleToolUse(name, toolUseID, args string) {
	if c.cfg.Tools == nil {
		c.emit(voice.ToolInvoked{Name: name, Arguments: args, CallID: toolUseID})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := c.cfg.Tools.Execute(ctx, name, args)
	if err != nil {
		c.logger.Warn("tool execution failed", "tool", name, "error", err)
		result.Output = "The tool is unavailable right now."
	}
	if err := c.SendToolResult(ctx, toolUseID, result.Output); err != nil {
		c.logger.Warn("tool result delivery failed", "tool", name, "error", err)
	}
	if result.TriggersEscalation {
		c.emit(voice.EscalationRequested{Reason: "agent_decision"})
	}
}

// transcodeOut converts one base64 24kHz PCM chunk to base64 mu-law.
func (c *Client) transcodeOut(b64 string) (string, error) {
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode audio output: %w", err)
	}
	narrow := audio.Resample(pcm, outputSampleRate, phoneSampleRate)
	return base64.StdEncoding.EncodeToString(audio.PCMToMulaw(narrow)), nil
}

func (c *Client) emit(ev voice.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// SendAudioBase64 transcodes one mu-law frame to 16kHz PCM and queues
// it. The queue drops the oldest frame under pressure; stale audio is
// worse than a glitch.
func (c *Client) SendAudioBase64(ctx context.Context, payload string) error {
	if c.closed.Load() {
		return fmt.Errorf("nova: session closed")
	}
	mulaw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("decode audio payload: %w", err)
	}
	pcm := audio.Resample(audio.MulawToPCM(mulaw), phoneSampleRate, inputSampleRate)

	select {
	case c.audioIn <- pcm:
	default:
		select {
		case <-c.audioIn:
		default:
		}
		select {
		case c.audioIn <- pcm:
		default:
		}
	}
	return nil
}

// SendUserMessage injects a synthetic user turn.
func (c *Client) SendUserMessage(ctx context.Context, text string) error {
	return c.sendTextContent(ctx, "USER", text)
}

// CancelResponse ends the active prompt and opens a fresh one. Nova has
// no in-band cancel; abandoning the prompt is the documented pattern.
func (c *Client) CancelResponse(ctx context.Context) error {
	c.promptMu.Lock()
	prompt := c.promptName
	c.promptMu.Unlock()

	c.responseStarted.Store(false)
	if err := c.send(ctx, map[string]any{
		"promptEnd": map[string]any{"promptName": prompt},
	}); err != nil {
		return fmt.Errorf("prompt end: %w", err)
	}
	return c.startPrompt(ctx)
}

// SendToolResult returns a tool outcome for a toolUse event.
func (c *Client) SendToolResult(ctx context.Context, callID, result string) error {
	c.promptMu.Lock()
	prompt := c.promptName
	c.promptMu.Unlock()
	contentName := uuid.New().String()

	if err := c.send(ctx, map[string]any{
		"contentStart": map[string]any{
			"promptName":  prompt,
			"contentName": contentName,
			"type":        "TOOL",
			"interactive": false,
			"role":        "TOOL",
			"toolResultInputConfiguration": map[string]any{
				"toolUseId": callID,
				"type":      "TEXT",
				"textInputConfiguration": map[string]any{
					"mediaType": "text/plain",
				},
			},
		},
	}); err != nil {
		return err
	}

	content, err := json.Marshal(map[string]string{"result": result})
	if err != nil {
		return fmt.Errorf("marshal tool result: %w", err)
	}
	if err := c.send(ctx, map[string]any{
		"toolResult": map[string]any{
			"promptName":  prompt,
			"contentName": contentName,
			"content":     string(content),
		},
	}); err != nil {
		return err
	}
	return c.send(ctx, map[string]any{
		"contentEnd": map[string]any{
			"promptName":  prompt,
			"contentName": contentName,
		},
	})
}

// Events returns the normalized event stream.
func (c *Client) Events() <-chan voice.Event {
	return c.events
}

// SupportsTools reports whether tool schemas were attached.
func (c *Client) SupportsTools() bool {
	return c.cfg.Tools != nil
}

// Close winds the session down. The teardown events are best effort;
// the stream may already be gone.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		if c.stream != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			c.promptMu.Lock()
			prompt := c.promptName
			contentName := c.audioContentName
			started := c.audioStarted
			c.promptMu.Unlock()

			if started {
				c.send(ctx, map[string]any{
					"contentEnd": map[string]any{
						"promptName":  prompt,
						"contentName": contentName,
					},
				})
			}
			c.send(ctx, map[string]any{
				"promptEnd": map[string]any{"promptName": prompt},
			})
			c.send(ctx, map[string]any{"sessionEnd": map[string]any{}})
			c.stream.Close()
		}
	})
	return nil
}

func (c *Client) send(ctx context.Context, event map[string]any) error {
	if c.stream == nil {
		return fmt.Errorf("nova: not connected")
	}
	data, err := json.Marshal(map[string]any{"event": event})
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.stream.Send(ctx, &types.InvokeModelWithBidirectionalStreamInputMemberChunk{
		Value: types.BidirectionalInputPayloadPart{Bytes: data},
	}); err != nil {
		return fmt.Errorf("send stream event: %w", err)
	}
	return nil
}
