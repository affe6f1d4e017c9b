package voice

import (
	"context"
	"encoding/json"
)

// Client is a live speech session with one provider. Implementations own
// a background receive loop that pushes normalized events; the Events
// channel is closed when that loop exits, whether by Close or by a
// provider-side failure.
type Client interface {
	// Connect dials the provider and completes the session handshake,
	// including the initial greeting request.
	Connect(ctx context.Context) error

	// SendAudioBase64 forwards one base64-encoded mu-law frame of caller
	// audio. Implementations transcode as their provider requires.
	SendAudioBase64(ctx context.Context, payload string) error

	// SendUserMessage injects a synthetic user turn and requests a
	// response to it.
	SendUserMessage(ctx context.Context, text string) error

	// CancelResponse aborts any in-flight assistant turn.
	CancelResponse(ctx context.Context) error

	// SendToolResult returns a tool outcome for the given provider call
	// ID and requests the follow-up response.
	SendToolResult(ctx context.Context, callID, result string) error

	// Events returns the normalized event stream.
	Events() <-chan Event

	// SupportsTools reports whether the session was set up with tools.
	SupportsTools() bool

	// Close tears the session down. Safe to call more than once.
	Close() error
}

// ToolSpec is a provider-neutral tool definition. Each adapter renders
// it into its own wire format.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolRunner executes tool calls on behalf of an adapter.
type ToolRunner interface {
	Specs() []ToolSpec
	Execute(ctx context.Context, name, argumentsJSON string) (ToolResult, error)
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Output             string
	TriggersEscalation bool
}
