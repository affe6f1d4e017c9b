// Package voice abstracts real-time speech-to-speech providers behind a
// single client interface and a normalized event stream. The bridge
// consumes these events without knowing which provider produced them.
package voice

// Event is the normalized provider event. The set of implementations is
// closed; consumers switch on the concrete type.
type Event interface {
	isEvent()
}

// ResponseStarted marks the beginning of an assistant turn.
type ResponseStarted struct{}

// AudioDelta carries a chunk of assistant speech as base64 G.711 mu-law,
// ready to forward to the telephony leg unchanged.
type AudioDelta struct {
	PayloadB64 string
}

// UserTranscript is the recognized text of caller speech.
type UserTranscript struct {
	Text string
}

// AssistantTranscript is the text of a completed assistant turn.
type AssistantTranscript struct {
	Text string
}

// ResponseDone marks the end of an assistant turn.
type ResponseDone struct{}

// ToolInvoked reports a completed tool call that the adapter did not
// handle internally.
type ToolInvoked struct {
	Name      string
	Arguments string
	CallID    string
}

// ErrorEvent carries a provider-reported error. The stream may continue
// after one.
type ErrorEvent struct {
	Message string
}

// EscalationRequested is emitted when the model invokes its
// escalate_to_human tool.
type EscalationRequested struct {
	Reason string
}

func (ResponseStarted) isEvent()     {}
func (AudioDelta) isEvent()          {}
func (UserTranscript) isEvent()      {}
func (AssistantTranscript) isEvent() {}
func (ResponseDone) isEvent()        {}
func (ToolInvoked) isEvent()         {}
func (ErrorEvent) isEvent()          {}
func (EscalationRequested) isEvent() {}
