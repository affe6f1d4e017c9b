// Package twilio holds the Media Streams wire format: the JSON frames
// Twilio sends over the stream WebSocket and the envelopes sent back.
package twilio

import (
	"encoding/json"
	"fmt"
)

// Event identifies a frame type. Unrecognized types map to EventUnknown
// so protocol additions never break a live call.
type Event string

const (
	EventConnected Event = "connected"
	EventStart     Event = "start"
	EventMedia     Event = "media"
	EventStop      Event = "stop"
	EventMark      Event = "mark"
	EventDTMF      Event = "dtmf"
	EventUnknown   Event = "unknown"
)

// StartPayload is the call metadata delivered once per stream.
type StartPayload struct {
	AccountSID       string            `json:"accountSid"`
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

// CallerPhone returns the caller's number passed through the stream's
// custom parameters, or "" when withheld.
func (p *StartPayload) CallerPhone() string {
	if p == nil {
		return ""
	}
	return p.CustomParameters["From"]
}

// MediaPayload carries one frame of base64 mu-law audio.
type MediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

// MarkPayload acknowledges a mark previously sent outbound.
type MarkPayload struct {
	Name string `json:"name"`
}

// DTMFPayload reports a keypress on the call.
type DTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// Message is one parsed inbound frame. Exactly the field matching Event
// is populated.
type Message struct {
	Event     Event
	StreamSID string
	Start     *StartPayload
	Media     *MediaPayload
	Mark      *MarkPayload
	DTMF      *DTMFPayload
}

type wireMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Start     *StartPayload `json:"start"`
	Media     *MediaPayload `json:"media"`
	Mark      *MarkPayload  `json:"mark"`
	DTMF      *DTMFPayload  `json:"dtmf"`
}

// ParseMessage decodes one inbound frame. Frames with an unrecognized
// event type parse successfully as EventUnknown.
func ParseMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("parse media stream frame: %w", err)
	}

	msg := Message{StreamSID: w.StreamSID}
	switch Event(w.Event) {
	case EventConnected:
		msg.Event = EventConnected
	case EventStart:
		if w.Start == nil {
			return Message{}, fmt.Errorf("start frame missing start payload")
		}
		msg.Event = EventStart
		msg.Start = w.Start
		if msg.StreamSID == "" {
			msg.StreamSID = w.Start.StreamSID
		}
	case EventMedia:
		if w.Media == nil {
			return Message{}, fmt.Errorf("media frame missing media payload")
		}
		msg.Event = EventMedia
		msg.Media = w.Media
	case EventStop:
		msg.Event = EventStop
	case EventMark:
		msg.Event = EventMark
		msg.Mark = w.Mark
	case EventDTMF:
		msg.Event = EventDTMF
		msg.DTMF = w.DTMF
	default:
		msg.Event = EventUnknown
	}
	return msg, nil
}

type outboundMedia struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// MediaEnvelope builds an outbound audio frame.
func MediaEnvelope(streamSID, payloadB64 string) ([]byte, error) {
	env := outboundMedia{Event: "media", StreamSID: streamSID}
	env.Media.Payload = payloadB64
	return json.Marshal(env)
}

type outboundMark struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid"`
	Mark      MarkPayload `json:"mark"`
}

// MarkEnvelope builds a mark frame; Twilio echoes it back once the
// audio queued before it has played out.
func MarkEnvelope(streamSID, name string) ([]byte, error) {
	return json.Marshal(outboundMark{Event: "mark", StreamSID: streamSID, Mark: MarkPayload{Name: name}})
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// ClearEnvelope builds a clear frame, flushing audio Twilio has
// buffered but not yet played.
func ClearEnvelope(streamSID string) ([]byte, error) {
	return json.Marshal(outboundClear{Event: "clear", StreamSID: streamSID})
}
