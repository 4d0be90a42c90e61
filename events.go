package rtvoice

import (
	"encoding/json"
	"errors"
)

// Control message types sent by the client over the data channel.
const (
	TypeUserCue        = "user.cue"
	TypeResponseCreate = "response.create"
)

// Inbound event types the client pays attention to. Everything else is logged only.
const (
	TypeError                        = "error"
	TypeSessionCreated               = "session.created"
	TypeResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	TypeResponseAudioTranscriptDone  = "response.audio_transcript.done"
)

// Fixed cue texts bound to the two cue controls.
const (
	CueShortVersion = "Short version"
	CueSTARVersion  = "STAR version"
)

// ControlMessage is any message the client may send over the control channel.
type ControlMessage interface {
	MessageType() string
}

// UserCue asks the model to reshape its output, e.g. "Short version".
type UserCue struct {
	Type string `json:"type"` // Always "user.cue"
	Text string `json:"text"` // Fixed cue text
}

// MessageType implements ControlMessage.
func (UserCue) MessageType() string { return TypeUserCue }

// NewUserCue builds a user.cue message.
func NewUserCue(text string) UserCue {
	return UserCue{Type: TypeUserCue, Text: text}
}

// ResponseCreate requests a model response using what it has heard so far.
type ResponseCreate struct {
	Type     string          `json:"type"`     // Always "response.create"
	Response ResponseOptions `json:"response"` // Per-response options
}

// MessageType implements ControlMessage.
func (ResponseCreate) MessageType() string { return TypeResponseCreate }

// NewSpokenResponse builds the response.create sent when push-to-talk is released.
func NewSpokenResponse() ResponseCreate {
	return ResponseCreate{
		Type: TypeResponseCreate,
		Response: ResponseOptions{
			Modalities:   []string{"audio"},
			Instructions: "",
		},
	}
}

// MarshalControlMessage validates and encodes a control message.
func MarshalControlMessage(m ControlMessage) ([]byte, error) {
	switch msg := m.(type) {
	case UserCue:
		if msg.Text == "" {
			return nil, NewSendError(TypeUserCue, errors.New("cue text cannot be empty"))
		}
	case ResponseCreate:
		if err := ValidateResponseOptions(msg.Response); err != nil {
			return nil, NewSendError(TypeResponseCreate, err)
		}
	case nil:
		return nil, NewSendError("unknown", errors.New("message cannot be nil"))
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, NewSendError(m.MessageType(), err)
	}
	return b, nil
}

// InboundMessage is one payload received on the control channel.
// Malformed payloads keep only Raw.
type InboundMessage struct {
	Type   string                 // Value of the "type" field, if any
	Raw    []byte                 // Payload as received
	Parsed bool                   // True when Raw is a JSON object
	Fields map[string]interface{} // Decoded object when Parsed
}

// ParseInboundMessage decodes a control channel payload. Malformed payloads are
// not fatal: the returned message has Parsed=false and carries the raw text,
// and the error describes why parsing failed.
func ParseInboundMessage(data []byte) (InboundMessage, error) {
	msg := InboundMessage{Raw: data}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return msg, NewEventError("", data, err)
	}
	if fields == nil {
		return msg, NewEventError("", data, errors.New("payload is not a JSON object"))
	}
	msg.Parsed = true
	msg.Fields = fields
	if t, ok := fields["type"].(string); ok {
		msg.Type = t
	}
	return msg, nil
}

// Decode unmarshals the raw payload into v.
func (m InboundMessage) Decode(v interface{}) error {
	if !m.Parsed {
		return NewEventError(m.Type, m.Raw, errors.New("payload is not a JSON object"))
	}
	if err := json.Unmarshal(m.Raw, v); err != nil {
		return NewEventError(m.Type, m.Raw, err)
	}
	return nil
}

// LogValue returns what diagnostics should print for the message: the decoded
// object when parsing succeeded, the raw text otherwise.
func (m InboundMessage) LogValue() interface{} {
	if m.Parsed {
		return m.Fields
	}
	return string(m.Raw)
}

// ErrorEvent represents an error reported by the remote service over the channel.
type ErrorEvent struct {
	Type  string `json:"type"` // Always "error"
	Error struct {
		Type    string `json:"type,omitempty"`    // Error category (e.g., "invalid_request_error")
		Code    string `json:"code,omitempty"`    // Error code, if any
		Message string `json:"message,omitempty"` // Human-readable error description
	} `json:"error"`
}

// ResponseAudioTranscriptDelta contains incremental transcript of the spoken reply.
type ResponseAudioTranscriptDelta struct {
	Type       string `json:"type"`        // Always "response.audio_transcript.delta"
	EventID    string `json:"event_id"`    // Unique identifier for this event
	ResponseID string `json:"response_id"` // The ID of the response
	ItemID     string `json:"item_id"`     // The ID of the item
	Delta      string `json:"delta"`       // The incremental transcript text
}

// ResponseAudioTranscriptDone indicates that the transcript of a spoken reply is complete.
type ResponseAudioTranscriptDone struct {
	Type       string `json:"type"`        // Always "response.audio_transcript.done"
	EventID    string `json:"event_id"`    // Unique identifier for this event
	ResponseID string `json:"response_id"` // The ID of the response
	ItemID     string `json:"item_id"`     // The ID of the item
	Transcript string `json:"transcript"`  // The final transcript text
}
