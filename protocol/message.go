package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
)

// MessageType is the value of an inbound message's type discriminator.
type MessageType string

const (
	MessageTypeSuccess MessageType = "success"
	MessageTypeError   MessageType = "error"
	MessageTypeEvent   MessageType = "event"
)

// ErrorResponse is the generic shape of an error response.
type ErrorResponse struct {
	ID         *int64 `json:"id"`
	ErrorType  string `json:"error"`
	Message    string `json:"message"`
	StackTrace string `json:"stacktrace,omitempty"`

	// RawID is the id exactly as received. It is kept when ID is nil because the
	// value was null or not a usable command id.
	RawID          json.RawMessage            `json:"-"`
	AdditionalData map[string]json.RawMessage `json:"-"`
}

// EventMessage is an event delivered to subscribers.
type EventMessage struct {
	Method string
	// Payload is what the registered payload factory produced, decoded from params.
	Payload        any
	AdditionalData map[string]json.RawMessage
}

// UnknownMessage is a message that matched no known shape or registration.
type UnknownMessage struct {
	Data   []byte
	Reason string
}

// inboundMessage is a parsed message whose shape has been validated.
type inboundMessage struct {
	kind   MessageType
	data   []byte
	fields map[string]json.RawMessage
}

// parseMessage classifies data. Invalid JSON yields a *ProtocolError; valid JSON that
// matches no known shape yields an *UnknownMessageError.
func parseMessage(data []byte) (*inboundMessage, error) {
	if !json.Valid(data) {
		return nil, &ProtocolError{Data: data, Err: fmt.Errorf("invalid JSON")}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, &UnknownMessageError{Data: data, Reason: "message is not a JSON object"}
	}

	rawType, ok := fields["type"]
	if !ok {
		return nil, &UnknownMessageError{Data: data, Reason: "missing type"}
	}
	var kind MessageType
	if err := json.Unmarshal(rawType, &kind); err != nil {
		return nil, &UnknownMessageError{Data: data, Reason: "type is not a string"}
	}

	switch kind {
	case MessageTypeSuccess, MessageTypeError, MessageTypeEvent:
	default:
		return nil, &UnknownMessageError{Data: data, Reason: fmt.Sprintf("unrecognized type %q", kind)}
	}

	if err := validateShape(kind, data); err != nil {
		return nil, &UnknownMessageError{Data: data, Reason: err.Error()}
	}
	return &inboundMessage{kind: kind, data: data, fields: fields}, nil
}

func (m *inboundMessage) id() (int64, bool) {
	return parseCommandID(m.fields["id"])
}

// parseCommandID decodes a JSON number naming a command. Whole numbers written with a
// fraction or exponent, such as 1.0 or 1e2, are accepted when they fit an int64.
func parseCommandID(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if id, err := n.Int64(); err == nil {
		return id, true
	}
	r, ok := new(big.Rat).SetString(n.String())
	if !ok || !r.IsInt() || !r.Num().IsInt64() {
		return 0, false
	}
	return r.Num().Int64(), true
}

func (m *inboundMessage) method() string {
	var method string
	_ = json.Unmarshal(m.fields["method"], &method)
	return method
}

// additionalData returns the fields not named in known.
func (m *inboundMessage) additionalData(known ...string) map[string]json.RawMessage {
	extra := make(map[string]json.RawMessage)
	for k, v := range m.fields {
		extra[k] = v
	}
	for _, k := range known {
		delete(extra, k)
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

func (m *inboundMessage) errorResponse() (ErrorResponse, error) {
	var wire struct {
		ErrorResponse
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(m.data, &wire); err != nil {
		return ErrorResponse{}, err
	}
	resp := wire.ErrorResponse
	resp.RawID = wire.ID
	if id, ok := parseCommandID(wire.ID); ok {
		resp.ID = &id
	}
	resp.AdditionalData = m.additionalData("type", "id", "error", "message", "stacktrace")
	return resp, nil
}

// decodeInto unmarshals raw into the value produced by factory, or returns raw itself
// when there is no factory.
func decodeInto(raw json.RawMessage, factory func() any) (any, error) {
	if factory == nil {
		return raw, nil
	}
	v := factory()
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}
