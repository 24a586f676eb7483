package datachannel

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownType = errors.New("unknown message type")

// Handler processes an envelope received on the data channel.
type Handler func(env Envelope) error

// Router dispatches envelopes to handlers by Type.
type Router struct {
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register sets the handler for msgType, replacing any previous one.
func (r *Router) Register(msgType string, h Handler) {
	r.handlers[msgType] = h
}

// Dispatch decodes raw and calls the matching handler. The decoded envelope
// is returned even when dispatch fails so callers can address a reply.
func (r *Router) Dispatch(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	h, ok := r.handlers[env.Type]
	if !ok {
		return env, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return env, h(env)
}

// Decode unmarshals the envelope payload into v.
func Decode[T any](env Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, fmt.Errorf("%s: empty payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("%s: %w", env.Type, err)
	}
	return v, nil
}

// Encode builds an envelope carrying payload.
func Encode(msgType, sessionID, actionID string, ts int64, payload any) ([]byte, error) {
	env := Envelope{Type: msgType, SessionID: sessionID, ActionID: actionID, Timestamp: ts}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
