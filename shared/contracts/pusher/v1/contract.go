// Package v1 defines the Pusher Channels protocol (v7) frames spoken by the gateway.
//
// This package is intentionally stable and dependency-light.
// Server and test clients share it to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ProtocolVersion is the protocol version advertised by the server.
const ProtocolVersion = 7

// MinProtocolVersion is the oldest client protocol accepted at connect time.
const MinProtocolVersion = 5

// Event names (wire-stable).
const (
	// EventConnectionEstablished carries the socket id (server -> client).
	EventConnectionEstablished = "pusher:connection_established"
	// EventError reports connection or client event errors (server -> client).
	EventError = "pusher:error"
	// EventPing and EventPong implement protocol-level keepalive.
	EventPing = "pusher:ping"
	EventPong = "pusher:pong"

	// EventSubscribe and EventUnsubscribe manage channel membership (client -> server).
	EventSubscribe   = "pusher:subscribe"
	EventUnsubscribe = "pusher:unsubscribe"

	// EventSubscriptionSucceeded acknowledges a subscribe (server -> client).
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	// EventSubscriptionError rejects a subscribe (server -> client).
	EventSubscriptionError = "pusher:subscription_error"

	// EventMemberAdded and EventMemberRemoved are presence roster deltas.
	EventMemberAdded   = "pusher_internal:member_added"
	EventMemberRemoved = "pusher_internal:member_removed"
)

// ClientEventPrefix marks events triggered by subscribers rather than backends.
const ClientEventPrefix = "client-"

// Channel name prefixes.
const (
	PrivatePrefix  = "private-"
	PresencePrefix = "presence-"
)

// Error codes (wire-stable).
const (
	CodeAppNotFound         = 4001
	CodeAppDisabled         = 4003
	CodeUnsupportedProtocol = 4007
	CodeOriginNotAllowed    = 4009
	CodeChannelNameTooLong  = 4009
	CodeOverQuota           = 4100
	CodeMemberLimitReached  = 4100
	CodeReconnect           = 4200
	CodeClientEventRejected = 4301
)

// Subscription error types.
const (
	ErrorTypeLimitReached = "LimitReached"
	ErrorTypeAuthError    = "AuthError"
	ErrorTypeInvalid      = "InvalidPayload"
)

// Frame is the canonical wire wrapper for every message in both directions.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
}

// Validate performs structural validation for an inbound Frame.
func (f Frame) Validate() error {
	if strings.TrimSpace(f.Event) == "" {
		return errors.New("missing field: event")
	}
	if IsClientEvent(f.Event) && strings.TrimSpace(f.Channel) == "" {
		return fmt.Errorf("client event %q without channel", f.Event)
	}
	return nil
}

// IsClientEvent reports whether name carries the client event prefix.
func IsClientEvent(name string) bool {
	return strings.HasPrefix(name, ClientEventPrefix)
}

// StringData encodes v as JSON and wraps the result in a JSON string.
// Pusher clients expect internal event payloads double-encoded this way.
func StringData(v any) (json.RawMessage, error) {
	inner, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(inner))
}

// ObjectData encodes v as a plain JSON object.
func ObjectData(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// DecodeData unmarshals frame data into dst, accepting both object and
// string-encoded forms.
func DecodeData(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return errors.New("missing field: data")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return json.Unmarshal([]byte(s), dst)
	}
	return json.Unmarshal(data, dst)
}
