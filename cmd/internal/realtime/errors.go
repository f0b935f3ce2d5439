package realtime

import (
	"errors"
	"fmt"
	"strconv"

	v1 "pulse/shared/contracts/pusher/v1"
)

var (
	// ErrQuotaExceeded is returned by Admit when the app is at its connection quota.
	ErrQuotaExceeded = errors.New("connection quota exceeded")

	// ErrConnClosed is returned when an operation targets a released connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrLimitReached is the kind of every rejected subscription.
	ErrLimitReached = errors.New("subscription rejected")

	// ErrClientEventRejected is the kind of every rejected client event.
	ErrClientEventRejected = errors.New("client event rejected")

	// ErrUnauthorized is returned by AuthVerifier implementations.
	ErrUnauthorized = errors.New("unauthorized")
)

// LimitViolation describes which limit a request exceeded.
// It is produced before any state mutation and converted into a frame for the
// origin connection only.
type LimitViolation struct {
	Op      string
	Kind    error
	Type    string
	Code    int
	Message string
}

func (v *LimitViolation) Error() string {
	return fmt.Sprintf("%s: %v: %d %s", v.Op, v.Kind, v.Code, v.Message)
}

func (v *LimitViolation) Unwrap() error { return v.Kind }

// Frame renders the violation for the origin connection.
func (v *LimitViolation) Frame(channel string) v1.Frame {
	if v.Kind == ErrClientEventRejected {
		data, _ := v1.ObjectData(v1.ErrorPayload{Code: v.Code, Message: v.Message})
		return v1.Frame{Event: v1.EventError, Channel: channel, Data: data}
	}
	data, _ := v1.ObjectData(v1.SubscriptionErrorPayload{Type: v.Type, Error: v.Message, Status: v.Code})
	return v1.Frame{Event: v1.EventSubscriptionError, Channel: channel, Data: data}
}

func subscriptionLimit(code int, format string, args ...any) *LimitViolation {
	return &LimitViolation{
		Op:      "subscribe",
		Kind:    ErrLimitReached,
		Type:    v1.ErrorTypeLimitReached,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func subscriptionInvalid(typ string, code int, msg string) *LimitViolation {
	return &LimitViolation{Op: "subscribe", Kind: ErrLimitReached, Type: typ, Code: code, Message: msg}
}

// AuthViolation rejects a subscription whose authorization failed.
func AuthViolation(reason string) *LimitViolation {
	return subscriptionInvalid(v1.ErrorTypeAuthError, 401, reason)
}

// InvalidSubscription rejects a malformed subscribe request.
func InvalidSubscription(reason string) *LimitViolation {
	return subscriptionInvalid(v1.ErrorTypeInvalid, 400, reason)
}

func clientEventRejected(format string, args ...any) *LimitViolation {
	return &LimitViolation{
		Op:      "client_event",
		Kind:    ErrClientEventRejected,
		Code:    v1.CodeClientEventRejected,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsLimitViolation reports whether err carries a LimitViolation and returns it.
func IsLimitViolation(err error) (*LimitViolation, bool) {
	var v *LimitViolation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

var errMissingUserID = errors.New("channel_data: missing user_id")

func formatKB(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
