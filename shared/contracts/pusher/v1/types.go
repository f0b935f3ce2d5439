package v1

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ConnectionEstablishedPayload is sent once per connection after admission.
type ConnectionEstablishedPayload struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

// ErrorPayload is the body of pusher:error.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SubscriptionErrorPayload is the body of pusher:subscription_error.
type SubscriptionErrorPayload struct {
	Type   string `json:"type"`
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// SubscribePayload is the body of pusher:subscribe.
type SubscribePayload struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

// UnsubscribePayload is the body of pusher:unsubscribe.
type UnsubscribePayload struct {
	Channel string `json:"channel"`
}

// PresenceData is the roster carried by a presence subscription_succeeded.
type PresenceData struct {
	IDs   []string                   `json:"ids"`
	Hash  map[string]json.RawMessage `json:"hash"`
	Count int                        `json:"count"`
}

// PresenceSubscriptionPayload wraps PresenceData under the "presence" key.
type PresenceSubscriptionPayload struct {
	Presence PresenceData `json:"presence"`
}

// MemberPayload is the body of member_added / member_removed.
type MemberPayload struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
}

// ChannelData is the presence identity supplied with a presence subscribe.
// UserID accepts both JSON strings and numbers.
type ChannelData struct {
	UserID   UserID          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
}

// UserID is a presence user identifier normalized to its string form.
type UserID string

// UnmarshalJSON accepts `"abc"` and `42` alike.
func (u *UserID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*u = ""
		return nil
	}
	if s[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*u = UserID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*u = UserID(strconv.FormatInt(i, 10))
		return nil
	}
	*u = UserID(n.String())
	return nil
}
