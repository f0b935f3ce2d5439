package httpapi

import "encoding/json"

// eventRequest is one backend event. Channel and Channels are alternatives.
type eventRequest struct {
	Name     string          `json:"name"`
	Data     json.RawMessage `json:"data"`
	Channel  string          `json:"channel,omitempty"`
	Channels []string        `json:"channels,omitempty"`
	SocketID string          `json:"socket_id,omitempty"`
}

type batchRequest struct {
	Batch []eventRequest `json:"batch"`
}

type channelSummary struct {
	UserCount *int `json:"user_count,omitempty"`
}

type channelsResponse struct {
	Channels map[string]channelSummary `json:"channels"`
}

type channelResponse struct {
	Occupied          bool `json:"occupied"`
	SubscriptionCount *int `json:"subscription_count,omitempty"`
	UserCount         *int `json:"user_count,omitempty"`
}

type userResponse struct {
	ID string `json:"id"`
}

type usersResponse struct {
	Users []userResponse `json:"users"`
}
