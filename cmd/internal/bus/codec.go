package bus

import (
	"encoding/json"
	"errors"
	"fmt"

	"pulse/cmd/internal/realtime"
)

const envelopeVersion = 1

var errBadEnvelope = errors.New("bus: malformed envelope")

// envelope is the wire form of one broadcast on the bus.
type envelope struct {
	V         int                `json:"v"`
	ID        string             `json:"id"`
	Node      string             `json:"node"`
	Broadcast realtime.Broadcast `json:"broadcast"`
}

func encode(env envelope) ([]byte, error) {
	env.V = envelopeVersion
	return json.Marshal(env)
}

func decode(b []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", errBadEnvelope, err)
	}
	if env.V != envelopeVersion {
		return envelope{}, fmt.Errorf("%w: version %d", errBadEnvelope, env.V)
	}
	if env.Node == "" || env.Broadcast.AppID == "" || env.Broadcast.Channel == "" || env.Broadcast.Event == "" {
		return envelope{}, fmt.Errorf("%w: missing fields", errBadEnvelope)
	}
	return env, nil
}
