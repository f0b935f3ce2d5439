// Package apps models tenants ("apps") and the stores that resolve them.
//
// An App is a read-only snapshot: stores return values, never shared pointers,
// so the realtime engine can hold one per connection without synchronization.
package apps

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ChannelLimits bounds channel names.
type ChannelLimits struct {
	MaxNameLength int `yaml:"maxNameLength" validate:"gte=0"`
}

// EventLimits bounds client and backend events.
type EventLimits struct {
	MaxNameLength     int     `yaml:"maxNameLength" validate:"gte=0"`
	MaxPayloadInKB    float64 `yaml:"maxPayloadInKb" validate:"gte=0"`
	MaxChannelsAtOnce int     `yaml:"maxChannelsAtOnce" validate:"gte=0"`
	MaxBatchSize      int     `yaml:"maxBatchSize" validate:"gte=0"`
}

// PresenceLimits bounds presence rosters.
type PresenceLimits struct {
	MaxMemberSizeInKB    float64 `yaml:"maxMemberSizeInKb" validate:"gte=0"`
	MaxMembersPerChannel int     `yaml:"maxMembersPerChannel" validate:"gte=0"`
}

// App is a tenant with its own credentials, quotas and limits.
type App struct {
	ID      string `yaml:"id" validate:"required,max=64"`
	Key     string `yaml:"key" validate:"required,max=128"`
	Secret  string `yaml:"secret" validate:"required"`
	Enabled bool   `yaml:"enabled"`

	EnableClientMessages     bool     `yaml:"enableClientMessages"`
	MaxConnections           int      `yaml:"maxConnections" validate:"gte=0"`
	MaxClientEventsPerSecond int      `yaml:"maxClientEventsPerSecond" validate:"gte=0"`
	AllowedOrigins           []string `yaml:"allowedOrigins"`

	ChannelLimits  ChannelLimits  `yaml:"channelLimits"`
	EventLimits    EventLimits    `yaml:"eventLimits"`
	PresenceLimits PresenceLimits `yaml:"presence"`
}

// Defaults are server-wide limits applied to apps that leave a limit unset.
type Defaults struct {
	ChannelNameMaxLength    int
	EventNameMaxLength      int
	EventPayloadMaxKB       float64
	EventMaxChannelsAtOnce  int
	EventMaxBatchSize       int
	PresenceMemberMaxSizeKB float64
	PresenceMaxMembers      int
}

// DefaultLimits are the stock Pusher Channels limits.
func DefaultLimits() Defaults {
	return Defaults{
		ChannelNameMaxLength:    200,
		EventNameMaxLength:      200,
		EventPayloadMaxKB:       100,
		EventMaxChannelsAtOnce:  100,
		EventMaxBatchSize:       10,
		PresenceMemberMaxSizeKB: 2,
		PresenceMaxMembers:      100,
	}
}

// WithDefaults returns a copy of a with every zero limit filled from d.
func (a App) WithDefaults(d Defaults) App {
	if a.ChannelLimits.MaxNameLength == 0 {
		a.ChannelLimits.MaxNameLength = d.ChannelNameMaxLength
	}
	if a.EventLimits.MaxNameLength == 0 {
		a.EventLimits.MaxNameLength = d.EventNameMaxLength
	}
	if a.EventLimits.MaxPayloadInKB == 0 {
		a.EventLimits.MaxPayloadInKB = d.EventPayloadMaxKB
	}
	if a.EventLimits.MaxChannelsAtOnce == 0 {
		a.EventLimits.MaxChannelsAtOnce = d.EventMaxChannelsAtOnce
	}
	if a.EventLimits.MaxBatchSize == 0 {
		a.EventLimits.MaxBatchSize = d.EventMaxBatchSize
	}
	if a.PresenceLimits.MaxMemberSizeInKB == 0 {
		a.PresenceLimits.MaxMemberSizeInKB = d.PresenceMemberMaxSizeKB
	}
	if a.PresenceLimits.MaxMembersPerChannel == 0 {
		a.PresenceLimits.MaxMembersPerChannel = d.PresenceMaxMembers
	}
	return a.clone()
}

// clone detaches slice fields so callers cannot mutate a stored snapshot.
func (a App) clone() App {
	a.AllowedOrigins = append([]string(nil), a.AllowedOrigins...)
	return a
}

var validate = validator.New()

// Validate checks structural constraints on an app definition.
func Validate(a App) error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("%w: app %q: %v", ErrInvalidApp, a.ID, err)
	}
	if strings.ContainsAny(a.Key, ":/ ") {
		return fmt.Errorf("%w: app %q: key must not contain ':', '/' or spaces", ErrInvalidApp, a.ID)
	}
	return nil
}
