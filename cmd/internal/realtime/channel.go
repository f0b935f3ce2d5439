package realtime

import (
	"strings"
	"sync"

	v1 "pulse/shared/contracts/pusher/v1"
)

// Kind is derived from a channel name prefix.
type Kind uint8

const (
	// KindPublic channels need no authorization.
	KindPublic Kind = iota
	// KindPrivate channels ("private-" prefix) require a signed auth token.
	KindPrivate
	// KindPresence channels ("presence-" prefix) require auth plus channel_data and track members.
	KindPresence
)

// KindOf classifies a channel name.
func KindOf(name string) Kind {
	switch {
	case strings.HasPrefix(name, v1.PresencePrefix):
		return KindPresence
	case strings.HasPrefix(name, v1.PrivatePrefix):
		return KindPrivate
	default:
		return KindPublic
	}
}

func (k Kind) String() string {
	switch k {
	case KindPrivate:
		return "private"
	case KindPresence:
		return "presence"
	default:
		return "public"
	}
}

// RequiresAuth reports whether subscribing needs a signed auth token.
func (k Kind) RequiresAuth() bool { return k != KindPublic }

// AcceptsClientEvents reports whether subscribers may trigger events on the channel.
func (k Kind) AcceptsClientEvents() bool { return k != KindPublic }

// channel is the in-memory membership + fan-out primitive for one channel name.
//
// Concurrency guarantees:
//   - Every membership read or write happens under mu, so a fan-out snapshot
//     is consistent with the order of joins and leaves.
//   - Fan-out only enqueues (never blocks) while mu is held.
//   - Once retired, a channel is never reused; subscribers retry on a fresh one.
type channel struct {
	name string
	kind Kind

	mu      sync.Mutex
	members map[string]*Conn
	roster  *roster // presence channels only
	retired bool
}

func newChannel(name string) *channel {
	ch := &channel{
		name:    name,
		kind:    KindOf(name),
		members: make(map[string]*Conn),
	}
	if ch.kind == KindPresence {
		ch.roster = newRoster()
	}
	return ch
}

// fanout enqueues f to every member except the socket id in except.
// Caller must hold ch.mu. Members whose queue is full are returned for eviction.
func (ch *channel) fanout(f v1.Frame, except string) (delivered int, failed []*Conn) {
	for sid, m := range ch.members {
		if sid == except || m == nil {
			continue
		}
		if m.deliver(f) {
			delivered++
			continue
		}
		failed = append(failed, m)
	}
	return delivered, failed
}

func (ch *channel) info() (ChannelInfo, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.retired {
		return ChannelInfo{Name: ch.name, Kind: ch.kind}, false
	}
	info := ChannelInfo{Name: ch.name, Kind: ch.kind, SubscriptionCount: len(ch.members)}
	if ch.roster != nil {
		info.UserCount = ch.roster.count()
	}
	return info, true
}
