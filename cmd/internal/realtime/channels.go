package realtime

import (
	"sort"
	"sync"
)

// Channels maps app id -> channel name -> channel state.
//
// A channel exists in the registry iff it has at least one member: it is created
// lazily by the first subscriber and retired by the last leaver.
type Channels struct {
	mu   sync.RWMutex
	apps map[string]*namespace
}

type namespace struct {
	mu       sync.RWMutex
	channels map[string]*channel
}

// NewChannels constructs an empty registry.
func NewChannels() *Channels {
	return &Channels{apps: make(map[string]*namespace)}
}

func (r *Channels) namespace(appID string) *namespace {
	r.mu.RLock()
	ns := r.apps[appID]
	r.mu.RUnlock()
	if ns != nil {
		return ns
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ns = r.apps[appID]; ns == nil {
		ns = &namespace{channels: make(map[string]*channel)}
		r.apps[appID] = ns
	}
	return ns
}

// acquire returns the live channel for name with ch.mu held, creating it if absent.
func (r *Channels) acquire(appID, name string) *channel {
	ns := r.namespace(appID)
	for {
		ns.mu.Lock()
		ch := ns.channels[name]
		if ch == nil {
			ch = newChannel(name)
			ns.channels[name] = ch
		}
		ns.mu.Unlock()

		ch.mu.Lock()
		if !ch.retired {
			return ch
		}
		// Lost a race with the last leaver; the retired entry is being removed.
		ch.mu.Unlock()
	}
}

// lookup returns the channel for name, or nil. The channel is not locked.
func (r *Channels) lookup(appID, name string) *channel {
	ns := r.namespace(appID)
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.channels[name]
}

// retireLocked marks ch as retired and removes it from the index.
// Caller must hold ch.mu and ch must have no members.
func (r *Channels) retireLocked(appID string, ch *channel) {
	ch.retired = true

	ns := r.namespace(appID)
	ns.mu.Lock()
	if ns.channels[ch.name] == ch {
		delete(ns.channels, ch.name)
	}
	ns.mu.Unlock()
}

// list returns the live channels of appID sorted by name.
func (r *Channels) list(appID string) []*channel {
	ns := r.namespace(appID)
	ns.mu.RLock()
	out := make([]*channel, 0, len(ns.channels))
	for _, ch := range ns.channels {
		out = append(out, ch)
	}
	ns.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Len returns the number of live channels for appID.
func (r *Channels) Len(appID string) int {
	ns := r.namespace(appID)
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.channels)
}
