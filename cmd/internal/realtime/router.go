package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	v1 "pulse/shared/contracts/pusher/v1"

	"github.com/samber/lo"
)

// Broadcast is an event addressed to one channel of one app.
// It is the unit exchanged with other gateway processes.
type Broadcast struct {
	AppID          string          `json:"app_id"`
	Channel        string          `json:"channel"`
	Event          string          `json:"event"`
	Data           json.RawMessage `json:"data,omitempty"`
	ExceptSocketID string          `json:"except,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
}

func (b Broadcast) frame() v1.Frame {
	return v1.Frame{Event: b.Event, Channel: b.Channel, Data: b.Data, UserID: b.UserID}
}

// Forwarder hands locally originated broadcasts to other gateway processes.
type Forwarder interface {
	Forward(ctx context.Context, b Broadcast) error
}

// SubscribeRequest is a subscription that already passed authorization.
// Member is required for presence channels and ignored otherwise.
type SubscribeRequest struct {
	Channel string
	Member  *Member
}

// ClientEvent is a client-originated event.
type ClientEvent struct {
	Channel string
	Event   string
	Data    json.RawMessage
}

// ChannelInfo describes one occupied channel.
type ChannelInfo struct {
	Name              string
	Kind              Kind
	SubscriptionCount int
	UserCount         int
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithMetrics records engine activity into m.
func WithMetrics(m *Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithForwarder forwards local broadcasts to other processes through f.
func WithForwarder(f Forwarder) RouterOption {
	return func(r *Router) { r.forwarder = f }
}

// WithClock overrides the clock used by client event rate limiting.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// Router turns subscribe, unsubscribe and trigger requests into membership
// changes and fan-out.
//
// Every check runs before any mutation; a rejected request leaves no trace in
// shared state and produces exactly one frame for the origin connection.
type Router struct {
	log *slog.Logger

	conns    *Connections
	channels *Channels

	metrics   *Metrics
	forwarder Forwarder
	now       func() time.Time
}

// NewRouter constructs a Router with empty registries.
func NewRouter(log *slog.Logger, opts ...RouterOption) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		log:      log,
		conns:    NewConnections(),
		channels: NewChannels(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connections exposes the connection registry.
func (r *Router) Connections() *Connections { return r.conns }

// Admit registers c against its app's connection quota.
// On ErrQuotaExceeded the caller must close the transport.
func (r *Router) Admit(c *Conn) error {
	if c == nil || c.SocketID == "" {
		return errors.New("realtime: admit: invalid connection")
	}
	if err := r.conns.admit(c); err != nil {
		r.metrics.rejected(c.App.ID)
		r.log.Warn("conn.admit.reject",
			"app_id", c.App.ID,
			"socket_id", c.SocketID,
			"max_connections", c.App.MaxConnections,
		)
		return err
	}
	r.metrics.admitted(c.App.ID)
	r.log.Debug("conn.admit", "app_id", c.App.ID, "socket_id", c.SocketID)
	return nil
}

// Release removes c from the registry and from every channel it joined.
// It is idempotent. Presence rosters emit member_removed where the user's last
// connection leaves.
func (r *Router) Release(c *Conn) {
	if c == nil {
		return
	}
	channels, ok := c.markReleased()
	if !ok {
		return
	}
	c.Close()

	if r.conns.release(c) {
		r.metrics.released(c.App.ID)
	}
	for _, name := range channels {
		r.leave(c, name)
	}
	r.log.Debug("conn.release", "app_id", c.App.ID, "socket_id", c.SocketID, "channels", len(channels))
}

// Subscribe joins c to req.Channel. Authorization for private and presence
// channels must already have been verified.
//
// The outcome frame (subscription_succeeded or subscription_error) is enqueued
// to c. A rejected subscription returns its *LimitViolation.
func (r *Router) Subscribe(c *Conn, req SubscribeRequest) error {
	app := c.App
	name := req.Channel

	if v := CheckChannelName(app, name); v != nil {
		return r.rejectSubscription(c, name, v)
	}

	kind := KindOf(name)
	if kind == KindPresence && req.Member == nil {
		return r.rejectSubscription(c, name, AuthViolation("Presence channels require channel_data with a user_id."))
	}

	ch := r.channels.acquire(app.ID, name)

	// A socket re-joining as another user displaces its previous identity.
	var displaced bool
	if kind == KindPresence {
		m := *req.Member
		members := ch.roster.count()
		if prev, ok := ch.roster.bySocket[c.SocketID]; ok && prev != m.UserID {
			displaced = true
			if ch.roster.users[prev].conns == 1 {
				members--
			}
		}
		if v := CheckPresenceMember(app, m, members, ch.roster.hasUser(m.UserID)); v != nil {
			r.dropIfEmptyLocked(app.ID, ch)
			ch.mu.Unlock()
			return r.rejectSubscription(c, name, v)
		}
	}

	if !c.attach(name) {
		r.dropIfEmptyLocked(app.ID, ch)
		ch.mu.Unlock()
		return ErrConnClosed
	}
	ch.members[c.SocketID] = c

	var failed []*Conn
	ack := v1.Frame{Event: v1.EventSubscriptionSucceeded, Channel: name}

	if kind == KindPresence {
		m := *req.Member
		if displaced {
			if prev, gone := ch.roster.leave(c.SocketID); gone {
				removed, _ := v1.StringData(prev.payload(false))
				n, lost := ch.fanout(v1.Frame{Event: v1.EventMemberRemoved, Channel: name, Data: removed}, c.SocketID)
				r.metrics.fannedOut(app.ID, "presence", n)
				failed = append(failed, lost...)
			}
		}
		if ch.roster.join(c.SocketID, m) {
			added, _ := v1.StringData(m.payload(true))
			n, lost := ch.fanout(v1.Frame{Event: v1.EventMemberAdded, Channel: name, Data: added}, c.SocketID)
			r.metrics.fannedOut(app.ID, "presence", n)
			failed = append(failed, lost...)
		}
		ack.Data, _ = v1.StringData(v1.PresenceSubscriptionPayload{Presence: ch.roster.snapshot()})
	} else {
		ack.Data, _ = v1.StringData(struct{}{})
	}

	// Enqueued under ch.mu: the roster in the ack cannot be outrun by a later leave.
	if !c.deliver(ack) {
		failed = append(failed, c)
	}
	ch.mu.Unlock()

	r.metrics.subscribed(app.ID, kind)
	r.log.Debug("channel.member.join", "app_id", app.ID, "channel", name, "socket_id", c.SocketID)

	r.evict(lo.Uniq(failed))
	return nil
}

// Unsubscribe removes c from channel. It is a no-op when c is not a member.
func (r *Router) Unsubscribe(c *Conn, channel string) {
	if c == nil {
		return
	}
	c.detach(channel)
	r.leave(c, channel)
}

func (r *Router) leave(c *Conn, name string) {
	ch := r.channels.lookup(c.App.ID, name)
	if ch == nil {
		return
	}

	ch.mu.Lock()
	if ch.retired || ch.members[c.SocketID] != c {
		ch.mu.Unlock()
		return
	}
	delete(ch.members, c.SocketID)

	var failed []*Conn
	if ch.roster != nil {
		if m, gone := ch.roster.leave(c.SocketID); gone {
			removed, _ := v1.StringData(m.payload(false))
			var n int
			n, failed = ch.fanout(v1.Frame{Event: v1.EventMemberRemoved, Channel: name, Data: removed}, c.SocketID)
			r.metrics.fannedOut(c.App.ID, "presence", n)
		}
	}
	r.dropIfEmptyLocked(c.App.ID, ch)
	ch.mu.Unlock()

	r.log.Debug("channel.member.leave", "app_id", c.App.ID, "channel", name, "socket_id", c.SocketID)
	r.evict(failed)
}

// TriggerClientEvent relays a client event to every other member of the channel.
//
// Checks run in order: app policy (enablement, name length, payload size),
// event prefix, channel kind, per-connection rate, sender membership. The event is never
// echoed to its sender. A rejection is reported to the sender only.
func (r *Router) TriggerClientEvent(ctx context.Context, c *Conn, ev ClientEvent) error {
	app := c.App

	if v := CheckClientEvent(app, ev.Event, ev.Data); v != nil {
		return r.rejectClientEvent(c, ev.Channel, v)
	}
	if !v1.IsClientEvent(ev.Event) {
		return r.rejectClientEvent(c, ev.Channel,
			clientEventRejected("Client event names must start with %q.", v1.ClientEventPrefix))
	}
	if !KindOf(ev.Channel).AcceptsClientEvents() {
		return r.rejectClientEvent(c, ev.Channel,
			clientEventRejected("Client events are only supported on private and presence channels."))
	}
	if !c.allowClientEvent(r.now()) {
		return r.rejectClientEvent(c, ev.Channel,
			clientEventRejected("The rate limit for sending client events exceeded the quota."))
	}

	ch := r.channels.lookup(app.ID, ev.Channel)
	if ch == nil {
		return r.rejectClientEvent(c, ev.Channel,
			clientEventRejected("The client is not subscribed to %s.", ev.Channel))
	}

	ch.mu.Lock()
	if ch.retired || ch.members[c.SocketID] != c {
		ch.mu.Unlock()
		return r.rejectClientEvent(c, ev.Channel,
			clientEventRejected("The client is not subscribed to %s.", ev.Channel))
	}
	b := Broadcast{
		AppID:          app.ID,
		Channel:        ev.Channel,
		Event:          ev.Event,
		Data:           ev.Data,
		ExceptSocketID: c.SocketID,
	}
	if ch.roster != nil {
		b.UserID = ch.roster.bySocket[c.SocketID]
	}
	n, failed := ch.fanout(b.frame(), c.SocketID)
	ch.mu.Unlock()

	r.metrics.fannedOut(app.ID, "client", n)
	r.evict(failed)
	r.forward(ctx, b)
	return nil
}

// Publish fans a backend event out to the channel's local members and forwards
// it to other processes. It returns the number of local recipients.
func (r *Router) Publish(ctx context.Context, b Broadcast) (int, error) {
	n := r.deliver(b, "backend")
	if r.forwarder == nil {
		return n, nil
	}
	return n, r.forwarder.Forward(ctx, b)
}

// DeliverRemote fans out a broadcast received from another process.
// It is never forwarded again.
func (r *Router) DeliverRemote(b Broadcast) int {
	return r.deliver(b, "remote")
}

func (r *Router) deliver(b Broadcast, source string) int {
	ch := r.channels.lookup(b.AppID, b.Channel)
	if ch == nil {
		return 0
	}

	ch.mu.Lock()
	if ch.retired {
		ch.mu.Unlock()
		return 0
	}
	n, failed := ch.fanout(b.frame(), b.ExceptSocketID)
	ch.mu.Unlock()

	r.metrics.fannedOut(b.AppID, source, n)
	r.evict(failed)
	return n
}

func (r *Router) forward(ctx context.Context, b Broadcast) {
	if r.forwarder == nil {
		return
	}
	if err := r.forwarder.Forward(ctx, b); err != nil {
		r.log.Warn("bus.forward.fail", "app_id", b.AppID, "channel", b.Channel, "err", err)
	}
}

// Channels lists the occupied channels of appID whose name starts with prefix.
func (r *Router) Channels(appID, prefix string) []ChannelInfo {
	var out []ChannelInfo
	for _, ch := range r.channels.list(appID) {
		if !strings.HasPrefix(ch.name, prefix) {
			continue
		}
		if info, ok := ch.info(); ok {
			out = append(out, info)
		}
	}
	return out
}

// Channel describes one channel. ok is false when it is not occupied.
func (r *Router) Channel(appID, name string) (ChannelInfo, bool) {
	ch := r.channels.lookup(appID, name)
	if ch == nil {
		return ChannelInfo{Name: name, Kind: KindOf(name)}, false
	}
	return ch.info()
}

// PresenceMembers returns the roster of a presence channel sorted by user id.
func (r *Router) PresenceMembers(appID, name string) []Member {
	ch := r.channels.lookup(appID, name)
	if ch == nil || ch.roster == nil {
		return nil
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.retired {
		return nil
	}
	return ch.roster.members()
}

// CloseAll signals every live connection to close with code.
// Transports release their connections as they wind down.
func (r *Router) CloseAll(code int, reason string) {
	for _, c := range r.conns.All() {
		c.CloseWith(code, reason)
	}
}

func (r *Router) dropIfEmptyLocked(appID string, ch *channel) {
	if len(ch.members) == 0 {
		r.channels.retireLocked(appID, ch)
	}
}

// RejectSubscription reports a subscription refused before it reached Subscribe,
// such as a failed authorization. It returns v.
func (r *Router) RejectSubscription(c *Conn, channel string, v *LimitViolation) error {
	return r.rejectSubscription(c, channel, v)
}

func (r *Router) rejectSubscription(c *Conn, channel string, v *LimitViolation) error {
	c.deliver(v.Frame(channel))
	r.metrics.subscribeFailed(c.App.ID, v.Code)
	r.log.Info("channel.subscribe.reject",
		"app_id", c.App.ID,
		"socket_id", c.SocketID,
		"channel", channel,
		"code", v.Code,
		"reason", v.Message,
	)
	return v
}

func (r *Router) rejectClientEvent(c *Conn, channel string, v *LimitViolation) error {
	c.deliver(v.Frame(channel))
	r.metrics.clientEventRejected(c.App.ID, v.Code)
	r.log.Debug("client_event.reject",
		"app_id", c.App.ID,
		"socket_id", c.SocketID,
		"channel", channel,
		"reason", v.Message,
	)
	return v
}

// evict closes and releases recipients whose send queue overflowed.
// Must be called without any channel lock held.
func (r *Router) evict(conns []*Conn) {
	for _, c := range conns {
		c.CloseWith(v1.CodeReconnect, "slow consumer")
		r.metrics.evicted(c.App.ID, 1)
		r.log.Warn("conn.evict.slow_consumer", "app_id", c.App.ID, "socket_id", c.SocketID)
		r.Release(c)
	}
}
