package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"pulse/cmd/internal/apps"
	v1 "pulse/shared/contracts/pusher/v1"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestRouter_ClientEventNeverEchoed(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp()
	a := admitConn(t, r, app, "1.1")
	b := admitConn(t, r, app, "2.2")
	subscribe(t, r, a, "private-room")
	subscribe(t, r, b, "private-room")
	drain(a)
	drain(b)

	err := r.TriggerClientEvent(context.Background(), a, ClientEvent{
		Channel: "private-room",
		Event:   "client-greeting",
		Data:    json.RawMessage(`{"message":"hello"}`),
	})
	require.NoError(t, err)

	require.Empty(t, drain(a))
	got := drain(b)
	require.Len(t, got, 1)
	require.Equal(t, "client-greeting", got[0].Event)
	require.Equal(t, "private-room", got[0].Channel)
	require.JSONEq(t, `{"message":"hello"}`, string(got[0].Data))
	require.Empty(t, got[0].UserID)
}

func TestRouter_ClientEventsDisabled(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp(func(a *apps.App) { a.EnableClientMessages = false })
	a := admitConn(t, r, app, "1.1")
	b := admitConn(t, r, app, "2.2")

	for _, ch := range []string{"private-room", "presence-room"} {
		if KindOf(ch) == KindPresence {
			joinPresence(t, r, a, ch, "a")
			joinPresence(t, r, b, ch, "b")
		} else {
			subscribe(t, r, a, ch)
			subscribe(t, r, b, ch)
		}
		drain(a)
		drain(b)

		err := r.TriggerClientEvent(context.Background(), b, ClientEvent{Channel: ch, Event: "client-greeting", Data: json.RawMessage(`{}`)})
		require.ErrorIs(t, err, ErrClientEventRejected)

		require.Empty(t, drain(a), "other members never observe a rejected event")
		got := drain(b)
		require.Len(t, got, 1)
		require.Equal(t, v1.EventError, got[0].Event)
		require.Equal(t, 4301, decode[v1.ErrorPayload](t, got[0]).Code)
	}
}

func TestRouter_ClientEventNameTooLong(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp(func(a *apps.App) { a.EventLimits.MaxNameLength = 25 })
	a := admitConn(t, r, app, "1.1")
	b := admitConn(t, r, app, "2.2")
	subscribe(t, r, a, "private-room")
	subscribe(t, r, b, "private-room")
	drain(a)
	drain(b)

	err := r.TriggerClientEvent(context.Background(), b, ClientEvent{
		Channel: "private-room",
		Event:   "client-a8hsuNFXUhfStiWE02R",
		Data:    json.RawMessage(`{"message":"hello"}`),
	})
	v, ok := IsLimitViolation(err)
	require.True(t, ok)
	require.Equal(t, 4301, v.Code)
	require.Empty(t, drain(a))
	require.Equal(t, []string{v1.EventError}, eventNames(drain(b)))
}

func TestRouter_ClientEventRejections(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp()
	a := admitConn(t, r, app, "1.1")
	b := admitConn(t, r, app, "2.2")
	subscribe(t, r, a, "public-room")
	subscribe(t, r, b, "public-room")
	subscribe(t, r, a, "private-room")
	drain(a)
	drain(b)

	ctx := context.Background()

	err := r.TriggerClientEvent(ctx, a, ClientEvent{Channel: "public-room", Event: "client-x"})
	require.ErrorIs(t, err, ErrClientEventRejected, "public channels never accept client events")

	err = r.TriggerClientEvent(ctx, b, ClientEvent{Channel: "private-room", Event: "client-x"})
	require.ErrorIs(t, err, ErrClientEventRejected, "sender must be subscribed")

	err = r.TriggerClientEvent(ctx, b, ClientEvent{Channel: "private-nobody", Event: "client-x"})
	require.ErrorIs(t, err, ErrClientEventRejected)

	require.Equal(t, []string{v1.EventError}, eventNames(drain(a)))
	require.Equal(t, []string{v1.EventError, v1.EventError}, eventNames(drain(b)))
}

func TestRouter_ClientEventRateLimit(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	r := NewRouter(discardLogger(), WithClock(func() time.Time { return now }))
	app := testApp(func(a *apps.App) { a.MaxClientEventsPerSecond = 1 })
	a := admitConn(t, r, app, "1.1")
	b := admitConn(t, r, app, "2.2")
	subscribe(t, r, a, "private-room")
	subscribe(t, r, b, "private-room")
	drain(a)
	drain(b)

	ev := ClientEvent{Channel: "private-room", Event: "client-tick", Data: json.RawMessage(`1`)}
	require.NoError(t, r.TriggerClientEvent(context.Background(), a, ev))
	require.ErrorIs(t, r.TriggerClientEvent(context.Background(), a, ev), ErrClientEventRejected)

	now = now.Add(time.Second)
	require.NoError(t, r.TriggerClientEvent(context.Background(), a, ev))
	require.Len(t, drain(b), 2)
}

func TestRouter_PresenceClientEventCarriesUserID(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp()
	a := admitConn(t, r, app, "1.1")
	b := admitConn(t, r, app, "2.2")
	joinPresence(t, r, a, "presence-room", "alice")
	joinPresence(t, r, b, "presence-room", "bob")
	drain(a)
	drain(b)

	require.NoError(t, r.TriggerClientEvent(context.Background(), a, ClientEvent{
		Channel: "presence-room",
		Event:   "client-typing",
		Data:    json.RawMessage(`{}`),
	}))
	got := drain(b)
	require.Len(t, got, 1)
	require.Equal(t, "alice", got[0].UserID)
}

func TestRouter_SubscribeChannelNameTooLong(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp(func(a *apps.App) { a.ChannelLimits.MaxNameLength = 25 })
	c := admitConn(t, r, app, "1.1")
	drain(c)

	name := "a8hsuNFXUhfS1zoyvtDtiWE02Ra"
	err := r.Subscribe(c, SubscribeRequest{Channel: name})
	require.ErrorIs(t, err, ErrLimitReached)

	got := drain(c)
	require.Len(t, got, 1)
	require.Equal(t, v1.EventSubscriptionError, got[0].Event)
	require.Equal(t, name, got[0].Channel)
	p := decode[v1.SubscriptionErrorPayload](t, got[0])
	require.Equal(t, "LimitReached", p.Type)
	require.Equal(t, 4009, p.Status)
	require.NotEmpty(t, p.Error)

	_, ok := r.Channel(app.ID, name)
	require.False(t, ok, "rejected subscribe leaves no channel behind")
	require.False(t, c.IsSubscribed(name))

	subscribe(t, r, c, name[:25])
	require.Equal(t, []string{v1.EventSubscriptionSucceeded}, eventNames(drain(c)))
}

func TestRouter_PresenceMemberLimit(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp(func(a *apps.App) { a.PresenceLimits.MaxMembersPerChannel = 1 })
	c1 := admitConn(t, r, app, "1.1")
	c2 := admitConn(t, r, app, "2.2")

	joinPresence(t, r, c1, "presence-room", "1")
	ack := findFrame(t, drain(c1), v1.EventSubscriptionSucceeded)
	require.Equal(t, []string{"1"}, decode[v1.PresenceSubscriptionPayload](t, ack).Presence.IDs)

	m := Member{UserID: "2", UserInfo: json.RawMessage(`{"id":2,"name":"Alice"}`)}
	err := r.Subscribe(c2, SubscribeRequest{Channel: "presence-room", Member: &m})
	require.ErrorIs(t, err, ErrLimitReached)

	f := findFrame(t, drain(c2), v1.EventSubscriptionError)
	p := decode[v1.SubscriptionErrorPayload](t, f)
	require.Equal(t, "LimitReached", p.Type)
	require.Equal(t, 4100, p.Status)

	require.Empty(t, drain(c1), "user1 sees no roster change")
	members := r.PresenceMembers(app.ID, "presence-room")
	require.Len(t, members, 1)
	require.Equal(t, "1", members[0].UserID)

	// A second device of an existing user is not a new member.
	c3 := admitConn(t, r, app, "3.3")
	joinPresence(t, r, c3, "presence-room", "1")
	require.Empty(t, drain(c1))
}

func TestRouter_PresenceMemberTooBig(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp(func(a *apps.App) { a.PresenceLimits.MaxMemberSizeInKB = 1.0 / 1024 / 1024 })
	c := admitConn(t, r, app, "1.1")
	drain(c)

	m := Member{UserID: "1", UserInfo: json.RawMessage(`{"id":1,"name":"John"}`)}
	err := r.Subscribe(c, SubscribeRequest{Channel: "presence-room", Member: &m})
	require.ErrorIs(t, err, ErrLimitReached)

	p := decode[v1.SubscriptionErrorPayload](t, findFrame(t, drain(c), v1.EventSubscriptionError))
	require.Equal(t, "LimitReached", p.Type)
	require.Equal(t, 4301, p.Status)

	_, ok := r.Channel(app.ID, "presence-room")
	require.False(t, ok)
}

func TestRouter_PresenceJoinOrdering(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp()
	a := admitConn(t, r, app, "1.1")
	b := admitConn(t, r, app, "2.2")

	joinPresence(t, r, a, "presence-room", "alice")
	drain(a)
	joinPresence(t, r, b, "presence-room", "bob")

	joiner := drain(b)
	require.Equal(t, []string{v1.EventSubscriptionSucceeded}, eventNames(joiner), "joiner never sees its own member_added")
	roster := decode[v1.PresenceSubscriptionPayload](t, joiner[0]).Presence
	require.Equal(t, []string{"alice", "bob"}, roster.IDs)
	require.Equal(t, 2, roster.Count)
	require.JSONEq(t, `{"name":"bob"}`, string(roster.Hash["bob"]))

	existing := drain(a)
	require.Len(t, existing, 1)
	require.Equal(t, v1.EventMemberAdded, existing[0].Event)
	added := decode[v1.MemberPayload](t, existing[0])
	require.Equal(t, "bob", added.UserID)
	require.JSONEq(t, `{"name":"bob"}`, string(added.UserInfo))

	r.Unsubscribe(b, "presence-room")
	removed := drain(a)
	require.Len(t, removed, 1)
	require.Equal(t, v1.EventMemberRemoved, removed[0].Event)
	require.Equal(t, "bob", decode[v1.MemberPayload](t, removed[0]).UserID)
}

func TestRouter_PresenceMultiDeviceLeave(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp()
	obs := admitConn(t, r, app, "0.0")
	phone := admitConn(t, r, app, "1.1")
	laptop := admitConn(t, r, app, "1.2")

	joinPresence(t, r, obs, "presence-room", "observer")
	joinPresence(t, r, phone, "presence-room", "alice")
	joinPresence(t, r, laptop, "presence-room", "alice")
	require.Equal(t, []string{v1.EventSubscriptionSucceeded, v1.EventMemberAdded}, eventNames(drain(obs)))

	r.Release(phone)
	require.Empty(t, drain(obs), "alice still has a connection")

	r.Release(laptop)
	require.Equal(t, []string{v1.EventMemberRemoved}, eventNames(drain(obs)))
}

func TestRouter_PresenceSocketSwitchesUser(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp()
	obs := admitConn(t, r, app, "0.0")
	c := admitConn(t, r, app, "1.1")

	joinPresence(t, r, obs, "presence-room", "observer")
	joinPresence(t, r, c, "presence-room", "alice")
	drain(obs)
	drain(c)

	joinPresence(t, r, c, "presence-room", "bob")

	seen := drain(obs)
	require.Equal(t, []string{v1.EventMemberRemoved, v1.EventMemberAdded}, eventNames(seen))
	require.Equal(t, "alice", decode[v1.MemberPayload](t, seen[0]).UserID)
	require.Equal(t, "bob", decode[v1.MemberPayload](t, seen[1]).UserID)

	ack := findFrame(t, drain(c), v1.EventSubscriptionSucceeded)
	roster := decode[v1.PresenceSubscriptionPayload](t, ack).Presence
	require.Equal(t, []string{"bob", "observer"}, roster.IDs)
	require.Equal(t, 2, roster.Count)

	ids := lo.Map(r.PresenceMembers(app.ID, "presence-room"), func(m Member, _ int) string { return m.UserID })
	require.Equal(t, []string{"bob", "observer"}, ids)
}

func TestRouter_PresenceSocketSwitchKeepsSharedUser(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp()
	obs := admitConn(t, r, app, "0.0")
	phone := admitConn(t, r, app, "1.1")
	laptop := admitConn(t, r, app, "1.2")

	joinPresence(t, r, obs, "presence-room", "observer")
	joinPresence(t, r, phone, "presence-room", "alice")
	joinPresence(t, r, laptop, "presence-room", "alice")
	drain(obs)

	joinPresence(t, r, laptop, "presence-room", "bob")
	require.Equal(t, []string{v1.EventMemberAdded}, eventNames(drain(obs)), "alice is still on the phone")

	ids := lo.Map(r.PresenceMembers(app.ID, "presence-room"), func(m Member, _ int) string { return m.UserID })
	require.Equal(t, []string{"alice", "bob", "observer"}, ids)
}

func TestRouter_PresenceSocketSwitchOnFullChannel(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp(func(a *apps.App) { a.PresenceLimits.MaxMembersPerChannel = 1 })
	c := admitConn(t, r, app, "1.1")

	joinPresence(t, r, c, "presence-room", "alice")
	drain(c)

	joinPresence(t, r, c, "presence-room", "bob")
	ack := findFrame(t, drain(c), v1.EventSubscriptionSucceeded)
	require.Equal(t, []string{"bob"}, decode[v1.PresenceSubscriptionPayload](t, ack).Presence.IDs)

	// A different socket is still held to the limit.
	other := admitConn(t, r, app, "2.2")
	m := Member{UserID: "carol"}
	require.ErrorIs(t, r.Subscribe(other, SubscribeRequest{Channel: "presence-room", Member: &m}), ErrLimitReached)
}

func TestRouter_ReleaseCascades(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp()
	a := admitConn(t, r, app, "1.1")
	b := admitConn(t, r, app, "2.2")

	subscribe(t, r, a, "public")
	subscribe(t, r, a, "private-x")
	joinPresence(t, r, a, "presence-x", "alice")
	joinPresence(t, r, b, "presence-x", "bob")
	drain(b)

	r.Release(a)
	r.Release(a)

	require.Equal(t, 1, r.Connections().Count(app.ID))
	require.Equal(t, []string{v1.EventMemberRemoved}, eventNames(drain(b)))

	names := make([]string, 0)
	for _, ch := range r.Channels(app.ID, "") {
		names = append(names, ch.Name)
	}
	require.Equal(t, []string{"presence-x"}, names)

	select {
	case <-a.Done():
	default:
		t.Fatal("released connection must be closed")
	}
	require.ErrorIs(t, r.Subscribe(a, SubscribeRequest{Channel: "public"}), ErrConnClosed)
	_, ok := r.Channel(app.ID, "public")
	require.False(t, ok)
}

func TestRouter_UnsubscribeNonMemberIsNoop(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp()
	a := admitConn(t, r, app, "1.1")
	b := admitConn(t, r, app, "2.2")
	subscribe(t, r, a, "room")

	r.Unsubscribe(b, "room")
	r.Unsubscribe(b, "nowhere")

	info, ok := r.Channel(app.ID, "room")
	require.True(t, ok)
	require.Equal(t, 1, info.SubscriptionCount)

	r.Unsubscribe(a, "room")
	_, ok = r.Channel(app.ID, "room")
	require.False(t, ok, "channel is dropped with its last member")
}

func TestRouter_DuplicateSubscribeAcksAgain(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	c := admitConn(t, r, testApp(), "1.1")
	drain(c)

	subscribe(t, r, c, "room")
	subscribe(t, r, c, "room")

	require.Equal(t, []string{v1.EventSubscriptionSucceeded, v1.EventSubscriptionSucceeded}, eventNames(drain(c)))
	info, _ := r.Channel("app-1", "room")
	require.Equal(t, 1, info.SubscriptionCount)
}

func TestRouter_PublishAndForward(t *testing.T) {
	t.Parallel()

	fwd := &recordingForwarder{}
	r := NewRouter(discardLogger(), WithForwarder(fwd))
	app := testApp()
	a := admitConn(t, r, app, "1.1")
	b := admitConn(t, r, app, "2.2")
	subscribe(t, r, a, "news")
	subscribe(t, r, b, "news")
	drain(a)
	drain(b)

	n, err := r.Publish(context.Background(), Broadcast{
		AppID:          app.ID,
		Channel:        "news",
		Event:          "headline",
		Data:           json.RawMessage(`"hi"`),
		ExceptSocketID: "2.2",
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"headline"}, eventNames(drain(a)))
	require.Empty(t, drain(b))
	require.Len(t, fwd.broadcasts(), 1)

	require.Equal(t, 2, r.DeliverRemote(Broadcast{AppID: app.ID, Channel: "news", Event: "remote"}))
	require.Len(t, fwd.broadcasts(), 1, "remote deliveries are not forwarded again")

	n, err = r.Publish(context.Background(), Broadcast{AppID: app.ID, Channel: "empty", Event: "x"})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRouter_PublishForwardError(t *testing.T) {
	t.Parallel()

	fwd := &recordingForwarder{err: errors.New("bus down")}
	r := NewRouter(discardLogger(), WithForwarder(fwd))
	c := admitConn(t, r, testApp(), "1.1")
	subscribe(t, r, c, "news")

	n, err := r.Publish(context.Background(), Broadcast{AppID: "app-1", Channel: "news", Event: "e"})
	require.Error(t, err)
	require.Equal(t, 1, n, "local delivery does not depend on the bus")
}

func TestRouter_SlowConsumerIsEvicted(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	r := NewRouter(discardLogger(), WithMetrics(m))
	app := testApp()
	slow := NewConn("1.1", app, 1)
	require.NoError(t, r.Admit(slow))
	fast := admitConn(t, r, app, "2.2")

	subscribe(t, r, slow, "news") // the ack fills the queue
	subscribe(t, r, fast, "news")
	drain(fast)

	n, err := r.Publish(context.Background(), Broadcast{AppID: app.ID, Channel: "news", Event: "e"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, drain(fast), 1, "one full queue does not block others")

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow consumer must be closed")
	}
	code, _ := slow.CloseStatus()
	require.Equal(t, v1.CodeReconnect, code)

	info, ok := r.Channel(app.ID, "news")
	require.True(t, ok)
	require.Equal(t, 1, info.SubscriptionCount)
	require.Equal(t, 1, r.Connections().Count(app.ID))

	require.Equal(t, float64(1), testutil.ToFloat64(m.dropped.WithLabelValues(app.ID)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.connected.WithLabelValues(app.ID)))
}

func TestRouter_AdmitQuota(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	r := NewRouter(discardLogger(), WithMetrics(m))
	app := testApp(func(a *apps.App) { a.MaxConnections = 1 })

	first := admitConn(t, r, app, "1.1")
	require.ErrorIs(t, r.Admit(NewConn("2.2", app, 1)), ErrQuotaExceeded)
	require.Equal(t, float64(1), testutil.ToFloat64(m.admissions.WithLabelValues(app.ID, "over_quota")))

	r.Release(first)
	require.NoError(t, r.Admit(NewConn("2.2", app, 1)))
}

// Every member's roster rebuilt from member_added/member_removed matches the
// true roster after an arbitrary sequence of joins and leaves.
func TestRouter_PresenceRosterConsistency(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp()
	const channel = "presence-lobby"

	obs := NewConn("0.0", app, 4096)
	require.NoError(t, r.Admit(obs))
	joinPresence(t, r, obs, channel, "observer")

	seen := map[string]bool{}
	for _, id := range decode[v1.PresenceSubscriptionPayload](t, drain(obs)[0]).Presence.IDs {
		seen[id] = true
	}

	var conns []*Conn
	for u := 0; u < 5; u++ {
		for d := 0; d < 2; d++ {
			c := NewConn(fmt.Sprintf("%d.%d", u+1, d), app, 4096)
			require.NoError(t, r.Admit(c))
			conns = append(conns, c)
		}
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		c := conns[rng.Intn(len(conns))]
		user := "user-" + c.SocketID[:1]
		if c.IsSubscribed(channel) {
			r.Unsubscribe(c, channel)
		} else {
			joinPresence(t, r, c, channel, user)
		}
		drain(c)

		for _, f := range drain(obs) {
			p := decode[v1.MemberPayload](t, f)
			switch f.Event {
			case v1.EventMemberAdded:
				require.False(t, seen[p.UserID], "duplicate member_added for %s", p.UserID)
				seen[p.UserID] = true
			case v1.EventMemberRemoved:
				require.True(t, seen[p.UserID], "member_removed for unknown %s", p.UserID)
				delete(seen, p.UserID)
			}
		}
	}

	want := make([]string, 0)
	for _, m := range r.PresenceMembers(app.ID, channel) {
		want = append(want, m.UserID)
	}
	got := make([]string, 0, len(seen))
	for id := range seen {
		got = append(got, id)
	}
	sort.Strings(got)
	require.Equal(t, want, got)
}

func TestRouter_ConcurrentJoinLeaveDropsChannel(t *testing.T) {
	t.Parallel()

	r := NewRouter(discardLogger())
	app := testApp()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewConn(fmt.Sprintf("%d.0", i), app, 4096)
			if err := r.Admit(c); err != nil {
				t.Error(err)
				return
			}
			for j := 0; j < 50; j++ {
				m := Member{UserID: fmt.Sprintf("u%d", i%4)}
				if err := r.Subscribe(c, SubscribeRequest{Channel: "presence-hot", Member: &m}); err != nil {
					t.Error(err)
					return
				}
				_ = r.TriggerClientEvent(context.Background(), c, ClientEvent{Channel: "presence-hot", Event: "client-x"})
				r.Unsubscribe(c, "presence-hot")
				drain(c)
			}
			r.Release(c)
		}(i)
	}
	wg.Wait()

	_, ok := r.Channel(app.ID, "presence-hot")
	require.False(t, ok)
	require.Empty(t, r.Channels(app.ID, ""))
	require.Zero(t, r.Connections().Count(app.ID))
}
