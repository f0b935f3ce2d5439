package realtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"pulse/cmd/internal/apps"
	v1 "pulse/shared/contracts/pusher/v1"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testApp(mutate ...func(*apps.App)) apps.App {
	a := apps.App{
		ID:                   "app-1",
		Key:                  "app-key",
		Secret:               "app-secret",
		Enabled:              true,
		EnableClientMessages: true,
	}
	for _, m := range mutate {
		m(&a)
	}
	return a.WithDefaults(apps.DefaultLimits())
}

func admitConn(t *testing.T, r *Router, app apps.App, socketID string) *Conn {
	t.Helper()
	c := NewConn(socketID, app, 256)
	require.NoError(t, r.Admit(c))
	return c
}

func subscribe(t *testing.T, r *Router, c *Conn, channel string) {
	t.Helper()
	require.NoError(t, r.Subscribe(c, SubscribeRequest{Channel: channel}))
}

func joinPresence(t *testing.T, r *Router, c *Conn, channel, userID string) {
	t.Helper()
	m := Member{UserID: userID, UserInfo: []byte(`{"name":"` + userID + `"}`)}
	require.NoError(t, r.Subscribe(c, SubscribeRequest{Channel: channel, Member: &m}))
}

// drain returns every frame queued for c without blocking.
func drain(c *Conn) []v1.Frame {
	var out []v1.Frame
	for {
		select {
		case f := <-c.Send:
			out = append(out, f)
		default:
			return out
		}
	}
}

func eventNames(frames []v1.Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}

func findFrame(t *testing.T, frames []v1.Frame, event string) v1.Frame {
	t.Helper()
	for _, f := range frames {
		if f.Event == event {
			return f
		}
	}
	t.Fatalf("no %s frame in %v", event, eventNames(frames))
	return v1.Frame{}
}

func decode[T any](t *testing.T, f v1.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, v1.DecodeData(f.Data, &v))
	return v
}

type recordingForwarder struct {
	mu  sync.Mutex
	got []Broadcast
	err error
}

func (f *recordingForwarder) Forward(_ context.Context, b Broadcast) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, b)
	return f.err
}

func (f *recordingForwarder) broadcasts() []Broadcast {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Broadcast(nil), f.got...)
}
