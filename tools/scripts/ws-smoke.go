// Package main provides a CI-friendly WebSocket smoke test for a running pulse server.
//
// It validates:
//   - connection_established with a socket id
//   - pusher:ping -> pusher:pong
//   - private channel subscribe with a signed auth string
//   - client event fan-out to the other subscriber, never echoed to the sender
//   - presence member_added / member_removed between two users
//   - signed HTTP API publish reaching both clients (when -api is set)
//
// The target app must have client messages enabled.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"pulse/cmd/security/signature"
	v1 "pulse/shared/contracts/pusher/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name     string
	conn     *websocket.Conn
	socketID string

	inbox chan v1.Frame
	errCh chan error
}

type appCreds struct {
	id     string
	key    string
	secret string
}

func main() {
	var (
		wsBase   = flag.String("url", "ws://127.0.0.1:6001", "WebSocket base URL (the /app/{key} path is appended)")
		apiBase  = flag.String("api", "", "HTTP base URL for the signed publish step (skipped when empty)")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		appID    = flag.String("app-id", "app-id", "App id")
		appKey   = flag.String("key", "app-key", "App key")
		secret   = flag.String("secret", "app-secret", "App secret")
		private  = flag.String("channel", "private-smoke", "Private channel to use")
		presence = flag.String("presence", "presence-smoke", "Presence channel to use")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsBase); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if !strings.HasPrefix(*private, "private-") {
		fatalf("invalid -channel: must start with private-")
	}
	if !strings.HasPrefix(*presence, "presence-") {
		fatalf("invalid -presence: must start with presence-")
	}

	creds := appCreds{id: *appID, key: *appKey, secret: *secret}
	root := context.Background()

	a := mustConnect(root, "A", *wsBase, creds.key, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsBase, creds.key, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.socketID, b.socketID, *origin)
	}

	mustWrite(root, a.conn, v1.Frame{Event: v1.EventPing, Data: json.RawMessage(`{}`)}, *timeout)
	a.mustReadUntilEvent(root, v1.EventPong, *timeout)

	mustSubscribe(root, a, creds, *private, "", *timeout)
	mustSubscribe(root, b, creds, *private, "", *timeout)

	event := fmt.Sprintf("client-smoke-%d", time.Now().UnixNano())
	mustWrite(root, a.conn, v1.Frame{
		Event:   event,
		Channel: *private,
		Data:    mustJSON(map[string]string{"from": a.socketID}),
	}, *timeout)

	got := b.mustReadUntilEvent(root, event, *timeout)
	if got.Channel != *private {
		fatalf("client event channel mismatch: got=%q want=%q", got.Channel, *private)
	}
	a.mustAssertNoEvent(root, event, 1200*time.Millisecond)

	mustSubscribe(root, a, creds, *presence, `{"user_id":"smoke-a","user_info":{"name":"A"}}`, *timeout)
	ack := mustSubscribe(root, b, creds, *presence, `{"user_id":"smoke-b","user_info":{"name":"B"}}`, *timeout)

	var roster v1.PresenceSubscriptionPayload
	if err := v1.DecodeData(ack.Data, &roster); err != nil {
		fatalf("decode presence roster: %v", err)
	}
	if roster.Presence.Count != 2 {
		fatalf("presence count: got=%d want=2", roster.Presence.Count)
	}

	added := a.mustReadUntilEvent(root, v1.EventMemberAdded, *timeout)
	var member v1.MemberPayload
	if err := v1.DecodeData(added.Data, &member); err != nil {
		fatalf("decode member_added: %v", err)
	}
	if string(member.UserID) != "smoke-b" {
		fatalf("member_added user: got=%q want=%q", member.UserID, "smoke-b")
	}

	unsub := mustJSON(v1.UnsubscribePayload{Channel: *presence})
	mustWrite(root, b.conn, v1.Frame{Event: v1.EventUnsubscribe, Data: unsub}, *timeout)
	a.mustReadUntilEvent(root, v1.EventMemberRemoved, *timeout)

	if strings.TrimSpace(*apiBase) != "" {
		mustPublish(root, *apiBase, creds, *private, *timeout)
		a.mustReadUntilEvent(root, "smoke-backend", *timeout)
		b.mustReadUntilEvent(root, "smoke-backend", *timeout)
	}

	fmt.Printf("OK: A=%s B=%s channel=%s presence=%s\n", a.socketID, b.socketID, *private, *presence)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsBase, key, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	u, err := url.Parse(wsBase)
	if err != nil {
		fatalf("parse url: %v", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/app/" + url.PathEscape(key)
	u.RawQuery = "protocol=7&client=pulse-smoke&version=1.0"

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Frame, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	est := c.mustReadUntilEvent(parent, v1.EventConnectionEstablished, stepTimeout)

	var p v1.ConnectionEstablishedPayload
	if err := v1.DecodeData(est.Data, &p); err != nil {
		fatalf("decode connection_established (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SocketID) == "" {
		fatalf("connection_established missing socket_id (%s)", name)
	}
	c.socketID = p.SocketID

	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			var f v1.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- f:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustSubscribe(parent context.Context, c *smokeClient, creds appCreds, channel, channelData string, stepTimeout time.Duration) v1.Frame {
	data := mustJSON(v1.SubscribePayload{
		Channel:     channel,
		Auth:        signature.ChannelAuth(creds.key, creds.secret, c.socketID, channel, channelData),
		ChannelData: channelData,
	})
	mustWrite(parent, c.conn, v1.Frame{Event: v1.EventSubscribe, Data: data}, stepTimeout)

	for {
		f := c.mustReadUntilEvent(parent, v1.EventSubscriptionSucceeded, stepTimeout)
		if f.Channel == channel {
			return f
		}
	}
}

func mustPublish(parent context.Context, apiBase string, creds appCreds, channel string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body := mustJSON(map[string]string{
		"name":    "smoke-backend",
		"channel": channel,
		"data":    `{"ok":true}`,
	})
	path := "/apps/" + url.PathEscape(creds.id) + "/events"
	q := signature.SignRequest(creds.key, creds.secret, http.MethodPost, path, url.Values{}, body, time.Now())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(apiBase, "/")+path+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		fatalf("build publish request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("publish: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fatalf("publish: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
}

func (c *smokeClient) mustAssertNoEvent(parent context.Context, forbidden string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			failOnError(c, f)
			if f.Event == forbidden {
				fatalf("unexpected %s received (%s): events must not echo to the sender", forbidden, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilEvent(parent context.Context, want string, stepTimeout time.Duration) v1.Frame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", want, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", want, c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", want, c.name)
			}
			if f.Event == want {
				return f
			}
			failOnError(c, f)
		}
	}
}

func failOnError(c *smokeClient, f v1.Frame) {
	switch f.Event {
	case v1.EventError:
		var ep v1.ErrorPayload
		_ = v1.DecodeData(f.Data, &ep)
		fatalf("server error (%s): code=%d msg=%q", c.name, ep.Code, ep.Message)
	case v1.EventSubscriptionError:
		var sp v1.SubscriptionErrorPayload
		_ = v1.DecodeData(f.Data, &sp)
		fatalf("subscription error (%s) on %q: type=%s status=%d msg=%q", c.name, f.Channel, sp.Type, sp.Status, sp.Error)
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, f v1.Frame, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(f)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
