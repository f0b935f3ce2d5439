package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"pulse/cmd/internal/apps"
	v1 "pulse/shared/contracts/pusher/v1"

	"github.com/coder/websocket"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// GatewayConfig tunes the WebSocket transport. Zero values fall back to defaults.
type GatewayConfig struct {
	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	// Inbound frame flood guard, per connection.
	RateEvents int
	RateWindow time.Duration
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = wsDefaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		// Clients ping after activity_timeout of silence.
		c.ReadIdleTimeout = activityTimeoutSeconds*time.Second + 30*time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = wsDefaultSendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	return c
}

// WSGateway is the Pusher protocol WebSocket entrypoint (GET /app/{key}).
//
// It resolves the app, enforces per-app origin policy and the connection quota,
// keeps the socket alive, and routes subscribe, unsubscribe and client event
// frames to the Router.
type WSGateway struct {
	log    *slog.Logger
	apps   apps.Store
	router *Router
	auth   AuthVerifier
	cfg    GatewayConfig
}

// NewWSGateway constructs a gateway. A nil verifier defaults to HMACVerifier.
func NewWSGateway(log *slog.Logger, store apps.Store, router *Router, verifier AuthVerifier, cfg GatewayConfig) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if router == nil {
		router = NewRouter(log)
	}
	if verifier == nil {
		verifier = HMACVerifier{}
	}
	return &WSGateway{
		log:    log,
		apps:   store,
		router: router,
		auth:   verifier,
		cfg:    cfg.withDefaults(),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the connection until either side closes.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin is enforced per app after the upgrade so the client sees close code 4009.
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	app, code, reason := g.resolveApp(ctx, r)
	if code != 0 {
		g.log.Info("ws.reject", "code", code, "reason", reason, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.fail(ctx, conn, code, reason)
		return
	}

	c := NewConn(NewSocketID(), app, g.cfg.SendQueueSize)
	if err := g.router.Admit(c); err != nil {
		g.fail(ctx, conn, v1.CodeOverQuota, "The current concurrent connections quota has been reached.")
		return
	}
	defer g.router.Release(c)

	established, _ := v1.StringData(v1.ConnectionEstablishedPayload{
		SocketID:        c.SocketID,
		ActivityTimeout: activityTimeoutSeconds,
	})
	c.deliver(v1.Frame{Event: v1.EventConnectionEstablished, Data: established})

	log := g.log.With("app_id", app.ID, "socket_id", c.SocketID)
	log.Info("ws.open", "remote", r.RemoteAddr)

	var closeOnce sync.Once
	// closeTransport runs once the connection is shutting down; it unblocks the reader.
	closeTransport := func() {
		closeOnce.Do(func() {
			code, reason := c.CloseStatus()
			_ = conn.Close(statusFor(code), reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				closeTransport()
				return
			case f := <-c.Send:
				if err := writeFrame(ctx, conn, f, g.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					c.CloseWith(int(websocket.StatusAbnormalClosure), "write failed")
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						c.CloseWith(int(websocket.StatusGoingAway), "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	guard := newFloodGuard(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		f, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				c.CloseWith(int(websocket.StatusNormalClosure), "peer closed")
				break readLoop
			case readErrCtxDone:
				c.CloseWith(int(websocket.StatusNormalClosure), "idle")
				break readLoop
			case readErrConnClosed:
				c.CloseWith(int(websocket.StatusAbnormalClosure), "conn closed")
				break readLoop
			case readErrBadJSON:
				log.Debug("ws.frame.invalid", "err", err)
				continue readLoop
			default:
				log.Info("ws.read.fail", "err", err)
				c.CloseWith(int(websocket.StatusAbnormalClosure), "read failed")
				break readLoop
			}
		}

		if !guard.allow(time.Now()) {
			log.Warn("ws.flood", "limit", g.cfg.RateEvents, "window", g.cfg.RateWindow)
			c.CloseWith(int(websocket.StatusPolicyViolation), "rate limited")
			break readLoop
		}

		if err := f.Validate(); err != nil {
			log.Debug("ws.frame.invalid", "err", err)
			continue readLoop
		}

		switch {
		case f.Event == v1.EventPing:
			pong, _ := v1.StringData(struct{}{})
			c.deliver(v1.Frame{Event: v1.EventPong, Data: pong})

		case f.Event == v1.EventSubscribe:
			g.onSubscribe(c, f)

		case f.Event == v1.EventUnsubscribe:
			var p v1.UnsubscribePayload
			if err := v1.DecodeData(f.Data, &p); err != nil {
				log.Debug("ws.unsubscribe.invalid", "err", err)
				continue readLoop
			}
			g.router.Unsubscribe(c, p.Channel)

		case v1.IsClientEvent(f.Event):
			_ = g.router.TriggerClientEvent(ctx, c, ClientEvent{
				Channel: f.Channel,
				Event:   f.Event,
				Data:    f.Data,
			})

		default:
			log.Debug("ws.frame.ignored", "event", f.Event)
		}
	}

	g.router.Release(c)
	closeTransport()
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}

	code, reason = c.CloseStatus()
	log.Info("ws.close", "code", code, "reason", reason)
}

// resolveApp validates the connect request. A non-zero code rejects it.
func (g *WSGateway) resolveApp(ctx context.Context, r *http.Request) (apps.App, int, string) {
	if p := strings.TrimSpace(r.URL.Query().Get("protocol")); p != "" {
		if n, err := strconv.Atoi(p); err != nil || n < v1.MinProtocolVersion {
			return apps.App{}, v1.CodeUnsupportedProtocol, fmt.Sprintf("Unsupported protocol version %s.", p)
		}
	}

	key := r.PathValue("key")
	if key == "" {
		key = strings.TrimPrefix(r.URL.Path, "/app/")
	}

	app, err := g.apps.FindByKey(ctx, key)
	if err != nil {
		if !errors.Is(err, apps.ErrAppNotFound) {
			g.log.Error("apps.lookup.fail", "err", err)
		}
		return apps.App{}, v1.CodeAppNotFound, fmt.Sprintf("App key %s does not exist.", key)
	}
	if !app.Enabled {
		return apps.App{}, v1.CodeAppDisabled, "The app is not enabled."
	}
	if !originAllowed(app.AllowedOrigins, r.Header.Get("Origin")) {
		return apps.App{}, v1.CodeOriginNotAllowed, "The origin is not allowed for this app."
	}
	return app, 0, ""
}

// fail sends pusher:error and closes with the same code, before admission.
func (g *WSGateway) fail(ctx context.Context, conn *websocket.Conn, code int, reason string) {
	data, _ := v1.ObjectData(v1.ErrorPayload{Code: code, Message: reason})
	if err := writeFrame(ctx, conn, v1.Frame{Event: v1.EventError, Data: data}, g.cfg.WriteTimeout); err != nil {
		g.log.Debug("ws.write.fail", "err", err)
	}
	_ = conn.Close(websocket.StatusCode(code), reason)
}

func (g *WSGateway) onSubscribe(c *Conn, f v1.Frame) {
	var p v1.SubscribePayload
	if err := v1.DecodeData(f.Data, &p); err != nil || strings.TrimSpace(p.Channel) == "" {
		_ = g.router.RejectSubscription(c, p.Channel, InvalidSubscription("Invalid subscribe payload."))
		return
	}

	// Name length is checked ahead of the signature.
	if v := CheckChannelName(c.App, p.Channel); v != nil {
		_ = g.router.RejectSubscription(c, p.Channel, v)
		return
	}

	req := SubscribeRequest{Channel: p.Channel}
	kind := KindOf(p.Channel)
	if kind.RequiresAuth() {
		if err := g.auth.VerifySubscription(c.App, c.SocketID, p.Channel, p.Auth, p.ChannelData); err != nil {
			_ = g.router.RejectSubscription(c, p.Channel, AuthViolation("Invalid signature: "+err.Error()))
			return
		}
	}
	if kind == KindPresence {
		m, err := ParseMember(p.ChannelData)
		if err != nil {
			_ = g.router.RejectSubscription(c, p.Channel, InvalidSubscription("Invalid presence channel_data."))
			return
		}
		req.Member = &m
	}

	_ = g.router.Subscribe(c, req)
}

// statusFor maps an engine close code onto a websocket status.
func statusFor(code int) websocket.StatusCode {
	if code == 0 {
		return websocket.StatusNormalClosure
	}
	return websocket.StatusCode(code)
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) (v1.Frame, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Frame{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Frame{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var f v1.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return v1.Frame{}, err
	}
	return f, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, f v1.Frame, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

// originAllowed reports whether origin passes an app's allowlist.
// An empty allowlist allows everything. Entries may be full origins, bare hosts,
// host glob patterns ("*.example.com") or "*".
func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	origin = strings.TrimSpace(origin)
	originHost := originHostOnly(origin)

	for _, a := range allowed {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*":
			return true
		case origin != "" && origin == a:
			return true
		}

		h := originHostOnly(a)
		if originHost == "" || h == "" {
			continue
		}
		if h == originHost {
			return true
		}
		if ok, err := path.Match(h, originHost); err == nil && ok {
			return true
		}
	}
	return false
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}
