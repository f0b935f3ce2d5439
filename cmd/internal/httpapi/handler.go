package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pulse/cmd/internal/apps"
	"pulse/cmd/internal/realtime"
	"pulse/cmd/security/signature"
	v1 "pulse/shared/contracts/pusher/v1"

	"github.com/samber/lo"
)

// Engine is the part of the realtime router the API drives.
type Engine interface {
	Publish(ctx context.Context, b realtime.Broadcast) (int, error)
	Channels(appID, prefix string) []realtime.ChannelInfo
	Channel(appID, name string) (realtime.ChannelInfo, bool)
	PresenceMembers(appID, name string) []realtime.Member
}

// Config controls API limits and signature checks.
type Config struct {
	MaxBodyBytes int64
	MaxSkew      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 << 20 // 10 MiB
	}
	if c.MaxSkew <= 0 {
		c.MaxSkew = signature.DefaultMaxSkew
	}
	return c
}

// Handler wires the HTTP API onto the realtime engine.
type Handler struct {
	log    *slog.Logger
	cfg    Config
	apps   apps.Store
	engine Engine
	now    func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithClock overrides the clock used for signature timestamps.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h == nil || now == nil {
			return
		}
		h.now = now
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, store apps.Store, engine Engine, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil || engine == nil {
		return nil, errors.New("httpapi: nil app store or engine")
	}

	h := &Handler{
		log:    log,
		cfg:    cfg.withDefaults(),
		apps:   store,
		engine: engine,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires API routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /apps/{appId}/events", h.signed(h.handleEvents))
	mux.HandleFunc("POST /apps/{appId}/batch_events", h.signed(h.handleBatchEvents))
	mux.HandleFunc("GET /apps/{appId}/channels", h.signed(h.handleChannels))
	mux.HandleFunc("GET /apps/{appId}/channels/{channel}", h.signed(h.handleChannel))
	mux.HandleFunc("GET /apps/{appId}/channels/{channel}/users", h.signed(h.handleUsers))
}

type signedHandler func(w http.ResponseWriter, r *http.Request, app apps.App, body []byte)

// signed resolves the app and verifies the request signature before calling next.
func (h *Handler) signed(next signedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app, err := h.apps.FindByID(r.Context(), r.PathValue("appId"))
		if err != nil {
			if errors.Is(err, apps.ErrAppNotFound) {
				writeError(w, http.StatusNotFound, "app_not_found", "unknown app")
				return
			}
			h.log.Error("httpapi.app.lookup.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "app lookup failed")
			return
		}
		if !app.Enabled {
			writeError(w, http.StatusForbidden, "app_disabled", "app is disabled")
			return
		}

		body, err := readBody(w, r, h.cfg.MaxBodyBytes)
		if err != nil {
			if errors.Is(err, errBodyTooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
				return
			}
			writeError(w, http.StatusBadRequest, "bad_body", err.Error())
			return
		}

		err = signature.VerifyRequest(app.Key, app.Secret, signature.Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Body:   body,
		}, h.now(), h.cfg.MaxSkew)
		if err != nil {
			h.log.Info("httpapi.auth.fail", "app_id", app.ID, "path", r.URL.Path, "err", err)
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}

		next(w, r, app, body)
	}
}

// ---- handlers ----

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request, app apps.App, body []byte) {
	var req eventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if status, code, msg := validateEvent(app, &req); status != 0 {
		writeError(w, status, code, msg)
		return
	}
	h.publish(r.Context(), app, req)
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) handleBatchEvents(w http.ResponseWriter, r *http.Request, app apps.App, body []byte) {
	var req batchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if max := app.EventLimits.MaxBatchSize; max > 0 && len(req.Batch) > max {
		writeError(w, http.StatusBadRequest, "batch_too_large",
			fmt.Sprintf("Cannot batch-send more than %d messages at once.", max))
		return
	}

	// Validate the whole batch before publishing any of it.
	for i := range req.Batch {
		if status, code, msg := validateEvent(app, &req.Batch[i]); status != 0 {
			writeError(w, status, code, fmt.Sprintf("batch[%d]: %s", i, msg))
			return
		}
	}
	for _, ev := range req.Batch {
		h.publish(r.Context(), app, ev)
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) handleChannels(w http.ResponseWriter, r *http.Request, app apps.App, _ []byte) {
	prefix := r.URL.Query().Get("filter_by_prefix")
	withUsers := lo.Contains(splitInfo(r), "user_count")
	if withUsers && !strings.HasPrefix(prefix, v1.PresencePrefix) {
		writeError(w, http.StatusBadRequest, "bad_request", "user_count requires filter_by_prefix=presence-")
		return
	}

	out := channelsResponse{Channels: make(map[string]channelSummary)}
	for _, ch := range h.engine.Channels(app.ID, prefix) {
		var s channelSummary
		if withUsers {
			s.UserCount = lo.ToPtr(ch.UserCount)
		}
		out.Channels[ch.Name] = s
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleChannel(w http.ResponseWriter, r *http.Request, app apps.App, _ []byte) {
	name := r.PathValue("channel")
	info := splitInfo(r)

	ch, occupied := h.engine.Channel(app.ID, name)
	out := channelResponse{Occupied: occupied}
	if lo.Contains(info, "subscription_count") {
		out.SubscriptionCount = lo.ToPtr(ch.SubscriptionCount)
	}
	if lo.Contains(info, "user_count") {
		if ch.Kind != realtime.KindPresence {
			writeError(w, http.StatusBadRequest, "bad_request", "user_count is only available for presence channels")
			return
		}
		out.UserCount = lo.ToPtr(ch.UserCount)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request, app apps.App, _ []byte) {
	name := r.PathValue("channel")
	if realtime.KindOf(name) != realtime.KindPresence {
		writeError(w, http.StatusBadRequest, "bad_request", "users are only available for presence channels")
		return
	}
	members := h.engine.PresenceMembers(app.ID, name)
	writeJSON(w, http.StatusOK, usersResponse{
		Users: lo.Map(members, func(m realtime.Member, _ int) userResponse { return userResponse{ID: m.UserID} }),
	})
}

// ---- helpers ----

// validateEvent normalizes req.Channels and applies the app's event limits.
// A zero status means the event is valid.
func validateEvent(app apps.App, req *eventRequest) (int, string, string) {
	if strings.TrimSpace(req.Name) == "" {
		return http.StatusBadRequest, "bad_request", "missing event name"
	}
	if req.Channel != "" {
		req.Channels = append(req.Channels, req.Channel)
		req.Channel = ""
	}
	req.Channels = lo.Uniq(lo.Compact(req.Channels))
	if len(req.Channels) == 0 {
		return http.StatusBadRequest, "bad_request", "missing channel"
	}

	if max := app.EventLimits.MaxChannelsAtOnce; max > 0 && len(req.Channels) > max {
		return http.StatusBadRequest, "too_many_channels",
			fmt.Sprintf("Cannot broadcast to more than %d channels at once.", max)
	}
	if max := app.EventLimits.MaxNameLength; max > 0 && len(req.Name) > max {
		return http.StatusRequestEntityTooLarge, "event_name_too_long",
			fmt.Sprintf("Event name is too long. Maximum allowed size is %d.", max)
	}
	if max := app.EventLimits.MaxPayloadInKB; max > 0 && float64(len(req.Data))/1024 > max {
		return http.StatusRequestEntityTooLarge, "payload_too_large",
			fmt.Sprintf("The event data should be less than %v KB.", max)
	}
	for _, ch := range req.Channels {
		if v := realtime.CheckChannelName(app, ch); v != nil {
			return http.StatusBadRequest, "channel_name_too_long", v.Message
		}
	}
	return 0, "", ""
}

func (h *Handler) publish(ctx context.Context, app apps.App, req eventRequest) {
	for _, ch := range req.Channels {
		n, err := h.engine.Publish(ctx, realtime.Broadcast{
			AppID:          app.ID,
			Channel:        ch,
			Event:          req.Name,
			Data:           req.Data,
			ExceptSocketID: req.SocketID,
		})
		if err != nil {
			h.log.Warn("httpapi.publish.forward.fail", "app_id", app.ID, "channel", ch, "err", err)
		}
		h.log.Debug("httpapi.publish", "app_id", app.ID, "channel", ch, "event", req.Name, "recipients", n)
	}
}

func splitInfo(r *http.Request) []string {
	raw := r.URL.Query().Get("info")
	if raw == "" {
		return nil
	}
	return lo.Map(strings.Split(raw, ","), func(s string, _ int) string { return strings.TrimSpace(s) })
}
