package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pulse/cmd/internal/apps"
	"pulse/cmd/security/signature"
	v1 "pulse/shared/contracts/pusher/v1"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:6001", want: "http://127.0.0.1:6001"},
		{name: "bind all v4", in: "0.0.0.0:6001", want: "http://127.0.0.1:6001"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:6001", want: "ws://127.0.0.1:6001"},
		{in: "https://pulse.example.com", want: "wss://pulse.example.com"},
		{in: "127.0.0.1:6001", want: "ws://127.0.0.1:6001"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestStaticApps_FileWinsOverDefault(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "apps.yaml")
	doc := `apps:
  - id: app-id
    key: file-key
    secret: file-secret
  - id: other
    key: other-key
    secret: other-secret
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg := testConfig()
	cfg.AppsFile = path

	list, err := staticApps(cfg)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "file-key", list[0].Key)
	require.False(t, list[1].Enabled)

	cfg.DefaultApp.ID = "fresh"
	cfg.DefaultApp.Key = "fresh-key"
	list, err = staticApps(cfg)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "fresh", list[2].ID)
}

func TestStaticApps_MissingFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AppsFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := staticApps(cfg)
	require.Error(t, err)
}

func TestApp_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	srv := startTestApp(t)

	status, body := httpGet(t, srv.URL+"/healthz")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok\n", body)

	status, _ = httpGet(t, srv.URL+"/readyz")
	require.Equal(t, http.StatusOK, status)

	status, body = httpGet(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "go_goroutines")
}

func TestApp_ReadyzRequiresDB(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ReadinessRequireDB = true
	a, err := New(t.Context(), cfg, discardLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	status, _ := httpGet(t, srv.URL+"/readyz")
	require.Equal(t, http.StatusServiceUnavailable, status)
}

func TestApp_UnsignedAPIRequestRejected(t *testing.T) {
	t.Parallel()

	srv := startTestApp(t)

	status, _ := httpGet(t, srv.URL+"/apps/app-id/channels")
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestApp_BackendEventReachesSubscriber(t *testing.T) {
	t.Parallel()

	srv := startTestApp(t)
	cfg := testConfig()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/app/" + cfg.DefaultApp.Key
	u.RawQuery = "protocol=7"

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })

	f := readFrameWS(t, conn)
	require.Equal(t, v1.EventConnectionEstablished, f.Event)
	var est v1.ConnectionEstablishedPayload
	require.NoError(t, v1.DecodeData(f.Data, &est))
	require.NotEmpty(t, est.SocketID)

	data, err := v1.ObjectData(v1.SubscribePayload{Channel: "news"})
	require.NoError(t, err)
	sub, err := json.Marshal(v1.Frame{Event: v1.EventSubscribe, Data: data})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, sub))

	f = readFrameWS(t, conn)
	require.Equal(t, v1.EventSubscriptionSucceeded, f.Event)
	require.Equal(t, "news", f.Channel)

	body := []byte(`{"name":"headline","channel":"news","data":"{\"title\":\"hi\"}"}`)
	path := "/apps/" + cfg.DefaultApp.ID + "/events"
	q := signature.SignRequest(cfg.DefaultApp.Key, cfg.DefaultApp.Secret, http.MethodPost, path, url.Values{}, body, time.Now())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+path+"?"+q.Encode(), bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	f = readFrameWS(t, conn)
	require.Equal(t, "headline", f.Event)
	require.Equal(t, "news", f.Channel)
	require.JSONEq(t, `"{\"title\":\"hi\"}"`, string(f.Data))
}

func testConfig() Config {
	return Config{
		HTTPAddr:  "127.0.0.1:0",
		LogLevel:  "error",
		LogFormat: "json",
		DefaultApp: apps.App{
			ID:      "app-id",
			Key:     "app-key",
			Secret:  "app-secret",
			Enabled: true,
		},
		Limits: apps.DefaultLimits(),
	}
}

func startTestApp(t *testing.T) *httptest.Server {
	t.Helper()

	a, err := New(t.Context(), testConfig(), discardLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func httpGet(t *testing.T, u string) (int, string) {
	t.Helper()

	resp, err := http.Get(u)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func readFrameWS(t *testing.T, conn *websocket.Conn) v1.Frame {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	_, b, err := conn.Read(ctx)
	require.NoError(t, err)

	var f v1.Frame
	require.NoError(t, json.Unmarshal(b, &f))
	return f
}
