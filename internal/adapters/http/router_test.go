package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/marekhoryna/janus-client/internal/app/session"
	"github.com/marekhoryna/janus-client/internal/gatewaytest"
	"github.com/marekhoryna/janus-client/internal/plugins/streaming"
	"github.com/marekhoryna/janus-client/internal/plugins/videocall"
)

func setup(t *testing.T, withStreaming bool) (*gin.Engine, *session.Session) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gw := gatewaytest.New()
	gw.HandlePlugin(streaming.PluginName, gatewaytest.StreamingPlugin(
		gatewaytest.Mountpoint{ID: 1, Type: "live", Description: "Opus/VP8 live stream"},
		gatewaytest.Mountpoint{ID: 2, Type: "on demand", Description: "Recorded"},
	))
	gw.HandlePlugin(videocall.PluginName, gatewaytest.VideoCallPlugin())

	s, err := session.Create(context.Background(), session.Options{
		Servers:            []string{"ws://gateway"},
		Dialer:             gw,
		KeepalivePeriod:    time.Hour,
		TransactionTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { _ = s.Destroy(context.Background(), session.DestroyOptions{}) })

	var streams *streaming.Client
	if withStreaming {
		streams, err = streaming.Attach(context.Background(), s, session.HandleCallbacks{})
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
	}
	return SetupRouter(NewController(s, streams), "test"), s
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetSession(t *testing.T) {
	r, s := setup(t, true)

	w := do(r, http.MethodGet, "/api/session", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body)
	}
	var got sessionView
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != s.ID() || !got.Connected || got.Handles != 1 || got.Server != "ws://gateway" {
		t.Fatalf("session=%+v", got)
	}
}

func TestListHandles(t *testing.T) {
	r, _ := setup(t, true)

	w := do(r, http.MethodGet, "/api/handles", "")
	var got struct {
		Handles []handleView `json:"handles"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Handles) != 1 || got.Handles[0].Plugin != streaming.PluginName || got.Handles[0].State != "idle" || got.Handles[0].Bitrate != 0 {
		t.Fatalf("handles=%+v", got.Handles)
	}
}

func TestStreams(t *testing.T) {
	r, _ := setup(t, true)

	w := do(r, http.MethodGet, "/api/streams", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status=%d body=%s", w.Code, w.Body)
	}
	var list struct {
		Streams []mountpointView `json:"streams"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Streams) != 2 {
		t.Fatalf("streams=%+v", list.Streams)
	}

	w = do(r, http.MethodGet, "/api/streams/2", "")
	var mp mountpointView
	if err := json.Unmarshal(w.Body.Bytes(), &mp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusOK || mp.ID != "2" || mp.Description != "Recorded" {
		t.Fatalf("status=%d mountpoint=%+v", w.Code, mp)
	}

	w = do(r, http.MethodGet, "/api/streams/99", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown mountpoint status=%d body=%s", w.Code, w.Body)
	}
}

func TestStreamsWithoutPlugin(t *testing.T) {
	r, _ := setup(t, false)
	if w := do(r, http.MethodGet, "/api/streams", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestRegister(t *testing.T) {
	r, s := setup(t, false)

	if w := do(r, http.MethodPost, "/api/videocall/register", `{"username":""}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty username status=%d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/videocall/register", `{"username":"no spaces"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad username status=%d", w.Code)
	}

	w := do(r, http.MethodPost, "/api/videocall/register", `{"username":"alice"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body)
	}
	if len(s.Handles()) != 1 {
		t.Fatalf("handles=%d", len(s.Handles()))
	}

	if w := do(r, http.MethodPost, "/api/videocall/register", `{"username":"bob"}`); w.Code != http.StatusConflict {
		t.Fatalf("second register status=%d", w.Code)
	}
}

func TestHandler_CORS(t *testing.T) {
	r, _ := setup(t, false)
	h := Handler(r, []string{"https://console.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Origin", "https://console.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example.com" {
		t.Fatalf("allow origin=%q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}
