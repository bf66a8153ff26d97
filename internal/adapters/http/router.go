// Package http serves the local control API: session and handle status,
// streaming mountpoints and videocall registration.
package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/marekhoryna/janus-client/internal/app/session"
	"github.com/marekhoryna/janus-client/internal/domain"
	"github.com/marekhoryna/janus-client/internal/plugins/streaming"
	"github.com/marekhoryna/janus-client/internal/plugins/videocall"
)

const (
	requestTimeout = 10 * time.Second

	registerLimit  = 5
	registerWindow = time.Minute

	codeNoSuchMountpoint = 455
)

type Controller struct {
	sess    *session.Session
	streams *streaming.Client

	mu     sync.Mutex
	calls  *videocall.Client
	caller string
}

// NewController serves s. streams may be nil when no streaming handle is
// attached.
func NewController(s *session.Session, streams *streaming.Client) *Controller {
	return &Controller{sess: s, streams: streams}
}

type sessionView struct {
	ID        domain.SessionID `json:"id"`
	Server    string           `json:"server"`
	Connected bool             `json:"connected"`
	Handles   int              `json:"handles"`
}

type handleView struct {
	ID         domain.HandleID `json:"id"`
	Plugin     string          `json:"plugin"`
	OpaqueID   string          `json:"opaque_id"`
	State      string          `json:"state"`
	AudioMuted bool            `json:"audio_muted"`
	VideoMuted bool            `json:"video_muted"`
	Bitrate    uint64          `json:"bitrate"`
}

type mountpointView struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Metadata    string `json:"metadata,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

func viewMountpoint(m streaming.Mountpoint) mountpointView {
	return mountpointView{ID: m.ID, Type: m.Type, Description: m.Description, Metadata: m.Metadata, Enabled: m.Enabled}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,alphanum,max=64"`
}

// SetupRouter builds the gin engine. mode follows the config: "release"
// silences gin, "debug" adds its request logger.
func SetupRouter(ctl *Controller, mode string) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/session", ctl.getSession)
	api.GET("/handles", ctl.listHandles)
	api.GET("/streams", ctl.listStreams)
	api.GET("/streams/:id", ctl.getStream)
	api.POST("/videocall/register", NewRateLimiter(registerLimit, registerWindow).Middleware(), ctl.register)

	log.Info().Str("module", "adapters.http").Str("mode", mode).Msg("router setup")
	return r
}

// Handler wraps the router with CORS for the given origins; none means any.
func Handler(r *gin.Engine, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

func (ctl *Controller) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, sessionView{
		ID:        ctl.sess.ID(),
		Server:    ctl.sess.Server(),
		Connected: ctl.sess.IsConnected(),
		Handles:   len(ctl.sess.Handles()),
	})
}

func (ctl *Controller) listHandles(c *gin.Context) {
	handles := ctl.sess.Handles()
	out := make([]handleView, 0, len(handles))
	for _, h := range handles {
		out = append(out, handleView{
			ID:         h.ID(),
			Plugin:     h.Plugin(),
			OpaqueID:   h.OpaqueID(),
			State:      h.State().String(),
			AudioMuted: h.IsAudioMuted(),
			VideoMuted: h.IsVideoMuted(),
			Bitrate:    h.Bitrate(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"handles": out})
}

func (ctl *Controller) listStreams(c *gin.Context) {
	if ctl.streams == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "streaming plugin not attached"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	list, err := ctl.streams.List(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]mountpointView, 0, len(list))
	for _, m := range list {
		out = append(out, viewMountpoint(m))
	}
	c.JSON(http.StatusOK, gin.H{"streams": out})
}

func (ctl *Controller) getStream(c *gin.Context) {
	if ctl.streams == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "streaming plugin not attached"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	m, err := ctl.streams.Info(ctx, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewMountpoint(*m))
}

func (ctl *Controller) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid username"})
		return
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.caller != "" {
		c.JSON(http.StatusConflict, gin.H{"error": "already registered", "username": ctl.caller})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	if ctl.calls == nil {
		vc, err := videocall.Attach(ctx, ctl.sess, session.HandleCallbacks{})
		if err != nil {
			fail(c, err)
			return
		}
		ctl.calls = vc
	}
	if err := ctl.calls.Register(ctx, req.Username); err != nil {
		fail(c, err)
		return
	}
	ctl.caller = req.Username
	log.Info().Str("module", "adapters.http").Str("username", req.Username).Msg("videocall registered")
	c.JSON(http.StatusOK, gin.H{"username": req.Username, "handle": ctl.calls.Handle().ID()})
}

// fail maps client errors to status codes. Plugin and gateway failures
// keep their Janus code in the body.
func fail(c *gin.Context, err error) {
	var gw *domain.GatewayError
	switch {
	case errors.As(err, &gw):
		status := http.StatusBadGateway
		if gw.Code == codeNoSuchMountpoint {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": gw.Reason, "code": gw.Code})
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrSessionClosed), errors.Is(err, domain.ErrConnection):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
