package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/anonto42/nano-midea/livefeed/internal/gateway"
	"github.com/anonto42/nano-midea/livefeed/internal/identity"
	"github.com/anonto42/nano-midea/livefeed/internal/middleware"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/anonto42/nano-midea/livefeed/internal/timeline"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// TimelineHandler streams live timelines over websockets and accepts mutations for
// open sessions
type TimelineHandler struct {
	registry *timeline.Registry
	deps     timeline.Deps
	verifier middleware.Verifier
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewTimelineHandler creates a new TimelineHandler. A nil verifier accepts guests only.
func NewTimelineHandler(registry *timeline.Registry, deps timeline.Deps, verifier middleware.Verifier, logger zerolog.Logger) *TimelineHandler {
	return &TimelineHandler{
		registry: registry,
		deps:     deps,
		verifier: verifier,
		logger:   logger.With().Str("component", "handlers").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// RegisterTimelineRoutes registers the stream and the session mutation routes
func (h *TimelineHandler) RegisterTimelineRoutes(g *echo.Group) {
	g.GET("/timeline/:origin/:uid", h.Stream)

	sessions := g.Group("/sessions/:sid")
	sessions.GET("", h.Snapshot)
	sessions.POST("/posts", h.CreatePost)
	sessions.DELETE("/posts/:id", h.DeletePost)
	sessions.POST("/posts/:id/replies", h.CreateReply)
	sessions.POST("/posts/:id/like", h.ToggleLike)
	sessions.DELETE("/replies/:id", h.DeleteReply)
	sessions.PUT("/follows/:uid", h.SetFollow)
}

// Stream opens a session and sends its snapshot after every change
func (h *TimelineHandler) Stream(c echo.Context) error {
	scope := timeline.Scope{Origin: timeline.Origin(c.Param("origin")), ProfileID: c.Param("uid")}
	if err := scope.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	principal := identity.Guest(scope.ProfileID)
	if token := c.QueryParam("token"); token != "" {
		verified, err := h.verify(ctx, token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		principal = verified
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	session, err := h.registry.Open(context.WithoutCancel(ctx), scope, &principal, h.deps, h.logger)
	if err != nil {
		h.logger.Error().Err(err).Str("scope", scope.String()).Msg("failed to open session")
		_ = writeFrame(ws, errorFrame{Type: frameError, Message: "failed to open timeline"})
		return nil
	}
	defer h.registry.Remove(session.ID())

	logger := h.logger.With().Str("session", session.ID()).Logger()
	logger.Info().Str("scope", scope.String()).Str("viewer", principal.UID).Msg("timeline stream opened")

	changed := make(chan struct{}, 1)
	outbox := make(chan any, 16)
	done := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)
	send := func(frame any) {
		select {
		case outbox <- frame:
		case <-stop:
		}
	}

	stopView := session.OnViewChanged(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer stopView()
	stopSettled := session.OnSettled(func(out gateway.Outcome, err error) {
		send(newMutationFrame(out, err))
	})
	defer stopSettled()

	if err := writeFrame(ws, helloFrame{Type: frameHello, Session: session.ID(), Viewer: session.Principal()}); err != nil {
		return nil
	}
	changed <- struct{}{}

	go func() {
		defer close(done)
		h.readLoop(ws, session, scope, send, logger)
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-done:
			logger.Info().Msg("timeline stream closed")
			return nil
		case <-changed:
			err = writeFrame(ws, snapshotFrame{Type: frameSnapshot, Posts: nonNil(session.Snapshot())})
		case frame := <-outbox:
			err = writeFrame(ws, frame)
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			err = ws.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			logger.Debug().Err(err).Msg("failed to write frame")
			return nil
		}
	}
}

// readLoop handles client frames until the connection fails.
func (h *TimelineHandler) readLoop(ws *websocket.Conn, session *timeline.Session, scope timeline.Scope, send func(any), logger zerolog.Logger) {
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("timeline stream read failed")
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			send(errorFrame{Type: frameError, Message: "malformed frame"})
			continue
		}

		switch frame.Type {
		case frameAuth:
			principal, err := h.verify(context.Background(), frame.Token)
			if err != nil {
				send(errorFrame{Type: frameError, Message: err.Error()})
				continue
			}
			session.SetPrincipal(&principal)
		case frameSignout:
			guest := identity.Guest(scope.ProfileID)
			session.SetPrincipal(&guest)
		default:
			send(errorFrame{Type: frameError, Message: "unknown frame type " + frame.Type})
		}
	}
}

func (h *TimelineHandler) verify(ctx context.Context, token string) (models.Principal, error) {
	if h.verifier == nil {
		return models.Principal{}, errors.New("sign-in is not available")
	}
	return h.verifier.Verify(ctx, token)
}

func writeFrame(ws *websocket.Conn, frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, payload)
}

func nonNil(posts []models.Post) []models.Post {
	if posts == nil {
		return []models.Post{}
	}
	return posts
}
