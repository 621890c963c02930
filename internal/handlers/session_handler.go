package handlers

import (
	"errors"
	"net/http"

	"github.com/anonto42/nano-midea/livefeed/internal/gateway"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/anonto42/nano-midea/livefeed/internal/timeline"
	"github.com/labstack/echo/v4"
)

// SetFollowRequest defines the request body for following or unfollowing a profile
type SetFollowRequest struct {
	Following *bool `json:"following" validate:"required"`
}

type acceptedResponse struct {
	ID string `json:"id"`
}

func (h *TimelineHandler) session(c echo.Context) (*timeline.Session, error) {
	session, ok := h.registry.Get(c.Param("sid"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "Session not found")
	}
	return session, nil
}

func (h *TimelineHandler) sessionGateway(c echo.Context) (*gateway.Gateway, error) {
	session, err := h.session(c)
	if err != nil {
		return nil, err
	}
	gw, err := session.Gateway()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusGone, "Session closed")
	}
	return gw, nil
}

// Snapshot returns the current timeline of a session
func (h *TimelineHandler) Snapshot(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snapshotFrame{Type: frameSnapshot, Posts: nonNil(session.Snapshot())})
}

// CreatePost shows a pending post and commits it in the background
func (h *TimelineHandler) CreatePost(c echo.Context) error {
	gw, err := h.sessionGateway(c)
	if err != nil {
		return err
	}

	var req models.CreatePostRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}

	id, _, err := gw.CreatePost(req.Text, req.ImageURL)
	if err != nil {
		return mutationError(err)
	}
	return c.JSON(http.StatusAccepted, acceptedResponse{ID: id})
}

// DeletePost hides one of the viewer's posts and deletes it in the background
func (h *TimelineHandler) DeletePost(c echo.Context) error {
	gw, err := h.sessionGateway(c)
	if err != nil {
		return err
	}
	if _, err := gw.DeletePost(c.Param("id")); err != nil {
		return mutationError(err)
	}
	return c.JSON(http.StatusAccepted, acceptedResponse{ID: c.Param("id")})
}

// CreateReply shows a pending reply and commits it in the background
func (h *TimelineHandler) CreateReply(c echo.Context) error {
	gw, err := h.sessionGateway(c)
	if err != nil {
		return err
	}

	var req models.CreateReplyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}

	id, _, err := gw.CreateReply(c.Param("id"), req.Text)
	if err != nil {
		return mutationError(err)
	}
	return c.JSON(http.StatusAccepted, acceptedResponse{ID: id})
}

// DeleteReply hides one of the viewer's replies and deletes it in the background
func (h *TimelineHandler) DeleteReply(c echo.Context) error {
	gw, err := h.sessionGateway(c)
	if err != nil {
		return err
	}
	if _, err := gw.DeleteReply(c.Param("id")); err != nil {
		return mutationError(err)
	}
	return c.JSON(http.StatusAccepted, acceptedResponse{ID: c.Param("id")})
}

// ToggleLike flips the viewer's like on a post
func (h *TimelineHandler) ToggleLike(c echo.Context) error {
	gw, err := h.sessionGateway(c)
	if err != nil {
		return err
	}
	if _, err := gw.ToggleLike(c.Param("id")); err != nil {
		return mutationError(err)
	}
	return c.JSON(http.StatusAccepted, acceptedResponse{ID: c.Param("id")})
}

// SetFollow follows or unfollows a profile
func (h *TimelineHandler) SetFollow(c echo.Context) error {
	gw, err := h.sessionGateway(c)
	if err != nil {
		return err
	}

	var req SetFollowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if _, err := gw.SetFollow(c.Param("uid"), *req.Following); err != nil {
		return mutationError(err)
	}
	return c.JSON(http.StatusAccepted, acceptedResponse{ID: c.Param("uid")})
}

func mutationError(err error) error {
	var invalid *gateway.ValidationError
	switch {
	case errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusBadRequest, invalid.Error())
	case errors.Is(err, gateway.ErrNoViewer):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, gateway.ErrNotAuthor):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, gateway.ErrUnknownPost), errors.Is(err, gateway.ErrUnknownReply):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, gateway.ErrClosed):
		return echo.NewHTTPError(http.StatusConflict, "Viewer changed, retry against the current session state")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
