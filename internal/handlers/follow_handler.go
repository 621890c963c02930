package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/anonto42/nano-midea/livefeed/internal/middleware"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/anonto42/nano-midea/livefeed/internal/repositories"
	"github.com/labstack/echo/v4"
)

// FollowService resolves follow sets into profiles and removes accounts
type FollowService interface {
	ListFollowers(ctx context.Context, uid string) ([]models.Profile, error)
	ListFollowing(ctx context.Context, uid string) ([]models.Profile, error)
	Recommended(ctx context.Context, uid string) ([]models.Profile, error)
	DeleteAccount(ctx context.Context, uid string) error
}

// AccountDeleter removes a user's sign-in account
type AccountDeleter interface {
	DeleteAccount(ctx context.Context, uid string) error
}

// FollowHandler handles HTTP requests about users and their follow relationships
type FollowHandler struct {
	follows  FollowService
	accounts AccountDeleter
}

// NewFollowHandler creates a new FollowHandler. accounts may be nil, in which case
// deleting a user leaves its sign-in account in place.
func NewFollowHandler(follows FollowService, accounts AccountDeleter) *FollowHandler {
	return &FollowHandler{follows: follows, accounts: accounts}
}

// RegisterFollowRoutes registers user routes on the users group
func (h *FollowHandler) RegisterFollowRoutes(g *echo.Group) {
	g.GET("/:uid/followers", h.GetFollowers)
	g.GET("/:uid/following", h.GetFollowing)
	g.GET("/:uid/recommended", h.GetRecommended)
	g.DELETE("/:uid", h.DeleteUser)
}

type profilesResponse struct {
	Profiles []models.Profile `json:"profiles"`
}

// GetFollowers lists the profiles following a user
func (h *FollowHandler) GetFollowers(c echo.Context) error {
	return h.list(c, h.follows.ListFollowers)
}

// GetFollowing lists the profiles a user follows
func (h *FollowHandler) GetFollowing(c echo.Context) error {
	return h.list(c, h.follows.ListFollowing)
}

// GetRecommended lists the profiles a user does not follow yet
func (h *FollowHandler) GetRecommended(c echo.Context) error {
	return h.list(c, h.follows.Recommended)
}

// DeleteUser deletes the signed-in user's account, profile and posts
func (h *FollowHandler) DeleteUser(c echo.Context) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not signed in")
	}
	uid := c.Param("uid")
	if principal.UID != uid {
		return echo.NewHTTPError(http.StatusForbidden, "Users can only delete their own account")
	}

	ctx := c.Request().Context()
	if h.accounts != nil {
		if err := h.accounts.DeleteAccount(ctx, uid); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	if err := h.follows.DeleteAccount(ctx, uid); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "User not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *FollowHandler) list(c echo.Context, fn func(context.Context, string) ([]models.Profile, error)) error {
	profiles, err := fn(c.Request().Context(), c.Param("uid"))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "User not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if profiles == nil {
		profiles = []models.Profile{}
	}
	return c.JSON(http.StatusOK, profilesResponse{Profiles: profiles})
}
