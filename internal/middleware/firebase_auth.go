package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/labstack/echo/v4"
)

const principalKey = "principal"

// Verifier turns an ID token into a principal.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (models.Principal, error)
}

// FirebaseAuthMiddleware creates an Echo middleware that requires a valid Firebase ID
// token and stores the principal in the context.
func FirebaseAuthMiddleware(verifier Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			idToken, err := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return err
			}

			principal, err := verifier.Verify(c.Request().Context(), idToken)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			c.Set(principalKey, principal)
			return next(c)
		}
	}
}

// BearerToken extracts the token of an Authorization header.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is missing")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Authorization header must be in Bearer format")
	}
	return token, nil
}

// PrincipalFrom returns the principal stored by FirebaseAuthMiddleware.
func PrincipalFrom(c echo.Context) (models.Principal, bool) {
	principal, ok := c.Get(principalKey).(models.Principal)
	return principal, ok
}
