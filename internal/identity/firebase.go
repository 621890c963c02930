package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
)

var ErrInvalidToken = errors.New("invalid or expired ID token")

const anonymousProvider = "anonymous"

// TokenVerifier is satisfied by *auth.Client.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseVerifier builds principals from Firebase ID tokens.
type FirebaseVerifier struct {
	client TokenVerifier
}

func NewFirebaseVerifier(client TokenVerifier) *FirebaseVerifier {
	return &FirebaseVerifier{client: client}
}

// Verify checks idToken and returns the principal it was issued to.
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (models.Principal, error) {
	if idToken == "" {
		return models.Principal{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return principalFromToken(token), nil
}

func principalFromToken(token *auth.Token) models.Principal {
	claim := func(name string) string {
		value, _ := token.Claims[name].(string)
		return value
	}

	username := claim("username")
	if username == "" {
		if email := claim("email"); email != "" {
			username, _, _ = strings.Cut(email, "@")
		}
	}
	displayName := claim("name")
	if displayName == "" {
		displayName = username
	}

	return models.Principal{
		UID:         token.UID,
		DisplayName: displayName,
		Username:    username,
		AvatarURL:   claim("picture"),
		Anonymous:   token.Firebase.SignInProvider == anonymousProvider,
	}
}

// UserDeleter is satisfied by *auth.Client.
type UserDeleter interface {
	DeleteUser(ctx context.Context, uid string) error
}

// FirebaseAccounts removes Firebase sign-in accounts.
type FirebaseAccounts struct {
	client UserDeleter
}

func NewFirebaseAccounts(client UserDeleter) *FirebaseAccounts {
	return &FirebaseAccounts{client: client}
}

// DeleteAccount deletes the sign-in account of uid. An account that is already gone is
// not an error.
func (a *FirebaseAccounts) DeleteAccount(ctx context.Context, uid string) error {
	if err := a.client.DeleteUser(ctx, uid); err != nil && !auth.IsUserNotFound(err) {
		return fmt.Errorf("failed to delete account %s: %w", uid, err)
	}
	return nil
}
