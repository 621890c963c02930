package identity_test

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/anonto42/nano-midea/livefeed/internal/identity"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/stretchr/testify/require"
)

func TestProvider(t *testing.T) {
	t.Parallel()

	t.Run("notifies on change only", func(t *testing.T) {
		t.Parallel()

		p := identity.NewProvider(nil)
		var seen []*models.Principal
		cancel := p.OnPrincipalChanged(func(principal *models.Principal) {
			seen = append(seen, principal)
		})

		alice := models.Principal{UID: "alice"}
		p.Set(&alice)
		p.Set(&models.Principal{UID: "alice"})
		p.Set(nil)
		p.Set(nil)

		require.Len(t, seen, 2)
		require.Equal(t, "alice", seen[0].UID)
		require.Nil(t, seen[1])

		cancel()
		cancel()
		p.Set(&alice)
		require.Len(t, seen, 2)
		require.Equal(t, "alice", p.Current().UID)
	})

	t.Run("current is a copy", func(t *testing.T) {
		t.Parallel()

		p := identity.NewProvider(&models.Principal{UID: "bob"})
		p.Current().UID = "mallory"
		require.Equal(t, "bob", p.Current().UID)
	})
}

func TestGuest(t *testing.T) {
	t.Parallel()

	guest := identity.Guest("u1")
	require.Equal(t, "guest_u1", guest.UID)
	require.True(t, guest.Anonymous)
	require.True(t, guest.IsGuest())
	require.False(t, guest.Verified())
}

type fakeVerifier struct {
	tokens map[string]*auth.Token
}

func (f fakeVerifier) VerifyIDToken(_ context.Context, idToken string) (*auth.Token, error) {
	token, ok := f.tokens[idToken]
	if !ok {
		return nil, errors.New("token expired")
	}
	return token, nil
}

func TestFirebaseVerifier(t *testing.T) {
	t.Parallel()

	verifier := identity.NewFirebaseVerifier(fakeVerifier{tokens: map[string]*auth.Token{
		"good": {
			UID:      "u1",
			Firebase: auth.FirebaseInfo{SignInProvider: "google.com"},
			Claims:   map[string]any{"name": "Uno", "email": "uno@example.com", "picture": "https://example.com/u1.png"},
		},
		"anon": {
			UID:      "a1",
			Firebase: auth.FirebaseInfo{SignInProvider: "anonymous"},
		},
	}})
	ctx := context.Background()

	principal, err := verifier.Verify(ctx, "good")
	require.NoError(t, err)
	require.Equal(t, models.Principal{
		UID:         "u1",
		DisplayName: "Uno",
		Username:    "uno",
		AvatarURL:   "https://example.com/u1.png",
	}, principal)
	require.True(t, principal.Verified())

	principal, err = verifier.Verify(ctx, "anon")
	require.NoError(t, err)
	require.True(t, principal.Anonymous)

	_, err = verifier.Verify(ctx, "bad")
	require.ErrorIs(t, err, identity.ErrInvalidToken)
	_, err = verifier.Verify(ctx, "")
	require.ErrorIs(t, err, identity.ErrInvalidToken)
}

type fakeDeleter struct {
	deleted []string
	err     error
}

func (f *fakeDeleter) DeleteUser(_ context.Context, uid string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, uid)
	return nil
}

func TestFirebaseAccounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("deletes the account", func(t *testing.T) {
		t.Parallel()

		deleter := &fakeDeleter{}
		require.NoError(t, identity.NewFirebaseAccounts(deleter).DeleteAccount(ctx, "u1"))
		require.Equal(t, []string{"u1"}, deleter.deleted)
	})

	t.Run("reports other failures", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("quota exceeded")
		err := identity.NewFirebaseAccounts(&fakeDeleter{err: boom}).DeleteAccount(ctx, "u1")
		require.ErrorIs(t, err, boom)
	})
}
