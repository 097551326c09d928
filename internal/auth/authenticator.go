// Package auth validates the credential presented at channel-open time.
//
// The token format is defined by the credential issuer; this package only
// verifies signature and expiry, then resolves the subject to an active
// account. It is the sole gate: once a channel is open, credential freshness
// is not re-checked for the channel's lifetime.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/codehive/backend/internal/shared/errs"
)

// Account is the resolved identity behind a credential subject.
type Account struct {
	ID       string
	Username string
	Active   bool
}

// Identity is the authenticated identity attached to a channel.
type Identity struct {
	UserID   string
	Username string
}

// IdentityLookup resolves a user ID to an account. A nil account with a nil
// error means the user is unknown.
type IdentityLookup interface {
	LookupIdentity(ctx context.Context, userID string) (*Account, error)
}

// Authenticator verifies channel-open credentials.
type Authenticator struct {
	secret []byte
	lookup IdentityLookup
	leeway time.Duration
}

// New creates an authenticator with the given HMAC secret and identity source.
func New(secret []byte, lookup IdentityLookup, leeway time.Duration) *Authenticator {
	return &Authenticator{
		secret: secret,
		lookup: lookup,
		leeway: leeway,
	}
}

// Authenticate validates a credential and resolves it to an identity. Any
// failure rejects the handshake before any state is created.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, errs.Auth("missing credential")
	}
	if len(a.secret) == 0 {
		// Fail secure when no secret is configured.
		return nil, errs.Auth("credential verification unavailable")
	}

	token, err := jwt.Parse(credential,
		func(t *jwt.Token) (interface{}, error) {
			return a.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	)
	if err != nil {
		return nil, errs.Auth("invalid credential: %v", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return nil, errs.Auth("credential has no subject")
	}

	account, err := a.lookup.LookupIdentity(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("identity lookup for %s: %w", subject, err)
	}
	if account == nil {
		return nil, errs.Auth("unknown user")
	}
	if !account.Active {
		return nil, errs.Auth("user is inactive")
	}

	return &Identity{UserID: account.ID, Username: account.Username}, nil
}
