/*
auth.go - Bearer token handling for backend calls

PURPOSE:
  Supplies the bearer token for every backend request and enforces that
  the token belongs to the user the session was stored for. A token whose
  subject differs from the stored user id is a stale login left behind by
  someone else; it is cleared and the caller must re-authenticate.

SUBJECT EXTRACTION:
  The token is parsed WITHOUT signature verification. The backend verifies
  signatures; this side only needs the identity claim to compare against
  the session. Claims are tried in order: sub, user_id, id.

FAILURES (all wrap generic.ErrAuthRequired):
  - no session stored
  - token unparseable or carrying no identity claim
  - subject differs from the stored user id
  - the backend answered 401 or 403 (see Reject)

SEE ALSO:
  - client.go: Calls Token before each request, Reject on auth statuses
  - generic/store.go: SessionStore
*/
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/branch-ledger/generic"
)

// Authorizer reads and validates the stored session.
type Authorizer struct {
	Sessions generic.SessionStore
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewAuthorizer creates an authorizer over sessions.
func NewAuthorizer(sessions generic.SessionStore, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{Sessions: sessions, Logger: logger, Now: time.Now}
}

var identityClaims = []string{"user_id", "id"}

// Subject returns the identity claim of token.
func Subject(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: malformed token: %v", generic.ErrAuthRequired, err)
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	for _, name := range identityClaims {
		if v, ok := claims[name]; ok {
			if id := generic.CanonicalID(v); id != "" {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("%w: token carries no identity claim", generic.ErrAuthRequired)
}

// Login stores a session after checking that token was issued for userID.
// An empty userID takes the token's subject.
func (a *Authorizer) Login(ctx context.Context, token, userID string) (generic.Session, error) {
	sub, err := Subject(token)
	if err != nil {
		return generic.Session{}, err
	}
	if userID == "" {
		userID = sub
	}
	if generic.CanonicalID(sub) != generic.CanonicalID(userID) {
		return generic.Session{}, fmt.Errorf("%w: token subject does not match user", generic.ErrAuthRequired)
	}
	s := generic.Session{Token: token, UserID: userID, SavedAt: a.Now()}
	if err := a.Sessions.Save(ctx, s); err != nil {
		return generic.Session{}, err
	}
	return s, nil
}

// Token returns the bearer token for the stored session.
func (a *Authorizer) Token(ctx context.Context) (string, error) {
	s, err := a.Sessions.Load(ctx)
	if err != nil {
		return "", err
	}
	if s.Token == "" {
		return "", generic.ErrAuthRequired
	}

	sub, err := Subject(s.Token)
	if err != nil {
		a.clear(ctx, "unparseable token")
		return "", err
	}
	if s.UserID != "" && generic.CanonicalID(sub) != generic.CanonicalID(s.UserID) {
		a.clear(ctx, "token subject mismatch")
		return "", fmt.Errorf("%w: stored token belongs to another user", generic.ErrAuthRequired)
	}
	return s.Token, nil
}

// Reject clears the session when the backend refused the token.
func (a *Authorizer) Reject(ctx context.Context, status int) {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		a.clear(ctx, fmt.Sprintf("backend returned %d", status))
	}
}

// Logout clears the stored session.
func (a *Authorizer) Logout(ctx context.Context) error {
	return a.Sessions.Clear(ctx)
}

func (a *Authorizer) clear(ctx context.Context, reason string) {
	a.Logger.Warn("clearing session", "reason", reason)
	if err := a.Sessions.Clear(ctx); err != nil {
		a.Logger.Error("session clear failed", "error", err)
	}
}
