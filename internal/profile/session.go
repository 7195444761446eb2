package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Session is the authenticated session: the bearer token issued by the remote
// API and what is known about its issuance.
type Session struct {
	Token     string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewSession creates a session for a freshly issued token. Tokens are opaque
// to the proxy, but when the token is a JWT its issued-at and expiry claims
// are read (without verification: the remote API remains the authority).
// Otherwise the session is considered issued at now with no known expiry.
func NewSession(token, userID string, now time.Time) Session {
	s := Session{
		Token:    token,
		UserID:   userID,
		IssuedAt: now.UTC(),
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return s
	}

	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	if s.UserID == "" {
		s.UserID = claims.Subject
	}

	return s
}

// IsZero is true when there is no token, i.e. nobody is logged in.
func (s Session) IsZero() bool {
	return s.Token == ""
}

// AuthHeader returns the Authorization header value for the session.
func (s Session) AuthHeader() string {
	if s.Token == "" {
		return ""
	}
	return "Bearer " + s.Token
}

// LoadSession rehydrates the session from storage. A missing token yields the
// zero session.
func LoadSession(ctx context.Context, r FieldReader) (Session, error) {
	token, found, err := r.GetField(ctx, FieldAPIToken)
	if err != nil {
		return Session{}, fmt.Errorf("reading %s: %w", FieldAPIToken, err)
	}
	if !found || token == "" {
		return Session{}, nil
	}

	userID, _, err := r.GetField(ctx, FieldUserID)
	if err != nil {
		return Session{}, fmt.Errorf("reading %s: %w", FieldUserID, err)
	}

	issued, found, err := r.GetField(ctx, FieldTokenIssuedAt)
	if err != nil {
		return Session{}, fmt.Errorf("reading %s: %w", FieldTokenIssuedAt, err)
	}

	var issuedAt time.Time
	if found && issued != "" {
		// a corrupt timestamp is not fatal: the token is still usable
		issuedAt, _ = time.Parse(time.RFC3339, issued)
	}

	return NewSession(token, userID, issuedAt), nil
}

// SaveSession persists the session token and its metadata.
func SaveSession(ctx context.Context, w FieldWriter, s Session) error {
	if err := w.SetField(ctx, FieldAPIToken, s.Token); err != nil {
		return fmt.Errorf("writing %s: %w", FieldAPIToken, err)
	}

	if err := w.SetField(ctx, FieldUserID, s.UserID); err != nil {
		return fmt.Errorf("writing %s: %w", FieldUserID, err)
	}

	issued := ""
	if !s.IssuedAt.IsZero() {
		issued = s.IssuedAt.UTC().Format(time.RFC3339)
	}
	if err := w.SetField(ctx, FieldTokenIssuedAt, issued); err != nil {
		return fmt.Errorf("writing %s: %w", FieldTokenIssuedAt, err)
	}

	return nil
}
