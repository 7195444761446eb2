// Package remote is the proxy's view of the authentication and profile API.
package remote

import (
	"context"

	"github.com/refinemirror/session-proxy/internal/profile"
)

// Endpoint is the remote authentication/profile API. Every method returns
// either its result or an error; errors that the API classified are returned
// as *Failure, anything else is treated as a transport failure.
type Endpoint interface {
	SignUp(ctx context.Context, req SignUpRequest) (AuthResult, error)
	Login(ctx context.Context, email, password string) (AuthResult, error)
	FetchProfile(ctx context.Context, authHeader string) (profile.Profile, error)
	UpdateProfile(ctx context.Context, authHeader string, update profile.Update) error
}

type SignUpRequest struct {
	Name            string
	Password        string
	ConfirmPassword string
	Email           string
}

// AuthResult is returned by a successful sign up or login. APIToken is the
// bearer token used for all subsequent profile calls.
type AuthResult struct {
	UserID    string
	UserToken string
	APIToken  string
}
