// Package remotetest provides a scriptable remote.Endpoint for tests.
package remotetest

import (
	"context"
	"sync"

	"github.com/refinemirror/session-proxy/internal/profile"
	"github.com/refinemirror/session-proxy/internal/remote"
)

// Endpoint is a remote.Endpoint whose behaviour is supplied per method. An
// unset method succeeds with a zero result, except FetchProfile which returns
// DefaultProfile. Every call is counted, and the call number (starting at 1)
// is passed to the handler.
type Endpoint struct {
	OnSignUp        func(ctx context.Context, n int, req remote.SignUpRequest) (remote.AuthResult, error)
	OnLogin         func(ctx context.Context, n int, email, password string) (remote.AuthResult, error)
	OnFetchProfile  func(ctx context.Context, n int, authHeader string) (profile.Profile, error)
	OnUpdateProfile func(ctx context.Context, n int, authHeader string, update profile.Update) error

	mu          sync.Mutex
	calls       map[string]int
	authHeaders []string
}

var _ remote.Endpoint = (*Endpoint)(nil)

// DefaultProfile is returned by FetchProfile when no handler is set.
var DefaultProfile = profile.Profile{
	Name:     "Ada Lovelace",
	Email:    "ada@example.com",
	Birthday: profile.String("1815-12-10"),
	Location: profile.String("London"),
}

// Token returns an AuthResult issuing the given API token.
func Token(apiToken string) remote.AuthResult {
	return remote.AuthResult{
		UserID:    "user-" + apiToken,
		UserToken: "user-token-" + apiToken,
		APIToken:  apiToken,
	}
}

func (e *Endpoint) count(method, authHeader string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.calls == nil {
		e.calls = map[string]int{}
	}
	e.calls[method]++
	if authHeader != "" {
		e.authHeaders = append(e.authHeaders, authHeader)
	}

	return e.calls[method]
}

// Calls returns the number of calls made to the named method.
func (e *Endpoint) Calls(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.calls[method]
}

// AuthHeaders returns every authorization header received, in call order.
func (e *Endpoint) AuthHeaders() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.authHeaders...)
}

func (e *Endpoint) SignUp(ctx context.Context, req remote.SignUpRequest) (remote.AuthResult, error) {
	n := e.count("SignUp", "")
	if e.OnSignUp == nil {
		return Token("signup-token"), nil
	}
	return e.OnSignUp(ctx, n, req)
}

func (e *Endpoint) Login(ctx context.Context, email, password string) (remote.AuthResult, error) {
	n := e.count("Login", "")
	if e.OnLogin == nil {
		return Token("login-token"), nil
	}
	return e.OnLogin(ctx, n, email, password)
}

func (e *Endpoint) FetchProfile(ctx context.Context, authHeader string) (profile.Profile, error) {
	n := e.count("FetchProfile", authHeader)
	if e.OnFetchProfile == nil {
		return *DefaultProfile.Clone(), nil
	}
	return e.OnFetchProfile(ctx, n, authHeader)
}

func (e *Endpoint) UpdateProfile(ctx context.Context, authHeader string, update profile.Update) error {
	n := e.count("UpdateProfile", authHeader)
	if e.OnUpdateProfile == nil {
		return nil
	}
	return e.OnUpdateProfile(ctx, n, authHeader, update)
}
