package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/refinemirror/session-proxy/internal/config"
	"github.com/refinemirror/session-proxy/internal/profile"
	"github.com/rs/zerolog/log"
)

const (
	successMessage        = "ok"
	errorCodeInvalidToken = "error_invalid_token"
)

// envelope is the response wrapper used by every API route.
type envelope[T any] struct {
	Message        string `json:"message"`
	ErrorShortCode string `json:"error_short_code"`
	Data           T      `json:"data"`
}

type authData struct {
	UserID    string `json:"user_uuid"`
	UserToken string `json:"user_token"`
	APIToken  string `json:"api_token"`
}

type userData struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Profile struct {
		Birthdate *string `json:"birthdate"`
		Location  *string `json:"location"`
	} `json:"profile"`
}

type signUpBody struct {
	Name      string `json:"name"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
	Email     string `json:"email"`
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HTTPEndpoint implements Endpoint over the JSON HTTP API.
type HTTPEndpoint struct {
	client *resty.Client
}

type HTTPOption func(*resty.Client)

// WithTransport replaces the round tripper used for API calls. By default the
// (instrumented) http.DefaultTransport is used.
func WithTransport(rt http.RoundTripper) HTTPOption {
	return func(c *resty.Client) {
		c.SetTransport(rt)
	}
}

func NewHTTPEndpoint(cfg config.RemoteConfig, opts ...HTTPOption) (*HTTPEndpoint, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote API base URL must be configured")
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTransport(http.DefaultTransport).
		SetHeader("Accept", "application/json")

	for _, o := range opts {
		o(client)
	}

	return &HTTPEndpoint{client: client}, nil
}

func (e *HTTPEndpoint) SignUp(ctx context.Context, req SignUpRequest) (AuthResult, error) {
	var result envelope[authData]

	err := e.do(ctx, e.client.R().
		SetBody(signUpBody{
			Name:      req.Name,
			Password:  req.Password,
			Password2: req.ConfirmPassword,
			Email:     req.Email,
		}).
		SetResult(&result),
		http.MethodPost, "auth/signup", &result.Message, &result.ErrorShortCode,
	)
	if err != nil {
		return AuthResult{}, err
	}

	return result.Data.toAuthResult()
}

func (e *HTTPEndpoint) Login(ctx context.Context, email, password string) (AuthResult, error) {
	var result envelope[authData]

	err := e.do(ctx, e.client.R().
		SetBody(loginBody{Email: email, Password: password}).
		SetResult(&result),
		http.MethodPost, "auth/login", &result.Message, &result.ErrorShortCode,
	)
	if err != nil {
		return AuthResult{}, err
	}

	return result.Data.toAuthResult()
}

func (e *HTTPEndpoint) FetchProfile(ctx context.Context, authHeader string) (profile.Profile, error) {
	var result envelope[userData]

	err := e.do(ctx, e.client.R().
		SetHeader("Authorization", authHeader).
		SetResult(&result),
		http.MethodGet, "user/me", &result.Message, &result.ErrorShortCode,
	)
	if err != nil {
		return profile.Profile{}, err
	}

	u := result.Data
	if u.Email == "" {
		return profile.Profile{}, NewTransport(http.StatusOK, errors.New("profile response did not include an email"))
	}

	return profile.Profile{
		Name:     u.Name,
		Email:    u.Email,
		Birthday: nonEmpty(u.Profile.Birthdate),
		Location: nonEmpty(u.Profile.Location),
	}, nil
}

func (e *HTTPEndpoint) UpdateProfile(ctx context.Context, authHeader string, update profile.Update) error {
	var result envelope[json.RawMessage]

	return e.do(ctx, e.client.R().
		SetHeader("Authorization", authHeader).
		SetBody(update).
		SetResult(&result),
		http.MethodPatch, "user/me", &result.Message, &result.ErrorShortCode,
	)
}

// do executes the request and classifies the outcome. The message and code
// pointers refer to the decoded success envelope: a 2xx response can still
// carry an error.
func (e *HTTPEndpoint) do(ctx context.Context, req *resty.Request, method, path string, message, code *string) error {
	var failure envelope[json.RawMessage]

	resp, err := req.
		SetContext(ctx).
		SetError(&failure).
		Execute(method, path)
	if err != nil {
		return NewTransport(0, fmt.Errorf("%s %s failed: %w", method, path, err))
	}

	status := resp.StatusCode()
	log.Ctx(ctx).Debug().
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("duration", resp.Time()).
		Msg("remote API call")

	switch {
	case status == http.StatusUnauthorized:
		return NewUnauthorized(status, failure.Message)

	case status >= 400 && status < 500:
		msg := failure.Message
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		if failure.ErrorShortCode == errorCodeInvalidToken {
			return NewUnauthorized(status, msg)
		}
		return NewClientError(status, msg)

	case status < 200 || status >= 300:
		return NewTransport(status, fmt.Errorf("%s %s: unexpected status %d", method, path, status))
	}

	// 2xx: the envelope itself may report a failure
	if *code == errorCodeInvalidToken {
		return NewUnauthorized(status, *message)
	}
	if *message != "" && *message != successMessage {
		return NewClientError(status, *message)
	}

	return nil
}

func (a authData) toAuthResult() (AuthResult, error) {
	if a.APIToken == "" {
		return AuthResult{}, NewTransport(http.StatusOK, errors.New("auth response did not include an API token"))
	}

	return AuthResult{
		UserID:    a.UserID,
		UserToken: a.UserToken,
		APIToken:  a.APIToken,
	}, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
