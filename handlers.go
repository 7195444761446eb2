package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/refinemirror/session-proxy/internal/profile"
	"github.com/refinemirror/session-proxy/internal/remote"
	"github.com/refinemirror/session-proxy/internal/session"
	"github.com/rs/zerolog/log"
)

// SessionService is the set of proxy operations exposed over HTTP.
type SessionService interface {
	IsLoggedIn(ctx context.Context) bool
	SignUp(ctx context.Context, req remote.SignUpRequest) error
	Login(ctx context.Context, email, password string) error
	UpdateProfile(ctx context.Context, update profile.Update) error
	GetProfileInfo(ctx context.Context) error
	Logout(ctx context.Context) error
}

type signUpRequest struct {
	Name            string `json:"name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Email           string `json:"email"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned by GET /session.
type SessionResponse struct {
	LoggedIn bool `json:"loggedIn"`
}

// Operations are asynchronous: a 202 means the request was dispatched and its
// outcome will be published on the event stream.

func handlePostSignUp(svc SessionService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req signUpRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		err := svc.SignUp(r.Context(), remote.SignUpRequest{
			Name:            req.Name,
			Password:        req.Password,
			ConfirmPassword: req.ConfirmPassword,
			Email:           req.Email,
		})
		writeAccepted(w, err)
	})
}

func handlePostLogin(svc SessionService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req loginRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		writeAccepted(w, svc.Login(r.Context(), req.Email, req.Password))
	})
}

func handlePatchProfile(svc SessionService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var update profile.Update
		if !decodeJSON(w, r, &update) {
			return
		}

		writeAccepted(w, svc.UpdateProfile(r.Context(), update))
	})
}

func handlePostProfileRefresh(svc SessionService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeAccepted(w, svc.GetProfileInfo(r.Context()))
	})
}

func handlePostLogout(svc SessionService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeAccepted(w, svc.Logout(r.Context()))
	})
}

func handleGetSession(svc SessionService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		err := json.NewEncoder(w).Encode(SessionResponse{LoggedIn: svc.IsLoggedIn(r.Context())})
		if err != nil {
			log.Info().Msgf("failed to write session response: %v", err)
		}
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// decodeJSON reads the request body into v. On failure the error response has
// already been written and false is returned.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}

	log.Info().Msgf("invalid request body: %v", err)
	writeJSONError(w, http.StatusBadRequest, "request body must be valid JSON")

	return false
}

// writeAccepted reports the result of dispatching an operation.
func writeAccepted(w http.ResponseWriter, err error) {
	if err != nil {
		status, message := errorStatus(err)
		log.Info().Msgf("operation not dispatched: %v", err)
		writeJSONError(w, status, message)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{Error: message}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON error response: %v", err)
	}
}

// errorStatus maps errors returned when dispatching an operation to an HTTP
// status and a message that is safe to return.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrEmptyUpdate):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable, "shutting down"
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5MB max: after this we'll assume the client is broken or malicious
		// and close the connection
		io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
