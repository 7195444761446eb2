package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/refinemirror/session-proxy/internal/profile"
	"github.com/refinemirror/session-proxy/internal/remote"
	"github.com/refinemirror/session-proxy/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService records the calls made by the handlers.
type fakeService struct {
	loggedIn bool
	err      error

	signUp    *remote.SignUpRequest
	login     []string
	update    *profile.Update
	refresh   int
	loggedOut int
}

func (f *fakeService) IsLoggedIn(context.Context) bool { return f.loggedIn }

func (f *fakeService) SignUp(_ context.Context, req remote.SignUpRequest) error {
	f.signUp = &req
	return f.err
}

func (f *fakeService) Login(_ context.Context, email, password string) error {
	f.login = []string{email, password}
	return f.err
}

func (f *fakeService) UpdateProfile(_ context.Context, update profile.Update) error {
	f.update = &update
	return f.err
}

func (f *fakeService) GetProfileInfo(context.Context) error {
	f.refresh++
	return f.err
}

func (f *fakeService) Logout(context.Context) error {
	f.loggedOut++
	return f.err
}

func serve(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	return rr
}

func TestHandlePostSignUp_Dispatches(t *testing.T) {
	svc := &fakeService{}

	rr := serve(handlePostSignUp(svc), "POST", "/signup",
		`{"name":"Ada","email":"ada@example.com","password":"pw","confirmPassword":"pw2"}`)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	require.NotNil(t, svc.signUp)
	assert.Equal(t, remote.SignUpRequest{
		Name:            "Ada",
		Email:           "ada@example.com",
		Password:        "pw",
		ConfirmPassword: "pw2",
	}, *svc.signUp)
}

func TestHandlePostLogin_Dispatches(t *testing.T) {
	svc := &fakeService{}

	rr := serve(handlePostLogin(svc), "POST", "/login", `{"email":"ada@example.com","password":"pw"}`)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, []string{"ada@example.com", "pw"}, svc.login)
}

func TestHandlePatchProfile_PartialUpdate(t *testing.T) {
	svc := &fakeService{}

	rr := serve(handlePatchProfile(svc), "PATCH", "/profile", `{"location":"Paris"}`)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	require.NotNil(t, svc.update)
	assert.Equal(t, profile.Update{Location: profile.String("Paris")}, *svc.update)
}

func TestHandlePatchProfile_EmptyUpdate(t *testing.T) {
	svc := &fakeService{err: session.ErrEmptyUpdate}

	rr := serve(handlePatchProfile(svc), "PATCH", "/profile", `{}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, session.ErrEmptyUpdate.Error(), resp.Error)
}

func TestHandlers_MalformedJSON(t *testing.T) {
	handlers := map[string]http.Handler{
		"signup":  handlePostSignUp(&fakeService{}),
		"login":   handlePostLogin(&fakeService{}),
		"profile": handlePatchProfile(&fakeService{}),
	}

	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			rr := serve(handler, "POST", "/"+name, `{"email":`)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.JSONEq(t, `{"error":"request body must be valid JSON"}`, rr.Body.String())
		})
	}
}

func TestHandlers_BodyTooLarge(t *testing.T) {
	handler := maxRequestSize(16)(handlePostLogin(&fakeService{}))

	rr := serve(handler, "POST", "/login", `{"email":"`+strings.Repeat("a", 64)+`"}`)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestHandlePostProfileRefresh(t *testing.T) {
	svc := &fakeService{}

	rr := serve(handlePostProfileRefresh(svc), "POST", "/profile/refresh", "")

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, svc.refresh)
}

func TestHandlePostLogout(t *testing.T) {
	svc := &fakeService{}

	rr := serve(handlePostLogout(svc), "POST", "/logout", "")

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, svc.loggedOut)
}

func TestHandleGetSession(t *testing.T) {
	for _, loggedIn := range []bool{true, false} {
		rr := serve(handleGetSession(&fakeService{loggedIn: loggedIn}), "GET", "/session", "")

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp SessionResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, loggedIn, resp.LoggedIn)
	}
}

func TestHandlers_DispatchErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected int
	}{
		{"closed", session.ErrClosed, http.StatusServiceUnavailable},
		{"wrapped closed", errors.Join(errors.New("ctx"), session.ErrClosed), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(handlePostProfileRefresh(&fakeService{err: tc.err}), "POST", "/profile/refresh", "")
			assert.Equal(t, tc.expected, rr.Code)
		})
	}
}

func TestHandleHealthCheck_Success(t *testing.T) {
	rr := serve(handleHealthCheck(), "GET", "/healthcheck", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))
	assert.Equal(t, "OK", rr.Body.String())
}

func TestMaxRequestSizeMiddleware(t *testing.T) {
	mw := maxRequestSize(10)

	var readError error
	var readBytes int64

	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		readBytes, readError = io.CopyN(io.Discard, r.Body, 5*1024*1024)

		status := http.StatusOK
		if readError != nil {
			status = http.StatusBadRequest
		}

		w.WriteHeader(status)
	})

	handler := mw(innerHandler)

	body := bytes.NewBufferString("0123456789n123456789")
	req, err := http.NewRequest("POST", "/login", body)
	require.NoError(t, err)

	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.ErrorContains(t, readError, "http: request body too large")
	assert.Equal(t, int64(10), readBytes)
	assert.Equal(t, "", rr.Body.String())
}
