package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockRemoteUser is an account held by MockRemoteServer.
type MockRemoteUser struct {
	ID        string
	Name      string
	Email     string
	Password  string
	Birthdate string
	Location  string
}

// MockRemoteServer imitates the authentication and profile API. Tokens are
// issued on sign up and login, and can be revoked to simulate expiry.
type MockRemoteServer struct {
	Server *httptest.Server

	mu      sync.Mutex
	users   map[string]*MockRemoteUser // by email
	tokens  map[string]string          // token to email
	issued  int
	fetches int
}

// SetupMockRemoteServer starts the server. The API is served below /api/v1/.
func SetupMockRemoteServer() *MockRemoteServer {
	m := &MockRemoteServer{
		users:  map[string]*MockRemoteUser{},
		tokens: map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/signup", m.handleSignUp)
	mux.HandleFunc("POST /api/v1/auth/login", m.handleLogin)
	mux.HandleFunc("GET /api/v1/user/me", m.handleGetMe)
	mux.HandleFunc("PATCH /api/v1/user/me", m.handlePatchMe)

	m.Server = httptest.NewServer(mux)

	return m
}

// BaseURL returns the API base URL to configure the proxy with.
func (m *MockRemoteServer) BaseURL() string {
	return m.Server.URL + "/api/v1/"
}

func (m *MockRemoteServer) Close() {
	m.Server.Close()
}

// AddUser registers an account directly.
func (m *MockRemoteServer) AddUser(u MockRemoteUser) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.ID == "" {
		u.ID = fmt.Sprintf("user-%d", len(m.users)+1)
	}
	m.users[u.Email] = &u
}

// RevokeTokens invalidates every token issued so far.
func (m *MockRemoteServer) RevokeTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens = map[string]string{}
}

// FetchCount returns the number of profile reads served.
func (m *MockRemoteServer) FetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.fetches
}

func (m *MockRemoteServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      string `json:"name"`
		Password  string `json:"password"`
		Password2 string `json:"password2"`
		Email     string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		envelope(w, http.StatusBadRequest, "invalid request", "", nil)
		return
	}

	if body.Password != body.Password2 {
		envelope(w, http.StatusBadRequest, "passwords do not match", "", nil)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[body.Email]; exists {
		envelope(w, http.StatusBadRequest, "email already registered", "", nil)
		return
	}

	u := &MockRemoteUser{
		ID:       fmt.Sprintf("user-%d", len(m.users)+1),
		Name:     body.Name,
		Email:    body.Email,
		Password: body.Password,
	}
	m.users[u.Email] = u

	envelope(w, http.StatusOK, "ok", "", m.issue(u))
}

func (m *MockRemoteServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		envelope(w, http.StatusBadRequest, "invalid request", "", nil)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[body.Email]
	if !ok || u.Password != body.Password {
		envelope(w, http.StatusBadRequest, "invalid email or password", "", nil)
		return
	}

	envelope(w, http.StatusOK, "ok", "", m.issue(u))
}

func (m *MockRemoteServer) handleGetMe(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.authorize(r)
	if !ok {
		envelope(w, http.StatusUnauthorized, "invalid token", "error_invalid_token", nil)
		return
	}

	m.fetches++

	envelope(w, http.StatusOK, "ok", "", map[string]any{
		"name":  u.Name,
		"email": u.Email,
		"profile": map[string]string{
			"birthdate": u.Birthdate,
			"location":  u.Location,
		},
	})
}

func (m *MockRemoteServer) handlePatchMe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      *string `json:"name"`
		Location  *string `json:"location"`
		Birthdate *string `json:"birthdate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		envelope(w, http.StatusBadRequest, "invalid request", "", nil)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.authorize(r)
	if !ok {
		envelope(w, http.StatusUnauthorized, "invalid token", "error_invalid_token", nil)
		return
	}

	if body.Name != nil {
		u.Name = *body.Name
	}
	if body.Location != nil {
		u.Location = *body.Location
	}
	if body.Birthdate != nil {
		u.Birthdate = *body.Birthdate
	}

	envelope(w, http.StatusOK, "ok", "", nil)
}

// must be called with mu held
func (m *MockRemoteServer) issue(u *MockRemoteUser) map[string]string {
	m.issued++
	token := fmt.Sprintf("api-token-%d", m.issued)
	m.tokens[token] = u.Email

	return map[string]string{
		"user_uuid":  u.ID,
		"user_token": "user-" + token,
		"api_token":  token,
	}
}

// must be called with mu held
func (m *MockRemoteServer) authorize(r *http.Request) (*MockRemoteUser, bool) {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		return nil, false
	}

	email, ok := m.tokens[token]
	if !ok {
		return nil, false
	}

	u, ok := m.users[email]
	return u, ok
}

func envelope(w http.ResponseWriter, status int, message, code string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]any{"message": message}
	if code != "" {
		body["error_short_code"] = code
	}
	if data != nil {
		body["data"] = data
	}

	_ = json.NewEncoder(w).Encode(body)
}
