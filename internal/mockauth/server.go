// Package mockauth is an in-memory implementation of the authentication
// service's register and login contract, used as a test double and as a
// local target.
package mockauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Error bodies returned by the service.
const (
	MsgInvalidUsername  = "Invalid username - Username may only alphanumeric characters, dashes (-) and underscores (_)"
	MsgInsecurePassword = "Insecure password - Password must be 8 characters or longer"
	MsgUsernameTaken    = "Username already taken"
	MsgInvalidLogin     = "Invalid username or password"
	MsgBadRequest       = "Invalid request body"
)

const minPasswordLength = 8

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

type user struct {
	username    string
	displayName string
	hash        []byte
}

// Server holds registered users in memory.
type Server struct {
	users map[string]user
	mu    sync.RWMutex

	tokens     *TokenIssuer
	bcryptCost int
	latency    time.Duration
	log        logrus.FieldLogger
}

// Option configures a Server.
type Option func(*Server)

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Server) {
		s.bcryptCost = cost
	}
}

// WithLatency adds a fixed delay to every auth response.
func WithLatency(d time.Duration) Option {
	return func(s *Server) {
		s.latency = d
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithTokenIssuer replaces the default token issuer.
func WithTokenIssuer(t *TokenIssuer) Option {
	return func(s *Server) {
		s.tokens = t
	}
}

// New creates an empty Server.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		users:      make(map[string]user),
		bcryptCost: bcrypt.MinCost,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.tokens == nil {
		tokens, err := NewTokenIssuer(nil, "authstress-mock", 15*time.Minute)
		if err != nil {
			return nil, err
		}
		s.tokens = tokens
	}
	if s.bcryptCost < bcrypt.MinCost || s.bcryptCost > bcrypt.MaxCost {
		return nil, bcrypt.InvalidCostError(s.bcryptCost)
	}
	return s, nil
}

// Tokens returns the issuer used for login responses.
func (s *Server) Tokens() *TokenIssuer {
	return s.tokens
}

// Users returns the number of registered users.
func (s *Server) Users() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Handler returns the HTTP routes of the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// ListenAndServe serves the service on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.log.WithField("addr", addr).Info("mock auth service listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.delay(r.Context())

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, MsgBadRequest)
		return
	}

	if !usernameRegex.MatchString(req.Username) {
		writeError(w, http.StatusBadRequest, MsgInvalidUsername)
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, MsgInsecurePassword)
		return
	}

	hash, err := bcrypt.GenerateFromPassword(prehash(req.Password), s.bcryptCost)
	if err != nil {
		s.log.WithError(err).Error("hashing password")
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	key := strings.ToLower(req.Username)

	s.mu.Lock()
	if _, taken := s.users[key]; taken {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, MsgUsernameTaken)
		return
	}
	s.users[key] = user{username: req.Username, displayName: req.DisplayName, hash: hash}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.delay(r.Context())

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, MsgBadRequest)
		return
	}

	s.mu.RLock()
	u, ok := s.users[strings.ToLower(req.Username)]
	s.mu.RUnlock()

	if !ok || bcrypt.CompareHashAndPassword(u.hash, prehash(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, MsgInvalidLogin)
		return
	}

	access, refresh, err := s.tokens.Issue(u.username)
	if err != nil {
		s.log.WithError(err).Error("issuing tokens")
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{AccessToken: access, RefreshToken: refresh})
}

func (s *Server) delay(ctx context.Context) {
	if s.latency <= 0 {
		return
	}
	timer := time.NewTimer(s.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// prehash keeps passwords longer than bcrypt's 72 byte limit distinct.
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(hex.EncodeToString(sum[:]))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
