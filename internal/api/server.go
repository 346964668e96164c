package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"schoolchat/internal/auth"
	"schoolchat/internal/registry"
	"schoolchat/internal/store"
	"schoolchat/internal/ws"
	"schoolchat/pkg/types"
)

// UserStore is the account slice of the persistence collaborator the
// login endpoint needs.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP surface: login (token issuance), the websocket
// endpoint, and health.
type Server struct {
	users     UserStore
	registry  *registry.Registry
	tokens    *auth.Service
	wsHandler *ws.Handler
	router    chi.Router
}

func NewServer(users UserStore, reg *registry.Registry, tokens *auth.Service, wsHandler *ws.Handler) *Server {
	s := &Server{
		users:     users,
		registry:  reg,
		tokens:    tokens,
		wsHandler: wsHandler,
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/api/login", s.handleLogin)
	r.Get("/ws", s.wsHandler.HandleWebSocket)
	r.Get("/health", s.handleHealth)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string     `json:"accessToken"`
	UserID      int64      `json:"userId"`
	Name        string     `json:"name"`
	Role        types.Role `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Email == "" || req.Password == "" {
		s.sendError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := s.users.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if err == store.ErrUserNotFound {
			s.sendError(w, http.StatusUnauthorized, "invalid credentials")
		} else {
			s.sendError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		s.sendError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.tokens.IssueToken(user)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "login failed")
		return
	}

	s.sendJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		UserID:      user.ID,
		Name:        user.Name,
		Role:        user.Role,
	})
}

type healthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Database:    "healthy",
		Connections: s.registry.Stats(),
	}
	code := http.StatusOK
	if err := s.users.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = err.Error()
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, resp)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, map[string]string{"error": message})
}
