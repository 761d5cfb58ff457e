package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/ManishKarki1997/VirtualClassroomServer/internal/database"
	"github.com/ManishKarki1997/VirtualClassroomServer/internal/hub"
	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/interfaces"
	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/types"
)

// Presence is the read side of the hub the HTTP surface reports on.
type Presence interface {
	ActiveMembers(roomID string) []types.Presence
	OnlineUsers() []types.Presence
	LiveClasses() []types.LiveClass
	Stats() hub.Stats
}

// Options carries the handlers and policy the server mounts.
type Options struct {
	WebSocket      http.Handler
	Metrics        http.Handler
	AllowedOrigins []string
	Logger         *slog.Logger
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	store    interfaces.DatabaseManager
	presence Presence
	router   *http.ServeMux
	handler  http.Handler
	logger   *slog.Logger
	started  time.Time
}

// NewServer wires routes for store and presence. Nil WebSocket or Metrics
// handlers leave those routes unmounted.
func NewServer(store interfaces.DatabaseManager, presence Presence, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		store:    store,
		presence: presence,
		router:   http.NewServeMux(),
		logger:   logger.With("component", "api"),
		started:  time.Now(),
	}
	s.setupRoutes(opts)

	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         86400,
	})
	s.handler = c.Handler(s.router)
	return s
}

func (s *Server) setupRoutes(opts Options) {
	s.router.HandleFunc("GET /health", s.healthCheck)
	if opts.Metrics != nil {
		s.router.Handle("GET /metrics", opts.Metrics)
	}
	if opts.WebSocket != nil {
		s.router.Handle("GET /ws", opts.WebSocket)
	}

	s.router.HandleFunc("POST /api/users", s.noStore(s.createUser))
	s.router.HandleFunc("GET /api/users/{id}", s.noStore(s.getUser))
	s.router.HandleFunc("GET /api/users/online", s.noStore(s.onlineUsers))

	s.router.HandleFunc("POST /api/classes", s.noStore(s.createClass))
	s.router.HandleFunc("GET /api/classes/{id}", s.noStore(s.getClass))
	s.router.HandleFunc("POST /api/classes/{id}/members", s.noStore(s.joinClass))
	s.router.HandleFunc("GET /api/classes/{id}/active-users", s.noStore(s.activeUsers))
	s.router.HandleFunc("GET /api/classes/{id}/messages", s.noStore(s.chatHistory))

	s.router.HandleFunc("GET /api/live-classes", s.noStore(s.liveClasses))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Hub       hub.Stats `json:"hub"`
	Uptime    string    `json:"uptime"`
}

type CreateUserRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Avatar  string `json:"avatar"`
	Contact string `json:"contact"`
}

type CreateClassRequest struct {
	Name            string   `json:"name"`
	Subject         string   `json:"subject"`
	Description     string   `json:"description"`
	BackgroundImage string   `json:"backgroundImage"`
	Private         bool     `json:"private"`
	CreatedBy       string   `json:"createdBy"`
	Users           []string `json:"users"`
}

type JoinClassRequest struct {
	UserID string `json:"userId"`
}

// FUNCTIONAL DISCOVERY: GET /health reports 503 when the store is unreachable;
// the hub keeps running either way since presence never touches the store
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "healthy",
		Hub:       s.presence.Stats(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	code := http.StatusOK
	if err := s.store.HealthCheck(ctx); err != nil {
		resp.Status, resp.Database = "unhealthy", "error: "+err.Error()
		code = http.StatusServiceUnavailable
	}
	if !resp.Hub.Running {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		s.sendError(w, "name and email are required", http.StatusBadRequest)
		return
	}
	user := &types.User{Name: req.Name, Email: req.Email, Avatar: req.Avatar, Contact: req.Contact}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		s.storeError(w, "failed to create user", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, "failed to get user", err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) onlineUsers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.presence.OnlineUsers())
}

func (s *Server) createClass(w http.ResponseWriter, r *http.Request) {
	var req CreateClassRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.CreatedBy == "" {
		s.sendError(w, "name and createdBy are required", http.StatusBadRequest)
		return
	}
	class := &types.Class{
		Name:            req.Name,
		Subject:         req.Subject,
		Description:     req.Description,
		BackgroundImage: req.BackgroundImage,
		Private:         req.Private,
		CreatedBy:       req.CreatedBy,
		Users:           req.Users,
	}
	if err := s.store.CreateClass(r.Context(), class); err != nil {
		s.storeError(w, "failed to create class", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, class)
}

func (s *Server) getClass(w http.ResponseWriter, r *http.Request) {
	class, err := s.store.GetClass(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, "failed to get class", err)
		return
	}
	s.writeJSON(w, http.StatusOK, class)
}

func (s *Server) joinClass(w http.ResponseWriter, r *http.Request) {
	var req JoinClassRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		s.sendError(w, "userId is required", http.StatusBadRequest)
		return
	}
	classID := r.PathValue("id")
	if err := s.store.JoinClass(r.Context(), classID, req.UserID); err != nil {
		s.storeError(w, "failed to join class", err)
		return
	}
	members, err := s.store.ClassMembers(r.Context(), classID)
	if err != nil {
		s.storeError(w, "failed to list members", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"users": members})
}

// activeUsers reads the live room, not the stored member list.
func (s *Server) activeUsers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.presence.ActiveMembers(r.PathValue("id")))
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.ChatHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, "failed to load messages", err)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) liveClasses(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.presence.LiveClasses())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		s.sendError(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// storeError maps directory errors onto status codes.
func (s *Server) storeError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, interfaces.ErrUserNotFound), errors.Is(err, interfaces.ErrClassNotFound):
		s.sendError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, database.ErrAlreadyExists):
		s.sendError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, database.ErrStoreClosed):
		s.sendError(w, msg, http.StatusServiceUnavailable)
	default:
		s.logger.Error(msg, "err", err)
		s.sendError(w, msg, http.StatusInternalServerError)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "err", err)
	}
}

// noStore marks API responses uncacheable.
func (s *Server) noStore(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		h(w, r)
	}
}
