// Package server exposes the HTTP surface: auth, uploads, and
// signature-gated asset CRUD.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"amberscan/internal/app"
	"amberscan/internal/ratelimit"
	"amberscan/internal/util"
	"amberscan/pkg/domain"
)

const sessionCookie = "amberscan_session"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	RedisAddr                  string
	RedisPassword              string
	LoginRateLimitPerMinute    int
	RegisterRateLimitPerMinute int
	TrustForwardedHeaders      bool

	MaxImageBytes int64
	MaxPDFBytes   int64
	SessionTTL    time.Duration
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	loginLimiter    *ratelimit.FixedWindowLimiter
	registerLimiter *ratelimit.FixedWindowLimiter
	trustForwarded  bool
	maxImageBytes   int64
	maxPDFBytes     int64
	sessionTTL      time.Duration
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app required")
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	registerLimit := cfg.RegisterRateLimitPerMinute
	if registerLimit <= 0 {
		registerLimit = 5
	}
	var loginLimiter, registerLimiter *ratelimit.FixedWindowLimiter
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		var err error
		loginLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "amberscan:ratelimit:login", loginLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init login limiter: %w", err)
		}
		registerLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "amberscan:ratelimit:register", registerLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init register limiter: %w", err)
		}
	}
	maxImage := cfg.MaxImageBytes
	if maxImage <= 0 {
		maxImage = 5 << 20
	}
	maxPDF := cfg.MaxPDFBytes
	if maxPDF <= 0 {
		maxPDF = 20 << 20
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	s := &Server{
		app:             cfg.App,
		mux:             http.NewServeMux(),
		loginLimiter:    loginLimiter,
		registerLimiter: registerLimiter,
		trustForwarded:  cfg.TrustForwardedHeaders,
		maxImageBytes:   maxImage,
		maxPDFBytes:     maxPDF,
		sessionTTL:      sessionTTL,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.HandleFunc("/api/auth/permissions", s.handlePermissions)

	s.mux.HandleFunc("/api/images", s.assetHandler(domain.KindImage))
	s.mux.HandleFunc("/api/pdfs", s.assetHandler(domain.KindPDF))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signatureResponse struct {
	Signature string `json:"signature"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		s.audit(r, "api.register", "rate_limited")
		return
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "api.register", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	client, sig, session, err := s.app.Register(req.Name, req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.register", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.setSessionCookie(w, session)
	s.audit(r, "api.register", "success", "client_id", client.ID)
	writeJSON(w, http.StatusCreated, signatureResponse{Signature: sig})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "api.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "api.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	client, sig, session, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.login", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.setSessionCookie(w, session)
	s.audit(r, "api.login", "success", "client_id", client.ID)
	writeJSON(w, http.StatusCreated, signatureResponse{Signature: sig})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if client, ok := s.app.ClientFromSession(cookie.Value); ok {
			s.audit(r, "api.logout", "success", "client_id", client.ID)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

type permissionsResponse struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
}

func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "api.permissions", "fail", "reason", "missing_signature")
		writeError(w, http.StatusUnauthorized, "missing signature")
		return
	}
	client, ok := s.app.ClientFromSignature(token)
	if !ok {
		s.audit(r, "api.permissions", "fail", "reason", "invalid_signature")
		writeError(w, http.StatusUnauthorized, "invalid or inactive signature")
		return
	}
	s.audit(r, "api.permissions", "success", "client_id", client.ID)
	writeJSON(w, http.StatusOK, permissionsResponse{
		Username: client.Name,
		Email:    client.Email,
		IsAdmin:  client.Role == domain.RoleAdmin,
	})
}

// assetHandler serves upload/list/update/delete for one asset kind.
func (s *Server) assetHandler(kind domain.AssetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.handleUpload(w, r, kind)
		case http.MethodGet:
			s.handleListAssets(w, r, kind)
		case http.MethodPut:
			s.handleRenameAsset(w, r)
		case http.MethodDelete:
			s.handleDeleteAsset(w, r)
		default:
			methodNotAllowed(w)
		}
	}
}

type uploadResponse struct {
	Tasks []app.UploadTask `json:"tasks"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, kind domain.AssetKind) {
	maxBytes := s.maxImageBytes
	fileField := "image"
	if kind == domain.KindPDF {
		maxBytes = s.maxPDFBytes
		fileField = "pdf"
	}
	// generous request cap; per-file limits are enforced before enqueueing
	r.Body = http.MaxBytesReader(w, r.Body, 16*maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		s.audit(r, "api.upload", "fail", "reason", "invalid_multipart")
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	providerSig := strings.TrimSpace(r.FormValue("provider"))
	clientName := strings.TrimSpace(r.FormValue("client"))
	if providerSig == "" || clientName == "" {
		s.audit(r, "api.upload", "fail", "reason", "missing_fields")
		writeError(w, http.StatusBadRequest, "provider and client are required")
		return
	}
	files := r.MultipartForm.File[fileField]
	if len(files) == 0 {
		s.audit(r, "api.upload", "fail", "reason", "missing_file")
		writeError(w, http.StatusBadRequest, fileField+" file is required")
		return
	}

	// validate the whole batch before enqueueing anything, so one oversized
	// file fails the request with the queue untouched
	for _, header := range files {
		if err := s.app.ValidateUpload(header.Filename, header.Size, kind); err != nil {
			s.audit(r, "api.upload", "fail", "file", header.Filename, "reason", err.Error())
			writeAppError(w, err)
			return
		}
	}

	tasks := make([]app.UploadTask, 0, len(files))
	for _, header := range files {
		task, err := s.uploadOne(r, header, providerSig, clientName, kind)
		if err != nil {
			s.audit(r, "api.upload", "fail", "file", header.Filename, "reason", err.Error())
			writeAppError(w, err)
			return
		}
		tasks = append(tasks, task)
	}
	s.audit(r, "api.upload", "success", "client", clientName, "count", len(tasks))
	writeJSON(w, http.StatusCreated, uploadResponse{Tasks: tasks})
}

func (s *Server) uploadOne(r *http.Request, header *multipart.FileHeader, providerSig, clientName string, kind domain.AssetKind) (app.UploadTask, error) {
	file, err := header.Open()
	if err != nil {
		return app.UploadTask{}, fmt.Errorf("%w: unreadable upload", app.ErrValidation)
	}
	defer file.Close()
	return s.app.UploadAsset(r.Context(), providerSig, clientName, header.Filename, file, header.Size, kind)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request, kind domain.AssetKind) {
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	sig := strings.TrimSpace(r.URL.Query().Get("signature"))
	if username == "" || sig == "" {
		writeError(w, http.StatusBadRequest, "username and signature query parameters are required")
		return
	}
	client, ok := s.app.VerifySignature(username, sig)
	if !ok {
		s.audit(r, "api.assets.list", "fail", "reason", "invalid_signature")
		writeError(w, http.StatusUnauthorized, "invalid or inactive signature")
		return
	}
	assets, err := s.app.ListAssets(client.ID, kind)
	if err != nil {
		s.audit(r, "api.assets.list", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameAsset(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id query parameter is required")
		return
	}
	var req renameRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.RenameAsset(id, req.Name); err != nil {
		s.audit(r, "api.assets.rename", "fail", "id", id, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.assets.rename", "success", "id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id query parameter is required")
		return
	}
	if err := s.app.DeleteAsset(r.Context(), id); err != nil {
		s.audit(r, "api.assets.delete", "fail", "id", id, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.assets.delete", "success", "id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, session string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session,
		Path:     "/",
		MaxAge:   int(s.sessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	if limiter.Allow(util.ClientIP(r, s.trustForwarded)) {
		return true
	}
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, action, outcome string, extra ...any) {
	args := append([]any{"action", action, "outcome", outcome, "ip", util.ClientIP(r, s.trustForwarded)}, extra...)
	slog.Info("audit", args...)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
