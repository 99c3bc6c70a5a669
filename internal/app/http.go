package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"percolator/api/internal/auth"
	"percolator/api/internal/export"
	"percolator/api/internal/metrics"
	"percolator/api/internal/search"
	"percolator/api/internal/store"
	"percolator/api/internal/util"
)

type HTTPServer struct {
	service *Service
	log     zerolog.Logger
}

func NewHTTPServer(service *Service, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, log: logger.With().Str("component", "http").Logger()}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withRequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.service.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	if s.service.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Post("/api/register", s.handleRegister)
	r.Post("/api/login", s.handleLogin)
	r.Post("/api/logout", s.handleLogout)
	r.Post("/api/session/refresh", s.handleRefresh)
	r.Get("/api/user", s.handleCurrentUser)

	r.Route("/api/ideas", func(r chi.Router) {
		r.Get("/", s.handleListIdeas)
		r.Post("/", s.handleCreateIdea)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetIdea)
			r.Put("/", s.handleEditIdea)
			r.Delete("/", s.handleDeleteIdea)
			r.Patch("/rank", s.handleChangeRank)
			r.Patch("/publish", s.handlePublishIdea)
			r.Get("/versions", s.handleListVersions)
			r.Post("/share", s.handleShare)
			r.Get("/export", s.handleExport)
		})
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/", s.handleListAllPublic)
		r.Get("/search", s.handleSearchPublic)
		r.Get("/{username}", s.handleListPublicByUser)
		r.Get("/{username}/{id}", s.handleViewPublic)
		r.Get("/{username}/{id}/versions", s.handleViewPublicHistory)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type credentialsBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.Register(r.Context(), body.Username, body.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": user.ID, "username": user.Username})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := Session{}
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	_ = s.service.Logout(r.Context(), session, body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": session.UserID, "username": session.Username})
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"username":     session.Username,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) handleListIdeas(w http.ResponseWriter, r *http.Request) {
	ideas, err := s.service.ListIdeas(r.Context(), s.optionalIdentity(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ideas)
}

func (s *HTTPServer) handleCreateIdea(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identityForWrite(w, r)
	if !ok {
		return
	}
	var body CreateIdeaInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	idea, err := s.service.CreateIdea(r.Context(), identity, body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idea)
}

func (s *HTTPServer) handleGetIdea(w http.ResponseWriter, r *http.Request) {
	ideaID, ok := ideaIDParam(w, r)
	if !ok {
		return
	}
	idea, err := s.service.GetIdea(r.Context(), s.optionalIdentity(r), ideaID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idea)
}

func (s *HTTPServer) handleEditIdea(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	ideaID, ok := ideaIDParam(w, r)
	if !ok {
		return
	}
	var patch store.IdeaPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	idea, err := s.service.EditIdea(r.Context(), session.Identity(), ideaID, patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idea)
}

func (s *HTTPServer) handleChangeRank(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	ideaID, ok := ideaIDParam(w, r)
	if !ok {
		return
	}
	var body struct {
		Rank *int `json:"rank"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Rank == nil {
		writeDomainError(w, validationError("rank is required", map[string]string{"rank": "required"}))
		return
	}
	idea, err := s.service.ChangeRank(r.Context(), session.Identity(), ideaID, *body.Rank)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idea)
}

func (s *HTTPServer) handlePublishIdea(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	ideaID, ok := ideaIDParam(w, r)
	if !ok {
		return
	}
	idea, err := s.service.PublishIdea(r.Context(), session.Identity(), ideaID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idea)
}

func (s *HTTPServer) handleDeleteIdea(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	ideaID, ok := ideaIDParam(w, r)
	if !ok {
		return
	}
	if _, err := s.service.DeleteIdea(r.Context(), session.Identity(), ideaID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	ideaID, ok := ideaIDParam(w, r)
	if !ok {
		return
	}
	versions, err := s.service.ListVersions(r.Context(), session.Identity(), ideaID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *HTTPServer) handleShare(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	ideaID, ok := ideaIDParam(w, r)
	if !ok {
		return
	}
	text, err := s.service.ShareText(r.Context(), session.Identity(), ideaID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": text})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	ideaID, ok := ideaIDParam(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeDomainError(w, validationError(err.Error(), map[string]string{"format": "oneof"}))
		return
	}
	storeResult, _ := strconv.ParseBool(r.URL.Query().Get("store"))

	out, err := s.service.ExportIdea(r.Context(), s.optionalIdentity(r), ideaID, format, storeResult)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if storeResult {
		writeJSON(w, http.StatusOK, map[string]any{"url": out.URL, "filename": out.Result.Filename})
		return
	}
	w.Header().Set("Content-Type", out.Result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Result.Data)
}

func (s *HTTPServer) handleListAllPublic(w http.ResponseWriter, r *http.Request) {
	feed, err := s.service.ListAllPublic(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *HTTPServer) handleSearchPublic(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	minRank, _ := strconv.Atoi(query.Get("minRank"))
	resp, err := s.service.SearchPublic(r.Context(), search.Query{
		Text:     query.Get("q"),
		Username: strings.TrimSpace(query.Get("username")),
		MinRank:  minRank,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleListPublicByUser(w http.ResponseWriter, r *http.Request) {
	ideas, err := s.service.ListPublicByUser(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ideas)
}

func (s *HTTPServer) handleViewPublic(w http.ResponseWriter, r *http.Request) {
	ideaID, ok := ideaIDParam(w, r)
	if !ok {
		return
	}
	idea, err := s.service.ViewPublic(r.Context(), chi.URLParam(r, "username"), ideaID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idea)
}

func (s *HTTPServer) handleViewPublicHistory(w http.ResponseWriter, r *http.Request) {
	ideaID, ok := ideaIDParam(w, r)
	if !ok {
		return
	}
	versions, err := s.service.ViewPublicHistory(r.Context(), chi.URLParam(r, "username"), ideaID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.log.Error().Err(err).Msg("session lookup")
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// optionalIdentity treats a missing or unusable token as anonymous.
func (s *HTTPServer) optionalIdentity(r *http.Request) Identity {
	token := bearerToken(r)
	if token == "" {
		return Identity{}
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		return Identity{}
	}
	return session.Identity()
}

// identityForWrite allows anonymous callers through only when anonymous
// mode is enabled; a token that is present must still be valid.
func (s *HTTPServer) identityForWrite(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	if bearerToken(r) == "" && s.service.cfg.AllowAnonymous {
		return Identity{}, true
	}
	session, ok := s.requireSession(w, r)
	return session.Identity(), ok
}

func ideaIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid idea ID", nil)
		return 0, false
	}
	return id, true
}

func (s *HTTPServer) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(writer.status)).Observe(elapsed.Seconds())
		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request by the logging middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
