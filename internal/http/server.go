package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"enrollment/internal/config"
	"enrollment/internal/enrollment"
	"enrollment/internal/metrics"
)

const maxBodyBytes = 1 << 20

type Server struct {
	cfg      config.Config
	svc      *enrollment.Service
	logger   *slog.Logger
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

func NewServer(cfg config.Config, svc *enrollment.Service, logger *slog.Logger, registry *prometheus.Registry) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &Server{
		cfg:      cfg,
		svc:      svc,
		logger:   logger,
		metrics:  metrics.New(registry),
		registry: registry,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/registrar", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Get("/validar-token", s.handleValidateToken)
		r.Get("/inscritos", s.handleListEnrollments)
	})

	return r
}

type messageResponse struct {
	Message string `json:"message"`
}

type loginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
	Name    string `json:"nome"`
}

type tokenResponse struct {
	OK   bool   `json:"ok"`
	Name string `json:"nome"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req enrollment.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.metrics.Registrations.WithLabelValues(enrollment.ErrInvalidRequest.Code).Inc()
		s.writeServiceError(w, r, enrollment.ErrInvalidRequest)
		return
	}

	if err := s.svc.Register(r.Context(), req); err != nil {
		s.metrics.Registrations.WithLabelValues(errorCode(err)).Inc()
		s.writeServiceError(w, r, err)
		return
	}

	s.metrics.Registrations.WithLabelValues("created").Inc()
	writeJSON(w, http.StatusCreated, messageResponse{Message: "Usuário registrado com sucesso!"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req enrollment.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.metrics.Logins.WithLabelValues(enrollment.ErrInvalidRequest.Code).Inc()
		s.writeServiceError(w, r, enrollment.ErrInvalidRequest)
		return
	}

	result, err := s.svc.Login(r.Context(), req)
	if err != nil {
		s.metrics.Logins.WithLabelValues(errorCode(err)).Inc()
		s.writeServiceError(w, r, err)
		return
	}

	s.metrics.Logins.WithLabelValues("success").Inc()
	if result.Token == "" {
		writeJSON(w, http.StatusOK, messageResponse{Message: result.Message})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Message: result.Message,
		Token:   result.Token,
		Name:    result.Name,
	})
}

func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	claims, err := s.svc.VerifyToken(bearerToken(r.Header.Get("Authorization")))
	if err != nil {
		s.metrics.TokenChecks.WithLabelValues(errorCode(err)).Inc()
		s.writeServiceError(w, r, err)
		return
	}

	s.metrics.TokenChecks.WithLabelValues("valid").Inc()
	writeJSON(w, http.StatusOK, tokenResponse{OK: true, Name: claims.Name})
}

func (s *Server) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// writeServiceError maps a service error onto a status code and the
// client-safe message. Internal causes are logged, never returned.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *enrollment.Error
	if !errors.As(err, &domainErr) {
		domainErr = &enrollment.Error{Kind: enrollment.KindInternal, Code: "server_error", Message: "Erro interno no servidor.", Err: err}
	}

	status := statusFor(domainErr)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"code", domainErr.Code,
			"error", domainErr.Err,
		)
	}
	writeJSON(w, status, map[string]string{
		"message": domainErr.Message,
		"error":   domainErr.Code,
	})
}

func statusFor(err *enrollment.Error) int {
	switch err.Kind {
	case enrollment.KindValidation, enrollment.KindConflict, enrollment.KindNotFound:
		return http.StatusBadRequest
	case enrollment.KindAuth:
		if errors.Is(err, enrollment.ErrInvalidPassword) {
			return http.StatusBadRequest
		}
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	var domainErr *enrollment.Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "server_error"
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)

		s.metrics.RequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
		s.logger.InfoContext(r.Context(), "http request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.CORSAllowedOrigins
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
