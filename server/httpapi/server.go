// Package httpapi exposes the admin HTTP API: rule CRUD, manual runs,
// statistics, import/export and Prometheus metrics. It is bearer-token
// protected and intended for localhost or a trusted network.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kochj23/mailsummary/cache"
	"github.com/kochj23/mailsummary/consts"
	"github.com/kochj23/mailsummary/logger"
	"github.com/kochj23/mailsummary/rules"
	"github.com/kochj23/mailsummary/rules/sieveout"
)

// RunFunc triggers a full fetch-run-dispatch pass outside the regular
// schedule. The daemon wires its run loop in here.
type RunFunc func(ctx context.Context) (*rules.RunReport, error)

// Server represents the admin HTTP API server.
type Server struct {
	addr           string
	apiKey         string
	allowedHosts   []string
	engine         *rules.Engine
	cache          *cache.Cache
	runNow         RunFunc
	archiveMailbox string
	server         *http.Server
	tls            bool
	tlsCertFile    string
	tlsKeyFile     string
}

// ServerOptions holds configuration options for the HTTP API server.
type ServerOptions struct {
	Addr           string
	APIKey         string
	AllowedHosts   []string
	Cache          *cache.Cache
	RunNow         RunFunc
	ArchiveMailbox string
	TLS            bool
	TLSCertFile    string
	TLSKeyFile     string
}

// New creates a new HTTP API server.
func New(engine *rules.Engine, options ServerOptions) (*Server, error) {
	if options.APIKey == "" {
		return nil, fmt.Errorf("API key is required for HTTP API server")
	}
	if options.TLS {
		if options.TLSCertFile == "" || options.TLSKeyFile == "" {
			return nil, fmt.Errorf("TLS certificate and key files are required when TLS is enabled")
		}
	}

	return &Server{
		addr:           options.Addr,
		apiKey:         options.APIKey,
		allowedHosts:   options.AllowedHosts,
		engine:         engine,
		cache:          options.Cache,
		runNow:         options.RunNow,
		archiveMailbox: options.ArchiveMailbox,
		tls:            options.TLS,
		tlsCertFile:    options.TLSCertFile,
		tlsKeyFile:     options.TLSKeyFile,
	}, nil
}

// Start starts the HTTP API server and reports fatal errors on errChan.
func Start(ctx context.Context, engine *rules.Engine, options ServerOptions, errChan chan error) {
	server, err := New(engine, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP API server: %w", err)
		return
	}

	protocol := "HTTP"
	if options.TLS {
		protocol = "HTTPS"
	}
	logger.Info("starting admin API server", "protocol", protocol, "addr", options.Addr)
	if err := server.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down admin API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down admin API server", "error", err)
		}
	}()

	if s.tls {
		return s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}
	return s.server.ListenAndServe()
}

// setupRoutes configures all HTTP routes and middleware.
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.allowedHostsMiddleware)
	router.Use(s.authMiddleware)

	v1 := router.PathPrefix("/api/v1").Subrouter()

	// Rule management
	v1.HandleFunc("/rules", s.handleListRules).Methods("GET")
	v1.HandleFunc("/rules", s.handleCreateRule).Methods("POST")
	v1.HandleFunc("/rules/reorder", s.handleReorderRules).Methods("POST")
	v1.HandleFunc("/rules/test", s.handleTestRule).Methods("POST")
	v1.HandleFunc("/rules/export", s.handleExportRules).Methods("GET")
	v1.HandleFunc("/rules/export/sieve", s.handleExportSieve).Methods("GET")
	v1.HandleFunc("/rules/import", s.handleImportRules).Methods("POST")
	v1.HandleFunc("/rules/{id}", s.handleGetRule).Methods("GET")
	v1.HandleFunc("/rules/{id}", s.handleUpdateRule).Methods("PUT")
	v1.HandleFunc("/rules/{id}", s.handleDeleteRule).Methods("DELETE")
	v1.HandleFunc("/rules/{id}/toggle", s.handleToggleRule).Methods("POST")

	// Engine operations
	v1.HandleFunc("/run", s.handleRunNow).Methods("POST")
	v1.HandleFunc("/stats", s.handleStats).Methods("GET")

	// Message index
	v1.HandleFunc("/cache/stats", s.handleCacheStats).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("admin API request",
			"method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)

		allowed := false
		for _, allowedHost := range s.allowedHosts {
			if allowedHost == clientIP {
				allowed = true
				break
			}
			if strings.Contains(allowedHost, "/") {
				if _, cidr, err := net.ParseCIDR(allowedHost); err == nil {
					if ip := net.ParseIP(clientIP); ip != nil && cidr.Contains(ip) {
						allowed = true
						break
					}
				}
			}
		}

		if !allowed {
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Utility functions

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// Request types

type ReorderRequest struct {
	IDs []string `json:"ids"`
}

type TestRuleRequest struct {
	Rule     rules.Rule       `json:"rule"`
	Messages []*rules.Message `json:"messages"`
}

// Handler functions

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	ruleList := s.engine.Rules()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": ruleList,
		"total": len(ruleList),
	})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if rule.ID == "" {
		created := rules.NewRule(rule.Name)
		rule.ID = created.ID
		rule.CreatedAt = created.CreatedAt
		rule.UpdatedAt = created.UpdatedAt
	}

	if err := s.engine.AddRule(r.Context(), &rule); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, &rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rule, err := s.engine.GetRule(id)
	if err != nil {
		if errors.Is(err, consts.ErrRuleNotFound) {
			s.writeError(w, http.StatusNotFound, "Rule not found")
			return
		}
		logger.Error("error getting rule", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to get rule")
		return
	}

	s.writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id := mux.Vars(r)["id"]

	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	rule.ID = id

	if err := s.engine.UpdateRule(r.Context(), &rule); err != nil {
		if errors.Is(err, consts.ErrRuleNotFound) {
			s.writeError(w, http.StatusNotFound, "Rule not found")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, &rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.engine.DeleteRule(r.Context(), id); err != nil {
		if errors.Is(err, consts.ErrRuleNotFound) {
			s.writeError(w, http.StatusNotFound, "Rule not found")
			return
		}
		logger.Error("error deleting rule", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to delete rule")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"id":      id,
		"message": "Rule deleted",
	})
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	enabled, err := s.engine.ToggleRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, consts.ErrRuleNotFound) {
			s.writeError(w, http.StatusNotFound, "Rule not found")
			return
		}
		logger.Error("error toggling rule", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to toggle rule")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"enabled": enabled,
	})
}

func (s *Server) handleReorderRules(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(req.IDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	if err := s.engine.Reorder(r.Context(), req.IDs); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": s.engine.Rules(),
	})
}

func (s *Server) handleTestRule(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req TestRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := req.Rule.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	matched, total := s.engine.TestRule(&req.Rule, req.Messages)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"matched": matched,
		"total":   total,
	})
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	if s.runNow == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Manual runs not available")
		return
	}

	report, err := s.runNow(r.Context())
	if err != nil {
		logger.Error("manual run failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Run failed: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	s.writeJSON(w, http.StatusOK, &stats)
}

func (s *Server) handleExportRules(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.ExportJSON()
	if err != nil {
		logger.Error("rule export failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to export rules")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleImportRules(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if err := s.engine.ImportJSON(r.Context(), data); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ruleList := s.engine.Rules()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Rules imported",
		"total":   len(ruleList),
	})
}

func (s *Server) handleExportSieve(w http.ResponseWriter, r *http.Request) {
	script, err := sieveout.Export(s.engine.Rules(), s.archiveMailbox)
	if err != nil {
		logger.Error("sieve export failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to export sieve script")
		return
	}

	w.Header().Set("Content-Type", "application/sieve")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, script)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Message index not available")
		return
	}

	stats, err := s.cache.GetStats(r.Context())
	if err != nil {
		logger.Error("error getting message index stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to get message index stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
