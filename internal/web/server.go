// Package web serves the device tree over HTTP and streams manager events
// over a websocket.
package web

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/niltonperimneto/libratbag/internal/automation"
	"github.com/niltonperimneto/libratbag/internal/manager"
)

// handlePrefix turns an object path into its HTTP handle.
const handlePrefix = "/api"

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithAutomation enables the script endpoints.
func WithAutomation(engine *automation.Engine, lib *automation.Library) ServerOption {
	return func(s *Server) {
		s.engine = engine
		s.scripts = lib
	}
}

// WithVersion sets the version string reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP front end of the manager.
type Server struct {
	mgr            *manager.Manager
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	scripts        *automation.Library
	engine         *automation.Engine
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a server and subscribes its websocket hub to the
// manager's events.
func NewServer(mgr *manager.Manager, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		mgr:    mgr,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	if bus := mgr.Events(); bus != nil {
		s.unsubEvents = bus.OnAll(func(event manager.Event) {
			s.wsHub.Broadcast(event)
		})
	}

	s.routes()
	return s
}

// Stop shuts down the WebSocket hub and waits for its goroutine.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// Manager
	s.mux.HandleFunc("GET /api/manager", s.handleAPIManager)
	s.mux.HandleFunc("POST /api/manager/test-device", s.handleAPILoadTestDevice)
	s.mux.HandleFunc("DELETE /api/manager/test-device", s.handleAPIResetTestDevice)

	// Devices
	s.mux.HandleFunc("GET /api/devices", s.handleAPIListDevices)
	s.mux.HandleFunc("GET /api/devices/{id}", s.handleAPIGetDevice)
	s.mux.HandleFunc("POST /api/devices/{id}/commit", s.handleAPICommit)
	s.mux.HandleFunc("GET /api/devices/{id}/saved", s.handleAPISaved)
	s.mux.HandleFunc("GET /api/devices/{id}/history", s.handleAPIHistory)

	const profile = "/api/devices/{id}/profiles/{p}"
	s.mux.HandleFunc("GET "+profile, s.handleAPIGetProfile)
	s.mux.HandleFunc("PATCH "+profile, s.handleAPIPatchProfile)
	s.mux.HandleFunc("POST "+profile+"/active", s.handleAPIActivateProfile)

	s.mux.HandleFunc("GET "+profile+"/resolutions/{r}", s.handleAPIGetResolution)
	s.mux.HandleFunc("PATCH "+profile+"/resolutions/{r}", s.handleAPIPatchResolution)
	s.mux.HandleFunc("POST "+profile+"/resolutions/{r}/active", s.handleAPIActivateResolution)
	s.mux.HandleFunc("POST "+profile+"/resolutions/{r}/default", s.handleAPIDefaultResolution)

	s.mux.HandleFunc("GET "+profile+"/buttons/{b}", s.handleAPIGetButton)
	s.mux.HandleFunc("PATCH "+profile+"/buttons/{b}", s.handleAPIPatchButton)

	s.mux.HandleFunc("GET "+profile+"/leds/{l}", s.handleAPIGetLed)
	s.mux.HandleFunc("PATCH "+profile+"/leds/{l}", s.handleAPIPatchLed)

	// Scripts
	s.mux.HandleFunc("GET /api/scripts", s.handleAPIListScripts)
	s.mux.HandleFunc("POST /api/scripts", s.handleAPICreateScript)
	s.mux.HandleFunc("POST /api/scripts/run", s.handleAPIRunCode)
	s.mux.HandleFunc("GET /api/scripts/{id}", s.handleAPIGetScript)
	s.mux.HandleFunc("PUT /api/scripts/{id}", s.handleAPIUpdateScript)
	s.mux.HandleFunc("DELETE /api/scripts/{id}", s.handleAPIDeleteScript)
	s.mux.HandleFunc("POST /api/scripts/{id}/run", s.handleAPIRunScript)

	// WebSocket
	s.mux.HandleFunc("GET /api/ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// Browsers cannot set headers on a websocket upgrade, so /api/ws relies
	// on the origin check instead.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") && r.URL.Path != "/api/ws" {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"version":     s.version,
		"api_version": s.mgr.APIVersion(),
	})
}
