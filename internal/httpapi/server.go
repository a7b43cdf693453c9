package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/solaris-dev/pylon/internal/command"
	"github.com/solaris-dev/pylon/internal/config"
	"github.com/solaris-dev/pylon/internal/hub"
	"github.com/solaris-dev/pylon/internal/observability"
	"github.com/solaris-dev/pylon/internal/store"
	"github.com/solaris-dev/pylon/internal/watchlist"
)

type Server struct {
	cfg        config.Config
	store      *store.Store
	watch      *watchlist.List
	hub        *hub.Hub
	dispatcher *command.Dispatcher
	metrics    *observability.Metrics
	validate   *validator.Validate
	upgrader   websocket.Upgrader

	// ready reports whether the upstream feed is established; nil means
	// always ready.
	ready func() bool
}

func New(
	cfg config.Config,
	st *store.Store,
	watch *watchlist.List,
	h *hub.Hub,
	dispatcher *command.Dispatcher,
	metrics *observability.Metrics,
	ready func() bool,
) *Server {
	return &Server{
		cfg:        cfg,
		store:      st,
		watch:      watch,
		hub:        h,
		dispatcher: dispatcher,
		metrics:    metrics,
		validate:   validator.New(),
		ready:      ready,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(corsHeaders)

	r.Get("/", s.handleInfo)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/socket", s.handleSocket)

	r.Get("/v1/users/{userID}", s.handleGetPresence)
	r.Get("/v1/users/{userID}/kv", s.handleGetKV)
	r.Post("/v1/users/{userID}/kv", s.handleSetKV)
	r.Delete("/v1/users/{userID}/kv", s.handleDeleteKV)
	r.Post("/v1/commands", s.handleCommand)

	return r
}

func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service":   "pylon",
		"monitored": s.watch.Len(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "upstream feed not established")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.ServeConn(r.Context(), sock)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// validationCode maps the first failed field to an INVALID_* error code.
func validationCode(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return "INVALID_" + strings.ToUpper(fieldErrs[0].Field())
	}
	return "INVALID_BODY"
}
