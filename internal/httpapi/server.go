package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	apimw "github.com/hamed0406/uptimemonitor/internal/httpapi/middleware"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

const (
	defaultCheckLimit = 20
	maxCheckLimit     = 200
)

// Sweeper runs one sweep on demand.
type Sweeper interface {
	RunOnce(ctx context.Context) (int, error)
}

type Server struct {
	Logger  *zap.Logger
	Store   repo.Store
	Sweeper Sweeper
}

func NewServer(l *zap.Logger, store repo.Store, sw Sweeper) *Server {
	return &Server{Logger: l, Store: store, Sweeper: sw}
}

// Router mounts the read routes behind any API key and the sweep trigger
// behind an admin key, each with its own rate limit.
func (s *Server) Router(keys apimw.Keys, origins []string, pubRPM, pubBurst, admRPM, admBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	if len(origins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(pubRPM, pubBurst))
			r.Use(apimw.RequireAny(keys))
			r.Get("/clients", s.handleListClients)
			r.Get("/clients/{id}/websites", s.handleClientWebsites)
			r.Get("/websites/{id}/checks", s.handleWebsiteChecks)
		})
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(admRPM, admBurst))
			r.Use(apimw.RequireAdmin(keys))
			r.Post("/sweep", s.handleSweep)
		})
	})
	return r
}

type clientView struct {
	*domain.Client
	Websites []*domain.Endpoint `json:"websites"`
}

// handleListClients returns active clients with their active websites.
func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.Store.ListClients(r.Context(), true)
	if err != nil {
		s.fail(w, "list_clients_error", err)
		return
	}
	out := make([]clientView, 0, len(clients))
	for _, c := range clients {
		eps, err := s.Store.ListEndpointsByClient(r.Context(), c.ID, true)
		if err != nil {
			s.fail(w, "list_websites_error", err)
			return
		}
		out = append(out, clientView{Client: c, Websites: eps})
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": out})
}

func (s *Server) handleClientWebsites(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.Store.GetClient(r.Context(), domain.ClientID(id)); err != nil {
		s.notFoundOr(w, "get_client_error", err)
		return
	}
	eps, err := s.Store.ListEndpointsByClient(r.Context(), domain.ClientID(id), true)
	if err != nil {
		s.fail(w, "list_websites_error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"websites": eps})
}

func (s *Server) handleWebsiteChecks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := defaultCheckLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = min(n, maxCheckLimit)
	}

	ep, err := s.Store.GetEndpoint(r.Context(), domain.EndpointID(id))
	if err != nil {
		s.notFoundOr(w, "get_website_error", err)
		return
	}
	checks, err := s.Store.ListChecks(r.Context(), ep.ID, limit)
	if err != nil {
		s.fail(w, "list_checks_error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"website": ep, "checks": checks})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.Sweeper.RunOnce(r.Context())
	if err != nil {
		s.Logger.Warn("api_sweep_error", zap.Int("queued", n), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "sweep failed", "queued": n})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": n})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (s *Server) notFoundOr(w http.ResponseWriter, event string, err error) {
	if errors.Is(err, repo.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	s.fail(w, event, err)
}

func (s *Server) fail(w http.ResponseWriter, event string, err error) {
	s.Logger.Warn(event, zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
