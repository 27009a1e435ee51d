package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tenantops/lab-lifecycle/internal/config"
	"github.com/tenantops/lab-lifecycle/internal/dispatcher"
	"github.com/tenantops/lab-lifecycle/internal/models"
	"github.com/tenantops/lab-lifecycle/internal/store"
)

type Server struct {
	cfg        config.Config
	dispatcher *dispatcher.Dispatcher
	store      store.DeploymentStore
	labs       store.LabConfigStore
}

func New(cfg config.Config, d *dispatcher.Dispatcher, st store.DeploymentStore, labs store.LabConfigStore) *Server {
	return &Server{cfg: cfg, dispatcher: d, store: st, labs: labs}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(bearerAuth(s.cfg.AuthSecret))
			r.Post("/sessions", s.handleDispatch)
			r.Delete("/sessions/{depID}", s.handleRemove)
		})
		r.Get("/sessions/{depID}", s.handleGet)
		r.Get("/labs/{labID}", s.handleGetLab)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["store"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req models.SessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		var verr *dispatcher.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, verr.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if outcome.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, outcome.Record)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	depID := chi.URLParam(r, "depID")
	rec, err := s.store.Get(r.Context(), depID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "deployment not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleRemove deletes the record immediately. The deletion surfaces on the
// change feed exactly like a TTL expiry, so reclamation follows.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	depID := chi.URLParam(r, "depID")
	rec, err := s.store.Delete(r.Context(), depID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "deployment not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetLab(w http.ResponseWriter, r *http.Request) {
	labID := chi.URLParam(r, "labID")
	cfg, err := s.labs.Get(r.Context(), labID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "lab not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
