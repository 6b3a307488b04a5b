package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/avykov/telescan/internal/store"
)

// SlotStatus is one slot's currently bound account.
type SlotStatus struct {
	Slot     string `json:"slot"`
	Account  string `json:"account"`
	Requests int    `json:"requests"`
}

// Status reports the scraper's current shape.
type Status struct {
	Accounts int          `json:"accounts"`
	Slots    []SlotStatus `json:"slots"`
}

// StatusProvider supplies the live numbers behind /status.
type StatusProvider interface {
	Size(ctx context.Context) (int, error)
}

// SlotReporter exposes a slot's bound account, nil before start.
type SlotReporter interface {
	Account() *store.SessionAccount
}

// SeedPublisher pushes a seed trigger onto the control bus.
type SeedPublisher interface {
	Publish(subject string, data any) error
}

type Server struct {
	router      *chi.Mux
	port        int
	pool        StatusProvider
	slots       map[string]SlotReporter
	bus         SeedPublisher
	seedSubject string
	logger      *slog.Logger
}

func NewServer(port int, pool StatusProvider, slots map[string]SlotReporter, bus SeedPublisher, seedSubject string, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:      router,
		port:        port,
		pool:        pool,
		slots:       slots,
		bus:         bus,
		seedSubject: seedSubject,
		logger:      logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/telescan/status", s.status)
	router.Post("/api/v1/telescan/seed/{sourceID}", s.seed)

	return s
}

// Serve implements suture.Service: it runs the listener until the
// context is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

func (s *Server) String() string { return "api" }

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	size, err := s.pool.Size(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"pool size: %v"}`, err), http.StatusInternalServerError)
		return
	}

	status := Status{Accounts: size, Slots: []SlotStatus{}}
	for name, slot := range s.slots {
		acc := slot.Account()
		if acc == nil {
			continue
		}
		status.Slots = append(status.Slots, SlotStatus{
			Slot:     name,
			Account:  acc.SessionName,
			Requests: acc.RequestCount,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// seed publishes a backfill trigger; the listener picks it up like any
// externally produced one.
func (s *Server) seed(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "sourceID")
	sourceID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"invalid source id: %v"}`, err), http.StatusBadRequest)
		return
	}

	if err := s.bus.Publish(s.seedSubject, strconv.FormatInt(sourceID, 10)); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"publish failed: %v"}`, err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"source_id": sourceID, "queued": true})
}
