package httpfrontend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vikasavn/packetgate/pkg/registry"
)

// HTTPFrontend serves health, metrics and client list status.
type HTTPFrontend struct {
	registry *registry.Registry
	gatherer prometheus.Gatherer
	logger   logr.Logger

	mu       sync.Mutex
	server   *http.Server
	shutdown bool
}

type clientStatus struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Validated bool      `json:"validated"`
	Since     time.Time `json:"since"`
}

type clientList struct {
	Count   int            `json:"count"`
	Clients []clientStatus `json:"clients"`
}

type validatedResponse struct {
	Username  string `json:"username"`
	Validated bool   `json:"validated"`
}

// NewHTTPFrontend creates a new HTTP frontend
func NewHTTPFrontend(reg *registry.Registry, gatherer prometheus.Gatherer, logger logr.Logger) *HTTPFrontend {
	return &HTTPFrontend{
		registry: reg,
		gatherer: gatherer,
		logger:   logger,
	}
}

// Handler returns the frontend's routes.
func (f *HTTPFrontend) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", f.HealthHandler)
	mux.HandleFunc("/clients", f.ClientsHandler)
	mux.HandleFunc("/clients/validated", f.ValidatedHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(f.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (f *HTTPFrontend) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ClientsHandler lists the registered clients
func (f *HTTPFrontend) ClientsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := f.registry.Snapshot()
	resp := clientList{Count: len(entries), Clients: make([]clientStatus, 0, len(entries))}
	for _, e := range entries {
		resp.Clients = append(resp.Clients, clientStatus{
			ID:        e.ID,
			Username:  e.Username,
			Validated: e.Validated,
			Since:     e.Since,
		})
	}
	f.writeJSON(w, resp)
}

// ValidatedHandler answers whether a validated client is logged in with the
// given username. length defaults to the username's length.
func (f *HTTPFrontend) ValidatedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	username := r.URL.Query().Get("username")
	if username == "" {
		http.Error(w, "username is required", http.StatusBadRequest)
		return
	}
	length := len(username)
	if v := r.URL.Query().Get("length"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "length must be an integer", http.StatusBadRequest)
			return
		}
		length = n
	}

	f.writeJSON(w, validatedResponse{
		Username:  username,
		Validated: f.registry.IsValidated(username, length),
	})
}

func (f *HTTPFrontend) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		f.logger.Error(err, "Failed to encode response")
	}
}

// StartServer serves the frontend on addr until Shutdown is called.
func (f *HTTPFrontend) StartServer(addr string) error {
	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return nil
	}
	f.server = &http.Server{
		Addr:              addr,
		Handler:           f.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := f.server
	f.mu.Unlock()

	f.logger.Info("Starting HTTP server", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server started by StartServer. A later
// StartServer call returns immediately.
func (f *HTTPFrontend) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	f.shutdown = true
	server := f.server
	f.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
