package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/quantk/internal/rpc"
	"github.com/wonny/quantk/pkg/logger"
)

// DebugServer exposes a localhost HTTP status surface next to the RPC port.
// It is optional and off unless a debug port is configured.
type DebugServer struct {
	httpServer *http.Server
	logger     *logger.Logger
}

// NewDebugServer builds the debug endpoint over a running rpc.Server
func NewDebugServer(port int, srv *rpc.Server, log *logger.Logger) *DebugServer {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"status": "ok",
			"port":   srv.Port(),
			"time":   time.Now().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	router.HandleFunc("/methods", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"methods": srv.Methods(),
		})
	}).Methods(http.MethodGet)

	return &DebugServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: log.WithField("component", "debug_http"),
	}
}

// Start serves until Shutdown; ErrServerClosed is not an error
func (d *DebugServer) Start() error {
	d.logger.WithField("addr", d.httpServer.Addr).Info("Starting debug endpoint")

	if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("debug endpoint failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the debug endpoint
func (d *DebugServer) Shutdown(ctx context.Context) error {
	return d.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
