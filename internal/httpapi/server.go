// Package httpapi is the admin HTTP (JSON) surface (spec §6) and the
// session upgrade endpoint agents dial into. Routing uses Go 1.22's
// net/http.ServeMux method+wildcard patterns; no router dependency
// appears anywhere in the retrieved corpus, so the standard library
// mux is used directly.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/nxyio/nxy/internal/fleet"
	"github.com/nxyio/nxy/internal/metrics"
	"github.com/nxyio/nxy/internal/reconcile"
	"github.com/nxyio/nxy/internal/rpc"
	"github.com/nxyio/nxy/internal/store"
	"github.com/nxyio/nxy/internal/wsconn"
)

// Server bundles the dependencies the admin API and session acceptor
// need: the registry, the reconciliation engine, and the database.
type Server struct {
	db          *store.DB
	fleet       *fleet.Manager
	engine      *reconcile.Engine
	externalURL string
	upgrader    websocket.Upgrader
}

// New constructs a Server and wires its routes onto a fresh ServeMux.
// externalURL is the substituter address handed to agents as the "from"
// of a $/download triggered via the admin HTTP surface.
func New(db *store.DB, fl *fleet.Manager, engine *reconcile.Engine, externalURL string) *Server {
	return &Server{
		db:          db,
		fleet:       fl,
		engine:      engine,
		externalURL: externalURL,
		// No auth/TLS at this layer (non-goal, spec §1); CheckOrigin is
		// relaxed accordingly since the server sits behind whatever edge
		// the operator chooses to put in front of it.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Routes returns the handler for the admin HTTP surface and the agent
// session endpoint, ready to hand to http.Server.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/agent/ws", s.handleAgentSession)

	mux.HandleFunc("GET /api/v1/agent", withMetrics("agent_list", s.handleListAgents))
	mux.HandleFunc("POST /api/v1/agent/{agent_id}", withMetrics("agent_assign", s.handleAssignConfiguration))
	mux.HandleFunc("POST /api/v1/agent/{agent_id}/download", withMetrics("agent_download", s.handleDownload))
	mux.HandleFunc("POST /api/v1/agent/{agent_id}/activate", withMetrics("agent_activate", s.handleActivate))

	mux.HandleFunc("GET /api/v1/flake", withMetrics("flake_list", s.handleListFlakes))
	mux.HandleFunc("POST /api/v1/flake", withMetrics("flake_register", s.handleRegisterFlake))
	mux.HandleFunc("PUT /api/v1/flake", withMetrics("flake_refresh", s.handleRefreshFlakes))

	mux.HandleFunc("GET /api/v1/configuration", withMetrics("configuration_list", s.handleListConfigurations))

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// statusRecorder captures the status code an inner handler wrote, so
// withMetrics can label the outcome without the handler knowing about
// metrics itself.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withMetrics(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.AdminRequests.WithLabelValues(route, statusClass(rec.status)).Inc()
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

func (s *Server) handleAgentSession(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("httpapi: websocket upgrade failed")
		return
	}

	transport := wsconn.New(ws)
	peer := rpc.NewPeer(transport, nil)

	ctx := r.Context()
	go func() {
		agentID, err := s.fleet.OnConnect(ctx, peer)
		if err != nil {
			log.WithError(err).Warn("httpapi: agent handshake failed")
			_ = peer.Close()
			return
		}
		log.WithField("agent_id", agentID).Info("httpapi: agent session established")
	}()

	if err := peer.Run(ctx); err != nil {
		log.WithError(err).Debug("httpapi: agent session ended")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeDBError maps a database error to the generic 500 spec §7 calls
// for at the admin HTTP boundary; no internal detail is leaked to the
// caller.
func writeDBError(w http.ResponseWriter, err error) {
	log.WithError(err).Warn("httpapi: database error")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func pathAgentID(r *http.Request) string { return r.PathValue("agent_id") }

func parseConfigID(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }
