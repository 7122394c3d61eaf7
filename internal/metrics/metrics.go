// Package metrics declares the Prometheus counters the server exposes,
// following the promauto.NewCounterVec pattern used throughout the
// teacher's own metrics files.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var AgentHandshakes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nxy_agent_handshakes_total",
	Help: "counter of agent session handshakes, by outcome",
}, []string{"status"})

var HeartbeatPings = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nxy_heartbeat_pings_total",
	Help: "counter of heartbeat pings issued to agents, by outcome",
}, []string{"status"})

var RevisionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nxy_revisions_processed_total",
	Help: "counter of flake revisions run through the reconciliation engine, by outcome",
}, []string{"status"})

var AdminRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nxy_admin_requests_total",
	Help: "counter of admin HTTP API requests, by route and status class",
}, []string{"route", "status"})
