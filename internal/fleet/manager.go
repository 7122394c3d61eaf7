// Package fleet implements the AgentManager (C5): the server-side registry
// of live peers keyed by durable agent id, identity handshake, periodic
// heartbeat, and the lookups the reconciliation engine needs to dispatch
// work to a named agent.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nxyio/nxy/internal/metrics"
	"github.com/nxyio/nxy/internal/rpc"
	"github.com/nxyio/nxy/internal/store"
)

// HeartbeatInterval is the liveness-probe cadence (spec §4.5).
const HeartbeatInterval = 5 * time.Second

// statusResult mirrors the agent's $/status response (spec §4.4).
type statusResult struct {
	ID      string `json:"id"`
	System  system `json:"system"`
	Version string `json:"version"`
}

type system struct {
	Current string `json:"current"`
	Booted  string `json:"booted"`
}

// Manager is the AgentManager: a mapping agent_id -> live peer, guarded
// for mutation, plus the heartbeat loop that prunes dead peers.
type Manager struct {
	db          *store.DB
	externalURL string

	mu     sync.RWMutex
	agents map[uuid.UUID]*rpc.Peer
}

// NewManager constructs a Manager and starts its heartbeat loop in the
// background. The loop runs for the lifetime of ctx. externalURL is the
// substituter address agents are told to download store paths from
// (the "from" field of $/download).
func NewManager(ctx context.Context, db *store.DB, externalURL string) *Manager {
	m := &Manager{db: db, externalURL: externalURL, agents: make(map[uuid.UUID]*rpc.Peer)}
	go m.heartbeatLoop(ctx)
	return m
}

// OnConnect performs the identity handshake for a freshly accepted peer:
// issue $/status, persist the reported identity and current_system, run
// the best-effort configuration match, then install the peer, replacing
// and discarding any previously-installed peer for the same id.
func (m *Manager) OnConnect(ctx context.Context, peer *rpc.Peer) (uuid.UUID, error) {
	resp, err := peer.Call(ctx, "$/status", nil)
	if err != nil {
		metrics.AgentHandshakes.WithLabelValues("status_call_failed").Inc()
		return uuid.Nil, fmt.Errorf("fleet: handshake $/status failed: %w", err)
	}

	var status statusResult
	if err := json.Unmarshal(resp.Result, &status); err != nil {
		metrics.AgentHandshakes.WithLabelValues("bad_status_result").Inc()
		return uuid.Nil, fmt.Errorf("fleet: decoding $/status result: %w", err)
	}

	agentID, err := uuid.Parse(status.ID)
	if err != nil {
		metrics.AgentHandshakes.WithLabelValues("bad_agent_id").Inc()
		return uuid.Nil, fmt.Errorf("fleet: agent reported invalid id %q: %w", status.ID, err)
	}

	if err := m.db.UpsertAgentStatus(ctx, agentID.String(), status.System.Current); err != nil {
		metrics.AgentHandshakes.WithLabelValues("persist_failed").Inc()
		return uuid.Nil, fmt.Errorf("fleet: persisting agent status: %w", err)
	}
	metrics.AgentHandshakes.WithLabelValues("ok").Inc()

	if err := m.db.MatchByCurrentSystem(ctx); err != nil {
		log.WithError(err).Warn("fleet: best-effort configuration match failed")
	}

	m.mu.Lock()
	old, hadOld := m.agents[agentID]
	m.agents[agentID] = peer
	m.mu.Unlock()

	if hadOld {
		log.WithField("agent_id", agentID).Info("fleet: replacing peer for reconnecting agent")
		_ = old.Close()
	} else {
		log.WithField("agent_id", agentID).Info("fleet: agent connected")
	}

	return agentID, nil
}

// Get returns the live peer for agentID, if any, via an atomic snapshot
// lookup.
func (m *Manager) Get(agentID uuid.UUID) (*rpc.Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.agents[agentID]
	return p, ok
}

// downloadParams is the $/download request body (spec §6).
type downloadParams struct {
	StorePath string `json:"store_path"`
	From      string `json:"from"`
}

// OnConfigurationUpdate is called whenever the reconciliation engine
// records a new evaluation for configID: look up the resulting store
// path, find whichever agent is currently assigned to that configuration,
// and if it is live, push it a $/download. Activation remains a separate
// explicit admin action (spec §6) and is never triggered from here.
func (m *Manager) OnConfigurationUpdate(ctx context.Context, configID, flakeRevisionID int64) {
	eval, err := m.db.GetEvaluation(ctx, flakeRevisionID, configID)
	if err != nil {
		log.WithError(err).WithField("configuration_id", configID).Warn("fleet: no evaluation recorded for configuration update")
		return
	}

	agentIDStr, err := m.db.FindAgentByConfiguration(ctx, configID)
	if err != nil {
		return // no agent currently assigned to this configuration
	}
	agentID, err := uuid.Parse(agentIDStr)
	if err != nil {
		log.WithError(err).Warn("fleet: agent row has malformed id")
		return
	}

	peer, ok := m.Get(agentID)
	if !ok {
		return // agent assigned but not currently connected
	}

	params := downloadParams{StorePath: eval.StorePath, From: m.externalURL}
	if _, err := peer.Call(ctx, "$/download", params); err != nil {
		log.WithError(err).WithField("agent_id", agentID).Warn("fleet: dispatching $/download failed")
	}
}

// Remove drops agentID from the registry without closing its peer (used
// when the caller has already observed the peer's session end).
func (m *Manager) Remove(agentID uuid.UUID) {
	m.mu.Lock()
	delete(m.agents, agentID)
	m.mu.Unlock()
}

// snapshot clones the current id->peer map under lock, for heartbeat and
// other callers that need to iterate without holding the registry lock.
func (m *Manager) snapshot() map[uuid.UUID]*rpc.Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uuid.UUID]*rpc.Peer, len(m.agents))
	for k, v := range m.agents {
		out[k] = v
	}
	return out
}

// heartbeatLoop pings every registered peer every HeartbeatInterval,
// removing any peer whose ping resolves to an error. It never terminates
// on its own; it exits only when ctx is canceled.
func (m *Manager) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.heartbeatOnce(ctx)
		}
	}
}

func (m *Manager) heartbeatOnce(ctx context.Context) {
	agents := m.snapshot()

	var g errgroup.Group
	var mu sync.Mutex
	var dead []uuid.UUID

	for id, peer := range agents {
		id, peer := id, peer
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(ctx, HeartbeatInterval)
			defer cancel()
			if _, err := peer.Call(pingCtx, "$/ping", nil); err != nil {
				metrics.HeartbeatPings.WithLabelValues("failed").Inc()
				mu.Lock()
				dead = append(dead, id)
				mu.Unlock()
			} else {
				metrics.HeartbeatPings.WithLabelValues("ok").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(dead) == 0 {
		return
	}
	m.mu.Lock()
	for _, id := range dead {
		delete(m.agents, id)
	}
	m.mu.Unlock()
	for _, id := range dead {
		log.WithField("agent_id", id).Warn("fleet: heartbeat failed, removing agent")
	}
}
