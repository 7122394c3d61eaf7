package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetAgent fetches one agent's persisted row, or sql.ErrNoRows if unknown.
func (db *DB) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var a Agent
	row := db.QueryRowContext(ctx, db.rebind(`
		SELECT agent_id, current_system, nixos_configuration_id FROM agents WHERE agent_id = ?
	`), agentID)
	if err := row.Scan(&a.AgentID, &a.CurrentSystem, &a.NixosConfigurationID); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAgents returns every known agent, the shape GET /api/v1/agent serves.
func (db *DB) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := db.QueryContext(ctx, `SELECT agent_id, current_system, nixos_configuration_id FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.AgentID, &a.CurrentSystem, &a.NixosConfigurationID); err != nil {
			return nil, fmt.Errorf("store: scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAgentStatus records a $/status reply from a freshly (re)connected
// agent: inserting a new agents row on first contact, or updating
// current_system for a returning one. Mirrors AgentManager.on_connect.
func (db *DB) UpsertAgentStatus(ctx context.Context, agentID, currentSystem string) error {
	_, err := db.GetAgent(ctx, agentID)
	switch {
	case err == nil:
		_, err = db.ExecContext(ctx, db.rebind(`UPDATE agents SET current_system = ? WHERE agent_id = ?`), currentSystem, agentID)
		if err != nil {
			return fmt.Errorf("store: update agent current_system: %w", err)
		}
		return nil
	case err == sql.ErrNoRows:
		_, err = db.ExecContext(ctx, db.rebind(`
			INSERT INTO agents (agent_id, current_system) VALUES (?, ?)
		`), agentID, currentSystem)
		if err != nil {
			return fmt.Errorf("store: insert agent: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("store: looking up agent %s: %w", agentID, err)
	}
}

// AssignConfiguration sets the configuration an agent is targeted at
// (POST /api/v1/agent/:agent_id).
func (db *DB) AssignConfiguration(ctx context.Context, agentID string, configID int64) error {
	_, err := db.ExecContext(ctx, db.rebind(`
		UPDATE agents SET nixos_configuration_id = ? WHERE agent_id = ?
	`), configID, agentID)
	if err != nil {
		return fmt.Errorf("store: assign configuration: %w", err)
	}
	return nil
}

// MatchByCurrentSystem is the best-effort auto-binding described in spec
// §4.5: for every agent with no configuration assigned, bind it to the
// configuration of any evaluation (of any revision) whose store path
// equals the agent's reported current_system. Ambiguity (two configurations evaluate
// to the same store path) is resolved by the database engine's row
// ordering and is not considered a bug.
func (db *DB) MatchByCurrentSystem(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		UPDATE agents
		SET nixos_configuration_id = (
			SELECT e.nixos_configuration_id
			FROM nixos_configuration_evaluations e
			WHERE e.store_path = agents.current_system
			LIMIT 1
		)
		WHERE agents.nixos_configuration_id IS NULL
		  AND agents.current_system IS NOT NULL
		  AND EXISTS (
			SELECT 1 FROM nixos_configuration_evaluations e
			WHERE e.store_path = agents.current_system
		  )
	`)
	if err != nil {
		return fmt.Errorf("store: match by current system: %w", err)
	}
	return nil
}

// FindAgentByConfiguration returns the agent_id currently assigned to
// configID, if any. Used by on_configuration_update to find who to notify.
func (db *DB) FindAgentByConfiguration(ctx context.Context, configID int64) (string, error) {
	var agentID string
	row := db.QueryRowContext(ctx, db.rebind(`
		SELECT agent_id FROM agents WHERE nixos_configuration_id = ? LIMIT 1
	`), configID)
	if err := row.Scan(&agentID); err != nil {
		return "", err
	}
	return agentID, nil
}
