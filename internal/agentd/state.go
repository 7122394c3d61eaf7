package agentd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// State is the agent's durable identity: a single JSON file at
// <state_dir>/state.json containing {"id": <uuid>}, created on first
// launch and read thereafter (spec §6 "Persisted state (agent)").
type State struct {
	ID uuid.UUID `json:"id"`
}

func statePath(stateDir string) string {
	return filepath.Join(stateDir, "state.json")
}

// LoadOrCreateState reads <stateDir>/state.json, generating and persisting
// a fresh identity if the file is missing.
func LoadOrCreateState(stateDir string) (*State, error) {
	path := statePath(stateDir)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var s State
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("agentd: decoding %s: %w", path, err)
		}
		return &s, nil
	case os.IsNotExist(err):
		s := &State{ID: uuid.New()}
		if err := s.save(stateDir); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("agentd: reading %s: %w", path, err)
	}
}

func (s *State) save(stateDir string) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("agentd: creating state dir %s: %w", stateDir, err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("agentd: encoding state: %w", err)
	}
	if err := os.WriteFile(statePath(stateDir), data, 0o644); err != nil {
		return fmt.Errorf("agentd: writing state file: %w", err)
	}
	return nil
}
