package store

import (
	"context"
	"fmt"
)

// UpsertConfiguration inserts a Configuration row keyed by (flake_id, name)
// if one doesn't already exist, and returns its id either way. Configuration
// rows never carry a Flake-less reference (no Configuration exists without
// its Flake), enforced by the flake_id foreign key.
func (db *DB) UpsertConfiguration(ctx context.Context, flakeID int64, name string) (int64, error) {
	if id, err := db.getConfigurationID(ctx, flakeID, name); err == nil {
		return id, nil
	}

	var id int64
	row := db.QueryRowContext(ctx, db.rebind(`
		INSERT INTO nixos_configurations (flake_id, name) VALUES (?, ?)
		RETURNING nixos_configuration_id
	`), flakeID, name)
	if err := row.Scan(&id); err != nil {
		// Lost a race with another writer upserting the same (flake_id, name);
		// the unique constraint means the row now exists.
		if id, getErr := db.getConfigurationID(ctx, flakeID, name); getErr == nil {
			return id, nil
		}
		return 0, fmt.Errorf("store: upsert configuration %s: %w", name, err)
	}
	return id, nil
}

func (db *DB) getConfigurationID(ctx context.Context, flakeID int64, name string) (int64, error) {
	var id int64
	row := db.QueryRowContext(ctx, db.rebind(`
		SELECT nixos_configuration_id FROM nixos_configurations WHERE flake_id = ? AND name = ?
	`), flakeID, name)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetConfiguration fetches a Configuration by id.
func (db *DB) GetConfiguration(ctx context.Context, configID int64) (*Configuration, error) {
	var c Configuration
	row := db.QueryRowContext(ctx, db.rebind(`
		SELECT nixos_configuration_id, flake_id, name FROM nixos_configurations WHERE nixos_configuration_id = ?
	`), configID)
	if err := row.Scan(&c.NixosConfigurationID, &c.FlakeID, &c.Name); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConfigurations returns every configuration joined with its owning
// flake's URL, the shape GET /api/v1/configuration serves.
func (db *DB) ListConfigurations(ctx context.Context) ([]ConfigurationWithFlake, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.nixos_configuration_id, c.flake_id, c.name, f.flake_url
		FROM nixos_configurations c
		JOIN flakes f USING (flake_id)
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list configurations: %w", err)
	}
	defer rows.Close()

	var out []ConfigurationWithFlake
	for rows.Next() {
		var cwf ConfigurationWithFlake
		if err := rows.Scan(&cwf.NixosConfigurationID, &cwf.FlakeID, &cwf.Name, &cwf.FlakeURL); err != nil {
			return nil, fmt.Errorf("store: scan configuration: %w", err)
		}
		out = append(out, cwf)
	}
	return out, rows.Err()
}
