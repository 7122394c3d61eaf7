package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertEvaluation records that (flakeRevisionID, configID) evaluates to
// storePath. The pair is unique; a duplicate insert is ignored so
// ProcessRevision stays idempotent (spec §4.6, §8 property 5).
func (db *DB) InsertEvaluation(ctx context.Context, flakeRevisionID, configID int64, storePath string) error {
	if _, err := db.GetEvaluation(ctx, flakeRevisionID, configID); err == nil {
		return nil // already recorded; duplicates are ignored
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("store: checking existing evaluation: %w", err)
	}

	_, err := db.ExecContext(ctx, db.rebind(`
		INSERT INTO nixos_configuration_evaluations (flake_revision_id, nixos_configuration_id, store_path)
		VALUES (?, ?, ?)
	`), flakeRevisionID, configID, storePath)
	if err != nil {
		return fmt.Errorf("store: insert evaluation: %w", err)
	}
	return nil
}

// GetEvaluation returns the store path evaluated for
// (flakeRevisionID, configID), or sql.ErrNoRows if none exists.
func (db *DB) GetEvaluation(ctx context.Context, flakeRevisionID, configID int64) (*Evaluation, error) {
	var e Evaluation
	row := db.QueryRowContext(ctx, db.rebind(`
		SELECT flake_revision_id, nixos_configuration_id, store_path
		FROM nixos_configuration_evaluations
		WHERE flake_revision_id = ? AND nixos_configuration_id = ?
	`), flakeRevisionID, configID)
	if err := row.Scan(&e.FlakeRevisionID, &e.NixosConfigurationID, &e.StorePath); err != nil {
		return nil, err
	}
	return &e, nil
}
