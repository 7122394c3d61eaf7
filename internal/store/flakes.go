package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertFlake registers a new tracked flake. flake_url is unique; callers
// are expected to have already validated the URL (e.g. via flake
// metadata) before calling this.
func (db *DB) InsertFlake(ctx context.Context, flakeURL string) (int64, error) {
	var id int64
	row := db.QueryRowContext(ctx, db.rebind(`INSERT INTO flakes (flake_url) VALUES (?) RETURNING flake_id`), flakeURL)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: insert flake: %w", err)
	}
	return id, nil
}

// InsertFlakeRevision records a newly observed revision of a flake. A
// FlakeRevision is created at most once per (flake_id, revision) the
// caller has already chosen to persist (the reconciliation engine checks
// against the current latest revision before calling this).
func (db *DB) InsertFlakeRevision(ctx context.Context, flakeID int64, revision, lastModified, url, metadataJSON string) (int64, error) {
	var id int64
	row := db.QueryRowContext(ctx, db.rebind(`
		INSERT INTO flake_revisions (flake_id, revision, last_modified, url, metadata)
		VALUES (?, ?, ?, ?, ?)
		RETURNING flake_revision_id
	`), flakeID, revision, lastModified, url, metadataJSON)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: insert flake revision: %w", err)
	}
	return id, nil
}

// GetFlakeByURL looks up a flake by its unique URL, returning sql.ErrNoRows
// if it isn't tracked.
func (db *DB) GetFlakeByURL(ctx context.Context, flakeURL string) (*Flake, error) {
	var f Flake
	row := db.QueryRowContext(ctx, db.rebind(`SELECT flake_id, flake_url FROM flakes WHERE flake_url = ?`), flakeURL)
	if err := row.Scan(&f.FlakeID, &f.FlakeURL); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetLatestRevision returns the most recently inserted FlakeRevision for a
// flake_id.
func (db *DB) GetLatestRevision(ctx context.Context, flakeID int64) (*FlakeRevision, error) {
	var r FlakeRevision
	row := db.QueryRowContext(ctx, db.rebind(`
		SELECT flake_revision_id, flake_id, revision, last_modified, url, metadata
		FROM flake_revisions
		WHERE flake_id = ?
		ORDER BY flake_revision_id DESC
		LIMIT 1
	`), flakeID)
	if err := row.Scan(&r.FlakeRevisionID, &r.FlakeID, &r.Revision, &r.LastModified, &r.URL, &r.Metadata); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRevisionByID fetches one FlakeRevision by its id.
func (db *DB) GetRevisionByID(ctx context.Context, flakeRevisionID int64) (*FlakeRevision, error) {
	var r FlakeRevision
	row := db.QueryRowContext(ctx, db.rebind(`
		SELECT flake_revision_id, flake_id, revision, last_modified, url, metadata
		FROM flake_revisions
		WHERE flake_revision_id = ?
	`), flakeRevisionID)
	if err := row.Scan(&r.FlakeRevisionID, &r.FlakeID, &r.Revision, &r.LastModified, &r.URL, &r.Metadata); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListFlakesWithLatestRevision returns every tracked flake joined with its
// most recent revision, the shape GET /api/v1/flake serves.
func (db *DB) ListFlakesWithLatestRevision(ctx context.Context) ([]FlakeWithLatestRevision, error) {
	rows, err := db.QueryContext(ctx, `
		WITH last_rev AS (
			SELECT flake_id, MAX(flake_revision_id) AS flake_revision_id
			FROM flake_revisions
			GROUP BY flake_id
		)
		SELECT f.flake_id, f.flake_url,
		       r.flake_revision_id, r.revision, r.last_modified, r.url, r.metadata
		FROM flakes f
		JOIN last_rev lr USING (flake_id)
		JOIN flake_revisions r USING (flake_revision_id)
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list flakes with latest revision: %w", err)
	}
	defer rows.Close()

	var out []FlakeWithLatestRevision
	for rows.Next() {
		var fwr FlakeWithLatestRevision
		if err := rows.Scan(
			&fwr.FlakeID, &fwr.FlakeURL,
			&fwr.LatestRevision.FlakeRevisionID, &fwr.LatestRevision.Revision,
			&fwr.LatestRevision.LastModified, &fwr.LatestRevision.URL, &fwr.LatestRevision.Metadata,
		); err != nil {
			return nil, fmt.Errorf("store: scan flake row: %w", err)
		}
		fwr.LatestRevision.FlakeID = fwr.FlakeID
		out = append(out, fwr)
	}
	return out, rows.Err()
}

// ListAllFlakes returns every tracked flake, used by UpdateFlakes to
// iterate without needing the latest-revision join.
func (db *DB) ListAllFlakes(ctx context.Context) ([]Flake, error) {
	rows, err := db.QueryContext(ctx, `SELECT flake_id, flake_url FROM flakes`)
	if err != nil {
		return nil, fmt.Errorf("store: list flakes: %w", err)
	}
	defer rows.Close()

	var out []Flake
	for rows.Next() {
		var f Flake
		if err := rows.Scan(&f.FlakeID, &f.FlakeURL); err != nil {
			return nil, fmt.Errorf("store: scan flake: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

var ErrNotFound = sql.ErrNoRows
