// Package reconcile implements the reconciliation engine (C6): tracking
// flakes, pulling fresh revisions, and evaluating each declared
// nixosConfiguration of a revision into a concrete store path.
package reconcile

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/nxyio/nxy/internal/metrics"
	"github.com/nxyio/nxy/internal/nixcli"
	"github.com/nxyio/nxy/internal/store"
)

// ConfigurationUpdateFunc is called whenever a new evaluation is recorded
// for a configuration, so the caller (the server binary) can notify any
// agent currently bound to that configuration. It is optional; nil is a
// valid no-op.
type ConfigurationUpdateFunc func(ctx context.Context, configID, flakeRevisionID int64)

// Engine owns the flake tracking and revision-evaluation pipeline. It has
// no knowledge of peers or HTTP; it only talks to the store and to the
// nix command-line collaborator.
type Engine struct {
	db       *store.DB
	onUpdate ConfigurationUpdateFunc
}

// NewEngine constructs an Engine. onUpdate may be nil.
func NewEngine(db *store.DB, onUpdate ConfigurationUpdateFunc) *Engine {
	return &Engine{db: db, onUpdate: onUpdate}
}

// RegisterFlake starts tracking flakeURL: resolves its current metadata,
// persists the flake and its first revision, and evaluates that revision.
// Registering a URL that is already tracked is rejected — use UpdateFlakes
// to pull newer revisions of a known flake.
func (e *Engine) RegisterFlake(ctx context.Context, flakeURL string) (*store.Flake, error) {
	if _, err := e.db.GetFlakeByURL(ctx, flakeURL); err == nil {
		return nil, fmt.Errorf("reconcile: flake %s is already tracked", flakeURL)
	} else if err != store.ErrNotFound {
		return nil, fmt.Errorf("reconcile: checking existing flake: %w", err)
	}

	meta, raw, err := nixcli.FlakeMetadata(ctx, flakeURL)
	if err != nil {
		return nil, fmt.Errorf("reconcile: resolving flake metadata: %w", err)
	}

	flakeID, err := e.db.InsertFlake(ctx, flakeURL)
	if err != nil {
		return nil, fmt.Errorf("reconcile: persisting flake: %w", err)
	}

	revID, err := e.insertRevisionIfNew(ctx, flakeID, meta, raw)
	if err != nil {
		return nil, err
	}

	if revID != 0 {
		go e.processRevisionRecovered(context.WithoutCancel(ctx), revID)
	}

	return &store.Flake{FlakeID: flakeID, FlakeURL: flakeURL}, nil
}

// UpdateFlakes re-resolves metadata for every tracked flake and evaluates
// any newly observed revision. Flakes are processed serially (spec
// §4.6 REDESIGN FLAGS): evaluation shells out to `nix`, and running many
// such processes concurrently competes for the same local nix-daemon
// build slots without benefit.
func (e *Engine) UpdateFlakes(ctx context.Context) error {
	flakes, err := e.db.ListAllFlakes(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: listing tracked flakes: %w", err)
	}

	for _, f := range flakes {
		if err := e.updateOne(ctx, f); err != nil {
			log.WithError(err).WithField("flake_url", f.FlakeURL).Warn("reconcile: updating flake failed, continuing")
		}
	}
	return nil
}

func (e *Engine) updateOne(ctx context.Context, f store.Flake) error {
	meta, raw, err := nixcli.FlakeMetadata(ctx, f.FlakeURL)
	if err != nil {
		return fmt.Errorf("resolving flake metadata: %w", err)
	}

	revID, err := e.insertRevisionIfNew(ctx, f.FlakeID, meta, raw)
	if err != nil {
		return err
	}
	if revID == 0 {
		return nil // no new revision
	}
	return e.ProcessRevision(ctx, revID)
}

// insertRevisionIfNew persists a FlakeRevision if meta.Revision differs
// from the flake's current latest revision, returning the new revision's
// id, or 0 if no new revision was recorded.
func (e *Engine) insertRevisionIfNew(ctx context.Context, flakeID int64, meta *nixcli.FlakeMetadata, raw []byte) (int64, error) {
	if latest, err := e.db.GetLatestRevision(ctx, flakeID); err == nil {
		if latest.Revision == meta.Revision {
			return 0, nil
		}
	} else if err != store.ErrNotFound {
		return 0, fmt.Errorf("reconcile: checking latest revision: %w", err)
	}

	revID, err := e.db.InsertFlakeRevision(ctx, flakeID, meta.Revision, fmt.Sprintf("%d", meta.LastModified), meta.URL, string(raw))
	if err != nil {
		return 0, fmt.Errorf("reconcile: persisting flake revision: %w", err)
	}
	return revID, nil
}

// ProcessRevision evaluates every nixosConfiguration declared by
// flakeRevisionID into a concrete store path and records the result.
// Evaluating the same revision twice is idempotent: InsertEvaluation
// silently ignores a duplicate (configID, flakeRevisionID) pair, and
// UpsertConfiguration returns the existing configuration id rather than
// inserting a second row for a name already seen (spec §8 property 5).
func (e *Engine) ProcessRevision(ctx context.Context, flakeRevisionID int64) error {
	rev, err := e.db.GetRevisionByID(ctx, flakeRevisionID)
	if err != nil {
		return fmt.Errorf("reconcile: loading revision %d: %w", flakeRevisionID, err)
	}

	names, err := nixcli.ListConfigurations(ctx, rev.URL)
	if err != nil {
		return fmt.Errorf("reconcile: listing configurations for revision %d: %w", flakeRevisionID, err)
	}

	for _, name := range names {
		if err := e.evaluateOne(ctx, rev, name); err != nil {
			metrics.RevisionsProcessed.WithLabelValues("evaluation_failed").Inc()
			log.WithError(err).
				WithField("flake_revision_id", flakeRevisionID).
				WithField("configuration", name).
				Warn("reconcile: evaluating configuration failed, continuing")
		} else {
			metrics.RevisionsProcessed.WithLabelValues("ok").Inc()
		}
	}
	return nil
}

func (e *Engine) evaluateOne(ctx context.Context, rev *store.FlakeRevision, name string) error {
	configID, err := e.db.UpsertConfiguration(ctx, rev.FlakeID, name)
	if err != nil {
		return fmt.Errorf("upserting configuration %s: %w", name, err)
	}

	storePath, err := nixcli.ConfigurationStorePath(ctx, rev.URL, name)
	if err != nil {
		return fmt.Errorf("evaluating configuration %s: %w", name, err)
	}

	if _, err := e.db.GetEvaluation(ctx, rev.FlakeRevisionID, configID); err == nil {
		return nil // already recorded for this revision: nothing new to report
	}
	if err := e.db.InsertEvaluation(ctx, rev.FlakeRevisionID, configID, storePath); err != nil {
		return fmt.Errorf("recording evaluation of %s: %w", name, err)
	}

	if e.onUpdate != nil {
		e.onUpdate(ctx, configID, rev.FlakeRevisionID)
	}
	return nil
}

// processRevisionRecovered runs ProcessRevision in a context detached from
// the caller's request lifetime, recovering from any panic so a crash
// deep in the nix-invocation chain can't take the server down.
func (e *Engine) processRevisionRecovered(ctx context.Context, flakeRevisionID int64) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("flake_revision_id", flakeRevisionID).Errorf("reconcile: recovered panic processing revision: %v", r)
		}
	}()
	if err := e.ProcessRevision(ctx, flakeRevisionID); err != nil {
		log.WithError(err).WithField("flake_revision_id", flakeRevisionID).Warn("reconcile: processing revision failed")
	}
}
