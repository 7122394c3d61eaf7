package reconcile

import (
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/nxyio/nxy/internal/nixcli"
	"github.com/nxyio/nxy/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(t.Context(), "sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestInsertRevisionIfNewSkipsUnchangedRevision exercises the idempotence
// guard directly: persisting flake metadata whose revision string matches
// the tracked flake's latest must not create a second row.
func TestInsertRevisionIfNewSkipsUnchangedRevision(t *testing.T) {
	db := openTestDB(t)
	ctx := t.Context()
	e := NewEngine(db, nil)

	flakeID, err := db.InsertFlake(ctx, "github:example/flake")
	require.NoError(t, err)

	meta := &nixcli.FlakeMetadata{Revision: "rev1", LastModified: 1000, URL: "github:example/flake?rev=rev1"}
	id1, err := e.insertRevisionIfNew(ctx, flakeID, meta, []byte(`{}`))
	require.NoError(t, err)
	require.NotZero(t, id1)

	id2, err := e.insertRevisionIfNew(ctx, flakeID, meta, []byte(`{}`))
	require.NoError(t, err)
	require.Zero(t, id2, "re-observing the same revision must not create a new row")

	latest, err := db.GetLatestRevision(ctx, flakeID)
	require.NoError(t, err)
	require.Equal(t, id1, latest.FlakeRevisionID)
}

func TestEvaluationBookkeepingIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := t.Context()

	flakeID, err := db.InsertFlake(ctx, "github:example/flake")
	require.NoError(t, err)
	revID, err := db.InsertFlakeRevision(ctx, flakeID, "rev1", "1000", "github:example/flake?rev=rev1", "{}")
	require.NoError(t, err)
	rev, err := db.GetRevisionByID(ctx, revID)
	require.NoError(t, err)

	configID, err := db.UpsertConfiguration(ctx, flakeID, "webserver")
	require.NoError(t, err)
	require.NoError(t, db.InsertEvaluation(ctx, rev.FlakeRevisionID, configID, "/nix/store/abc-webserver"))

	// Re-run the evaluation bookkeeping manually (ConfigurationStorePath
	// itself shells out to `nix`, which this unit test does not invoke).
	require.NoError(t, db.InsertEvaluation(ctx, rev.FlakeRevisionID, configID, "/nix/store/abc-webserver"))

	evalAfter, err := db.GetEvaluation(ctx, rev.FlakeRevisionID, configID)
	require.NoError(t, err)
	require.Equal(t, "/nix/store/abc-webserver", evalAfter.StorePath)

	sameID, err := db.UpsertConfiguration(ctx, flakeID, "webserver")
	require.NoError(t, err)
	require.Equal(t, configID, sameID, "upserting the same configuration name must return the existing id")
}
