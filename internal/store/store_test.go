package store

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), "sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.migrate(context.Background()))
}

func TestFlakeRevisionConfigurationEvaluationLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	flakeID, err := db.InsertFlake(ctx, "github:x/y")
	require.NoError(t, err)

	revID, err := db.InsertFlakeRevision(ctx, flakeID, "rev1", "2024-01-01T00:00:00Z", "github:x/y?rev=rev1", "{}")
	require.NoError(t, err)

	alphaID, err := db.UpsertConfiguration(ctx, flakeID, "alpha")
	require.NoError(t, err)
	betaID, err := db.UpsertConfiguration(ctx, flakeID, "beta")
	require.NoError(t, err)
	require.NotEqual(t, alphaID, betaID)

	// Upserting the same name again returns the same id (idempotence).
	alphaAgain, err := db.UpsertConfiguration(ctx, flakeID, "alpha")
	require.NoError(t, err)
	require.Equal(t, alphaID, alphaAgain)

	require.NoError(t, db.InsertEvaluation(ctx, revID, alphaID, "/nix/store/AAA-alpha"))
	require.NoError(t, db.InsertEvaluation(ctx, revID, betaID, "/nix/store/BBB-beta"))

	// Re-inserting the same evaluation is a no-op, not an error.
	require.NoError(t, db.InsertEvaluation(ctx, revID, alphaID, "/nix/store/AAA-alpha"))

	eval, err := db.GetEvaluation(ctx, revID, alphaID)
	require.NoError(t, err)
	require.Equal(t, "/nix/store/AAA-alpha", eval.StorePath)

	flakes, err := db.ListFlakesWithLatestRevision(ctx)
	require.NoError(t, err)
	require.Len(t, flakes, 1)
	require.Equal(t, "rev1", flakes[0].LatestRevision.Revision)

	configs, err := db.ListConfigurations(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 2)
}

func TestMatchByCurrentSystemBindsAgentToEvaluatedConfiguration(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	flakeID, err := db.InsertFlake(ctx, "github:x/y")
	require.NoError(t, err)
	revID, err := db.InsertFlakeRevision(ctx, flakeID, "rev1", "2024-01-01T00:00:00Z", "github:x/y?rev=rev1", "{}")
	require.NoError(t, err)
	alphaID, err := db.UpsertConfiguration(ctx, flakeID, "alpha")
	require.NoError(t, err)
	require.NoError(t, db.InsertEvaluation(ctx, revID, alphaID, "/nix/store/AAA-alpha"))

	require.NoError(t, db.UpsertAgentStatus(ctx, "a6fe0000-0000-0000-0000-000000000001", "/nix/store/AAA-alpha"))
	require.NoError(t, db.MatchByCurrentSystem(ctx))

	agent, err := db.GetAgent(ctx, "a6fe0000-0000-0000-0000-000000000001")
	require.NoError(t, err)
	require.NotNil(t, agent.NixosConfigurationID)
	require.Equal(t, alphaID, *agent.NixosConfigurationID)
}

func TestUpsertAgentStatusInsertsThenUpdates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertAgentStatus(ctx, "agent-1", "/nix/store/old"))
	agents, err := db.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)

	require.NoError(t, db.UpsertAgentStatus(ctx, "agent-1", "/nix/store/new"))
	agents, err = db.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	require.Equal(t, "/nix/store/new", *agents[0].CurrentSystem)
}
