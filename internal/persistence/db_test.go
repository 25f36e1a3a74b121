package persistence

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/macrosim/internal/config"
	"github.com/talgya/macrosim/internal/engine"
	"github.com/talgya/macrosim/internal/metrics"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndGetRun(t *testing.T) {
	db := openTemp(t)

	r, err := db.CreateRun(Run{Name: "baseline", Seed: 42, Scenario: "baseline"})
	require.NoError(t, err)
	assert.Len(t, r.ID, 36)
	assert.NotZero(t, r.CreatedAt)

	got, err := db.GetRun(r.ID)
	require.NoError(t, err)
	assert.Equal(t, r, got)

	_, err = db.GetRun("missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestSnapshotsRoundTripThroughEconomy(t *testing.T) {
	db := openTemp(t)

	cfg := config.Defaults()
	cfg.Simulation.Households = 30
	cfg.Simulation.Firms = 3
	econ, err := engine.New(cfg)
	require.NoError(t, err)
	snaps := econ.Run(6)
	snaps[2].Extensions = map[string]float64{"stock_index": 12.5}

	r, err := db.CreateRun(Run{Name: "roundtrip", Seed: cfg.Simulation.Seed})
	require.NoError(t, err)
	require.NoError(t, db.SaveSnapshots(r.ID, snaps[:3]))
	require.NoError(t, db.SaveSnapshots(r.ID, snaps[3:]))

	got, err := db.LoadHistory(r.ID)
	require.NoError(t, err)
	assert.Equal(t, snaps, got)

	run, err := db.GetRun(r.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, run.Steps)
}

func TestSaveSnapshotsReplacesStep(t *testing.T) {
	db := openTemp(t)
	r, err := db.CreateRun(Run{Name: "replace"})
	require.NoError(t, err)

	require.NoError(t, db.SaveSnapshots(r.ID, []metrics.Snapshot{{Step: 1, GDP: 10}}))
	require.NoError(t, db.SaveSnapshots(r.ID, []metrics.Snapshot{{Step: 1, GDP: 20, Narrative: "again"}}))

	got, err := db.LoadHistory(r.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 20.0, got[0].GDP)
	assert.Equal(t, "again", got[0].Narrative)
}

func TestSaveSnapshotsUnknownRun(t *testing.T) {
	db := openTemp(t)
	err := db.SaveSnapshots("nope", []metrics.Snapshot{{Step: 1}})
	assert.True(t, errors.Is(err, ErrRunNotFound))

	assert.NoError(t, db.SaveSnapshots("nope", nil))

	_, err = db.LoadHistory("nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestListRunsNewestFirst(t *testing.T) {
	db := openTemp(t)
	for i, name := range []string{"a", "b", "c"} {
		_, err := db.CreateRun(Run{Name: name, CreatedAt: int64(1000 + i)})
		require.NoError(t, err)
	}

	runs, err := db.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].Name)
	assert.Equal(t, "b", runs[1].Name)
}

func TestMeta(t *testing.T) {
	db := openTemp(t)
	require.NoError(t, db.SaveMeta("current_run", "x"))
	require.NoError(t, db.SaveMeta("current_run", "y"))

	v, err := db.GetMeta("current_run")
	require.NoError(t, err)
	assert.Equal(t, "y", v)
}
