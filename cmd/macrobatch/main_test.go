package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/macrosim/internal/batch"
	"github.com/talgya/macrosim/internal/metrics"
	"github.com/talgya/macrosim/internal/persistence"
	"github.com/talgya/macrosim/internal/scenario"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"-c", filepath.Join(t.TempDir(), "absent.toml")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScenariosCommand(t *testing.T) {
	out, err := execute(t, "scenarios")
	require.NoError(t, err)
	assert.Contains(t, out, "KEY")
	for _, p := range scenario.Builtin() {
		assert.Contains(t, out, p.Key)
	}
}

func TestRunArchivesAndHistoryReads(t *testing.T) {
	db := filepath.Join(t.TempDir(), "batch.db")

	out, err := execute(t, "run", "--seeds", "2", "--steps", "3", "--archive", db, "--json",
		"--metric", "gdp,unemployment")
	require.NoError(t, err)
	var summaries []batch.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 2)
	assert.Equal(t, "gdp", summaries[0].Metric)
	assert.Equal(t, 2, summaries[0].N)

	out, err = execute(t, "history", "--db", db, "--json")
	require.NoError(t, err)
	var runs []persistence.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 2)
	assert.ElementsMatch(t, []string{"seed-42", "seed-43"}, []string{runs[0].Name, runs[1].Name})

	out, err = execute(t, "history", "--db", db, "--json", runs[0].ID)
	require.NoError(t, err)
	var snaps []metrics.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snaps))
	assert.Len(t, snaps, 3)

	out, err = execute(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, runs[0].ID)
}

func TestRunTable(t *testing.T) {
	out, err := execute(t, "run", "-n", "2", "-s", "2", "--scenario", "high_tax")
	require.NoError(t, err)
	assert.Contains(t, out, "scenario high_tax")
	assert.Contains(t, out, "unemployment")
}

func TestRunErrors(t *testing.T) {
	_, err := execute(t, "run", "--scenario", "nowhere")
	assert.True(t, errors.Is(err, scenario.ErrUnknownScenario))

	_, err = execute(t, "run", "--seeds", "0")
	assert.Error(t, err)

	_, err = execute(t, "run", "-n", "1", "-s", "1", "--metric", "vibes")
	assert.True(t, errors.Is(err, batch.ErrUnknownMetric))
}

func TestSearchRequiresGDP(t *testing.T) {
	_, err := execute(t, "search")
	assert.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "123,457", formatValue(123456.7))
	assert.Equal(t, "-20,000", formatValue(-20000))
	assert.Equal(t, "7.30", formatValue(7.3))
}
