package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kuhn-arena/server/agent"
	"kuhn-arena/server/engine"
	"kuhn-arena/server/sim"
)

func openMem(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestSQLiteRunLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openMem(t)

	cfg := sim.DefaultConfig()
	cfg.Seed = 31
	s, err := sim.New(cfg)
	require.NoError(t, err)

	id, err := db.CreateRun(ctx, RunMeta{Mode: "batch", Hands: 600, Batch: 1, Workers: 1, Seed: 31, Thresholds: agent.DefaultThresholds()})
	require.NoError(t, err)
	require.NotZero(t, id)

	rec := NewRecorder(db, id, 100)
	s.OnHand = rec.Add
	st, err := s.Start(600)
	require.NoError(t, err)
	require.NoError(t, rec.Flush(ctx))
	assert.Equal(t, 600, rec.Written())

	n, err := db.CountHands(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 600, n)

	p, ev := 11.0/24, 0.25
	require.NoError(t, db.CompleteRun(ctx, id, Summary{Status: sim.Completed, Stats: st, ExpectedWinProb: &p, ExpectedEV: &ev}))

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	r := runs[0]
	assert.Equal(t, id, r.ID)
	assert.Equal(t, "batch", r.Meta.Mode)
	assert.Equal(t, agent.DefaultThresholds(), r.Meta.Thresholds)
	assert.Equal(t, "completed", r.Status)
	assert.Equal(t, 600, r.Total)
	assert.Equal(t, st.EquilibriumWins, r.CfrWins)
	assert.Equal(t, st.Seats[engine.Equilibrium].Net, r.CfrNet)
	require.NotNil(t, r.ExpectedWinProb)
	assert.InDelta(t, p, *r.ExpectedWinProb, 1e-12)
	assert.NotNil(t, r.EndedAt)

	assert.ErrorIs(t, db.CompleteRun(ctx, id+100, Summary{Stats: sim.NewStats()}), ErrRunNotFound)
}

func TestSQLiteInsertHandsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openMem(t)
	id, err := db.CreateRun(ctx, RunMeta{Mode: "progressive", Hands: 1})
	require.NoError(t, err)

	row := HandRow{HandID: "h000001", First: engine.Baseline, CfrCard: "K", BaselineCard: "J",
		History: "bet,bet", Shape: engine.ShapeBetBet, Pot: 3, Winner: engine.Equilibrium, CfrPayoff: 2}
	require.NoError(t, db.InsertHands(ctx, id, []HandRow{row}))
	require.NoError(t, db.InsertHands(ctx, id, []HandRow{row}))
	require.NoError(t, db.InsertHands(ctx, id, nil))
	n, err := db.CountHands(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	runs, err := db.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "running", runs[0].Status)
	assert.Nil(t, runs[0].EndedAt)
	assert.Nil(t, runs[0].ExpectedEV)
}

func TestRowFromResult(t *testing.T) {
	table, err := engine.NewTable(engine.Config{Seed: 1}, map[engine.Actor]engine.Policy{
		engine.Equilibrium: agent.NewEquilibrium(agent.DefaultThresholds(), engine.NewRand(1)),
		engine.Baseline:    agent.Baseline{},
	})
	require.NoError(t, err)
	res := table.Play("h1", engine.Equilibrium, engine.Jack, engine.King)
	row := RowFromResult(res)
	assert.Equal(t, "pass,bet,pass", row.History)
	assert.Equal(t, "J", row.CfrCard)
	assert.Equal(t, "K", row.BaselineCard)
	assert.Equal(t, engine.Baseline, row.Winner)
	assert.Equal(t, -1, row.CfrPayoff)
	assert.Equal(t, 2, row.Pot)
}

func TestFromEnv(t *testing.T) {
	ctx := context.Background()

	t.Setenv("STORE_MODE", "")
	t.Setenv("DATABASE_URL", "")
	st, mode, err := FromEnv(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeNone, mode)
	assert.IsType(t, Nop{}, st)

	t.Setenv("STORE_MODE", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "sub", "runs.db"))
	st, mode, err = FromEnv(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeSQLite, mode)
	st.Close()

	t.Setenv("STORE_MODE", "postgres")
	_, _, err = FromEnv(ctx)
	assert.Error(t, err)

	t.Setenv("STORE_MODE", "redis")
	_, mode, err = FromEnv(ctx)
	assert.Error(t, err)
	assert.Equal(t, "redis", mode)
}

type failing struct{ Nop }

func (failing) InsertHands(context.Context, int64, []HandRow) error { return assert.AnError }

func TestRecorderKeepsFirstError(t *testing.T) {
	rec := NewRecorder(failing{}, 1, 2)
	res := &engine.Result{ID: "h1", Cards: map[engine.Actor]engine.Card{}, Payoff: map[engine.Actor]int{}}
	rec.Add(res)
	rec.Add(res)
	rec.Add(res)
	assert.ErrorIs(t, rec.Flush(context.Background()), assert.AnError)
	assert.Zero(t, rec.Written())
}
