package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"kuhn-arena/server/agent"
	"kuhn-arena/server/engine"
	"kuhn-arena/server/sim"
)

const (
	ModePostgres = "postgres"
	ModeSQLite   = "sqlite"
	ModeNone     = "none"
)

// RunMeta describes a run when it is created.
type RunMeta struct {
	Mode       string           `json:"mode"` // batch|progressive|parallel
	Hands      int              `json:"hands"`
	Batch      int              `json:"batch"`
	Workers    int              `json:"workers"`
	Seed       int64            `json:"seed"`
	Thresholds agent.Thresholds `json:"thresholds"`
}

func (m RunMeta) thresholdsJSON() string {
	b, _ := json.Marshal(m.Thresholds)
	return string(b)
}

// Summary is what a finished run leaves behind.
type Summary struct {
	Status          sim.Status
	Stats           sim.Stats
	ExpectedWinProb *float64
	ExpectedEV      *float64
}

// Run is one row of the run list.
type Run struct {
	ID              int64      `json:"id"`
	Meta            RunMeta    `json:"meta"`
	Status          string     `json:"status"`
	Total           int        `json:"total"`
	CfrWins         int        `json:"cfr_wins"`
	BaselineWins    int        `json:"baseline_wins"`
	CfrNet          int        `json:"cfr_net"`
	Showdowns       int        `json:"showdowns"`
	ExpectedWinProb *float64   `json:"expected_win_prob,omitempty"`
	ExpectedEV      *float64   `json:"expected_ev,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// HandRow is the stored form of one finished hand.
type HandRow struct {
	HandID       string
	First        engine.Actor
	CfrCard      string
	BaselineCard string
	History      string // e.g. "pass,bet,bet"
	Shape        string
	Pot          int
	Winner       engine.Actor
	CfrPayoff    int
}

func RowFromResult(res *engine.Result) HandRow {
	acts := make([]string, len(res.History))
	for i, m := range res.History {
		acts[i] = string(m.Action)
	}
	return HandRow{
		HandID:       res.ID,
		First:        res.First,
		CfrCard:      res.Cards[engine.Equilibrium].String(),
		BaselineCard: res.Cards[engine.Baseline].String(),
		History:      strings.Join(acts, ","),
		Shape:        res.Shape,
		Pot:          res.Pot,
		Winner:       res.Winner,
		CfrPayoff:    res.Payoff[engine.Equilibrium],
	}
}

// Store persists runs and their hands.
type Store interface {
	CreateRun(ctx context.Context, meta RunMeta) (int64, error)
	InsertHands(ctx context.Context, runID int64, rows []HandRow) error
	CompleteRun(ctx context.Context, runID int64, sum Summary) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Close()
}

// Nop is the store used when persistence is disabled.
type Nop struct{}

func (Nop) CreateRun(context.Context, RunMeta) (int64, error)   { return 0, nil }
func (Nop) InsertHands(context.Context, int64, []HandRow) error { return nil }
func (Nop) CompleteRun(context.Context, int64, Summary) error   { return nil }
func (Nop) ListRuns(context.Context, int) ([]Run, error)        { return []Run{}, nil }
func (Nop) Close()                                              {}

func modeFromEnv() string {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_MODE")))
	switch raw {
	case "":
		if strings.TrimSpace(os.Getenv("DATABASE_URL")) != "" {
			return ModePostgres
		}
		return ModeNone
	case ModePostgres, "postgresql", "pg":
		return ModePostgres
	case ModeSQLite, "sqlite3":
		return ModeSQLite
	case ModeNone, "off", "memory":
		return ModeNone
	default:
		return raw
	}
}

// FromEnv opens the store selected by STORE_MODE (postgres|sqlite|none).
// An empty mode picks postgres when DATABASE_URL is set.
func FromEnv(ctx context.Context) (Store, string, error) {
	mode := modeFromEnv()
	switch mode {
	case ModePostgres:
		dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
		if dsn == "" {
			return nil, mode, fmt.Errorf("STORE_MODE=postgres requires DATABASE_URL")
		}
		db, err := Open(dsn)
		if err != nil {
			return nil, mode, err
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, mode, err
		}
		return db, mode, nil
	case ModeSQLite:
		path := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
		if path == "" {
			path = "data/kuhn_arena.db"
		}
		db, err := OpenSQLite(path)
		if err != nil {
			return nil, mode, err
		}
		return db, mode, nil
	case ModeNone:
		return Nop{}, mode, nil
	default:
		return nil, mode, fmt.Errorf("invalid STORE_MODE %q (supported: %s, %s, %s)", mode, ModePostgres, ModeSQLite, ModeNone)
	}
}

func parseThresholds(s string) agent.Thresholds {
	var t agent.Thresholds
	_ = json.Unmarshal([]byte(s), &t)
	return t
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*SQLite)(nil)
	_ Store = Nop{}
)
