package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"kuhn-arena/server/engine"
)

// SQLite is the single-file backend for local runs.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(dbPath string) (*SQLite, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	if dbPath != ":memory:" {
		parent := filepath.Dir(dbPath)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	ddl, err := schema.ReadFile("schema_sqlite.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, stmt := range strings.Split(string(ddl), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

func (s *SQLite) CreateRun(ctx context.Context, meta RunMeta) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO runs (mode, hands_requested, batch, workers, seed, thresholds, started_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, meta.Mode, meta.Hands, meta.Batch, meta.Workers, meta.Seed, meta.thresholdsJSON(), time.Now().UTC().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLite) InsertHands(ctx context.Context, runID int64, rows []HandRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO hands (
    run_id, hand_id, first_actor, cfr_card, baseline_card,
    history, shape, pot, winner, cfr_payoff
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, runID, r.HandID, string(r.First), r.CfrCard, r.BaselineCard,
			r.History, r.Shape, r.Pot, string(r.Winner), r.CfrPayoff); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) CompleteRun(ctx context.Context, runID int64, sum Summary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	st := sum.Stats
	res, err := tx.ExecContext(ctx, `
UPDATE runs
   SET status = ?, total = ?, cfr_wins = ?, baseline_wins = ?, cfr_net = ?, showdowns = ?,
       expected_win_prob = ?, expected_ev = ?, ended_at_ms = ?
 WHERE id = ?
`, string(sum.Status), st.Total, st.EquilibriumWins, st.BaselineWins, st.Seats[engine.Equilibrium].Net, st.Showdowns,
		sum.ExpectedWinProb, sum.ExpectedEV, time.Now().UTC().UnixMilli(), runID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrRunNotFound
	}
	for _, a := range engine.Actors {
		seat := st.Seats[a]
		if _, err := tx.ExecContext(ctx, `
INSERT OR REPLACE INTO run_seats (
    run_id, actor, hands, wins, net_chips,
    first_hands, first_wins, second_hands, second_wins, pass_ct, bet_ct
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, runID, string(a), seat.Hands, seat.Wins, seat.Net,
			seat.FirstHands, seat.FirstWins, seat.SecondHands, seat.SecondWins, seat.Pass, seat.Bet); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, mode, hands_requested, batch, workers, seed, COALESCE(thresholds, '{}'),
       status, total, cfr_wins, baseline_wins, cfr_net, showdowns,
       expected_win_prob, expected_ev, started_at_ms, ended_at_ms
  FROM runs
 ORDER BY id DESC
 LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		var (
			r         Run
			th        string
			winProb   sql.NullFloat64
			ev        sql.NullFloat64
			startedMs int64
			endedMs   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Meta.Mode, &r.Meta.Hands, &r.Meta.Batch, &r.Meta.Workers, &r.Meta.Seed, &th,
			&r.Status, &r.Total, &r.CfrWins, &r.BaselineWins, &r.CfrNet, &r.Showdowns,
			&winProb, &ev, &startedMs, &endedMs); err != nil {
			return nil, err
		}
		r.Meta.Thresholds = parseThresholds(th)
		if winProb.Valid {
			r.ExpectedWinProb = &winProb.Float64
		}
		if ev.Valid {
			r.ExpectedEV = &ev.Float64
		}
		r.StartedAt = time.UnixMilli(startedMs).UTC()
		if endedMs.Valid {
			t := time.UnixMilli(endedMs.Int64).UTC()
			r.EndedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountHands returns how many hands were stored for a run.
func (s *SQLite) CountHands(ctx context.Context, runID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hands WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}
