package store

import (
	"context"
	"embed"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kuhn-arena/server/engine"
)

//go:embed schema.sql schema_sqlite.sql
var schema embed.FS

var ErrRunNotFound = errors.New("run not found")

type DB struct{ *pgxpool.Pool }

func Open(dsn string) (*DB, error) {
	p, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &DB{p}, nil
}

func (db *DB) Close()                         { db.Pool.Close() }
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func Migrate(ctx context.Context, db *DB) error {
	sqlBytes, err := schema.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, string(sqlBytes))
	return err
}

// Create a run row and return the id.
func (db *DB) CreateRun(ctx context.Context, meta RunMeta) (int64, error) {
	var id int64
	err := db.QueryRow(ctx, `
		INSERT INTO runs(mode, hands_requested, batch, workers, seed, thresholds)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, meta.Mode, meta.Hands, meta.Batch, meta.Workers, meta.Seed, meta.thresholdsJSON()).Scan(&id)
	return id, err
}

// InsertHands queues all rows in one batch round trip.
func (db *DB) InsertHands(ctx context.Context, runID int64, rows []HandRow) error {
	if len(rows) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(`
			INSERT INTO hands(
				run_id, hand_id, first_actor, cfr_card, baseline_card,
				history, shape, pot, winner, cfr_payoff
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (run_id, hand_id) DO NOTHING
		`, runID, r.HandID, string(r.First), r.CfrCard, r.BaselineCard,
			r.History, r.Shape, r.Pot, string(r.Winner), r.CfrPayoff)
	}
	return db.SendBatch(ctx, b).Close()
}

// CompleteRun writes the final aggregate and per-seat rows atomically.
func (db *DB) CompleteRun(ctx context.Context, runID int64, sum Summary) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // safe if already committed

	st := sum.Stats
	tag, err := tx.Exec(ctx, `
		UPDATE runs
		   SET status = $2,
		       total = $3,
		       cfr_wins = $4,
		       baseline_wins = $5,
		       cfr_net = $6,
		       showdowns = $7,
		       expected_win_prob = $8,
		       expected_ev = $9,
		       ended_at = now()
		 WHERE id = $1
	`, runID, string(sum.Status), st.Total, st.EquilibriumWins, st.BaselineWins,
		st.Seats[engine.Equilibrium].Net, st.Showdowns, sum.ExpectedWinProb, sum.ExpectedEV)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	for _, a := range engine.Actors {
		s := st.Seats[a]
		if _, err := tx.Exec(ctx, `
			INSERT INTO run_seats(
				run_id, actor, hands, wins, net_chips,
				first_hands, first_wins, second_hands, second_wins, pass_ct, bet_ct
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (run_id, actor) DO UPDATE SET
				hands = EXCLUDED.hands,
				wins = EXCLUDED.wins,
				net_chips = EXCLUDED.net_chips,
				first_hands = EXCLUDED.first_hands,
				first_wins = EXCLUDED.first_wins,
				second_hands = EXCLUDED.second_hands,
				second_wins = EXCLUDED.second_wins,
				pass_ct = EXCLUDED.pass_ct,
				bet_ct = EXCLUDED.bet_ct
		`, runID, string(a), s.Hands, s.Wins, s.Net,
			s.FirstHands, s.FirstWins, s.SecondHands, s.SecondWins, s.Pass, s.Bet); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(ctx, `
		SELECT id, mode, hands_requested, batch, workers, seed, COALESCE(thresholds::text, '{}'),
		       status, total, cfr_wins, baseline_wins, cfr_net, showdowns,
		       expected_win_prob, expected_ev, started_at, ended_at
		  FROM runs
		 ORDER BY id DESC
		 LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		var r Run
		var th string
		if err := rows.Scan(&r.ID, &r.Meta.Mode, &r.Meta.Hands, &r.Meta.Batch, &r.Meta.Workers, &r.Meta.Seed, &th,
			&r.Status, &r.Total, &r.CfrWins, &r.BaselineWins, &r.CfrNet, &r.Showdowns,
			&r.ExpectedWinProb, &r.ExpectedEV, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, err
		}
		r.Meta.Thresholds = parseThresholds(th)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunHands returns the stored hands of one run in play order.
func (db *DB) RunHands(ctx context.Context, runID int64) ([]HandRow, error) {
	rows, err := db.Query(ctx, `
		SELECT hand_id, first_actor, cfr_card, baseline_card, history, shape, pot, winner, cfr_payoff
		  FROM hands
		 WHERE run_id = $1
		 ORDER BY hand_id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []HandRow{}
	for rows.Next() {
		var h HandRow
		var first, winner string
		if err := rows.Scan(&h.HandID, &first, &h.CfrCard, &h.BaselineCard, &h.History, &h.Shape, &h.Pot, &winner, &h.CfrPayoff); err != nil {
			return nil, err
		}
		h.First, h.Winner = engine.Actor(first), engine.Actor(winner)
		out = append(out, h)
	}
	return out, rows.Err()
}
