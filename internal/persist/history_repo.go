package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SceneLoadRow is one finished scene load request.
type SceneLoadRow struct {
	Scene     string
	Mode      string
	Sync      bool
	Result    string
	Acked     int
	Required  int
	StartedAt time.Time
	Elapsed   time.Duration
	Error     string
}

// PhaseRow is one phase transition.
type PhaseRow struct {
	Round    int
	From     string
	To       string
	Duration time.Duration
	At       time.Time
}

type HistoryRepo struct {
	db        *DB
	sessionID uuid.UUID
}

func NewHistoryRepo(db *DB) *HistoryRepo {
	return &HistoryRepo{db: db, sessionID: uuid.New()}
}

// SessionID identifies this process's rows.
func (r *HistoryRepo) SessionID() uuid.UUID { return r.sessionID }

// OpenSession inserts the sessions row every later write references.
func (r *HistoryRepo) OpenSession(ctx context.Context, authority, serverName string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO sessions (id, authority, server_name) VALUES ($1, $2, $3)`,
		r.sessionID, authority, serverName,
	)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	return nil
}

func (r *HistoryRepo) CloseSession(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE sessions SET ended_at = now() WHERE id = $1`, r.sessionID,
	)
	return err
}

// WriteBatch writes both kinds of rows in a single transaction.
func (r *HistoryRepo) WriteBatch(ctx context.Context, loads []SceneLoadRow, phases []PhaseRow) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("history begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, l := range loads {
		if _, err := tx.Exec(ctx,
			`INSERT INTO scene_loads (session_id, scene, load_mode, sync, result, acked, required, started_at, elapsed_ms, error)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			r.sessionID, l.Scene, l.Mode, l.Sync, l.Result, l.Acked, l.Required, l.StartedAt, l.Elapsed.Milliseconds(), l.Error,
		); err != nil {
			return fmt.Errorf("insert scene load: %w", err)
		}
	}
	for _, p := range phases {
		if _, err := tx.Exec(ctx,
			`INSERT INTO phase_transitions (session_id, round, from_phase, to_phase, duration_ms, at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			r.sessionID, p.Round, p.From, p.To, p.Duration.Milliseconds(), p.At,
		); err != nil {
			return fmt.Errorf("insert phase transition: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// RecentSceneLoads returns this session's latest loads, newest first.
func (r *HistoryRepo) RecentSceneLoads(ctx context.Context, limit int) ([]SceneLoadRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT scene, load_mode, sync, result, acked, required, started_at, elapsed_ms, error
		 FROM scene_loads WHERE session_id = $1
		 ORDER BY started_at DESC LIMIT $2`, r.sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SceneLoadRow
	for rows.Next() {
		var row SceneLoadRow
		var elapsedMs int64
		if err := rows.Scan(&row.Scene, &row.Mode, &row.Sync, &row.Result, &row.Acked, &row.Required,
			&row.StartedAt, &elapsedMs, &row.Error); err != nil {
			return nil, err
		}
		row.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		out = append(out, row)
	}
	return out, rows.Err()
}
