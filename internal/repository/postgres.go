package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/isqad/livelook-collab/internal/core"
)

type sessionRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	OwnerID   string    `db:"owner_id"`
	CreatedAt time.Time `db:"created_at"`
	Settings  []byte    `db:"settings"`
	State     []byte    `db:"state"`
}

type Postgres struct {
	db *sqlx.DB
}

// Connect opens the pgx backed pool
func Connect(dsn string) (*sqlx.DB, error) {
	return sqlx.Connect("pgx", dsn)
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (r *Postgres) Find(ctx context.Context, id string) (*Record, error) {
	row := sessionRow{}

	err := r.db.GetContext(ctx, &row,
		`SELECT
			id,
			name,
			owner_id,
			created_at,
			settings,
			state
		FROM sessions
		WHERE id = $1 LIMIT 1`,
		id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	session := core.NewSession(row.ID, row.Name, core.UserID(row.OwnerID), row.CreatedAt)
	if len(row.Settings) > 0 {
		if err := json.Unmarshal(row.Settings, &session.Settings); err != nil {
			return nil, err
		}
	}

	rec := &Record{Session: session}
	if len(row.State) > 0 {
		if err := json.Unmarshal(row.State, &rec.State); err != nil {
			return nil, err
		}
	}
	if rec.State.Colors == nil {
		rec.State.Colors = map[string]string{}
	}

	return rec, nil
}

func (r *Postgres) Create(ctx context.Context, rec *Record) error {
	settings, err := json.Marshal(rec.Session.Settings)
	if err != nil {
		return err
	}
	state, err := json.Marshal(rec.State)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions
			(id, name, owner_id, created_at, settings, state)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		rec.Session.ID,
		rec.Session.Name,
		string(rec.Session.OwnerID),
		time.UnixMilli(rec.Session.CreatedAt).UTC(),
		settings,
		state,
	)
	return err
}

func (r *Postgres) SaveState(ctx context.Context, id string, state core.SharedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE sessions SET
			state = $1
		WHERE id = $2 AND COALESCE((state->>'version')::bigint, -1) < $3`,
		data,
		id,
		state.Version,
	)
	return err
}
