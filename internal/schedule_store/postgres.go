package schedule_store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS calendar_events (
	controller_id TEXT NOT NULL,
	event_id      TEXT NOT NULL,
	last_fired    DATE NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (controller_id, event_id)
)`

type PostgresStore struct {
	pool         *pgxpool.Pool
	controllerID string
}

func NewPostgresStore(pool *pgxpool.Pool, controllerID string) *PostgresStore {
	return &PostgresStore{pool: pool, controllerID: controllerID}
}

func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, createTableSQL)
	return errors.Wrap(err, "create calendar_events")
}

func (p *PostgresStore) LastFiredDate(ctx context.Context, eventID string) (string, error) {
	var d time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT last_fired FROM calendar_events WHERE controller_id=$1 AND event_id=$2`,
		p.controllerID, eventID).Scan(&d)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "load last fired date of %s", eventID)
	}
	return d.Format(DateLayout), nil
}

func (p *PostgresStore) SetLastFiredDate(ctx context.Context, eventID, date string) error {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return errors.Wrapf(err, "invalid date %q", date)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO calendar_events (controller_id, event_id, last_fired) VALUES ($1, $2, $3)
		 ON CONFLICT (controller_id, event_id) DO UPDATE SET last_fired = EXCLUDED.last_fired, updated_at = now()`,
		p.controllerID, eventID, d)
	return errors.Wrapf(err, "store last fired date of %s", eventID)
}
