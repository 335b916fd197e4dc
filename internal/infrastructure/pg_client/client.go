package pg_client

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

var (
	once    sync.Once
	pool    *pgxpool.Pool
	initErr error
)

// NewPostgresClient opens and pings the process-wide pool.
func NewPostgresClient(ctx context.Context, dsn string, maxConns int) error {
	once.Do(func() {
		cfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			initErr = errors.Wrap(err, "parse postgres dsn")
			return
		}
		if maxConns > 0 {
			cfg.MaxConns = int32(maxConns)
		}
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			initErr = errors.Wrap(err, "create postgres pool")
			return
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			p.Close()
			initErr = errors.Wrap(err, "ping postgres")
			return
		}
		pool = p
	})
	return initErr
}

func Pool() *pgxpool.Pool {
	if pool == nil {
		panic("postgres pool not initialized; call NewPostgresClient first")
	}
	return pool
}

func Close() {
	if pool != nil {
		pool.Close()
	}
}
