package backends

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig configures the Postgres backend.
type PostgresConfig struct {
	ConnString string
	MaxConns   int32
	MinConns   int32
}

// Postgres keeps bucket state in a small key-value table and emulates
// atomicity with a compare-and-swap retry loop: a write only succeeds when
// the stored value still matches what was read. Deployments without a Redis
// can point the limiter here instead.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres initializes the backend, verifying connectivity and creating
// the state table when absent.
func NewPostgres(config PostgresConfig) (*Postgres, error) {
	if config.MaxConns == 0 {
		config.MaxConns = 10
	}
	if config.MinConns == 0 {
		config.MinConns = 2
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnString)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, newConnectionFailedError(poolConfig.ConnConfig.Host, err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, newConnectionFailedError(poolConfig.ConnConfig.Host, err)
	}
	if err := createBucketTable(context.Background(), pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool, now: time.Now}, nil
}

func createBucketTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ratelimit_kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE
		)
	`)
	return err
}

func (p *Postgres) Acquire(ctx context.Context, spec BucketSpec) (Decision, error) {
	d, err := casTouch(ctx, p, spec, true, p.now)
	if err != nil {
		return Decision{}, newAcquireFailedError(spec.Key, err)
	}
	return d, nil
}

func (p *Postgres) Peek(ctx context.Context, spec BucketSpec) (Decision, error) {
	d, err := casTouch(ctx, p, spec, false, p.now)
	if err != nil {
		return Decision{}, newPeekFailedError(spec.Key, err)
	}
	return d, nil
}

// get returns the live value for key; expired rows count as absent.
func (p *Postgres) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt *time.Time

	err := p.pool.QueryRow(ctx, `
		SELECT value, expires_at
		FROM ratelimit_kv
		WHERE key = $1
	`, key).Scan(&value, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if expiresAt != nil && p.now().After(*expiresAt) {
		return "", false, nil
	}
	return value, true, nil
}

func (p *Postgres) swap(ctx context.Context, key, old string, existed bool, newValue string, ttl time.Duration) (bool, error) {
	expiresAt := p.now().Add(ttl)

	if !existed {
		// An expired row may still be physically present, so overwrite it
		// rather than relying on the insert alone.
		tag, err := p.pool.Exec(ctx, `
			INSERT INTO ratelimit_kv (key, value, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET
				value = EXCLUDED.value,
				expires_at = EXCLUDED.expires_at
			WHERE ratelimit_kv.expires_at < NOW()
		`, key, newValue, expiresAt)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() == 1, nil
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE ratelimit_kv
		SET value = $3, expires_at = $4
		WHERE key = $1 AND value = $2
	`, key, old, newValue, expiresAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) Reset(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM ratelimit_kv WHERE key = $1`, key); err != nil {
		return newResetFailedError(key, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
