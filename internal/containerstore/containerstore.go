// Package containerstore is the container collaborator referenced in
// spec.md §6 ("container.commit(session)/container.abort(session)"). The
// core treats row storage as out of scope (BaseContainer); this package is
// the thin pgx-backed stand-in that records the commit/abort marker a
// caller needs and is idempotent with respect to repeated calls on an
// already-ending session, grounded on the teacher's internal/database
// connection-pool pattern.
package containerstore

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dev.helix.code/internal/partition"
)

// Config holds the connection parameters for the marker table's pool,
// mirroring the shape of the teacher's database.Config.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Store is a pgx-backed partition.Container. Commit/Abort are idempotent:
// an upsert on (container_id, txn_id) means replaying the same ending call
// for a session whose transaction already ended is a no-op at the
// database layer, which is the guarantee spec.md §6 requires of this
// collaborator.
type Store struct {
	pool *pgxpool.Pool
}

// New opens the connection pool and ensures the marker table exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("containerstore: parse config: %w", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("containerstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("containerstore: ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Println("containerstore: connection pool established")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS txn_outcomes (
			container_id UUID NOT NULL,
			txn_id       BIGINT NOT NULL,
			outcome      TEXT NOT NULL,
			recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (container_id, txn_id)
		)`)
	if err != nil {
		return fmt.Errorf("containerstore: ensure schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) record(ctx context.Context, sess *partition.Session, outcome string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO txn_outcomes (container_id, txn_id, outcome)
		VALUES ($1, $2, $3)
		ON CONFLICT (container_id, txn_id) DO UPDATE SET outcome = EXCLUDED.outcome, recorded_at = now()`,
		sess.ContainerID, int64(sess.Txn.TxnID), outcome)
	if err != nil {
		return fmt.Errorf("containerstore: record %s: %w", outcome, err)
	}
	return nil
}

// Commit implements partition.Container.
func (s *Store) Commit(sess *partition.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.record(ctx, sess, "commit")
}

// Abort implements partition.Container.
func (s *Store) Abort(sess *partition.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.record(ctx, sess, "abort")
}
