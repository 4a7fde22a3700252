package account

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a pgx-backed Store. Schema is a single table; the
// teacher's full multi-backend adapter (MySQL/Mongo/RethinkDB) is out of
// scope for this relay (spec.md §1 places account persistence outside
// the core entirely), so one concrete backend is enough to exercise the
// interface end to end.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and returns a ready Store.
// Callers are expected to have already applied the schema (see
// Migrate).
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates the accounts table if it does not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS accounts (
	identity   TEXT PRIMARY KEY,
	username   TEXT UNIQUE NOT NULL,
	salt       BYTEA,
	kdf_params JSONB,
	public_key BYTEA
)`)
	return err
}

// LookupByUsername implements Store.
func (s *PostgresStore) LookupByUsername(ctx context.Context, username string) (*Record, error) {
	return s.query(ctx, "SELECT identity, username, salt, kdf_params, public_key FROM accounts WHERE username = $1", username)
}

// Lookup implements Store.
func (s *PostgresStore) Lookup(ctx context.Context, identity string) (*Record, error) {
	return s.query(ctx, "SELECT identity, username, salt, kdf_params, public_key FROM accounts WHERE identity = $1", identity)
}

func (s *PostgresStore) query(ctx context.Context, sql string, arg string) (*Record, error) {
	row := s.pool.QueryRow(ctx, sql, arg)

	var rec Record
	var kdf []byte
	if err := row.Scan(&rec.Identity, &rec.Username, &rec.Salt, &kdf, &rec.PublicKey); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.KdfParams = kdf
	return &rec, nil
}

// Register implements Store.
func (s *PostgresStore) Register(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (identity, username, salt, kdf_params, public_key) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (identity) DO UPDATE SET username = EXCLUDED.username, salt = EXCLUDED.salt,
	kdf_params = EXCLUDED.kdf_params, public_key = EXCLUDED.public_key`,
		rec.Identity, rec.Username, rec.Salt, rec.KdfParams, rec.PublicKey)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameTaken
		}
		return err
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
