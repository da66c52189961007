package refresh

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresStore persists refresh records in PostgreSQL.
//
// Schema: relay.refresh_tokens(principal_id PK, token_hash, expires_at,
// revoked, updated_at). The single-row-per-principal shape plus an upsert
// makes Save an atomic replace without explicit transactions.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "relay").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("refresh: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return errors.New("refresh: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed refresh store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "relay",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("refresh: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return `"` + s.schema + `"."refresh_tokens"`
}

// Save atomically replaces the record for rec.PrincipalID via upsert.
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (principal_id, token_hash, expires_at, revoked, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (principal_id) DO UPDATE
		   SET token_hash = EXCLUDED.token_hash,
		       expires_at = EXCLUDED.expires_at,
		       revoked    = EXCLUDED.revoked,
		       updated_at = EXCLUDED.updated_at`,
		rec.PrincipalID, rec.TokenHash, rec.ExpiresAt, rec.Revoked, time.Now().UTC(),
	)
	return err
}

// Find returns the latest record for principalID, revoked or not.
func (s *PostgresStore) Find(ctx context.Context, principalID string) (Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx,
		`SELECT principal_id, token_hash, expires_at, revoked
		   FROM `+s.table()+` WHERE principal_id = $1`,
		principalID,
	).Scan(&rec.PrincipalID, &rec.TokenHash, &rec.ExpiresAt, &rec.Revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNoRecord
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Revoke marks the current record revoked. No-op when absent.
func (s *PostgresStore) Revoke(ctx context.Context, principalID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+` SET revoked = true, updated_at = $2 WHERE principal_id = $1`,
		principalID, time.Now().UTC(),
	)
	return err
}
