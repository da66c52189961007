package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"relay/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//
// Schema: relay.principals(id, username, username_norm, display_name, roles,
// password_hash, created_at). Roles are stored as a text array.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "relay").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return errors.New("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed principal store.
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
		return nil, errors.New("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return `"` + s.schema + `"."principals"`
}

// Create inserts a new principal row.
func (s *PostgresStore) Create(ctx context.Context, in CreatePrincipalInput) (Principal, error) {
	norm := NormalizeUsername(in.Username)
	if norm == "" {
		return Principal{}, OpError{Op: "identity.Create", Kind: ErrInvalidInput, Msg: "empty username"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Principal{}, err
	}

	display := in.DisplayName
	if display == "" {
		display = in.Username
	}

	roles := in.Roles
	if roles == nil {
		roles = []string{}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+`
		   (id, username, username_norm, display_name, roles, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, in.Username, norm, display, roles, in.PasswordHash, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Principal{}, ConflictError{Op: "identity.Create", Field: "username"}
		}
		return Principal{}, err
	}

	return Principal{
		ID:           id,
		Username:     in.Username,
		UsernameNorm: norm,
		DisplayName:  display,
		Roles:        append([]string(nil), roles...),
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
	}, nil
}

// GetByID loads a principal by id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Principal, error) {
	return s.getWhere(ctx, "identity.GetByID", `id = $1`, id)
}

// GetByUsername loads a principal by (normalized) username.
func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (Principal, error) {
	return s.getWhere(ctx, "identity.GetByUsername", `username_norm = $1`, NormalizeUsername(username))
}

func (s *PostgresStore) getWhere(ctx context.Context, op, where string, arg any) (Principal, error) {
	var p Principal
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, username_norm, display_name, roles, password_hash, created_at
		   FROM `+s.table()+` WHERE `+where,
		arg,
	).Scan(&p.ID, &p.Username, &p.UsernameNorm, &p.DisplayName, &p.Roles, &p.PasswordHash, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if err != nil {
		return Principal{}, err
	}
	return p, nil
}

// SetRoles replaces the role set for a principal.
func (s *PostgresStore) SetRoles(ctx context.Context, id string, roles []string) error {
	if roles == nil {
		roles = []string{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+` SET roles = $2 WHERE id = $1`,
		id, roles,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return OpError{Op: "identity.SetRoles", Kind: ErrNotFound}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
