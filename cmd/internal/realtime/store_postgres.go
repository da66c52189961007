// Package realtime contains Relay's realtime WebSocket gateway and message persistence primitives.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Uses per-room transactional advisory locks to guarantee:
//   - No sequence gaps caused by duplicates
//   - Strict monotonic ordering under concurrency
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
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
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
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// AppendMessage appends a message with idempotency and monotonic sequence allocation.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	if s == nil || s.pool == nil {
		return AppendMessageResult{}, errors.New("realtime: nil store")
	}
	if in.RoomID == "" || in.ClientMsgID == "" || in.Sender == "" {
		return AppendMessageResult{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendMessageResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rooms := pgIdent(s.schema, "rooms")
	cursors := pgIdent(s.schema, "room_cursors")
	messages := pgIdent(s.schema, "messages")

	// Serialize all writes per room to guarantee:
	// - No seq waste for duplicates
	// - Strict monotonic ordering without races
	//
	// hashtextextended reduces collision risk vs hashtext (still a hash, but better).
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.RoomID); err != nil {
		return AppendMessageResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+rooms+` (id) VALUES ($1)
		 ON CONFLICT (id) DO NOTHING`,
		in.RoomID,
	); err != nil {
		return AppendMessageResult{}, err
	}

	existing, err := readMessageByClientMsgID(ctx, tx, messages, in.RoomID, in.ClientMsgID)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return AppendMessageResult{}, err
		}
		return AppendMessageResult{Stored: existing, Duplicated: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AppendMessageResult{}, err
	}

	// Cursor row ensures monotonic seq allocation.
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (room_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (room_id) DO NOTHING`,
		in.RoomID,
	); err != nil {
		return AppendMessageResult{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE room_id = $1
		RETURNING (next_seq - 1)`,
		in.RoomID,
	).Scan(&seq); err != nil {
		return AppendMessageResult{}, err
	}

	serverMsgID := mintServerMsgID(now)

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     room_id, seq, server_msg_id, client_msg_id, sender, text, server_ts
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.RoomID, seq, serverMsgID, in.ClientMsgID, in.Sender, in.Text, now,
	); err != nil {
		return AppendMessageResult{}, fmt.Errorf("insert message: %w", err)
	}

	out := StoredMessage{
		RoomID:      in.RoomID,
		ClientMsgID: in.ClientMsgID,
		ServerMsgID: serverMsgID,
		Seq:         seq,
		Sender:      in.Sender,
		Text:        in.Text,
		ServerTS:    now,
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendMessageResult{}, err
	}
	return AppendMessageResult{Stored: out, Duplicated: false}, nil
}

// FetchHistory returns messages ordered by seq ASC, with optional paging by AfterSeq.
func (s *PostgresStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	if s == nil || s.pool == nil {
		return FetchHistoryResult{}, errors.New("realtime: nil store")
	}
	if in.RoomID == "" {
		return FetchHistoryResult{}, errors.New("missing room_id")
	}
	if err := ctx.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	fetch := limit + 1

	messages := pgIdent(s.schema, "messages")

	var (
		rows pgx.Rows
		err  error
	)

	if in.AfterSeq == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT room_id, client_msg_id, server_msg_id, seq, sender, text, server_ts
			   FROM `+messages+`
			  WHERE room_id = $1
			  ORDER BY seq ASC
			  LIMIT $2`,
			in.RoomID, fetch,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT room_id, client_msg_id, server_msg_id, seq, sender, text, server_ts
			   FROM `+messages+`
			  WHERE room_id = $1 AND seq > $2
			  ORDER BY seq ASC
			  LIMIT $3`,
			in.RoomID, *in.AfterSeq, fetch,
		)
	}
	if err != nil {
		return FetchHistoryResult{}, err
	}
	defer rows.Close()

	msgs := make([]StoredMessage, 0, fetch)
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(
			&m.RoomID,
			&m.ClientMsgID,
			&m.ServerMsgID,
			&m.Seq,
			&m.Sender,
			&m.Text,
			&m.ServerTS,
		); err != nil {
			return FetchHistoryResult{}, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	return FetchHistoryResult{Messages: msgs, HasMore: hasMore}, nil
}

func readMessageByClientMsgID(ctx context.Context, tx pgx.Tx, messagesTable string, roomID, clientMsgID string) (StoredMessage, error) {
	var m StoredMessage
	err := tx.QueryRow(ctx,
		`SELECT room_id, client_msg_id, server_msg_id, seq, sender, text, server_ts
		   FROM `+messagesTable+`
		  WHERE room_id = $1 AND client_msg_id = $2`,
		roomID, clientMsgID,
	).Scan(&m.RoomID, &m.ClientMsgID, &m.ServerMsgID, &m.Seq, &m.Sender, &m.Text, &m.ServerTS)
	return m, err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
