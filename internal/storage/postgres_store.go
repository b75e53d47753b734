package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"

	"github.com/KeelPay/escrow/internal/events"
	"github.com/KeelPay/escrow/pkg/payments"
)

// PostgresStore implements Store using PostgreSQL.
//
// Amounts are stored as NUMERIC(20,0) because they are full-range uint64
// atomic units; BIGINT would silently cap them at int64.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool
	tables TableNames
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(connectionString string, tables TableNames) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		// The Close() error during initialization cleanup is not actionable
		// and would only obscure the original connection failure.
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db, ownsDB: true, tables: tables}
	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB creates a store on an existing connection pool,
// allowing the pool to be shared across repositories.
func NewPostgresStoreWithDB(db *sql.DB, tables TableNames) (*PostgresStore, error) {
	store := &PostgresStore{db: db, ownsDB: false, tables: tables}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) createTables() error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			payment_hash  TEXT PRIMARY KEY,
			has_collected BOOLEAN NOT NULL DEFAULT FALSE,
			capturable    NUMERIC(20,0) NOT NULL DEFAULT 0,
			refundable    NUMERIC(20,0) NOT NULL DEFAULT 0,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.tables.PaymentStates),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			sequence     BIGSERIAL PRIMARY KEY,
			event_id     TEXT NOT NULL,
			event_type   TEXT NOT NULL,
			payment_hash TEXT NOT NULL DEFAULT '',
			operator     TEXT NOT NULL DEFAULT '',
			payer        TEXT NOT NULL DEFAULT '',
			receiver     TEXT NOT NULL DEFAULT '',
			caller       TEXT NOT NULL DEFAULT '',
			token_store  TEXT NOT NULL DEFAULT '',
			amount       NUMERIC(20,0) NOT NULL DEFAULT 0,
			fee          NUMERIC(20,0) NOT NULL DEFAULT 0,
			created_at   TIMESTAMPTZ NOT NULL
		)`, s.tables.EventLog),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_hash ON %s (payment_hash)`,
			s.tables.EventLog, s.tables.EventLog),
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetPaymentState(ctx context.Context, hash common.Hash) (payments.State, error) {
	query := fmt.Sprintf(
		`SELECT has_collected, capturable, refundable FROM %s WHERE payment_hash = $1`,
		s.tables.PaymentStates)

	var (
		state      payments.State
		capturable string
		refundable string
	)
	err := s.db.QueryRowContext(ctx, query, hash.Hex()).Scan(&state.HasCollectedPayment, &capturable, &refundable)
	if err == sql.ErrNoRows {
		return payments.State{}, ErrNotFound
	}
	if err != nil {
		return payments.State{}, fmt.Errorf("query payment state: %w", err)
	}

	if state.CapturableAmount, err = parseAmount(capturable); err != nil {
		return payments.State{}, err
	}
	if state.RefundableAmount, err = parseAmount(refundable); err != nil {
		return payments.State{}, err
	}
	return state, nil
}

func (s *PostgresStore) PutPaymentState(ctx context.Context, hash common.Hash, state payments.State) error {
	query := fmt.Sprintf(`INSERT INTO %s (payment_hash, has_collected, capturable, refundable, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (payment_hash) DO UPDATE SET
			has_collected = EXCLUDED.has_collected,
			capturable = EXCLUDED.capturable,
			refundable = EXCLUDED.refundable,
			updated_at = NOW()`, s.tables.PaymentStates)

	_, err := s.db.ExecContext(ctx, query,
		hash.Hex(),
		state.HasCollectedPayment,
		formatAmount(state.CapturableAmount),
		formatAmount(state.RefundableAmount),
	)
	if err != nil {
		return fmt.Errorf("upsert payment state: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event events.Event) (events.Event, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(event_id, event_type, payment_hash, operator, payer, receiver, caller, token_store, amount, fee, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING sequence`, s.tables.EventLog)

	err := s.db.QueryRowContext(ctx, query,
		event.ID,
		string(event.Type),
		event.PaymentHash.Hex(),
		event.Operator.Hex(),
		event.Payer.Hex(),
		event.Receiver.Hex(),
		event.Caller.Hex(),
		event.TokenStore.Hex(),
		formatAmount(event.Amount),
		formatAmount(event.Fee),
		event.Timestamp,
	).Scan(&event.Sequence)
	if err != nil {
		return events.Event{}, fmt.Errorf("append event: %w", err)
	}
	return event, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter EventFilter) ([]events.Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	var (
		conds []string
		args  []interface{}
	)
	if filter.PaymentHash != (common.Hash{}) {
		args = append(args, filter.PaymentHash.Hex())
		conds = append(conds, fmt.Sprintf("payment_hash = $%d", len(args)))
	}
	if filter.AfterSequence > 0 {
		args = append(args, filter.AfterSequence)
		conds = append(conds, fmt.Sprintf("sequence > $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT sequence, event_id, event_type, payment_hash, operator, payer,
		receiver, caller, token_store, amount, fee, created_at
		FROM %s %s ORDER BY sequence ASC LIMIT $%d`, s.tables.EventLog, where, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			ev                                                  events.Event
			eventType, hashHex, operator, payer, receiver       string
			caller, tokenStore, amount, fee                     string
		)
		if err := rows.Scan(&ev.Sequence, &ev.ID, &eventType, &hashHex, &operator, &payer,
			&receiver, &caller, &tokenStore, &amount, &fee, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = events.Type(eventType)
		ev.PaymentHash = common.HexToHash(hashHex)
		ev.Operator = common.HexToAddress(operator)
		ev.Payer = common.HexToAddress(payer)
		ev.Receiver = common.HexToAddress(receiver)
		ev.Caller = common.HexToAddress(caller)
		ev.TokenStore = common.HexToAddress(tokenStore)
		if ev.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		if ev.Fee, err = parseAmount(fee); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(v string) (uint64, error) {
	parsed, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse stored amount %q: %w", v, err)
	}
	return parsed, nil
}
