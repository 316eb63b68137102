package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound reports an attempt id the store does not know.
var ErrNotFound = errors.New("attempt not found")

// Attempt is one finished repayment attempt, recorded for the UI's local
// activity view. This is client telemetry only: the chain remains the
// source of truth for every protocol fact.
type Attempt struct {
	ID         uuid.UUID
	PositionID string
	Borrower   string
	Token      string

	NetAmount        string
	InterestPayment  string
	PrincipalPayment string
	ProtocolFee      string

	// Outcome is "completed" or the taxonomy tag of the failure.
	Outcome string
	Detail  string
	TxHash  string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Store persists attempts to Postgres. Write-once: an attempt is inserted
// after it reaches a terminal state and never updated.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts a finished attempt.
func (s *Store) Record(ctx context.Context, a Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history.attempts (
			id, position_id, borrower, token,
			net_amount, interest_payment, principal_payment, protocol_fee,
			outcome, detail, tx_hash, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.PositionID, a.Borrower, a.Token,
		a.NetAmount, a.InterestPayment, a.PrincipalPayment, a.ProtocolFee,
		a.Outcome, a.Detail, nullable(a.TxHash), a.StartedAt, a.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// ListByPosition returns the most recent attempts for a position.
func (s *Store) ListByPosition(ctx context.Context, positionID string, limit int) ([]Attempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, position_id, borrower, token,
		       net_amount, interest_payment, principal_payment, protocol_fee,
		       outcome, detail, COALESCE(tx_hash, ''), started_at, finished_at
		FROM history.attempts
		WHERE position_id = $1
		ORDER BY started_at DESC
		LIMIT $2`,
		positionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(
			&a.ID, &a.PositionID, &a.Borrower, &a.Token,
			&a.NetAmount, &a.InterestPayment, &a.PrincipalPayment, &a.ProtocolFee,
			&a.Outcome, &a.Detail, &a.TxHash, &a.StartedAt, &a.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get returns a single attempt by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	var a Attempt
	err := s.db.QueryRowContext(ctx, `
		SELECT id, position_id, borrower, token,
		       net_amount, interest_payment, principal_payment, protocol_fee,
		       outcome, detail, COALESCE(tx_hash, ''), started_at, finished_at
		FROM history.attempts
		WHERE id = $1`,
		id,
	).Scan(
		&a.ID, &a.PositionID, &a.Borrower, &a.Token,
		&a.NetAmount, &a.InterestPayment, &a.PrincipalPayment, &a.ProtocolFee,
		&a.Outcome, &a.Detail, &a.TxHash, &a.StartedAt, &a.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return &a, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
