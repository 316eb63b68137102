package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"LendDesk/internal/position"
)

// Ledger is the external system of record: the chain and its loan contracts.
// Every durable fact lives there; the client only reads state and submits
// signed operations. All client-side calculations are pre-flight estimates.
type Ledger interface {
	// Position reads a single position by its opaque identifier.
	Position(ctx context.Context, id string) (position.Position, error)

	// PositionsByBorrower lists the borrower's open positions.
	PositionsByBorrower(ctx context.Context, borrower common.Address) ([]position.Position, error)

	// DebtSnapshot reads the position's outstanding debt at this instant.
	DebtSnapshot(ctx context.Context, positionID string) (DebtSnapshot, error)

	// Allowance reads the amount the spender may currently move on the
	// owner's behalf for the given token.
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)

	// BalanceOf reads the owner's spendable token balance.
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)

	// SubmitAuthorization submits a signed allowance grant.
	SubmitAuthorization(ctx context.Context, op SignedOperation) (OperationHandle, error)

	// SubmitSettlement submits a signed debt settlement.
	SubmitSettlement(ctx context.Context, op SignedOperation) (OperationHandle, error)

	// AwaitConfirmation blocks until the chain confirms the operation or the
	// timeout elapses. A reverted inclusion surfaces ErrExecutionReverted;
	// an elapsed budget surfaces ErrConfirmationTimeout.
	AwaitConfirmation(ctx context.Context, handle OperationHandle, timeout time.Duration) (Receipt, error)
}
