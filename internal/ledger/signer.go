package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUserDeclined means the wallet holder rejected the signing prompt.
// Always recoverable: the same step can simply be retried.
var ErrUserDeclined = errors.New("user declined signing")

// OperationKind distinguishes the two signed operation shapes.
type OperationKind int

const (
	OpAuthorization OperationKind = iota
	OpSettlement
)

func (k OperationKind) String() string {
	switch k {
	case OpAuthorization:
		return "authorization"
	case OpSettlement:
		return "settlement"
	default:
		return "unknown"
	}
}

// SignedOperation is an opaque signed payload ready for submission. The
// client never inspects or rewrites it.
type SignedOperation struct {
	Kind    OperationKind
	From    common.Address
	Payload []byte
}

// AuthorizationRequest asks the signer to grant a spender a bounded
// allowance over the owner's token.
type AuthorizationRequest struct {
	Owner   common.Address
	Token   common.Address
	Spender common.Address
	Amount  *big.Int
}

// SettlementRequest asks the signer to authorize moving funds against the
// position's outstanding debt.
type SettlementRequest struct {
	Borrower   common.Address
	PositionID string
	Token      common.Address
	Amount     *big.Int
}

// Signer is the opaque wallet/key-management collaborator. Signing prompts
// single-thread through the wallet UI, so callers must never request two
// signatures concurrently.
type Signer interface {
	SignAuthorization(ctx context.Context, req AuthorizationRequest) (SignedOperation, error)
	SignSettlement(ctx context.Context, req SettlementRequest) (SignedOperation, error)
}
