package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	fpmath "LendDesk/internal/math"
)

var (
	// ErrConfirmationTimeout means the wait budget elapsed before the chain
	// confirmed the operation. The outcome is ambiguous: the operation may
	// still land later, so callers must offer a manual status recheck rather
	// than assuming failure.
	ErrConfirmationTimeout = errors.New("confirmation timeout")

	// ErrExecutionReverted means the chain included the operation but its
	// own rules rejected it (stale snapshot, contract guard, etc).
	ErrExecutionReverted = errors.New("execution reverted")

	// ErrNotFound reports a position or receipt the chain does not know.
	ErrNotFound = errors.New("not found")
)

// OperationHandle identifies a submitted operation awaiting confirmation.
type OperationHandle struct {
	TxHash    common.Hash
	Submitted time.Time
}

// Receipt is the chain's confirmation record for an included operation.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
}

// DebtSnapshot is the outstanding debt of a position at a single instant.
// Interest accrues continuously, so a snapshot is never cached across user
// actions; every repayment attempt starts from a fresh one.
type DebtSnapshot struct {
	Principal       *big.Int
	AccruedInterest *big.Int
	TotalDebt       *big.Int
	AsOf            time.Time
}

// Validate checks the snapshot identity total = principal + interest.
func (s DebtSnapshot) Validate() error {
	p := fpmath.Clone(s.Principal)
	i := fpmath.Clone(s.AccruedInterest)
	if p.Sign() < 0 || i.Sign() < 0 {
		return errors.New("negative debt component")
	}
	sum := new(big.Int).Add(p, i)
	if sum.Cmp(fpmath.Clone(s.TotalDebt)) != 0 {
		return fmt.Errorf("debt snapshot mismatch: principal %s + interest %s != total %s",
			p, i, s.TotalDebt)
	}
	return nil
}

// HasDebt reports whether anything remains outstanding.
func (s DebtSnapshot) HasDebt() bool {
	return fpmath.IsPositive(s.TotalDebt)
}
