package authz

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"LendDesk/internal/ledger"
	fpmath "LendDesk/internal/math"
	"LendDesk/internal/observability"
)

// Approval buffer: authorize 10% over the computed requirement so interest
// accruing between plan computation and settlement confirmation cannot make
// the allowance fall short. A deliberate over-approval, bounded below 1.2x.
const (
	bufferNumerator   = 110
	bufferDenominator = 100
)

// ErrNotResettable is returned when Reset is called mid-attempt.
var ErrNotResettable = errors.New("sequencer is mid-attempt, cannot reset")

// errInvalidTransition is an internal misuse guard, not a user-facing
// failure mode.
func errInvalidTransition(from, to State) error {
	return fmt.Errorf("invalid sequencer transition %s -> %s", from, to)
}

// Requirement names one (token, spender, amount) authorization the
// settlement depends on.
type Requirement struct {
	Label   string // "custody", "fee"
	Token   common.Address
	Spender common.Address
	Amount  *big.Int
}

// Approval is a requirement the chain's current allowance does not cover,
// along with the buffered amount that will actually be authorized.
type Approval struct {
	Requirement
	Current  *big.Int
	Buffered *big.Int
	Handle   ledger.OperationHandle
	Receipt  ledger.Receipt
}

// Progress reports step position for the UI. TotalSteps counts the needed
// approvals plus the settlement, so it is 1 when the allowance already
// suffices and at most 3 with both recipients uncovered.
type Progress struct {
	CurrentStep int
	TotalSteps  int
}

// BufferAmount returns the buffered authorization amount for a requirement:
// floor(required * 110 / 100), always >= required and <= 1.2 * required.
func BufferAmount(required *big.Int) *big.Int {
	out, _ := fpmath.MulScale(required, bufferNumerator, bufferDenominator)
	return out
}

// Sequencer walks one repayment attempt through allowance checking, the
// approvals the chain still needs, and the settlement itself. Approvals run
// strictly sequentially: the wallet single-threads signing prompts, and each
// submission blocks on the chain's confirmation before the next step.
//
// A sequencer is created per attempt and discarded afterwards; it is not
// reused across positions.
type Sequencer struct {
	chain      ledger.Ledger
	signer     ledger.Signer
	owner      common.Address
	waitBudget time.Duration
	logger     zerolog.Logger
	metrics    *observability.Metrics

	mu          sync.Mutex
	state       State
	pending     []Approval
	currentStep int
	totalSteps  int
	failure     error
}

// NewSequencer builds an idle sequencer for one attempt by the given owner.
// metrics may be nil.
func NewSequencer(chain ledger.Ledger, signer ledger.Signer, owner common.Address, waitBudget time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *Sequencer {
	return &Sequencer{
		chain:      chain,
		signer:     signer,
		owner:      owner,
		waitBudget: waitBudget,
		logger:     logger,
		metrics:    metrics,
		state:      StateIdle,
	}
}

// SetOwner records the authorizing account. Must be called before Prepare;
// the owner is only known once the position has been read.
func (s *Sequencer) SetOwner(owner common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = owner
}

// State returns the current attempt state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Failure returns the error that moved the sequencer to Failed, if any.
func (s *Sequencer) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Progress reports the attempt's step position.
func (s *Sequencer) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Progress{CurrentStep: s.currentStep, TotalSteps: s.totalSteps}
}

// EnsureAuthorized reads the chain's current allowance and reports whether a
// new approval is needed for the requirement.
func (s *Sequencer) EnsureAuthorized(ctx context.Context, token, spender common.Address, required *big.Int) (bool, error) {
	current, err := s.chain.Allowance(ctx, token, s.owner, spender)
	if err != nil {
		return false, fmt.Errorf("read allowance: %w", err)
	}
	return current.Cmp(required) < 0, nil
}

// Prepare checks every requirement against the chain and computes the step
// plan. Requirements with zero amounts are skipped entirely (a zero fee
// needs no fee approval), and covered allowances skip their approval step —
// the step total is computed, never assumed.
func (s *Sequencer) Prepare(ctx context.Context, reqs []Requirement) error {
	if err := s.transition(StateChecking); err != nil {
		return err
	}

	pending := make([]Approval, 0, len(reqs))
	for _, req := range reqs {
		if !fpmath.IsPositive(req.Amount) {
			continue
		}
		current, err := s.chain.Allowance(ctx, req.Token, s.owner, req.Spender)
		if err != nil {
			err = fmt.Errorf("read %s allowance: %w", req.Label, err)
			s.fail(err)
			return err
		}
		if current.Cmp(req.Amount) >= 0 {
			s.logger.Debug().
				Str("requirement", req.Label).
				Str("allowance", current.String()).
				Str("required", req.Amount.String()).
				Msg("allowance already sufficient")
			continue
		}
		pending = append(pending, Approval{
			Requirement: req,
			Current:     current,
			Buffered:    BufferAmount(req.Amount),
		})
	}

	if err := s.transition(StateValidating); err != nil {
		return err
	}

	s.mu.Lock()
	s.pending = pending
	s.totalSteps = len(pending) + 1 // approvals + settlement
	s.currentStep = 0
	s.mu.Unlock()
	return nil
}

// Execute runs the prepared approvals in order, then the settlement, and
// returns the settlement receipt. Any declined signature, revert, or
// confirmation timeout aborts the attempt before the settlement is
// submitted: the chain is not atomic across this sequencing, so a partially
// authorized settlement must never go out.
func (s *Sequencer) Execute(ctx context.Context, settle ledger.SettlementRequest) (ledger.Receipt, error) {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()

	for i := range pending {
		if err := s.beginStep(StateApproving); err != nil {
			return ledger.Receipt{}, err
		}
		stepStart := time.Now()
		if err := s.approve(ctx, &pending[i]); err != nil {
			s.fail(err)
			return ledger.Receipt{}, err
		}
		s.observeStep("approval", stepStart)
	}

	if err := s.beginStep(StateSettling); err != nil {
		return ledger.Receipt{}, err
	}
	stepStart := time.Now()
	receipt, err := s.settle(ctx, settle)
	if err != nil {
		s.fail(err)
		return ledger.Receipt{}, err
	}
	s.observeStep("settlement", stepStart)

	if err := s.transition(StateCompleted); err != nil {
		return ledger.Receipt{}, err
	}
	return receipt, nil
}

// Reset returns a terminal sequencer to idle for a fresh attempt.
func (s *Sequencer) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.terminal() && s.state != StateIdle {
		return ErrNotResettable
	}
	s.state = StateIdle
	s.pending = nil
	s.currentStep = 0
	s.totalSteps = 0
	s.failure = nil
	return nil
}

func (s *Sequencer) approve(ctx context.Context, approval *Approval) error {
	signed, err := s.signer.SignAuthorization(ctx, ledger.AuthorizationRequest{
		Owner:   s.owner,
		Token:   approval.Token,
		Spender: approval.Spender,
		Amount:  approval.Buffered,
	})
	if err != nil {
		return fmt.Errorf("sign %s authorization: %w", approval.Label, err)
	}

	handle, err := s.chain.SubmitAuthorization(ctx, signed)
	if err != nil {
		return fmt.Errorf("submit %s authorization: %w", approval.Label, err)
	}
	approval.Handle = handle
	if s.metrics != nil {
		s.metrics.AuthorizationsSubmitted.Inc()
	}

	receipt, err := s.await(ctx, handle)
	if err != nil {
		return fmt.Errorf("confirm %s authorization: %w", approval.Label, err)
	}
	approval.Receipt = receipt

	s.logger.Info().
		Str("requirement", approval.Label).
		Str("tx", handle.TxHash.Hex()).
		Str("amount", approval.Buffered.String()).
		Msg("authorization confirmed")
	return nil
}

func (s *Sequencer) settle(ctx context.Context, req ledger.SettlementRequest) (ledger.Receipt, error) {
	signed, err := s.signer.SignSettlement(ctx, req)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("sign settlement: %w", err)
	}

	handle, err := s.chain.SubmitSettlement(ctx, signed)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("submit settlement: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SettlementsSubmitted.Inc()
	}

	receipt, err := s.await(ctx, handle)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("confirm settlement: %w", err)
	}

	s.logger.Info().
		Str("position", req.PositionID).
		Str("tx", handle.TxHash.Hex()).
		Str("amount", req.Amount.String()).
		Msg("settlement confirmed")
	return receipt, nil
}

// await wraps confirmation waiting with wait and timeout metrics.
func (s *Sequencer) await(ctx context.Context, handle ledger.OperationHandle) (ledger.Receipt, error) {
	start := time.Now()
	receipt, err := s.chain.AwaitConfirmation(ctx, handle, s.waitBudget)
	if s.metrics != nil {
		s.metrics.ConfirmationWaits.Observe(time.Since(start).Seconds())
		if errors.Is(err, ledger.ErrConfirmationTimeout) {
			s.metrics.ConfirmationTimeouts.Inc()
		}
	}
	return receipt, err
}

func (s *Sequencer) observeStep(step string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RepayStepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
	}
}

// beginStep advances to the next step's state and bumps the step counter.
func (s *Sequencer) beginStep(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanTransitionTo(next) {
		err := errInvalidTransition(s.state, next)
		s.state = StateFailed
		s.failure = err
		return err
	}
	s.state = next
	s.currentStep++
	return nil
}

func (s *Sequencer) transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanTransitionTo(next) {
		err := errInvalidTransition(s.state, next)
		s.state = StateFailed
		s.failure = err
		return err
	}
	s.state = next
	return nil
}

func (s *Sequencer) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return
	}
	s.state = StateFailed
	s.failure = err
}
