package repay

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LendDesk/internal/authz"
	"LendDesk/internal/debt"
	"LendDesk/internal/history"
	"LendDesk/internal/ledger"
	"LendDesk/internal/observability"
	"LendDesk/internal/position"
	"LendDesk/internal/price"
)

// Config carries the protocol constants the orchestrator needs for one
// deployment.
type Config struct {
	// ProtocolFeeRate is the fee on the interest portion, as a fraction on
	// the precision scale (50_000 = 5%).
	ProtocolFeeRate int64

	// CustodyRecipient is the contract that pulls the net repayment.
	CustodyRecipient common.Address

	// FeeRecipient is the treasury that pulls the protocol fee.
	FeeRecipient common.Address

	// ConfirmationBudget bounds each wait for an operation confirmation.
	ConfirmationBudget time.Duration
}

// Outcome is the result of a completed repayment attempt.
type Outcome struct {
	AttemptID uuid.UUID
	Plan      debt.RepaymentPlan
	Receipt   ledger.Receipt

	// Position is the refreshed state after settlement confirmed.
	Position position.Position
}

// Orchestrator runs the repayment workflow end to end: read fresh state,
// decompose the amount, check the spendable balance, sequence the
// authorizations, settle, and refresh. At most one attempt runs per
// position at any time.
type Orchestrator struct {
	chain   ledger.Ledger
	signer  ledger.Signer
	cfg     Config
	store   *history.Store // optional, nil disables the activity record
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	inflight map[string]*authz.Sequencer
}

// NewOrchestrator wires the workflow. store and metrics may be nil.
func NewOrchestrator(chain ledger.Ledger, signer ledger.Signer, cfg Config, store *history.Store, logger zerolog.Logger, metrics *observability.Metrics) *Orchestrator {
	if cfg.ConfirmationBudget <= 0 {
		cfg.ConfirmationBudget = 2 * time.Minute
	}
	return &Orchestrator{
		chain:    chain,
		signer:   signer,
		cfg:      cfg,
		store:    store,
		logger:   logger,
		metrics:  metrics,
		inflight: make(map[string]*authz.Sequencer),
	}
}

// Repay runs one attempt for the position. requested may be nil for a full
// repayment. token must be the position's loan asset. Every failure comes
// back as a tagged *Error.
//
// The in-flight guard is taken before any remote read and released only
// when the attempt reaches a terminal state, so a second concurrent call
// for the same position fails fast with CodeAlreadyInProgress and submits
// nothing.
func (o *Orchestrator) Repay(ctx context.Context, positionID string, token common.Address, requested *big.Int) (*Outcome, error) {
	attemptID := uuid.New()
	started := time.Now()
	logger := o.logger.With().
		Str("attempt", attemptID.String()).
		Str("position", positionID).
		Logger()

	seq := authz.NewSequencer(o.chain, o.signer, common.Address{}, o.cfg.ConfirmationBudget, logger, o.metrics)
	if err := o.acquire(positionID, seq); err != nil {
		return nil, AsError(err)
	}
	defer o.release(positionID)

	outcome, err := o.run(ctx, logger, seq, attemptID, positionID, token, requested)
	o.observe(started, err)
	o.record(ctx, logger, attemptID, positionID, token, outcome, started, err)
	if err != nil {
		logger.Warn().Err(err).Msg("repayment attempt failed")
		return nil, AsError(err)
	}

	logger.Info().
		Str("tx", outcome.Receipt.TxHash.Hex()).
		Str("net", outcome.Plan.NetAmount.String()).
		Bool("closed", outcome.Plan.WillClosePosition).
		Msg("repayment completed")
	return outcome, nil
}

func (o *Orchestrator) run(ctx context.Context, logger zerolog.Logger, seq *authz.Sequencer, attemptID uuid.UUID, positionID string, token common.Address, requested *big.Int) (*Outcome, error) {
	pos, err := o.chain.Position(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("read position: %w", err)
	}
	if err := pos.Validate(); err != nil {
		return nil, validationError(err.Error())
	}
	if !pos.IsActive {
		return nil, validationError("position is not active")
	}

	asset, ok := price.Lookup(pos.LoanAsset)
	if !ok {
		return nil, validationError(fmt.Sprintf("unsupported loan asset %q", pos.LoanAsset))
	}
	if asset.Token != token {
		return nil, validationError(fmt.Sprintf("token %s does not match loan asset %s", token.Hex(), pos.LoanAsset))
	}

	// The snapshot is always re-read at attempt start. Interest accrues per
	// block, so any cached figure understates the debt.
	snapshot, err := o.chain.DebtSnapshot(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("read debt snapshot: %w", err)
	}
	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("debt snapshot: %w", err)
	}

	plan, err := debt.Decompose(snapshot, requested, o.cfg.ProtocolFeeRate)
	if err != nil {
		return nil, err
	}

	// Both recipients draw from the borrower's balance, so the pre-check
	// covers the full outflow, net plus fee.
	balance, err := o.chain.BalanceOf(ctx, token, pos.Borrower)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	outflow := plan.TotalOutflow()
	if balance.Cmp(outflow) < 0 {
		return nil, fmt.Errorf("balance %s below required %s: %w", balance, outflow, ErrInsufficientBalance)
	}

	seq.SetOwner(pos.Borrower)
	reqs := []authz.Requirement{
		{Label: "custody", Token: token, Spender: o.cfg.CustodyRecipient, Amount: plan.NetAmount},
		{Label: "fee", Token: token, Spender: o.cfg.FeeRecipient, Amount: plan.ProtocolFee},
	}
	if err := seq.Prepare(ctx, reqs); err != nil {
		return nil, err
	}
	logger.Info().
		Int("steps", seq.Progress().TotalSteps).
		Str("interest", plan.InterestPayment.String()).
		Str("principal", plan.PrincipalPayment.String()).
		Str("fee", plan.ProtocolFee.String()).
		Msg("attempt validated")

	receipt, err := seq.Execute(ctx, ledger.SettlementRequest{
		Borrower:   pos.Borrower,
		PositionID: positionID,
		Token:      token,
		Amount:     plan.NetAmount,
	})
	if err != nil {
		return nil, err
	}

	refreshed, err := o.chain.Position(ctx, positionID)
	if err != nil {
		// Settlement confirmed; a failed refresh does not undo it.
		logger.Warn().Err(err).Msg("post-settlement position refresh failed")
		refreshed = pos
	}

	return &Outcome{
		AttemptID: attemptID,
		Plan:      plan,
		Receipt:   receipt,
		Position:  refreshed,
	}, nil
}

// Progress reports the live attempt's step position for the position, if
// one is in flight.
func (o *Orchestrator) Progress(positionID string) (authz.Progress, authz.State, bool) {
	o.mu.Lock()
	seq := o.inflight[positionID]
	o.mu.Unlock()
	if seq == nil {
		return authz.Progress{}, authz.StateIdle, false
	}
	return seq.Progress(), seq.State(), true
}

// CheckStatus re-queries a previously submitted operation after an
// ambiguous confirmation timeout. It never resubmits anything.
func (o *Orchestrator) CheckStatus(ctx context.Context, txHash common.Hash) (ledger.Receipt, error) {
	receipt, err := o.chain.AwaitConfirmation(ctx, ledger.OperationHandle{TxHash: txHash}, 0)
	if err != nil {
		return ledger.Receipt{}, AsError(err)
	}
	return receipt, nil
}

func (o *Orchestrator) acquire(positionID string, seq *authz.Sequencer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[positionID]; busy {
		return fmt.Errorf("position %s: %w", positionID, ErrAlreadyInProgress)
	}
	o.inflight[positionID] = seq
	return nil
}

func (o *Orchestrator) release(positionID string) {
	o.mu.Lock()
	delete(o.inflight, positionID)
	o.mu.Unlock()
}

func (o *Orchestrator) observe(started time.Time, err error) {
	if o.metrics == nil {
		return
	}
	outcome := "completed"
	if err != nil {
		outcome = string(AsError(err).Code)
	}
	o.metrics.RepayAttempts.WithLabelValues(outcome).Inc()
	o.metrics.RepayDuration.Observe(time.Since(started).Seconds())
}

func (o *Orchestrator) record(ctx context.Context, logger zerolog.Logger, attemptID uuid.UUID, positionID string, token common.Address, outcome *Outcome, started time.Time, attemptErr error) {
	if o.store == nil {
		return
	}

	a := history.Attempt{
		ID:         attemptID,
		PositionID: positionID,
		Token:      token.Hex(),
		Outcome:    "completed",
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),

		NetAmount:        "0",
		InterestPayment:  "0",
		PrincipalPayment: "0",
		ProtocolFee:      "0",
	}
	if attemptErr != nil {
		tagged := AsError(attemptErr)
		a.Outcome = string(tagged.Code)
		a.Detail = tagged.Detail
	}
	if outcome != nil {
		a.Borrower = outcome.Position.Borrower.Hex()
		a.NetAmount = outcome.Plan.NetAmount.String()
		a.InterestPayment = outcome.Plan.InterestPayment.String()
		a.PrincipalPayment = outcome.Plan.PrincipalPayment.String()
		a.ProtocolFee = outcome.Plan.ProtocolFee.String()
		a.TxHash = outcome.Receipt.TxHash.Hex()
	}

	result := "ok"
	if err := o.store.Record(ctx, a); err != nil {
		result = "error"
		logger.Warn().Err(err).Msg("attempt history write failed")
	}
	if o.metrics != nil {
		o.metrics.HistoryWrites.WithLabelValues(result).Inc()
	}
}
