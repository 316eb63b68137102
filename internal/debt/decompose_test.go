package debt_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"LendDesk/internal/debt"
	"LendDesk/internal/ledger"
)

func snapshot(total, interest int64) ledger.DebtSnapshot {
	return ledger.DebtSnapshot{
		Principal:       big.NewInt(total - interest),
		AccruedInterest: big.NewInt(interest),
		TotalDebt:       big.NewInt(total),
		AsOf:            time.Now(),
	}
}

func TestDecompose_PartialInterestFirst(t *testing.T) {
	plan, err := debt.Decompose(snapshot(1000, 50), big.NewInt(200), 5_000)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	if plan.InterestPayment.Int64() != 50 {
		t.Errorf("interest: got %s, want 50", plan.InterestPayment)
	}
	if plan.PrincipalPayment.Int64() != 150 {
		t.Errorf("principal: got %s, want 150", plan.PrincipalPayment)
	}
	if plan.NetAmount.Int64() != 200 {
		t.Errorf("net: got %s, want 200", plan.NetAmount)
	}
	// floor(50 * 5_000 / 1_000_000) = 0: small interest rounds the fee away
	if plan.ProtocolFee.Int64() != 0 {
		t.Errorf("fee: got %s, want 0", plan.ProtocolFee)
	}
	if plan.WillClosePosition {
		t.Error("partial repayment must not close the position")
	}
}

func TestDecompose_FullWhenAmountOmitted(t *testing.T) {
	plan, err := debt.Decompose(snapshot(1000, 50), nil, 5_000)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	if plan.NetAmount.Int64() != 1000 {
		t.Errorf("net: got %s, want 1000", plan.NetAmount)
	}
	if !plan.WillClosePosition {
		t.Error("full repayment must close the position")
	}
}

func TestDecompose_ClampsOverpayment(t *testing.T) {
	plan, err := debt.Decompose(snapshot(1000, 50), big.NewInt(5000), 5_000)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	if plan.NetAmount.Int64() != 1000 {
		t.Errorf("net must clamp to total debt: got %s", plan.NetAmount)
	}
	if !plan.WillClosePosition {
		t.Error("clamped full repayment must close the position")
	}
}

func TestDecompose_FeeOnInterestOnly(t *testing.T) {
	// 100% of the request goes to interest here; fee = floor(10_000 * 5_000 / 1e6) = 50
	plan, err := debt.Decompose(snapshot(100_000, 10_000), big.NewInt(10_000), 5_000)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if plan.InterestPayment.Int64() != 10_000 {
		t.Errorf("interest: got %s, want 10_000", plan.InterestPayment)
	}
	if plan.PrincipalPayment.Int64() != 0 {
		t.Errorf("principal: got %s, want 0", plan.PrincipalPayment)
	}
	if plan.ProtocolFee.Int64() != 50 {
		t.Errorf("fee: got %s, want 50", plan.ProtocolFee)
	}
	if plan.TotalOutflow().Int64() != 10_050 {
		t.Errorf("total outflow: got %s, want 10_050", plan.TotalOutflow())
	}
}

func TestDecompose_InvalidAmount(t *testing.T) {
	for _, amount := range []int64{0, -1, -1000} {
		_, err := debt.Decompose(snapshot(1000, 50), big.NewInt(amount), 5_000)
		if !errors.Is(err, debt.ErrInvalidAmount) {
			t.Errorf("amount %d: got %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestDecompose_PositionInactive(t *testing.T) {
	_, err := debt.Decompose(snapshot(0, 0), nil, 5_000)
	if !errors.Is(err, debt.ErrPositionInactive) {
		t.Errorf("got %v, want ErrPositionInactive", err)
	}
}

func TestDecompose_PlanIdentityHolds(t *testing.T) {
	cases := []struct {
		total, interest, requested int64
	}{
		{1000, 0, 1},
		{1000, 50, 49},
		{1000, 50, 50},
		{1000, 50, 51},
		{1000, 50, 999},
		{1000, 50, 1000},
		{1000, 1000, 500},
		{1, 1, 1},
		{7_777_777, 123_456, 1_000_000},
	}

	for _, tc := range cases {
		plan, err := debt.Decompose(snapshot(tc.total, tc.interest), big.NewInt(tc.requested), 5_000)
		if err != nil {
			t.Fatalf("total=%d interest=%d requested=%d: %v", tc.total, tc.interest, tc.requested, err)
		}

		sum := new(big.Int).Add(plan.InterestPayment, plan.PrincipalPayment)
		if sum.Cmp(plan.NetAmount) != 0 {
			t.Errorf("total=%d requested=%d: interest %s + principal %s != net %s",
				tc.total, tc.requested, plan.InterestPayment, plan.PrincipalPayment, plan.NetAmount)
		}
		if plan.InterestPayment.Int64() > tc.interest {
			t.Errorf("total=%d requested=%d: interest payment %s exceeds accrued %d",
				tc.total, tc.requested, plan.InterestPayment, tc.interest)
		}
		wantClose := tc.requested >= tc.total
		if plan.WillClosePosition != wantClose {
			t.Errorf("total=%d requested=%d: willClose got %v, want %v",
				tc.total, tc.requested, plan.WillClosePosition, wantClose)
		}
	}
}

func TestDecompose_Idempotent(t *testing.T) {
	snap := snapshot(1000, 50)
	first, err := debt.Decompose(snap, big.NewInt(200), 5_000)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	second, err := debt.Decompose(snap, big.NewInt(200), 5_000)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}

	if first.NetAmount.Cmp(second.NetAmount) != 0 ||
		first.InterestPayment.Cmp(second.InterestPayment) != 0 ||
		first.PrincipalPayment.Cmp(second.PrincipalPayment) != 0 ||
		first.ProtocolFee.Cmp(second.ProtocolFee) != 0 {
		t.Error("decompose must be deterministic for identical inputs")
	}

	// The plan must not alias the snapshot's integers.
	first.NetAmount.SetInt64(0)
	if snap.TotalDebt.Int64() != 1000 {
		t.Error("plan mutated the snapshot")
	}
}
