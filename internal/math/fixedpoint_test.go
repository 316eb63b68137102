package math

import (
	"errors"
	"math/big"
	"testing"
)

func TestMulDiv_Floors(t *testing.T) {
	tests := []struct {
		a, b, denom int64
		want        int64
	}{
		{10, 3, 4, 7},     // 30/4 = 7.5
		{7, 1, 2, 3},      // 3.5
		{-7, 1, 2, -3},    // Quo truncates toward zero
		{0, 100, 7, 0},
		{1_000_000, 110, 100, 1_100_000},
	}
	for _, tt := range tests {
		got, err := MulDiv(big.NewInt(tt.a), big.NewInt(tt.b), big.NewInt(tt.denom))
		if err != nil {
			t.Fatalf("MulDiv(%d, %d, %d): %v", tt.a, tt.b, tt.denom, err)
		}
		if got.Int64() != tt.want {
			t.Errorf("MulDiv(%d, %d, %d) = %d, want %d", tt.a, tt.b, tt.denom, got.Int64(), tt.want)
		}
	}
}

func TestMulDiv_ZeroDenominator(t *testing.T) {
	if _, err := MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0)); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("err = %v, want ErrDivisionByZero", err)
	}
	if _, err := MulDiv(big.NewInt(1), big.NewInt(1), nil); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("nil denom err = %v, want ErrDivisionByZero", err)
	}
}

func TestMulDiv_NoIntermediateOverflow(t *testing.T) {
	// a * b overflows int64 but the big.Int intermediate must not lose it.
	a := new(big.Int).SetInt64(1 << 62)
	got, err := MulDiv(a, big.NewInt(4), big.NewInt(2))
	if err != nil {
		t.Fatal(err)
	}
	want := new(big.Int).Lsh(big.NewInt(1), 63)
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestApplyRate(t *testing.T) {
	// 5% of 10_000 interest units.
	if got := ApplyRate(big.NewInt(10_000), 50_000).Int64(); got != 500 {
		t.Errorf("got %d, want 500", got)
	}
	// Floors: 5% of 50 is 2.5.
	if got := ApplyRate(big.NewInt(50), 50_000).Int64(); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
	if got := ApplyRate(big.NewInt(0), 50_000).Int64(); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestCloneAndPredicates(t *testing.T) {
	if Clone(nil).Sign() != 0 {
		t.Error("Clone(nil) should be zero")
	}
	orig := big.NewInt(42)
	c := Clone(orig)
	c.SetInt64(7)
	if orig.Int64() != 42 {
		t.Error("Clone must not alias its input")
	}

	if IsPositive(nil) || IsPositive(big.NewInt(0)) || IsPositive(big.NewInt(-1)) {
		t.Error("IsPositive accepts only strictly positive values")
	}
	if !IsPositive(big.NewInt(1)) {
		t.Error("IsPositive(1) should hold")
	}
	if !IsZeroOrNil(nil) || !IsZeroOrNil(big.NewInt(0)) || IsZeroOrNil(big.NewInt(3)) {
		t.Error("IsZeroOrNil mismatch")
	}
}

func TestMin(t *testing.T) {
	a, b := big.NewInt(3), big.NewInt(5)
	if got := Min(a, b); got.Int64() != 3 {
		t.Errorf("got %d, want 3", got.Int64())
	}
	got := Min(a, b)
	got.SetInt64(99)
	if a.Int64() != 3 {
		t.Error("Min must return a fresh value")
	}
}

func TestPow10(t *testing.T) {
	if got := Pow10(0).Int64(); got != 1 {
		t.Errorf("Pow10(0) = %d, want 1", got)
	}
	if got := Pow10(6).Int64(); got != 1_000_000 {
		t.Errorf("Pow10(6) = %d, want 1_000_000", got)
	}
	want, _ := new(big.Int).SetString("1000000000000000000", 10)
	if got := Pow10(18); got.Cmp(want) != 0 {
		t.Errorf("Pow10(18) = %s, want %s", got, want)
	}
}
