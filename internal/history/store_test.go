package history_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LendDesk/internal/history"
	"LendDesk/internal/testutil"
)

func setupStore(t *testing.T) (*history.Store, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	migrator := history.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(context.Background()); err != nil {
		cleanup()
		t.Fatalf("migrate: %v", err)
	}
	return history.NewStore(db), cleanup
}

func sampleAttempt(positionID, outcome string) history.Attempt {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return history.Attempt{
		ID:               uuid.New(),
		PositionID:       positionID,
		Borrower:         "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Token:            "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		NetAmount:        "1050",
		InterestPayment:  "50",
		PrincipalPayment: "1000",
		ProtocolFee:      "2",
		Outcome:          outcome,
		TxHash:           "0x0000000000000000000000000000000000000000000000000000000000000001",
		StartedAt:        now.Add(-10 * time.Second),
		FinishedAt:       now,
	}
}

func TestStore_RecordAndGet(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	want := sampleAttempt("pos-1", "completed")
	if err := store.Record(ctx, want); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.Get(ctx, want.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PositionID != want.PositionID {
		t.Errorf("position = %s, want %s", got.PositionID, want.PositionID)
	}
	if got.NetAmount != want.NetAmount {
		t.Errorf("net amount = %s, want %s", got.NetAmount, want.NetAmount)
	}
	if got.Outcome != "completed" {
		t.Errorf("outcome = %s, want completed", got.Outcome)
	}
	if got.TxHash != want.TxHash {
		t.Errorf("tx hash = %s, want %s", got.TxHash, want.TxHash)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()

	_, err := store.Get(context.Background(), uuid.New())
	if !errors.Is(err, history.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_ListByPosition(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a := sampleAttempt("pos-list", "completed")
		a.StartedAt = a.StartedAt.Add(time.Duration(i) * time.Minute)
		if err := store.Record(ctx, a); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	other := sampleAttempt("pos-other", "user_declined")
	other.TxHash = ""
	if err := store.Record(ctx, other); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.ListByPosition(ctx, "pos-list", 10)
	if err != nil {
		t.Fatalf("ListByPosition: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Newest first.
	for i := 1; i < len(got); i++ {
		if got[i].StartedAt.After(got[i-1].StartedAt) {
			t.Errorf("attempts out of order at %d", i)
		}
	}
}
