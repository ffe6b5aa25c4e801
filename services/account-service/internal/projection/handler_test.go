package projection

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/AleksK1NG/account-projections/services/account-service/internal/account"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/events"
)

type memoryStore struct {
	rows map[string]AccountProjection
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: map[string]AccountProjection{}}
}

func (s *memoryStore) GetByID(_ context.Context, accountID string) (AccountProjection, error) {
	p, ok := s.rows[accountID]
	if !ok {
		return AccountProjection{}, ErrProjectionNotFound
	}
	return p, nil
}

func (s *memoryStore) Upsert(_ context.Context, p AccountProjection) error {
	s.rows[p.AccountID] = p
	return nil
}

func (s *memoryStore) UpdateVersioned(_ context.Context, p AccountProjection, expected int64) error {
	existing, ok := s.rows[p.AccountID]
	if !ok || existing.Version != expected {
		return ErrVersionConflict
	}
	s.rows[p.AccountID] = p
	return nil
}

func testLogger() *slog.Logger {
	return slog.Default()
}

func envelope(t *testing.T, eventType, aggregateID string, version int64, payload any) events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(eventType, aggregateID, version, payload)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	return env
}

func dispatch(t *testing.T, h *Handler, env events.Envelope) error {
	t.Helper()
	return events.Dispatch(context.Background(), env, h)
}

func TestHandler_AppliesInOrder(t *testing.T) {
	store := newMemoryStore()
	h := NewHandler(store, testLogger())

	created := envelope(t, events.TypeAccountCreated, "acc-1", 0, events.AccountCreated{
		Email: "a@b.c", FirstName: "Ada", LastName: "L", Currency: "USD",
	})
	if err := dispatch(t, h, created); err != nil {
		t.Fatalf("apply created: %v", err)
	}

	deposits := []int64{500, 250, 125}
	for i, amount := range deposits {
		env := envelope(t, events.TypeBalanceDeposited, "acc-1", int64(i+1), events.BalanceDeposited{Amount: amount, Currency: "USD"})
		if err := dispatch(t, h, env); err != nil {
			t.Fatalf("apply deposit %d: %v", i+1, err)
		}
	}

	p, err := store.GetByID(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("get projection: %v", err)
	}
	if p.Version != 3 {
		t.Fatalf("expected version 3, got %d", p.Version)
	}
	if p.BalanceAmount != 875 {
		t.Fatalf("expected balance 875, got %d", p.BalanceAmount)
	}
}

func TestHandler_OutOfOrderHeldBack(t *testing.T) {
	store := newMemoryStore()
	h := NewHandler(store, testLogger())

	created := envelope(t, events.TypeAccountCreated, "acc-2", 0, events.AccountCreated{Email: "x@y.z", Currency: "EUR"})
	if err := dispatch(t, h, created); err != nil {
		t.Fatalf("apply created: %v", err)
	}

	// Version 2 arrives before version 1: projection stays at 0.
	second := envelope(t, events.TypeBalanceDeposited, "acc-2", 2, events.BalanceDeposited{Amount: 100, Currency: "EUR"})
	if err := dispatch(t, h, second); !errors.Is(err, ErrAheadVersion) {
		t.Fatalf("expected ahead-version error, got %v", err)
	}
	p, _ := store.GetByID(context.Background(), "acc-2")
	if p.Version != 0 {
		t.Fatalf("expected version 0 before gap fills, got %d", p.Version)
	}

	first := envelope(t, events.TypeBalanceDeposited, "acc-2", 1, events.BalanceDeposited{Amount: 50, Currency: "EUR"})
	if err := dispatch(t, h, first); err != nil {
		t.Fatalf("apply version 1: %v", err)
	}
	if err := dispatch(t, h, second); err != nil {
		t.Fatalf("apply version 2 after gap filled: %v", err)
	}

	p, _ = store.GetByID(context.Background(), "acc-2")
	if p.Version != 2 {
		t.Fatalf("expected version 2, got %d", p.Version)
	}
	if p.BalanceAmount != 150 {
		t.Fatalf("expected balance 150, got %d", p.BalanceAmount)
	}
}

func TestHandler_DuplicateDeliveryIdempotent(t *testing.T) {
	store := newMemoryStore()
	h := NewHandler(store, testLogger())

	created := envelope(t, events.TypeAccountCreated, "acc-3", 0, events.AccountCreated{Email: "d@e.f", Currency: "USD"})
	if err := dispatch(t, h, created); err != nil {
		t.Fatalf("apply created: %v", err)
	}

	deposit := envelope(t, events.TypeBalanceDeposited, "acc-3", 1, events.BalanceDeposited{Amount: 500, Currency: "USD"})
	if err := dispatch(t, h, deposit); err != nil {
		t.Fatalf("apply deposit: %v", err)
	}

	// Redelivery of the same event: classified as a duplicate, state unchanged.
	if err := dispatch(t, h, deposit); !errors.Is(err, ErrSameVersion) {
		t.Fatalf("expected same-version error, got %v", err)
	}

	p, _ := store.GetByID(context.Background(), "acc-3")
	if p.Version != 1 {
		t.Fatalf("expected version 1, got %d", p.Version)
	}
	if p.BalanceAmount != 500 {
		t.Fatalf("expected balance 500 applied once, got %d", p.BalanceAmount)
	}
}

func TestHandler_StaleEventRejected(t *testing.T) {
	store := newMemoryStore()
	h := NewHandler(store, testLogger())

	if err := store.Upsert(context.Background(), AccountProjection{AccountID: "acc-4", BalanceCurrency: "USD", Version: 5}); err != nil {
		t.Fatalf("seed projection: %v", err)
	}

	stale := envelope(t, events.TypeBalanceDeposited, "acc-4", 2, events.BalanceDeposited{Amount: 10, Currency: "USD"})
	if err := dispatch(t, h, stale); !errors.Is(err, ErrLowerVersion) {
		t.Fatalf("expected lower-version error, got %v", err)
	}
}

func TestHandler_EventBeforeCreationIsRetryable(t *testing.T) {
	store := newMemoryStore()
	h := NewHandler(store, testLogger())

	env := envelope(t, events.TypeBalanceDeposited, "ghost", 1, events.BalanceDeposited{Amount: 10, Currency: "USD"})
	if err := dispatch(t, h, env); !errors.Is(err, ErrAheadVersion) {
		t.Fatalf("expected ahead-version error for missing projection, got %v", err)
	}
}

func TestHandler_ValidationFailures(t *testing.T) {
	store := newMemoryStore()
	h := NewHandler(store, testLogger())

	created := envelope(t, events.TypeAccountCreated, "acc-5", 0, events.AccountCreated{Email: "v@w.x", Currency: "USD"})
	if err := dispatch(t, h, created); err != nil {
		t.Fatalf("apply created: %v", err)
	}

	negative := envelope(t, events.TypeBalanceDeposited, "acc-5", 1, events.BalanceDeposited{Amount: -5, Currency: "USD"})
	if err := dispatch(t, h, negative); !errors.Is(err, account.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}

	wrongCurrency := envelope(t, events.TypeBalanceDeposited, "acc-5", 1, events.BalanceDeposited{Amount: 5, Currency: "EUR"})
	if err := dispatch(t, h, wrongCurrency); !errors.Is(err, account.ErrInvalidCurrency) {
		t.Fatalf("expected invalid currency, got %v", err)
	}

	overdraft := envelope(t, events.TypeBalanceWithdrawn, "acc-5", 1, events.BalanceWithdrawn{Amount: 100, Currency: "USD"})
	if err := dispatch(t, h, overdraft); !errors.Is(err, account.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}
