package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleksK1NG/account-projections/services/account-service/internal/account"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/events"
)

// Handler folds domain events into the account projection. Every event except
// creation goes through the version guard, so application is idempotent and
// strictly ordered per aggregate.
type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

var _ events.Handler = (*Handler)(nil)

func (h *Handler) OnAccountCreated(ctx context.Context, env events.Envelope, e events.AccountCreated) error {
	if err := account.ValidateCurrency(e.Currency); err != nil {
		return err
	}

	existing, err := h.store.GetByID(ctx, env.AggregateID)
	if err == nil {
		// Row already exists: a redelivered creation is version skew, not a
		// fresh aggregate.
		return CheckVersion(existing.Version, env.Version)
	}
	if !errors.Is(err, ErrProjectionNotFound) {
		return err
	}

	return h.store.Upsert(ctx, AccountProjection{
		AccountID:       env.AggregateID,
		Email:           e.Email,
		FirstName:       e.FirstName,
		LastName:        e.LastName,
		Country:         e.Country,
		City:            e.City,
		Status:          account.StatusActive,
		BalanceAmount:   0,
		BalanceCurrency: e.Currency,
		Version:         env.Version,
	})
}

func (h *Handler) OnAccountStatusChanged(ctx context.Context, env events.Envelope, e events.AccountStatusChanged) error {
	if !account.ValidStatus(e.Status) {
		return fmt.Errorf("%w: %q", account.ErrInvalidStatus, e.Status)
	}
	return h.apply(ctx, env, func(p *AccountProjection) error {
		p.Status = e.Status
		return nil
	})
}

func (h *Handler) OnBalanceDeposited(ctx context.Context, env events.Envelope, e events.BalanceDeposited) error {
	if err := account.ValidateAmount(e.Amount); err != nil {
		return err
	}
	return h.apply(ctx, env, func(p *AccountProjection) error {
		if err := sameCurrency(p, e.Currency); err != nil {
			return err
		}
		p.BalanceAmount += e.Amount
		return nil
	})
}

func (h *Handler) OnBalanceWithdrawn(ctx context.Context, env events.Envelope, e events.BalanceWithdrawn) error {
	if err := account.ValidateAmount(e.Amount); err != nil {
		return err
	}
	return h.apply(ctx, env, func(p *AccountProjection) error {
		if err := sameCurrency(p, e.Currency); err != nil {
			return err
		}
		if p.BalanceAmount < e.Amount {
			return fmt.Errorf("%w: balance %d, withdrawal %d", account.ErrInsufficientFunds, p.BalanceAmount, e.Amount)
		}
		p.BalanceAmount -= e.Amount
		return nil
	})
}

func (h *Handler) OnContactInfoChanged(ctx context.Context, env events.Envelope, e events.ContactInfoChanged) error {
	return h.apply(ctx, env, func(p *AccountProjection) error {
		p.Email = e.Email
		p.Phone = e.Phone
		return nil
	})
}

func (h *Handler) OnPersonalInfoUpdated(ctx context.Context, env events.Envelope, e events.PersonalInfoUpdated) error {
	return h.apply(ctx, env, func(p *AccountProjection) error {
		p.FirstName = e.FirstName
		p.LastName = e.LastName
		return nil
	})
}

func (h *Handler) apply(ctx context.Context, env events.Envelope, mutate func(*AccountProjection) error) error {
	p, err := h.store.GetByID(ctx, env.AggregateID)
	if errors.Is(err, ErrProjectionNotFound) {
		// Creation has not landed yet; retry once it does.
		return fmt.Errorf("%w: no projection for %s", ErrAheadVersion, env.AggregateID)
	}
	if err != nil {
		return err
	}

	if err := CheckVersion(p.Version, env.Version); err != nil {
		return err
	}
	if err := mutate(&p); err != nil {
		return err
	}

	prior := p.Version
	p.Version = env.Version
	return h.store.UpdateVersioned(ctx, p, prior)
}

func sameCurrency(p *AccountProjection, currency string) error {
	if err := account.ValidateCurrency(currency); err != nil {
		return err
	}
	if p.BalanceCurrency != currency {
		return fmt.Errorf("%w: projection %s, event %s", account.ErrInvalidCurrency, p.BalanceCurrency, currency)
	}
	return nil
}
