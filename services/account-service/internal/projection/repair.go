package projection

import (
	"context"
	"log/slog"

	"github.com/AleksK1NG/account-projections/services/account-service/internal/account"
)

// Repairer re-syncs a projection from the authoritative write model. Invoked
// after a message dead-letters so a skipped event does not leave the read
// model permanently stale.
type Repairer struct {
	accounts *account.Repository
	store    Store
	logger   *slog.Logger
}

func NewRepairer(accounts *account.Repository, store Store, logger *slog.Logger) *Repairer {
	return &Repairer{accounts: accounts, store: store, logger: logger}
}

func (r *Repairer) Repair(ctx context.Context, aggregateID string) error {
	acc, err := r.accounts.GetByID(ctx, aggregateID)
	if err != nil {
		return err
	}
	if err := r.store.Upsert(ctx, FromAccount(acc)); err != nil {
		return err
	}
	r.logger.Info("projection repaired from write model", "account_id", aggregateID, "version", acc.Version)
	return nil
}

// FromAccount maps a write-model account onto its projection row.
func FromAccount(acc account.Account) AccountProjection {
	return AccountProjection{
		AccountID:       acc.ID,
		Email:           acc.Email,
		FirstName:       acc.FirstName,
		LastName:        acc.LastName,
		Phone:           acc.Phone,
		Country:         acc.Country,
		City:            acc.City,
		Status:          acc.Status,
		BalanceAmount:   acc.Balance.Amount,
		BalanceCurrency: acc.Balance.Currency,
		Version:         acc.Version,
	}
}
