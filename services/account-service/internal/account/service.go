package account

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/AleksK1NG/account-projections/libs/db"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/events"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/outbox"
)

// Service is the command side. Every command mutates the write model and
// appends the matching outbox record in the same transaction, so the state
// change and its event commit or roll back together.
type Service struct {
	pool     *db.Pool
	accounts *Repository
	outbox   *outbox.Repository
	logger   *slog.Logger
}

func NewService(pool *db.Pool, accounts *Repository, outboxRepo *outbox.Repository, logger *slog.Logger) *Service {
	return &Service{pool: pool, accounts: accounts, outbox: outboxRepo, logger: logger}
}

type CreateAccountCommand struct {
	Email     string
	FirstName string
	LastName  string
	Country   string
	City      string
	Currency  string
}

func (s *Service) CreateAccount(ctx context.Context, cmd CreateAccountCommand) (string, error) {
	if err := ValidateCurrency(cmd.Currency); err != nil {
		return "", err
	}

	acc := Account{
		ID:        uuid.NewString(),
		Email:     cmd.Email,
		FirstName: cmd.FirstName,
		LastName:  cmd.LastName,
		Country:   cmd.Country,
		City:      cmd.City,
		Status:    StatusActive,
		Balance:   Money{Amount: 0, Currency: cmd.Currency},
		Version:   0,
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.accounts.Save(ctx, tx, acc); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, events.TypeAccountCreated, acc.ID, acc.Version, events.AccountCreated{
			Email:     acc.Email,
			FirstName: acc.FirstName,
			LastName:  acc.LastName,
			Country:   acc.Country,
			City:      acc.City,
			Currency:  acc.Balance.Currency,
		})
	})
	if err != nil {
		return "", err
	}
	return acc.ID, nil
}

func (s *Service) ChangeStatus(ctx context.Context, accountID, status string) error {
	if !ValidStatus(status) {
		return ErrInvalidStatus
	}
	return s.mutate(ctx, accountID, func(acc *Account) (string, any, error) {
		acc.Status = status
		return events.TypeAccountStatusChanged, events.AccountStatusChanged{Status: status}, nil
	})
}

func (s *Service) Deposit(ctx context.Context, accountID string, amount int64) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	return s.mutate(ctx, accountID, func(acc *Account) (string, any, error) {
		acc.Balance.Amount += amount
		return events.TypeBalanceDeposited, events.BalanceDeposited{Amount: amount, Currency: acc.Balance.Currency}, nil
	})
}

func (s *Service) Withdraw(ctx context.Context, accountID string, amount int64) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	return s.mutate(ctx, accountID, func(acc *Account) (string, any, error) {
		if acc.Balance.Amount < amount {
			return "", nil, ErrInsufficientFunds
		}
		acc.Balance.Amount -= amount
		return events.TypeBalanceWithdrawn, events.BalanceWithdrawn{Amount: amount, Currency: acc.Balance.Currency}, nil
	})
}

func (s *Service) ChangeContactInfo(ctx context.Context, accountID, email, phone string) error {
	return s.mutate(ctx, accountID, func(acc *Account) (string, any, error) {
		acc.Email = email
		acc.Phone = phone
		return events.TypeContactInfoChanged, events.ContactInfoChanged{Email: email, Phone: phone}, nil
	})
}

func (s *Service) UpdatePersonalInfo(ctx context.Context, accountID, firstName, lastName string) error {
	return s.mutate(ctx, accountID, func(acc *Account) (string, any, error) {
		acc.FirstName = firstName
		acc.LastName = lastName
		return events.TypePersonalInfoUpdated, events.PersonalInfoUpdated{FirstName: firstName, LastName: lastName}, nil
	})
}

// mutate loads the account, applies fn, and commits the new state plus the
// produced event under an optimistic version check.
func (s *Service) mutate(ctx context.Context, accountID string, fn func(*Account) (string, any, error)) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		acc, err := s.accounts.GetByIDTx(ctx, tx, accountID)
		if err != nil {
			return err
		}

		prior := acc.Version
		eventType, payload, err := fn(&acc)
		if err != nil {
			return err
		}
		acc.Version = prior + 1

		if err := s.accounts.UpdateVersioned(ctx, tx, acc, prior); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, eventType, acc.ID, acc.Version, payload)
	})
}

func (s *Service) appendEvent(ctx context.Context, tx pgx.Tx, eventType, aggregateID string, version int64, payload any) error {
	env, err := events.NewEnvelope(eventType, aggregateID, version, payload)
	if err != nil {
		return err
	}
	rec, err := outbox.RecordFromEnvelope(env)
	if err != nil {
		return err
	}
	if err := s.outbox.Insert(ctx, tx, rec); err != nil {
		// At-least-once writes: a duplicate event id means the row is
		// already there, which is the state we want.
		if errors.Is(err, outbox.ErrDuplicateEvent) {
			s.logger.Warn("duplicate outbox event ignored", "event_id", env.EventID, "event_type", eventType)
			return nil
		}
		return err
	}
	return nil
}

func (s *Service) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
