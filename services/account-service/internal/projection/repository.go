package projection

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/AleksK1NG/account-projections/libs/db"
)

var (
	ErrProjectionNotFound = errors.New("projection not found")
	ErrVersionConflict    = errors.New("projection version conflict")
)

// AccountProjection is the read-model row for one aggregate: the latest
// applied version plus materialized state. Only the consumption pipeline
// writes it.
type AccountProjection struct {
	AccountID       string    `json:"account_id"`
	Email           string    `json:"email"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Phone           string    `json:"phone"`
	Country         string    `json:"country"`
	City            string    `json:"city"`
	Status          string    `json:"status"`
	BalanceAmount   int64     `json:"balance_amount"`
	BalanceCurrency string    `json:"balance_currency"`
	Version         int64     `json:"version"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store is the projection persistence contract.
type Store interface {
	GetByID(ctx context.Context, accountID string) (AccountProjection, error)
	Upsert(ctx context.Context, p AccountProjection) error
	// UpdateVersioned writes p only if the stored version still equals
	// expected; 0 rows affected means a conflicting write happened.
	UpdateVersioned(ctx context.Context, p AccountProjection, expected int64) error
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetByID(ctx context.Context, accountID string) (AccountProjection, error) {
	var p AccountProjection
	err := r.pool.QueryRow(ctx, `
		SELECT account_id, email, first_name, last_name, phone, country, city, status, balance_amount, balance_currency, version, updated_at
		FROM account_projections
		WHERE account_id = $1
	`, accountID).Scan(&p.AccountID, &p.Email, &p.FirstName, &p.LastName, &p.Phone, &p.Country, &p.City,
		&p.Status, &p.BalanceAmount, &p.BalanceCurrency, &p.Version, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return AccountProjection{}, ErrProjectionNotFound
	}
	if err != nil {
		return AccountProjection{}, err
	}
	return p, nil
}

func (r *Repository) Upsert(ctx context.Context, p AccountProjection) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO account_projections (account_id, email, first_name, last_name, phone, country, city, status, balance_amount, balance_currency, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (account_id) DO UPDATE
		SET email = EXCLUDED.email, first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
		    phone = EXCLUDED.phone, country = EXCLUDED.country, city = EXCLUDED.city, status = EXCLUDED.status,
		    balance_amount = EXCLUDED.balance_amount, balance_currency = EXCLUDED.balance_currency,
		    version = EXCLUDED.version, updated_at = now()
	`, p.AccountID, p.Email, p.FirstName, p.LastName, p.Phone, p.Country, p.City, p.Status,
		p.BalanceAmount, p.BalanceCurrency, p.Version)
	return err
}

func (r *Repository) UpdateVersioned(ctx context.Context, p AccountProjection, expected int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE account_projections
		SET email = $2, first_name = $3, last_name = $4, phone = $5, country = $6, city = $7,
		    status = $8, balance_amount = $9, balance_currency = $10, version = $11, updated_at = now()
		WHERE account_id = $1 AND version = $12
	`, p.AccountID, p.Email, p.FirstName, p.LastName, p.Phone, p.Country, p.City,
		p.Status, p.BalanceAmount, p.BalanceCurrency, p.Version, expected)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}
