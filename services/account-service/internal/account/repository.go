package account

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/AleksK1NG/account-projections/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Save(ctx context.Context, tx pgx.Tx, acc Account) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO accounts (id, email, first_name, last_name, phone, country, city, status, balance_amount, balance_currency, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
	`, acc.ID, acc.Email, acc.FirstName, acc.LastName, acc.Phone, acc.Country, acc.City, acc.Status, acc.Balance.Amount, acc.Balance.Currency, acc.Version)
	return err
}

func (r *Repository) GetByID(ctx context.Context, id string) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, selectAccount+` WHERE id = $1`, id))
}

func (r *Repository) GetByIDTx(ctx context.Context, tx pgx.Tx, id string) (Account, error) {
	return scanAccount(tx.QueryRow(ctx, selectAccount+` WHERE id = $1`, id))
}

// UpdateVersioned applies the mutated account only if the stored version still
// equals expected; otherwise a concurrent writer won and ErrVersionConflict is
// returned.
func (r *Repository) UpdateVersioned(ctx context.Context, tx pgx.Tx, acc Account, expected int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET email = $2, first_name = $3, last_name = $4, phone = $5, country = $6, city = $7,
		    status = $8, balance_amount = $9, balance_currency = $10, version = $11, updated_at = now()
		WHERE id = $1 AND version = $12
	`, acc.ID, acc.Email, acc.FirstName, acc.LastName, acc.Phone, acc.Country, acc.City,
		acc.Status, acc.Balance.Amount, acc.Balance.Currency, acc.Version, expected)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

const selectAccount = `
	SELECT id, email, first_name, last_name, phone, country, city, status, balance_amount, balance_currency, version, created_at, updated_at
	FROM accounts`

func scanAccount(row pgx.Row) (Account, error) {
	var acc Account
	err := row.Scan(&acc.ID, &acc.Email, &acc.FirstName, &acc.LastName, &acc.Phone, &acc.Country, &acc.City,
		&acc.Status, &acc.Balance.Amount, &acc.Balance.Currency, &acc.Version, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}
