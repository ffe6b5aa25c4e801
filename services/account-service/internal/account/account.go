package account

import (
	"errors"
	"time"
)

const (
	StatusActive  = "ACTIVE"
	StatusBlocked = "BLOCKED"
	StatusClosed  = "CLOSED"
)

// Validation-class errors. These are terminal for a message: retrying does not
// make an invalid amount valid.
var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidCurrency   = errors.New("currency must be a 3-letter ISO code")
	ErrInvalidStatus     = errors.New("invalid account status")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

var (
	ErrNotFound        = errors.New("account not found")
	ErrVersionConflict = errors.New("account version conflict")
)

// Money is an amount in minor units plus an ISO-4217 code.
type Money struct {
	Amount   int64
	Currency string
}

type Account struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Country   string
	City      string
	Status    string
	Balance   Money
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func ValidStatus(status string) bool {
	switch status {
	case StatusActive, StatusBlocked, StatusClosed:
		return true
	default:
		return false
	}
}

func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func ValidateCurrency(currency string) error {
	if len(currency) != 3 {
		return ErrInvalidCurrency
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return ErrInvalidCurrency
		}
	}
	return nil
}
