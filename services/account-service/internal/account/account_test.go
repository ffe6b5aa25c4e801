package account

import (
	"errors"
	"testing"
)

func TestValidateAmount(t *testing.T) {
	if err := ValidateAmount(1); err != nil {
		t.Fatalf("expected 1 to be valid: %v", err)
	}
	if err := ValidateAmount(0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for 0, got %v", err)
	}
	if err := ValidateAmount(-100); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for -100, got %v", err)
	}
}

func TestValidateCurrency(t *testing.T) {
	for _, cur := range []string{"USD", "EUR", "GBP"} {
		if err := ValidateCurrency(cur); err != nil {
			t.Fatalf("expected %s to be valid: %v", cur, err)
		}
	}
	for _, cur := range []string{"", "US", "usd", "USDT", "U$D"} {
		if err := ValidateCurrency(cur); !errors.Is(err, ErrInvalidCurrency) {
			t.Fatalf("expected %q to be invalid, got %v", cur, err)
		}
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []string{StatusActive, StatusBlocked, StatusClosed} {
		if !ValidStatus(s) {
			t.Fatalf("expected %s to be valid", s)
		}
	}
	if ValidStatus("SUSPENDED") {
		t.Fatal("expected SUSPENDED to be invalid")
	}
}
