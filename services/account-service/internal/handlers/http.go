package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleksK1NG/account-projections/services/account-service/internal/account"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/projection"
)

// AccountHandler is the thin HTTP surface: commands go to the write side,
// reads go to the projection store.
type AccountHandler struct {
	commands    *account.Service
	projections projection.Store
	logger      *slog.Logger
}

func NewAccountHandler(commands *account.Service, projections projection.Store, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{commands: commands, projections: projections, logger: logger}
}

type createAccountRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Country   string `json:"country"`
	City      string `json:"city"`
	Currency  string `json:"currency"`
}

type createAccountResponse struct {
	AccountID string `json:"account_id"`
}

type amountRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
}

type statusRequest struct {
	AccountID string `json:"account_id"`
	Status    string `json:"status"`
}

type contactInfoRequest struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type personalInfoRequest struct {
	AccountID string `json:"account_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	id, err := h.commands.CreateAccount(r.Context(), account.CreateAccountCommand{
		Email:     req.Email,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Country:   strings.TrimSpace(req.Country),
		City:      strings.TrimSpace(req.City),
		Currency:  req.Currency,
	})
	if err != nil {
		h.writeError(w, err, "failed to create account")
		return
	}
	h.writeJSON(w, http.StatusCreated, createAccountResponse{AccountID: id})
}

func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.amountCommand(w, r, h.commands.Deposit, "failed to deposit")
}

func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.amountCommand(w, r, h.commands.Withdraw, "failed to withdraw")
}

func (h *AccountHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		http.Error(w, "account_id is required", http.StatusBadRequest)
		return
	}

	if err := h.commands.ChangeStatus(r.Context(), req.AccountID, strings.ToUpper(strings.TrimSpace(req.Status))); err != nil {
		h.writeError(w, err, "failed to change status")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *AccountHandler) ChangeContactInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req contactInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" || strings.TrimSpace(req.Email) == "" {
		http.Error(w, "account_id and email are required", http.StatusBadRequest)
		return
	}

	if err := h.commands.ChangeContactInfo(r.Context(), req.AccountID, strings.TrimSpace(req.Email), strings.TrimSpace(req.Phone)); err != nil {
		h.writeError(w, err, "failed to change contact info")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *AccountHandler) UpdatePersonalInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req personalInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		http.Error(w, "account_id is required", http.StatusBadRequest)
		return
	}

	if err := h.commands.UpdatePersonalInfo(r.Context(), req.AccountID, strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName)); err != nil {
		h.writeError(w, err, "failed to update personal info")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	p, err := h.projections.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, projection.ErrProjectionNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		h.logger.Error("projection read failed", "err", err, "account_id", id)
		http.Error(w, "failed to load account", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *AccountHandler) amountCommand(w http.ResponseWriter, r *http.Request, cmd func(ctx context.Context, accountID string, amount int64) error, msg string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		http.Error(w, "account_id is required", http.StatusBadRequest)
		return
	}

	if err := cmd(r.Context(), req.AccountID, req.Amount); err != nil {
		h.writeError(w, err, msg)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *AccountHandler) writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, account.ErrNotFound):
		http.Error(w, "account not found", http.StatusNotFound)
	case errors.Is(err, account.ErrInvalidAmount),
		errors.Is(err, account.ErrInvalidCurrency),
		errors.Is(err, account.ErrInvalidStatus),
		errors.Is(err, account.ErrInsufficientFunds):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, account.ErrVersionConflict):
		http.Error(w, "concurrent update, try again", http.StatusConflict)
	default:
		h.logger.Error(msg, "err", err)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

func (h *AccountHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("response encode failed", "err", err)
	}
}
