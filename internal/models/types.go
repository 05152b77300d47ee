package models

import (
	"time"

	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/shopspring/decimal"
)

// SlotRequest is the payload for holding or confirming a court slot.
type SlotRequest struct {
	CourtID   int64     `json:"court_id" validate:"required,gt=0"`
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required"`
}

// RecurringRequest books the slot on every matching weekday through Until.
type RecurringRequest struct {
	CourtID        int64     `json:"court_id" validate:"required,gt=0"`
	StartTime      time.Time `json:"start_time" validate:"required"`
	EndTime        time.Time `json:"end_time" validate:"required"`
	RecurrenceRule string    `json:"recurrence_rule" validate:"required,max=64"`
	Until          time.Time `json:"until" validate:"required"`
}

type DepositRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"positive_decimal"`
	Description string          `json:"description" validate:"max=255"`
	ProofRef    string          `json:"proof_ref" validate:"max=512"`
}

type JoinTournamentRequest struct {
	TeamName string `json:"team_name" validate:"max=100"`
}

type BalanceResponse struct {
	AccountID  int64           `json:"account_id"`
	Balance    decimal.Decimal `json:"balance"`
	TotalSpent decimal.Decimal `json:"total_spent"`
	Tier       domain.Tier     `json:"tier"`
}

type CancelResponse struct {
	Booking domain.Booking  `json:"booking"`
	Refund  decimal.Decimal `json:"refund"`
}

type RecurringResponse struct {
	Count    int              `json:"count"`
	Total    decimal.Decimal  `json:"total"`
	Bookings []domain.Booking `json:"bookings"`
}

// PartialBatchResponse reports a recurring batch that stopped partway.
type PartialBatchResponse struct {
	Error       string           `json:"error"`
	Kind        string           `json:"kind"`
	FailedIndex int              `json:"failed_index"`
	Charged     decimal.Decimal  `json:"amount_charged"`
	Confirmed   []domain.Booking `json:"confirmed"`
}

type TransactionsResponse struct {
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
	Items    []domain.LedgerEntry `json:"items"`
}

type DepositDecisionResponse struct {
	TransactionID int64              `json:"transaction_id"`
	Status        domain.EntryStatus `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
