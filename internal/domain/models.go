package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HoldTTL is how long an unpaid hold keeps its slot.
const HoldTTL = 5 * time.Minute

// PendingPaymentTTL bounds how long a reserved but unpaid booking blocks its slot.
const PendingPaymentTTL = 15 * time.Minute

type Tier string

const (
	TierStandard Tier = "standard"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierDiamond  Tier = "diamond"
)

type BookingStatus string

const (
	BookingHolding        BookingStatus = "holding"
	BookingPendingPayment BookingStatus = "pending_payment"
	BookingConfirmed      BookingStatus = "confirmed"
	BookingCancelled      BookingStatus = "cancelled"
	BookingCompleted      BookingStatus = "completed"
)

// Terminal reports whether no further transition is allowed.
func (s BookingStatus) Terminal() bool {
	return s == BookingCancelled || s == BookingCompleted
}

type EntryKind string

const (
	EntryDeposit  EntryKind = "deposit"
	EntryWithdraw EntryKind = "withdraw"
	EntryPayment  EntryKind = "payment"
	EntryRefund   EntryKind = "refund"
	EntryReward   EntryKind = "reward"
)

type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryRejected  EntryStatus = "rejected"
	EntryFailed    EntryStatus = "failed"
)

// Account is a member's wallet. Balance, TotalSpent and Tier are written by the ledger only.
type Account struct {
	ID         int64           `json:"id"`
	FullName   string          `json:"full_name"`
	Balance    decimal.Decimal `json:"balance"`
	TotalSpent decimal.Decimal `json:"total_spent"`
	Tier       Tier            `json:"tier"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Court is a bookable resource.
type Court struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	PricePerHour decimal.Decimal `json:"price_per_hour"`
	Active       bool            `json:"active"`
}

// Booking occupies the half-open range [StartTime, EndTime) on a court.
type Booking struct {
	ID              int64           `json:"id"`
	CourtID         int64           `json:"court_id"`
	AccountID       int64           `json:"account_id"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Status          BookingStatus   `json:"status"`
	HoldExpiresAt   *time.Time      `json:"hold_expires_at,omitempty"`
	TransactionID   *int64          `json:"transaction_id,omitempty"`
	IsRecurring     bool            `json:"is_recurring"`
	RecurrenceRule  string          `json:"recurrence_rule,omitempty"`
	ParentBookingID *int64          `json:"parent_booking_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// HoldExpired reports whether a Holding booking has passed its expiry at now.
func (b Booking) HoldExpired(now time.Time) bool {
	return b.Status == BookingHolding && (b.HoldExpiresAt == nil || !b.HoldExpiresAt.After(now))
}

// Occupies reports whether the booking still blocks its range at now.
func (b Booking) Occupies(now time.Time) bool {
	return b.Status != BookingCancelled && !b.HoldExpired(now)
}

// BlocksFor reports whether the booking conflicts with a request by accountID.
// The caller's own holds never block it.
func (b Booking) BlocksFor(accountID int64, now time.Time) bool {
	if b.Status == BookingHolding && b.AccountID == accountID {
		return false
	}
	return b.Occupies(now)
}

// LedgerEntry is an immutable signed movement on an account.
type LedgerEntry struct {
	ID           int64           `json:"id"`
	AccountID    int64           `json:"account_id"`
	Amount       decimal.Decimal `json:"amount"`
	Kind         EntryKind       `json:"kind"`
	Status       EntryStatus     `json:"status"`
	Description  string          `json:"description,omitempty"`
	ProofRef     string          `json:"proof_ref,omitempty"`
	BookingID    *int64          `json:"booking_id,omitempty"`
	TournamentID *int64          `json:"tournament_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Refs are optional back-references recorded on a ledger entry.
type Refs struct {
	BookingID    *int64
	TournamentID *int64
}

type Tournament struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	EntryFee  decimal.Decimal `json:"entry_fee"`
	StartDate time.Time       `json:"start_date"`
}

type TournamentEntry struct {
	ID            int64     `json:"id"`
	TournamentID  int64     `json:"tournament_id"`
	AccountID     int64     `json:"account_id"`
	TeamName      string    `json:"team_name,omitempty"`
	TransactionID *int64    `json:"transaction_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "in_progress"
	IdempotencyCompleted  IdempotencyStatus = "completed"
)

// IdempotencyRecord remembers the response to a keyed request so a retry replays it.
type IdempotencyRecord struct {
	AccountID      int64
	Key            string
	RequestHash    string
	Status         IdempotencyStatus
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
}
