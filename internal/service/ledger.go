package service

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/punchamoorthee/courtledger/internal/notify"
	"github.com/punchamoorthee/courtledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Ledger is the only writer of account balances and ledger entries.
type Ledger struct {
	store store.Store
	sink  notify.Sink
	log   *zap.Logger
}

func NewLedger(s store.Store, sink notify.Sink, log *zap.Logger) *Ledger {
	if sink == nil {
		sink = notify.Nop()
	}
	return &Ledger{store: s, sink: sink, log: named(log, "ledger")}
}

func requirePositive(op string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.E(domain.KindInvalid, op, "amount must be positive")
	}
	return nil
}

// RequestDeposit records a pending deposit awaiting approval. The balance is untouched.
func (l *Ledger) RequestDeposit(ctx context.Context, accountID int64, amount decimal.Decimal, description, proofRef string) (domain.LedgerEntry, error) {
	const op = "request deposit"
	if err := requirePositive(op, amount); err != nil {
		return domain.LedgerEntry{}, err
	}

	entry := domain.LedgerEntry{
		AccountID:   accountID,
		Amount:      amount,
		Kind:        domain.EntryDeposit,
		Status:      domain.EntryPending,
		Description: description,
		ProofRef:    proofRef,
	}
	err := l.store.InTx(ctx, func(tx store.Store) error {
		if _, err := tx.GetAccount(ctx, accountID); err != nil {
			return err
		}
		return tx.InsertEntry(ctx, &entry)
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	recordMovement(entry)
	return entry, nil
}

// recordMovement counts a committed ledger entry. Callers invoke it only after
// the transaction that wrote the entry has committed.
func recordMovement(e domain.LedgerEntry) {
	ledgerMovements.WithLabelValues(string(e.Kind), string(e.Status)).Inc()
}

// pendingDeposit loads and locks an entry, checking it is a pending deposit.
func pendingDeposit(ctx context.Context, tx store.Store, op string, id int64) (domain.LedgerEntry, error) {
	entry, err := tx.LockEntry(ctx, id)
	if err != nil {
		return entry, err
	}
	if entry.Kind != domain.EntryDeposit {
		return entry, domain.E(domain.KindState, op, "transaction is not a deposit")
	}
	if entry.Status != domain.EntryPending {
		return entry, domain.E(domain.KindState, op, fmt.Sprintf("deposit is %s", entry.Status))
	}
	return entry, nil
}

// ApproveDeposit completes a pending deposit and credits the account.
// It returns false with a typed error for a missing, non-deposit or non-pending entry.
func (l *Ledger) ApproveDeposit(ctx context.Context, transactionID int64) (bool, error) {
	const op = "approve deposit"
	var entry domain.LedgerEntry
	err := l.store.InTx(ctx, func(tx store.Store) error {
		var err error
		if entry, err = pendingDeposit(ctx, tx, op, transactionID); err != nil {
			return err
		}
		acc, err := tx.LockAccount(ctx, entry.AccountID)
		if err != nil {
			return err
		}
		acc.Balance = acc.Balance.Add(entry.Amount)
		acc.Tier = domain.TierFor(acc.TotalSpent)
		if err := tx.UpdateAccountFunds(ctx, acc); err != nil {
			return err
		}
		return tx.SetEntryStatus(ctx, entry.ID, domain.EntryCompleted)
	})
	if err != nil {
		return false, err
	}

	ledgerMovements.WithLabelValues(string(domain.EntryDeposit), string(domain.EntryCompleted)).Inc()
	l.log.Info("deposit approved", zap.Int64("transaction_id", entry.ID), zap.Int64("account_id", entry.AccountID),
		zap.String("amount", entry.Amount.String()))
	notify.Emit(ctx, l.sink, l.log, notify.NewEvent(entry.AccountID, notify.DepositApproved, map[string]any{
		"transaction_id": entry.ID,
		"amount":         entry.Amount.String(),
	}))
	return true, nil
}

// RejectDeposit marks a pending deposit rejected with no balance effect.
func (l *Ledger) RejectDeposit(ctx context.Context, transactionID int64) (bool, error) {
	const op = "reject deposit"
	var entry domain.LedgerEntry
	err := l.store.InTx(ctx, func(tx store.Store) error {
		var err error
		if entry, err = pendingDeposit(ctx, tx, op, transactionID); err != nil {
			return err
		}
		return tx.SetEntryStatus(ctx, entry.ID, domain.EntryRejected)
	})
	if err != nil {
		return false, err
	}

	ledgerMovements.WithLabelValues(string(domain.EntryDeposit), string(domain.EntryRejected)).Inc()
	notify.Emit(ctx, l.sink, l.log, notify.NewEvent(entry.AccountID, notify.DepositRejected, map[string]any{
		"transaction_id": entry.ID,
		"amount":         entry.Amount.String(),
	}))
	return true, nil
}

// Debit withdraws amount in its own transaction.
func (l *Ledger) Debit(ctx context.Context, accountID int64, amount decimal.Decimal, kind domain.EntryKind, description string, refs domain.Refs) (domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := l.store.InTx(ctx, func(tx store.Store) error {
		var err error
		entry, err = l.debit(ctx, tx, accountID, amount, kind, description, refs)
		return err
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	recordMovement(entry)
	return entry, nil
}

// Credit deposits amount in its own transaction.
func (l *Ledger) Credit(ctx context.Context, accountID int64, amount decimal.Decimal, kind domain.EntryKind, description string, refs domain.Refs) (domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := l.store.InTx(ctx, func(tx store.Store) error {
		var err error
		entry, err = l.credit(ctx, tx, accountID, amount, kind, description, refs)
		return err
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	recordMovement(entry)
	return entry, nil
}

// debit checks and withdraws under the account row lock held by tx. The caller
// records the movement once tx commits.
func (l *Ledger) debit(ctx context.Context, tx store.Store, accountID int64, amount decimal.Decimal, kind domain.EntryKind, description string, refs domain.Refs) (domain.LedgerEntry, error) {
	const op = "debit"
	if err := requirePositive(op, amount); err != nil {
		return domain.LedgerEntry{}, err
	}

	acc, err := tx.LockAccount(ctx, accountID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if acc.Balance.LessThan(amount) {
		return domain.LedgerEntry{}, domain.E(domain.KindInsufficientFunds, op,
			fmt.Sprintf("balance %s is below %s", acc.Balance.String(), amount.String()))
	}

	acc.Balance = acc.Balance.Sub(amount)
	acc.TotalSpent = acc.TotalSpent.Add(amount)
	acc.Tier = domain.TierFor(acc.TotalSpent)
	if err := tx.UpdateAccountFunds(ctx, acc); err != nil {
		return domain.LedgerEntry{}, err
	}

	entry := domain.LedgerEntry{
		AccountID:    accountID,
		Amount:       amount.Neg(),
		Kind:         kind,
		Status:       domain.EntryCompleted,
		Description:  description,
		BookingID:    refs.BookingID,
		TournamentID: refs.TournamentID,
	}
	if err := tx.InsertEntry(ctx, &entry); err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

// credit adds amount under the account row lock held by tx. Refunds also
// reduce total spent, never below zero.
func (l *Ledger) credit(ctx context.Context, tx store.Store, accountID int64, amount decimal.Decimal, kind domain.EntryKind, description string, refs domain.Refs) (domain.LedgerEntry, error) {
	const op = "credit"
	if err := requirePositive(op, amount); err != nil {
		return domain.LedgerEntry{}, err
	}

	acc, err := tx.LockAccount(ctx, accountID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	acc.Balance = acc.Balance.Add(amount)
	if kind == domain.EntryRefund {
		acc.TotalSpent = decimal.Max(acc.TotalSpent.Sub(amount), decimal.Zero)
	}
	acc.Tier = domain.TierFor(acc.TotalSpent)
	if err := tx.UpdateAccountFunds(ctx, acc); err != nil {
		return domain.LedgerEntry{}, err
	}

	entry := domain.LedgerEntry{
		AccountID:    accountID,
		Amount:       amount,
		Kind:         kind,
		Status:       domain.EntryCompleted,
		Description:  description,
		BookingID:    refs.BookingID,
		TournamentID: refs.TournamentID,
	}
	if err := tx.InsertEntry(ctx, &entry); err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

func (l *Ledger) Account(ctx context.Context, accountID int64) (domain.Account, error) {
	return l.store.GetAccount(ctx, accountID)
}

func (l *Ledger) Balance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	acc, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// History returns one page of entries, newest first. Pages start at 1.
func (l *Ledger) History(ctx context.Context, accountID int64, page, pageSize int) ([]domain.LedgerEntry, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if _, err := l.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return l.store.Entries(ctx, accountID, pageSize, (page-1)*pageSize)
}
