package service

import (
	"context"
	"errors"

	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/punchamoorthee/courtledger/internal/store"
	"go.uber.org/zap"
)

type TournamentService struct {
	store  store.Store
	ledger *Ledger
	log    *zap.Logger
}

func NewTournamentService(s store.Store, ledger *Ledger, log *zap.Logger) *TournamentService {
	return &TournamentService{store: s, ledger: ledger, log: named(log, "tournament")}
}

// Enter registers the account and charges the entry fee in one transaction.
// A repeat entry is a conflict and is never charged.
func (t *TournamentService) Enter(ctx context.Context, accountID, tournamentID int64, teamName string) (domain.TournamentEntry, error) {
	const op = "tournament entry"
	entry := domain.TournamentEntry{TournamentID: tournamentID, AccountID: accountID, TeamName: teamName}
	var payment *domain.LedgerEntry

	err := t.store.InTx(ctx, func(tx store.Store) error {
		tour, err := tx.GetTournament(ctx, tournamentID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.E(domain.KindNotFound, op, "tournament not found")
			}
			return err
		}
		if _, err := tx.TournamentEntry(ctx, tournamentID, accountID); err == nil {
			return domain.E(domain.KindConflict, op, "already entered")
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if tour.EntryFee.IsPositive() {
			fee, err := t.ledger.debit(ctx, tx, accountID, tour.EntryFee, domain.EntryPayment,
				"Tournament entry - "+tour.Name, domain.Refs{TournamentID: &tour.ID})
			if err != nil {
				return err
			}
			payment = &fee
			entry.TransactionID = &fee.ID
		} else if _, err := tx.GetAccount(ctx, accountID); err != nil {
			return err
		}

		if err := tx.InsertTournamentEntry(ctx, &entry); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return domain.E(domain.KindConflict, op, "already entered")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.TournamentEntry{}, err
	}

	if payment != nil {
		recordMovement(*payment)
	}
	t.log.Info("tournament entered", zap.Int64("tournament_id", tournamentID), zap.Int64("account_id", accountID))
	return entry, nil
}
