package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/punchamoorthee/courtledger/internal/notify"
	"github.com/punchamoorthee/courtledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BookingService owns the hold/confirm/cancel state machine.
type BookingService struct {
	store  store.Store
	ledger *Ledger
	sink   notify.Sink
	log    *zap.Logger
	opts   options
}

func NewBookingService(s store.Store, ledger *Ledger, sink notify.Sink, log *zap.Logger, opts ...Option) *BookingService {
	if sink == nil {
		sink = notify.Nop()
	}
	return &BookingService{
		store:  s,
		ledger: ledger,
		sink:   sink,
		log:    named(log, "booking"),
		opts:   buildOptions(opts),
	}
}

// Cancellation is the outcome of Cancel.
type Cancellation struct {
	Booking domain.Booking  `json:"booking"`
	Refund  decimal.Decimal `json:"refund"`
}

// checkConflicts fails when any booking still blocking accountID overlaps [start,end).
func checkConflicts(ctx context.Context, tx store.Store, op string, courtID, accountID int64, start, end, now time.Time) error {
	blocking, err := tx.ConflictingBookings(ctx, courtID, accountID, start, end, now)
	if err != nil {
		return err
	}
	if len(blocking) > 0 {
		return domain.E(domain.KindConflict, op,
			fmt.Sprintf("slot overlaps booking %d (%s)", blocking[0].ID, blocking[0].Status))
	}
	return nil
}

func pricedSlot(op string, court domain.Court, start, end time.Time) (decimal.Decimal, error) {
	price := domain.PriceFor(court.PricePerHour, start, end)
	if !price.IsPositive() {
		return price, domain.E(domain.KindInvalidRange, op, "price must be positive")
	}
	return price, nil
}

// reuseOwnHold implements the hold reuse rule: the account's oldest unexpired
// hold on the court overlapping [start,end) is the row to update. Any other
// overlapping holds of the same account are released so one account never
// keeps overlapping rows. found is false when there was no hold to reuse.
func reuseOwnHold(ctx context.Context, tx store.Store, accountID, courtID int64, start, end, now time.Time) (b domain.Booking, found bool, err error) {
	b, err = tx.ReusableHold(ctx, accountID, courtID, start, end, now)
	switch {
	case err == nil:
		found = true
	case errors.Is(err, domain.ErrNotFound):
		b, err = domain.Booking{}, nil
	default:
		return b, false, err
	}
	if _, err = tx.ReleaseOwnHolds(ctx, accountID, courtID, start, end, b.ID); err != nil {
		return b, false, err
	}
	return b, found, nil
}

// Hold reserves [start,end) on the court without payment until the hold TTL elapses.
// Re-holding an overlapping range refreshes the caller's existing hold.
func (s *BookingService) Hold(ctx context.Context, accountID, courtID int64, start, end time.Time) (domain.Booking, error) {
	const op = "hold"
	if err := domain.ValidateRange(op, start, end); err != nil {
		return domain.Booking{}, err
	}
	now := s.opts.now()

	var out domain.Booking
	err := s.store.InTx(ctx, func(tx store.Store) error {
		court, err := lockActiveCourt(ctx, tx, op, courtID)
		if err != nil {
			return err
		}
		price, err := pricedSlot(op, court, start, end)
		if err != nil {
			return err
		}
		if err := checkConflicts(ctx, tx, op, courtID, accountID, start, end, now); err != nil {
			return err
		}

		expires := now.Add(s.opts.holdTTL)
		b, found, err := reuseOwnHold(ctx, tx, accountID, courtID, start, end, now)
		if err != nil {
			return err
		}
		b.StartTime, b.EndTime, b.TotalPrice = start, end, price
		b.HoldExpiresAt = &expires
		if found {
			out = b
			return tx.UpdateBooking(ctx, b)
		}

		b.CourtID, b.AccountID, b.Status = courtID, accountID, domain.BookingHolding
		if err := tx.InsertBooking(ctx, &b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	bookingTransitions.WithLabelValues(string(domain.BookingHolding)).Inc()
	return out, nil
}

// Confirm books and pays for [start,end) in one transaction. A matching live
// hold of the caller is converted in place; otherwise a new booking is created.
// Nothing persists when the debit fails.
func (s *BookingService) Confirm(ctx context.Context, accountID, courtID int64, start, end time.Time) (domain.Booking, error) {
	const op = "confirm"
	if err := domain.ValidateRange(op, start, end); err != nil {
		return domain.Booking{}, err
	}
	now := s.opts.now()

	var (
		out     domain.Booking
		court   domain.Court
		payment domain.LedgerEntry
	)
	err := s.store.InTx(ctx, func(tx store.Store) error {
		var err error
		if court, err = lockActiveCourt(ctx, tx, op, courtID); err != nil {
			return err
		}
		price, err := pricedSlot(op, court, start, end)
		if err != nil {
			return err
		}
		if err := checkConflicts(ctx, tx, op, courtID, accountID, start, end, now); err != nil {
			return err
		}

		b, found, err := reuseOwnHold(ctx, tx, accountID, courtID, start, end, now)
		if err != nil {
			return err
		}
		b.StartTime, b.EndTime, b.TotalPrice = start, end, price
		b.Status = domain.BookingPendingPayment
		b.HoldExpiresAt = nil
		if found {
			err = tx.UpdateBooking(ctx, b)
		} else {
			b.CourtID, b.AccountID = courtID, accountID
			err = tx.InsertBooking(ctx, &b)
		}
		if err != nil {
			return err
		}

		payment, err = s.ledger.debit(ctx, tx, accountID, price, domain.EntryPayment,
			"Court booking - "+court.Name, domain.Refs{BookingID: &b.ID})
		if err != nil {
			return err
		}

		b.Status = domain.BookingConfirmed
		b.TransactionID = &payment.ID
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	recordMovement(payment)
	bookingTransitions.WithLabelValues(string(domain.BookingConfirmed)).Inc()
	notify.Emit(ctx, s.sink, s.log, notify.NewEvent(accountID, notify.BookingConfirmed, map[string]any{
		"booking_id": out.ID,
		"court_id":   out.CourtID,
		"court_name": court.Name,
		"start_time": out.StartTime,
		"end_time":   out.EndTime,
		"price":      out.TotalPrice.String(),
	}))
	return out, nil
}

// Cancel cancels the caller's booking. Holds and unpaid bookings are released
// with no money movement; paid bookings are refunded per domain.RefundFor.
func (s *BookingService) Cancel(ctx context.Context, bookingID, accountID int64) (Cancellation, error) {
	const op = "cancel"
	now := s.opts.now()

	var (
		out    Cancellation
		credit *domain.LedgerEntry
	)
	err := s.store.InTx(ctx, func(tx store.Store) error {
		credit = nil
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.AccountID != accountID {
			return domain.E(domain.KindNotFound, op, "booking not found")
		}
		if b.Status.Terminal() {
			return domain.E(domain.KindState, op, fmt.Sprintf("booking is already %s", b.Status))
		}

		refund := decimal.Zero
		if b.Status == domain.BookingConfirmed && b.TransactionID != nil {
			refund = domain.RefundFor(b.TotalPrice, b.StartTime, now)
			if refund.IsPositive() {
				entry, err := s.ledger.credit(ctx, tx, accountID, refund, domain.EntryRefund,
					fmt.Sprintf("Refund for booking %d", b.ID), domain.Refs{BookingID: &b.ID})
				if err != nil {
					return err
				}
				credit = &entry
			}
		}

		b.Status = domain.BookingCancelled
		b.HoldExpiresAt = nil
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		out = Cancellation{Booking: b, Refund: refund}
		return nil
	})
	if err != nil {
		return Cancellation{}, err
	}

	if credit != nil {
		recordMovement(*credit)
	}
	bookingTransitions.WithLabelValues(string(domain.BookingCancelled)).Inc()
	notify.Emit(ctx, s.sink, s.log, notify.NewEvent(accountID, notify.BookingCancelled, map[string]any{
		"booking_id": out.Booking.ID,
		"court_id":   out.Booking.CourtID,
		"refund":     out.Refund.String(),
	}))
	return out, nil
}

// ListForCourt returns the court's live bookings fully inside [from,to), by start time.
func (s *BookingService) ListForCourt(ctx context.Context, courtID int64, from, to time.Time) ([]domain.Booking, error) {
	if err := domain.ValidateRange("list court bookings", from, to); err != nil {
		return nil, err
	}
	if _, err := s.store.GetCourt(ctx, courtID); err != nil {
		return nil, err
	}
	return s.store.BookingsForCourt(ctx, courtID, from, to, s.opts.now())
}

// ListForAccount returns every non-cancelled booking of the account, newest start first.
func (s *BookingService) ListForAccount(ctx context.Context, accountID int64) ([]domain.Booking, error) {
	return s.store.BookingsForAccount(ctx, accountID)
}

func (s *BookingService) ListCourts(ctx context.Context) ([]domain.Court, error) {
	return s.store.ListCourts(ctx)
}

func (s *BookingService) GetCourt(ctx context.Context, courtID int64) (domain.Court, error) {
	return s.store.GetCourt(ctx, courtID)
}

// ReleaseExpiredHolds cancels every hold that expired before now. Nothing is charged
// or refunded. Safe to run concurrently with Hold and Confirm.
func (s *BookingService) ReleaseExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.ReleaseExpiredHolds(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		bookingTransitions.WithLabelValues(string(domain.BookingCancelled)).Add(float64(n))
	}
	return n, nil
}

// ReleaseStalePayments cancels pending-payment bookings that were never paid
// and are older than the pending TTL, such as occurrences of a recurring batch
// interrupted between reservation and payment.
func (s *BookingService) ReleaseStalePayments(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.ReleaseStalePayments(ctx, now.Add(-s.opts.pendingTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		bookingTransitions.WithLabelValues(string(domain.BookingCancelled)).Add(float64(n))
		s.log.Warn("released unpaid bookings", zap.Int64("count", n))
	}
	return n, nil
}

// CompleteFinished moves confirmed bookings that ended before now to completed.
func (s *BookingService) CompleteFinished(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.CompleteFinished(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		bookingTransitions.WithLabelValues(string(domain.BookingCompleted)).Add(float64(n))
	}
	return n, nil
}
