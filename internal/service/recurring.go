package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/punchamoorthee/courtledger/internal/notify"
	"github.com/punchamoorthee/courtledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var weekdayTokens = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday,
}

// ParseRecurrenceDays reads rules like "Weekly;Tue,Thu" or "Tue,Thu". When a
// cadence token is present the day list is the second part. Unknown tokens are
// skipped; if nothing parses the result is just fallback.
func ParseRecurrenceDays(rule string, fallback time.Weekday) map[time.Weekday]bool {
	days := map[time.Weekday]bool{}

	var parts []string
	for _, p := range strings.Split(rule, ";") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 0 {
		dayPart := parts[0]
		if len(parts) > 1 {
			dayPart = parts[1]
		}
		for _, tok := range strings.Split(dayPart, ",") {
			if d, ok := weekdayTokens[strings.ToLower(strings.TrimSpace(tok))]; ok {
				days[d] = true
			}
		}
	}

	if len(days) == 0 {
		days[fallback] = true
	}
	return days
}

// Occurrence is one dated slot of a recurring plan.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// ExpandOccurrences lists every date from anchor's date through until's date
// (inclusive, in anchor's location) whose weekday is in days, at anchor's time of day.
func ExpandOccurrences(anchor time.Time, duration time.Duration, days map[time.Weekday]bool, until time.Time) []Occurrence {
	loc := anchor.Location()
	y, m, d := anchor.Date()
	first := time.Date(y, m, d, 0, 0, 0, 0, loc)
	uy, um, ud := until.In(loc).Date()
	last := time.Date(uy, um, ud, 0, 0, 0, 0, loc)

	var out []Occurrence
	for date := first; !date.After(last); date = date.AddDate(0, 0, 1) {
		if !days[date.Weekday()] {
			continue
		}
		start := time.Date(date.Year(), date.Month(), date.Day(),
			anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), loc)
		out = append(out, Occurrence{Start: start, End: start.Add(duration)})
	}
	return out
}

type PlanRequest struct {
	AccountID   int64
	CourtID     int64
	AnchorStart time.Time
	Duration    time.Duration
	Rule        string
	Until       time.Time
}

// Planner books a recurring series: all slots are reserved in one transaction,
// then each is paid in its own transaction.
type Planner struct {
	store  store.Store
	ledger *Ledger
	sink   notify.Sink
	log    *zap.Logger
	opts   options
}

func NewPlanner(s store.Store, ledger *Ledger, sink notify.Sink, log *zap.Logger, opts ...Option) *Planner {
	if sink == nil {
		sink = notify.Nop()
	}
	return &Planner{store: s, ledger: ledger, sink: sink, log: named(log, "recurring"), opts: buildOptions(opts)}
}

// Plan expands and books the series. It writes nothing when the duration is not
// positive, until precedes the anchor date, no date matches, the court is
// unavailable, any slot conflicts, or the balance cannot cover the total.
//
// Once reserved, occurrences are paid in order. If a payment fails, paid
// occurrences stay confirmed, the unpaid ones are cancelled, and a
// *domain.PartialBatchError is returned.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) ([]domain.Booking, error) {
	const op = "recurring plan"
	if req.Duration <= 0 {
		return nil, domain.E(domain.KindInvalidRange, op, "duration must be positive")
	}
	ay, am, ad := req.AnchorStart.Date()
	uy, um, ud := req.Until.In(req.AnchorStart.Location()).Date()
	if time.Date(uy, um, ud, 0, 0, 0, 0, time.UTC).Before(time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)) {
		return nil, domain.E(domain.KindInvalidRange, op, "until date is before the anchor date")
	}

	days := ParseRecurrenceDays(req.Rule, req.AnchorStart.Weekday())
	occurrences := ExpandOccurrences(req.AnchorStart, req.Duration, days, req.Until)
	if len(occurrences) == 0 {
		return nil, domain.E(domain.KindInvalidRange, op, "rule yields no occurrences")
	}
	for i := 1; i < len(occurrences); i++ {
		if occurrences[i].Start.Before(occurrences[i-1].End) {
			return nil, domain.E(domain.KindInvalidRange, op, "occurrences overlap each other")
		}
	}

	court, reserved, err := p.reserve(ctx, op, req, occurrences)
	if err != nil {
		return nil, err
	}
	return p.settle(ctx, req, court, reserved)
}

// reserve checks every slot and the total cost, then inserts all occurrences as
// pending payment, under the court lock.
func (p *Planner) reserve(ctx context.Context, op string, req PlanRequest, occurrences []Occurrence) (domain.Court, []domain.Booking, error) {
	now := p.opts.now()
	var (
		court    domain.Court
		reserved []domain.Booking
		released int64
	)

	err := p.store.InTx(ctx, func(tx store.Store) error {
		reserved, released = reserved[:0], 0
		var err error
		if court, err = lockActiveCourt(ctx, tx, op, req.CourtID); err != nil {
			return err
		}

		total := decimal.Zero
		prices := make([]decimal.Decimal, len(occurrences))
		for i, o := range occurrences {
			if prices[i], err = pricedSlot(op, court, o.Start, o.End); err != nil {
				return err
			}
			if err := checkConflicts(ctx, tx, fmt.Sprintf("%s occurrence %d", op, i), req.CourtID, req.AccountID, o.Start, o.End, now); err != nil {
				return err
			}
			total = total.Add(prices[i])
		}

		acc, err := tx.GetAccount(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if acc.Balance.LessThan(total) {
			return domain.E(domain.KindInsufficientFunds, op,
				fmt.Sprintf("balance %s is below series total %s", acc.Balance.String(), total.String()))
		}

		var parent *int64
		for i, o := range occurrences {
			// the caller's own holds on this slot give way to the series
			n, err := tx.ReleaseOwnHolds(ctx, req.AccountID, req.CourtID, o.Start, o.End, 0)
			if err != nil {
				return err
			}
			released += n

			b := domain.Booking{
				CourtID:         req.CourtID,
				AccountID:       req.AccountID,
				StartTime:       o.Start,
				EndTime:         o.End,
				TotalPrice:      prices[i],
				Status:          domain.BookingPendingPayment,
				IsRecurring:     true,
				RecurrenceRule:  req.Rule,
				ParentBookingID: parent,
			}
			if err := tx.InsertBooking(ctx, &b); err != nil {
				return err
			}
			if parent == nil {
				id := b.ID
				parent = &id
			}
			reserved = append(reserved, b)
		}
		return nil
	})
	if err != nil {
		return court, nil, err
	}
	if released > 0 {
		bookingTransitions.WithLabelValues(string(domain.BookingCancelled)).Add(float64(released))
	}
	return court, reserved, nil
}

// settle pays each reserved occurrence in its own transaction. It ignores
// cancellation of ctx: once reserved, every occurrence ends up either confirmed
// or released.
func (p *Planner) settle(ctx context.Context, req PlanRequest, court domain.Court, reserved []domain.Booking) ([]domain.Booking, error) {
	ctx = context.WithoutCancel(ctx)
	charged := decimal.Zero
	confirmed := make([]domain.Booking, 0, len(reserved))

	for i, r := range reserved {
		var (
			paid  domain.Booking
			entry domain.LedgerEntry
		)
		err := p.store.InTx(ctx, func(tx store.Store) error {
			b, err := tx.LockBooking(ctx, r.ID)
			if err != nil {
				return err
			}
			if b.Status != domain.BookingPendingPayment {
				return domain.E(domain.KindState, "recurring settle", fmt.Sprintf("occurrence is %s", b.Status))
			}
			entry, err = p.ledger.debit(ctx, tx, req.AccountID, b.TotalPrice, domain.EntryPayment,
				fmt.Sprintf("Recurring booking - %s (%s)", court.Name, b.StartTime.Format("2006-01-02 15:04")),
				domain.Refs{BookingID: &b.ID})
			if err != nil {
				return err
			}
			b.Status = domain.BookingConfirmed
			b.TransactionID = &entry.ID
			if err := tx.UpdateBooking(ctx, b); err != nil {
				return err
			}
			paid = b
			return nil
		})
		if err != nil {
			released := p.release(ctx, reserved[i:])
			batchOutcomes.WithLabelValues("partial").Inc()
			p.log.Error("recurring batch stopped",
				zap.Int64("account_id", req.AccountID),
				zap.Int64("court_id", req.CourtID),
				zap.Int("failed_index", i),
				zap.Int("confirmed", len(confirmed)),
				zap.Int("released", released),
				zap.String("amount_charged", charged.String()),
				zap.Error(err))
			return confirmed, &domain.PartialBatchError{FailedIndex: i, Confirmed: confirmed, Charged: charged, Err: err}
		}

		recordMovement(entry)
		charged = charged.Add(paid.TotalPrice)
		confirmed = append(confirmed, paid)
		bookingTransitions.WithLabelValues(string(domain.BookingConfirmed)).Inc()
	}

	batchOutcomes.WithLabelValues("complete").Inc()
	ids := make([]int64, len(confirmed))
	for i, b := range confirmed {
		ids[i] = b.ID
	}
	notify.Emit(ctx, p.sink, p.log, notify.NewEvent(req.AccountID, notify.RecurringCreated, map[string]any{
		"court_id":    req.CourtID,
		"count":       len(confirmed),
		"booking_ids": ids,
		"total":       charged.String(),
	}))
	return confirmed, nil
}

// release cancels occurrences still awaiting payment and returns how many it freed.
func (p *Planner) release(ctx context.Context, pending []domain.Booking) int {
	released := 0
	for _, r := range pending {
		err := p.store.InTx(ctx, func(tx store.Store) error {
			b, err := tx.LockBooking(ctx, r.ID)
			if err != nil {
				return err
			}
			if b.Status != domain.BookingPendingPayment {
				return nil
			}
			b.Status = domain.BookingCancelled
			if err := tx.UpdateBooking(ctx, b); err != nil {
				return err
			}
			released++
			return nil
		})
		if err != nil {
			p.log.Error("failed to release unpaid occurrence", zap.Int64("booking_id", r.ID), zap.Error(err))
		}
	}
	return released
}
