package store

import (
	"context"
	"time"

	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Store is the persistence boundary for courts, bookings and the ledger.
// Lock* methods take a row lock that is held until the enclosing InTx returns;
// outside InTx they behave like plain reads. Callers lock court, then booking,
// then account.
type Store interface {
	// InTx runs fn in one unit of work. A non-nil error from fn rolls back every write.
	// Calling InTx on a Store already inside a transaction reuses it.
	InTx(ctx context.Context, fn func(Store) error) error

	CreateAccount(ctx context.Context, fullName string, balance decimal.Decimal) (domain.Account, error)
	GetAccount(ctx context.Context, id int64) (domain.Account, error)
	LockAccount(ctx context.Context, id int64) (domain.Account, error)
	// UpdateAccountFunds writes balance, total spent and tier.
	UpdateAccountFunds(ctx context.Context, a domain.Account) error

	CreateCourt(ctx context.Context, c domain.Court) (domain.Court, error)
	GetCourt(ctx context.Context, id int64) (domain.Court, error)
	LockCourt(ctx context.Context, id int64) (domain.Court, error)
	ListCourts(ctx context.Context) ([]domain.Court, error)

	InsertBooking(ctx context.Context, b *domain.Booking) error
	UpdateBooking(ctx context.Context, b domain.Booking) error
	LockBooking(ctx context.Context, id int64) (domain.Booking, error)
	// ConflictingBookings returns bookings on the court that overlap [start,end)
	// and still block accountID at now.
	ConflictingBookings(ctx context.Context, courtID, accountID int64, start, end, now time.Time) ([]domain.Booking, error)
	// ReusableHold locks the account's oldest unexpired hold on the court overlapping [start,end).
	// Returns a NotFound error when there is none.
	ReusableHold(ctx context.Context, accountID, courtID int64, start, end, now time.Time) (domain.Booking, error)
	// ReleaseOwnHolds cancels the account's other holds on the court overlapping [start,end),
	// leaving exceptID untouched.
	ReleaseOwnHolds(ctx context.Context, accountID, courtID int64, start, end time.Time, exceptID int64) (int64, error)
	BookingsForCourt(ctx context.Context, courtID int64, from, to, now time.Time) ([]domain.Booking, error)
	BookingsForAccount(ctx context.Context, accountID int64) ([]domain.Booking, error)
	// ReleaseExpiredHolds cancels holds whose expiry is before now, as a single compare-and-set.
	ReleaseExpiredHolds(ctx context.Context, now time.Time) (int64, error)
	// CompleteFinished marks confirmed bookings that ended before now as completed.
	CompleteFinished(ctx context.Context, now time.Time) (int64, error)
	// ReleaseStalePayments cancels unpaid pending-payment bookings created before createdBefore.
	ReleaseStalePayments(ctx context.Context, createdBefore time.Time) (int64, error)

	InsertEntry(ctx context.Context, e *domain.LedgerEntry) error
	LockEntry(ctx context.Context, id int64) (domain.LedgerEntry, error)
	SetEntryStatus(ctx context.Context, id int64, status domain.EntryStatus) error
	Entries(ctx context.Context, accountID int64, limit, offset int) ([]domain.LedgerEntry, error)

	CreateTournament(ctx context.Context, t domain.Tournament) (domain.Tournament, error)
	GetTournament(ctx context.Context, id int64) (domain.Tournament, error)
	// TournamentEntry returns the account's entry in the tournament, or a NotFound error.
	TournamentEntry(ctx context.Context, tournamentID, accountID int64) (domain.TournamentEntry, error)
	InsertTournamentEntry(ctx context.Context, e *domain.TournamentEntry) error

	// ReserveIdempotencyKey claims (accountID, key) as in progress. When the key
	// already exists, reserved is false and the stored record is returned instead.
	ReserveIdempotencyKey(ctx context.Context, accountID int64, key, requestHash string) (rec domain.IdempotencyRecord, reserved bool, err error)
	CompleteIdempotencyKey(ctx context.Context, accountID int64, key string, status int, body []byte) error
	// ReleaseIdempotencyKey drops an in-progress reservation so the client may retry.
	ReleaseIdempotencyKey(ctx context.Context, accountID int64, key string) error
}
