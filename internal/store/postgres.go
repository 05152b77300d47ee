package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/shopspring/decimal"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pool *pgxpool.Pool
	db   dbtx
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	config.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return NewPostgresStoreFromPool(pool), nil
}

func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InTx runs fn at READ COMMITTED. Serialization of conflicting writers comes
// from the explicit FOR UPDATE row locks taken by the Lock* methods.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return translate("tx begin", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return translate("tx commit", err)
	}
	return nil
}

// translate maps driver errors onto the domain taxonomy.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.E(domain.KindNotFound, op, "not found")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return domain.Wrap(domain.KindConflict, op, err)
		case "23503":
			return domain.Wrap(domain.KindNotFound, op, err)
		case "23514":
			return domain.Wrap(domain.KindInvalid, op, err)
		case "40001", "40P01", "55P03":
			return domain.Wrap(domain.KindTransient, op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return domain.Wrap(domain.KindTransient, op, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return domain.Wrap(domain.KindTransient, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

const accountColumns = "id, full_name, balance, total_spent, tier, created_at"

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.FullName, &a.Balance, &a.TotalSpent, &a.Tier, &a.CreatedAt)
	return a, err
}

func (s *PostgresStore) CreateAccount(ctx context.Context, fullName string, balance decimal.Decimal) (domain.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx,
		"INSERT INTO accounts (full_name, balance) VALUES ($1, $2) RETURNING "+accountColumns,
		fullName, balance))
	return a, translate("create account", err)
}

func (s *PostgresStore) GetAccount(ctx context.Context, id int64) (domain.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
	return a, translate("get account", err)
}

func (s *PostgresStore) LockAccount(ctx context.Context, id int64) (domain.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", id))
	return a, translate("lock account", err)
}

func (s *PostgresStore) UpdateAccountFunds(ctx context.Context, a domain.Account) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE accounts SET balance = $1, total_spent = $2, tier = $3 WHERE id = $4",
		a.Balance, a.TotalSpent, a.Tier, a.ID)
	if err != nil {
		return translate("update account", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.E(domain.KindNotFound, "update account", "not found")
	}
	return nil
}

const courtColumns = "id, name, description, price_per_hour, active"

func scanCourt(row pgx.Row) (domain.Court, error) {
	var c domain.Court
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.PricePerHour, &c.Active)
	return c, err
}

func (s *PostgresStore) CreateCourt(ctx context.Context, c domain.Court) (domain.Court, error) {
	out, err := scanCourt(s.db.QueryRow(ctx,
		"INSERT INTO courts (name, description, price_per_hour, active) VALUES ($1, $2, $3, $4) RETURNING "+courtColumns,
		c.Name, c.Description, c.PricePerHour, c.Active))
	return out, translate("create court", err)
}

func (s *PostgresStore) GetCourt(ctx context.Context, id int64) (domain.Court, error) {
	c, err := scanCourt(s.db.QueryRow(ctx, "SELECT "+courtColumns+" FROM courts WHERE id = $1", id))
	return c, translate("get court", err)
}

func (s *PostgresStore) LockCourt(ctx context.Context, id int64) (domain.Court, error) {
	c, err := scanCourt(s.db.QueryRow(ctx, "SELECT "+courtColumns+" FROM courts WHERE id = $1 FOR UPDATE", id))
	return c, translate("lock court", err)
}

func (s *PostgresStore) ListCourts(ctx context.Context) ([]domain.Court, error) {
	rows, err := s.db.Query(ctx, "SELECT "+courtColumns+" FROM courts ORDER BY active DESC, name, id")
	if err != nil {
		return nil, translate("list courts", err)
	}
	defer rows.Close()

	var courts []domain.Court
	for rows.Next() {
		c, err := scanCourt(rows)
		if err != nil {
			return nil, translate("scan court", err)
		}
		courts = append(courts, c)
	}
	return courts, translate("list courts", rows.Err())
}

const bookingColumns = `id, court_id, account_id, start_time, end_time, total_price, status,
	hold_expires_at, transaction_id, is_recurring, recurrence_rule, parent_booking_id, created_at`

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(&b.ID, &b.CourtID, &b.AccountID, &b.StartTime, &b.EndTime, &b.TotalPrice, &b.Status,
		&b.HoldExpiresAt, &b.TransactionID, &b.IsRecurring, &b.RecurrenceRule, &b.ParentBookingID, &b.CreatedAt)
	return b, err
}

func (s *PostgresStore) queryBookings(ctx context.Context, op, sql string, args ...any) ([]domain.Booking, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, translate(op, err)
		}
		out = append(out, b)
	}
	return out, translate(op, rows.Err())
}

func (s *PostgresStore) InsertBooking(ctx context.Context, b *domain.Booking) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO bookings (court_id, account_id, start_time, end_time, total_price, status,
			hold_expires_at, transaction_id, is_recurring, recurrence_rule, parent_booking_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`,
		b.CourtID, b.AccountID, b.StartTime, b.EndTime, b.TotalPrice, b.Status,
		b.HoldExpiresAt, b.TransactionID, b.IsRecurring, b.RecurrenceRule, b.ParentBookingID,
	).Scan(&b.ID, &b.CreatedAt)
	return translate("insert booking", err)
}

func (s *PostgresStore) UpdateBooking(ctx context.Context, b domain.Booking) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE bookings SET start_time = $1, end_time = $2, total_price = $3, status = $4,
			hold_expires_at = $5, transaction_id = $6, parent_booking_id = $7
		WHERE id = $8`,
		b.StartTime, b.EndTime, b.TotalPrice, b.Status, b.HoldExpiresAt, b.TransactionID, b.ParentBookingID, b.ID)
	if err != nil {
		return translate("update booking", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.E(domain.KindNotFound, "update booking", "not found")
	}
	return nil
}

func (s *PostgresStore) LockBooking(ctx context.Context, id int64) (domain.Booking, error) {
	b, err := scanBooking(s.db.QueryRow(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1 FOR UPDATE", id))
	return b, translate("lock booking", err)
}

func (s *PostgresStore) ConflictingBookings(ctx context.Context, courtID, accountID int64, start, end, now time.Time) ([]domain.Booking, error) {
	return s.queryBookings(ctx, "conflicting bookings",
		`SELECT `+bookingColumns+` FROM bookings
		WHERE court_id = $1
		  AND start_time < $3 AND end_time > $2
		  AND status <> 'cancelled'
		  AND NOT (status = 'holding' AND (account_id = $4 OR hold_expires_at IS NULL OR hold_expires_at <= $5))
		ORDER BY start_time`,
		courtID, start, end, accountID, now)
}

func (s *PostgresStore) ReusableHold(ctx context.Context, accountID, courtID int64, start, end, now time.Time) (domain.Booking, error) {
	b, err := scanBooking(s.db.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		WHERE court_id = $1 AND account_id = $2 AND status = 'holding'
		  AND hold_expires_at > $5
		  AND start_time < $4 AND end_time > $3
		ORDER BY created_at, id
		LIMIT 1
		FOR UPDATE`,
		courtID, accountID, start, end, now))
	return b, translate("reusable hold", err)
}

func (s *PostgresStore) ReleaseOwnHolds(ctx context.Context, accountID, courtID int64, start, end time.Time, exceptID int64) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE bookings SET status = 'cancelled', hold_expires_at = NULL
		WHERE court_id = $1 AND account_id = $2 AND status = 'holding'
		  AND start_time < $4 AND end_time > $3 AND id <> $5`,
		courtID, accountID, start, end, exceptID)
	if err != nil {
		return 0, translate("release own holds", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) BookingsForCourt(ctx context.Context, courtID int64, from, to, now time.Time) ([]domain.Booking, error) {
	return s.queryBookings(ctx, "bookings for court",
		`SELECT `+bookingColumns+` FROM bookings
		WHERE court_id = $1
		  AND start_time >= $2 AND end_time <= $3
		  AND status <> 'cancelled'
		  AND NOT (status = 'holding' AND (hold_expires_at IS NULL OR hold_expires_at <= $4))
		ORDER BY start_time, id`,
		courtID, from, to, now)
}

func (s *PostgresStore) BookingsForAccount(ctx context.Context, accountID int64) ([]domain.Booking, error) {
	return s.queryBookings(ctx, "bookings for account",
		`SELECT `+bookingColumns+` FROM bookings
		WHERE account_id = $1 AND status <> 'cancelled'
		ORDER BY start_time DESC, id DESC`,
		accountID)
}

func (s *PostgresStore) ReleaseExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE bookings SET status = 'cancelled', hold_expires_at = NULL
		WHERE status = 'holding' AND hold_expires_at < $1`, now)
	if err != nil {
		return 0, translate("release expired holds", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CompleteFinished(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		"UPDATE bookings SET status = 'completed' WHERE status = 'confirmed' AND end_time < $1", now)
	if err != nil {
		return 0, translate("complete finished", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ReleaseStalePayments(ctx context.Context, createdBefore time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE bookings SET status = 'cancelled'
		WHERE status = 'pending_payment' AND transaction_id IS NULL AND created_at < $1`, createdBefore)
	if err != nil {
		return 0, translate("release stale payments", err)
	}
	return tag.RowsAffected(), nil
}

const entryColumns = "id, account_id, amount, kind, status, description, proof_ref, booking_id, tournament_id, created_at"

func scanEntry(row pgx.Row) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := row.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Kind, &e.Status, &e.Description, &e.ProofRef,
		&e.BookingID, &e.TournamentID, &e.CreatedAt)
	return e, err
}

func (s *PostgresStore) InsertEntry(ctx context.Context, e *domain.LedgerEntry) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO ledger_entries (account_id, amount, kind, status, description, proof_ref, booking_id, tournament_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		e.AccountID, e.Amount, e.Kind, e.Status, e.Description, e.ProofRef, e.BookingID, e.TournamentID,
	).Scan(&e.ID, &e.CreatedAt)
	return translate("insert ledger entry", err)
}

func (s *PostgresStore) LockEntry(ctx context.Context, id int64) (domain.LedgerEntry, error) {
	e, err := scanEntry(s.db.QueryRow(ctx, "SELECT "+entryColumns+" FROM ledger_entries WHERE id = $1 FOR UPDATE", id))
	return e, translate("lock ledger entry", err)
}

func (s *PostgresStore) SetEntryStatus(ctx context.Context, id int64, status domain.EntryStatus) error {
	tag, err := s.db.Exec(ctx, "UPDATE ledger_entries SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return translate("set entry status", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.E(domain.KindNotFound, "set entry status", "not found")
	}
	return nil
}

func (s *PostgresStore) Entries(ctx context.Context, accountID int64, limit, offset int) ([]domain.LedgerEntry, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
		accountID, limit, offset)
	if err != nil {
		return nil, translate("ledger entries", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, translate("scan ledger entry", err)
		}
		entries = append(entries, e)
	}
	return entries, translate("ledger entries", rows.Err())
}

func (s *PostgresStore) CreateTournament(ctx context.Context, t domain.Tournament) (domain.Tournament, error) {
	err := s.db.QueryRow(ctx,
		"INSERT INTO tournaments (name, entry_fee, start_date) VALUES ($1, $2, $3) RETURNING id",
		t.Name, t.EntryFee, t.StartDate).Scan(&t.ID)
	return t, translate("create tournament", err)
}

func (s *PostgresStore) GetTournament(ctx context.Context, id int64) (domain.Tournament, error) {
	var t domain.Tournament
	err := s.db.QueryRow(ctx, "SELECT id, name, entry_fee, start_date FROM tournaments WHERE id = $1", id).
		Scan(&t.ID, &t.Name, &t.EntryFee, &t.StartDate)
	return t, translate("get tournament", err)
}

func (s *PostgresStore) TournamentEntry(ctx context.Context, tournamentID, accountID int64) (domain.TournamentEntry, error) {
	var e domain.TournamentEntry
	err := s.db.QueryRow(ctx,
		`SELECT id, tournament_id, account_id, team_name, transaction_id, created_at
		FROM tournament_entries WHERE tournament_id = $1 AND account_id = $2`,
		tournamentID, accountID,
	).Scan(&e.ID, &e.TournamentID, &e.AccountID, &e.TeamName, &e.TransactionID, &e.CreatedAt)
	return e, translate("tournament entry", err)
}

func (s *PostgresStore) InsertTournamentEntry(ctx context.Context, e *domain.TournamentEntry) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO tournament_entries (tournament_id, account_id, team_name, transaction_id)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		e.TournamentID, e.AccountID, e.TeamName, e.TransactionID,
	).Scan(&e.ID, &e.CreatedAt)
	return translate("insert tournament entry", err)
}

const idempotencyColumns = "account_id, key, request_hash, status, COALESCE(response_status, 0), response_body, created_at"

func scanIdempotency(row pgx.Row) (domain.IdempotencyRecord, error) {
	var r domain.IdempotencyRecord
	err := row.Scan(&r.AccountID, &r.Key, &r.RequestHash, &r.Status, &r.ResponseStatus, &r.ResponseBody, &r.CreatedAt)
	return r, err
}

func (s *PostgresStore) ReserveIdempotencyKey(ctx context.Context, accountID int64, key, requestHash string) (domain.IdempotencyRecord, bool, error) {
	const op = "reserve idempotency key"
	rec, err := scanIdempotency(s.db.QueryRow(ctx,
		`INSERT INTO idempotency_keys (account_id, key, request_hash, status)
		VALUES ($1, $2, $3, 'in_progress')
		ON CONFLICT (account_id, key) DO NOTHING
		RETURNING `+idempotencyColumns,
		accountID, key, requestHash))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return rec, false, translate(op, err)
	}

	rec, err = scanIdempotency(s.db.QueryRow(ctx,
		"SELECT "+idempotencyColumns+" FROM idempotency_keys WHERE account_id = $1 AND key = $2",
		accountID, key))
	return rec, false, translate(op, err)
}

func (s *PostgresStore) CompleteIdempotencyKey(ctx context.Context, accountID int64, key string, status int, body []byte) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE idempotency_keys SET status = 'completed', response_status = $1, response_body = $2
		WHERE account_id = $3 AND key = $4 AND status = 'in_progress'`,
		status, body, accountID, key)
	if err != nil {
		return translate("complete idempotency key", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.E(domain.KindNotFound, "complete idempotency key", "no reservation in progress")
	}
	return nil
}

func (s *PostgresStore) ReleaseIdempotencyKey(ctx context.Context, accountID int64, key string) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM idempotency_keys WHERE account_id = $1 AND key = $2 AND status = 'in_progress'",
		accountID, key)
	return translate("release idempotency key", err)
}
