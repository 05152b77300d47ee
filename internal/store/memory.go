package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/shopspring/decimal"
)

type memState struct {
	seq               int64
	accounts          map[int64]domain.Account
	courts            map[int64]domain.Court
	bookings          map[int64]domain.Booking
	entries           map[int64]domain.LedgerEntry
	tournaments       map[int64]domain.Tournament
	tournamentEntries map[int64]domain.TournamentEntry
	idempotency       map[idemKey]domain.IdempotencyRecord
}

type idemKey struct {
	accountID int64
	key       string
}

func newMemState() *memState {
	return &memState{
		accounts:          map[int64]domain.Account{},
		courts:            map[int64]domain.Court{},
		bookings:          map[int64]domain.Booking{},
		entries:           map[int64]domain.LedgerEntry{},
		tournaments:       map[int64]domain.Tournament{},
		tournamentEntries: map[int64]domain.TournamentEntry{},
		idempotency:       map[idemKey]domain.IdempotencyRecord{},
	}
}

func (st *memState) clone() *memState {
	out := newMemState()
	out.seq = st.seq
	for k, v := range st.accounts {
		out.accounts[k] = v
	}
	for k, v := range st.courts {
		out.courts[k] = v
	}
	for k, v := range st.bookings {
		out.bookings[k] = v
	}
	for k, v := range st.entries {
		out.entries[k] = v
	}
	for k, v := range st.tournaments {
		out.tournaments[k] = v
	}
	for k, v := range st.tournamentEntries {
		out.tournamentEntries[k] = v
	}
	for k, v := range st.idempotency {
		out.idempotency[k] = v
	}
	return out
}

func (st *memState) nextID() int64 {
	st.seq++
	return st.seq
}

// MemoryStore keeps everything in process. A transaction holds the single
// mutex for its whole duration and restores a snapshot when fn fails.
type MemoryStore struct {
	mu    *sync.Mutex
	state **memState
	inTx  bool
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	st := newMemState()
	return &MemoryStore{mu: &sync.Mutex{}, state: &st, clock: time.Now}
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(Store) error) error {
	if m.inTx {
		return fn(m)
	}
	if err := ctx.Err(); err != nil {
		return domain.Wrap(domain.KindTransient, "tx begin", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := (*m.state).clone()
	tx := &MemoryStore{mu: m.mu, state: m.state, inTx: true, clock: m.clock}
	if err := fn(tx); err != nil {
		*m.state = snapshot
		return err
	}
	return nil
}

// with runs f against the live state, locking unless already inside InTx.
func (m *MemoryStore) with(f func(st *memState) error) error {
	if !m.inTx {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	return f(*m.state)
}

func notFound(op string) error {
	return domain.E(domain.KindNotFound, op, "not found")
}

func (m *MemoryStore) CreateAccount(_ context.Context, fullName string, balance decimal.Decimal) (domain.Account, error) {
	var a domain.Account
	err := m.with(func(st *memState) error {
		a = domain.Account{
			ID:         st.nextID(),
			FullName:   fullName,
			Balance:    balance,
			TotalSpent: decimal.Zero,
			Tier:       domain.TierStandard,
			CreatedAt:  m.clock(),
		}
		st.accounts[a.ID] = a
		return nil
	})
	return a, err
}

func (m *MemoryStore) GetAccount(_ context.Context, id int64) (domain.Account, error) {
	var a domain.Account
	err := m.with(func(st *memState) error {
		var ok bool
		if a, ok = st.accounts[id]; !ok {
			return notFound("get account")
		}
		return nil
	})
	return a, err
}

func (m *MemoryStore) LockAccount(ctx context.Context, id int64) (domain.Account, error) {
	return m.GetAccount(ctx, id)
}

func (m *MemoryStore) UpdateAccountFunds(_ context.Context, a domain.Account) error {
	return m.with(func(st *memState) error {
		cur, ok := st.accounts[a.ID]
		if !ok {
			return notFound("update account")
		}
		if a.Balance.IsNegative() || a.TotalSpent.IsNegative() {
			return domain.E(domain.KindInvalid, "update account", "negative funds")
		}
		cur.Balance, cur.TotalSpent, cur.Tier = a.Balance, a.TotalSpent, a.Tier
		st.accounts[a.ID] = cur
		return nil
	})
}

func (m *MemoryStore) CreateCourt(_ context.Context, c domain.Court) (domain.Court, error) {
	err := m.with(func(st *memState) error {
		c.ID = st.nextID()
		st.courts[c.ID] = c
		return nil
	})
	return c, err
}

func (m *MemoryStore) GetCourt(_ context.Context, id int64) (domain.Court, error) {
	var c domain.Court
	err := m.with(func(st *memState) error {
		var ok bool
		if c, ok = st.courts[id]; !ok {
			return notFound("get court")
		}
		return nil
	})
	return c, err
}

func (m *MemoryStore) LockCourt(ctx context.Context, id int64) (domain.Court, error) {
	return m.GetCourt(ctx, id)
}

func (m *MemoryStore) ListCourts(_ context.Context) ([]domain.Court, error) {
	var out []domain.Court
	err := m.with(func(st *memState) error {
		for _, c := range st.courts {
			out = append(out, c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (m *MemoryStore) InsertBooking(_ context.Context, b *domain.Booking) error {
	return m.with(func(st *memState) error {
		if _, ok := st.courts[b.CourtID]; !ok {
			return notFound("insert booking")
		}
		if _, ok := st.accounts[b.AccountID]; !ok {
			return notFound("insert booking")
		}
		b.ID = st.nextID()
		b.CreatedAt = m.clock()
		st.bookings[b.ID] = *b
		return nil
	})
}

func (m *MemoryStore) UpdateBooking(_ context.Context, b domain.Booking) error {
	return m.with(func(st *memState) error {
		cur, ok := st.bookings[b.ID]
		if !ok {
			return notFound("update booking")
		}
		cur.StartTime, cur.EndTime, cur.TotalPrice, cur.Status = b.StartTime, b.EndTime, b.TotalPrice, b.Status
		cur.HoldExpiresAt, cur.TransactionID, cur.ParentBookingID = b.HoldExpiresAt, b.TransactionID, b.ParentBookingID
		st.bookings[b.ID] = cur
		return nil
	})
}

func (m *MemoryStore) LockBooking(_ context.Context, id int64) (domain.Booking, error) {
	var b domain.Booking
	err := m.with(func(st *memState) error {
		var ok bool
		if b, ok = st.bookings[id]; !ok {
			return notFound("lock booking")
		}
		return nil
	})
	return b, err
}

func (m *MemoryStore) filterBookings(keep func(domain.Booking) bool, less func(a, b domain.Booking) bool) ([]domain.Booking, error) {
	var out []domain.Booking
	err := m.with(func(st *memState) error {
		for _, b := range st.bookings {
			if keep(b) {
				out = append(out, b)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, err
}

func byStart(a, b domain.Booking) bool {
	if !a.StartTime.Equal(b.StartTime) {
		return a.StartTime.Before(b.StartTime)
	}
	return a.ID < b.ID
}

func (m *MemoryStore) ConflictingBookings(_ context.Context, courtID, accountID int64, start, end, now time.Time) ([]domain.Booking, error) {
	return m.filterBookings(func(b domain.Booking) bool {
		return b.CourtID == courtID &&
			domain.Overlaps(b.StartTime, b.EndTime, start, end) &&
			b.BlocksFor(accountID, now)
	}, byStart)
}

func (m *MemoryStore) ReusableHold(_ context.Context, accountID, courtID int64, start, end, now time.Time) (domain.Booking, error) {
	holds, err := m.filterBookings(func(b domain.Booking) bool {
		return b.CourtID == courtID && b.AccountID == accountID &&
			b.Status == domain.BookingHolding && !b.HoldExpired(now) &&
			domain.Overlaps(b.StartTime, b.EndTime, start, end)
	}, func(a, b domain.Booking) bool { return a.ID < b.ID })
	if err != nil {
		return domain.Booking{}, err
	}
	if len(holds) == 0 {
		return domain.Booking{}, notFound("reusable hold")
	}
	return holds[0], nil
}

func (m *MemoryStore) ReleaseOwnHolds(_ context.Context, accountID, courtID int64, start, end time.Time, exceptID int64) (int64, error) {
	var n int64
	err := m.with(func(st *memState) error {
		for id, b := range st.bookings {
			if id == exceptID || b.CourtID != courtID || b.AccountID != accountID || b.Status != domain.BookingHolding {
				continue
			}
			if domain.Overlaps(b.StartTime, b.EndTime, start, end) {
				b.Status = domain.BookingCancelled
				b.HoldExpiresAt = nil
				st.bookings[id] = b
				n++
			}
		}
		return nil
	})
	return n, err
}

func (m *MemoryStore) BookingsForCourt(_ context.Context, courtID int64, from, to, now time.Time) ([]domain.Booking, error) {
	return m.filterBookings(func(b domain.Booking) bool {
		return b.CourtID == courtID &&
			!b.StartTime.Before(from) && !b.EndTime.After(to) &&
			b.Occupies(now)
	}, byStart)
}

func (m *MemoryStore) BookingsForAccount(_ context.Context, accountID int64) ([]domain.Booking, error) {
	return m.filterBookings(func(b domain.Booking) bool {
		return b.AccountID == accountID && b.Status != domain.BookingCancelled
	}, func(a, b domain.Booking) bool { return byStart(b, a) })
}

func (m *MemoryStore) ReleaseExpiredHolds(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := m.with(func(st *memState) error {
		for id, b := range st.bookings {
			if b.Status == domain.BookingHolding && b.HoldExpiresAt != nil && b.HoldExpiresAt.Before(now) {
				b.Status = domain.BookingCancelled
				b.HoldExpiresAt = nil
				st.bookings[id] = b
				n++
			}
		}
		return nil
	})
	return n, err
}

func (m *MemoryStore) CompleteFinished(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := m.with(func(st *memState) error {
		for id, b := range st.bookings {
			if b.Status == domain.BookingConfirmed && b.EndTime.Before(now) {
				b.Status = domain.BookingCompleted
				st.bookings[id] = b
				n++
			}
		}
		return nil
	})
	return n, err
}

func (m *MemoryStore) ReleaseStalePayments(_ context.Context, createdBefore time.Time) (int64, error) {
	var n int64
	err := m.with(func(st *memState) error {
		for id, b := range st.bookings {
			if b.Status == domain.BookingPendingPayment && b.TransactionID == nil && b.CreatedAt.Before(createdBefore) {
				b.Status = domain.BookingCancelled
				st.bookings[id] = b
				n++
			}
		}
		return nil
	})
	return n, err
}

func (m *MemoryStore) InsertEntry(_ context.Context, e *domain.LedgerEntry) error {
	return m.with(func(st *memState) error {
		if _, ok := st.accounts[e.AccountID]; !ok {
			return notFound("insert ledger entry")
		}
		e.ID = st.nextID()
		e.CreatedAt = m.clock()
		st.entries[e.ID] = *e
		return nil
	})
}

func (m *MemoryStore) LockEntry(_ context.Context, id int64) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := m.with(func(st *memState) error {
		var ok bool
		if e, ok = st.entries[id]; !ok {
			return notFound("lock ledger entry")
		}
		return nil
	})
	return e, err
}

func (m *MemoryStore) SetEntryStatus(_ context.Context, id int64, status domain.EntryStatus) error {
	return m.with(func(st *memState) error {
		e, ok := st.entries[id]
		if !ok {
			return notFound("set entry status")
		}
		e.Status = status
		st.entries[id] = e
		return nil
	})
}

func (m *MemoryStore) Entries(_ context.Context, accountID int64, limit, offset int) ([]domain.LedgerEntry, error) {
	var all []domain.LedgerEntry
	err := m.with(func(st *memState) error {
		for _, e := range st.entries {
			if e.AccountID == accountID {
				all = append(all, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MemoryStore) CreateTournament(_ context.Context, t domain.Tournament) (domain.Tournament, error) {
	err := m.with(func(st *memState) error {
		t.ID = st.nextID()
		st.tournaments[t.ID] = t
		return nil
	})
	return t, err
}

func (m *MemoryStore) GetTournament(_ context.Context, id int64) (domain.Tournament, error) {
	var t domain.Tournament
	err := m.with(func(st *memState) error {
		var ok bool
		if t, ok = st.tournaments[id]; !ok {
			return notFound("get tournament")
		}
		return nil
	})
	return t, err
}

func (m *MemoryStore) TournamentEntry(_ context.Context, tournamentID, accountID int64) (domain.TournamentEntry, error) {
	var e domain.TournamentEntry
	err := m.with(func(st *memState) error {
		for _, existing := range st.tournamentEntries {
			if existing.TournamentID == tournamentID && existing.AccountID == accountID {
				e = existing
				return nil
			}
		}
		return notFound("tournament entry")
	})
	return e, err
}

func (m *MemoryStore) InsertTournamentEntry(_ context.Context, e *domain.TournamentEntry) error {
	return m.with(func(st *memState) error {
		for _, existing := range st.tournamentEntries {
			if existing.TournamentID == e.TournamentID && existing.AccountID == e.AccountID {
				return domain.E(domain.KindConflict, "insert tournament entry", "already entered")
			}
		}
		e.ID = st.nextID()
		e.CreatedAt = m.clock()
		st.tournamentEntries[e.ID] = *e
		return nil
	})
}

func (m *MemoryStore) ReserveIdempotencyKey(_ context.Context, accountID int64, key, requestHash string) (domain.IdempotencyRecord, bool, error) {
	var (
		rec      domain.IdempotencyRecord
		reserved bool
	)
	err := m.with(func(st *memState) error {
		k := idemKey{accountID, key}
		if existing, ok := st.idempotency[k]; ok {
			rec = existing
			return nil
		}
		rec = domain.IdempotencyRecord{
			AccountID:   accountID,
			Key:         key,
			RequestHash: requestHash,
			Status:      domain.IdempotencyInProgress,
			CreatedAt:   m.clock(),
		}
		st.idempotency[k] = rec
		reserved = true
		return nil
	})
	return rec, reserved, err
}

func (m *MemoryStore) CompleteIdempotencyKey(_ context.Context, accountID int64, key string, status int, body []byte) error {
	return m.with(func(st *memState) error {
		k := idemKey{accountID, key}
		rec, ok := st.idempotency[k]
		if !ok || rec.Status != domain.IdempotencyInProgress {
			return domain.E(domain.KindNotFound, "complete idempotency key", "no reservation in progress")
		}
		rec.Status = domain.IdempotencyCompleted
		rec.ResponseStatus = status
		rec.ResponseBody = append([]byte(nil), body...)
		st.idempotency[k] = rec
		return nil
	})
}

func (m *MemoryStore) ReleaseIdempotencyKey(_ context.Context, accountID int64, key string) error {
	return m.with(func(st *memState) error {
		k := idemKey{accountID, key}
		if rec, ok := st.idempotency[k]; ok && rec.Status == domain.IdempotencyInProgress {
			delete(st.idempotency, k)
		}
		return nil
	})
}
