package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/punchamoorthee/courtledger/internal/store"
	"go.uber.org/zap"
)

var (
	ErrIdempotencyConflict = domain.E(domain.KindConflict, "idempotency", "request in progress")
	ErrIdempotencyMismatch = domain.E(domain.KindInvalid, "idempotency", "key reuse with mismatched payload")
)

// Idempotency guards keyed requests: the first request with a key runs, later
// ones with the same key and payload replay the stored response.
type Idempotency struct {
	store store.Store
	log   *zap.Logger
}

func NewIdempotency(s store.Store, log *zap.Logger) *Idempotency {
	return &Idempotency{store: s, log: named(log, "idempotency")}
}

// HashRequest fingerprints a request body.
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Begin reserves key for the account. A non-nil record means the request already
// completed and its response should be replayed as is.
func (i *Idempotency) Begin(ctx context.Context, accountID int64, key, requestHash string) (*domain.IdempotencyRecord, error) {
	rec, reserved, err := i.store.ReserveIdempotencyKey(ctx, accountID, key, requestHash)
	if err != nil {
		return nil, err
	}
	if reserved {
		return nil, nil
	}
	if rec.RequestHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	if rec.Status != domain.IdempotencyCompleted {
		return nil, ErrIdempotencyConflict
	}
	return &rec, nil
}

// Finish stores the response for replay.
func (i *Idempotency) Finish(ctx context.Context, accountID int64, key string, status int, body []byte) error {
	return i.store.CompleteIdempotencyKey(ctx, accountID, key, status, body)
}

// Abandon frees the key after a failure that should not be replayed.
func (i *Idempotency) Abandon(ctx context.Context, accountID int64, key string) {
	if err := i.store.ReleaseIdempotencyKey(ctx, accountID, key); err != nil {
		i.log.Warn("failed to release idempotency key", zap.Int64("account_id", accountID), zap.String("key", key), zap.Error(err))
	}
}
