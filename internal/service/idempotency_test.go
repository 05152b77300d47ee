package service

import (
	"testing"

	"github.com/punchamoorthee/courtledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIdempotency_ReplayAndMismatch(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 0)
	idem := NewIdempotency(f.store, zap.NewNop())
	hash := HashRequest([]byte(`{"court_id":1}`))

	rec, err := idem.Begin(f.ctx, acc.ID, "key-1", hash)
	require.NoError(t, err)
	assert.Nil(t, rec, "first use runs the request")

	_, err = idem.Begin(f.ctx, acc.ID, "key-1", hash)
	assert.ErrorIs(t, err, domain.ErrConflict, "still in progress")

	require.NoError(t, idem.Finish(f.ctx, acc.ID, "key-1", 201, []byte(`{"id":7}`)))

	rec, err = idem.Begin(f.ctx, acc.ID, "key-1", hash)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 201, rec.ResponseStatus)
	assert.JSONEq(t, `{"id":7}`, string(rec.ResponseBody))

	_, err = idem.Begin(f.ctx, acc.ID, "key-1", HashRequest([]byte(`{"court_id":2}`)))
	assert.ErrorIs(t, err, domain.ErrInvalid)

	other := f.account(t, 0)
	rec, err = idem.Begin(f.ctx, other.ID, "key-1", hash)
	require.NoError(t, err)
	assert.Nil(t, rec, "keys are scoped per account")
}

func TestIdempotency_AbandonAllowsRetry(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 0)
	idem := NewIdempotency(f.store, zap.NewNop())
	hash := HashRequest([]byte("body"))

	_, err := idem.Begin(f.ctx, acc.ID, "retry", hash)
	require.NoError(t, err)
	idem.Abandon(f.ctx, acc.ID, "retry")

	rec, err := idem.Begin(f.ctx, acc.ID, "retry", hash)
	require.NoError(t, err)
	assert.Nil(t, rec)

	err = idem.Finish(f.ctx, acc.ID, "missing", 200, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
