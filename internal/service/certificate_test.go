package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/pkg/errs"
)

func withRedisCache(t *testing.T, h *harness) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	h.certs = NewCertificateService(h.store, h.catalog, h.ledger, rdb, time.Minute, "")
	h.minter.cache = h.certs
	return mr
}

func TestCertificateService_CachesCompleteViews(t *testing.T) {
	h := newHarness(t, 1)
	mr := withRedisCache(t, h)
	ctx := context.Background()
	order := h.paidOrder(t)

	_, err := h.certs.GetByOrder(ctx, order.ID)
	assert.True(t, errs.Is(err, errs.NotFound))
	assert.False(t, mr.Exists(cacheKey(order.ID)), "incomplete orders are never cached")

	_, err = h.minter.MintCertificates(ctx, order.ID)
	require.NoError(t, err)

	view, err := h.certs.GetByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, mr.Exists(cacheKey(order.ID)))
	assert.Equal(t, "ipfs://bafyauthenticity-"+order.ID+"1", view.AuthenticityToken.MetadataIPFSURI)
	assert.Equal(t, view.AuthenticityToken.MetadataIPFSURI, view.AuthenticityToken.MetadataURL)
	require.NotNil(t, view.OwnershipToken.Transferable)
	assert.False(t, *view.OwnershipToken.Transferable)

	// served from redis even if the row changes underneath
	require.NoError(t, h.db.Model(&model.Order{}).Where("id = ?", order.ID).Update("reference", "zx_changed").Error)
	cached, err := h.certs.GetByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Reference, cached.Order.Reference)

	h.certs.Invalidate(ctx, order.ID)
	assert.False(t, mr.Exists(cacheKey(order.ID)))
	fresh, err := h.certs.GetByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "zx_changed", fresh.Order.Reference)
}

func TestCertificateService_Unfreeze(t *testing.T) {
	h := newHarness(t, 2)
	mr := withRedisCache(t, h)
	ctx := context.Background()

	pending := h.paidOrder(t)
	_, err := h.certs.Unfreeze(ctx, pending.ID, "")
	assert.True(t, errs.Is(err, errs.InvalidInput))

	order := h.paidOrder(t)
	_, err = h.minter.MintCertificates(ctx, order.ID)
	require.NoError(t, err)
	_, err = h.certs.GetByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, mr.Exists(cacheKey(order.ID)))

	own, err := h.certs.Unfreeze(ctx, order.ID, "")
	require.NoError(t, err)
	assert.True(t, own.Transferable)
	assert.Equal(t, []string{ownTokenID + ":" + h.buyer.LedgerAccountID}, h.ledger.unfrozen)
	assert.False(t, mr.Exists(cacheKey(order.ID)))

	// already transferable: no second ledger call
	_, err = h.certs.Unfreeze(ctx, order.ID, "0.0.999")
	require.NoError(t, err)
	assert.Len(t, h.ledger.unfrozen, 1)

	view, err := h.certs.GetByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, *view.OwnershipToken.Transferable)
}

func TestCertificateService_Status(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	order := h.paidOrder(t)

	st, err := h.certs.Status(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCreated, st.OrderStatus)
	assert.Empty(t, st.AuthenticityTokenID)

	_, err = h.minter.MintCertificates(ctx, order.ID)
	require.NoError(t, err)
	st, err = h.certs.Status(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, st.OrderStatus)
	assert.Equal(t, authTokenID, st.AuthenticityTokenID)
	assert.Equal(t, ownTokenID, st.OwnershipTokenID)
	assert.Equal(t, int64(1), st.OwnershipSerial)

	_, err = h.certs.Status(ctx, "missing")
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1000.00", FormatAmount(100000))
	assert.Equal(t, "0.05", FormatAmount(5))
	assert.Equal(t, "0.00", FormatAmount(0))
}
