package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/internal/testutil"
	"github.com/zeroxmods/certmint/pkg/errs"
)

func TestCreateOrder_DecrementsStock(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewOrderStore(db)
	catalog := NewCatalogRepository(db)
	ctx := context.Background()
	artwork, buyer := testutil.SeedArtwork(t, db, 2)

	require.NoError(t, store.CreateOrder(ctx, testutil.NewOrder(artwork, buyer)))
	require.NoError(t, store.CreateOrder(ctx, testutil.NewOrder(artwork, buyer)))

	err := store.CreateOrder(ctx, testutil.NewOrder(artwork, buyer))
	assert.True(t, errs.Is(err, errs.OutOfStock), "got %v", err)

	got, err := catalog.GetArtwork(ctx, artwork.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableQuantity)

	var orders int64
	require.NoError(t, db.Model(&model.Order{}).Count(&orders).Error)
	assert.Equal(t, int64(2), orders, "rejected checkout must not leave an order row")
}

func TestCreateOrder_UnknownArtwork(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewOrderStore(db)
	artwork, buyer := testutil.SeedArtwork(t, db, 1)
	order := testutil.NewOrder(artwork, buyer)
	order.ArtworkID = uuid.NewString()

	err := store.CreateOrder(context.Background(), order)
	assert.True(t, errs.Is(err, errs.NotFound), "got %v", err)
}

func TestCreateOrder_LastUnitConcurrent(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewOrderStore(db)
	artwork, buyer := testutil.SeedArtwork(t, db, 1)

	const buyers = 8
	var ok, outOfStock atomic.Int32
	var wg sync.WaitGroup
	wg.Add(buyers)
	for i := 0; i < buyers; i++ {
		go func() {
			defer wg.Done()
			err := store.CreateOrder(context.Background(), testutil.NewOrder(artwork, buyer))
			switch {
			case err == nil:
				ok.Add(1)
			case errs.Is(err, errs.OutOfStock):
				outOfStock.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(buyers-1), outOfStock.Load())
}

func TestCancelOrder_RestoresStock(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewOrderStore(db)
	catalog := NewCatalogRepository(db)
	ctx := context.Background()
	artwork, buyer := testutil.SeedArtwork(t, db, 1)
	order := testutil.NewOrder(artwork, buyer)
	require.NoError(t, store.CreateOrder(ctx, order))

	require.NoError(t, store.CancelOrder(ctx, order.ID, "gateway unavailable"))

	got, err := catalog.GetArtwork(ctx, artwork.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableQuantity)

	o, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFailed, o.OrderStatus)
	assert.Equal(t, model.PaymentPending, o.PaymentStatus)

	// a second cancel must not hand out the unit twice
	assert.Error(t, store.CancelOrder(ctx, order.ID, "again"))
	got, _ = catalog.GetArtwork(ctx, artwork.ID)
	assert.Equal(t, 1, got.AvailableQuantity)
}

func TestMarkPaid_EnqueuesJobOnce(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewOrderStore(db)
	jobs := NewMintJobRepository(db)
	ctx := context.Background()
	artwork, buyer := testutil.SeedArtwork(t, db, 1)
	order := testutil.NewOrder(artwork, buyer)
	require.NoError(t, store.CreateOrder(ctx, order))

	changed, err := store.MarkPaid(ctx, order.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.MarkPaid(ctx, order.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	job, err := jobs.GetByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)

	var n int64
	require.NoError(t, db.Model(&model.MintJob{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	_, err = store.MarkPaid(ctx, uuid.NewString(), time.Now())
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestBeginMinting_RequiresPayment(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewOrderStore(db)
	ctx := context.Background()
	artwork, buyer := testutil.SeedArtwork(t, db, 1)
	order := testutil.NewOrder(artwork, buyer)
	require.NoError(t, store.CreateOrder(ctx, order))

	_, err := store.BeginMinting(ctx, order.ID)
	assert.True(t, errs.Is(err, errs.InvalidInput), "got %v", err)

	_, err = store.MarkPaid(ctx, order.ID, time.Now())
	require.NoError(t, err)
	o, err := store.BeginMinting(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderProcessing, o.OrderStatus)
	assert.Equal(t, 1, o.MintAttempts)
}

func TestUpsertTokens_IdempotentAndComplete(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewOrderStore(db)
	ctx := context.Background()
	artwork, buyer := testutil.SeedArtwork(t, db, 1)
	order := testutil.NewOrder(artwork, buyer)
	require.NoError(t, store.CreateOrder(ctx, order))
	_, err := store.MarkPaid(ctx, order.ID, time.Now())
	require.NoError(t, err)
	_, err = store.BeginMinting(ctx, order.ID)
	require.NoError(t, err)

	first, err := store.UpsertAuthenticityToken(ctx, &model.AuthenticityToken{
		OrderID: order.ID, HederaTokenID: "0.0.1001", SerialNumber: 1,
		HederaTxHash: "0.0.2@1700000000.000000001", MetadataIPFSURI: "ipfs://QmAuth1", MintedAt: time.Now(),
	})
	require.NoError(t, err)

	second, err := store.UpsertAuthenticityToken(ctx, &model.AuthenticityToken{
		OrderID: order.ID, HederaTokenID: "0.0.1001", SerialNumber: 2,
		HederaTxHash: "0.0.2@1700000000.000000002", MetadataIPFSURI: "ipfs://QmAuth2", MintedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), second.SerialNumber)

	o, _ := store.GetOrder(ctx, order.ID)
	assert.Equal(t, model.StepAuthDone, o.MintStep)

	// completed requires both tokens
	err = store.CompleteOrder(ctx, order.ID)
	assert.Error(t, err)
	err = store.SetOrderStatus(ctx, order.ID, model.OrderCompleted)
	assert.Error(t, err)

	own, err := store.UpsertOwnershipToken(ctx, &model.OwnershipToken{
		OrderID: order.ID, HederaTokenID: "0.0.1002", SerialNumber: 7,
		HederaTxHash: "0.0.2@1700000001.000000001", MetadataIPFSURI: "ipfs://QmOwn", MintedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, own.Fractions)
	assert.False(t, own.Transferable)

	require.NoError(t, store.CompleteOrder(ctx, order.ID))
	o, _ = store.GetOrder(ctx, order.ID)
	assert.Equal(t, model.OrderCompleted, o.OrderStatus)
	assert.Equal(t, model.StepOwnershipDone, o.MintStep)
	assert.NotNil(t, o.CompletedAt)

	// completed orders are terminal
	require.NoError(t, store.FailMint(ctx, order.ID, "late failure"))
	o, _ = store.GetOrder(ctx, order.ID)
	assert.Equal(t, model.OrderCompleted, o.OrderStatus)
}

func TestListFailedMints(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewOrderStore(db)
	ctx := context.Background()
	artwork, buyer := testutil.SeedArtwork(t, db, 3)

	paid := testutil.NewOrder(artwork, buyer)
	unpaid := testutil.NewOrder(artwork, buyer)
	require.NoError(t, store.CreateOrder(ctx, paid))
	require.NoError(t, store.CreateOrder(ctx, unpaid))
	_, err := store.MarkPaid(ctx, paid.ID, time.Now())
	require.NoError(t, err)

	require.NoError(t, store.FailMint(ctx, paid.ID, "ledger: service_unavailable"))
	require.NoError(t, store.CancelOrder(ctx, unpaid.ID, "gateway unavailable"))

	failed, err := store.ListFailedMints(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, paid.ID, failed[0].ID)
	assert.Equal(t, "ledger: service_unavailable", failed[0].MintError)
}

func TestRecordWebhookEvent_Dedupe(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewOrderStore(db)
	ctx := context.Background()

	first, err := store.RecordWebhookEvent(ctx, &model.WebhookEvent{ID: "charge.success:ref-1", Event: "charge.success", Reference: "ref-1"})
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.RecordWebhookEvent(ctx, &model.WebhookEvent{ID: "charge.success:ref-1", Event: "charge.success", Reference: "ref-1"})
	require.NoError(t, err)
	assert.False(t, again)
}

func TestWebhookEventSeen(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewOrderStore(db)
	ctx := context.Background()

	seen, err := store.WebhookEventSeen(ctx, "charge.success:ref-2")
	require.NoError(t, err)
	assert.False(t, seen)

	_, err = store.RecordWebhookEvent(ctx, &model.WebhookEvent{ID: "charge.success:ref-2", Event: "charge.success", Reference: "ref-2"})
	require.NoError(t, err)

	seen, err = store.WebhookEventSeen(ctx, "charge.success:ref-2")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestDecrementAvailableQuantity_StopsAtZero(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewOrderStore(db)
	artwork, _ := testutil.SeedArtwork(t, db, 2)
	ctx := context.Background()

	require.NoError(t, store.DecrementAvailableQuantity(ctx, artwork.ID))
	require.NoError(t, store.DecrementAvailableQuantity(ctx, artwork.ID))
	err := store.DecrementAvailableQuantity(ctx, artwork.ID)
	assert.True(t, errs.Is(err, errs.OutOfStock), "got %v", err)

	var art model.Artwork
	require.NoError(t, db.First(&art, "id = ?", artwork.ID).Error)
	assert.Equal(t, 0, art.AvailableQuantity)
}
