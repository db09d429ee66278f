package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/internal/testutil"
)

func paidOrder(t *testing.T, store OrderStore, artwork *model.Artwork, buyer *model.User) *model.Order {
	t.Helper()
	ctx := context.Background()
	order := testutil.NewOrder(artwork, buyer)
	require.NoError(t, store.CreateOrder(ctx, order))
	_, err := store.MarkPaid(ctx, order.ID, time.Now())
	require.NoError(t, err)
	return order
}

func TestClaim_SingleWinner(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewOrderStore(db)
	jobs := NewMintJobRepository(db)
	ctx := context.Background()
	artwork, buyer := testutil.SeedArtwork(t, db, 2)
	paidOrder(t, store, artwork, buyer)
	paidOrder(t, store, artwork, buyer)

	now := time.Now().Add(time.Second)
	claimed, err := jobs.Claim(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
	for _, j := range claimed {
		assert.Equal(t, model.JobProcessing, j.Status)
		assert.Equal(t, 1, j.Attempts)
	}

	again, err := jobs.Claim(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "processing jobs inside their lease are not handed out twice")
}

func TestClaim_ReclaimsExpiredLease(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewOrderStore(db)
	jobs := NewMintJobRepository(db)
	ctx := context.Background()
	artwork, buyer := testutil.SeedArtwork(t, db, 1)
	paidOrder(t, store, artwork, buyer)

	start := time.Now().Add(time.Second)
	claimed, err := jobs.Claim(ctx, start, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	later, err := jobs.Claim(ctx, start.Add(2*time.Minute), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, 2, later[0].Attempts)
}

func TestRetryAndFail(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewOrderStore(db)
	jobs := NewMintJobRepository(db)
	ctx := context.Background()
	artwork, buyer := testutil.SeedArtwork(t, db, 1)
	order := paidOrder(t, store, artwork, buyer)

	now := time.Now().Add(time.Second)
	claimed, err := jobs.Claim(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, jobs.Retry(ctx, claimed[0].ID, now.Add(time.Minute), "pinning: service_unavailable"))
	none, err := jobs.Claim(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, none, "retry is not due yet")

	due, err := jobs.Claim(ctx, now.Add(2*time.Minute), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, jobs.Fail(ctx, due[0].ID, "retries exhausted"))
	job, err := jobs.GetByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.Status)
	assert.Equal(t, "retries exhausted", job.LastError)

	// re-enqueue reactivates the same row
	require.NoError(t, jobs.Enqueue(ctx, order.ID))
	job, err = jobs.GetByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
}
