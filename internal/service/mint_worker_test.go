package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeroxmods/certmint/internal/lock"
	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/pkg/errs"
)

func TestMintWorker_RequeuesRetryableFailure(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	order := h.paidOrder(t)
	h.ledger.failAlways(authTokenID, svcErr(unavailable))

	n, err := h.worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := h.jobs.GetByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.NotEmpty(t, job.LastError)

	// recovered ledger: the next claim finishes the order
	h.ledger.failAlways(authTokenID, nil)
	h.worker.now = func() time.Time { return time.Now().Add(time.Minute) }
	n, err = h.worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, _ = h.jobs.GetByOrderID(ctx, order.ID)
	assert.Equal(t, model.JobDone, job.Status)
	o, _ := h.store.GetOrder(ctx, order.ID)
	assert.Equal(t, model.OrderCompleted, o.OrderStatus)
}

func TestMintWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	order := h.paidOrder(t)
	h.ledger.failAlways(authTokenID, svcErr(unavailable))

	for i := 1; i <= 3; i++ {
		h.worker.now = func() time.Time { return time.Now().Add(time.Duration(i) * time.Hour) }
		n, err := h.worker.ProcessOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n, "round %d", i)
	}

	job, err := h.jobs.GetByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)

	o, _ := h.store.GetOrder(ctx, order.ID)
	assert.Equal(t, model.OrderFailed, o.OrderStatus)
}

func TestMintWorker_PermanentFailureFailsJob(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	order := h.paidOrder(t)
	h.ledger.failNext(authTokenID, svcErr(invalidInput))

	_, err := h.worker.ProcessOnce(ctx)
	require.NoError(t, err)

	job, err := h.jobs.GetByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.Status)
}

func TestMintWorker_LockedOrderIsRequeued(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	order := h.paidOrder(t)
	lease, err := h.locker.Acquire(ctx, order.ID, time.Minute)
	require.NoError(t, err)
	defer lease.Release(ctx)

	_, err = h.worker.ProcessOnce(ctx)
	require.NoError(t, err)

	job, err := h.jobs.GetByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, 0, h.ledger.mintCalls(authTokenID))
}

func TestMintWorker_StartAndWake(t *testing.T) {
	h := newHarness(t, 1)
	h.worker.cfg.PollInterval = time.Hour
	stop := h.worker.Start()
	defer func() { require.NoError(t, stop(context.Background())) }()

	order := h.paidOrder(t)
	h.worker.Wake()

	require.Eventually(t, func() bool {
		o, err := h.store.GetOrder(context.Background(), order.ID)
		return err == nil && o.OrderStatus == model.OrderCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

type unreachableLocker struct{}

func (unreachableLocker) Acquire(context.Context, string, time.Duration) (lock.Lease, error) {
	return nil, errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
}

func TestMintWorker_GiveUpBeforeMintingIsRecordedOnOrder(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	order := h.paidOrder(t)

	h.minter.locker = unreachableLocker{}
	_, err := h.minter.MintCertificates(ctx, order.ID)
	require.True(t, errs.Retryable(err), "lock outage must be retryable, got %v", err)

	for i := 1; i <= 3; i++ {
		h.worker.now = func() time.Time { return time.Now().Add(time.Duration(i) * time.Hour) }
		n, err := h.worker.ProcessOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n, "round %d", i)
	}

	job, err := h.jobs.GetByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.Status)

	o, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFailed, o.OrderStatus)
	assert.Contains(t, o.MintError, "connection refused")
	assert.Equal(t, 0, h.ledger.mintCalls(authTokenID))

	list, err := h.certs.ListFailedMints(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, order.ID, list[0].ID)

	// lock back: an operator retry completes the order
	h.minter.locker = h.locker
	res, err := h.minter.RetryMint(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, res.Order.OrderStatus)
}
