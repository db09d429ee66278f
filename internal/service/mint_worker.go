package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/internal/repository"
	"github.com/zeroxmods/certmint/pkg/errs"
	"github.com/zeroxmods/certmint/pkg/logger"
)

// Minter is the part of MintOrchestrator the worker drives.
type Minter interface {
	MintCertificates(ctx context.Context, orderID string) (*MintResult, error)
}

// MintFailureRecorder records a mint the worker gave up on so it shows in the
// failed-mints list.
type MintFailureRecorder interface {
	FailMint(ctx context.Context, orderID, cause string) error
}

// MintWorkerConfig 任务轮询参数
type MintWorkerConfig struct {
	Workers      int
	PollInterval time.Duration
	ClaimLimit   int
	Lease        time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
}

// MintWorker 从 mint_jobs 领取任务并执行铸造（至少一次投递）
type MintWorker struct {
	jobs      repository.MintJobRepository
	orders    MintFailureRecorder
	minter    Minter
	cfg       MintWorkerConfig
	wake      chan struct{}
	queue     chan *model.MintJob
	metricsCh chan time.Duration // job created -> finished
	now       func() time.Time
}

func NewMintWorker(jobs repository.MintJobRepository, orders MintFailureRecorder, minter Minter, cfg MintWorkerConfig) *MintWorker {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = 16
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 15 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	return &MintWorker{
		jobs:      jobs,
		orders:    orders,
		minter:    minter,
		cfg:       cfg,
		wake:      make(chan struct{}, 1),
		queue:     make(chan *model.MintJob, cfg.ClaimLimit),
		metricsCh: make(chan time.Duration, 4096),
		now:       time.Now,
	}
}

func (w *MintWorker) Metrics() <-chan time.Duration { return w.metricsCh }

// Wake triggers a claim round without waiting for the ticker.
func (w *MintWorker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start 启动一个领取协程和若干执行协程；返回停止函数（等待在途任务结束）
func (w *MintWorker) Start() func(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.claimLoop(ctx)
	}()
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-w.queue:
					// 在途铸造不随停止信号中断，租约到期前完成即可
					w.handle(context.WithoutCancel(ctx), job)
				}
			}
		}()
	}
	return func(stopCtx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
}

func (w *MintWorker) claimLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
		jobs, err := w.jobs.Claim(ctx, w.now(), w.cfg.ClaimLimit, w.cfg.Lease)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("claim mint jobs", zap.Error(err))
			}
			continue
		}
		for _, job := range jobs {
			select {
			case w.queue <- job:
			case <-ctx.Done():
				// 已领取未执行的任务在租约过期后会被重新领取
				return
			}
		}
	}
}

// ProcessOnce claims one batch and runs it inline. Used by tests and the bench.
func (w *MintWorker) ProcessOnce(ctx context.Context) (int, error) {
	jobs, err := w.jobs.Claim(ctx, w.now(), w.cfg.ClaimLimit, w.cfg.Lease)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		w.handle(ctx, job)
	}
	return len(jobs), nil
}

func (w *MintWorker) handle(ctx context.Context, job *model.MintJob) {
	_, err := w.minter.MintCertificates(ctx, job.OrderID)
	switch {
	case err == nil:
		if cErr := w.jobs.Complete(ctx, job.ID); cErr != nil {
			logger.Error("complete mint job", zap.String("job_id", job.ID), zap.Error(cErr))
		}
		if !job.CreatedAt.IsZero() {
			select {
			case w.metricsCh <- w.now().Sub(job.CreatedAt):
			default:
			}
		}
	case errs.Is(err, errs.MintInProgress):
		// 另一个执行者（管理员重试）持有锁，稍后再看
		w.retry(ctx, job, w.now().Add(w.cfg.PollInterval), err)
	case errs.Retryable(err) && job.Attempts < w.cfg.MaxAttempts:
		w.retry(ctx, job, w.now().Add(w.cfg.RetryDelay*time.Duration(job.Attempts)), err)
	default:
		if fErr := w.jobs.Fail(ctx, job.ID, err.Error()); fErr != nil {
			logger.Error("fail mint job", zap.String("job_id", job.ID), zap.Error(fErr))
		}
		// 锁或存储层失败时订单还停在 paid/created，这里补记
		if w.orders != nil {
			if fErr := w.orders.FailMint(ctx, job.OrderID, err.Error()); fErr != nil {
				logger.Error("record failed mint", zap.String("order_id", job.OrderID), zap.Error(fErr))
			}
		}
		logger.Warn("mint job gave up",
			zap.String("job_id", job.ID), zap.String("order_id", job.OrderID),
			zap.Int("attempts", job.Attempts), zap.Error(err))
	}
}

func (w *MintWorker) retry(ctx context.Context, job *model.MintJob, at time.Time, cause error) {
	if err := w.jobs.Retry(ctx, job.ID, at, cause.Error()); err != nil {
		logger.Error("requeue mint job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	logger.Info("mint job requeued",
		zap.String("job_id", job.ID), zap.String("order_id", job.OrderID),
		zap.Int("attempts", job.Attempts), zap.Time("next_run_at", at))
}
