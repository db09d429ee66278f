package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/pkg/errs"
)

// MintJobRepository 铸造任务队列（持久化，至少一次投递）
type MintJobRepository interface {
	// Enqueue 新建任务，或把已结束的任务重新置为 pending
	Enqueue(ctx context.Context, orderID string) error
	// Claim 领取到期的 pending 任务以及租约过期的 processing 任务
	Claim(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*model.MintJob, error)
	Complete(ctx context.Context, jobID string) error
	Retry(ctx context.Context, jobID string, nextRunAt time.Time, lastErr string) error
	Fail(ctx context.Context, jobID string, lastErr string) error
	GetByOrderID(ctx context.Context, orderID string) (*model.MintJob, error)
}

type mintJobRepository struct{ db *gorm.DB }

func NewMintJobRepository(db *gorm.DB) MintJobRepository { return &mintJobRepository{db: db} }

func enqueueMintJob(tx *gorm.DB, orderID string, now time.Time) error {
	job := &model.MintJob{ID: uuid.NewString(), OrderID: orderID, Status: model.JobPending, NextRunAt: now}
	// 幂等：一单一个任务行，已结束的任务被重新激活
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"status":      model.JobPending,
			"next_run_at": now,
			"attempts":    0,
			"updated_at":  now,
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "mint_jobs.status IN (?, ?)", Vars: []any{model.JobDone, model.JobFailed}},
		}},
	}).Create(job).Error
}

func (r *mintJobRepository) Enqueue(ctx context.Context, orderID string) error {
	if err := enqueueMintJob(r.db.WithContext(ctx), orderID, time.Now()); err != nil {
		return errs.E(errs.Internal, "jobs.Enqueue", err)
	}
	return nil
}

func (r *mintJobRepository) Claim(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*model.MintJob, error) {
	const op = "jobs.Claim"
	if limit <= 0 {
		limit = 16
	}
	db := r.db.WithContext(ctx)
	var candidates []*model.MintJob
	err := db.
		Where("(status = ? AND next_run_at <= ?) OR (status = ? AND locked_at < ?)",
			model.JobPending, now, model.JobProcessing, now.Add(-lease)).
		Order("next_run_at").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, errs.E(errs.Internal, op, err)
	}

	claimed := make([]*model.MintJob, 0, len(candidates))
	for _, job := range candidates {
		// attempts 充当版本号，多个 worker 只有一个能 CAS 成功
		res := db.Model(&model.MintJob{}).
			Where("id = ? AND status = ? AND attempts = ?", job.ID, job.Status, job.Attempts).
			Updates(map[string]any{
				"status":     model.JobProcessing,
				"attempts":   job.Attempts + 1,
				"locked_at":  now,
				"updated_at": now,
			})
		if res.Error != nil {
			return claimed, errs.E(errs.Internal, op, res.Error)
		}
		if res.RowsAffected == 1 {
			job.Status = model.JobProcessing
			job.Attempts++
			lockedAt := now
			job.LockedAt = &lockedAt
			claimed = append(claimed, job)
		}
	}
	return claimed, nil
}

func (r *mintJobRepository) Complete(ctx context.Context, jobID string) error {
	now := time.Now()
	return r.update(ctx, "jobs.Complete", jobID, map[string]any{
		"status": model.JobDone, "processed_at": now, "last_error": "", "updated_at": now,
	})
}

func (r *mintJobRepository) Retry(ctx context.Context, jobID string, nextRunAt time.Time, lastErr string) error {
	return r.update(ctx, "jobs.Retry", jobID, map[string]any{
		"status": model.JobPending, "next_run_at": nextRunAt, "last_error": lastErr, "updated_at": time.Now(),
	})
}

func (r *mintJobRepository) Fail(ctx context.Context, jobID string, lastErr string) error {
	now := time.Now()
	return r.update(ctx, "jobs.Fail", jobID, map[string]any{
		"status": model.JobFailed, "processed_at": now, "last_error": lastErr, "updated_at": now,
	})
}

func (r *mintJobRepository) GetByOrderID(ctx context.Context, orderID string) (*model.MintJob, error) {
	var job model.MintJob
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&job).Error; err != nil {
		return nil, notFoundOr("jobs.GetByOrderID", err)
	}
	return &job, nil
}

func (r *mintJobRepository) update(ctx context.Context, op, jobID string, fields map[string]any) error {
	if err := r.db.WithContext(ctx).Model(&model.MintJob{}).Where("id = ?", jobID).Updates(fields).Error; err != nil {
		return errs.E(errs.Internal, op, err)
	}
	return nil
}
