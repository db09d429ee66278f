package model

import "time"

// JobStatus 铸造任务状态
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// MintJob 铸造任务（与 markPaid 同事务写入的 outbox）
type MintJob struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	OrderID     string    `gorm:"type:varchar(36);uniqueIndex;not null"`
	Status      JobStatus `gorm:"type:varchar(16);index:idx_mint_jobs_claim,priority:1;not null"`
	NextRunAt   time.Time `gorm:"index:idx_mint_jobs_claim,priority:2;not null"`
	Attempts    int       `gorm:"not null;default:0"`
	LockedAt    *time.Time
	LastError   string `gorm:"type:text"`
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (MintJob) TableName() string { return "mint_jobs" }

// WebhookEvent 已处理的支付回调（去重）
type WebhookEvent struct {
	ID         string    `gorm:"primaryKey;type:varchar(128)"`
	Event      string    `gorm:"type:varchar(64);not null"`
	Reference  string    `gorm:"type:varchar(64);index;not null"`
	ReceivedAt time.Time `gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// All 返回需要迁移的全部模型
func All() []any {
	return []any{
		&User{}, &Artwork{}, &Order{},
		&AuthenticityToken{}, &OwnershipToken{},
		&MintJob{}, &WebhookEvent{},
	}
}
