package model

import "time"

// User 买家 / 艺术家 / 管理员
type User struct {
	ID              string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name            string    `json:"name" gorm:"type:varchar(128);not null"`
	Email           string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Role            string    `json:"role" gorm:"type:varchar(16);not null;default:buyer"`
	LedgerAccountID string    `json:"ledger_account_id,omitempty" gorm:"type:varchar(32)"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
