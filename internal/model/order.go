package model

import "time"

// PaymentStatus 支付状态
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// OrderStatus 订单（履约）状态
type OrderStatus string

const (
	OrderCreated    OrderStatus = "created"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderFailed     OrderStatus = "failed"
)

// MintStep 铸造检查点，与 token 写入在同一事务内推进
type MintStep string

const (
	StepNone             MintStep = ""
	StepAuthPending      MintStep = "auth_pending"
	StepAuthDone         MintStep = "auth_done"
	StepOwnershipPending MintStep = "ownership_pending"
	StepOwnershipDone    MintStep = "ownership_done"
)

// Order 订单模型
type Order struct {
	ID              string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	BuyerID         string        `json:"buyer_id" gorm:"type:varchar(36);index;not null"`
	ArtworkID       string        `json:"artwork_id" gorm:"type:varchar(36);index;not null"`
	AmountCents     int64         `json:"amount_cents" gorm:"not null"`
	Currency        string        `json:"currency" gorm:"type:varchar(3);not null"`
	PaymentProvider string        `json:"payment_provider" gorm:"type:varchar(16);not null;default:paystack"`
	PaymentStatus   PaymentStatus `json:"payment_status" gorm:"type:varchar(16);index:idx_orders_status,priority:1;not null"`
	OrderStatus     OrderStatus   `json:"order_status" gorm:"type:varchar(16);index:idx_orders_status,priority:2;not null"`
	MintStep        MintStep      `json:"mint_step" gorm:"type:varchar(24);not null;default:''"`
	MintError       string        `json:"mint_error,omitempty" gorm:"type:text"`
	MintAttempts    int           `json:"mint_attempts" gorm:"not null;default:0"`
	Reference       string        `json:"reference" gorm:"type:varchar(64);uniqueIndex;not null"`
	PaidAt          *time.Time    `json:"paid_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// Mintable 已支付且未完成的订单才能进入铸造
func (o *Order) Mintable() bool {
	return o.PaymentStatus == PaymentPaid && o.OrderStatus != OrderCompleted
}

// AuthMinted 真品证书已落库（检查点已越过 auth_done）
func (s MintStep) AuthMinted() bool {
	return s == StepAuthDone || s == StepOwnershipPending || s == StepOwnershipDone
}
