package repository

import (
	"context"
	"time"

	"github.com/zeroxmods/certmint/internal/model"
)

// OrderStore 订单状态存储：订单、两类证书 token、库存扣减。
// 所有状态迁移都是行级原子的（CAS 更新 / order_id 唯一约束）。
type OrderStore interface {
	// CreateOrder 扣减库存并创建订单（同一事务）
	CreateOrder(ctx context.Context, order *model.Order) error

	// DecrementAvailableQuantity 单独扣减一件库存，售罄返回 OutOfStock
	DecrementAvailableQuantity(ctx context.Context, artworkID string) error

	// CancelOrder 取消未支付订单并归还库存
	CancelOrder(ctx context.Context, orderID, reason string) error

	// MarkPaid 标记已支付并写入铸造任务；重复调用返回 false
	MarkPaid(ctx context.Context, orderID string, paidAt time.Time) (bool, error)

	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	GetOrderByReference(ctx context.Context, reference string) (*model.Order, error)

	// BeginMinting 将已支付且未完成的订单置为 processing
	BeginMinting(ctx context.Context, orderID string) (*model.Order, error)

	// SetMintStep 写入 *_pending 检查点
	SetMintStep(ctx context.Context, orderID string, step model.MintStep) error

	// UpsertAuthenticityToken 按 order_id 幂等写入，返回库中的那一行
	UpsertAuthenticityToken(ctx context.Context, tok *model.AuthenticityToken) (*model.AuthenticityToken, error)
	UpsertOwnershipToken(ctx context.Context, tok *model.OwnershipToken) (*model.OwnershipToken, error)
	GetAuthenticityToken(ctx context.Context, orderID string) (*model.AuthenticityToken, error)
	GetOwnershipToken(ctx context.Context, orderID string) (*model.OwnershipToken, error)
	SetTransferable(ctx context.Context, orderID string, transferable bool) error

	// SetOrderStatus 通用状态写入；completed 会校验两枚 token 均存在
	SetOrderStatus(ctx context.Context, orderID string, status model.OrderStatus) error
	CompleteOrder(ctx context.Context, orderID string) error
	FailMint(ctx context.Context, orderID, cause string) error

	// ListFailedMints 已支付但铸造失败的订单（运维面板）
	ListFailedMints(ctx context.Context, limit int) ([]*model.Order, error)

	// RecordWebhookEvent 首次记录返回 true
	RecordWebhookEvent(ctx context.Context, evt *model.WebhookEvent) (bool, error)
	WebhookEventSeen(ctx context.Context, id string) (bool, error)
}
