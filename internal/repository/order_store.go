package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/pkg/errs"
)

type orderStore struct {
	db *gorm.DB
}

// NewOrderStore 基于 gorm 的订单状态存储
func NewOrderStore(db *gorm.DB) OrderStore {
	return &orderStore{db: db}
}

func (s *orderStore) CreateOrder(ctx context.Context, order *model.Order) error {
	const op = "store.CreateOrder"
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := decrementStock(tx, order.ArtworkID); err != nil {
			return err
		}
		if err := tx.Create(order).Error; err != nil {
			return errs.E(errs.Internal, op, err)
		}
		return nil
	})
}

func (s *orderStore) DecrementAvailableQuantity(ctx context.Context, artworkID string) error {
	return decrementStock(s.db.WithContext(ctx), artworkID)
}

// decrementStock 条件更新保证并发下不超卖
func decrementStock(tx *gorm.DB, artworkID string) error {
	const op = "store.DecrementAvailableQuantity"
	res := tx.Model(&model.Artwork{}).
		Where("id = ? AND available_quantity > 0", artworkID).
		Updates(map[string]any{
			"available_quantity": gorm.Expr("available_quantity - 1"),
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return errs.E(errs.Internal, op, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var n int64
	if err := tx.Model(&model.Artwork{}).Where("id = ?", artworkID).Count(&n).Error; err != nil {
		return errs.E(errs.Internal, op, err)
	}
	if n == 0 {
		return errs.Ef(errs.NotFound, op, "artwork %s", artworkID)
	}
	return errs.Ef(errs.OutOfStock, op, "artwork %s", artworkID)
}

func (s *orderStore) CancelOrder(ctx context.Context, orderID, reason string) error {
	const op = "store.CancelOrder"
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order
		if err := tx.Where("id = ?", orderID).First(&order).Error; err != nil {
			return notFoundOr(op, err)
		}
		res := tx.Model(&model.Order{}).
			Where("id = ? AND payment_status = ? AND order_status = ?", orderID, model.PaymentPending, model.OrderCreated).
			Updates(map[string]any{"order_status": model.OrderFailed, "mint_error": reason, "updated_at": time.Now()})
		if res.Error != nil {
			return errs.E(errs.Internal, op, res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.Ef(errs.InvalidInput, op, "order %s is %s/%s", orderID, order.PaymentStatus, order.OrderStatus)
		}
		return tx.Model(&model.Artwork{}).
			Where("id = ? AND available_quantity < total_quantity", order.ArtworkID).
			Updates(map[string]any{
				"available_quantity": gorm.Expr("available_quantity + 1"),
				"updated_at":         time.Now(),
			}).Error
	})
}

func (s *orderStore) MarkPaid(ctx context.Context, orderID string, paidAt time.Time) (bool, error) {
	const op = "store.MarkPaid"
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Order{}).
			Where("id = ? AND payment_status = ? AND order_status = ?", orderID, model.PaymentPending, model.OrderCreated).
			Updates(map[string]any{"payment_status": model.PaymentPaid, "paid_at": paidAt, "updated_at": time.Now()})
		if res.Error != nil {
			return errs.E(errs.Internal, op, res.Error)
		}
		if res.RowsAffected == 0 {
			var order model.Order
			if err := tx.Where("id = ?", orderID).First(&order).Error; err != nil {
				return notFoundOr(op, err)
			}
			if order.PaymentStatus == model.PaymentPaid {
				return nil
			}
			return errs.Ef(errs.InvalidInput, op, "order %s is %s/%s", orderID, order.PaymentStatus, order.OrderStatus)
		}
		changed = true
		return enqueueMintJob(tx, orderID, time.Now())
	})
	return changed, err
}

func (s *orderStore) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	if err := s.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, notFoundOr("store.GetOrder", err)
	}
	return &order, nil
}

func (s *orderStore) GetOrderByReference(ctx context.Context, reference string) (*model.Order, error) {
	var order model.Order
	if err := s.db.WithContext(ctx).Where("reference = ?", reference).First(&order).Error; err != nil {
		return nil, notFoundOr("store.GetOrderByReference", err)
	}
	return &order, nil
}

func (s *orderStore) BeginMinting(ctx context.Context, orderID string) (*model.Order, error) {
	const op = "store.BeginMinting"
	db := s.db.WithContext(ctx)
	res := db.Model(&model.Order{}).
		Where("id = ? AND payment_status = ? AND order_status <> ?", orderID, model.PaymentPaid, model.OrderCompleted).
		Updates(map[string]any{
			"order_status":  model.OrderProcessing,
			"mint_attempts": gorm.Expr("mint_attempts + 1"),
			"mint_error":    "",
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return nil, errs.E(errs.Internal, op, res.Error)
	}
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && order.OrderStatus != model.OrderCompleted {
		return nil, errs.Ef(errs.InvalidInput, op, "order %s payment is %s", orderID, order.PaymentStatus)
	}
	return order, nil
}

func (s *orderStore) SetMintStep(ctx context.Context, orderID string, step model.MintStep) error {
	err := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{"mint_step": step, "updated_at": time.Now()}).Error
	if err != nil {
		return errs.E(errs.Internal, "store.SetMintStep", err)
	}
	return nil
}

func (s *orderStore) UpsertAuthenticityToken(ctx context.Context, tok *model.AuthenticityToken) (*model.AuthenticityToken, error) {
	const op = "store.UpsertAuthenticityToken"
	if tok.ID == "" {
		tok.ID = uuid.NewString()
	}
	var stored model.AuthenticityToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 唯一约束冲突 = 已铸造，按成功处理
		if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
			Create(tok).Error; err != nil {
			return errs.E(errs.Internal, op, err)
		}
		if err := tx.Where("order_id = ?", tok.OrderID).First(&stored).Error; err != nil {
			return errs.E(errs.Internal, op, err)
		}
		return tx.Model(&model.Order{}).
			Where("id = ? AND mint_step IN ?", tok.OrderID, []model.MintStep{model.StepNone, model.StepAuthPending}).
			Updates(map[string]any{"mint_step": model.StepAuthDone, "updated_at": time.Now()}).Error
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *orderStore) UpsertOwnershipToken(ctx context.Context, tok *model.OwnershipToken) (*model.OwnershipToken, error) {
	const op = "store.UpsertOwnershipToken"
	if tok.ID == "" {
		tok.ID = uuid.NewString()
	}
	if tok.Fractions < 1 {
		tok.Fractions = 1
	}
	var stored model.OwnershipToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
			Create(tok).Error; err != nil {
			return errs.E(errs.Internal, op, err)
		}
		if err := tx.Where("order_id = ?", tok.OrderID).First(&stored).Error; err != nil {
			return errs.E(errs.Internal, op, err)
		}
		return tx.Model(&model.Order{}).
			Where("id = ?", tok.OrderID).
			Updates(map[string]any{"mint_step": model.StepOwnershipDone, "updated_at": time.Now()}).Error
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *orderStore) GetAuthenticityToken(ctx context.Context, orderID string) (*model.AuthenticityToken, error) {
	var tok model.AuthenticityToken
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&tok).Error; err != nil {
		return nil, notFoundOr("store.GetAuthenticityToken", err)
	}
	return &tok, nil
}

func (s *orderStore) GetOwnershipToken(ctx context.Context, orderID string) (*model.OwnershipToken, error) {
	var tok model.OwnershipToken
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&tok).Error; err != nil {
		return nil, notFoundOr("store.GetOwnershipToken", err)
	}
	return &tok, nil
}

func (s *orderStore) SetTransferable(ctx context.Context, orderID string, transferable bool) error {
	const op = "store.SetTransferable"
	res := s.db.WithContext(ctx).Model(&model.OwnershipToken{}).
		Where("order_id = ?", orderID).
		Updates(map[string]any{"transferable": transferable, "updated_at": time.Now()})
	if res.Error != nil {
		return errs.E(errs.Internal, op, res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Ef(errs.NotFound, op, "ownership token for order %s", orderID)
	}
	return nil
}

func (s *orderStore) SetOrderStatus(ctx context.Context, orderID string, status model.OrderStatus) error {
	const op = "store.SetOrderStatus"
	if status == model.OrderCompleted {
		return s.CompleteOrder(ctx, orderID)
	}
	res := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND order_status <> ?", orderID, model.OrderCompleted).
		Updates(map[string]any{"order_status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return errs.E(errs.Internal, op, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetOrder(ctx, orderID); err != nil {
			return err
		}
		return errs.Ef(errs.InvalidInput, op, "order %s already completed", orderID)
	}
	return nil
}

// CompleteOrder completed 当且仅当两枚 token 都已落库
func (s *orderStore) CompleteOrder(ctx context.Context, orderID string) error {
	const op = "store.CompleteOrder"
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var auth, own int64
		if err := tx.Model(&model.AuthenticityToken{}).Where("order_id = ?", orderID).Count(&auth).Error; err != nil {
			return errs.E(errs.Internal, op, err)
		}
		if err := tx.Model(&model.OwnershipToken{}).Where("order_id = ?", orderID).Count(&own).Error; err != nil {
			return errs.E(errs.Internal, op, err)
		}
		if auth != 1 || own != 1 {
			return errs.Ef(errs.InvalidInput, op, "order %s has %d authenticity / %d ownership tokens", orderID, auth, own)
		}
		now := time.Now()
		res := tx.Model(&model.Order{}).
			Where("id = ?", orderID).
			Updates(map[string]any{
				"order_status": model.OrderCompleted,
				"mint_step":    model.StepOwnershipDone,
				"mint_error":   "",
				"completed_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return errs.E(errs.Internal, op, res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.Ef(errs.NotFound, op, "order %s", orderID)
		}
		return nil
	})
}

func (s *orderStore) FailMint(ctx context.Context, orderID, cause string) error {
	err := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND order_status <> ?", orderID, model.OrderCompleted).
		Updates(map[string]any{"order_status": model.OrderFailed, "mint_error": cause, "updated_at": time.Now()}).Error
	if err != nil {
		return errs.E(errs.Internal, "store.FailMint", err)
	}
	return nil
}

func (s *orderStore) ListFailedMints(ctx context.Context, limit int) ([]*model.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var orders []*model.Order
	err := s.db.WithContext(ctx).
		Where("order_status = ? AND payment_status = ?", model.OrderFailed, model.PaymentPaid).
		Order("updated_at DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, errs.E(errs.Internal, "store.ListFailedMints", err)
	}
	return orders, nil
}

func (s *orderStore) RecordWebhookEvent(ctx context.Context, evt *model.WebhookEvent) (bool, error) {
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now()
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(evt)
	if res.Error != nil {
		return false, errs.E(errs.Internal, "store.RecordWebhookEvent", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *orderStore) WebhookEventSeen(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.WebhookEvent{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, errs.E(errs.Internal, "store.WebhookEventSeen", err)
	}
	return n > 0, nil
}

func notFoundOr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.E(errs.NotFound, op, err)
	}
	return errs.E(errs.Internal, op, err)
}
