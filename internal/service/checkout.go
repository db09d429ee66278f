package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/internal/payment"
	"github.com/zeroxmods/certmint/internal/repository"
	"github.com/zeroxmods/certmint/pkg/errs"
	"github.com/zeroxmods/certmint/pkg/logger"
)

const eventChargeSuccess = "charge.success"

// Waker is poked after an order is marked paid so minting starts without
// waiting for the next poll.
type Waker interface {
	Wake()
}

// CheckoutRequest 下单参数
type CheckoutRequest struct {
	ArtworkID string `json:"artworkId" binding:"required"`
	BuyerID   string `json:"buyerId" binding:"required"`
}

// CheckoutResult 下单结果
type CheckoutResult struct {
	OrderID          string `json:"orderId"`
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorizationUrl"`
	AmountCents      int64  `json:"amountCents"`
	Currency         string `json:"currency"`
}

// CheckoutService 支付侧：下单、回调确认、主动核验、测试完成
type CheckoutService struct {
	store   repository.OrderStore
	catalog repository.CatalogRepository
	gateway payment.Gateway
	waker   Waker
	now     func() time.Time
}

func NewCheckoutService(store repository.OrderStore, catalog repository.CatalogRepository, gateway payment.Gateway, waker Waker) *CheckoutService {
	return &CheckoutService{store: store, catalog: catalog, gateway: gateway, waker: waker, now: time.Now}
}

// NewReference 生成支付参考号
func NewReference() string {
	return "zx_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Checkout reserves one unit and opens a hosted payment. When the gateway
// cannot be reached the reservation is released and no payment state changes.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	const op = "checkout.Checkout"
	artwork, err := s.catalog.GetArtwork(ctx, req.ArtworkID)
	if err != nil {
		return nil, err
	}
	buyer, err := s.catalog.GetUser(ctx, req.BuyerID)
	if err != nil {
		return nil, err
	}
	if buyer.Email == "" {
		return nil, errs.Ef(errs.InvalidInput, op, "buyer %s has no email", buyer.ID)
	}

	order := &model.Order{
		ID:              uuid.NewString(),
		BuyerID:         buyer.ID,
		ArtworkID:       artwork.ID,
		AmountCents:     artwork.PriceCents,
		Currency:        artwork.Currency,
		PaymentProvider: "paystack",
		PaymentStatus:   model.PaymentPending,
		OrderStatus:     model.OrderCreated,
		Reference:       NewReference(),
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	init, err := s.gateway.InitializeTransaction(ctx, payment.InitRequest{
		Email:       buyer.Email,
		AmountCents: order.AmountCents,
		Reference:   order.Reference,
		Currency:    order.Currency,
		Metadata: map[string]string{
			"order_id":   order.ID,
			"artwork_id": artwork.ID,
			"buyer_id":   buyer.ID,
		},
	})
	if err != nil {
		if cerr := s.store.CancelOrder(context.WithoutCancel(ctx), order.ID, err.Error()); cerr != nil {
			logger.Error("cancel order after gateway failure", zap.String("order_id", order.ID), zap.Error(cerr))
		}
		logger.Warn("payment initialization failed", zap.String("order_id", order.ID), zap.Error(err))
		return nil, err
	}

	logger.Info("checkout started",
		zap.String("order_id", order.ID),
		zap.String("reference", order.Reference),
		zap.Int64("amount_cents", order.AmountCents),
		zap.String("currency", order.Currency))
	return &CheckoutResult{
		OrderID:          order.ID,
		Reference:        order.Reference,
		AuthorizationURL: init.AuthorizationURL,
		AmountCents:      order.AmountCents,
		Currency:         order.Currency,
	}, nil
}

// HandleWebhook authenticates a gateway notification and confirms payment
// for charge.success. Unknown references and amount mismatches are logged
// and acknowledged without changing state.
func (s *CheckoutService) HandleWebhook(ctx context.Context, signature string, body []byte) error {
	const op = "checkout.HandleWebhook"
	if !s.gateway.VerifyWebhookSignature(signature, body) {
		logger.Warn("webhook signature rejected", zap.Int("body_bytes", len(body)))
		return errs.Ef(errs.SignatureInvalid, op, "bad %s", payment.SignatureHeader)
	}
	var evt payment.WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return errs.E(errs.InvalidInput, op, err)
	}
	if evt.Event != eventChargeSuccess {
		logger.Debug("webhook event ignored", zap.String("event", evt.Event), zap.String("reference", evt.Data.Reference))
		return nil
	}
	if evt.Data.Reference == "" {
		return errs.Ef(errs.InvalidInput, op, "event has no reference")
	}

	// 只有 confirm 成功后才会落库，查到即说明这次投递已经处理过
	eventID := evt.Event + ":" + evt.Data.Reference
	seen, err := s.store.WebhookEventSeen(ctx, eventID)
	if err != nil {
		logger.Warn("lookup webhook delivery", zap.String("reference", evt.Data.Reference), zap.Error(err))
	} else if seen {
		logger.Info("duplicate webhook delivery", zap.String("reference", evt.Data.Reference))
		return nil
	}

	paidAt := evt.Data.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	if err := s.confirm(ctx, evt.Data.Reference, evt.Data.Amount, evt.Data.Currency, paidAt, "webhook"); err != nil {
		return err
	}

	first, err := s.store.RecordWebhookEvent(ctx, &model.WebhookEvent{
		ID:         eventID,
		Event:      evt.Event,
		Reference:  evt.Data.Reference,
		ReceivedAt: s.now(),
	})
	if err != nil {
		logger.Warn("record webhook delivery", zap.String("reference", evt.Data.Reference), zap.Error(err))
	} else if !first {
		logger.Info("duplicate webhook delivery", zap.String("reference", evt.Data.Reference))
	}
	return nil
}

// VerifyPayment 主动向网关核验（回调丢失时的补偿）
func (s *CheckoutService) VerifyPayment(ctx context.Context, reference string) (*model.Order, error) {
	const op = "checkout.VerifyPayment"
	order, err := s.store.GetOrderByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == model.PaymentPaid {
		return order, nil
	}
	tx, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !tx.Succeeded() {
		return nil, errs.Ef(errs.InvalidInput, op, "transaction %s is %s", reference, tx.Status)
	}
	if tx.Amount != order.AmountCents || !strings.EqualFold(tx.Currency, order.Currency) {
		return nil, errs.Ef(errs.InvalidInput, op, "transaction %s settled %d %s, order expects %d %s",
			reference, tx.Amount, tx.Currency, order.AmountCents, order.Currency)
	}
	paidAt := tx.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	if err := s.confirm(ctx, reference, tx.Amount, tx.Currency, paidAt, "verify"); err != nil {
		return nil, err
	}
	return s.store.GetOrderByReference(ctx, reference)
}

// CompleteTestPayment marks an order paid without the gateway. Callers gate
// it behind admin auth and configuration.
func (s *CheckoutService) CompleteTestPayment(ctx context.Context, reference string) (*model.Order, error) {
	order, err := s.store.GetOrderByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if err := s.confirm(ctx, reference, order.AmountCents, order.Currency, s.now(), "test"); err != nil {
		return nil, err
	}
	return s.store.GetOrderByReference(ctx, reference)
}

func (s *CheckoutService) confirm(ctx context.Context, reference string, amount int64, currency string, paidAt time.Time, source string) error {
	order, err := s.store.GetOrderByReference(ctx, reference)
	if errs.Is(err, errs.NotFound) {
		logger.Warn("payment for unknown reference", zap.String("reference", reference), zap.String("source", source))
		return nil
	}
	if err != nil {
		return err
	}
	if amount != order.AmountCents || !strings.EqualFold(currency, order.Currency) {
		logger.Warn("payment amount mismatch",
			zap.String("order_id", order.ID),
			zap.Int64("paid", amount), zap.String("paid_currency", currency),
			zap.Int64("expected", order.AmountCents), zap.String("currency", order.Currency))
		return nil
	}

	changed, err := s.store.MarkPaid(ctx, order.ID, paidAt)
	if errs.Is(err, errs.InvalidInput) {
		// 已取消的订单收到付款，需要人工退款
		logger.Error("payment for cancelled order", zap.String("order_id", order.ID), zap.String("source", source), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	if !changed {
		logger.Debug("order already paid", zap.String("order_id", order.ID), zap.String("source", source))
		return nil
	}
	logger.Info("order paid, mint queued", zap.String("order_id", order.ID), zap.String("source", source))
	if s.waker != nil {
		s.waker.Wake()
	}
	return nil
}
