package handler

import (
	"context"
	"time"

	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/internal/service"
)

// PaymentService 支付相关用例
type PaymentService interface {
	Checkout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	HandleWebhook(ctx context.Context, signature string, body []byte) error
	VerifyPayment(ctx context.Context, reference string) (*model.Order, error)
	CompleteTestPayment(ctx context.Context, reference string) (*model.Order, error)
}

// CertificateService 证书查询与管理
type CertificateService interface {
	GetByOrder(ctx context.Context, orderID string) (*service.CertificateView, error)
	ListFailedMints(ctx context.Context, limit int) ([]*model.Order, error)
	Unfreeze(ctx context.Context, orderID, accountID string) (*model.OwnershipToken, error)
}

type Minter interface {
	RetryMint(ctx context.Context, orderID string) (*service.MintResult, error)
}

// MintQueue 超时的重铸交给后台 worker
type MintQueue interface {
	Enqueue(ctx context.Context, orderID string) error
}

// HealthCheck 返回 nil 表示依赖正常
type HealthCheck func(ctx context.Context) error

type Handler struct {
	paymentService     PaymentService
	certificateService CertificateService
	minter             Minter
	checks             map[string]HealthCheck
	queue              MintQueue

	allowTestCompletion bool
	reMintTimeout       time.Duration
}

type Options struct {
	AllowTestCompletion bool
	HealthChecks        map[string]HealthCheck
	Queue               MintQueue
	// ReMintTimeout bounds a synchronous re-mint; keep it below the server write timeout.
	ReMintTimeout time.Duration
}

const defaultReMintTimeout = 45 * time.Second

func New(payments PaymentService, certs CertificateService, minter Minter, opts Options) *Handler {
	if opts.ReMintTimeout <= 0 {
		opts.ReMintTimeout = defaultReMintTimeout
	}
	return &Handler{
		paymentService:      payments,
		certificateService:  certs,
		minter:              minter,
		checks:              opts.HealthChecks,
		queue:               opts.Queue,
		reMintTimeout:       opts.ReMintTimeout,
		allowTestCompletion: opts.AllowTestCompletion,
	}
}
