package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zeroxmods/certmint/internal/ledger"
	"github.com/zeroxmods/certmint/internal/lock"
	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/internal/pinning"
	"github.com/zeroxmods/certmint/internal/repository"
	"github.com/zeroxmods/certmint/pkg/errs"
	"github.com/zeroxmods/certmint/pkg/logger"
)

// RetryPolicy 单步重试参数（指数退避）
type RetryPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxAttempts     uint
	CallTimeout     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 300 * time.Millisecond,
		Multiplier:      2,
		MaxInterval:     5 * time.Second,
		MaxAttempts:     4,
		CallTimeout:     30 * time.Second,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = 0.2
	return b
}

// Collections 两个 NFT 集合的账本 token id
type Collections struct {
	AuthenticityTokenID string
	OwnershipTokenID    string
}

// ErrorReporter receives mint failures that need an operator.
type ErrorReporter interface {
	ReportMintFailure(ctx context.Context, orderID string, err error)
}

// CertificateCache is invalidated whenever an order's certificates change.
type CertificateCache interface {
	Invalidate(ctx context.Context, orderID string)
}

// MintResult 铸造结果
type MintResult struct {
	Order         *model.Order
	Authenticity  *model.AuthenticityToken
	Ownership     *model.OwnershipToken
	AlreadyMinted bool
}

// OrchestratorDeps 编排器依赖
type OrchestratorDeps struct {
	Store       repository.OrderStore
	Catalog     repository.CatalogRepository
	Ledger      ledger.Client
	Pinner      pinning.Client
	Locker      lock.Locker
	Collections Collections
	Policy      RetryPolicy
	LockTTL     time.Duration
	Notifier    Notifier
	Reporter    ErrorReporter
	Cache       CertificateCache
}

// MintOrchestrator drives a paid order through both certificate mints. It
// keeps no state between calls; progress lives in the order's mint step.
type MintOrchestrator struct {
	store    repository.OrderStore
	catalog  repository.CatalogRepository
	ledger   ledger.Client
	pinner   pinning.Client
	locker   lock.Locker
	tokens   Collections
	policy   RetryPolicy
	lockTTL  time.Duration
	notifier Notifier
	reporter ErrorReporter
	cache    CertificateCache
	tracer   trace.Tracer
	now      func() time.Time
}

func NewMintOrchestrator(d OrchestratorDeps) *MintOrchestrator {
	if d.Policy.MaxAttempts == 0 {
		d.Policy = DefaultRetryPolicy()
	}
	if d.Policy.CallTimeout <= 0 {
		d.Policy.CallTimeout = 30 * time.Second
	}
	if d.LockTTL <= 0 {
		d.LockTTL = 10 * time.Minute
	}
	if d.Locker == nil {
		d.Locker = lock.NewMemoryLocker()
	}
	o := &MintOrchestrator{
		store:    d.Store,
		catalog:  d.Catalog,
		ledger:   d.Ledger,
		pinner:   d.Pinner,
		locker:   d.Locker,
		tokens:   d.Collections,
		policy:   d.Policy,
		lockTTL:  d.LockTTL,
		notifier: d.Notifier,
		reporter: d.Reporter,
		cache:    d.Cache,
		tracer:   otel.Tracer("github.com/zeroxmods/certmint/internal/service"),
		now:      time.Now,
	}
	return o
}

// MintCertificates mints the authenticity and ownership tokens for a paid
// order. Steps already persisted are skipped, so it is safe to call again
// after a partial failure. A concurrent call for the same order gets
// MintInProgress.
func (o *MintOrchestrator) MintCertificates(ctx context.Context, orderID string) (*MintResult, error) {
	const op = "mint.MintCertificates"
	ctx, span := o.tracer.Start(ctx, "mint.certificates", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	lease, err := o.locker.Acquire(ctx, orderID, o.lockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, errs.Ef(errs.MintInProgress, op, "order %s is already being minted", orderID)
	}
	if err != nil {
		return nil, errs.E(errs.ServiceUnavailable, op, err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release mint lock failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}()

	order, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.OrderStatus == model.OrderCompleted {
		return o.completedResult(ctx, order)
	}
	if !order.Mintable() {
		return nil, errs.Ef(errs.InvalidInput, op, "order %s payment is %s", orderID, order.PaymentStatus)
	}
	if order, err = o.store.BeginMinting(ctx, orderID); err != nil {
		return nil, err
	}
	if order.OrderStatus == model.OrderCompleted {
		return o.completedResult(ctx, order)
	}
	o.emit(ctx, order, "", nil, nil)

	res, err := o.run(ctx, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.fail(ctx, order, err)
		return nil, err
	}
	return res, nil
}

// RetryMint 运维重试入口；已完成的订单直接返回现有证书
func (o *MintOrchestrator) RetryMint(ctx context.Context, orderID string) (*MintResult, error) {
	order, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	logger.Info("retry mint requested",
		zap.String("order_id", orderID),
		zap.String("order_status", string(order.OrderStatus)),
		zap.String("mint_step", string(order.MintStep)),
		zap.Int("mint_attempts", order.MintAttempts))
	return o.MintCertificates(ctx, orderID)
}

func (o *MintOrchestrator) run(ctx context.Context, order *model.Order) (*MintResult, error) {
	artwork, err := o.catalog.GetArtwork(ctx, order.ArtworkID)
	if err != nil {
		return nil, err
	}
	owner, err := o.catalog.GetUser(ctx, order.BuyerID)
	if err != nil {
		return nil, err
	}

	auth, err := o.mintAuthenticity(ctx, order, artwork, owner)
	if err != nil {
		return nil, err
	}
	own, err := o.mintOwnership(ctx, order, artwork, owner, auth)
	if err != nil {
		return nil, err
	}

	if err := o.store.CompleteOrder(ctx, order.ID); err != nil {
		return nil, err
	}
	done, err := o.store.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if o.cache != nil {
		o.cache.Invalidate(ctx, order.ID)
	}
	o.emit(ctx, done, "", auth, own)
	logger.Info("certificates minted",
		zap.String("order_id", order.ID),
		zap.String("authenticity_token", auth.HederaTokenID),
		zap.Int64("authenticity_serial", auth.SerialNumber),
		zap.String("ownership_token", own.HederaTokenID),
		zap.Int64("ownership_serial", own.SerialNumber))
	return &MintResult{Order: done, Authenticity: auth, Ownership: own}, nil
}

func (o *MintOrchestrator) mintAuthenticity(ctx context.Context, order *model.Order, artwork *model.Artwork, owner *model.User) (*model.AuthenticityToken, error) {
	if order.MintStep.AuthMinted() {
		return o.store.GetAuthenticityToken(ctx, order.ID)
	}
	if o.tokens.AuthenticityTokenID == "" {
		return nil, errs.Ef(errs.InvalidInput, "mint.authenticity", "authenticity collection is not configured")
	}
	if err := o.store.SetMintStep(ctx, order.ID, model.StepAuthPending); err != nil {
		return nil, err
	}
	order.MintStep = model.StepAuthPending

	meta, err := BuildAuthenticityMetadata(order, artwork, owner, o.now())
	if err != nil {
		return nil, err
	}
	hash, err := meta.Fingerprint()
	if err != nil {
		return nil, err
	}
	pin, err := retryCall(ctx, o, "pin_authenticity", func(ctx context.Context) (*pinning.Pin, error) {
		return o.pinner.PinJSON(ctx, "authenticity-"+order.ID, meta)
	})
	if err != nil {
		return nil, err
	}
	rec, err := retryCall(ctx, o, "mint_authenticity", func(ctx context.Context) (*ledger.Receipt, error) {
		return o.ledger.Mint(ctx, ledger.MintRequest{
			TokenID:        o.tokens.AuthenticityTokenID,
			Metadata:       []byte(pin.URI),
			Memo:           "zeroxmods:authenticity:" + order.Reference,
			IdempotencyKey: order.ID + ":authenticity",
		})
	})
	if err != nil {
		return nil, err
	}

	tok := &model.AuthenticityToken{
		OrderID:         order.ID,
		HederaTokenID:   rec.TokenID,
		SerialNumber:    rec.Serial(),
		HederaTxHash:    rec.TransactionID,
		MetadataIPFSURI: pin.URI,
		MetadataHash:    hash,
		MintedAt:        o.now(),
	}
	stored, err := o.store.UpsertAuthenticityToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	if stored.ID != tok.ID {
		logger.Warn("authenticity token already recorded, keeping first mint",
			zap.String("order_id", order.ID), zap.Int64("kept_serial", stored.SerialNumber), zap.Int64("orphan_serial", tok.SerialNumber))
	}
	order.MintStep = model.StepAuthDone
	o.emit(ctx, order, "", stored, nil)
	return stored, nil
}

func (o *MintOrchestrator) mintOwnership(ctx context.Context, order *model.Order, artwork *model.Artwork, owner *model.User, auth *model.AuthenticityToken) (*model.OwnershipToken, error) {
	if order.MintStep == model.StepOwnershipDone {
		return o.store.GetOwnershipToken(ctx, order.ID)
	}
	if o.tokens.OwnershipTokenID == "" {
		return nil, errs.Ef(errs.InvalidInput, "mint.ownership", "ownership collection is not configured")
	}
	if err := o.store.SetMintStep(ctx, order.ID, model.StepOwnershipPending); err != nil {
		return nil, err
	}
	order.MintStep = model.StepOwnershipPending

	meta, err := BuildOwnershipMetadata(order, artwork, owner, auth, o.now())
	if err != nil {
		return nil, err
	}
	hash, err := meta.Fingerprint()
	if err != nil {
		return nil, err
	}
	pin, err := retryCall(ctx, o, "pin_ownership", func(ctx context.Context) (*pinning.Pin, error) {
		return o.pinner.PinJSON(ctx, "ownership-"+order.ID, meta)
	})
	if err != nil {
		return nil, err
	}
	rec, err := retryCall(ctx, o, "mint_ownership", func(ctx context.Context) (*ledger.Receipt, error) {
		return o.ledger.Mint(ctx, ledger.MintRequest{
			TokenID:        o.tokens.OwnershipTokenID,
			Metadata:       []byte(pin.URI),
			Memo:           "zeroxmods:ownership:" + order.Reference,
			IdempotencyKey: order.ID + ":ownership",
			Frozen:         true,
		})
	})
	if err != nil {
		return nil, err
	}

	tok := &model.OwnershipToken{
		OrderID:         order.ID,
		HederaTokenID:   rec.TokenID,
		SerialNumber:    rec.Serial(),
		HederaTxHash:    rec.TransactionID,
		MetadataIPFSURI: pin.URI,
		MetadataHash:    hash,
		Transferable:    false,
		Fractions:       1,
		MintedAt:        o.now(),
	}
	stored, err := o.store.UpsertOwnershipToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	if stored.ID != tok.ID {
		logger.Warn("ownership token already recorded, keeping first mint",
			zap.String("order_id", order.ID), zap.Int64("kept_serial", stored.SerialNumber), zap.Int64("orphan_serial", tok.SerialNumber))
	}
	order.MintStep = model.StepOwnershipDone
	return stored, nil
}

func (o *MintOrchestrator) completedResult(ctx context.Context, order *model.Order) (*MintResult, error) {
	auth, err := o.store.GetAuthenticityToken(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	own, err := o.store.GetOwnershipToken(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &MintResult{Order: order, Authenticity: auth, Ownership: own, AlreadyMinted: true}, nil
}

func (o *MintOrchestrator) fail(ctx context.Context, order *model.Order, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := o.store.FailMint(ctx, order.ID, cause.Error()); err != nil {
		logger.Error("record mint failure", zap.String("order_id", order.ID), zap.Error(err))
	}
	order.OrderStatus = model.OrderFailed
	logger.Error("mint failed",
		zap.String("order_id", order.ID),
		zap.String("mint_step", string(order.MintStep)),
		zap.String("kind", errs.KindOf(cause).String()),
		zap.Error(cause))
	if o.reporter != nil {
		o.reporter.ReportMintFailure(ctx, order.ID, cause)
	}
	if o.cache != nil {
		o.cache.Invalidate(ctx, order.ID)
	}
	o.emit(ctx, order, cause.Error(), nil, nil)
}

func (o *MintOrchestrator) emit(ctx context.Context, order *model.Order, cause string, auth *model.AuthenticityToken, own *model.OwnershipToken) {
	if o.notifier == nil {
		return
	}
	evt := MintEvent{
		OrderID:     order.ID,
		Reference:   order.Reference,
		OrderStatus: order.OrderStatus,
		MintStep:    order.MintStep,
		Error:       cause,
		At:          o.now(),
	}
	if auth != nil {
		evt.AuthenticityTokenID, evt.AuthenticitySerial = auth.HederaTokenID, auth.SerialNumber
	}
	if own != nil {
		evt.OwnershipTokenID, evt.OwnershipSerial = own.HederaTokenID, own.SerialNumber
	}
	if err := o.notifier.Notify(ctx, evt); err != nil {
		logger.Warn("notify mint event", zap.String("order_id", order.ID), zap.Error(err))
	}
}

// retryCall 对单个外部调用做指数退避重试；InvalidInput 等不可重试错误立即返回
func retryCall[T any](ctx context.Context, o *MintOrchestrator, step string, call func(context.Context) (T, error)) (T, error) {
	ctx, span := o.tracer.Start(ctx, "mint."+step)
	defer span.End()

	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, o.policy.CallTimeout)
		defer cancel()
		v, err := call(callCtx)
		if err != nil && !errs.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(o.policy.backOff()),
		backoff.WithMaxTries(o.policy.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("mint step failed, backing off",
				zap.String("step", step), zap.Int("attempt", attempt), zap.Duration("next", next), zap.Error(err))
		}),
	)
	span.SetAttributes(attribute.Int("mint.attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, errs.E(errs.KindOf(err), "mint."+step, err)
	}
	return res, nil
}
