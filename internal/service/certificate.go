package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroxmods/certmint/internal/ledger"
	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/internal/pinning"
	"github.com/zeroxmods/certmint/internal/repository"
	"github.com/zeroxmods/certmint/pkg/errs"
	"github.com/zeroxmods/certmint/pkg/logger"
)

// CertificateView 订单证书的合并视图
type CertificateView struct {
	Artwork           ArtworkView `json:"artwork"`
	AuthenticityToken TokenView   `json:"authenticityToken"`
	OwnershipToken    TokenView   `json:"ownershipToken"`
	Order             OrderView   `json:"order"`
	Owner             OwnerView   `json:"owner"`
}

type ArtworkView struct {
	ID           string `json:"id"`
	ArtistID     string `json:"artistId"`
	Title        string `json:"title"`
	Type         string `json:"type"`
	MediaURL     string `json:"mediaUrl,omitempty"`
	Price        string `json:"price"`
	Currency     string `json:"currency"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Edition      string `json:"edition,omitempty"`
}

type TokenView struct {
	HederaTokenID   string    `json:"hederaTokenId"`
	SerialNumber    int64     `json:"serialNumber"`
	HederaTxHash    string    `json:"hederaTxHash"`
	MetadataIPFSURI string    `json:"metadataIpfsUri"`
	MetadataURL     string    `json:"metadataUrl,omitempty"`
	MetadataHash    string    `json:"metadataHash,omitempty"`
	MintedAt        time.Time `json:"mintedAt"`
	Transferable    *bool     `json:"transferable,omitempty"`
	Fractions       int       `json:"fractions,omitempty"`
}

type OrderView struct {
	ID            string     `json:"id"`
	Reference     string     `json:"reference"`
	AmountCents   int64      `json:"amountCents"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	PaymentStatus string     `json:"paymentStatus"`
	OrderStatus   string     `json:"orderStatus"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type OwnerView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	LedgerAccountID string `json:"ledgerAccountId,omitempty"`
}

// FormatAmount renders minor units as a fixed two-decimal string.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// CertificateService 证书查询（Redis 读穿缓存）与所有权解冻
type CertificateService struct {
	store   repository.OrderStore
	catalog repository.CatalogRepository
	ledger  ledger.Client
	cache   redis.UniversalClient
	ttl     time.Duration
	gateway string
}

// NewCertificateService builds the query service. cache may be nil.
func NewCertificateService(store repository.OrderStore, catalog repository.CatalogRepository, ledgerClient ledger.Client, cache redis.UniversalClient, ttl time.Duration, ipfsGateway string) *CertificateService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CertificateService{store: store, catalog: catalog, ledger: ledgerClient, cache: cache, ttl: ttl, gateway: ipfsGateway}
}

func cacheKey(orderID string) string { return "certificate:" + orderID }

// GetByOrder returns NotFound until both certificates exist.
func (s *CertificateService) GetByOrder(ctx context.Context, orderID string) (*CertificateView, error) {
	const op = "certificates.GetByOrder"
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey(orderID)).Bytes(); err == nil {
			var view CertificateView
			if uErr := json.Unmarshal(data, &view); uErr == nil {
				return &view, nil
			}
		}
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	auth, err := s.store.GetAuthenticityToken(ctx, orderID)
	if errs.Is(err, errs.NotFound) {
		return nil, errs.Ef(errs.NotFound, op, "order %s has no authenticity certificate yet (%s)", orderID, order.OrderStatus)
	}
	if err != nil {
		return nil, err
	}
	own, err := s.store.GetOwnershipToken(ctx, orderID)
	if errs.Is(err, errs.NotFound) {
		return nil, errs.Ef(errs.NotFound, op, "order %s has no ownership certificate yet (%s)", orderID, order.OrderStatus)
	}
	if err != nil {
		return nil, err
	}
	artwork, err := s.catalog.GetArtwork(ctx, order.ArtworkID)
	if err != nil {
		return nil, err
	}
	owner, err := s.catalog.GetUser(ctx, order.BuyerID)
	if err != nil {
		return nil, err
	}

	view := s.buildView(order, artwork, owner, auth, own)
	if s.cache != nil {
		if payload, err := json.Marshal(view); err == nil {
			_ = s.cache.Set(ctx, cacheKey(orderID), payload, s.ttl).Err()
		}
	}
	return view, nil
}

// Status 订单当前铸造进度快照（websocket 首帧 / 轮询）
func (s *CertificateService) Status(ctx context.Context, orderID string) (*MintEvent, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	evt := &MintEvent{
		OrderID:     order.ID,
		Reference:   order.Reference,
		OrderStatus: order.OrderStatus,
		MintStep:    order.MintStep,
		Error:       order.MintError,
		At:          order.UpdatedAt,
	}
	if order.MintStep.AuthMinted() {
		if auth, err := s.store.GetAuthenticityToken(ctx, orderID); err == nil {
			evt.AuthenticityTokenID, evt.AuthenticitySerial = auth.HederaTokenID, auth.SerialNumber
		}
	}
	if order.MintStep == model.StepOwnershipDone {
		if own, err := s.store.GetOwnershipToken(ctx, orderID); err == nil {
			evt.OwnershipTokenID, evt.OwnershipSerial = own.HederaTokenID, own.SerialNumber
		}
	}
	return evt, nil
}

// Invalidate drops the cached view for orderID.
func (s *CertificateService) Invalidate(ctx context.Context, orderID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey(orderID)).Err(); err != nil {
		logger.Warn("invalidate certificate cache", zap.String("order_id", orderID), zap.Error(err))
	}
}

// ListFailedMints 运维面板：已支付但铸造失败的订单
func (s *CertificateService) ListFailedMints(ctx context.Context, limit int) ([]*model.Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListFailedMints(ctx, limit)
}

// Unfreeze releases the ownership token to accountID (the buyer's account
// when empty) and marks it transferable.
func (s *CertificateService) Unfreeze(ctx context.Context, orderID, accountID string) (*model.OwnershipToken, error) {
	const op = "certificates.Unfreeze"
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.OrderStatus != model.OrderCompleted {
		return nil, errs.Ef(errs.InvalidInput, op, "order %s is %s", orderID, order.OrderStatus)
	}
	own, err := s.store.GetOwnershipToken(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if accountID == "" {
		owner, err := s.catalog.GetUser(ctx, order.BuyerID)
		if err != nil {
			return nil, err
		}
		accountID = owner.LedgerAccountID
	}
	if accountID == "" {
		return nil, errs.Ef(errs.InvalidInput, op, "no ledger account for order %s", orderID)
	}

	if !own.Transferable {
		rec, err := s.ledger.Unfreeze(ctx, own.HederaTokenID, accountID)
		if err != nil {
			return nil, err
		}
		if err := s.store.SetTransferable(ctx, orderID, true); err != nil {
			return nil, err
		}
		logger.Info("ownership token unfrozen",
			zap.String("order_id", orderID),
			zap.String("token_id", own.HederaTokenID),
			zap.String("account_id", accountID),
			zap.String("tx", rec.TransactionID))
		s.Invalidate(ctx, orderID)
	}
	return s.store.GetOwnershipToken(ctx, orderID)
}

func (s *CertificateService) buildView(order *model.Order, artwork *model.Artwork, owner *model.User, auth *model.AuthenticityToken, own *model.OwnershipToken) *CertificateView {
	transferable := own.Transferable
	return &CertificateView{
		Artwork: ArtworkView{
			ID:           artwork.ID,
			ArtistID:     artwork.ArtistID,
			Title:        artwork.Title,
			Type:         string(artwork.Type),
			MediaURL:     artwork.MediaURL,
			Price:        FormatAmount(artwork.PriceCents),
			Currency:     artwork.Currency,
			SerialNumber: artwork.SerialNumber,
			Edition:      artwork.Edition,
		},
		AuthenticityToken: TokenView{
			HederaTokenID:   auth.HederaTokenID,
			SerialNumber:    auth.SerialNumber,
			HederaTxHash:    auth.HederaTxHash,
			MetadataIPFSURI: auth.MetadataIPFSURI,
			MetadataURL:     pinning.GatewayURL(s.gateway, auth.MetadataIPFSURI),
			MetadataHash:    auth.MetadataHash,
			MintedAt:        auth.MintedAt,
		},
		OwnershipToken: TokenView{
			HederaTokenID:   own.HederaTokenID,
			SerialNumber:    own.SerialNumber,
			HederaTxHash:    own.HederaTxHash,
			MetadataIPFSURI: own.MetadataIPFSURI,
			MetadataURL:     pinning.GatewayURL(s.gateway, own.MetadataIPFSURI),
			MetadataHash:    own.MetadataHash,
			MintedAt:        own.MintedAt,
			Transferable:    &transferable,
			Fractions:       own.Fractions,
		},
		Order: OrderView{
			ID:            order.ID,
			Reference:     order.Reference,
			AmountCents:   order.AmountCents,
			Amount:        FormatAmount(order.AmountCents),
			Currency:      order.Currency,
			PaymentStatus: string(order.PaymentStatus),
			OrderStatus:   string(order.OrderStatus),
			PaidAt:        order.PaidAt,
			CompletedAt:   order.CompletedAt,
			CreatedAt:     order.CreatedAt,
		},
		Owner: OwnerView{
			ID:              owner.ID,
			Name:            owner.Name,
			LedgerAccountID: owner.LedgerAccountID,
		},
	}
}
