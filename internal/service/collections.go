package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/zeroxmods/certmint/internal/ledger"
	"github.com/zeroxmods/certmint/pkg/logger"
)

// AuthenticityCollection 真品证书集合：无 freeze / wipe key，不可被国库冻结或收回
var AuthenticityCollection = ledger.TokenSpec{
	Name:   "zeroXmods Certificate of Authenticity",
	Symbol: "ZXMA",
	Memo:   "zeroXmods authenticity certificates",
}

// OwnershipCollection 所有权证书集合：默认冻结，国库持有 freeze / wipe key
var OwnershipCollection = ledger.TokenSpec{
	Name:          "zeroXmods Certificate of Ownership",
	Symbol:        "ZXMO",
	Memo:          "zeroXmods ownership certificates",
	FreezeDefault: true,
	FreezeKey:     true,
	WipeKey:       true,
}

// EnsureCollections creates whichever collection id is missing and returns
// the complete set.
func EnsureCollections(ctx context.Context, client ledger.Client, have Collections) (Collections, error) {
	if have.AuthenticityTokenID == "" {
		id, err := client.CreateToken(ctx, AuthenticityCollection)
		if err != nil {
			return have, err
		}
		have.AuthenticityTokenID = id
		logger.Info("created authenticity collection, persist it as ledger.authenticity_token_id", zap.String("token_id", id))
	}
	if have.OwnershipTokenID == "" {
		id, err := client.CreateToken(ctx, OwnershipCollection)
		if err != nil {
			return have, err
		}
		have.OwnershipTokenID = id
		logger.Info("created ownership collection, persist it as ledger.ownership_token_id", zap.String("token_id", id))
	}
	return have, nil
}
