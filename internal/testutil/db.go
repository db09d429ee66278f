// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/pkg/database"
)

// NewDB opens a migrated in-memory sqlite database. A single connection
// keeps the memory database alive and serializes writers.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// SeedArtwork inserts an artist, a buyer and an artwork with the given stock.
func SeedArtwork(t testing.TB, db *gorm.DB, quantity int) (artwork *model.Artwork, buyer *model.User) {
	t.Helper()
	ctx := context.Background()
	artist := &model.User{ID: uuid.NewString(), Name: "Ada Okafor", Email: uuid.NewString() + "@artists.test", Role: "artist"}
	buyer = &model.User{ID: uuid.NewString(), Name: "Tunde Bello", Email: uuid.NewString() + "@buyers.test", Role: "buyer", LedgerAccountID: "0.0.4821"}
	require.NoError(t, db.WithContext(ctx).Create(artist).Error)
	require.NoError(t, db.WithContext(ctx).Create(buyer).Error)

	artwork = &model.Artwork{
		ID:                uuid.NewString(),
		ArtistID:          artist.ID,
		Title:             "Harmattan Light",
		Type:              model.ArtworkPhysical,
		MediaURL:          "https://cdn.zeroxmods.test/harmattan.jpg",
		PriceCents:        100000,
		Currency:          "NGN",
		TotalQuantity:     quantity,
		AvailableQuantity: quantity,
		SerialNumber:      "ZX-0001",
		Edition:           "1/1",
	}
	require.NoError(t, db.WithContext(ctx).Create(artwork).Error)
	return artwork, buyer
}

// NewOrder builds an unsaved pending order for artwork and buyer.
func NewOrder(artwork *model.Artwork, buyer *model.User) *model.Order {
	return &model.Order{
		ID:              uuid.NewString(),
		BuyerID:         buyer.ID,
		ArtworkID:       artwork.ID,
		AmountCents:     artwork.PriceCents,
		Currency:        artwork.Currency,
		PaymentProvider: "paystack",
		PaymentStatus:   model.PaymentPending,
		OrderStatus:     model.OrderCreated,
		Reference:       "zx_" + uuid.NewString(),
	}
}
