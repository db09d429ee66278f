package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/pkg/errs"
)

func metadataFixture() (*model.Order, *model.Artwork, *model.User) {
	artwork := &model.Artwork{
		ID: "art-1", ArtistID: "artist-1", Title: "Harmattan Light", Type: model.ArtworkDigital,
		MediaURL: "https://cdn.zeroxmods.test/h.jpg", PriceCents: 100000, Currency: "NGN", Edition: "1/5",
	}
	owner := &model.User{ID: "buyer-1", Name: "Tunde", LedgerAccountID: "0.0.4821"}
	order := &model.Order{ID: "order-1", Reference: "zx_1", ArtworkID: artwork.ID, BuyerID: owner.ID}
	return order, artwork, owner
}

func TestBuildAuthenticityMetadata(t *testing.T) {
	order, artwork, owner := metadataFixture()
	issued := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	m, err := BuildAuthenticityMetadata(order, artwork, owner, issued)
	require.NoError(t, err)
	assert.Equal(t, KindAuthenticity, m.Kind)
	assert.Nil(t, m.Ownership)
	assert.Equal(t, "2024-05-01T10:00:00Z", m.Properties.IssuedAt)
	assert.Equal(t, "zx_1", m.Properties.OrderReference)
	assert.Contains(t, m.Attributes, MetadataTrait{TraitType: "edition", Value: "1/5"})

	fp1, err := m.Fingerprint()
	require.NoError(t, err)
	fp2, _ := m.Fingerprint()
	assert.Len(t, fp1, 64)
	assert.Equal(t, fp1, fp2)

	m.Properties.OwnerName = "someone else"
	fp3, _ := m.Fingerprint()
	assert.NotEqual(t, fp1, fp3)
}

func TestBuildOwnershipMetadata(t *testing.T) {
	order, artwork, owner := metadataFixture()
	auth := &model.AuthenticityToken{HederaTokenID: "0.0.7001", SerialNumber: 3}

	m, err := BuildOwnershipMetadata(order, artwork, owner, auth, time.Now())
	require.NoError(t, err)
	require.NotNil(t, m.Ownership)
	assert.False(t, m.Ownership.Transferable)
	assert.Equal(t, 1, m.Ownership.Fractions)
	assert.Equal(t, int64(3), m.Ownership.AuthenticitySerial)

	_, err = BuildOwnershipMetadata(order, artwork, owner, &model.AuthenticityToken{}, time.Now())
	assert.True(t, errs.Is(err, errs.InvalidInput), "ownership must reference a minted authenticity token")
}

func TestMetadataValidate_RejectsMalformed(t *testing.T) {
	order, artwork, owner := metadataFixture()

	bad := *artwork
	bad.Title = ""
	_, err := BuildAuthenticityMetadata(order, &bad, owner, time.Now())
	assert.True(t, errs.Is(err, errs.InvalidInput))

	bad = *artwork
	bad.MediaURL = "not a url"
	_, err = BuildAuthenticityMetadata(order, &bad, owner, time.Now())
	assert.True(t, errs.Is(err, errs.InvalidInput))

	m, err := BuildAuthenticityMetadata(order, artwork, owner, time.Now())
	require.NoError(t, err)
	m.Ownership = &OwnershipTerms{Fractions: 1, AuthenticityTokenID: "0.0.1", AuthenticitySerial: 1}
	assert.True(t, errs.Is(m.Validate(), errs.InvalidInput))
}
