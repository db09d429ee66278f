package service

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/sha3"

	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/pkg/errs"
)

const metadataStandard = "zeroxmods-certificate/1"

// CertificateKind 证书类型
type CertificateKind string

const (
	KindAuthenticity CertificateKind = "authenticity"
	KindOwnership    CertificateKind = "ownership"
)

// CertificateMetadata is the JSON document pinned to IPFS for each token.
type CertificateMetadata struct {
	Standard    string           `json:"standard" validate:"required"`
	Kind        CertificateKind  `json:"kind" validate:"oneof=authenticity ownership"`
	Name        string           `json:"name" validate:"required,max=255"`
	Description string           `json:"description,omitempty"`
	Image       string           `json:"image,omitempty" validate:"omitempty,url"`
	Properties  CertificateProps `json:"properties"`
	Ownership   *OwnershipTerms  `json:"ownership,omitempty"`
	Attributes  []MetadataTrait  `json:"attributes,omitempty" validate:"dive"`
}

type CertificateProps struct {
	ArtworkID      string `json:"artwork_id" validate:"required"`
	ArtistID       string `json:"artist_id" validate:"required"`
	Title          string `json:"title" validate:"required"`
	ArtworkType    string `json:"artwork_type" validate:"oneof=physical digital"`
	SerialNumber   string `json:"serial_number,omitempty"`
	Edition        string `json:"edition,omitempty"`
	OrderID        string `json:"order_id" validate:"required"`
	OrderReference string `json:"order_reference" validate:"required"`
	OwnerID        string `json:"owner_id" validate:"required"`
	OwnerName      string `json:"owner_name,omitempty"`
	OwnerAccount   string `json:"owner_account,omitempty"`
	IssuedAt       string `json:"issued_at" validate:"required"`
}

// OwnershipTerms 所有权证书额外的转让语义
type OwnershipTerms struct {
	Transferable        bool   `json:"transferable"`
	Fractions           int    `json:"fractions" validate:"min=1"`
	FrozenUntilRelease  bool   `json:"frozen_until_release"`
	AuthenticityTokenID string `json:"authenticity_token_id" validate:"required"`
	AuthenticitySerial  int64  `json:"authenticity_serial" validate:"min=1"`
}

type MetadataTrait struct {
	TraitType string `json:"trait_type" validate:"required"`
	Value     string `json:"value"`
}

var metadataValidator = validator.New()

// Validate rejects malformed documents before anything is pinned.
func (m *CertificateMetadata) Validate() error {
	const op = "metadata.Validate"
	if err := metadataValidator.Struct(m); err != nil {
		return errs.E(errs.InvalidInput, op, err)
	}
	if (m.Kind == KindOwnership) != (m.Ownership != nil) {
		return errs.Ef(errs.InvalidInput, op, "ownership terms only belong on ownership certificates")
	}
	return nil
}

// Fingerprint is the hex SHA3-256 of the document's JSON encoding.
func (m *CertificateMetadata) Fingerprint() (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", errs.E(errs.InvalidInput, "metadata.Fingerprint", err)
	}
	sum := sha3.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func baseMetadata(kind CertificateKind, order *model.Order, artwork *model.Artwork, owner *model.User, issuedAt time.Time) *CertificateMetadata {
	m := &CertificateMetadata{
		Standard:    metadataStandard,
		Kind:        kind,
		Description: artwork.Description,
		Image:       artwork.MediaURL,
		Properties: CertificateProps{
			ArtworkID:      artwork.ID,
			ArtistID:       artwork.ArtistID,
			Title:          artwork.Title,
			ArtworkType:    string(artwork.Type),
			SerialNumber:   artwork.SerialNumber,
			Edition:        artwork.Edition,
			OrderID:        order.ID,
			OrderReference: order.Reference,
			OwnerID:        owner.ID,
			OwnerName:      owner.Name,
			OwnerAccount:   owner.LedgerAccountID,
			IssuedAt:       issuedAt.UTC().Format(time.RFC3339),
		},
		Attributes: []MetadataTrait{
			{TraitType: "certificate", Value: string(kind)},
			{TraitType: "type", Value: string(artwork.Type)},
		},
	}
	if artwork.Edition != "" {
		m.Attributes = append(m.Attributes, MetadataTrait{TraitType: "edition", Value: artwork.Edition})
	}
	return m
}

// BuildAuthenticityMetadata 真品证书元数据
func BuildAuthenticityMetadata(order *model.Order, artwork *model.Artwork, owner *model.User, issuedAt time.Time) (*CertificateMetadata, error) {
	m := baseMetadata(KindAuthenticity, order, artwork, owner, issuedAt)
	m.Name = "Certificate of Authenticity: " + artwork.Title
	return m, m.Validate()
}

// BuildOwnershipMetadata 所有权证书元数据，引用已铸造的真品证书
func BuildOwnershipMetadata(order *model.Order, artwork *model.Artwork, owner *model.User, auth *model.AuthenticityToken, issuedAt time.Time) (*CertificateMetadata, error) {
	m := baseMetadata(KindOwnership, order, artwork, owner, issuedAt)
	m.Name = "Certificate of Ownership: " + artwork.Title
	m.Ownership = &OwnershipTerms{
		Transferable:        false,
		Fractions:           1,
		FrozenUntilRelease:  true,
		AuthenticityTokenID: auth.HederaTokenID,
		AuthenticitySerial:  auth.SerialNumber,
	}
	return m, m.Validate()
}
