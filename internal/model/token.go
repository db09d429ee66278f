package model

import "time"

// AuthenticityToken 真品证书：不可转让，无 freeze/wipe key。一单一枚。
type AuthenticityToken struct {
	ID              string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID         string    `json:"order_id" gorm:"type:varchar(36);uniqueIndex;not null"`
	HederaTokenID   string    `json:"hedera_token_id" gorm:"type:varchar(32);not null"`
	SerialNumber    int64     `json:"serial_number" gorm:"not null"`
	HederaTxHash    string    `json:"hedera_tx_hash" gorm:"type:varchar(128);not null"`
	MetadataIPFSURI string    `json:"metadata_ipfs_uri" gorm:"column:metadata_ipfs_uri;type:varchar(255);not null"`
	MetadataHash    string    `json:"metadata_hash" gorm:"type:varchar(64)"`
	MintedAt        time.Time `json:"minted_at" gorm:"not null"`
}

func (AuthenticityToken) TableName() string { return "authenticity_tokens" }

// OwnershipToken 所有权证书：铸造时冻结，解冻后才可转让。
type OwnershipToken struct {
	ID              string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID         string    `json:"order_id" gorm:"type:varchar(36);uniqueIndex;not null"`
	HederaTokenID   string    `json:"hedera_token_id" gorm:"type:varchar(32);not null"`
	SerialNumber    int64     `json:"serial_number" gorm:"not null"`
	HederaTxHash    string    `json:"hedera_tx_hash" gorm:"type:varchar(128);not null"`
	MetadataIPFSURI string    `json:"metadata_ipfs_uri" gorm:"column:metadata_ipfs_uri;type:varchar(255);not null"`
	MetadataHash    string    `json:"metadata_hash" gorm:"type:varchar(64)"`
	Transferable    bool      `json:"transferable" gorm:"not null;default:false"`
	Fractions       int       `json:"fractions" gorm:"not null;default:1;check:chk_ownership_fractions,fractions >= 1"`
	MintedAt        time.Time `json:"minted_at" gorm:"not null"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (OwnershipToken) TableName() string { return "ownership_tokens" }
