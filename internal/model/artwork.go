package model

import "time"

// ArtworkType 作品类型
type ArtworkType string

const (
	ArtworkPhysical ArtworkType = "physical"
	ArtworkDigital  ArtworkType = "digital"
)

// Artwork 作品。库存满足 0 <= available_quantity <= total_quantity。
type Artwork struct {
	ID                string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ArtistID          string      `json:"artist_id" gorm:"type:varchar(36);index;not null"`
	Title             string      `json:"title" gorm:"type:varchar(255);not null"`
	Description       string      `json:"description,omitempty" gorm:"type:text"`
	Type              ArtworkType `json:"type" gorm:"type:varchar(16);not null"`
	MediaURL          string      `json:"media_url" gorm:"type:varchar(512)"`
	PriceCents        int64       `json:"price_cents" gorm:"not null"`
	Currency          string      `json:"currency" gorm:"type:varchar(3);not null"`
	TotalQuantity     int         `json:"total_quantity" gorm:"not null"`
	AvailableQuantity int         `json:"available_quantity" gorm:"not null;check:chk_artworks_stock,available_quantity >= 0 AND available_quantity <= total_quantity"`
	SerialNumber      string      `json:"serial_number,omitempty" gorm:"type:varchar(64)"`
	Edition           string      `json:"edition,omitempty" gorm:"type:varchar(64)"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

func (Artwork) TableName() string { return "artworks" }
