package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/pkg/errs"
)

// CatalogRepository 作品与用户的只读查询（以及测试 / 压测用的写入）
type CatalogRepository interface {
	CreateArtwork(ctx context.Context, a *model.Artwork) error
	GetArtwork(ctx context.Context, id string) (*model.Artwork, error)
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
}

type catalogRepository struct{ db *gorm.DB }

func NewCatalogRepository(db *gorm.DB) CatalogRepository { return &catalogRepository{db: db} }

func (r *catalogRepository) CreateArtwork(ctx context.Context, a *model.Artwork) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.TotalQuantity < 1 || a.AvailableQuantity < 0 || a.AvailableQuantity > a.TotalQuantity {
		return errs.Ef(errs.InvalidInput, "catalog.CreateArtwork", "quantity %d/%d", a.AvailableQuantity, a.TotalQuantity)
	}
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return errs.E(errs.Internal, "catalog.CreateArtwork", err)
	}
	return nil
}

func (r *catalogRepository) GetArtwork(ctx context.Context, id string) (*model.Artwork, error) {
	var a model.Artwork
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, notFoundOr("catalog.GetArtwork", err)
	}
	return &a, nil
}

func (r *catalogRepository) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return errs.E(errs.Internal, "catalog.CreateUser", err)
	}
	return nil
}

func (r *catalogRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, notFoundOr("catalog.GetUser", err)
	}
	return &u, nil
}
