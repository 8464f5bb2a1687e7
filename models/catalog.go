package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
)

type Category struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null;unique" json:"name" binding:"required"`
	ParentId  *int      `gorm:"index" json:"parent_id"`
	ImageUrl  string    `json:"image_url"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCategory struct {
	Name     string `json:"name" binding:"required"`
	ParentId *int   `json:"parent_id"`
	ImageUrl string `json:"image_url"`
	IsActive *bool  `json:"is_active"`
}

type Brand struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null;unique" json:"name" binding:"required"`
	LogoUrl   string    `json:"logo_url"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBrand struct {
	Name     string `json:"name" binding:"required"`
	LogoUrl  string `json:"logo_url"`
	IsActive *bool  `json:"is_active"`
}

func CreateCategory(ctx context.Context, input *NewCategory) (*Category, error) {

	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}
	if err := utils.ValidateUnique[Category](ctx, "name", input.Name, 0); err != nil {
		return nil, err
	}
	if input.ParentId != nil {
		if err := utils.ValidateResourceId[Category](ctx, *input.ParentId); err != nil {
			return nil, err
		}
	}

	isActive := input.IsActive
	if isActive == nil {
		isActive = utils.NewTrue()
	}

	category := Category{
		Name:     input.Name,
		ParentId: input.ParentId,
		ImageUrl: input.ImageUrl,
		IsActive: isActive,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&category).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

func UpdateCategory(ctx context.Context, id int, input *NewCategory) (*Category, error) {

	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}
	category, err := utils.FetchSingleModel[Category](ctx, id)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[Category](ctx, "name", input.Name, id); err != nil {
		return nil, err
	}

	category.Name = input.Name
	category.ParentId = input.ParentId
	category.ImageUrl = input.ImageUrl
	if input.IsActive != nil {
		category.IsActive = input.IsActive
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Save(category).Error; err != nil {
		return nil, err
	}
	return category, nil
}

func GetAllCategories(ctx context.Context) ([]*Category, error) {
	return utils.FetchAllModels[Category](ctx, 0)
}

func CreateBrand(ctx context.Context, input *NewBrand) (*Brand, error) {

	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}
	if err := utils.ValidateUnique[Brand](ctx, "name", input.Name, 0); err != nil {
		return nil, err
	}

	isActive := input.IsActive
	if isActive == nil {
		isActive = utils.NewTrue()
	}

	brand := Brand{
		Name:     input.Name,
		LogoUrl:  input.LogoUrl,
		IsActive: isActive,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&brand).Error; err != nil {
		return nil, err
	}
	return &brand, nil
}

func UpdateBrand(ctx context.Context, id int, input *NewBrand) (*Brand, error) {

	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}
	brand, err := utils.FetchSingleModel[Brand](ctx, id)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[Brand](ctx, "name", input.Name, id); err != nil {
		return nil, err
	}

	brand.Name = input.Name
	brand.LogoUrl = input.LogoUrl
	if input.IsActive != nil {
		brand.IsActive = input.IsActive
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Save(brand).Error; err != nil {
		return nil, err
	}
	return brand, nil
}

func GetAllBrands(ctx context.Context) ([]*Brand, error) {
	return utils.FetchAllModels[Brand](ctx, 0)
}
