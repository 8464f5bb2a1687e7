package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/shopspring/decimal"
)

type ProductVariant struct {
	ID        int             `gorm:"primary_key" json:"id"`
	ProductId int             `gorm:"index;not null" json:"product_id"`
	Name      string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Sku       string          `gorm:"size:100;index" json:"sku"`
	Price     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	StockQty  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stock_qty"`
	IsActive  *bool           `gorm:"not null;default:true" json:"is_active"`

	// digital variants deliver a download instead of a shipment
	IsDigital   *bool  `gorm:"not null;default:false" json:"is_digital"`
	DownloadUrl string `gorm:"type:text" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductVariant struct {
	ProductId    int             `json:"product_id" binding:"required"`
	Name         string          `json:"name" binding:"required"`
	Sku          string          `json:"sku"`
	Price        decimal.Decimal `json:"price"`
	InitialStock decimal.Decimal `json:"initial_stock"`
	IsDigital    bool            `json:"is_digital"`
	DownloadUrl  string          `json:"download_url"`
}

func (obj ProductVariant) GetId() int {
	return obj.ID
}

func CreateProductVariant(ctx context.Context, input *NewProductVariant) (*ProductVariant, error) {

	product, err := utils.FetchSingleModel[Product](ctx, input.ProductId)
	if err != nil {
		return nil, errors.New("product not found")
	}
	if _, err := authorizeShop(ctx, product.ShopId); err != nil {
		return nil, err
	}
	if input.Price.IsNegative() {
		return nil, errors.New("price cannot be negative")
	}
	if input.InitialStock.IsNegative() {
		return nil, errors.New("initial stock cannot be negative")
	}

	if input.IsDigital && input.DownloadUrl == "" {
		return nil, errors.New("digital variants need a download url")
	}

	variant := ProductVariant{
		ProductId:   input.ProductId,
		Name:        input.Name,
		Sku:         input.Sku,
		Price:       input.Price,
		IsActive:    utils.NewTrue(),
		IsDigital:   &input.IsDigital,
		DownloadUrl: input.DownloadUrl,
	}

	db := config.GetDB()
	tx := db.Begin()

	if err := tx.WithContext(ctx).Create(&variant).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if input.InitialStock.IsPositive() {
		if _, err := adjustStockTx(tx, ctx, &NewStockMovement{
			ProductId: product.ID,
			VariantId: variant.ID,
			Quantity:  input.InitialStock,
			Type:      MovementTypeInitial,
			Note:      "opening stock",
		}); err != nil {
			tx.Rollback()
			return nil, err
		}
		variant.StockQty = input.InitialStock
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &variant, nil
}

func UpdateProductVariant(ctx context.Context, id int, input *NewProductVariant) (*ProductVariant, error) {

	variant, err := utils.FetchSingleModel[ProductVariant](ctx, id)
	if err != nil {
		return nil, err
	}
	product, err := utils.FetchSingleModel[Product](ctx, variant.ProductId)
	if err != nil {
		return nil, err
	}
	if _, err := authorizeShop(ctx, product.ShopId); err != nil {
		return nil, err
	}
	if input.Price.IsNegative() {
		return nil, errors.New("price cannot be negative")
	}

	if input.IsDigital && input.DownloadUrl == "" {
		return nil, errors.New("digital variants need a download url")
	}

	variant.Name = input.Name
	variant.Sku = input.Sku
	variant.Price = input.Price
	variant.IsDigital = &input.IsDigital
	variant.DownloadUrl = input.DownloadUrl

	db := config.GetDB()
	if err := db.WithContext(ctx).Save(variant).Error; err != nil {
		return nil, err
	}
	return variant, nil
}

func GetProductVariants(ctx context.Context, productId int) ([]*ProductVariant, error) {

	db := config.GetDB()
	var results []*ProductVariant
	if err := db.WithContext(ctx).Where("product_id = ?", productId).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
