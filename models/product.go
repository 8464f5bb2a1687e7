package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int              `gorm:"primary_key" json:"id"`
	ShopId        int              `gorm:"index;not null" json:"shop_id"`
	Shop          *VendorShop      `gorm:"foreignKey:ShopId" json:"shop,omitempty"`
	CategoryId    int              `gorm:"index" json:"category_id"`
	BrandId       int              `gorm:"index" json:"brand_id"`
	Name          string           `gorm:"size:255;not null" json:"name" binding:"required"`
	Description   string           `gorm:"type:text" json:"description"`
	Sku           string           `gorm:"size:100;index" json:"sku"`
	ImageUrl      string           `json:"image_url"`
	Price         decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"price"`
	DiscountPrice *decimal.Decimal `gorm:"type:decimal(20,4)" json:"discount_price"`
	StockQty      decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"stock_qty"`
	Status        ProductStatus    `gorm:"type:enum('draft','pending','approved','rejected');default:pending" json:"status"`
	IsActive      *bool            `gorm:"not null;default:true" json:"is_active"`
	Variants      []*ProductVariant `gorm:"foreignKey:ProductId" json:"variants,omitempty"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	ShopId        int              `json:"shop_id"`
	CategoryId    int              `json:"category_id"`
	BrandId       int              `json:"brand_id"`
	Name          string           `json:"name" binding:"required"`
	Description   string           `json:"description"`
	Sku           string           `json:"sku"`
	ImageUrl      string           `json:"image_url"`
	Price         decimal.Decimal  `json:"price"`
	DiscountPrice *decimal.Decimal `json:"discount_price"`
	InitialStock  decimal.Decimal  `json:"initial_stock"`
}

func (obj Product) GetId() int {
	return obj.ID
}

// implements Cursor
func (obj Product) GetCursor() string {
	return obj.CreatedAt.Format(time.RFC3339Nano)
}

// EffectivePrice is the discount price when set, else the list price.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice != nil && p.DiscountPrice.IsPositive() {
		return *p.DiscountPrice
	}
	return p.Price
}

func (input *NewProduct) validate(ctx context.Context) error {
	if input.Price.IsNegative() {
		return errors.New("price cannot be negative")
	}
	if input.DiscountPrice != nil && input.DiscountPrice.GreaterThan(input.Price) {
		return errors.New("discount price cannot exceed price")
	}
	if input.InitialStock.IsNegative() {
		return errors.New("initial stock cannot be negative")
	}
	if input.CategoryId > 0 {
		if err := utils.ValidateResourceId[Category](ctx, input.CategoryId); err != nil {
			return errors.New("category not found")
		}
	}
	if input.BrandId > 0 {
		if err := utils.ValidateResourceId[Brand](ctx, input.BrandId); err != nil {
			return errors.New("brand not found")
		}
	}
	return nil
}

// CreateProduct stores the product and posts its opening stock entry in one
// transaction. New products await moderation before they are purchasable.
func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {

	shopId, err := authorizeShop(ctx, input.ShopId)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	shop, err := utils.FetchSingleModel[VendorShop](ctx, shopId)
	if err != nil {
		return nil, errors.New("shop not found")
	}
	if shop.Status != ShopStatusApproved {
		return nil, errors.New("shop is not approved")
	}

	product := Product{
		ShopId:        shopId,
		CategoryId:    input.CategoryId,
		BrandId:       input.BrandId,
		Name:          input.Name,
		Description:   input.Description,
		Sku:           input.Sku,
		ImageUrl:      input.ImageUrl,
		Price:         input.Price,
		DiscountPrice: input.DiscountPrice,
		Status:        ProductStatusPending,
		IsActive:      utils.NewTrue(),
	}

	db := config.GetDB()
	tx := db.Begin()

	if err := tx.WithContext(ctx).Create(&product).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if input.InitialStock.IsPositive() {
		if _, err := adjustStockTx(tx, ctx, &NewStockMovement{
			ProductId: product.ID,
			Quantity:  input.InitialStock,
			Type:      MovementTypeInitial,
			Note:      "opening stock",
		}); err != nil {
			tx.Rollback()
			return nil, err
		}
		product.StockQty = input.InitialStock
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// UpdateProduct edits catalog fields only. Stock is changed exclusively
// through AdjustStock so the ledger stays complete.
func UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {

	product, err := utils.FetchSingleModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := authorizeShop(ctx, product.ShopId); err != nil {
		return nil, err
	}
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	product.CategoryId = input.CategoryId
	product.BrandId = input.BrandId
	product.Name = input.Name
	product.Description = input.Description
	product.Sku = input.Sku
	product.ImageUrl = input.ImageUrl
	product.Price = input.Price
	product.DiscountPrice = input.DiscountPrice

	db := config.GetDB()
	if err := db.WithContext(ctx).Save(product).Error; err != nil {
		return nil, err
	}
	return product, nil
}

// ModerateProduct approves or rejects a pending product. Admin only.
func ModerateProduct(ctx context.Context, id int, status ProductStatus) (*Product, error) {

	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}
	if status != ProductStatusApproved && status != ProductStatusRejected {
		return nil, utils.ErrorInvalidInput
	}

	product, err := utils.FetchSingleModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}
	if product.Status == status {
		return nil, utils.ErrorConflictingState
	}

	db := config.GetDB()
	tx := db.Begin()

	oldProduct := *product
	product.Status = status
	if err := tx.WithContext(ctx).Save(product).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := createHistory(tx.WithContext(ctx), "UPDATE", product.ID, "products", oldProduct, product, "Product moderation: "+string(status)+"."); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	return utils.FetchSingleModel[Product](ctx, id, "Shop", "Variants")
}

type ProductsEdge Edge[Product]

type ProductsConnection struct {
	PageInfo *PageInfo       `json:"pageInfo"`
	Edges    []*ProductsEdge `json:"edges"`
}

// PaginateProducts lists approved, active products for storefront browsing.
// Vendors see their own products regardless of moderation status.
func PaginateProducts(ctx context.Context, shopId int, categoryId int, limit int, after *string) (*ProductsConnection, error) {

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Product{})

	sessionShopId, _ := utils.GetShopIdFromContext(ctx)
	if shopId > 0 && shopId == sessionShopId {
		dbCtx = dbCtx.Where("shop_id = ?", shopId)
	} else {
		dbCtx = dbCtx.Where("status = ? AND is_active = true", ProductStatusApproved)
		if shopId > 0 {
			dbCtx = dbCtx.Where("shop_id = ?", shopId)
		}
	}
	if categoryId > 0 {
		dbCtx = dbCtx.Where("category_id = ?", categoryId)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[Product](dbCtx, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}

	conn := ProductsConnection{PageInfo: pageInfo}
	for i := range edges {
		edge := ProductsEdge(edges[i])
		conn.Edges = append(conn.Edges, &edge)
	}
	return &conn, nil
}
