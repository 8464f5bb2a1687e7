package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockMovement is the append-only stock ledger. Rows are never updated or
// deleted; corrections are posted as new entries. BalanceAfter snapshots the
// on-hand quantity at the moment the entry was posted, so the ledger can be
// audited without replaying it.
type StockMovement struct {
	ID            int             `gorm:"primary_key" json:"id"`
	ProductId     int             `gorm:"index;not null" json:"product_id"`
	VariantId     int             `gorm:"index;default:0" json:"variant_id"`
	ShopId        int             `gorm:"index;not null" json:"shop_id"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Type          MovementType    `gorm:"type:enum('initial','restock','order','cancel','correction','return','damage');not null" json:"type"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"balance_after"`
	ReferenceType string          `gorm:"size:50" json:"reference_type"`
	ReferenceId   int             `gorm:"index;default:0" json:"reference_id"`
	Note          string          `gorm:"type:text" json:"note"`
	CreatedById   int             `gorm:"index" json:"created_by_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewStockMovement struct {
	ProductId     int             `json:"product_id" binding:"required"`
	VariantId     int             `json:"variant_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Type          MovementType    `json:"type" binding:"required"`
	ReferenceType string          `json:"reference_type"`
	ReferenceId   int             `json:"reference_id"`
	Note          string          `json:"note"`
}

func (obj StockMovement) GetId() int {
	return obj.ID
}

// implements Cursor
func (obj StockMovement) GetCursor() string {
	return obj.CreatedAt.Format(time.RFC3339Nano)
}

// normalizeQuantity coerces the sign of a movement quantity to match its
// type: order and damage entries always remove stock, so a positive quantity
// for those types is flipped negative. Other types keep the caller's sign.
func normalizeQuantity(movementType MovementType, qty decimal.Decimal) decimal.Decimal {
	if movementType.IsOutbound() && qty.IsPositive() {
		return qty.Neg()
	}
	return qty
}

// adjustStockTx posts one ledger entry inside the caller's transaction.
//
// The product (or variant) row is locked FOR UPDATE before the balance is
// read, so concurrent adjustments serialize per product and every entry's
// BalanceAfter is exact. The new balance must not go negative.
func adjustStockTx(tx *gorm.DB, ctx context.Context, input *NewStockMovement) (*StockMovement, error) {

	if !input.Type.IsValid() {
		return nil, utils.ErrorInvalidInput
	}
	qty := normalizeQuantity(input.Type, input.Quantity)
	if qty.IsZero() {
		return nil, utils.ErrorInvalidInput
	}

	var shopId int
	var currentQty decimal.Decimal
	if input.VariantId > 0 {
		var variant ProductVariant
		if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND product_id = ?", input.VariantId, input.ProductId).
			First(&variant).Error; err != nil {
			return nil, utils.ErrorRecordNotFound
		}
		currentQty = variant.StockQty
		var product Product
		if err := tx.WithContext(ctx).Select("shop_id").First(&product, input.ProductId).Error; err != nil {
			return nil, utils.ErrorRecordNotFound
		}
		shopId = product.ShopId
	} else {
		var product Product
		if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&product, input.ProductId).Error; err != nil {
			return nil, utils.ErrorRecordNotFound
		}
		currentQty = product.StockQty
		shopId = product.ShopId
	}

	newQty := currentQty.Add(qty)
	if newQty.IsNegative() {
		return nil, utils.ErrorInsufficientStock
	}

	if input.VariantId > 0 {
		if err := tx.WithContext(ctx).Model(&ProductVariant{}).
			Where("id = ?", input.VariantId).Update("stock_qty", newQty).Error; err != nil {
			return nil, err
		}
	} else {
		if err := tx.WithContext(ctx).Model(&Product{}).
			Where("id = ?", input.ProductId).Update("stock_qty", newQty).Error; err != nil {
			return nil, err
		}
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	movement := StockMovement{
		ProductId:     input.ProductId,
		VariantId:     input.VariantId,
		ShopId:        shopId,
		Quantity:      qty,
		Type:          input.Type,
		BalanceAfter:  newQty,
		ReferenceType: input.ReferenceType,
		ReferenceId:   input.ReferenceId,
		Note:          input.Note,
		CreatedById:   userId,
	}
	if err := tx.WithContext(ctx).Create(&movement).Error; err != nil {
		return nil, err
	}
	return &movement, nil
}

// AdjustStock posts one ledger entry in its own transaction. Manual types
// only; order and cancel entries are posted by checkout and fulfilment.
func AdjustStock(ctx context.Context, input *NewStockMovement) (*StockMovement, error) {

	product, err := utils.FetchSingleModel[Product](ctx, input.ProductId)
	if err != nil {
		return nil, err
	}
	if _, err := authorizeShop(ctx, product.ShopId); err != nil {
		return nil, err
	}

	switch input.Type {
	case MovementTypeRestock, MovementTypeCorrection, MovementTypeReturn, MovementTypeDamage:
	default:
		return nil, utils.ErrorInvalidInput
	}

	db := config.GetDB()
	tx := db.Begin()

	movement, err := adjustStockTx(tx, ctx, input)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return movement, nil
}

// StockDrift reports one cached counter that disagrees with its ledger sum.
type StockDrift struct {
	ProductId int             `json:"product_id"`
	VariantId int             `json:"variant_id"`
	Cached    decimal.Decimal `json:"cached"`
	LedgerSum decimal.Decimal `json:"ledger_sum"`
	Fixed     bool            `json:"fixed"`
}

// RebuildStockCounters compares every cached stock_qty against the summed
// ledger and, when fix is set, rewrites the counter from the ledger. Admin
// only. The ledger is the source of truth; counters are a cache.
func RebuildStockCounters(ctx context.Context, fix bool) ([]*StockDrift, error) {

	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}

	db := config.GetDB()

	var sums []struct {
		ProductId int
		VariantId int
		Total     decimal.Decimal
	}
	if err := db.WithContext(ctx).Model(&StockMovement{}).
		Select("product_id, variant_id, COALESCE(SUM(quantity), 0) AS total").
		Group("product_id, variant_id").Scan(&sums).Error; err != nil {
		return nil, err
	}

	drifts := []*StockDrift{}
	for _, sum := range sums {
		var cached decimal.Decimal
		if sum.VariantId == 0 {
			var product Product
			if err := db.WithContext(ctx).First(&product, sum.ProductId).Error; err != nil {
				continue
			}
			cached = product.StockQty
		} else {
			var variant ProductVariant
			if err := db.WithContext(ctx).First(&variant, sum.VariantId).Error; err != nil {
				continue
			}
			cached = variant.StockQty
		}
		if cached.Equal(sum.Total) {
			continue
		}

		drift := StockDrift{
			ProductId: sum.ProductId,
			VariantId: sum.VariantId,
			Cached:    cached,
			LedgerSum: sum.Total,
		}
		if fix {
			var err error
			if sum.VariantId == 0 {
				err = db.WithContext(ctx).Model(&Product{}).
					Where("id = ?", sum.ProductId).Update("stock_qty", sum.Total).Error
			} else {
				err = db.WithContext(ctx).Model(&ProductVariant{}).
					Where("id = ?", sum.VariantId).Update("stock_qty", sum.Total).Error
			}
			if err != nil {
				return nil, err
			}
			drift.Fixed = true
		}
		drifts = append(drifts, &drift)
	}
	return drifts, nil
}

// GetVariantStock reads the cached on-hand quantity. variantId 0 means the
// product-level counter.
func GetVariantStock(ctx context.Context, productId int, variantId int) (decimal.Decimal, error) {

	product, err := utils.FetchSingleModel[Product](ctx, productId)
	if err != nil {
		return decimal.Zero, err
	}
	if _, err := authorizeShop(ctx, product.ShopId); err != nil {
		return decimal.Zero, err
	}

	if variantId == 0 {
		return product.StockQty, nil
	}
	db := config.GetDB()
	var variant ProductVariant
	if err := db.WithContext(ctx).Where("id = ? AND product_id = ?", variantId, productId).
		First(&variant).Error; err != nil {
		return decimal.Zero, utils.ErrorRecordNotFound
	}
	return variant.StockQty, nil
}

type StockMovementsEdge Edge[StockMovement]

type StockMovementsConnection struct {
	PageInfo *PageInfo             `json:"pageInfo"`
	Edges    []*StockMovementsEdge `json:"edges"`
}

// PaginateStockMovements lists ledger entries newest first.
func PaginateStockMovements(ctx context.Context, productId int, shopId int, limit int, after *string) (*StockMovementsConnection, error) {

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	shopId, err := authorizeShop(ctx, shopId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&StockMovement{}).Where("shop_id = ?", shopId)
	if productId > 0 {
		dbCtx = dbCtx.Where("product_id = ?", productId)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[StockMovement](dbCtx, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}

	conn := StockMovementsConnection{PageInfo: pageInfo}
	for i := range edges {
		edge := StockMovementsEdge(edges[i])
		conn.Edges = append(conn.Edges, &edge)
	}
	return &conn, nil
}
