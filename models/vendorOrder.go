package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VendorOrder is one vendor's slice of a customer order. Each vendor fulfils
// and settles its own slice independently of the other vendors in the order.
type VendorOrder struct {
	ID               int             `gorm:"primary_key" json:"id"`
	OrderId          int             `gorm:"index;not null" json:"order_id"`
	ShopId           int             `gorm:"index;not null" json:"shop_id"`
	Shop             *VendorShop     `gorm:"foreignKey:ShopId" json:"shop,omitempty"`
	Status           OrderStatus     `gorm:"type:enum('pending','processing','shipped','completed','cancelled');default:pending" json:"status"`
	Subtotal         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	CommissionAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"commission_amount"`
	Items            []*OrderItem    `gorm:"foreignKey:VendorOrderId" json:"items,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (obj VendorOrder) GetId() int {
	return obj.ID
}

// implements Cursor
func (obj VendorOrder) GetCursor() string {
	return obj.CreatedAt.Format(time.RFC3339Nano)
}

// validNextStatuses returns the allowed transitions for a vendor order.
// Fulfilment moves strictly forward; cancellation is allowed from any
// non-terminal state.
func (vo *VendorOrder) validNextStatuses() []OrderStatus {
	switch vo.Status {
	case OrderStatusPending:
		return []OrderStatus{OrderStatusProcessing, OrderStatusCancelled}
	case OrderStatusProcessing:
		return []OrderStatus{OrderStatusShipped, OrderStatusCancelled}
	case OrderStatusShipped:
		return []OrderStatus{OrderStatusCompleted, OrderStatusCancelled}
	}
	return nil
}

func (vo *VendorOrder) canTransitionTo(next OrderStatus) bool {
	for _, s := range vo.validNextStatuses() {
		if s == next {
			return true
		}
	}
	return false
}

// CommissionFor computes the marketplace commission on a subtotal.
func CommissionFor(subtotal decimal.Decimal, percentage decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(percentage).Div(decimal.NewFromInt(100)).Round(4)
}

// UpdateVendorOrderStatus advances one vendor order through its lifecycle.
//
// Completing credits the shop wallet with subtotal minus commission, in the
// same transaction as the status change. Cancelling restocks every item with
// cancel ledger entries. Either way the parent order status is recomputed.
func UpdateVendorOrderStatus(ctx context.Context, id int, next OrderStatus) (*VendorOrder, error) {

	if !next.IsValid() {
		return nil, utils.ErrorInvalidInput
	}

	db := config.GetDB()
	tx := db.Begin()

	var vendorOrder VendorOrder
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items").First(&vendorOrder, id).Error; err != nil {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}

	if _, err := authorizeShop(ctx, vendorOrder.ShopId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if !vendorOrder.canTransitionTo(next) {
		tx.Rollback()
		return nil, utils.ErrorConflictingState
	}

	oldStatus := vendorOrder.Status
	vendorOrder.Status = next

	switch next {
	case OrderStatusCompleted:
		var shop VendorShop
		if err := tx.WithContext(ctx).First(&shop, vendorOrder.ShopId).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		commission := CommissionFor(vendorOrder.Subtotal, shop.SellCommissionPercentage)
		vendorOrder.CommissionAmount = commission

		earning := vendorOrder.Subtotal.Sub(commission)
		if earning.IsPositive() {
			if _, err := recordWalletTransactionTx(tx, ctx, &NewVendorTransaction{
				ShopId:        vendorOrder.ShopId,
				Type:          TransactionTypeCredit,
				Amount:        earning,
				ReferenceType: "vendor_orders",
				ReferenceId:   vendorOrder.ID,
				Description:   fmt.Sprintf("Earning for vendor order #%d", vendorOrder.ID),
			}); err != nil {
				tx.Rollback()
				return nil, err
			}
		}

		if err := tx.WithContext(ctx).Model(&VendorShop{}).Where("id = ?", vendorOrder.ShopId).
			Update("total_sell", gorm.Expr("total_sell + ?", vendorOrder.Subtotal)).Error; err != nil {
			tx.Rollback()
			return nil, err
		}

	case OrderStatusCancelled:
		// return every reserved item to stock
		for _, item := range vendorOrder.Items {
			if _, err := adjustStockTx(tx, ctx, &NewStockMovement{
				ProductId:     item.ProductId,
				VariantId:     item.VariantId,
				Quantity:      item.Quantity,
				Type:          MovementTypeCancel,
				ReferenceType: "vendor_orders",
				ReferenceId:   vendorOrder.ID,
			}); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
	}

	if err := tx.WithContext(ctx).Save(&vendorOrder).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := recomputeOrderStatus(tx, ctx, vendorOrder.OrderId); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := createHistory(tx.WithContext(ctx), "UPDATE", vendorOrder.ID, "vendor_orders", oldStatus, next,
		fmt.Sprintf("Vendor order #%d: %s -> %s.", vendorOrder.ID, oldStatus, next)); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &vendorOrder, nil
}

// recomputeOrderStatus derives the parent order's status from its vendor
// orders: all cancelled -> cancelled; all terminal with at least one
// completed -> completed; any vendor past pending -> processing.
func recomputeOrderStatus(tx *gorm.DB, ctx context.Context, orderId int) error {

	var statuses []OrderStatus
	if err := tx.WithContext(ctx).Model(&VendorOrder{}).
		Where("order_id = ?", orderId).Pluck("status", &statuses).Error; err != nil {
		return err
	}
	if len(statuses) == 0 {
		return nil
	}

	allCancelled := true
	allTerminal := true
	anyStarted := false
	for _, s := range statuses {
		if s != OrderStatusCancelled {
			allCancelled = false
		}
		if !s.IsTerminal() {
			allTerminal = false
		}
		if s != OrderStatusPending {
			anyStarted = true
		}
	}

	status := OrderStatusPending
	switch {
	case allCancelled:
		status = OrderStatusCancelled
	case allTerminal:
		status = OrderStatusCompleted
	case anyStarted:
		status = OrderStatusProcessing
	}

	return tx.WithContext(ctx).Model(&Order{}).
		Where("id = ?", orderId).Update("status", status).Error
}

func GetVendorOrder(ctx context.Context, id int) (*VendorOrder, error) {

	vendorOrder, err := utils.FetchSingleModel[VendorOrder](ctx, id, "Items", "Shop")
	if err != nil {
		return nil, err
	}
	if _, err := authorizeShop(ctx, vendorOrder.ShopId); err != nil {
		return nil, err
	}
	return vendorOrder, nil
}

type VendorOrdersEdge Edge[VendorOrder]

type VendorOrdersConnection struct {
	PageInfo *PageInfo           `json:"pageInfo"`
	Edges    []*VendorOrdersEdge `json:"edges"`
}

// PaginateVendorOrders lists one shop's orders newest first.
func PaginateVendorOrders(ctx context.Context, shopId int, status *OrderStatus, limit int, after *string) (*VendorOrdersConnection, error) {

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	shopId, err := authorizeShop(ctx, shopId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&VendorOrder{}).Where("shop_id = ?", shopId)
	if status != nil {
		dbCtx = dbCtx.Where("status = ?", *status)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[VendorOrder](dbCtx, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}

	conn := VendorOrdersConnection{PageInfo: pageInfo}
	for i := range edges {
		edge := VendorOrdersEdge(edges[i])
		conn.Edges = append(conn.Edges, &edge)
	}
	return &conn, nil
}
