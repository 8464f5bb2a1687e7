package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Order struct {
	ID              int             `gorm:"primary_key" json:"id"`
	CustomerId      int             `gorm:"index;not null" json:"customer_id"`
	Customer        *User           `gorm:"foreignKey:CustomerId" json:"customer,omitempty"`
	OrderNumber     string          `gorm:"size:100;not null;unique" json:"order_number"`
	Status          OrderStatus     `gorm:"type:enum('pending','processing','shipped','completed','cancelled');default:pending" json:"status"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	ShippingAddress string          `gorm:"type:text;not null" json:"shipping_address"`
	Phone           string          `gorm:"size:20" json:"phone"`
	Note            string          `gorm:"type:text" json:"note"`
	VendorOrders    []*VendorOrder  `gorm:"foreignKey:OrderId" json:"vendor_orders,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type OrderItem struct {
	ID            int             `gorm:"primary_key" json:"id"`
	VendorOrderId int             `gorm:"index;not null" json:"vendor_order_id"`
	ProductId     int             `gorm:"index;not null" json:"product_id"`
	VariantId     int             `gorm:"index;default:0" json:"variant_id"`
	ProductName   string          `gorm:"size:255;not null" json:"product_name"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	LineTotal     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"line_total"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type CheckoutLine struct {
	ProductId int             `json:"product_id" binding:"required"`
	VariantId int             `json:"variant_id"`
	Quantity  decimal.Decimal `json:"quantity" binding:"required"`
}

type CheckoutInput struct {
	Lines           []*CheckoutLine  `json:"lines" binding:"required"`
	ShippingAddress string           `json:"shipping_address" binding:"required"`
	Phone           string           `json:"phone"`
	Note            string           `json:"note"`
	// DeclaredTotal is what the client displayed to the buyer. The order
	// total is always recomputed server-side; a mismatch rejects checkout.
	DeclaredTotal *decimal.Decimal `json:"declared_total"`
}

func (obj Order) GetId() int {
	return obj.ID
}

// implements Cursor
func (obj Order) GetCursor() string {
	return obj.CreatedAt.Format(time.RFC3339Nano)
}

// checkoutGroup is one vendor's slice of a cart.
type checkoutGroup struct {
	ShopId int
	Lines  []*CheckoutLine
}

// groupCheckoutLines splits cart lines per vendor shop, preserving the order
// shops first appear in the cart. Duplicate lines (same product and variant)
// are merged by summing quantities.
func groupCheckoutLines(lines []*CheckoutLine, shopOf map[int]int) []checkoutGroup {

	groups := make([]checkoutGroup, 0)
	groupIndex := make(map[int]int) // shopId -> index in groups

	for _, line := range lines {
		shopId := shopOf[line.ProductId]
		idx, seen := groupIndex[shopId]
		if !seen {
			groups = append(groups, checkoutGroup{ShopId: shopId})
			idx = len(groups) - 1
			groupIndex[shopId] = idx
		}

		merged := false
		for _, existing := range groups[idx].Lines {
			if existing.ProductId == line.ProductId && existing.VariantId == line.VariantId {
				existing.Quantity = existing.Quantity.Add(line.Quantity)
				merged = true
				break
			}
		}
		if !merged {
			groups[idx].Lines = append(groups[idx].Lines, &CheckoutLine{
				ProductId: line.ProductId,
				VariantId: line.VariantId,
				Quantity:  line.Quantity,
			})
		}
	}

	return groups
}

// stockPosting pairs one merged cart line with the shop it settles under.
type stockPosting struct {
	ShopId int
	Line   *CheckoutLine
}

// orderStockPostings flattens the grouped lines into a single sequence
// sorted by (product, variant) across all shops, so every checkout acquires
// stock row locks in the same order no matter how the cart interleaves
// vendors.
func orderStockPostings(groups []checkoutGroup) []stockPosting {

	postings := make([]stockPosting, 0)
	for _, group := range groups {
		for _, line := range group.Lines {
			postings = append(postings, stockPosting{ShopId: group.ShopId, Line: line})
		}
	}
	sort.Slice(postings, func(i, j int) bool {
		if postings[i].Line.ProductId != postings[j].Line.ProductId {
			return postings[i].Line.ProductId < postings[j].Line.ProductId
		}
		return postings[i].Line.VariantId < postings[j].Line.VariantId
	})
	return postings
}

func newOrderNumber() string {
	return "ORD-" + time.Now().UTC().Format("20060102") + "-" + uuid.NewString()[:8]
}

// Checkout turns a cart into one Order split into per-vendor sub-orders,
// reserving stock for every line. The whole cart commits or none of it does:
// any insufficient stock rolls back all prior reservations.
func Checkout(ctx context.Context, input *CheckoutInput) (*Order, error) {

	customerId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || customerId == 0 {
		return nil, utils.ErrorPermissionDenied
	}
	if len(input.Lines) == 0 {
		return nil, utils.ErrorEmptyCart
	}
	for _, line := range input.Lines {
		if line == nil || !line.Quantity.IsPositive() {
			return nil, utils.ErrorInvalidInput
		}
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return nil, errors.New("invalid phone number")
		}
	}

	db := config.GetDB()

	// resolve every product once: shop, price, purchasability
	productIds := make([]int, 0, len(input.Lines))
	for _, line := range input.Lines {
		productIds = append(productIds, line.ProductId)
	}
	var products []*Product
	if err := db.WithContext(ctx).Where("id IN ?", utils.UniqueSlice(productIds)).Find(&products).Error; err != nil {
		return nil, err
	}
	productOf := make(map[int]*Product, len(products))
	shopOf := make(map[int]int, len(products))
	for _, p := range products {
		productOf[p.ID] = p
		shopOf[p.ID] = p.ShopId
	}
	for _, line := range input.Lines {
		product, found := productOf[line.ProductId]
		if !found {
			return nil, utils.ErrorRecordNotFound
		}
		if product.Status != ProductStatusApproved || !utils.DereferencePtr(product.IsActive) {
			return nil, fmt.Errorf("product %q is not available", product.Name)
		}
	}

	groups := groupCheckoutLines(input.Lines, shopOf)

	tx := db.Begin()

	order := Order{
		CustomerId:      customerId,
		OrderNumber:     newOrderNumber(),
		Status:          OrderStatusPending,
		ShippingAddress: input.ShippingAddress,
		Phone:           input.Phone,
		Note:            input.Note,
	}
	if err := tx.WithContext(ctx).Create(&order).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	vendorOrders := make([]*VendorOrder, 0, len(groups))
	vendorOrderOf := make(map[int]*VendorOrder, len(groups))
	for _, group := range groups {
		vendorOrder := VendorOrder{
			OrderId: order.ID,
			ShopId:  group.ShopId,
			Status:  OrderStatusPending,
		}
		if err := tx.WithContext(ctx).Create(&vendorOrder).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		vo := vendorOrder
		vendorOrders = append(vendorOrders, &vo)
		vendorOrderOf[group.ShopId] = &vo
	}

	// reserve stock for every line in one globally sorted pass so concurrent
	// checkouts acquire row locks in the same sequence regardless of how
	// their carts interleave vendors
	for _, posting := range orderStockPostings(groups) {
		line := posting.Line
		product := productOf[line.ProductId]
		vendorOrder := vendorOrderOf[posting.ShopId]

		unitPrice := product.EffectivePrice()
		if line.VariantId > 0 {
			var variant ProductVariant
			if err := tx.WithContext(ctx).Where("id = ? AND product_id = ?", line.VariantId, line.ProductId).
				First(&variant).Error; err != nil {
				tx.Rollback()
				return nil, utils.ErrorRecordNotFound
			}
			if variant.Price.IsPositive() {
				unitPrice = variant.Price
			}
		}

		if _, err := adjustStockTx(tx, ctx, &NewStockMovement{
			ProductId:     line.ProductId,
			VariantId:     line.VariantId,
			Quantity:      line.Quantity,
			Type:          MovementTypeOrder,
			ReferenceType: "orders",
			ReferenceId:   order.ID,
		}); err != nil {
			tx.Rollback()
			return nil, err
		}

		lineTotal := unitPrice.Mul(line.Quantity)
		item := OrderItem{
			VendorOrderId: vendorOrder.ID,
			ProductId:     line.ProductId,
			VariantId:     line.VariantId,
			ProductName:   product.Name,
			Quantity:      line.Quantity,
			UnitPrice:     unitPrice,
			LineTotal:     lineTotal,
		}
		if err := tx.WithContext(ctx).Create(&item).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		vendorOrder.Items = append(vendorOrder.Items, &item)
		vendorOrder.Subtotal = vendorOrder.Subtotal.Add(lineTotal)
	}

	orderTotal := decimal.Zero
	for _, vendorOrder := range vendorOrders {
		if err := tx.WithContext(ctx).Model(&VendorOrder{}).
			Where("id = ?", vendorOrder.ID).Update("subtotal", vendorOrder.Subtotal).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		orderTotal = orderTotal.Add(vendorOrder.Subtotal)
	}

	if input.DeclaredTotal != nil && !input.DeclaredTotal.Equal(orderTotal) {
		tx.Rollback()
		return nil, utils.ErrorTotalMismatch
	}

	order.TotalAmount = orderTotal
	if err := tx.WithContext(ctx).Model(&Order{}).
		Where("id = ?", order.ID).Update("total_amount", orderTotal).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	order.VendorOrders = vendorOrders
	return &order, nil
}

func GetOrder(ctx context.Context, id int) (*Order, error) {

	order, err := utils.FetchSingleModel[Order](ctx, id, "VendorOrders", "VendorOrders.Items")
	if err != nil {
		return nil, err
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	isAdmin, _ := utils.GetIsAdminFromContext(ctx)
	if !isAdmin && order.CustomerId != userId {
		return nil, utils.ErrorPermissionDenied
	}
	return order, nil
}

type OrdersEdge Edge[Order]

type OrdersConnection struct {
	PageInfo *PageInfo     `json:"pageInfo"`
	Edges    []*OrdersEdge `json:"edges"`
}

// PaginateOrders lists the caller's orders newest first. Admins see all.
func PaginateOrders(ctx context.Context, limit int, after *string) (*OrdersConnection, error) {

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Order{})

	isAdmin, _ := utils.GetIsAdminFromContext(ctx)
	if !isAdmin {
		userId, ok := utils.GetUserIdFromContext(ctx)
		if !ok || userId == 0 {
			return nil, utils.ErrorPermissionDenied
		}
		dbCtx = dbCtx.Where("customer_id = ?", userId)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[Order](dbCtx, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}

	conn := OrdersConnection{PageInfo: pageInfo}
	for i := range edges {
		edge := OrdersEdge(edges[i])
		conn.Edges = append(conn.Edges, &edge)
	}
	return &conn, nil
}
