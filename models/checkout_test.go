package models_test

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/models"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/shopspring/decimal"
)

func TestCheckoutSplitsOrderPerVendor(t *testing.T) {
	startTestStack(t)

	adminCtx := adminContext(t)
	vendorACtx, shopA := newApprovedShop(t, adminCtx, "10")
	vendorBCtx, shopB := newApprovedShop(t, adminCtx, "5")

	chair := newApprovedProduct(t, vendorACtx, adminCtx, "Chair", 100, 20)
	table := newApprovedProduct(t, vendorACtx, adminCtx, "Table", 250, 20)
	lamp := newApprovedProduct(t, vendorBCtx, adminCtx, "Lamp", 40, 20)

	customerCtx := newCustomerContext(t)
	order, err := models.Checkout(customerCtx, &models.CheckoutInput{
		Lines: []*models.CheckoutLine{
			{ProductId: chair.ID, Quantity: decimal.NewFromInt(2)},
			{ProductId: lamp.ID, Quantity: decimal.NewFromInt(3)},
			{ProductId: table.ID, Quantity: decimal.NewFromInt(1)},
		},
		ShippingAddress: "No. 12, Yangon",
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// 2*100 + 1*250 + 3*40
	if !order.TotalAmount.Equal(decimal.NewFromInt(570)) {
		t.Errorf("total_amount = %s, want 570", order.TotalAmount)
	}
	if len(order.VendorOrders) != 2 {
		t.Fatalf("vendor orders = %d, want 2", len(order.VendorOrders))
	}

	subtotals := map[int]decimal.Decimal{}
	for _, vo := range order.VendorOrders {
		if vo.Status != models.OrderStatusPending {
			t.Errorf("vendor order %d status = %s, want pending", vo.ID, vo.Status)
		}
		subtotals[vo.ShopId] = vo.Subtotal
	}
	if !subtotals[shopA.ID].Equal(decimal.NewFromInt(450)) {
		t.Errorf("shop A subtotal = %s, want 450", subtotals[shopA.ID])
	}
	if !subtotals[shopB.ID].Equal(decimal.NewFromInt(120)) {
		t.Errorf("shop B subtotal = %s, want 120", subtotals[shopB.ID])
	}

	// stock was reserved and logged against the order
	chairAfter, err := models.GetProduct(vendorACtx, chair.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !chairAfter.StockQty.Equal(decimal.NewFromInt(18)) {
		t.Errorf("chair stock = %s, want 18", chairAfter.StockQty)
	}
	var movement models.StockMovement
	if err := config.GetDB().
		Where("product_id = ? AND type = ?", chair.ID, models.MovementTypeOrder).
		First(&movement).Error; err != nil {
		t.Fatalf("order movement: %v", err)
	}
	if movement.ReferenceType != "orders" || movement.ReferenceId != order.ID {
		t.Errorf("movement reference = %s/%d, want orders/%d", movement.ReferenceType, movement.ReferenceId, order.ID)
	}
	if !movement.Quantity.Equal(decimal.NewFromInt(-2)) {
		t.Errorf("movement quantity = %s, want -2", movement.Quantity)
	}
}

func TestCheckoutRollsBackOnInsufficientStock(t *testing.T) {
	startTestStack(t)

	adminCtx := adminContext(t)
	vendorACtx, _ := newApprovedShop(t, adminCtx, "10")
	vendorBCtx, _ := newApprovedShop(t, adminCtx, "10")

	plentiful := newApprovedProduct(t, vendorACtx, adminCtx, "Plentiful", 100, 50)
	scarce := newApprovedProduct(t, vendorBCtx, adminCtx, "Scarce", 100, 2)

	customerCtx := newCustomerContext(t)
	_, err := models.Checkout(customerCtx, &models.CheckoutInput{
		Lines: []*models.CheckoutLine{
			{ProductId: plentiful.ID, Quantity: decimal.NewFromInt(5)},
			{ProductId: scarce.ID, Quantity: decimal.NewFromInt(10)},
		},
		ShippingAddress: "No. 12, Yangon",
	})
	if !errors.Is(err, utils.ErrorInsufficientStock) {
		t.Fatalf("Checkout: err = %v, want ErrorInsufficientStock", err)
	}

	// the reservation on the first vendor's line must be undone too
	after, err := models.GetProduct(vendorACtx, plentiful.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !after.StockQty.Equal(decimal.NewFromInt(50)) {
		t.Errorf("stock after rollback = %s, want 50", after.StockQty)
	}

	db := config.GetDB()
	var orderCount int64
	if err := db.Model(&models.Order{}).Count(&orderCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orderCount != 0 {
		t.Errorf("orders persisted = %d, want 0", orderCount)
	}
	var movementCount int64
	if err := db.Model(&models.StockMovement{}).
		Where("type = ?", models.MovementTypeOrder).Count(&movementCount).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	if movementCount != 0 {
		t.Errorf("order movements persisted = %d, want 0", movementCount)
	}
}

func TestCheckoutRejectsDeclaredTotalMismatch(t *testing.T) {
	startTestStack(t)

	adminCtx := adminContext(t)
	vendorCtx, _ := newApprovedShop(t, adminCtx, "10")
	product := newApprovedProduct(t, vendorCtx, adminCtx, "Priced Widget", 100, 10)

	customerCtx := newCustomerContext(t)
	staleTotal := decimal.NewFromInt(150)
	_, err := models.Checkout(customerCtx, &models.CheckoutInput{
		Lines: []*models.CheckoutLine{
			{ProductId: product.ID, Quantity: decimal.NewFromInt(2)},
		},
		ShippingAddress: "No. 12, Yangon",
		DeclaredTotal:   &staleTotal,
	})
	if !errors.Is(err, utils.ErrorTotalMismatch) {
		t.Fatalf("Checkout: err = %v, want ErrorTotalMismatch", err)
	}

	after, err := models.GetProduct(vendorCtx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !after.StockQty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("stock after mismatch = %s, want 10", after.StockQty)
	}

	// matching declared total goes through
	goodTotal := decimal.NewFromInt(200)
	order, err := models.Checkout(customerCtx, &models.CheckoutInput{
		Lines: []*models.CheckoutLine{
			{ProductId: product.ID, Quantity: decimal.NewFromInt(2)},
		},
		ShippingAddress: "No. 12, Yangon",
		DeclaredTotal:   &goodTotal,
	})
	if err != nil {
		t.Fatalf("Checkout with matching total: %v", err)
	}
	if !order.TotalAmount.Equal(goodTotal) {
		t.Errorf("total_amount = %s, want 200", order.TotalAmount)
	}
}

func TestCheckoutValidatesCart(t *testing.T) {
	startTestStack(t)

	adminCtx := adminContext(t)
	vendorCtx, _ := newApprovedShop(t, adminCtx, "10")
	product := newApprovedProduct(t, vendorCtx, adminCtx, "Widget", 100, 10)

	customerCtx := newCustomerContext(t)

	_, err := models.Checkout(customerCtx, &models.CheckoutInput{
		Lines:           []*models.CheckoutLine{},
		ShippingAddress: "No. 12, Yangon",
	})
	if !errors.Is(err, utils.ErrorEmptyCart) {
		t.Errorf("empty cart: err = %v, want ErrorEmptyCart", err)
	}

	_, err = models.Checkout(customerCtx, &models.CheckoutInput{
		Lines: []*models.CheckoutLine{
			{ProductId: product.ID, Quantity: decimal.NewFromInt(-1)},
		},
		ShippingAddress: "No. 12, Yangon",
	})
	if !errors.Is(err, utils.ErrorInvalidInput) {
		t.Errorf("negative quantity: err = %v, want ErrorInvalidInput", err)
	}

	// a null cart element decodes to a nil line
	_, err = models.Checkout(customerCtx, &models.CheckoutInput{
		Lines: []*models.CheckoutLine{
			nil,
			{ProductId: product.ID, Quantity: decimal.NewFromInt(1)},
		},
		ShippingAddress: "No. 12, Yangon",
	})
	if !errors.Is(err, utils.ErrorInvalidInput) {
		t.Errorf("nil cart line: err = %v, want ErrorInvalidInput", err)
	}

	// a product still pending moderation is not purchasable
	unmoderated, err := models.CreateProduct(vendorCtx, &models.NewProduct{
		Name:         "Unreviewed",
		Price:        decimal.NewFromInt(10),
		InitialStock: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	_, err = models.Checkout(customerCtx, &models.CheckoutInput{
		Lines: []*models.CheckoutLine{
			{ProductId: unmoderated.ID, Quantity: decimal.NewFromInt(1)},
		},
		ShippingAddress: "No. 12, Yangon",
	})
	if err == nil {
		t.Error("unapproved product: expected error, got nil")
	}
}
