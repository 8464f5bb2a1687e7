package models_test

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/models"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/shopspring/decimal"
)

// placeOrder runs a single-line checkout and returns the resulting vendor order.
func placeOrder(t *testing.T, product *models.Product, quantity int64) *models.VendorOrder {
	t.Helper()
	customerCtx := newCustomerContext(t)
	order, err := models.Checkout(customerCtx, &models.CheckoutInput{
		Lines: []*models.CheckoutLine{
			{ProductId: product.ID, Quantity: decimal.NewFromInt(quantity)},
		},
		ShippingAddress: "No. 12, Yangon",
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if len(order.VendorOrders) != 1 {
		t.Fatalf("vendor orders = %d, want 1", len(order.VendorOrders))
	}
	return order.VendorOrders[0]
}

func TestVendorOrderCompletionCreditsWallet(t *testing.T) {
	startTestStack(t)

	adminCtx := adminContext(t)
	vendorCtx, shop := newApprovedShop(t, adminCtx, "5")
	product := newApprovedProduct(t, vendorCtx, adminCtx, "Earner", 100, 50)

	vendorOrder := placeOrder(t, product, 4) // subtotal 400

	for _, next := range []models.OrderStatus{
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusCompleted,
	} {
		if _, err := models.UpdateVendorOrderStatus(vendorCtx, vendorOrder.ID, next); err != nil {
			t.Fatalf("UpdateVendorOrderStatus(%s): %v", next, err)
		}
	}

	completed, err := models.GetVendorOrder(vendorCtx, vendorOrder.ID)
	if err != nil {
		t.Fatalf("GetVendorOrder: %v", err)
	}
	if !completed.CommissionAmount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("commission = %s, want 20", completed.CommissionAmount)
	}

	wallet, err := models.GetVendorWallet(vendorCtx, shop.ID)
	if err != nil {
		t.Fatalf("GetVendorWallet: %v", err)
	}
	if !wallet.Balance.Equal(decimal.NewFromInt(380)) {
		t.Errorf("wallet balance = %s, want 380 (400 - 5%% commission)", wallet.Balance)
	}

	var txn models.VendorTransaction
	if err := config.GetDB().
		Where("shop_id = ? AND type = ?", shop.ID, models.TransactionTypeCredit).
		First(&txn).Error; err != nil {
		t.Fatalf("credit transaction: %v", err)
	}
	if !txn.Amount.Equal(decimal.NewFromInt(380)) {
		t.Errorf("credit amount = %s, want 380", txn.Amount)
	}
	if !txn.ClosingBalance.Equal(decimal.NewFromInt(380)) {
		t.Errorf("closing_balance = %s, want 380", txn.ClosingBalance)
	}
	if txn.ReferenceType != "vendor_orders" || txn.ReferenceId != vendorOrder.ID {
		t.Errorf("reference = %s/%d, want vendor_orders/%d", txn.ReferenceType, txn.ReferenceId, vendorOrder.ID)
	}

	// completed is terminal
	_, err = models.UpdateVendorOrderStatus(vendorCtx, vendorOrder.ID, models.OrderStatusProcessing)
	if !errors.Is(err, utils.ErrorConflictingState) {
		t.Errorf("transition out of completed: err = %v, want ErrorConflictingState", err)
	}
}

func TestVendorOrderCancellationRestocks(t *testing.T) {
	startTestStack(t)

	adminCtx := adminContext(t)
	vendorCtx, shop := newApprovedShop(t, adminCtx, "5")
	product := newApprovedProduct(t, vendorCtx, adminCtx, "Returned", 100, 10)

	vendorOrder := placeOrder(t, product, 3)

	before, err := models.GetProduct(vendorCtx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !before.StockQty.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("stock after checkout = %s, want 7", before.StockQty)
	}

	if _, err := models.UpdateVendorOrderStatus(vendorCtx, vendorOrder.ID, models.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel vendor order: %v", err)
	}

	after, err := models.GetProduct(vendorCtx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !after.StockQty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("stock after cancel = %s, want 10", after.StockQty)
	}

	var movement models.StockMovement
	if err := config.GetDB().
		Where("product_id = ? AND type = ?", product.ID, models.MovementTypeCancel).
		First(&movement).Error; err != nil {
		t.Fatalf("cancel movement: %v", err)
	}
	if !movement.Quantity.Equal(decimal.NewFromInt(3)) {
		t.Errorf("cancel quantity = %s, want 3", movement.Quantity)
	}

	// a cancelled order earns nothing
	wallet, err := models.GetVendorWallet(vendorCtx, shop.ID)
	if err != nil {
		t.Fatalf("GetVendorWallet: %v", err)
	}
	if !wallet.Balance.Equal(decimal.Zero) {
		t.Errorf("wallet balance = %s, want 0", wallet.Balance)
	}

	// the parent order follows its only sub-order
	var parent models.Order
	if err := config.GetDB().First(&parent, vendorOrder.OrderId).Error; err != nil {
		t.Fatalf("fetch parent order: %v", err)
	}
	if parent.Status != models.OrderStatusCancelled {
		t.Errorf("parent order status = %s, want cancelled", parent.Status)
	}
}

func TestWalletTransactionRules(t *testing.T) {
	startTestStack(t)

	adminCtx := adminContext(t)
	vendorCtx, shop := newApprovedShop(t, adminCtx, "5")

	// manual postings are admin only
	_, err := models.RecordWalletTransaction(vendorCtx, &models.NewVendorTransaction{
		ShopId: shop.ID,
		Type:   models.TransactionTypeCredit,
		Amount: decimal.NewFromInt(100),
	})
	if !errors.Is(err, utils.ErrorPermissionDenied) {
		t.Errorf("vendor manual credit: err = %v, want ErrorPermissionDenied", err)
	}

	// payout postings only happen through the payout flow
	_, err = models.RecordWalletTransaction(adminCtx, &models.NewVendorTransaction{
		ShopId: shop.ID,
		Type:   models.TransactionTypePayout,
		Amount: decimal.NewFromInt(100),
	})
	if !errors.Is(err, utils.ErrorInvalidInput) {
		t.Errorf("manual payout posting: err = %v, want ErrorInvalidInput", err)
	}

	// a debit past the balance is refused
	if _, err := models.RecordWalletTransaction(adminCtx, &models.NewVendorTransaction{
		ShopId:      shop.ID,
		Type:        models.TransactionTypeCredit,
		Amount:      decimal.NewFromInt(100),
		Description: "promo credit",
	}); err != nil {
		t.Fatalf("admin credit: %v", err)
	}
	_, err = models.RecordWalletTransaction(adminCtx, &models.NewVendorTransaction{
		ShopId: shop.ID,
		Type:   models.TransactionTypeDebit,
		Amount: decimal.NewFromInt(150),
	})
	if !errors.Is(err, utils.ErrorInsufficientFunds) {
		t.Errorf("overdraft debit: err = %v, want ErrorInsufficientFunds", err)
	}

	// closing balances chain across postings
	if _, err := models.RecordWalletTransaction(adminCtx, &models.NewVendorTransaction{
		ShopId: shop.ID,
		Type:   models.TransactionTypeDebit,
		Amount: decimal.NewFromInt(30),
	}); err != nil {
		t.Fatalf("admin debit: %v", err)
	}
	var txns []models.VendorTransaction
	if err := config.GetDB().
		Where("shop_id = ?", shop.ID).Order("id ASC").Find(&txns).Error; err != nil {
		t.Fatalf("fetch transactions: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("transactions = %d, want 2", len(txns))
	}
	running := decimal.Zero
	for _, txn := range txns {
		if txn.Type.IsOutgoing() {
			running = running.Sub(txn.Amount)
		} else {
			running = running.Add(txn.Amount)
		}
		if !txn.ClosingBalance.Equal(running) {
			t.Errorf("txn %d closing_balance = %s, want %s", txn.ID, txn.ClosingBalance, running)
		}
	}
	wallet, err := models.GetVendorWallet(vendorCtx, shop.ID)
	if err != nil {
		t.Fatalf("GetVendorWallet: %v", err)
	}
	if !wallet.Balance.Equal(running) {
		t.Errorf("wallet balance = %s, want %s", wallet.Balance, running)
	}
}

func TestPayoutLifecycle(t *testing.T) {
	startTestStack(t)

	adminCtx := adminContext(t)
	vendorCtx, shop := newApprovedShop(t, adminCtx, "5")

	if _, err := models.RecordWalletTransaction(adminCtx, &models.NewVendorTransaction{
		ShopId:      shop.ID,
		Type:        models.TransactionTypeCredit,
		Amount:      decimal.NewFromInt(500),
		Description: "seed balance",
	}); err != nil {
		t.Fatalf("seed credit: %v", err)
	}

	// more than the balance
	_, err := models.RequestPayout(vendorCtx, &models.NewVendorPayout{
		Amount: decimal.NewFromInt(800),
	})
	if !errors.Is(err, utils.ErrorInsufficientFunds) {
		t.Fatalf("over-balance request: err = %v, want ErrorInsufficientFunds", err)
	}

	payout, err := models.RequestPayout(vendorCtx, &models.NewVendorPayout{
		Amount: decimal.NewFromInt(200),
		Note:   "weekly payout",
	})
	if err != nil {
		t.Fatalf("RequestPayout: %v", err)
	}
	if payout.Status != models.PayoutStatusPending {
		t.Errorf("payout status = %s, want pending", payout.Status)
	}

	// only one open payout per shop
	_, err = models.RequestPayout(vendorCtx, &models.NewVendorPayout{
		Amount: decimal.NewFromInt(50),
	})
	if !errors.Is(err, utils.ErrorConflictingState) {
		t.Errorf("second open payout: err = %v, want ErrorConflictingState", err)
	}

	// pending cannot jump straight to completed
	_, err = models.TransitionPayout(adminCtx, payout.ID, models.PayoutStatusCompleted, "")
	if !errors.Is(err, utils.ErrorConflictingState) {
		t.Errorf("pending -> completed: err = %v, want ErrorConflictingState", err)
	}

	if _, err := models.TransitionPayout(adminCtx, payout.ID, models.PayoutStatusProcessing, ""); err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}

	// the wallet is only debited on completion
	wallet, err := models.GetVendorWallet(vendorCtx, shop.ID)
	if err != nil {
		t.Fatalf("GetVendorWallet: %v", err)
	}
	if !wallet.Balance.Equal(decimal.NewFromInt(500)) {
		t.Errorf("balance while processing = %s, want 500", wallet.Balance)
	}

	completed, err := models.TransitionPayout(adminCtx, payout.ID, models.PayoutStatusCompleted, "")
	if err != nil {
		t.Fatalf("processing -> completed: %v", err)
	}
	if completed.ProcessedAt == nil {
		t.Error("completed payout has no processed_at")
	}

	wallet, err = models.GetVendorWallet(vendorCtx, shop.ID)
	if err != nil {
		t.Fatalf("GetVendorWallet: %v", err)
	}
	if !wallet.Balance.Equal(decimal.NewFromInt(300)) {
		t.Errorf("balance after payout = %s, want 300", wallet.Balance)
	}
	var txn models.VendorTransaction
	if err := config.GetDB().
		Where("shop_id = ? AND type = ?", shop.ID, models.TransactionTypePayout).
		First(&txn).Error; err != nil {
		t.Fatalf("payout transaction: %v", err)
	}
	if !txn.Amount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("payout amount = %s, want 200", txn.Amount)
	}
	if txn.ReferenceType != "vendor_payouts" || txn.ReferenceId != payout.ID {
		t.Errorf("reference = %s/%d, want vendor_payouts/%d", txn.ReferenceType, txn.ReferenceId, payout.ID)
	}

	// terminal payouts never move again
	_, err = models.TransitionPayout(adminCtx, payout.ID, models.PayoutStatusRejected, "too late")
	if !errors.Is(err, utils.ErrorConflictingState) {
		t.Errorf("transition out of completed: err = %v, want ErrorConflictingState", err)
	}

	// with the first payout closed, a new request is allowed again
	second, err := models.RequestPayout(vendorCtx, &models.NewVendorPayout{
		Amount: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("second RequestPayout: %v", err)
	}

	// rejection keeps the balance intact
	rejected, err := models.TransitionPayout(adminCtx, second.ID, models.PayoutStatusRejected, "bank details missing")
	if err != nil {
		t.Fatalf("reject payout: %v", err)
	}
	if rejected.RejectReason != "bank details missing" {
		t.Errorf("reject_reason = %q", rejected.RejectReason)
	}
	wallet, err = models.GetVendorWallet(vendorCtx, shop.ID)
	if err != nil {
		t.Fatalf("GetVendorWallet: %v", err)
	}
	if !wallet.Balance.Equal(decimal.NewFromInt(300)) {
		t.Errorf("balance after rejection = %s, want 300", wallet.Balance)
	}
}

func TestPayoutPermissions(t *testing.T) {
	startTestStack(t)

	adminCtx := adminContext(t)
	vendorCtx, shop := newApprovedShop(t, adminCtx, "5")
	otherVendorCtx, _ := newApprovedShop(t, adminCtx, "5")

	if _, err := models.RecordWalletTransaction(adminCtx, &models.NewVendorTransaction{
		ShopId: shop.ID,
		Type:   models.TransactionTypeCredit,
		Amount: decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("seed credit: %v", err)
	}

	// a vendor cannot request against another shop
	_, err := models.RequestPayout(otherVendorCtx, &models.NewVendorPayout{
		ShopId: shop.ID,
		Amount: decimal.NewFromInt(50),
	})
	if !errors.Is(err, utils.ErrorPermissionDenied) {
		t.Errorf("cross-shop request: err = %v, want ErrorPermissionDenied", err)
	}

	payout, err := models.RequestPayout(vendorCtx, &models.NewVendorPayout{
		Amount: decimal.NewFromInt(50),
	})
	if err != nil {
		t.Fatalf("RequestPayout: %v", err)
	}

	// only admins process payouts
	_, err = models.TransitionPayout(vendorCtx, payout.ID, models.PayoutStatusProcessing, "")
	if !errors.Is(err, utils.ErrorPermissionDenied) {
		t.Errorf("vendor transition: err = %v, want ErrorPermissionDenied", err)
	}
}
