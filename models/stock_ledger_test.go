package models_test

import (
	"errors"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/models"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/shopspring/decimal"
)

func TestStockLedgerBalanceSnapshots(t *testing.T) {
	startTestStack(t)

	adminCtx := adminContext(t)
	vendorCtx, _ := newApprovedShop(t, adminCtx, "10")
	product := newApprovedProduct(t, vendorCtx, adminCtx, "Ledger Widget", 1000, 100)

	db := config.GetDB()

	var opening models.StockMovement
	if err := db.Where("product_id = ? AND type = ?", product.ID, models.MovementTypeInitial).
		First(&opening).Error; err != nil {
		t.Fatalf("opening movement: %v", err)
	}
	if !opening.Quantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("opening quantity = %s, want 100", opening.Quantity)
	}
	if !opening.BalanceAfter.Equal(decimal.NewFromInt(100)) {
		t.Errorf("opening balance_after = %s, want 100", opening.BalanceAfter)
	}

	steps := []struct {
		movementType models.MovementType
		quantity     int64
		wantBalance  int64
	}{
		{models.MovementTypeRestock, 50, 150},
		{models.MovementTypeDamage, 30, 120}, // sign coerced negative
		{models.MovementTypeCorrection, -20, 100},
		{models.MovementTypeReturn, 5, 105},
	}
	for _, step := range steps {
		movement, err := models.AdjustStock(vendorCtx, &models.NewStockMovement{
			ProductId: product.ID,
			Quantity:  decimal.NewFromInt(step.quantity),
			Type:      step.movementType,
		})
		if err != nil {
			t.Fatalf("AdjustStock(%s): %v", step.movementType, err)
		}
		if !movement.BalanceAfter.Equal(decimal.NewFromInt(step.wantBalance)) {
			t.Errorf("%s: balance_after = %s, want %d", step.movementType, movement.BalanceAfter, step.wantBalance)
		}
	}

	// quantity on the row always carries the applied sign
	var damage models.StockMovement
	if err := db.Where("product_id = ? AND type = ?", product.ID, models.MovementTypeDamage).
		First(&damage).Error; err != nil {
		t.Fatalf("damage movement: %v", err)
	}
	if !damage.Quantity.Equal(decimal.NewFromInt(-30)) {
		t.Errorf("damage quantity = %s, want -30", damage.Quantity)
	}

	fetched, err := models.GetProduct(vendorCtx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !fetched.StockQty.Equal(decimal.NewFromInt(105)) {
		t.Errorf("stock_qty = %s, want 105", fetched.StockQty)
	}

	// the sum of all movements must equal the cached quantity
	var total decimal.Decimal
	row := db.Model(&models.StockMovement{}).
		Where("product_id = ?", product.ID).
		Select("COALESCE(SUM(quantity), 0)").Row()
	if err := row.Scan(&total); err != nil {
		t.Fatalf("sum movements: %v", err)
	}
	if !total.Equal(fetched.StockQty) {
		t.Errorf("movement sum %s != stock_qty %s", total, fetched.StockQty)
	}
}

func TestStockLedgerRejectsNegativeBalance(t *testing.T) {
	startTestStack(t)

	adminCtx := adminContext(t)
	vendorCtx, _ := newApprovedShop(t, adminCtx, "10")
	product := newApprovedProduct(t, vendorCtx, adminCtx, "Scarce Widget", 500, 3)

	_, err := models.AdjustStock(vendorCtx, &models.NewStockMovement{
		ProductId: product.ID,
		Quantity:  decimal.NewFromInt(10),
		Type:      models.MovementTypeDamage,
	})
	if !errors.Is(err, utils.ErrorInsufficientStock) {
		t.Fatalf("AdjustStock over balance: err = %v, want ErrorInsufficientStock", err)
	}

	// rejected adjustment leaves no trace
	fetched, err := models.GetProduct(vendorCtx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !fetched.StockQty.Equal(decimal.NewFromInt(3)) {
		t.Errorf("stock_qty = %s, want 3", fetched.StockQty)
	}
	var count int64
	if err := config.GetDB().Model(&models.StockMovement{}).
		Where("product_id = ? AND type = ?", product.ID, models.MovementTypeDamage).
		Count(&count).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	if count != 0 {
		t.Errorf("damage movements = %d, want 0", count)
	}
}

func TestStockLedgerRejectsInvalidAdjustments(t *testing.T) {
	startTestStack(t)

	adminCtx := adminContext(t)
	vendorCtx, _ := newApprovedShop(t, adminCtx, "10")
	product := newApprovedProduct(t, vendorCtx, adminCtx, "Guarded Widget", 500, 10)

	// zero quantity
	_, err := models.AdjustStock(vendorCtx, &models.NewStockMovement{
		ProductId: product.ID,
		Quantity:  decimal.Zero,
		Type:      models.MovementTypeRestock,
	})
	if !errors.Is(err, utils.ErrorInvalidInput) {
		t.Errorf("zero quantity: err = %v, want ErrorInvalidInput", err)
	}

	// order movements only post through checkout
	_, err = models.AdjustStock(vendorCtx, &models.NewStockMovement{
		ProductId: product.ID,
		Quantity:  decimal.NewFromInt(1),
		Type:      models.MovementTypeOrder,
	})
	if !errors.Is(err, utils.ErrorInvalidInput) {
		t.Errorf("manual order movement: err = %v, want ErrorInvalidInput", err)
	}

	// a vendor cannot touch someone else's product
	otherCtx, _ := newApprovedShop(t, adminCtx, "10")
	_, err = models.AdjustStock(otherCtx, &models.NewStockMovement{
		ProductId: product.ID,
		Quantity:  decimal.NewFromInt(1),
		Type:      models.MovementTypeRestock,
	})
	if !errors.Is(err, utils.ErrorPermissionDenied) {
		t.Errorf("foreign product: err = %v, want ErrorPermissionDenied", err)
	}
}

func TestStockLedgerConcurrentAdjustments(t *testing.T) {
	startTestStack(t)

	adminCtx := adminContext(t)
	vendorCtx, _ := newApprovedShop(t, adminCtx, "10")

	const workers = 20
	product := newApprovedProduct(t, vendorCtx, adminCtx, "Contended Widget", 500, workers)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := models.AdjustStock(vendorCtx, &models.NewStockMovement{
				ProductId: product.ID,
				Quantity:  decimal.NewFromInt(1),
				Type:      models.MovementTypeDamage,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent AdjustStock: %v", err)
		}
	}

	fetched, err := models.GetProduct(vendorCtx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !fetched.StockQty.Equal(decimal.Zero) {
		t.Errorf("stock_qty = %s, want 0", fetched.StockQty)
	}

	// every snapshot between 0 and workers-1 appears exactly once
	var movements []models.StockMovement
	if err := config.GetDB().
		Where("product_id = ? AND type = ?", product.ID, models.MovementTypeDamage).
		Order("id ASC").Find(&movements).Error; err != nil {
		t.Fatalf("fetch movements: %v", err)
	}
	if len(movements) != workers {
		t.Fatalf("damage movements = %d, want %d", len(movements), workers)
	}
	seen := make(map[string]bool, workers)
	for _, m := range movements {
		seen[m.BalanceAfter.String()] = true
	}
	for i := 0; i < workers; i++ {
		key := decimal.NewFromInt(int64(i)).String()
		if !seen[key] {
			t.Errorf("missing balance_after snapshot %s", key)
		}
	}
}
