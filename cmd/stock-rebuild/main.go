// stock-rebuild recomputes on-hand quantities from the stock movement ledger
// and reports (or repairs) drift between the ledger and the product rows.
//
// Usage:
//   go run ./cmd/stock-rebuild [--product-id N] [--fix]
package main

import (
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func main() {
	productID := flag.Int("product-id", 0, "Optional: limit to one product")
	fix := flag.Bool("fix", false, "Write recomputed quantities back (default: report only)")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	type row struct {
		ProductId int
		VariantId int
		Total     decimal.Decimal
	}
	var rows []row
	q := db.Model(&models.StockMovement{}).
		Select("product_id, variant_id, SUM(quantity) AS total").
		Group("product_id, variant_id")
	if *productID > 0 {
		q = q.Where("product_id = ?", *productID)
	}
	if err := q.Scan(&rows).Error; err != nil {
		fmt.Fprintf(os.Stderr, "ledger scan: %v\n", err)
		os.Exit(1)
	}

	drifted := 0
	for _, r := range rows {
		var stored decimal.Decimal
		var err error
		if r.VariantId > 0 {
			err = db.Model(&models.ProductVariant{}).Where("id = ?", r.VariantId).
				Select("stock_qty").Scan(&stored).Error
		} else {
			err = db.Model(&models.Product{}).Where("id = ?", r.ProductId).
				Select("stock_qty").Scan(&stored).Error
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "lookup product=%d variant=%d: %v\n", r.ProductId, r.VariantId, err)
			os.Exit(1)
		}
		if stored.Equal(r.Total) {
			continue
		}
		drifted++
		fmt.Printf("DRIFT product=%d variant=%d stored=%s ledger=%s\n",
			r.ProductId, r.VariantId, stored.String(), r.Total.String())

		if !*fix {
			continue
		}
		if err := db.Transaction(func(tx *gorm.DB) error {
			if r.VariantId > 0 {
				return tx.Model(&models.ProductVariant{}).Where("id = ?", r.VariantId).
					Update("stock_qty", r.Total).Error
			}
			return tx.Model(&models.Product{}).Where("id = ?", r.ProductId).
				Update("stock_qty", r.Total).Error
		}); err != nil {
			fmt.Fprintf(os.Stderr, "fix product=%d variant=%d: %v\n", r.ProductId, r.VariantId, err)
			os.Exit(1)
		}
		fmt.Printf("FIXED product=%d variant=%d -> %s\n", r.ProductId, r.VariantId, r.Total.String())
	}

	if drifted == 0 {
		fmt.Println("No drift: product quantities match the ledger.")
	} else if !*fix {
		fmt.Printf("%d keys drifted. Rerun with --fix to repair.\n", drifted)
	}
}
