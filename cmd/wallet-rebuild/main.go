// wallet-rebuild recomputes vendor wallet balances from the transaction
// ledger and reports (or repairs) drift against the wallet rows.
//
// Usage:
//   go run ./cmd/wallet-rebuild [--shop-id N] [--fix]
package main

import (
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/models"
	"github.com/shopspring/decimal"
)

func main() {
	shopID := flag.Int("shop-id", 0, "Optional: limit to one shop")
	fix := flag.Bool("fix", false, "Write recomputed balances back (default: report only)")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	var wallets []*models.VendorWallet
	q := db.Model(&models.VendorWallet{})
	if *shopID > 0 {
		q = q.Where("shop_id = ?", *shopID)
	}
	if err := q.Find(&wallets).Error; err != nil {
		fmt.Fprintf(os.Stderr, "wallet scan: %v\n", err)
		os.Exit(1)
	}

	drifted := 0
	for _, wallet := range wallets {
		var transactions []*models.VendorTransaction
		if err := db.Where("wallet_id = ?", wallet.ID).Order("id").Find(&transactions).Error; err != nil {
			fmt.Fprintf(os.Stderr, "ledger scan wallet=%d: %v\n", wallet.ID, err)
			os.Exit(1)
		}

		ledgerBalance := decimal.Zero
		for _, t := range transactions {
			if t.Type.IsOutgoing() {
				ledgerBalance = ledgerBalance.Sub(t.Amount)
			} else {
				ledgerBalance = ledgerBalance.Add(t.Amount)
			}
			if !t.ClosingBalance.Equal(ledgerBalance) {
				fmt.Printf("SNAPSHOT MISMATCH wallet=%d txn=%d closing=%s replayed=%s\n",
					wallet.ID, t.ID, t.ClosingBalance.String(), ledgerBalance.String())
			}
		}

		if wallet.Balance.Equal(ledgerBalance) {
			continue
		}
		drifted++
		fmt.Printf("DRIFT wallet=%d shop=%d stored=%s ledger=%s\n",
			wallet.ID, wallet.ShopId, wallet.Balance.String(), ledgerBalance.String())

		if !*fix {
			continue
		}
		if err := db.Model(&models.VendorWallet{}).Where("id = ?", wallet.ID).
			Update("balance", ledgerBalance).Error; err != nil {
			fmt.Fprintf(os.Stderr, "fix wallet=%d: %v\n", wallet.ID, err)
			os.Exit(1)
		}
		fmt.Printf("FIXED wallet=%d -> %s\n", wallet.ID, ledgerBalance.String())
	}

	if drifted == 0 {
		fmt.Println("No drift: wallet balances match the ledger.")
	} else if !*fix {
		fmt.Printf("%d wallets drifted. Rerun with --fix to repair.\n", drifted)
	}
}
