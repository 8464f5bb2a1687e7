package models

import (
	"log"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},
		&VendorShop{},
		&Category{}, &Brand{},
		&Product{}, &ProductVariant{},
		&StockMovement{},
		&Order{}, &VendorOrder{}, &OrderItem{},
		&VendorWallet{}, &VendorTransaction{}, &VendorPayout{},
		&History{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
