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

type VendorWallet struct {
	ID        int             `gorm:"primary_key" json:"id"`
	ShopId    int             `gorm:"index;not null;unique" json:"shop_id"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// VendorTransaction is the append-only wallet ledger. Amount is always
// positive; Type determines direction. ClosingBalance snapshots the wallet
// balance after the entry was posted.
type VendorTransaction struct {
	ID             int             `gorm:"primary_key" json:"id"`
	WalletId       int             `gorm:"index;not null" json:"wallet_id"`
	ShopId         int             `gorm:"index;not null" json:"shop_id"`
	Type           TransactionType `gorm:"type:enum('credit','debit','payout');not null" json:"type"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	ClosingBalance decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"closing_balance"`
	ReferenceType  string          `gorm:"size:50" json:"reference_type"`
	ReferenceId    int             `gorm:"index;default:0" json:"reference_id"`
	Description    string          `gorm:"type:text" json:"description"`
	CreatedById    int             `gorm:"index" json:"created_by_id"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewVendorTransaction struct {
	ShopId        int             `json:"shop_id" binding:"required"`
	Type          TransactionType `json:"type" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	ReferenceType string          `json:"reference_type"`
	ReferenceId   int             `json:"reference_id"`
	Description   string          `json:"description"`
}

func (obj VendorTransaction) GetId() int {
	return obj.ID
}

// implements Cursor
func (obj VendorTransaction) GetCursor() string {
	return obj.CreatedAt.Format(time.RFC3339Nano)
}

// recordWalletTransactionTx posts one wallet ledger entry inside the caller's
// transaction. The wallet row is locked FOR UPDATE before the balance is
// read, so concurrent postings serialize per wallet and every entry's
// ClosingBalance is exact. The balance must not go negative.
func recordWalletTransactionTx(tx *gorm.DB, ctx context.Context, input *NewVendorTransaction) (*VendorTransaction, error) {

	if !input.Type.IsValid() {
		return nil, utils.ErrorInvalidInput
	}
	if !input.Amount.IsPositive() {
		return nil, utils.ErrorInvalidInput
	}

	var wallet VendorWallet
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("shop_id = ?", input.ShopId).First(&wallet).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	newBalance := wallet.Balance
	if input.Type.IsOutgoing() {
		newBalance = newBalance.Sub(input.Amount)
	} else {
		newBalance = newBalance.Add(input.Amount)
	}
	if newBalance.IsNegative() {
		return nil, utils.ErrorInsufficientFunds
	}

	if err := tx.WithContext(ctx).Model(&VendorWallet{}).
		Where("id = ?", wallet.ID).Update("balance", newBalance).Error; err != nil {
		return nil, err
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	transaction := VendorTransaction{
		WalletId:       wallet.ID,
		ShopId:         input.ShopId,
		Type:           input.Type,
		Amount:         input.Amount,
		ClosingBalance: newBalance,
		ReferenceType:  input.ReferenceType,
		ReferenceId:    input.ReferenceId,
		Description:    input.Description,
		CreatedById:    userId,
	}
	if err := tx.WithContext(ctx).Create(&transaction).Error; err != nil {
		return nil, err
	}
	return &transaction, nil
}

// RecordWalletTransaction posts a manual wallet adjustment in its own
// transaction. Admin only; order earnings and payouts post through their own
// flows.
func RecordWalletTransaction(ctx context.Context, input *NewVendorTransaction) (*VendorTransaction, error) {

	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}
	if input.Type == TransactionTypePayout {
		return nil, utils.ErrorInvalidInput
	}

	db := config.GetDB()
	tx := db.Begin()

	transaction, err := recordWalletTransactionTx(tx, ctx, input)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return transaction, nil
}

func GetVendorWallet(ctx context.Context, shopId int) (*VendorWallet, error) {

	shopId, err := authorizeShop(ctx, shopId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var wallet VendorWallet
	if err := db.WithContext(ctx).Where("shop_id = ?", shopId).First(&wallet).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &wallet, nil
}

type VendorTransactionsEdge Edge[VendorTransaction]

type VendorTransactionsConnection struct {
	PageInfo *PageInfo                 `json:"pageInfo"`
	Edges    []*VendorTransactionsEdge `json:"edges"`
}

// PaginateWalletTransactions lists one wallet's ledger newest first.
func PaginateWalletTransactions(ctx context.Context, shopId int, limit int, after *string) (*VendorTransactionsConnection, error) {

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	shopId, err := authorizeShop(ctx, shopId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&VendorTransaction{}).Where("shop_id = ?", shopId)

	edges, pageInfo, err := FetchPageCompositeCursor[VendorTransaction](dbCtx, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}

	conn := VendorTransactionsConnection{PageInfo: pageInfo}
	for i := range edges {
		edge := VendorTransactionsEdge(edges[i])
		conn.Edges = append(conn.Edges, &edge)
	}
	return &conn, nil
}
