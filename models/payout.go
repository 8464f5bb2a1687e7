package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"
)

type VendorPayout struct {
	ID            int             `gorm:"primary_key" json:"id"`
	ShopId        int             `gorm:"index;not null" json:"shop_id"`
	Shop          *VendorShop     `gorm:"foreignKey:ShopId" json:"shop,omitempty"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Status        PayoutStatus    `gorm:"type:enum('pending','processing','completed','rejected');default:pending" json:"status"`
	Note          string          `gorm:"type:text" json:"note"`
	RejectReason  string          `gorm:"type:text" json:"reject_reason"`
	RequestedById int             `gorm:"index" json:"requested_by_id"`
	ProcessedById int             `gorm:"index" json:"processed_by_id"`
	ProcessedAt   *time.Time      `json:"processed_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewVendorPayout struct {
	ShopId int             `json:"shop_id"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
	Note   string          `json:"note"`
}

func (obj VendorPayout) GetId() int {
	return obj.ID
}

// implements Cursor
func (obj VendorPayout) GetCursor() string {
	return obj.CreatedAt.Format(time.RFC3339Nano)
}

// RequestPayout opens a payout request for the caller's shop. Funds stay in
// the wallet until the request completes; the wallet is only checked here so
// vendors cannot request more than they hold. One open request per shop.
func RequestPayout(ctx context.Context, input *NewVendorPayout) (*VendorPayout, error) {

	shopId, err := authorizeShop(ctx, input.ShopId)
	if err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, utils.ErrorInvalidInput
	}

	// serialize payout requests per shop across instances
	release, err := utils.ShopLock(ctx, shopId, "PayoutLock", "payout", "RequestPayout")
	if err != nil {
		return nil, err
	}
	defer release()

	openCount, err := utils.ResourceCountWhere[VendorPayout](ctx, "shop_id = ? AND status IN ?",
		shopId, []PayoutStatus{PayoutStatusPending, PayoutStatusProcessing})
	if err != nil {
		return nil, err
	}
	if openCount > 0 {
		return nil, utils.ErrorConflictingState
	}

	wallet, err := GetVendorWallet(ctx, shopId)
	if err != nil {
		return nil, err
	}
	if input.Amount.GreaterThan(wallet.Balance) {
		return nil, utils.ErrorInsufficientFunds
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	payout := VendorPayout{
		ShopId:        shopId,
		Amount:        input.Amount,
		Status:        PayoutStatusPending,
		Note:          input.Note,
		RequestedById: userId,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&payout).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

// TransitionPayout moves a payout through its state machine. Admin only.
//
// Completion debits the wallet inside the same transaction; if the balance
// no longer covers the payout the whole transition fails, leaving the payout
// in processing. Terminal payouts never change again.
func TransitionPayout(ctx context.Context, id int, next PayoutStatus, reason string) (*VendorPayout, error) {

	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}
	if !next.IsValid() {
		return nil, utils.ErrorInvalidInput
	}

	db := config.GetDB()
	tx := db.Begin()

	var payout VendorPayout
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&payout, id).Error; err != nil {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}

	if !payout.Status.CanTransitionTo(next) {
		tx.Rollback()
		return nil, utils.ErrorConflictingState
	}

	oldStatus := payout.Status
	payout.Status = next

	if next == PayoutStatusCompleted {
		if _, err := recordWalletTransactionTx(tx, ctx, &NewVendorTransaction{
			ShopId:        payout.ShopId,
			Type:          TransactionTypePayout,
			Amount:        payout.Amount,
			ReferenceType: "vendor_payouts",
			ReferenceId:   payout.ID,
			Description:   fmt.Sprintf("Payout #%d settled", payout.ID),
		}); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if next == PayoutStatusRejected {
		payout.RejectReason = reason
	}
	if next.IsTerminal() {
		now := time.Now().UTC()
		payout.ProcessedAt = &now
	}
	userId, _ := utils.GetUserIdFromContext(ctx)
	payout.ProcessedById = userId

	if err := tx.WithContext(ctx).Save(&payout).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := createHistory(tx.WithContext(ctx), "UPDATE", payout.ID, "vendor_payouts", oldStatus, next,
		fmt.Sprintf("Payout #%d: %s -> %s.", payout.ID, oldStatus, next)); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func GetVendorPayout(ctx context.Context, id int) (*VendorPayout, error) {

	payout, err := utils.FetchSingleModel[VendorPayout](ctx, id, "Shop")
	if err != nil {
		return nil, err
	}
	if _, err := authorizeShop(ctx, payout.ShopId); err != nil {
		return nil, err
	}
	return payout, nil
}

type VendorPayoutsEdge Edge[VendorPayout]

type VendorPayoutsConnection struct {
	PageInfo *PageInfo            `json:"pageInfo"`
	Edges    []*VendorPayoutsEdge `json:"edges"`
}

// PaginateVendorPayouts lists payout requests newest first. Vendors see
// their own shop's requests; admins may filter by status across shops.
func PaginateVendorPayouts(ctx context.Context, shopId int, status *PayoutStatus, limit int, after *string) (*VendorPayoutsConnection, error) {

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&VendorPayout{})

	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); isAdmin {
		if shopId > 0 {
			dbCtx = dbCtx.Where("shop_id = ?", shopId)
		}
	} else {
		shopId, err := authorizeShop(ctx, shopId)
		if err != nil {
			return nil, err
		}
		dbCtx = dbCtx.Where("shop_id = ?", shopId)
	}
	if status != nil {
		dbCtx = dbCtx.Where("status = ?", *status)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[VendorPayout](dbCtx, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}

	conn := VendorPayoutsConnection{PageInfo: pageInfo}
	for i := range edges {
		edge := VendorPayoutsEdge(edges[i])
		conn.Edges = append(conn.Edges, &edge)
	}
	return &conn, nil
}
