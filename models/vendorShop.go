package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type VendorShop struct {
	ID                       int             `gorm:"primary_key" json:"id"`
	OwnerId                  int             `gorm:"index;not null;unique" json:"owner_id"`
	Owner                    *User           `gorm:"foreignKey:OwnerId" json:"owner,omitempty"`
	Name                     string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Slug                     string          `gorm:"size:255;not null;unique" json:"slug"`
	Description              string          `gorm:"type:text" json:"description"`
	LogoUrl                  string          `json:"logo_url"`
	Phone                    string          `gorm:"size:20" json:"phone"`
	Address                  string          `gorm:"type:text" json:"address"`
	SellCommissionPercentage decimal.Decimal `gorm:"type:decimal(5,2);default:0" json:"sell_commission_percentage"`
	TotalSell                decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_sell"`
	Status                   ShopStatus      `gorm:"type:enum('pending','approved','suspended');default:pending" json:"status"`
	IsActive                 *bool           `gorm:"not null;default:true" json:"is_active"`
	ApprovedAt               *time.Time      `json:"approved_at"`
	CreatedAt                time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewVendorShop struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	LogoUrl     string `json:"logo_url"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
}

func (obj VendorShop) GetId() int {
	return obj.ID
}

// implements Cursor
func (obj VendorShop) GetCursor() string {
	return obj.CreatedAt.Format(time.RFC3339Nano)
}

// authorizeShop returns the caller's shop id, requiring a vendor session.
// Admin sessions may act on any shop by passing its id explicitly.
func authorizeShop(ctx context.Context, shopId int) (int, error) {
	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); isAdmin {
		if shopId > 0 {
			return shopId, nil
		}
		return 0, utils.ErrorInvalidInput
	}
	sessionShopId, ok := utils.GetShopIdFromContext(ctx)
	if !ok || sessionShopId == 0 {
		return 0, utils.ErrorPermissionDenied
	}
	if shopId > 0 && shopId != sessionShopId {
		return 0, utils.ErrorPermissionDenied
	}
	return sessionShopId, nil
}

func CreateVendorShop(ctx context.Context, input *NewVendorShop) (*VendorShop, error) {

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, utils.ErrorPermissionDenied
	}

	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return nil, errors.New("invalid phone number")
		}
	}

	// one shop per owner
	count, err := utils.ResourceCountWhere[VendorShop](ctx, "owner_id = ?", userId)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("user already owns a shop")
	}

	db := config.GetDB()

	shop := VendorShop{
		OwnerId:     userId,
		Name:        input.Name,
		Slug:        utils.Slugify(input.Name) + "-" + uuid.NewString()[:6],
		Description: input.Description,
		LogoUrl:     input.LogoUrl,
		Phone:       input.Phone,
		Address:     input.Address,
		Status:      ShopStatusPending,
		IsActive:    utils.NewTrue(),
	}

	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&shop).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	// shop owners get the vendor role on first shop
	if err := tx.WithContext(ctx).Model(&User{}).Where("id = ?", userId).
		Update("role", UserRoleVendor).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return &shop, nil
}

// ApproveVendorShop marks the shop approved and opens its wallet in the same
// transaction. Admin only.
func ApproveVendorShop(ctx context.Context, shopId int, commissionPercentage decimal.Decimal) (*VendorShop, error) {

	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}
	if commissionPercentage.IsNegative() || commissionPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return nil, errors.New("commission percentage must be between 0 and 100")
	}

	shop, err := utils.FetchSingleModel[VendorShop](ctx, shopId)
	if err != nil {
		return nil, err
	}
	if shop.Status == ShopStatusApproved {
		return nil, utils.ErrorConflictingState
	}

	db := config.GetDB()
	tx := db.Begin()

	shop.Status = ShopStatusApproved
	shop.SellCommissionPercentage = commissionPercentage
	if shop.ApprovedAt == nil {
		now := time.Now().UTC()
		shop.ApprovedAt = &now
	}
	if err := tx.WithContext(ctx).Save(shop).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	// open the wallet if this is the first approval
	var walletCount int64
	if err := tx.WithContext(ctx).Model(&VendorWallet{}).Where("shop_id = ?", shopId).Count(&walletCount).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if walletCount == 0 {
		wallet := VendorWallet{
			ShopId:  shopId,
			Balance: decimal.Zero,
		}
		if err := tx.WithContext(ctx).Create(&wallet).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := createHistory(tx.WithContext(ctx), "UPDATE", shop.ID, "vendor_shops", nil, shop, "Vendor shop approved."); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return shop, nil
}

// SuspendVendorShop disables an approved shop. Admin only.
func SuspendVendorShop(ctx context.Context, shopId int) (*VendorShop, error) {

	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.ErrorPermissionDenied
	}

	shop, err := utils.FetchSingleModel[VendorShop](ctx, shopId)
	if err != nil {
		return nil, err
	}
	if shop.Status != ShopStatusApproved {
		return nil, utils.ErrorConflictingState
	}

	db := config.GetDB()
	shop.Status = ShopStatusSuspended
	if err := db.WithContext(ctx).Save(shop).Error; err != nil {
		return nil, err
	}
	return shop, nil
}

func UpdateVendorShop(ctx context.Context, shopId int, input *NewVendorShop) (*VendorShop, error) {

	shopId, err := authorizeShop(ctx, shopId)
	if err != nil {
		return nil, err
	}

	shop, err := utils.FetchSingleModel[VendorShop](ctx, shopId)
	if err != nil {
		return nil, err
	}

	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return nil, errors.New("invalid phone number")
		}
	}

	shop.Name = input.Name
	shop.Description = input.Description
	shop.LogoUrl = input.LogoUrl
	shop.Phone = input.Phone
	shop.Address = input.Address

	db := config.GetDB()
	if err := db.WithContext(ctx).Save(shop).Error; err != nil {
		return nil, err
	}
	return shop, nil
}

func GetVendorShop(ctx context.Context, id int) (*VendorShop, error) {
	return utils.FetchSingleModel[VendorShop](ctx, id, "Owner")
}

func GetAllVendorShops(ctx context.Context, status *ShopStatus) ([]*VendorShop, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	if status != nil {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	var results []*VendorShop
	if err := dbCtx.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
