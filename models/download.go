package models

import (
	"context"

	"bitbucket.org/mmdatafocus/marketplace_backend/config"
	"bitbucket.org/mmdatafocus/marketplace_backend/utils"
)

// IssueDownloadToken signs a time-limited token for a purchased digital
// variant. Only the buying customer can request one, and only once the
// vendor order that carries the item is completed.
func IssueDownloadToken(ctx context.Context, orderItemId int) (string, error) {

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return "", utils.ErrorPermissionDenied
	}

	db := config.GetDB()

	var item OrderItem
	if err := db.WithContext(ctx).First(&item, orderItemId).Error; err != nil {
		return "", utils.ErrorRecordNotFound
	}
	if item.VariantId == 0 {
		return "", utils.ErrorInvalidInput
	}

	var vendorOrder VendorOrder
	if err := db.WithContext(ctx).First(&vendorOrder, item.VendorOrderId).Error; err != nil {
		return "", utils.ErrorRecordNotFound
	}
	var order Order
	if err := db.WithContext(ctx).First(&order, vendorOrder.OrderId).Error; err != nil {
		return "", utils.ErrorRecordNotFound
	}

	isAdmin, _ := utils.GetIsAdminFromContext(ctx)
	if !isAdmin && order.CustomerId != userId {
		return "", utils.ErrorPermissionDenied
	}
	if vendorOrder.Status != OrderStatusCompleted {
		return "", utils.ErrorConflictingState
	}

	var variant ProductVariant
	if err := db.WithContext(ctx).First(&variant, item.VariantId).Error; err != nil {
		return "", utils.ErrorRecordNotFound
	}
	if !utils.DereferencePtr(variant.IsDigital) {
		return "", utils.ErrorInvalidInput
	}

	return utils.JwtGenerateDownloadToken(item.ID, variant.ID)
}

// ResolveDownloadToken validates a download token and returns the variant's
// download url. No session is required; the token is the credential.
func ResolveDownloadToken(ctx context.Context, token string) (string, error) {

	claim, err := utils.JwtValidateDownloadToken(token)
	if err != nil {
		return "", utils.ErrorPermissionDenied
	}

	db := config.GetDB()
	var variant ProductVariant
	if err := db.WithContext(ctx).First(&variant, claim.VariantId).Error; err != nil {
		return "", utils.ErrorRecordNotFound
	}
	if !utils.DereferencePtr(variant.IsDigital) || variant.DownloadUrl == "" {
		return "", utils.ErrorRecordNotFound
	}
	return variant.DownloadUrl, nil
}
