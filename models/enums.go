package models

type UserRole string

const (
	UserRoleCustomer UserRole = "customer"
	UserRoleVendor   UserRole = "vendor"
	UserRoleAdmin    UserRole = "admin"
)

type ShopStatus string

const (
	ShopStatusPending   ShopStatus = "pending"
	ShopStatusApproved  ShopStatus = "approved"
	ShopStatusSuspended ShopStatus = "suspended"
)

type ProductStatus string

const (
	ProductStatusDraft    ProductStatus = "draft"
	ProductStatusPending  ProductStatus = "pending"
	ProductStatusApproved ProductStatus = "approved"
	ProductStatusRejected ProductStatus = "rejected"
)

// MovementType classifies stock ledger entries.
type MovementType string

const (
	MovementTypeInitial    MovementType = "initial"
	MovementTypeRestock    MovementType = "restock"
	MovementTypeOrder      MovementType = "order"
	MovementTypeCancel     MovementType = "cancel"
	MovementTypeCorrection MovementType = "correction"
	MovementTypeReturn     MovementType = "return"
	MovementTypeDamage     MovementType = "damage"
)

func (m MovementType) IsValid() bool {
	switch m {
	case MovementTypeInitial, MovementTypeRestock, MovementTypeOrder,
		MovementTypeCancel, MovementTypeCorrection, MovementTypeReturn, MovementTypeDamage:
		return true
	}
	return false
}

// IsOutbound reports whether entries of this type always remove stock.
// Quantities for these types are coerced negative before posting.
func (m MovementType) IsOutbound() bool {
	return m == MovementTypeOrder || m == MovementTypeDamage
}

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// TransactionType classifies vendor wallet ledger entries.
type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
	TransactionTypePayout TransactionType = "payout"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeCredit, TransactionTypeDebit, TransactionTypePayout:
		return true
	}
	return false
}

// IsOutgoing reports whether entries of this type remove funds from the wallet.
func (t TransactionType) IsOutgoing() bool {
	return t == TransactionTypeDebit || t == TransactionTypePayout
}

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusRejected   PayoutStatus = "rejected"
)

func (s PayoutStatus) IsValid() bool {
	switch s {
	case PayoutStatusPending, PayoutStatusProcessing, PayoutStatusCompleted, PayoutStatusRejected:
		return true
	}
	return false
}

func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutStatusCompleted || s == PayoutStatusRejected
}

// CanTransitionTo encodes the payout state machine:
// pending -> processing | rejected, processing -> completed | rejected.
// Terminal states never transition.
func (s PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	switch s {
	case PayoutStatusPending:
		return next == PayoutStatusProcessing || next == PayoutStatusRejected
	case PayoutStatusProcessing:
		return next == PayoutStatusCompleted || next == PayoutStatusRejected
	}
	return false
}
