package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

var (
	ErrorInvalidInput      = errors.New("invalid input")
	ErrorEmptyCart         = errors.New("cart has no lines")
	ErrorInsufficientStock = errors.New("insufficient stock")
	ErrorInsufficientFunds = errors.New("insufficient wallet balance")
	ErrorTotalMismatch     = errors.New("cart total does not match server total")
	ErrorConflictingState  = errors.New("conflicting state transition")
	ErrorPermissionDenied  = errors.New("permission denied")
)

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
