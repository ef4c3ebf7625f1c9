package domain

import (
	"errors"
	"fmt"
)

// Ledger rejections. All are terminal for the attempted operation: the
// ledger commits no partial state and appends no event when one of these
// is returned. They are distinct from transient failures (see ErrTransient)
// which callers may retry.
var (
	// ErrDuplicateID is returned when minting with a previously used token ID
	ErrDuplicateID = errors.New("token already minted")

	// ErrUnknownToken is returned when the token ID was never minted
	ErrUnknownToken = errors.New("unknown token")

	// ErrNotOwner is returned when the caller does not own the token
	ErrNotOwner = errors.New("caller is not the token owner")

	// ErrNotApproved is returned when the marketplace is not the approved operator
	ErrNotApproved = errors.New("marketplace is not approved for the token")

	// ErrListingAlreadyActive is returned when the token is already on sale
	ErrListingAlreadyActive = errors.New("listing already active")

	// ErrNotOnSale is returned when the operation requires an active listing
	ErrNotOnSale = errors.New("item is not on sale")

	// ErrSellerCannotBuy is returned when the seller attempts to buy their own item
	ErrSellerCannotBuy = errors.New("seller cannot buy their own item")

	// ErrWrongPayment is returned when the attached payment differs from the price
	ErrWrongPayment = errors.New("payment does not match the item price")

	// ErrWrongFee is returned when the attached deposit differs from the listing fee
	ErrWrongFee = errors.New("deposit does not match the listing fee")

	// ErrInvalidAmount is returned for non-positive prices or fees
	ErrInvalidAmount = errors.New("amount must be strictly positive")

	// ErrNotSeller is returned when only the listing's seller may act
	ErrNotSeller = errors.New("caller is not the seller")

	// ErrNotAdmin is returned when only the platform administrator may act
	ErrNotAdmin = errors.New("caller is not the platform administrator")
)

// ErrTransient marks retryable infrastructure failures (event log, metadata
// store, broker connectivity). Never conflated with ledger rejections.
var ErrTransient = errors.New("transient failure")

// Transient wraps err as a retryable infrastructure failure
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err is a retryable infrastructure failure
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsRejection reports whether err is a terminal ledger rejection
func IsRejection(err error) bool {
	for _, rejection := range []error{
		ErrDuplicateID, ErrUnknownToken, ErrNotOwner, ErrNotApproved,
		ErrListingAlreadyActive, ErrNotOnSale, ErrSellerCannotBuy,
		ErrWrongPayment, ErrWrongFee, ErrInvalidAmount, ErrNotSeller,
		ErrNotAdmin,
	} {
		if errors.Is(err, rejection) {
			return true
		}
	}
	return false
}
