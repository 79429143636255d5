package model

import "errors"

var (
	ErrInvalidQuantity     = errors.New("quantity must be a positive integer")
	ErrProductNotFound     = errors.New("product not found")
	ErrItemNotFound        = errors.New("item not found in cart")
	ErrCartNotFound        = errors.New("cart not found")
	ErrCartClosed          = errors.New("cart is closed")
	ErrCartNotOpen         = errors.New("cart is not open")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrMissingReference    = errors.New("payment reference is required")
	ErrPaymentNotSucceeded = errors.New("payment has not succeeded")
	ErrPaymentCartMismatch = errors.New("payment does not match cart")
	ErrPaymentGateway      = errors.New("payment gateway error")
	ErrMissingOwner        = errors.New("owner identity is required")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidQuantity, "invalid_quantity"},
	{ErrProductNotFound, "product_not_found"},
	{ErrItemNotFound, "item_not_found"},
	{ErrCartNotFound, "cart_not_found"},
	{ErrCartClosed, "cart_closed"},
	{ErrCartNotOpen, "cart_not_open"},
	{ErrEmptyCart, "empty_cart"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrMissingReference, "missing_reference"},
	{ErrPaymentNotSucceeded, "payment_not_succeeded"},
	{ErrPaymentCartMismatch, "payment_cart_mismatch"},
	{ErrPaymentGateway, "payment_gateway_error"},
	{ErrMissingOwner, "missing_owner"},
}

// Code returns the stable machine-readable code for err. It returns "" for a
// nil error and "internal" for anything outside the taxonomy.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
