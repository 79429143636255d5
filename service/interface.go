package service

import (
	"context"

	"cart-reservation/model"
)

type ServiceInterface interface {
	View(ctx context.Context, ownerID string) (model.CartView, error)
	History(ctx context.Context, ownerID string) ([]model.CartView, error)
	AddItem(ctx context.Context, ownerID string, productID int64, qty int) (view model.CartView, created bool, err error)
	SetItemQuantity(ctx context.Context, ownerID string, productID int64, qty int) (model.CartView, error)
	RemoveItem(ctx context.Context, ownerID string, productID int64, qty int) (model.CartView, error)
	ClearCart(ctx context.Context, ownerID, cartID string) error
	Checkout(ctx context.Context, ownerID string) (model.CheckoutResult, error)
	ConfirmPayment(ctx context.Context, ownerID, paymentRef string) (model.CartView, error)
}

var _ ServiceInterface = (*Service)(nil)
