package store

import (
	"context"
	"time"

	"cart-reservation/model"
)

// Store is the persistence boundary for carts and the stock ledger.
// Every cart mutation goes through WithinTx so that cart rows and product
// stock commit together or not at all.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	ListCarts(ctx context.Context, ownerID string) ([]model.Cart, error)
	ItemsForCarts(ctx context.Context, cartIDs []string) (map[string][]model.CartItem, error)
	StaleOpenCarts(ctx context.Context, updatedBefore time.Time, limit int) ([]model.Cart, error)

	Close() error
}

// Tx is one atomic unit of work. Carts returned by OpenCart and
// CartForUpdate stay locked until the unit ends, which linearizes all
// mutations of that cart.
type Tx interface {
	// Product reads a catalog entry. Missing ids yield model.ErrProductNotFound.
	Product(ctx context.Context, productID int64) (model.Product, error)

	// OpenCart returns the owner's single open cart, creating it if needed.
	OpenCart(ctx context.Context, ownerID string) (model.Cart, error)
	CartForUpdate(ctx context.Context, cartID string) (model.Cart, error)
	TouchCart(ctx context.Context, cartID string, at time.Time) error
	FinalizeCart(ctx context.Context, cartID, paymentRef string, at time.Time) error
	DeleteCart(ctx context.Context, cartID string) error

	Items(ctx context.Context, cartID string) ([]model.CartItem, error)
	Item(ctx context.Context, cartID string, productID int64) (model.CartItem, error)
	IncrementItem(ctx context.Context, cartID string, productID int64, qty int) error
	SetItemQuantity(ctx context.Context, cartID string, productID int64, qty int) error
	DeleteItem(ctx context.Context, cartID string, productID int64) error

	// Reserve takes qty units from the product's available stock. The check
	// and the decrement are one step.
	Reserve(ctx context.Context, productID int64, qty int) error
	// Release returns qty units to the product's available stock.
	Release(ctx context.Context, productID int64, qty int) error
}
