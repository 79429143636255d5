package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a cart. The only transition is
// StatusOpen -> StatusFinalized.
type Status string

const (
	StatusOpen      Status = "open"
	StatusFinalized Status = "finalized"
)

func (s Status) Valid() bool {
	return s == StatusOpen || s == StatusFinalized
}

// CanTransition reports whether a cart in state s may move to next.
func (s Status) CanTransition(next Status) bool {
	return s == StatusOpen && next == StatusFinalized
}

// Product is the part of a catalog entry the cart core reads. Stock is the
// available quantity: units not yet claimed by any cart.
type Product struct {
	ID    int64
	Name  string
	Price decimal.Decimal
	Stock int
}

type Cart struct {
	ID          string
	OwnerID     string
	Status      Status
	PaymentRef  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinalizedAt *time.Time
}

func (c Cart) IsOpen() bool { return c.Status == StatusOpen }

// CartItem is one (cart, product) row joined with the product's current
// name and price.
type CartItem struct {
	CartID    string
	ProductID int64
	Quantity  int
	Name      string
	UnitPrice decimal.Decimal
}

// Subtotal is quantity x unit price, unrounded.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Total sums item subtotals without rounding.
func Total(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// MinorUnits rounds total to two decimal places and returns it in the
// currency's minor unit (cents).
func MinorUnits(total decimal.Decimal) int64 {
	return total.Round(2).Shift(2).IntPart()
}
