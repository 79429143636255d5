package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ItemView struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// CartView is the projection returned by every cart operation.
type CartView struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Status      Status          `json:"status"`
	Items       []ItemView      `json:"items"`
	Total       decimal.Decimal `json:"total"`
	CreatedAt   time.Time       `json:"created_at"`
	FinalizedAt *time.Time      `json:"finalized_at,omitempty"`
}

// CartDetail projects a cart and its items. Items keep the order given.
func CartDetail(c Cart, items []CartItem) CartView {
	v := CartView{
		ID:          c.ID,
		OwnerID:     c.OwnerID,
		Status:      c.Status,
		Items:       make([]ItemView, 0, len(items)),
		Total:       Total(items),
		CreatedAt:   c.CreatedAt,
		FinalizedAt: c.FinalizedAt,
	}
	for _, it := range items {
		v.Items = append(v.Items, ItemView{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal(),
		})
	}
	return v
}

// CartHistory projects an owner's carts for the history listing. itemsByCart
// is keyed by cart id; carts without an entry are shown empty.
func CartHistory(carts []Cart, itemsByCart map[string][]CartItem) []CartView {
	out := make([]CartView, 0, len(carts))
	for _, c := range carts {
		out = append(out, CartDetail(c, itemsByCart[c.ID]))
	}
	return out
}

// CheckoutResult is what a client needs to complete payment.
type CheckoutResult struct {
	CartID         string          `json:"cart_id"`
	ClientSecret   string          `json:"client_secret"`
	PaymentRef     string          `json:"payment_ref"`
	PublishableKey string          `json:"publishable_key,omitempty"`
	Amount         int64           `json:"amount"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
}
