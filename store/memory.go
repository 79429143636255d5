package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cart-reservation/model"

	"github.com/google/uuid"
)

// MemoryStore keeps products and carts in process memory. One mutex
// serializes transactions; each transaction works on a copy of the state that
// replaces the live state only when fn returns nil.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	seq   int64
}

type memState struct {
	products map[int64]model.Product
	carts    map[string]memCart
	items    map[string]map[int64]int
}

type memCart struct {
	model.Cart
	seq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		products: map[int64]model.Product{},
		carts:    map[string]memCart{},
		items:    map[string]map[int64]int{},
	}}
}

// PutProduct inserts or replaces a catalog entry.
func (m *MemoryStore) PutProduct(p model.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.products[p.ID] = p
}

// Stock returns the available quantity of a product.
func (m *MemoryStore) Stock(productID int64) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.products[productID]
	return p.Stock, ok
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{st: m.state.clone(), store: m}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.st
	return nil
}

func (m *MemoryStore) ListCarts(ctx context.Context, ownerID string) ([]model.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cs []memCart
	for _, c := range m.state.carts {
		if c.OwnerID == ownerID {
			cs = append(cs, c)
		}
	}
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].IsOpen() != cs[j].IsOpen() {
			return cs[i].IsOpen()
		}
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.After(cs[j].CreatedAt)
		}
		return cs[i].seq > cs[j].seq
	})
	out := make([]model.Cart, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Cart)
	}
	return out, nil
}

func (m *MemoryStore) ItemsForCarts(ctx context.Context, cartIDs []string) (map[string][]model.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]model.CartItem, len(cartIDs))
	for _, id := range cartIDs {
		if items := m.state.cartItems(id); len(items) > 0 {
			out[id] = items
		}
	}
	return out, nil
}

func (m *MemoryStore) StaleOpenCarts(ctx context.Context, updatedBefore time.Time, limit int) ([]model.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Cart
	for _, c := range m.state.carts {
		if c.IsOpen() && c.UpdatedAt.Before(updatedBefore) {
			out = append(out, c.Cart)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memState) clone() *memState {
	c := &memState{
		products: make(map[int64]model.Product, len(s.products)),
		carts:    make(map[string]memCart, len(s.carts)),
		items:    make(map[string]map[int64]int, len(s.items)),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.items {
		m := make(map[int64]int, len(v))
		for pid, q := range v {
			m[pid] = q
		}
		c.items[k] = m
	}
	return c
}

func (s *memState) cartItems(cartID string) []model.CartItem {
	out := []model.CartItem{}
	for pid, q := range s.items[cartID] {
		p := s.products[pid]
		out = append(out, model.CartItem{
			CartID:    cartID,
			ProductID: pid,
			Quantity:  q,
			Name:      p.Name,
			UnitPrice: p.Price,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

type memTx struct {
	st    *memState
	store *MemoryStore
}

func (t *memTx) Product(ctx context.Context, productID int64) (model.Product, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return model.Product{}, model.ErrProductNotFound
	}
	return p, nil
}

func (t *memTx) OpenCart(ctx context.Context, ownerID string) (model.Cart, error) {
	for _, c := range t.st.carts {
		if c.OwnerID == ownerID && c.IsOpen() {
			return c.Cart, nil
		}
	}
	now := time.Now().UTC()
	t.store.seq++
	c := memCart{
		Cart: model.Cart{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			Status:    model.StatusOpen,
			CreatedAt: now,
			UpdatedAt: now,
		},
		seq: t.store.seq,
	}
	t.st.carts[c.ID] = c
	return c.Cart, nil
}

func (t *memTx) CartForUpdate(ctx context.Context, cartID string) (model.Cart, error) {
	c, ok := t.st.carts[cartID]
	if !ok {
		return model.Cart{}, model.ErrCartNotFound
	}
	return c.Cart, nil
}

func (t *memTx) TouchCart(ctx context.Context, cartID string, at time.Time) error {
	c, ok := t.st.carts[cartID]
	if !ok {
		return model.ErrCartNotFound
	}
	c.UpdatedAt = at
	t.st.carts[cartID] = c
	return nil
}

func (t *memTx) FinalizeCart(ctx context.Context, cartID, paymentRef string, at time.Time) error {
	c, ok := t.st.carts[cartID]
	if !ok || !c.Status.CanTransition(model.StatusFinalized) {
		return model.ErrCartNotOpen
	}
	for id, other := range t.st.carts {
		if id != cartID && other.PaymentRef == paymentRef {
			return fmt.Errorf("%w: reference %s already used", model.ErrPaymentCartMismatch, paymentRef)
		}
	}
	c.Status = model.StatusFinalized
	c.PaymentRef = paymentRef
	c.FinalizedAt = &at
	c.UpdatedAt = at
	t.st.carts[cartID] = c
	return nil
}

func (t *memTx) DeleteCart(ctx context.Context, cartID string) error {
	c, ok := t.st.carts[cartID]
	if !ok || !c.IsOpen() {
		return model.ErrCartNotOpen
	}
	delete(t.st.items, cartID)
	delete(t.st.carts, cartID)
	return nil
}

func (t *memTx) Items(ctx context.Context, cartID string) ([]model.CartItem, error) {
	return t.st.cartItems(cartID), nil
}

func (t *memTx) Item(ctx context.Context, cartID string, productID int64) (model.CartItem, error) {
	q, ok := t.st.items[cartID][productID]
	if !ok {
		return model.CartItem{}, model.ErrItemNotFound
	}
	p := t.st.products[productID]
	return model.CartItem{CartID: cartID, ProductID: productID, Quantity: q, Name: p.Name, UnitPrice: p.Price}, nil
}

func (t *memTx) IncrementItem(ctx context.Context, cartID string, productID int64, qty int) error {
	if qty <= 0 {
		return model.ErrInvalidQuantity
	}
	if _, ok := t.st.products[productID]; !ok {
		return model.ErrProductNotFound
	}
	if t.st.items[cartID] == nil {
		t.st.items[cartID] = map[int64]int{}
	}
	t.st.items[cartID][productID] += qty
	return nil
}

func (t *memTx) SetItemQuantity(ctx context.Context, cartID string, productID int64, qty int) error {
	if qty <= 0 {
		return model.ErrInvalidQuantity
	}
	if _, ok := t.st.items[cartID][productID]; !ok {
		return model.ErrItemNotFound
	}
	t.st.items[cartID][productID] = qty
	return nil
}

func (t *memTx) DeleteItem(ctx context.Context, cartID string, productID int64) error {
	if _, ok := t.st.items[cartID][productID]; !ok {
		return model.ErrItemNotFound
	}
	delete(t.st.items[cartID], productID)
	return nil
}

func (t *memTx) Reserve(ctx context.Context, productID int64, qty int) error {
	if qty <= 0 {
		return model.ErrInvalidQuantity
	}
	p, ok := t.st.products[productID]
	if !ok {
		return model.ErrProductNotFound
	}
	if p.Stock < qty {
		return fmt.Errorf("%w: product %d has %d available, requested %d", model.ErrInsufficientStock, productID, p.Stock, qty)
	}
	p.Stock -= qty
	t.st.products[productID] = p
	return nil
}

func (t *memTx) Release(ctx context.Context, productID int64, qty int) error {
	if qty < 0 {
		return model.ErrInvalidQuantity
	}
	if qty == 0 {
		return nil
	}
	p, ok := t.st.products[productID]
	if !ok {
		return model.ErrProductNotFound
	}
	p.Stock += qty
	t.st.products[productID] = p
	return nil
}
