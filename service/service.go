package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cart-reservation/events"
	"cart-reservation/metrics"
	"cart-reservation/model"
	"cart-reservation/payment"
	"cart-reservation/store"
)

// CheckoutConfig carries the settlement settings the service needs. It is
// passed in at construction and never read from the environment here.
type CheckoutConfig struct {
	Currency       string
	PublishableKey string
}

type Service struct {
	store    store.Store
	gateway  payment.Gateway
	checkout CheckoutConfig
	events   events.Publisher
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.events = p } }
func WithMetrics(m *metrics.Metrics) Option   { return func(s *Service) { s.metrics = m } }
func WithLogger(l *slog.Logger) Option        { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option   { return func(s *Service) { s.now = now } }

func New(st store.Store, gw payment.Gateway, cfg CheckoutConfig, opts ...Option) *Service {
	s := &Service{
		store:    st,
		gateway:  gw,
		checkout: cfg,
		events:   events.Nop{},
		log:      slog.Default(),
		// postgres keeps microseconds; truncate so views match what is stored
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// View returns the owner's open cart, creating an empty one on first touch.
func (s *Service) View(ctx context.Context, ownerID string) (view model.CartView, err error) {
	defer func() { s.metrics.CartOp("view", err) }()
	if ownerID == "" {
		return model.CartView{}, model.ErrMissingOwner
	}
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		c, err := tx.OpenCart(ctx, ownerID)
		if err != nil {
			return err
		}
		items, err := tx.Items(ctx, c.ID)
		if err != nil {
			return err
		}
		view = model.CartDetail(c, items)
		return nil
	})
	if err != nil {
		return model.CartView{}, err
	}
	return view, nil
}

// History lists every cart of the owner, open first, then finalized carts
// newest first. It never creates a cart.
func (s *Service) History(ctx context.Context, ownerID string) (_ []model.CartView, err error) {
	defer func() { s.metrics.CartOp("history", err) }()
	if ownerID == "" {
		return nil, model.ErrMissingOwner
	}
	carts, err := s.store.ListCarts(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(carts))
	for _, c := range carts {
		ids = append(ids, c.ID)
	}
	items, err := s.store.ItemsForCarts(ctx, ids)
	if err != nil {
		return nil, err
	}
	return model.CartHistory(carts, items), nil
}

// AddItem reserves qty units and adds them to the owner's open cart. created
// reports whether a new line was created rather than merged.
func (s *Service) AddItem(ctx context.Context, ownerID string, productID int64, qty int) (model.CartView, bool, error) {
	if qty <= 0 {
		s.metrics.CartOp("add_item", model.ErrInvalidQuantity)
		return model.CartView{}, false, model.ErrInvalidQuantity
	}
	var created bool
	view, err := s.mutateOpenCart(ctx, "add_item", ownerID, func(tx store.Tx, c model.Cart) error {
		if _, err := tx.Product(ctx, productID); err != nil {
			return err
		}
		_, err := tx.Item(ctx, c.ID, productID)
		switch {
		case errors.Is(err, model.ErrItemNotFound):
			created = true
		case err != nil:
			return err
		}
		if err := tx.Reserve(ctx, productID, qty); err != nil {
			return err
		}
		return tx.IncrementItem(ctx, c.ID, productID, qty)
	})
	if err != nil {
		return model.CartView{}, false, err
	}
	return view, created, nil
}

// SetItemQuantity moves an existing line to an absolute quantity, reserving
// or releasing the difference. Zero removes the line.
func (s *Service) SetItemQuantity(ctx context.Context, ownerID string, productID int64, qty int) (model.CartView, error) {
	if qty < 0 {
		s.metrics.CartOp("set_quantity", model.ErrInvalidQuantity)
		return model.CartView{}, model.ErrInvalidQuantity
	}
	return s.mutateOpenCart(ctx, "set_quantity", ownerID, func(tx store.Tx, c model.Cart) error {
		it, err := tx.Item(ctx, c.ID, productID)
		if err != nil {
			return err
		}
		return applyQuantity(ctx, tx, it, qty)
	})
}

// RemoveItem takes qty units off a line. Zero, or anything at or above the
// line's quantity, removes the line.
func (s *Service) RemoveItem(ctx context.Context, ownerID string, productID int64, qty int) (model.CartView, error) {
	if qty < 0 {
		s.metrics.CartOp("remove_item", model.ErrInvalidQuantity)
		return model.CartView{}, model.ErrInvalidQuantity
	}
	return s.mutateOpenCart(ctx, "remove_item", ownerID, func(tx store.Tx, c model.Cart) error {
		it, err := tx.Item(ctx, c.ID, productID)
		if err != nil {
			return err
		}
		target := 0
		if qty > 0 && qty < it.Quantity {
			target = it.Quantity - qty
		}
		return applyQuantity(ctx, tx, it, target)
	})
}

// ClearCart releases every reserved unit and deletes the cart. An empty
// cartID targets the owner's open cart.
func (s *Service) ClearCart(ctx context.Context, ownerID, cartID string) (err error) {
	defer func() { s.metrics.CartOp("clear", err) }()
	if ownerID == "" {
		return model.ErrMissingOwner
	}

	var cleared model.Cart
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		var (
			c   model.Cart
			err error
		)
		if cartID == "" {
			c, err = tx.OpenCart(ctx, ownerID)
		} else {
			c, err = tx.CartForUpdate(ctx, cartID)
			if err == nil && c.OwnerID != ownerID {
				err = model.ErrCartNotFound
			}
		}
		if err != nil {
			return err
		}
		if !c.IsOpen() {
			return model.ErrCartNotOpen
		}
		if err := releaseAll(ctx, tx, c.ID); err != nil {
			return err
		}
		cleared = c
		return tx.DeleteCart(ctx, c.ID)
	})
	if err != nil {
		return err
	}
	s.log.Info("cart cleared", "cart_id", cleared.ID, "owner_id", ownerID)
	s.publish(ctx, events.CartCleared, ownerID, cleared.ID)
	return nil
}

// mutateOpenCart runs fn against the owner's locked open cart and returns the
// refreshed projection. The event is published only after commit.
func (s *Service) mutateOpenCart(ctx context.Context, op, ownerID string, fn func(tx store.Tx, c model.Cart) error) (view model.CartView, err error) {
	defer func() { s.metrics.CartOp(op, err) }()
	if ownerID == "" {
		return model.CartView{}, model.ErrMissingOwner
	}

	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		c, err := tx.OpenCart(ctx, ownerID)
		if err != nil {
			return err
		}
		if !c.IsOpen() {
			return model.ErrCartClosed
		}
		if err := fn(tx, c); err != nil {
			return err
		}
		if err := tx.TouchCart(ctx, c.ID, s.now()); err != nil {
			return err
		}
		items, err := tx.Items(ctx, c.ID)
		if err != nil {
			return err
		}
		view = model.CartDetail(c, items)
		return nil
	})
	if err != nil {
		return model.CartView{}, err
	}
	s.publish(ctx, events.CartUpdated, ownerID, view.ID)
	return view, nil
}

// applyQuantity moves a line to qty, reserving or releasing the delta.
func applyQuantity(ctx context.Context, tx store.Tx, it model.CartItem, qty int) error {
	delta := qty - it.Quantity
	switch {
	case qty == 0:
		if err := tx.Release(ctx, it.ProductID, it.Quantity); err != nil {
			return err
		}
		return tx.DeleteItem(ctx, it.CartID, it.ProductID)
	case delta > 0:
		if err := tx.Reserve(ctx, it.ProductID, delta); err != nil {
			return err
		}
	case delta < 0:
		if err := tx.Release(ctx, it.ProductID, -delta); err != nil {
			return err
		}
	default:
		return nil
	}
	return tx.SetItemQuantity(ctx, it.CartID, it.ProductID, qty)
}

func releaseAll(ctx context.Context, tx store.Tx, cartID string) error {
	items, err := tx.Items(ctx, cartID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := tx.Release(ctx, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, kind events.Kind, ownerID, cartID string) {
	ev := events.Event{Kind: kind, OwnerID: ownerID, CartID: cartID, At: s.now()}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("publish cart event", "kind", kind, "cart_id", cartID, "err", err)
	}
}
