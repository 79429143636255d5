package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cart-reservation/events"
	"cart-reservation/model"
	"cart-reservation/payment"
	"cart-reservation/store"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ---- fakes ----

type fakeGateway struct {
	CreateIntentFn func(ctx context.Context, req payment.IntentRequest) (payment.Intent, error)
	RetrieveFn     func(ctx context.Context, ref string) (payment.Intent, error)
}

func (f *fakeGateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error) {
	return f.CreateIntentFn(ctx, req)
}
func (f *fakeGateway) Retrieve(ctx context.Context, ref string) (payment.Intent, error) {
	return f.RetrieveFn(ctx, ref)
}

// settlingGateway remembers created intents and reports them with status.
func settlingGateway(status payment.Status) (*fakeGateway, map[string]payment.Intent) {
	var mu sync.Mutex
	intents := map[string]payment.Intent{}
	return &fakeGateway{
		CreateIntentFn: func(_ context.Context, req payment.IntentRequest) (payment.Intent, error) {
			mu.Lock()
			defer mu.Unlock()
			ref := "pi_" + req.IdempotencyKey
			in := payment.Intent{
				Reference:    ref,
				ClientSecret: ref + "_secret",
				Status:       "requires_payment_method",
				Amount:       req.Amount,
				Currency:     req.Currency,
				Metadata:     req.Metadata,
			}
			intents[ref] = in
			return in, nil
		},
		RetrieveFn: func(_ context.Context, ref string) (payment.Intent, error) {
			mu.Lock()
			defer mu.Unlock()
			in, ok := intents[ref]
			if !ok {
				return payment.Intent{}, fmt.Errorf("%w: no such intent", model.ErrPaymentGateway)
			}
			in.Status = status
			return in, nil
		},
	}, intents
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func product(id int64, price string, stock int) model.Product {
	return model.Product{ID: id, Name: fmt.Sprintf("p%d", id), Price: decimal.RequireFromString(price), Stock: stock}
}

func newTestService(gw payment.Gateway, products ...model.Product) (*Service, *store.MemoryStore, *recorder) {
	st := store.NewMemoryStore()
	for _, p := range products {
		st.PutProduct(p)
	}
	rec := &recorder{}
	svc := New(st, gw, CheckoutConfig{Currency: "usd", PublishableKey: "pk_test"},
		WithPublisher(rec),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return svc, st, rec
}

func stockOf(t *testing.T, st *store.MemoryStore, id int64) int {
	t.Helper()
	n, ok := st.Stock(id)
	if !ok {
		t.Fatalf("product %d missing", id)
	}
	return n
}

// ---- reservation ----

func TestAddItem_LastUnitRace(t *testing.T) {
	svc, st, _ := newTestService(nil, product(1, "5.00", 1))
	ctx := context.Background()

	results := make([]error, 2)
	var g errgroup.Group
	for i := range results {
		i := i
		g.Go(func() error {
			_, _, results[i] = svc.AddItem(ctx, fmt.Sprintf("owner-%d", i), 1, 1)
			return nil
		})
	}
	g.Wait()

	ok, short := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || short != 1 {
		t.Fatalf("expected one success and one InsufficientStock, got %d and %d", ok, short)
	}
	if got := stockOf(t, st, 1); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}

func TestAddItem_ConcurrentFirstTouchKeepsOneOpenCart(t *testing.T) {
	svc, st, _ := newTestService(nil, product(1, "1.00", 50))
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, _, err := svc.AddItem(ctx, "u1", 1, 1)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	carts, err := svc.History(ctx, "u1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(carts) != 1 || carts[0].Status != model.StatusOpen {
		t.Fatalf("expected a single open cart, got %+v", carts)
	}
	if len(carts[0].Items) != 1 || carts[0].Items[0].Quantity != 10 {
		t.Fatalf("expected one merged line of 10, got %+v", carts[0].Items)
	}
	if got := stockOf(t, st, 1); got != 40 {
		t.Fatalf("expected stock 40, got %d", got)
	}
}

func TestAddItem_CreatedThenMerged(t *testing.T) {
	svc, _, rec := newTestService(nil, product(1, "2.50", 10))
	ctx := context.Background()

	_, created, err := svc.AddItem(ctx, "u1", 1, 2)
	if err != nil || !created {
		t.Fatalf("expected created line, got created=%v err=%v", created, err)
	}
	view, created, err := svc.AddItem(ctx, "u1", 1, 3)
	if err != nil || created {
		t.Fatalf("expected merged line, got created=%v err=%v", created, err)
	}
	if len(view.Items) != 1 || view.Items[0].Quantity != 5 {
		t.Fatalf("expected quantity 5 in one line, got %+v", view.Items)
	}
	if view.Total.StringFixed(2) != "12.50" || view.Items[0].Subtotal.StringFixed(2) != "12.50" {
		t.Fatalf("unexpected totals: %s / %s", view.Total, view.Items[0].Subtotal)
	}
	if rec.count(events.CartUpdated) != 2 {
		t.Fatalf("expected 2 update events, got %d", rec.count(events.CartUpdated))
	}
}

func TestAddItem_Rejections(t *testing.T) {
	svc, st, rec := newTestService(nil, product(1, "1.00", 3))
	ctx := context.Background()

	cases := []struct {
		name    string
		owner   string
		product int64
		qty     int
		want    error
	}{
		{"zero quantity", "u1", 1, 0, model.ErrInvalidQuantity},
		{"negative quantity", "u1", 1, -2, model.ErrInvalidQuantity},
		{"unknown product", "u1", 99, 1, model.ErrProductNotFound},
		{"more than available", "u1", 1, 5, model.ErrInsufficientStock},
		{"missing owner", "", 1, 1, model.ErrMissingOwner},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := svc.AddItem(ctx, tc.owner, tc.product, tc.qty); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if got := stockOf(t, st, 1); got != 3 {
		t.Fatalf("expected stock to stay 3, got %d", got)
	}
	view, err := svc.View(ctx, "u1")
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if len(view.Items) != 0 {
		t.Fatalf("expected no orphaned items, got %+v", view.Items)
	}
	if n := rec.count(events.CartUpdated); n != 0 {
		t.Fatalf("failed operations must not publish, got %d events", n)
	}
}

func TestAddThenRemoveRestoresStock(t *testing.T) {
	svc, st, _ := newTestService(nil, product(1, "4.00", 10))
	ctx := context.Background()

	if _, _, err := svc.AddItem(ctx, "u1", 1, 3); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if got := stockOf(t, st, 1); got != 7 {
		t.Fatalf("expected stock 7 after add, got %d", got)
	}
	view, err := svc.RemoveItem(ctx, "u1", 1, 3)
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(view.Items) != 0 {
		t.Fatalf("expected line deleted, got %+v", view.Items)
	}
	if got := stockOf(t, st, 1); got != 10 {
		t.Fatalf("expected stock 10 after remove, got %d", got)
	}
}

func TestRemoveItem_PartialAndMissing(t *testing.T) {
	svc, st, _ := newTestService(nil, product(1, "1.00", 10), product(2, "1.00", 10))
	ctx := context.Background()

	if _, _, err := svc.AddItem(ctx, "u1", 1, 4); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	view, err := svc.RemoveItem(ctx, "u1", 1, 1)
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if view.Items[0].Quantity != 3 || stockOf(t, st, 1) != 7 {
		t.Fatalf("expected qty 3 and stock 7, got %d and %d", view.Items[0].Quantity, stockOf(t, st, 1))
	}

	// qty 0 removes the whole line
	if _, err := svc.RemoveItem(ctx, "u1", 1, 0); err != nil {
		t.Fatalf("RemoveItem all: %v", err)
	}
	if got := stockOf(t, st, 1); got != 10 {
		t.Fatalf("expected stock 10, got %d", got)
	}

	if _, err := svc.RemoveItem(ctx, "u1", 2, 1); !errors.Is(err, model.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	if _, err := svc.RemoveItem(ctx, "u1", 1, -1); !errors.Is(err, model.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestSetItemQuantity_MovesDelta(t *testing.T) {
	svc, st, _ := newTestService(nil, product(1, "1.00", 10))
	ctx := context.Background()

	if _, _, err := svc.AddItem(ctx, "u1", 1, 2); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	steps := []struct {
		qty       int
		wantStock int
		wantLines int
	}{
		{5, 5, 1},
		{1, 9, 1},
		{1, 9, 1},
		{0, 10, 0},
	}
	for _, step := range steps {
		view, err := svc.SetItemQuantity(ctx, "u1", 1, step.qty)
		if err != nil {
			t.Fatalf("SetItemQuantity(%d): %v", step.qty, err)
		}
		if got := stockOf(t, st, 1); got != step.wantStock {
			t.Fatalf("after set %d: expected stock %d, got %d", step.qty, step.wantStock, got)
		}
		if len(view.Items) != step.wantLines {
			t.Fatalf("after set %d: expected %d lines, got %d", step.qty, step.wantLines, len(view.Items))
		}
	}

	if _, err := svc.SetItemQuantity(ctx, "u1", 1, 1); !errors.Is(err, model.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound after removal, got %v", err)
	}
}

func TestSetItemQuantity_IncreaseBeyondStockChangesNothing(t *testing.T) {
	svc, st, _ := newTestService(nil, product(1, "1.00", 3))
	ctx := context.Background()

	if _, _, err := svc.AddItem(ctx, "u1", 1, 2); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := svc.SetItemQuantity(ctx, "u1", 1, 4); !errors.Is(err, model.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	view, _ := svc.View(ctx, "u1")
	if view.Items[0].Quantity != 2 || stockOf(t, st, 1) != 1 {
		t.Fatalf("expected qty 2 and stock 1 unchanged, got %d and %d", view.Items[0].Quantity, stockOf(t, st, 1))
	}
}

// ---- clear ----

func TestClearCart_RestoresAllStock(t *testing.T) {
	svc, st, rec := newTestService(nil, product(1, "1.00", 5), product(2, "3.00", 5))
	ctx := context.Background()

	svc.AddItem(ctx, "u1", 1, 2)
	svc.AddItem(ctx, "u1", 2, 5)
	before, _ := svc.View(ctx, "u1")

	if err := svc.ClearCart(ctx, "u1", ""); err != nil {
		t.Fatalf("ClearCart: %v", err)
	}
	if stockOf(t, st, 1) != 5 || stockOf(t, st, 2) != 5 {
		t.Fatalf("expected both products back to 5, got %d and %d", stockOf(t, st, 1), stockOf(t, st, 2))
	}
	carts, _ := svc.History(ctx, "u1")
	if len(carts) != 0 {
		t.Fatalf("expected the cart to be deleted, got %+v", carts)
	}
	if rec.count(events.CartCleared) != 1 {
		t.Fatalf("expected one cleared event")
	}

	after, _ := svc.View(ctx, "u1")
	if after.ID == before.ID {
		t.Fatalf("expected a new open cart after clear")
	}
}

func TestClearCart_ExplicitID(t *testing.T) {
	gw, _ := settlingGateway(payment.StatusSucceeded)
	svc, _, _ := newTestService(gw, product(1, "10.00", 5))
	ctx := context.Background()

	svc.AddItem(ctx, "u1", 1, 1)
	res, err := svc.Checkout(ctx, "u1")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := svc.ConfirmPayment(ctx, "u1", res.PaymentRef); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}

	if err := svc.ClearCart(ctx, "u1", res.CartID); !errors.Is(err, model.ErrCartNotOpen) {
		t.Fatalf("expected ErrCartNotOpen for finalized cart, got %v", err)
	}
	if err := svc.ClearCart(ctx, "u2", res.CartID); !errors.Is(err, model.ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound for another owner's cart, got %v", err)
	}
	if err := svc.ClearCart(ctx, "u1", "does-not-exist"); !errors.Is(err, model.ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound for unknown id, got %v", err)
	}

	open, _ := svc.View(ctx, "u1")
	if err := svc.ClearCart(ctx, "u1", open.ID); err != nil {
		t.Fatalf("ClearCart by id: %v", err)
	}
}

// ---- checkout & confirmation ----

func TestCheckoutConfirmScenario(t *testing.T) {
	gw, _ := settlingGateway(payment.StatusSucceeded)
	svc, st, rec := newTestService(gw, product(1, "10.00", 5))
	ctx := context.Background()

	if _, _, err := svc.AddItem(ctx, "u1", 1, 2); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	res, err := svc.Checkout(ctx, "u1")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if res.Amount != 2000 || res.Total.StringFixed(2) != "20.00" || res.Currency != "usd" {
		t.Fatalf("unexpected checkout result: %+v", res)
	}
	if res.PublishableKey != "pk_test" || res.ClientSecret == "" || res.PaymentRef == "" {
		t.Fatalf("missing client handles: %+v", res)
	}

	// checkout leaves the cart open
	view, _ := svc.View(ctx, "u1")
	if view.Status != model.StatusOpen || view.ID != res.CartID {
		t.Fatalf("expected the same open cart after checkout, got %+v", view)
	}

	first, err := svc.ConfirmPayment(ctx, "u1", res.PaymentRef)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if first.Status != model.StatusFinalized || first.FinalizedAt == nil || first.ID != res.CartID {
		t.Fatalf("expected finalized cart, got %+v", first)
	}
	stockAfterFirst := stockOf(t, st, 1)

	second, err := svc.ConfirmPayment(ctx, "u1", res.PaymentRef)
	if err != nil {
		t.Fatalf("second ConfirmPayment: %v", err)
	}
	if second.ID != first.ID || second.Status != first.Status || !second.FinalizedAt.Equal(*first.FinalizedAt) || !second.Total.Equal(first.Total) {
		t.Fatalf("expected identical result, got %+v vs %+v", second, first)
	}
	if got := stockOf(t, st, 1); got != stockAfterFirst || got != 3 {
		t.Fatalf("expected stock to stay 3, got %d", got)
	}
	if n := rec.count(events.CartFinalized); n != 1 {
		t.Fatalf("expected exactly one finalized event, got %d", n)
	}

	// the next touch opens a fresh cart
	next, _ := svc.View(ctx, "u1")
	if next.ID == first.ID || next.Status != model.StatusOpen {
		t.Fatalf("expected a new open cart, got %+v", next)
	}
	history, _ := svc.History(ctx, "u1")
	if len(history) != 2 || history[0].ID != next.ID || history[1].ID != first.ID {
		t.Fatalf("expected open cart then order history, got %+v", history)
	}
}

func TestCheckout_IdempotencyKeyFollowsAmount(t *testing.T) {
	var keys []string
	gw := &fakeGateway{
		CreateIntentFn: func(_ context.Context, req payment.IntentRequest) (payment.Intent, error) {
			keys = append(keys, req.IdempotencyKey)
			if req.Metadata.OwnerID != "u1" || req.Metadata.CartID == "" {
				t.Fatalf("missing correlation metadata: %+v", req.Metadata)
			}
			return payment.Intent{Reference: "pi_1", ClientSecret: "s"}, nil
		},
	}
	svc, _, _ := newTestService(gw, product(1, "0.10", 5))
	ctx := context.Background()

	svc.AddItem(ctx, "u1", 1, 3)
	svc.Checkout(ctx, "u1")
	svc.Checkout(ctx, "u1")
	svc.AddItem(ctx, "u1", 1, 1)
	res, err := svc.Checkout(ctx, "u1")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if res.Amount != 40 {
		t.Fatalf("expected 40 minor units, got %d", res.Amount)
	}
	if len(keys) != 3 || keys[0] != keys[1] || keys[1] == keys[2] {
		t.Fatalf("expected repeated key for the same amount and a new one after a change, got %v", keys)
	}
}

func TestCheckout_Failures(t *testing.T) {
	ctx := context.Background()

	svc, _, _ := newTestService(&fakeGateway{}, product(1, "1.00", 5))
	if _, err := svc.Checkout(ctx, "u1"); !errors.Is(err, model.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}

	down := &fakeGateway{
		CreateIntentFn: func(context.Context, payment.IntentRequest) (payment.Intent, error) {
			return payment.Intent{}, errors.New("connection reset")
		},
	}
	svc, st, _ := newTestService(down, product(1, "1.00", 5))
	svc.AddItem(ctx, "u1", 1, 2)
	if _, err := svc.Checkout(ctx, "u1"); !errors.Is(err, model.ErrPaymentGateway) {
		t.Fatalf("expected ErrPaymentGateway, got %v", err)
	}
	view, _ := svc.View(ctx, "u1")
	if view.Status != model.StatusOpen || len(view.Items) != 1 || stockOf(t, st, 1) != 3 {
		t.Fatalf("gateway failure must not change local state, got %+v", view)
	}
}

func TestConfirmPayment_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("missing reference", func(t *testing.T) {
		svc, _, _ := newTestService(&fakeGateway{})
		if _, err := svc.ConfirmPayment(ctx, "u1", "  "); !errors.Is(err, model.ErrMissingReference) {
			t.Fatalf("expected ErrMissingReference, got %v", err)
		}
	})

	t.Run("not succeeded", func(t *testing.T) {
		gw, _ := settlingGateway("processing")
		svc, _, _ := newTestService(gw, product(1, "1.00", 5))
		svc.AddItem(ctx, "u1", 1, 1)
		res, _ := svc.Checkout(ctx, "u1")
		if _, err := svc.ConfirmPayment(ctx, "u1", res.PaymentRef); !errors.Is(err, model.ErrPaymentNotSucceeded) {
			t.Fatalf("expected ErrPaymentNotSucceeded, got %v", err)
		}
		view, _ := svc.View(ctx, "u1")
		if view.Status != model.StatusOpen {
			t.Fatalf("cart must stay open, got %s", view.Status)
		}
	})

	t.Run("gateway error", func(t *testing.T) {
		svc, _, _ := newTestService(&fakeGateway{
			RetrieveFn: func(context.Context, string) (payment.Intent, error) {
				return payment.Intent{}, context.DeadlineExceeded
			},
		})
		if _, err := svc.ConfirmPayment(ctx, "u1", "pi_1"); !errors.Is(err, model.ErrPaymentGateway) {
			t.Fatalf("expected ErrPaymentGateway, got %v", err)
		}
	})

	t.Run("another owner's payment", func(t *testing.T) {
		gw, _ := settlingGateway(payment.StatusSucceeded)
		svc, _, _ := newTestService(gw, product(1, "1.00", 5))
		svc.AddItem(ctx, "u1", 1, 1)
		res, _ := svc.Checkout(ctx, "u1")
		if _, err := svc.ConfirmPayment(ctx, "u2", res.PaymentRef); !errors.Is(err, model.ErrPaymentCartMismatch) {
			t.Fatalf("expected ErrPaymentCartMismatch, got %v", err)
		}
	})

	t.Run("unknown cart", func(t *testing.T) {
		svc, _, _ := newTestService(&fakeGateway{
			RetrieveFn: func(context.Context, string) (payment.Intent, error) {
				return payment.Intent{
					Reference: "pi_1", Status: payment.StatusSucceeded, Amount: 100, Currency: "usd",
					Metadata: payment.Metadata{CartID: "gone", OwnerID: "u1"},
				}, nil
			},
		})
		if _, err := svc.ConfirmPayment(ctx, "u1", "pi_1"); !errors.Is(err, model.ErrPaymentCartMismatch) {
			t.Fatalf("expected ErrPaymentCartMismatch, got %v", err)
		}
	})

	t.Run("cart changed after checkout", func(t *testing.T) {
		gw, _ := settlingGateway(payment.StatusSucceeded)
		svc, _, _ := newTestService(gw, product(1, "1.00", 5))
		svc.AddItem(ctx, "u1", 1, 1)
		res, _ := svc.Checkout(ctx, "u1")
		svc.AddItem(ctx, "u1", 1, 1)
		if _, err := svc.ConfirmPayment(ctx, "u1", res.PaymentRef); !errors.Is(err, model.ErrPaymentCartMismatch) {
			t.Fatalf("expected ErrPaymentCartMismatch, got %v", err)
		}
		view, _ := svc.View(ctx, "u1")
		if view.Status != model.StatusOpen {
			t.Fatalf("cart must stay open, got %s", view.Status)
		}
	})

	t.Run("second payment for a finalized cart", func(t *testing.T) {
		gw, intents := settlingGateway(payment.StatusSucceeded)
		svc, _, _ := newTestService(gw, product(1, "1.00", 5))
		svc.AddItem(ctx, "u1", 1, 1)
		res, _ := svc.Checkout(ctx, "u1")
		if _, err := svc.ConfirmPayment(ctx, "u1", res.PaymentRef); err != nil {
			t.Fatalf("ConfirmPayment: %v", err)
		}
		dup := intents[res.PaymentRef]
		dup.Reference = "pi_other"
		intents["pi_other"] = dup
		if _, err := svc.ConfirmPayment(ctx, "u1", "pi_other"); !errors.Is(err, model.ErrPaymentCartMismatch) {
			t.Fatalf("expected ErrPaymentCartMismatch, got %v", err)
		}
	})
}

func TestFinalizedCartRejectsClearAndStartsFresh(t *testing.T) {
	gw, _ := settlingGateway(payment.StatusSucceeded)
	svc, st, _ := newTestService(gw, product(1, "1.00", 5))
	ctx := context.Background()

	svc.AddItem(ctx, "u1", 1, 2)
	res, _ := svc.Checkout(ctx, "u1")
	if _, err := svc.ConfirmPayment(ctx, "u1", res.PaymentRef); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}

	// a mutation after finalization lands in a new open cart
	view, created, err := svc.AddItem(ctx, "u1", 1, 1)
	if err != nil || !created || view.ID == res.CartID {
		t.Fatalf("expected new cart, got %+v created=%v err=%v", view, created, err)
	}
	if got := stockOf(t, st, 1); got != 2 {
		t.Fatalf("expected stock 2, got %d", got)
	}
}

// ---- reaper ----

func TestReapStaleCarts(t *testing.T) {
	gw, _ := settlingGateway(payment.StatusSucceeded)
	svc, st, rec := newTestService(gw, product(1, "1.00", 10))
	ctx := context.Background()

	svc.AddItem(ctx, "paid", 1, 2)
	res, _ := svc.Checkout(ctx, "paid")
	if _, err := svc.ConfirmPayment(ctx, "paid", res.PaymentRef); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	svc.AddItem(ctx, "idle", 1, 3)

	n, err := svc.ReapStaleCarts(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ReapStaleCarts: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped cart, got %d", n)
	}
	if got := stockOf(t, st, 1); got != 8 {
		t.Fatalf("expected idle cart's 3 units back (stock 8), got %d", got)
	}
	if h, _ := svc.History(ctx, "paid"); len(h) != 1 || h[0].Status != model.StatusFinalized {
		t.Fatalf("finalized cart must survive the reaper, got %+v", h)
	}
	if rec.count(events.CartReaped) != 1 {
		t.Fatalf("expected one reaped event")
	}

	// nothing older than a past cutoff
	if n, _ := svc.ReapStaleCarts(ctx, time.Now().Add(-time.Hour)); n != 0 {
		t.Fatalf("expected nothing to reap, got %d", n)
	}
}
