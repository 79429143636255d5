package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cart-reservation/events"
	"cart-reservation/model"
	"cart-reservation/payment"
	"cart-reservation/store"
)

// Checkout prices the open cart and asks the gateway for a payment intent.
// Local state is not changed; the cart stays open until ConfirmPayment.
func (s *Service) Checkout(ctx context.Context, ownerID string) (res model.CheckoutResult, err error) {
	defer func() { s.metrics.PaymentStep("checkout", err) }()
	if ownerID == "" {
		return model.CheckoutResult{}, model.ErrMissingOwner
	}

	var (
		cart  model.Cart
		items []model.CartItem
	)
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		c, err := tx.OpenCart(ctx, ownerID)
		if err != nil {
			return err
		}
		if !c.IsOpen() {
			return model.ErrCartClosed
		}
		cart = c
		items, err = tx.Items(ctx, c.ID)
		return err
	})
	if err != nil {
		return model.CheckoutResult{}, err
	}
	if len(items) == 0 {
		return model.CheckoutResult{}, model.ErrEmptyCart
	}

	total := model.Total(items).Round(2)
	amount := model.MinorUnits(total)

	// gateway call happens outside any transaction
	intent, err := s.gateway.CreateIntent(ctx, payment.IntentRequest{
		Amount:         amount,
		Currency:       s.checkout.Currency,
		Metadata:       payment.Metadata{CartID: cart.ID, OwnerID: ownerID},
		IdempotencyKey: fmt.Sprintf("checkout:%s:%d", cart.ID, amount),
	})
	if err != nil {
		return model.CheckoutResult{}, gatewayErr(err)
	}

	s.log.Info("checkout started", "cart_id", cart.ID, "owner_id", ownerID, "amount", amount, "payment_ref", intent.Reference)
	return model.CheckoutResult{
		CartID:         cart.ID,
		ClientSecret:   intent.ClientSecret,
		PaymentRef:     intent.Reference,
		PublishableKey: s.checkout.PublishableKey,
		Amount:         amount,
		Total:          total,
		Currency:       s.checkout.Currency,
	}, nil
}

// ConfirmPayment finalizes the cart a succeeded payment was created for.
// Confirming an already finalized cart with the same reference returns the
// same projection and writes nothing.
func (s *Service) ConfirmPayment(ctx context.Context, ownerID, paymentRef string) (view model.CartView, err error) {
	defer func() { s.metrics.PaymentStep("confirm", err) }()
	if ownerID == "" {
		return model.CartView{}, model.ErrMissingOwner
	}
	ref := strings.TrimSpace(paymentRef)
	if ref == "" {
		return model.CartView{}, model.ErrMissingReference
	}

	intent, err := s.gateway.Retrieve(ctx, ref)
	if err != nil {
		return model.CartView{}, gatewayErr(err)
	}
	if intent.Status != payment.StatusSucceeded {
		return model.CartView{}, fmt.Errorf("%w: status %q", model.ErrPaymentNotSucceeded, intent.Status)
	}
	meta := intent.Metadata
	if meta.OwnerID != ownerID || meta.CartID == "" {
		return model.CartView{}, fmt.Errorf("%w: payment belongs to another owner", model.ErrPaymentCartMismatch)
	}

	finalized := false
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		c, err := tx.CartForUpdate(ctx, meta.CartID)
		if errors.Is(err, model.ErrCartNotFound) || (err == nil && c.OwnerID != ownerID) {
			return fmt.Errorf("%w: cart %s not found for owner", model.ErrPaymentCartMismatch, meta.CartID)
		}
		if err != nil {
			return err
		}
		items, err := tx.Items(ctx, c.ID)
		if err != nil {
			return err
		}

		if c.Status == model.StatusFinalized {
			if c.PaymentRef != ref {
				return fmt.Errorf("%w: cart %s was finalized by another payment", model.ErrPaymentCartMismatch, c.ID)
			}
			view = model.CartDetail(c, items)
			return nil
		}
		if !c.Status.CanTransition(model.StatusFinalized) {
			return model.ErrCartNotOpen
		}

		if !strings.EqualFold(intent.Currency, s.checkout.Currency) {
			return fmt.Errorf("%w: currency %s, expected %s", model.ErrPaymentCartMismatch, intent.Currency, s.checkout.Currency)
		}
		if want := model.MinorUnits(model.Total(items)); intent.Amount != want {
			return fmt.Errorf("%w: paid %d, cart is %d", model.ErrPaymentCartMismatch, intent.Amount, want)
		}

		now := s.now()
		if err := tx.FinalizeCart(ctx, c.ID, ref, now); err != nil {
			return err
		}
		c.Status = model.StatusFinalized
		c.PaymentRef = ref
		c.FinalizedAt = &now
		c.UpdatedAt = now
		view = model.CartDetail(c, items)
		finalized = true
		return nil
	})
	if err != nil {
		return model.CartView{}, err
	}

	if finalized {
		s.log.Info("cart finalized", "cart_id", view.ID, "owner_id", ownerID, "payment_ref", ref)
		s.publish(ctx, events.CartFinalized, ownerID, view.ID)
	}
	return view, nil
}

func gatewayErr(err error) error {
	if errors.Is(err, model.ErrPaymentGateway) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrPaymentGateway, err)
}
