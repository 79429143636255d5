package service

import (
	"context"
	"errors"
	"time"

	"cart-reservation/events"
	"cart-reservation/model"
	"cart-reservation/store"
)

const reapBatch = 100

var errSkipCart = errors.New("cart no longer stale")

// ReapStaleCarts releases the stock held by open carts not updated since
// cutoff and deletes them, one transaction per cart. A cart touched or
// finalized after it was listed is left alone.
func (s *Service) ReapStaleCarts(ctx context.Context, cutoff time.Time) (int, error) {
	carts, err := s.store.StaleOpenCarts(ctx, cutoff, reapBatch)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, stale := range carts {
		err := s.store.WithinTx(ctx, func(tx store.Tx) error {
			c, err := tx.CartForUpdate(ctx, stale.ID)
			if errors.Is(err, model.ErrCartNotFound) {
				return errSkipCart
			}
			if err != nil {
				return err
			}
			if !c.IsOpen() || !c.UpdatedAt.Before(cutoff) {
				return errSkipCart
			}
			if err := releaseAll(ctx, tx, c.ID); err != nil {
				return err
			}
			return tx.DeleteCart(ctx, c.ID)
		})
		if errors.Is(err, errSkipCart) {
			continue
		}
		if err != nil {
			s.metrics.CartsReaped(reaped)
			return reaped, err
		}
		reaped++
		s.log.Info("stale cart reaped", "cart_id", stale.ID, "owner_id", stale.OwnerID, "updated_at", stale.UpdatedAt)
		s.publish(ctx, events.CartReaped, stale.OwnerID, stale.ID)
	}
	s.metrics.CartsReaped(reaped)
	return reaped, nil
}

// RunReaper calls ReapStaleCarts every interval until ctx is done.
func (s *Service) RunReaper(ctx context.Context, every, staleAfter time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := s.ReapStaleCarts(ctx, s.now().Add(-staleAfter))
			if err != nil {
				s.log.Error("reap stale carts", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("reaper pass", "reaped", n)
			}
		}
	}
}
