package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cart-reservation/model"
)

const (
	qProduct          = `SELECT id, name, price, stock FROM products WHERE id = $1`
	qLockProductStock = `SELECT stock FROM products WHERE id = $1 FOR UPDATE`
	qReserveStock     = `UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1`
	qReleaseStock     = `UPDATE products SET stock = stock + $1 WHERE id = $2`
)

func (t *pgTx) Product(ctx context.Context, productID int64) (model.Product, error) {
	var p model.Product
	err := t.tx.QueryRowContext(ctx, qProduct, productID).Scan(&p.ID, &p.Name, &p.Price, &p.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Product{}, model.ErrProductNotFound
	}
	return p, err
}

// Reserve locks the product row, checks availability and decrements in the
// same transaction. The guarded UPDATE keeps stock >= 0 even if the lock
// were skipped.
func (t *pgTx) Reserve(ctx context.Context, productID int64, qty int) error {
	if qty <= 0 {
		return model.ErrInvalidQuantity
	}

	var stock int
	err := t.tx.QueryRowContext(ctx, qLockProductStock, productID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrProductNotFound
	}
	if err != nil {
		return err
	}
	if stock < qty {
		return fmt.Errorf("%w: product %d has %d available, requested %d", model.ErrInsufficientStock, productID, stock, qty)
	}

	res, err := t.tx.ExecContext(ctx, qReserveStock, qty, productID)
	if err != nil {
		return err
	}
	return expectOneRow(res, model.ErrInsufficientStock)
}

// Release returns qty units to the product. Zero is a no-op.
func (t *pgTx) Release(ctx context.Context, productID int64, qty int) error {
	if qty < 0 {
		return model.ErrInvalidQuantity
	}
	if qty == 0 {
		return nil
	}
	res, err := t.tx.ExecContext(ctx, qReleaseStock, qty, productID)
	if err != nil {
		return err
	}
	return expectOneRow(res, model.ErrProductNotFound)
}
