package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"cart-reservation/model"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

//go:embed migrations.sql
var Schema string

const (
	cartColumns = `id, owner_id, status, payment_ref, created_at, updated_at, finalized_at`

	qInsertOpenCart = `
		INSERT INTO carts (id, owner_id, status, created_at, updated_at)
		VALUES ($1, $2, 'open', $3, $3)
		ON CONFLICT (owner_id) WHERE status = 'open' DO NOTHING`
	qSelectOpenCart   = `SELECT ` + cartColumns + ` FROM carts WHERE owner_id = $1 AND status = 'open' FOR UPDATE`
	qSelectCartLocked = `SELECT ` + cartColumns + ` FROM carts WHERE id = $1 FOR UPDATE`
	qListCarts        = `SELECT ` + cartColumns + ` FROM carts WHERE owner_id = $1 ORDER BY (status = 'open') DESC, created_at DESC`
	qStaleOpenCarts   = `SELECT ` + cartColumns + ` FROM carts WHERE status = 'open' AND updated_at < $1 ORDER BY updated_at LIMIT $2`
	qTouchCart        = `UPDATE carts SET updated_at = $2 WHERE id = $1`
	qFinalizeCart     = `
		UPDATE carts SET status = 'finalized', payment_ref = $2, finalized_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'open'`
	qDeleteCartItems = `DELETE FROM cart_items WHERE cart_id = $1`
	qDeleteOpenCart  = `DELETE FROM carts WHERE id = $1 AND status = 'open'`

	itemColumns = `
		SELECT ci.cart_id, ci.product_id, ci.quantity, p.name, p.price
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id`
	qItems         = itemColumns + ` WHERE ci.cart_id = $1 ORDER BY ci.product_id`
	qItem          = itemColumns + ` WHERE ci.cart_id = $1 AND ci.product_id = $2`
	qItemsForCarts = itemColumns + ` WHERE ci.cart_id = ANY($1) ORDER BY ci.cart_id, ci.product_id`
	qIncrementItem = `
		INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`
	qSetItemQuantity = `UPDATE cart_items SET quantity = $3 WHERE cart_id = $1 AND product_id = $2`
	qDeleteItem      = `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`
)

// openCartAttempts bounds the get-or-create loop. A retry only happens when
// the open cart was finalized between our insert and our lock.
const openCartAttempts = 3

const uniqueViolation = "23505"

// PostgresStore is a Store backed by Postgres. Product and cart rows are
// locked with SELECT ... FOR UPDATE inside each transaction.
type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{DB: db}, nil
}

func (s *PostgresStore) Close() error { return s.DB.Close() }

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, Schema)
	return err
}

// WithinTx runs fn in one transaction. The transaction is rolled back on
// every exit path that does not reach a successful commit.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *PostgresStore) ListCarts(ctx context.Context, ownerID string) ([]model.Cart, error) {
	return queryCarts(ctx, s.DB, qListCarts, ownerID)
}

func (s *PostgresStore) StaleOpenCarts(ctx context.Context, updatedBefore time.Time, limit int) ([]model.Cart, error) {
	return queryCarts(ctx, s.DB, qStaleOpenCarts, updatedBefore, limit)
}

func (s *PostgresStore) ItemsForCarts(ctx context.Context, cartIDs []string) (map[string][]model.CartItem, error) {
	out := make(map[string][]model.CartItem, len(cartIDs))
	if len(cartIDs) == 0 {
		return out, nil
	}
	rows, err := s.DB.QueryContext(ctx, qItemsForCarts, pq.Array(cartIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[it.CartID] = append(out[it.CartID], it)
	}
	return out, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func queryCarts(ctx context.Context, q queryer, query string, args ...any) ([]model.Cart, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Cart{}
	for rows.Next() {
		c, err := scanCart(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCart(row rowScanner) (model.Cart, error) {
	var (
		c         model.Cart
		status    string
		ref       sql.NullString
		finalized sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &status, &ref, &c.CreatedAt, &c.UpdatedAt, &finalized); err != nil {
		return model.Cart{}, err
	}
	c.Status = model.Status(status)
	if !c.Status.Valid() {
		return model.Cart{}, fmt.Errorf("cart %s: unknown status %q", c.ID, status)
	}
	c.PaymentRef = ref.String
	if finalized.Valid {
		t := finalized.Time
		c.FinalizedAt = &t
	}
	return c, nil
}

func scanItem(row rowScanner) (model.CartItem, error) {
	var it model.CartItem
	if err := row.Scan(&it.CartID, &it.ProductID, &it.Quantity, &it.Name, &it.UnitPrice); err != nil {
		return model.CartItem{}, err
	}
	return it, nil
}

// pgTx implements Tx on top of a *sql.Tx.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) OpenCart(ctx context.Context, ownerID string) (model.Cart, error) {
	for attempt := 0; attempt < openCartAttempts; attempt++ {
		now := time.Now().UTC()
		if _, err := t.tx.ExecContext(ctx, qInsertOpenCart, uuid.NewString(), ownerID, now); err != nil {
			return model.Cart{}, err
		}
		c, err := scanCart(t.tx.QueryRowContext(ctx, qSelectOpenCart, ownerID))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		return c, err
	}
	return model.Cart{}, fmt.Errorf("open cart for owner %q: gave up after %d attempts", ownerID, openCartAttempts)
}

func (t *pgTx) CartForUpdate(ctx context.Context, cartID string) (model.Cart, error) {
	if _, err := uuid.Parse(cartID); err != nil {
		return model.Cart{}, model.ErrCartNotFound
	}
	c, err := scanCart(t.tx.QueryRowContext(ctx, qSelectCartLocked, cartID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Cart{}, model.ErrCartNotFound
	}
	return c, err
}

func (t *pgTx) TouchCart(ctx context.Context, cartID string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, qTouchCart, cartID, at)
	return err
}

func (t *pgTx) FinalizeCart(ctx context.Context, cartID, paymentRef string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, qFinalizeCart, cartID, paymentRef, at)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			// the reference already finalized another cart
			return fmt.Errorf("%w: reference %s already used", model.ErrPaymentCartMismatch, paymentRef)
		}
		return err
	}
	return expectOneRow(res, model.ErrCartNotOpen)
}

func (t *pgTx) DeleteCart(ctx context.Context, cartID string) error {
	if _, err := t.tx.ExecContext(ctx, qDeleteCartItems, cartID); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, qDeleteOpenCart, cartID)
	if err != nil {
		return err
	}
	return expectOneRow(res, model.ErrCartNotOpen)
}

func (t *pgTx) Items(ctx context.Context, cartID string) ([]model.CartItem, error) {
	rows, err := t.tx.QueryContext(ctx, qItems, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.CartItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *pgTx) Item(ctx context.Context, cartID string, productID int64) (model.CartItem, error) {
	it, err := scanItem(t.tx.QueryRowContext(ctx, qItem, cartID, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.CartItem{}, model.ErrItemNotFound
	}
	return it, err
}

func (t *pgTx) IncrementItem(ctx context.Context, cartID string, productID int64, qty int) error {
	if qty <= 0 {
		return model.ErrInvalidQuantity
	}
	_, err := t.tx.ExecContext(ctx, qIncrementItem, cartID, productID, qty)
	return err
}

func (t *pgTx) SetItemQuantity(ctx context.Context, cartID string, productID int64, qty int) error {
	if qty <= 0 {
		return model.ErrInvalidQuantity
	}
	res, err := t.tx.ExecContext(ctx, qSetItemQuantity, cartID, productID, qty)
	if err != nil {
		return err
	}
	return expectOneRow(res, model.ErrItemNotFound)
}

func (t *pgTx) DeleteItem(ctx context.Context, cartID string, productID int64) error {
	res, err := t.tx.ExecContext(ctx, qDeleteItem, cartID, productID)
	if err != nil {
		return err
	}
	return expectOneRow(res, model.ErrItemNotFound)
}

func expectOneRow(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}
