package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"cart-reservation/events"
	"cart-reservation/metrics"
	"cart-reservation/model"
	"cart-reservation/service"

	"github.com/gorilla/mux"
)

// Handler is the HTTP layer that talks to service.Service
type Handler struct {
	svc     service.ServiceInterface
	auth    *Authenticator
	feed    events.Subscriber
	limiter Limiter
	metrics *metrics.Metrics
	log     *slog.Logger
}

type Option func(*Handler)

func WithFeed(s events.Subscriber) Option   { return func(h *Handler) { h.feed = s } }
func WithLimiter(l Limiter) Option          { return func(h *Handler) { h.limiter = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(h *Handler) { h.metrics = m } }
func WithLogger(l *slog.Logger) Option      { return func(h *Handler) { h.log = l } }

// NewHandler returns a Handler instance
func NewHandler(s service.ServiceInterface, auth *Authenticator, opts ...Option) *Handler {
	h := &Handler{svc: s, auth: auth, log: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// RegisterRoutes registers all routes on the provided router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", h.Health).Methods("GET")

	api := r.NewRoute().Subrouter()
	api.Use(h.auth.Middleware)

	// Cart
	api.HandleFunc("/cart", h.instrument("view", h.ViewCart)).Methods("GET")
	api.HandleFunc("/carts", h.instrument("history", h.History)).Methods("GET")
	api.HandleFunc("/cart/items", h.instrument("add_item", h.limited(h.AddItem))).Methods("POST")
	api.HandleFunc("/cart/items/{product_id}", h.instrument("set_quantity", h.limited(h.SetQuantity))).Methods("PUT")
	api.HandleFunc("/cart/items/{product_id}", h.instrument("remove_item", h.limited(h.DeleteItem))).Methods("DELETE")
	api.HandleFunc("/cart/remove", h.instrument("remove_item", h.limited(h.RemoveItem))).Methods("POST")
	api.HandleFunc("/cart/clear", h.instrument("clear", h.limited(h.ClearCart))).Methods("POST")
	api.HandleFunc("/carts/{cart_id}", h.instrument("clear", h.limited(h.DeleteCart))).Methods("DELETE")

	// Checkout
	api.HandleFunc("/cart/checkout", h.instrument("checkout", h.Checkout)).Methods("POST")
	api.HandleFunc("/cart/confirm", h.instrument("confirm", h.ConfirmPayment)).Methods("POST")

	api.HandleFunc("/cart/ws", h.CartFeed).Methods("GET")
}

// --- request / response shapes ---
type addItemReq struct {
	ProductID int64 `json:"product_id"`
	Quantity  *int  `json:"quantity,omitempty"` // defaults to 1
}

type setQuantityReq struct {
	Quantity *int `json:"quantity"`
}

type removeItemReq struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity,omitempty"` // 0 removes the whole line
}

type clearReq struct {
	CartID string `json:"cart_id,omitempty"`
}

type confirmReq struct {
	PaymentRef string `json:"payment_ref"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type feedMessage struct {
	Type   string         `json:"type"`
	CartID string         `json:"cart_id,omitempty"`
	Cart   model.CartView `json:"cart"`
}

// --- helpers ---
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

// decode reads an optional JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func productID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["product_id"], 10, 64)
	return id, err == nil && id > 0
}

// --- Handler ---

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ViewCart handles GET /cart
func (h *Handler) ViewCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.View(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// History handles GET /carts
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	carts, err := h.svc.History(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, carts)
}

// AddItem handles POST /cart/items
// body: { "product_id": 1, "quantity": 2 }
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemReq
	if err := decode(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ProductID <= 0 {
		writeErr(w, http.StatusBadRequest, "product_id is required")
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	view, created, err := h.svc.AddItem(r.Context(), OwnerFromContext(r.Context()), req.ProductID, qty)
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, view)
}

// SetQuantity handles PUT /cart/items/{product_id}
// body: { "quantity": 3 }
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	pid, ok := productID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid product_id")
		return
	}
	var req setQuantityReq
	if err := decode(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Quantity == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "quantity is required", Code: model.Code(model.ErrInvalidQuantity)})
		return
	}

	view, err := h.svc.SetItemQuantity(r.Context(), OwnerFromContext(r.Context()), pid, *req.Quantity)
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// RemoveItem handles POST /cart/remove
// body: { "product_id": 1, "quantity": 1 }
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	var req removeItemReq
	if err := decode(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ProductID <= 0 {
		writeErr(w, http.StatusBadRequest, "product_id is required")
		return
	}
	view, err := h.svc.RemoveItem(r.Context(), OwnerFromContext(r.Context()), req.ProductID, req.Quantity)
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DeleteItem handles DELETE /cart/items/{product_id}
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	pid, ok := productID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid product_id")
		return
	}
	view, err := h.svc.RemoveItem(r.Context(), OwnerFromContext(r.Context()), pid, 0)
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ClearCart handles POST /cart/clear
// body (optional): { "cart_id": "..." }
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	var req clearReq
	if err := decode(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.svc.ClearCart(r.Context(), OwnerFromContext(r.Context()), req.CartID); err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteCart handles DELETE /carts/{cart_id}
func (h *Handler) DeleteCart(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCart(r.Context(), OwnerFromContext(r.Context()), mux.Vars(r)["cart_id"]); err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Checkout handles POST /cart/checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Checkout(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ConfirmPayment handles POST /cart/confirm
// body: { "payment_ref": "pi_..." }
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmReq
	if err := decode(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	view, err := h.svc.ConfirmPayment(r.Context(), OwnerFromContext(r.Context()), req.PaymentRef)
	if err != nil {
		h.writeServiceErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
