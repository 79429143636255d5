package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const pingEvery = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// CartFeed handles GET /cart/ws. It sends the current cart, then a fresh
// projection after every change event for the owner.
func (h *Handler) CartFeed(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())
	if h.feed == nil {
		writeErr(w, http.StatusServiceUnavailable, "live updates are disabled")
		return
	}
	ctx := r.Context()
	events, stop, err := h.feed.Subscribe(ctx, owner)
	if err != nil {
		h.log.Error("subscribe cart feed", "owner_id", owner, "err", err)
		writeErr(w, http.StatusServiceUnavailable, "live updates unavailable")
		return
	}
	defer stop()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// reader goroutine notices client close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(kind string, cartID string) bool {
		view, err := h.svc.View(ctx, owner)
		if err != nil {
			h.log.Warn("cart feed view", "owner_id", owner, "err", err)
			return true
		}
		msg := feedMessage{Type: kind, CartID: cartID, Cart: view}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(msg) == nil
	}
	if !send("connected", "") {
		return
	}

	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !send(string(ev.Kind), ev.CartID) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
