package handler

import (
	"errors"
	"net/http"

	"cart-reservation/model"
)

var statusByErr = []struct {
	err    error
	status int
}{
	{model.ErrInvalidQuantity, http.StatusBadRequest},
	{model.ErrProductNotFound, http.StatusNotFound},
	{model.ErrItemNotFound, http.StatusNotFound},
	{model.ErrCartNotFound, http.StatusNotFound},
	{model.ErrCartClosed, http.StatusForbidden},
	{model.ErrCartNotOpen, http.StatusConflict},
	{model.ErrEmptyCart, http.StatusBadRequest},
	{model.ErrInsufficientStock, http.StatusConflict},
	{model.ErrMissingReference, http.StatusBadRequest},
	{model.ErrPaymentNotSucceeded, http.StatusPaymentRequired},
	{model.ErrPaymentCartMismatch, http.StatusConflict},
	{model.ErrPaymentGateway, http.StatusBadGateway},
	{model.ErrMissingOwner, http.StatusUnauthorized},
}

func statusFor(err error) int {
	for _, s := range statusByErr {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// writeServiceErr maps a service error to its status and stable code.
// Unknown errors are logged and hidden from the client.
func (h *Handler) writeServiceErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: model.Code(err)})
}
