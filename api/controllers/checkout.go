package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gustavoferreira/dropmart-backend/api/middleware"
	"github.com/gustavoferreira/dropmart-backend/api/responses"
	"github.com/gustavoferreira/dropmart-backend/api/validators"
	"github.com/gustavoferreira/dropmart-backend/internal/checkout"
	"github.com/gustavoferreira/dropmart-backend/internal/orders"
	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
	"github.com/gustavoferreira/dropmart-backend/pkg/logger"
	"github.com/gustavoferreira/dropmart-backend/pkg/types"
)

// total_visualizado is the total the storefront rendered to the buyer; the
// server recomputes and compares before accepting the sale.
type checkoutRequest struct {
	Guest          *checkout.GuestInfo  `json:"guest_info,omitempty"`
	Address        types.Address        `json:"address" validate:"required"`
	Items          []checkout.ItemInput `json:"cart_items,omitempty" validate:"omitempty,dive"`
	DisplayedTotal *decimal.Decimal     `json:"total_visualizado,omitempty"`
}

// Checkout runs the checkout pipeline for the caller's cart or an explicit
// item list. Anonymous callers must supply guest contact details.
func Checkout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := checkout.Input{
			Guest:          payload.Guest,
			Address:        payload.Address,
			Items:          payload.Items,
			DisplayedTotal: payload.DisplayedTotal,
		}

		if raw := middleware.UserIDFromContext(r.Context()); raw != "" {
			userID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
				return
			}
			input.UserID = userID
		}

		result, err := svc.Execute(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// CheckoutStatus answers the post-redirect payment status poll. The endpoint
// is deliberately unauthenticated so guest buyers can use it.
func CheckoutStatus(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		view, err := svc.Status(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, view)
	}
}
