package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pos-rewards/internal/domain/coupon"
	"github.com/xenking/pos-rewards/internal/domain/customer"
	"github.com/xenking/pos-rewards/internal/domain/loyalty"
	"github.com/xenking/pos-rewards/internal/domain/membership"
	"github.com/xenking/pos-rewards/internal/domain/order"
	"github.com/xenking/pos-rewards/internal/domain/pricing"
	"github.com/xenking/pos-rewards/pkg/httpmiddleware"
)

// statusFor maps a domain error to an HTTP status and client message.
// Unknown errors are 500 with a generic message.
func statusFor(err error) (int, string) {
	var (
		badRequest  *BadRequestError
		invalidItem *pricing.InvalidItemError
		ineligible  *pricing.IneligibleCouponError
		invalidTbl  *pricing.InvalidTableError
	)
	switch {
	case errors.As(err, &badRequest):
		return http.StatusBadRequest, badRequest.Error()
	case errors.As(err, &invalidItem):
		return http.StatusBadRequest, invalidItem.Error()
	case errors.Is(err, pricing.ErrEmptyOrder),
		errors.Is(err, pricing.ErrCustomerRequired),
		errors.Is(err, loyalty.ErrNegativePoints):
		return http.StatusBadRequest, rootMessage(err)
	case errors.Is(err, customer.ErrNotFound), errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, rootMessage(err)
	case errors.Is(err, pricing.ErrOrderSettled), errors.Is(err, membership.ErrRefreshInProgress):
		return http.StatusConflict, rootMessage(err)
	case errors.As(err, &ineligible):
		return http.StatusUnprocessableEntity, ineligible.Error()
	case errors.Is(err, coupon.ErrUsageLimitReached), errors.Is(err, coupon.ErrUserLimitReached):
		return http.StatusConflict, rootMessage(err)
	case errors.As(err, &invalidTbl):
		return http.StatusUnprocessableEntity, invalidTbl.Error()
	case errors.Is(err, loyalty.ErrBelowMinimum), errors.Is(err, loyalty.ErrInsufficientPoints):
		return http.StatusUnprocessableEntity, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

// rootMessage strips wrapping context added by the service layer, which
// names internal steps rather than the client-facing problem.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	lg := zctx.From(r.Context())
	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	httpmiddleware.WriteError(w, status, msg)
}
