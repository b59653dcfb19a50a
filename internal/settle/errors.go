package settle

import (
	"errors"
	"net/http"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-settle/internal/bill"
	"github.com/noah-isme/backend-settle/internal/common"
	"github.com/noah-isme/backend-settle/internal/ledger"
	"github.com/noah-isme/backend-settle/internal/menu"
	"github.com/noah-isme/backend-settle/internal/pricing"
	"github.com/noah-isme/backend-settle/internal/split"
)

func keys(ids []bill.InstanceID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Key()
	}
	return out
}

// toAppError maps domain errors onto the HTTP error envelope.
func toAppError(err error) *common.AppError {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var refreshed *RefreshedError
	var session any
	if errors.As(err, &refreshed) {
		session = refreshed.Session
	}

	var (
		conflict *ledger.ConflictError
		over     *ledger.OverpaymentError
		taken    *split.AlreadyPaidError
		invalid  validator.ValidationErrors
	)
	switch {
	case errors.As(err, &conflict):
		details := map[string]any{"stale": conflict.Stale}
		if len(conflict.Instances) > 0 {
			details["instances"] = keys(conflict.Instances)
		}
		if conflict.Stale {
			details["expected"] = conflict.Expected
			details["got"] = conflict.Got
		}
		if session != nil {
			details["session"] = session
		}
		return common.NewAppError("CONFLICT", "the bill changed before this payment was committed", http.StatusConflict, err).WithDetails(details)
	case errors.As(err, &over):
		details := map[string]any{"amount": over.Amount, "remaining": over.Remaining}
		if session != nil {
			details["session"] = session
		}
		return common.NewAppError("OVERPAYMENT", "amount exceeds the remaining balance", http.StatusConflict, err).WithDetails(details)
	case errors.As(err, &taken):
		return common.NewAppError("ALREADY_PAID", "item already paid", http.StatusConflict, err).
			WithDetails(map[string]any{"instances": keys(taken.Instances)})
	case errors.As(err, &invalid):
		fields := make([]map[string]string, 0, len(invalid))
		for _, fe := range invalid {
			fields = append(fields, map[string]string{"field": fe.Namespace(), "rule": fe.Tag()})
		}
		return common.NewAppError("VALIDATION_ERROR", "invalid request", http.StatusBadRequest, err).WithDetails(map[string]any{"fields": fields})
	case errors.Is(err, ErrCommitInProgress):
		return common.NewAppError("COMMIT_IN_PROGRESS", "this session is already being paid", http.StatusConflict, err)
	case errors.Is(err, ledger.ErrBillAlreadySettled):
		return common.NewAppError("BILL_SETTLED", "bill is already settled", http.StatusConflict, err)
	case errors.Is(err, bill.ErrEmptyOrder):
		return common.NewAppError("EMPTY_ORDER", "order has no items", http.StatusBadRequest, err)
	case errors.Is(err, bill.ErrInvalidItem):
		return common.NewAppError("INVALID_ITEM", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, menu.ErrUnknownItem):
		return common.NewAppError("UNKNOWN_MENU_ITEM", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, split.ErrInvalidPartySize):
		return common.NewAppError("INVALID_PARTY_SIZE", err.Error(), http.StatusUnprocessableEntity, err)
	case errors.Is(err, pricing.ErrInvalidTipPercent):
		return common.NewAppError("INVALID_TIP", err.Error(), http.StatusUnprocessableEntity, err)
	case errors.Is(err, split.ErrEmptySelection):
		return common.NewAppError("EMPTY_SELECTION", "select at least one item", http.StatusUnprocessableEntity, err)
	case errors.Is(err, split.ErrUnknownInstance):
		return common.NewAppError("UNKNOWN_INSTANCE", err.Error(), http.StatusNotFound, err)
	case errors.Is(err, ErrBillNotFound), errors.Is(err, ErrSessionNotFound):
		return common.NewAppError("NOT_FOUND", err.Error(), http.StatusNotFound, err)
	case errors.Is(err, ledger.ErrInvalidAmount):
		return common.NewAppError("INVALID_AMOUNT", err.Error(), http.StatusUnprocessableEntity, err)
	case errors.Is(err, split.ErrUnknownStrategy), errors.Is(err, ledger.ErrInvalidCommit):
		return common.NewAppError("VALIDATION_ERROR", err.Error(), http.StatusBadRequest, err)
	default:
		return common.NewAppError("INTERNAL", "internal error", http.StatusInternalServerError, err)
	}
}
