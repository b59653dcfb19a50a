package settle

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-settle/internal/common"
	"github.com/noah-isme/backend-settle/internal/obs"
)

// Handler exposes the settlement service over HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// NewHandler constructs a Handler with a fresh validator.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc, Validate: validator.New(validator.WithRequiredStructEnabled())}
}

// RouteOptions carries the middleware applied to specific routes.
type RouteOptions struct {
	// Idempotent wraps commit endpoints.
	Idempotent func(http.Handler) http.Handler
	// Terminal authenticates and rate limits external terminals.
	Terminal []func(http.Handler) http.Handler
}

// Register mounts the bill routes on r.
func (h *Handler) Register(r chi.Router, opts RouteOptions) {
	commit := []func(http.Handler) http.Handler{}
	if opts.Idempotent != nil {
		commit = append(commit, opts.Idempotent)
	}

	r.Route("/bills", func(b chi.Router) {
		b.Post("/", h.OpenBill)
		b.Route("/{billID}", func(one chi.Router) {
			one.Get("/", h.Bill)
			one.Get("/instances", h.Instances)
			one.Get("/payments", h.Payments)
			one.Get("/settlement", h.Settlement)
			one.With(append(append([]func(http.Handler) http.Handler{}, opts.Terminal...), commit...)...).
				Post("/payments/external", h.External)

			one.Post("/sessions", h.OpenSession)
			one.Route("/sessions/{sessionID}", func(s chi.Router) {
				s.Get("/", h.Session)
				s.Patch("/", h.UpdateSession)
				s.Delete("/", h.CancelSession)
				s.Post("/toggle", h.Toggle)
				s.Post("/adjust", h.Adjust)
				s.With(commit...).Post("/commit", h.Commit)
			})
		})
	})
}

// OpenBill handles POST /bills.
func (h *Handler) OpenBill(w http.ResponseWriter, r *http.Request) {
	var in OpenBillInput
	if err := h.decode(r, &in, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.Svc.OpenBill(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": view})
}

// Bill handles GET /bills/{billID}.
func (h *Handler) Bill(w http.ResponseWriter, r *http.Request) {
	tip, err := common.QueryInt(r, "tipPercent", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.Svc.Bill(r.Context(), chi.URLParam(r, "billID"), tip)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// Instances handles GET /bills/{billID}/instances.
func (h *Handler) Instances(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Svc.Instances(r.Context(), chi.URLParam(r, "billID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

// Payments handles GET /bills/{billID}/payments.
func (h *Handler) Payments(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Svc.Payments(r.Context(), chi.URLParam(r, "billID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

// Settlement handles GET /bills/{billID}/settlement.
func (h *Handler) Settlement(w http.ResponseWriter, r *http.Request) {
	st, err := h.Svc.Settlement(r.Context(), chi.URLParam(r, "billID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": st})
}

// OpenSession handles POST /bills/{billID}/sessions.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var in OpenSessionInput
	if err := h.decode(r, &in, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	if p, ok := common.PayerFrom(r.Context()); ok {
		in.PayerID = p.ID
		if p.Label != "" {
			in.PayerLabel = p.Label
		}
	}
	view, err := h.Svc.OpenSession(r.Context(), chi.URLParam(r, "billID"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": view})
}

// Session handles GET /bills/{billID}/sessions/{sessionID}.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.Session(r.Context(), chi.URLParam(r, "billID"), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// UpdateSession handles PATCH /bills/{billID}/sessions/{sessionID}.
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var in UpdateSessionInput
	if err := h.decode(r, &in, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.Svc.UpdateSession(r.Context(), chi.URLParam(r, "billID"), chi.URLParam(r, "sessionID"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// CancelSession handles DELETE /bills/{billID}/sessions/{sessionID}.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.CancelSession(r.Context(), chi.URLParam(r, "billID"), chi.URLParam(r, "sessionID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Toggle handles POST /bills/{billID}/sessions/{sessionID}/toggle.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	var in ToggleInput
	if err := h.decode(r, &in, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.Svc.Toggle(r.Context(), chi.URLParam(r, "billID"), chi.URLParam(r, "sessionID"), in.InstanceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// Adjust handles POST /bills/{billID}/sessions/{sessionID}/adjust.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var in AdjustInput
	if err := h.decode(r, &in, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.Svc.Adjust(r.Context(), chi.URLParam(r, "billID"), chi.URLParam(r, "sessionID"), in.MenuItemID, in.Delta)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// Commit handles POST /bills/{billID}/sessions/{sessionID}/commit.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var in CommitInput
	if err := h.decode(r, &in, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.Svc.Commit(r.Context(), chi.URLParam(r, "billID"), chi.URLParam(r, "sessionID"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": res})
}

// External handles POST /bills/{billID}/payments/external. An authenticated
// terminal's identity overrides the payer fields of the body.
func (h *Handler) External(w http.ResponseWriter, r *http.Request) {
	var in ExternalInput
	if err := h.decode(r, &in, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if p, ok := common.PayerFrom(r.Context()); ok {
		in.PayerID = p.ID
		if p.Label != "" {
			in.PayerLabel = p.Label
		}
	}
	res, err := h.Svc.ExternalPayment(r.Context(), chi.URLParam(r, "billID"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": res})
}

// decode reads and validates the body. Optional bodies may be empty.
func (h *Handler) decode(r *http.Request, v any, optional bool) error {
	if err := common.DecodeJSON(r, v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := toAppError(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		obs.Logger(r.Context()).Error().Err(err).Msg("request_failed")
	}
	common.WriteError(w, appErr)
}
