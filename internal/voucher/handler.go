package voucher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/kaban-gov/kaban/internal/budget"
	"github.com/kaban-gov/kaban/internal/platform/httpx"
	"github.com/kaban-gov/kaban/internal/shared"
)

// Handler manages disbursement voucher endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers voucher routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listVouchers)
	r.Post("/", h.createVoucher)
	r.Get("/{id}", h.getVoucher)
	r.Get("/{id}/history", h.getHistory)
	r.Post("/{id}/submit", h.submitVoucher)
	r.Post("/{id}/approve", h.approveStage)
	r.Post("/{id}/reject", h.rejectStage)
	r.Post("/{id}/pay", h.markPaid)
	r.Post("/{id}/cancel", h.cancelVoucher)
}

type createVoucherRequest struct {
	Payee               string          `json:"payee" validate:"required"`
	Particulars         string          `json:"particulars"`
	Amount              decimal.Decimal `json:"amount" validate:"required"`
	FundCluster         string          `json:"fund_cluster" validate:"required"`
	ObjectOfExpenditure string          `json:"object_of_expenditure" validate:"required"`
	AllotmentID         int64           `json:"allotment_id" validate:"required"`
}

func (h *Handler) createVoucher(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createVoucherRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	voucher, err := h.service.CreateVoucher(r.Context(), CreateVoucherInput{
		Payee:               req.Payee,
		Particulars:         req.Particulars,
		Amount:              req.Amount,
		FundCluster:         req.FundCluster,
		ObjectOfExpenditure: req.ObjectOfExpenditure,
		AllotmentID:         req.AllotmentID,
		CreatedBy:           actorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, voucher)
}

func (h *Handler) getVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	voucher, err := h.service.GetVoucher(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, voucher)
}

func (h *Handler) listVouchers(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	vouchers, err := h.service.ListVouchers(r.Context(), status)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, vouchers)
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	history, err := h.service.GetApprovalHistory(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, history)
}

type submitVoucherRequest struct {
	DivisionReview bool `json:"division_review"`
}

func (h *Handler) submitVoucher(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req submitVoucherRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}
	if err := h.service.SubmitVoucher(r.Context(), SubmitVoucherInput{
		VoucherID:      id,
		ActorID:        actorID,
		DivisionReview: req.DivisionReview,
	}); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusPendingBudget)})
}

type decisionRequest struct {
	Stage    string `json:"stage" validate:"required,oneof=division budget accounting director"`
	Comments string `json:"comments"`
}

func (h *Handler) approveStage(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(ctx context.Context, input DecisionInput) (any, error) {
		return h.service.Approve(ctx, input)
	})
}

func (h *Handler) rejectStage(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(ctx context.Context, input DecisionInput) (any, error) {
		if err := h.service.Reject(ctx, input); err != nil {
			return nil, err
		}
		return map[string]string{"status": string(StatusRejected)}, nil
	})
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, act func(context.Context, DecisionInput) (any, error)) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := act(r.Context(), DecisionInput{
		VoucherID: id,
		Stage:     Stage(req.Stage),
		ActorID:   actorID,
		Comments:  req.Comments,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.MarkPaid(r.Context(), id, actorID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusPaid)})
}

func (h *Handler) cancelVoucher(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.CancelVoucher(r.Context(), id, actorID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusCancelled)})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrVoucherNotFound),
		errors.Is(err, ErrStageNotFound),
		errors.Is(err, budget.ErrAllotmentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrCommentsRequired),
		errors.Is(err, ErrUnknownStage),
		errors.Is(err, ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrStageAlreadyProcessed),
		errors.Is(err, ErrVoucherClosed),
		errors.Is(err, ErrAlreadySubmitted):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrStageOutOfOrder),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, budget.ErrInsufficientBudget):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	default:
		h.logger.Error("voucher request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actorID := shared.ActorFromContext(r.Context())
	if actorID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor not resolved")
		return 0, false
	}
	return actorID, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}
