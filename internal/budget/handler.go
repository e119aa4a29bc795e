package budget

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/kaban-gov/kaban/internal/platform/httpx"
	"github.com/kaban-gov/kaban/internal/shared"
)

// Handler manages budget registry endpoints.
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

// MountRoutes registers budget routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/appropriations", h.createAppropriation)
	r.Get("/appropriations/{id}/allotments", h.listAllotments)
	r.Post("/allotments", h.createAllotment)
	r.Get("/allotments/{id}", h.getAllotment)
	r.Get("/allotments/{id}/availability", h.checkAvailability)
	r.Get("/allotments/{id}/obligations", h.listObligations)
	r.Post("/obligations", h.postObligation)
	r.Post("/obligations/{id}/cancel", h.cancelObligation)
}

type createAppropriationRequest struct {
	FundCluster string          `json:"fund_cluster" validate:"required"`
	FiscalYear  int             `json:"fiscal_year" validate:"required,gte=2000"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
}

func (h *Handler) createAppropriation(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createAppropriationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	appropriation, err := h.service.CreateAppropriation(r.Context(), CreateAppropriationInput{
		FundCluster: req.FundCluster,
		FiscalYear:  req.FiscalYear,
		Amount:      req.Amount,
		CreatedBy:   actorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, appropriation)
}

type createAllotmentRequest struct {
	AppropriationID     int64           `json:"appropriation_id" validate:"required"`
	ObjectOfExpenditure string          `json:"object_of_expenditure" validate:"required"`
	AllotmentClass      string          `json:"allotment_class" validate:"required,oneof=PS MOOE CO FA"`
	ProgramCode         string          `json:"program_code"`
	Amount              decimal.Decimal `json:"amount" validate:"required"`
}

func (h *Handler) createAllotment(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createAllotmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	allotment, err := h.service.CreateAllotment(r.Context(), CreateAllotmentInput{
		AppropriationID:     req.AppropriationID,
		ObjectOfExpenditure: req.ObjectOfExpenditure,
		AllotmentClass:      AllotmentClass(req.AllotmentClass),
		ProgramCode:         req.ProgramCode,
		Amount:              req.Amount,
		CreatedBy:           actorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, allotment)
}

func (h *Handler) getAllotment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	allotment, err := h.service.GetAllotment(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, allotment)
}

func (h *Handler) checkAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	availability, err := h.service.CheckAvailability(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, availability)
}

func (h *Handler) listAllotments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	allotments, err := h.service.ListAllotments(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, allotments)
}

func (h *Handler) listObligations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	obligations, err := h.service.ListObligations(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, obligations)
}

type postObligationRequest struct {
	AllotmentID int64           `json:"allotment_id" validate:"required"`
	Payee       string          `json:"payee" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
}

func (h *Handler) postObligation(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req postObligationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	obligation, err := h.service.PostObligation(r.Context(), PostObligationInput{
		AllotmentID: req.AllotmentID,
		Payee:       req.Payee,
		Amount:      req.Amount,
		CreatedBy:   actorID,
		ApprovedBy:  actorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, obligation)
}

func (h *Handler) cancelObligation(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.CancelObligation(r.Context(), id, actorID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(ObligationCancelled)})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAppropriationNotFound),
		errors.Is(err, ErrAllotmentNotFound),
		errors.Is(err, ErrObligationNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInsufficientBudget),
		errors.Is(err, ErrAllotmentOverAppropriation),
		errors.Is(err, ErrObligationClosed):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	default:
		h.logger.Error("budget request failed", slog.Any("error", err))
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
