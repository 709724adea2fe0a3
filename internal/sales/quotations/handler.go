package quotations

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/alen95ae/stellarmotion-sub005/internal/inventory"
	"github.com/alen95ae/stellarmotion-sub005/internal/platform/httpx"
	"github.com/alen95ae/stellarmotion-sub005/internal/shared"
)

// Handler exposes the quotation lifecycle over HTTP.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the quotations Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger, validate: validator.New()}
}

// MountRoutes registers routes on the /api/sales/quotations subrouter.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
	r.Put("/{id}/lines", h.updateLines)
	r.Delete("/{id}", h.delete)
}

type createRequest struct {
	Code   string                    `json:"codigo" validate:"required"`
	Branch string                    `json:"sucursal"`
	Lines  []inventory.QuotationLine `json:"lineas"`
}

type updateLinesRequest struct {
	Lines []inventory.QuotationLine `json:"lineas" validate:"required"`
}

type quotationPayload struct {
	ID        string                    `json:"id"`
	Code      string                    `json:"codigo"`
	Status    Status                    `json:"estado"`
	Branch    string                    `json:"sucursal"`
	Lines     []inventory.QuotationLine `json:"lineas"`
	CreatedAt string                    `json:"created_at"`
	UpdatedAt string                    `json:"updated_at"`
}

func toPayload(q *Quotation) quotationPayload {
	return quotationPayload{
		ID:        q.ID,
		Code:      q.Code,
		Status:    q.Status,
		Branch:    q.Branch,
		Lines:     q.Lines,
		CreatedAt: q.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt: q.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "cuerpo JSON inválido")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	q, err := h.service.Create(r.Context(), CreateInput{Code: req.Code, Branch: req.Branch, Lines: req.Lines})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPayload(q))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r.URL.Query().Get("page"), 1)
	perPage := intQuery(r.URL.Query().Get("per_page"), 20)
	items, total, err := h.service.List(r.Context(), page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	payload := make([]quotationPayload, 0, len(items))
	for i := range items {
		payload = append(payload, toPayload(&items[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       payload,
		"total":      total,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	q, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPayload(q))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	q, result, err := h.service.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cotizacion": toPayload(q), "stock": result})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	q, result, err := h.service.Reject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cotizacion": toPayload(q), "stock": result})
}

func (h *Handler) updateLines(w http.ResponseWriter, r *http.Request) {
	var req updateLinesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "cuerpo JSON inválido")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	q, result, err := h.service.UpdateLines(r.Context(), chi.URLParam(r, "id"), req.Lines)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cotizacion": toPayload(q), "stock": result})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stock": result})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	default:
		h.logger.Error("quotation request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", shared.UserSafeMessage(err))
	}
}

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
