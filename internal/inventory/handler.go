package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/alen95ae/stellarmotion-sub005/internal/platform/httpx"
	"github.com/alen95ae/stellarmotion-sub005/internal/shared"
)

// Handler exposes the stock engine over HTTP.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the inventory Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		logger:   logger,
		validate: validator.New(),
	}
}

// MountRoutes registers routes on the /api/inventory subrouter.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/quotations/discount", h.discountQuotation)
	r.Post("/quotations/revert", h.revertQuotation)
	r.Post("/movements", h.createMovement)
	r.Get("/ledger", h.listLedger)
	r.Get("/resources/{id}/stock", h.resourceStock)
}

type quotationStockRequest struct {
	QuotationID   string          `json:"cotizacion_id" validate:"required"`
	QuotationCode string          `json:"cotizacion_codigo"`
	Branch        string          `json:"sucursal"`
	Origin        string          `json:"origen"`
	Lines         []QuotationLine `json:"lineas" validate:"required,min=1"`
	Actor         actorPayload    `json:"usuario"`
}

type actorPayload struct {
	ID   string `json:"id"`
	Name string `json:"nombre"`
}

func (h *Handler) discountQuotation(w http.ResponseWriter, r *http.Request) {
	h.processQuotation(w, r, h.service.DiscountQuotation)
}

func (h *Handler) revertQuotation(w http.ResponseWriter, r *http.Request) {
	h.processQuotation(w, r, h.service.RevertQuotation)
}

func (h *Handler) processQuotation(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, in QuotationStockInput) (BatchResult, error)) {
	var req quotationStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "cuerpo JSON inválido")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	ctx := r.Context()
	if req.Actor.Name != "" || req.Actor.ID != "" {
		ctx = shared.ContextWithActor(ctx, shared.Actor{ID: req.Actor.ID, Name: req.Actor.Name})
	}

	result, err := op(ctx, QuotationStockInput{
		QuotationID:   req.QuotationID,
		QuotationCode: req.QuotationCode,
		Lines:         req.Lines,
		Branch:        req.Branch,
		Origin:        MovementOrigin(req.Origin),
	})
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type movementRequest struct {
	ResourceID    string            `json:"recurso_id" validate:"required"`
	Quantity      float64           `json:"cantidad" validate:"required,gt=0"`
	Direction     string            `json:"direccion" validate:"required,oneof=entrada salida"`
	Branch        string            `json:"sucursal"`
	Variants      map[string]string `json:"variantes"`
	ReferenceCode string            `json:"referencia_codigo"`
	Observations  string            `json:"observaciones"`
	Actor         actorPayload      `json:"usuario"`
}

func (h *Handler) createMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "cuerpo JSON inválido")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	ctx := r.Context()
	if req.Actor.Name != "" || req.Actor.ID != "" {
		ctx = shared.ContextWithActor(ctx, shared.Actor{ID: req.Actor.ID, Name: req.Actor.Name})
	}

	input := MovementInput{
		ResourceID:    req.ResourceID,
		Quantity:      req.Quantity,
		Branch:        req.Branch,
		Variants:      req.Variants,
		Origin:        OriginManual,
		ReferenceCode: req.ReferenceCode,
		Observations:  req.Observations,
	}

	var (
		entry LedgerEntry
		err   error
	)
	if req.Direction == "salida" {
		entry, err = h.service.Debit(ctx, input)
	} else {
		entry, err = h.service.Credit(ctx, input)
	}
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ledgerEntryPayload(entry))
}

func (h *Handler) listLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := LedgerFilter{
		ItemID:  q.Get("item_id"),
		Branch:  q.Get("sucursal"),
		Origin:  MovementOrigin(q.Get("origen")),
		Page:    intQuery(q.Get("page"), 1),
		PerPage: intQuery(q.Get("per_page"), 50),
	}
	if raw := q.Get("desde"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "desde debe ser RFC3339")
			return
		}
		filter.From = t
	}
	if raw := q.Get("hasta"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "hasta debe ser RFC3339")
			return
		}
		filter.To = t
	}

	entries, total, err := h.service.Ledger(r.Context(), filter)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}

	payload := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		payload = append(payload, ledgerEntryPayload(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       payload,
		"total":      total,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) resourceStock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resource, err := h.service.ResourceStock(r.Context(), id)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"recurso_id":    resource.ID,
		"codigo":        resource.Code,
		"nombre":        resource.Name,
		"unidad_medida": resource.UnitOfMeasure,
		"control_stock": resource.ControlStock,
	})
}

func (h *Handler) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrResourceNotFound), errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidOrigin):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("inventory request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", shared.UserSafeMessage(err))
	}
}

func ledgerEntryPayload(e LedgerEntry) map[string]any {
	return map[string]any{
		"id":                e.ID,
		"fecha":             e.OccurredAt.Format(time.RFC3339),
		"origen":            e.Origin,
		"referencia_id":     e.ReferenceID,
		"referencia_codigo": e.ReferenceCode,
		"item_tipo":         e.ItemType,
		"item_id":           e.ItemID,
		"item_codigo":       e.ItemCode,
		"item_nombre":       e.ItemName,
		"sucursal":          e.Branch,
		"cantidad_udm":      e.QuantityUOM,
		"unidad_medida":     e.UnitOfMeasure,
		"impacto":           e.Impact,
		"stock_anterior":    e.StockBefore,
		"stock_nuevo":       e.StockAfter,
		"tipo_movimiento":   e.MovementType,
		"observaciones":     e.Observations,
		"usuario_id":        e.ActorID,
		"usuario_nombre":    e.ActorName,
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
