// Package inventory implements the stock ledger engine: recipe-driven
// consumption of insumos when a quotation is approved, and the exact inverse
// reversal when it is rejected, edited or deleted. Every stock mutation leaves
// one immutable row in historial_stock.
package inventory

import (
	"encoding/json"
	"errors"
	"time"
)

// MovementOrigin tags the business event behind a ledger row.
type MovementOrigin string

const (
	// OriginManual marks direct adjustments outside a quotation.
	OriginManual MovementOrigin = "registro_manual"
	// OriginQuotationApproved marks the discount on approval.
	OriginQuotationApproved MovementOrigin = "cotizacion_aprobada"
	// OriginQuotationRejected marks the reversal on rejection.
	OriginQuotationRejected MovementOrigin = "cotizacion_rechazada"
	// OriginQuotationEdited marks both sides of an edit (revert then re-discount).
	OriginQuotationEdited MovementOrigin = "cotizacion_editada"
	// OriginQuotationDeleted marks the reversal on deletion.
	OriginQuotationDeleted MovementOrigin = "cotizacion_eliminada"
)

// CategorySupplies is the resource category eligible for recipe-driven discount.
const CategorySupplies = "Insumos"

// LineTypeProduct is the only quotation line type with stock impact.
const LineTypeProduct = "Producto"

// ItemTypeResource identifies resource rows in the ledger.
const ItemTypeResource = "Recurso"

// Resource is a stockable item (raw material / insumo). Stock is tracked per
// variant key inside ControlStock and mutated only through the Service.
type Resource struct {
	ID            string
	Code          string
	Name          string
	Category      string
	UnitOfMeasure string
	Format        json.RawMessage
	VariantSchema VariantSchema
	ControlStock  ControlStock

	// RawControlStock is the control_stock blob exactly as read from the
	// store. The guarded write mode uses it as the compare-and-swap witness.
	RawControlStock json.RawMessage
}

// Product is a sellable item. A product with an empty recipe has no stock
// side effects.
type Product struct {
	ID            string
	Code          string
	Name          string
	UnitOfMeasure string
	Recipe        []RecipeEntry
}

// RecipeEntry references one resource consumed per unit of product. Historic
// rows identify the resource by id, code or name, so all three are carried.
type RecipeEntry struct {
	ResourceID   string    `json:"recurso_id,omitempty"`
	ResourceCode string    `json:"recurso_codigo,omitempty"`
	ResourceName string    `json:"recurso_nombre,omitempty"`
	Quantity     flexFloat `json:"cantidad"`
}

// QuotationLine is the stock-relevant view of a sold line item.
type QuotationLine struct {
	Type          string          `json:"tipo"`
	ProductCode   string          `json:"codigo_producto,omitempty"`
	ProductName   string          `json:"nombre_producto,omitempty"`
	Quantity      float64         `json:"cantidad"`
	Width         *float64        `json:"ancho,omitempty"`
	Height        *float64        `json:"alto,omitempty"`
	TotalM2       *float64        `json:"total_m2,omitempty"`
	UnitOfMeasure string          `json:"unidad_medida,omitempty"`
	IsSupport     bool            `json:"es_soporte,omitempty"`
	Variants      json.RawMessage `json:"variantes,omitempty"`
}

func (l QuotationLine) label() string {
	if l.ProductName != "" {
		return l.ProductName
	}
	return l.ProductCode
}

// QuotationStockInput feeds the discount and reversal orchestrators.
type QuotationStockInput struct {
	QuotationID   string
	QuotationCode string
	Lines         []QuotationLine
	Branch        string
	Origin        MovementOrigin
}

// MovementInput describes one direct debit or credit against a resource.
type MovementInput struct {
	ResourceID    string
	Quantity      float64
	Branch        string
	Variants      map[string]string
	Origin        MovementOrigin
	ReferenceID   string
	ReferenceCode string
	MovementType  string
	Observations  string
	Format        json.RawMessage
}

// LedgerEntry is one immutable row in historial_stock. Once written it is
// never updated or deleted; StockAfter always equals StockBefore + Impact.
type LedgerEntry struct {
	ID            int64
	OccurredAt    time.Time
	Origin        MovementOrigin
	ReferenceID   string
	ReferenceCode string
	ItemType      string
	ItemID        string
	ItemCode      string
	ItemName      string
	Branch        string
	Format        json.RawMessage
	QuantityUOM   float64
	UnitOfMeasure string
	Impact        float64
	StockBefore   float64
	StockAfter    float64
	MovementType  string
	Observations  string
	ActorID       string
	ActorName     string
}

// LedgerFilter filters ledger listings.
type LedgerFilter struct {
	ItemID  string
	Branch  string
	Origin  MovementOrigin
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}

// OutcomeStatus classifies the result of one (line, recipe entry) pair.
type OutcomeStatus string

const (
	// OutcomeApplied means the stock mutation and ledger row were written.
	OutcomeApplied OutcomeStatus = "applied"
	// OutcomeSkipped means an eligibility filter excluded the item.
	OutcomeSkipped OutcomeStatus = "skipped"
	// OutcomeFailed means the mutation was attempted and errored.
	OutcomeFailed OutcomeStatus = "failed"
)

// EntryOutcome records what happened to one line or recipe entry. Per-item
// failures never abort the batch; they surface here instead.
type EntryOutcome struct {
	Line     int           `json:"linea"`
	Product  string        `json:"producto,omitempty"`
	Resource string        `json:"recurso,omitempty"`
	Status   OutcomeStatus `json:"estado"`
	Reason   string        `json:"motivo,omitempty"`
	Amount   float64       `json:"cantidad,omitempty"`
}

// BatchResult aggregates the outcomes of one orchestrator run.
type BatchResult struct {
	QuotationID string         `json:"cotizacion_id"`
	Origin      MovementOrigin `json:"origen"`
	Outcomes    []EntryOutcome `json:"resultados"`
}

// Applied counts mutations that were written.
func (r BatchResult) Applied() int { return r.count(OutcomeApplied) }

// Skipped counts items excluded by eligibility filters.
func (r BatchResult) Skipped() int { return r.count(OutcomeSkipped) }

// Failed counts attempted mutations that errored.
func (r BatchResult) Failed() int { return r.count(OutcomeFailed) }

func (r BatchResult) count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// ErrResourceNotFound indicates a recipe entry whose resource cannot be
// resolved by id, code or name.
var ErrResourceNotFound = errors.New("inventory: resource not found")

// ErrProductNotFound indicates a line whose product cannot be resolved.
var ErrProductNotFound = errors.New("inventory: product not found")

// ErrInvalidQuantity indicates a non-positive mutation quantity.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrInvalidOrigin indicates an origin outside the operation's allowed set.
var ErrInvalidOrigin = errors.New("inventory: origin not allowed for operation")
