// Package quotations implements the quotation lifecycle. Approval, rejection,
// edit and deletion are the only events that move insumo stock; the package
// delegates the stock math to the inventory engine and owns the status
// machine around it.
package quotations

import (
	"errors"
	"time"

	"github.com/alen95ae/stellarmotion-sub005/internal/inventory"
)

// Status is a quotation's lifecycle state.
type Status string

const (
	// StatusDraft is the initial state; no stock has moved.
	StatusDraft Status = "borrador"
	// StatusApproved means the insumo discount has been applied.
	StatusApproved Status = "aprobada"
	// StatusRejected means the quotation is closed without stock impact, or
	// its discount has been reverted.
	StatusRejected Status = "rechazada"
)

// Quotation is one sales quotation with its stock-relevant lines.
type Quotation struct {
	ID        string
	Code      string
	Status    Status
	Branch    string
	Lines     []inventory.QuotationLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrNotFound indicates an unknown quotation id.
var ErrNotFound = errors.New("quotations: not found")

// ErrInvalidTransition indicates a lifecycle move the status machine forbids.
var ErrInvalidTransition = errors.New("quotations: invalid status transition")
