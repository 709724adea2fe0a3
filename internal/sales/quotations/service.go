package quotations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alen95ae/stellarmotion-sub005/internal/inventory"
	"github.com/alen95ae/stellarmotion-sub005/internal/shared"
)

// StockEngine is the slice of the inventory engine the lifecycle needs.
type StockEngine interface {
	DiscountQuotation(ctx context.Context, input inventory.QuotationStockInput) (inventory.BatchResult, error)
	RevertQuotation(ctx context.Context, input inventory.QuotationStockInput) (inventory.BatchResult, error)
}

// IdempotencyGuard deduplicates lifecycle triggers.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

const idempotencyModule = "cotizaciones"

// Service owns the quotation status machine and triggers the stock engine on
// each transition that has stock impact.
type Service struct {
	store  Store
	engine StockEngine
	idem   IdempotencyGuard
	logger *slog.Logger
}

// NewService constructs Service. idem may be nil; deduplication is then left
// to the status machine alone.
func NewService(store Store, engine StockEngine, idem IdempotencyGuard, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, engine: engine, idem: idem, logger: logger}
}

// CreateInput carries the fields for a new draft quotation.
type CreateInput struct {
	Code   string
	Branch string
	Lines  []inventory.QuotationLine
}

// Create registers a draft. Drafts never move stock.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Quotation, error) {
	now := time.Now().UTC()
	q := Quotation{
		ID:        uuid.NewString(),
		Code:      input.Code,
		Status:    StatusDraft,
		Branch:    input.Branch,
		Lines:     input.Lines,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, q); err != nil {
		return nil, err
	}
	s.logger.Info("quotation created", slog.String("id", q.ID), slog.String("code", q.Code))
	return &q, nil
}

// Get fetches one quotation.
func (s *Service) Get(ctx context.Context, id string) (*Quotation, error) {
	return s.store.Get(ctx, id)
}

// List returns quotations newest first.
func (s *Service) List(ctx context.Context, page, perPage int) ([]Quotation, int, error) {
	return s.store.List(ctx, page, perPage)
}

// Approve moves a draft to approved and discounts insumo stock for its lines.
// The discount is guarded by an idempotency key so a retried approval cannot
// double-discount.
func (s *Service) Approve(ctx context.Context, id string) (*Quotation, inventory.BatchResult, error) {
	q, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, inventory.BatchResult{}, err
	}
	if q.Status != StatusDraft {
		return nil, inventory.BatchResult{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, q.Status, StatusApproved)
	}

	key := idempotencyKey(q.ID, inventory.OriginQuotationApproved)
	if err := s.checkIdempotency(ctx, key); err != nil {
		return nil, inventory.BatchResult{}, err
	}

	result, err := s.engine.DiscountQuotation(ctx, inventory.QuotationStockInput{
		QuotationID:   q.ID,
		QuotationCode: q.Code,
		Lines:         q.Lines,
		Branch:        q.Branch,
		Origin:        inventory.OriginQuotationApproved,
	})
	if err != nil {
		s.releaseIdempotency(ctx, key)
		return nil, inventory.BatchResult{}, err
	}

	if err := s.store.Transition(ctx, q.ID, StatusDraft, StatusApproved); err != nil {
		return nil, result, err
	}
	q.Status = StatusApproved
	return q, result, nil
}

// Reject closes a quotation. Rejecting an approved quotation reverts its
// discount; rejecting a draft has no stock impact.
func (s *Service) Reject(ctx context.Context, id string) (*Quotation, inventory.BatchResult, error) {
	q, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, inventory.BatchResult{}, err
	}

	var result inventory.BatchResult
	switch q.Status {
	case StatusApproved:
		key := idempotencyKey(q.ID, inventory.OriginQuotationRejected)
		if err := s.checkIdempotency(ctx, key); err != nil {
			return nil, inventory.BatchResult{}, err
		}
		result, err = s.engine.RevertQuotation(ctx, inventory.QuotationStockInput{
			QuotationID:   q.ID,
			QuotationCode: q.Code,
			Lines:         q.Lines,
			Branch:        q.Branch,
			Origin:        inventory.OriginQuotationRejected,
		})
		if err != nil {
			s.releaseIdempotency(ctx, key)
			return nil, inventory.BatchResult{}, err
		}
	case StatusDraft:
		// no stock moved yet
	default:
		return nil, inventory.BatchResult{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, q.Status, StatusRejected)
	}

	if err := s.store.Transition(ctx, q.ID, q.Status, StatusRejected); err != nil {
		return nil, result, err
	}
	q.Status = StatusRejected
	return q, result, nil
}

// UpdateLines replaces a quotation's lines. On an approved quotation the old
// discount is reverted with the OLD lines and re-applied with the new ones,
// both under origin cotizacion_editada. Drafts just save.
func (s *Service) UpdateLines(ctx context.Context, id string, lines []inventory.QuotationLine) (*Quotation, inventory.BatchResult, error) {
	q, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, inventory.BatchResult{}, err
	}

	var result inventory.BatchResult
	if q.Status == StatusApproved {
		if _, err := s.engine.RevertQuotation(ctx, inventory.QuotationStockInput{
			QuotationID:   q.ID,
			QuotationCode: q.Code,
			Lines:         q.Lines,
			Branch:        q.Branch,
			Origin:        inventory.OriginQuotationEdited,
		}); err != nil {
			return nil, inventory.BatchResult{}, fmt.Errorf("quotations: revert before edit: %w", err)
		}
		result, err = s.engine.DiscountQuotation(ctx, inventory.QuotationStockInput{
			QuotationID:   q.ID,
			QuotationCode: q.Code,
			Lines:         lines,
			Branch:        q.Branch,
			Origin:        inventory.OriginQuotationEdited,
		})
		if err != nil {
			return nil, inventory.BatchResult{}, fmt.Errorf("quotations: re-discount after edit: %w", err)
		}
	}

	if err := s.store.UpdateLines(ctx, q.ID, lines); err != nil {
		return nil, result, err
	}
	q.Lines = lines
	return q, result, nil
}

// Delete removes a quotation. Deleting an approved one reverts its discount
// first, under origin cotizacion_eliminada.
func (s *Service) Delete(ctx context.Context, id string) (inventory.BatchResult, error) {
	q, err := s.store.Get(ctx, id)
	if err != nil {
		return inventory.BatchResult{}, err
	}

	var result inventory.BatchResult
	if q.Status == StatusApproved {
		result, err = s.engine.RevertQuotation(ctx, inventory.QuotationStockInput{
			QuotationID:   q.ID,
			QuotationCode: q.Code,
			Lines:         q.Lines,
			Branch:        q.Branch,
			Origin:        inventory.OriginQuotationDeleted,
		})
		if err != nil {
			return inventory.BatchResult{}, err
		}
	}
	if err := s.store.Delete(ctx, q.ID); err != nil {
		return result, err
	}
	s.logger.Info("quotation deleted", slog.String("id", q.ID), slog.String("status", string(q.Status)))
	return result, nil
}

func idempotencyKey(id string, origin inventory.MovementOrigin) string {
	return fmt.Sprintf("cotizacion:%s:%s", id, origin)
}

func (s *Service) checkIdempotency(ctx context.Context, key string) error {
	if s.idem == nil {
		return nil
	}
	err := s.idem.CheckAndInsert(ctx, key, idempotencyModule)
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		return fmt.Errorf("%w: stock already processed", ErrInvalidTransition)
	}
	return err
}

func (s *Service) releaseIdempotency(ctx context.Context, key string) {
	if s.idem == nil {
		return
	}
	if err := s.idem.Delete(ctx, key); err != nil {
		s.logger.Warn("idempotency key cleanup failed", slog.String("key", key), slog.Any("error", err))
	}
}
