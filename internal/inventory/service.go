package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/alen95ae/stellarmotion-sub005/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Logger  *slog.Logger
	Metrics *EngineMetrics
	// GuardedWrites serialises stock read-modify-write per resource and uses
	// conditional updates. Off by default: the historical engine is plain
	// last-writer-wins and callers rely on that being reproducible.
	GuardedWrites bool
	// DistLock extends the guard across instances. Optional; the in-process
	// mutex still applies without it.
	DistLock *shared.RedisLock
}

// Service coordinates stock mutations and the quotation orchestrators.
type Service struct {
	store    Store
	resolver *Resolver
	audit    AuditPort
	logger   *slog.Logger
	metrics  *EngineMetrics
	guarded  bool
	locks    *shared.KeyedMutex
	distLock *shared.RedisLock
	catalog  singleflight.Group
}

// NewService builds Service.
func NewService(store Store, audit AuditPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		resolver: NewResolver(store),
		audit:    audit,
		logger:   logger,
		metrics:  cfg.Metrics,
		guarded:  cfg.GuardedWrites,
		locks:    shared.NewKeyedMutex(),
		distLock: cfg.DistLock,
	}
}

// Debit subtracts quantity from a resource's stock for the derived variant
// key and appends the matching ledger row. Negative resulting stock is
// allowed; the business tracks oversell instead of blocking it.
func (s *Service) Debit(ctx context.Context, input MovementInput) (LedgerEntry, error) {
	return s.mutateStock(ctx, -1, input)
}

// Credit adds quantity back. Inverse of Debit, used for reversal.
func (s *Service) Credit(ctx context.Context, input MovementInput) (LedgerEntry, error) {
	return s.mutateStock(ctx, 1, input)
}

const casAttempts = 3

func (s *Service) mutateStock(ctx context.Context, sign int, input MovementInput) (LedgerEntry, error) {
	if input.ResourceID == "" {
		return LedgerEntry{}, errors.New("inventory: resource id required")
	}
	if input.Quantity <= 0 {
		return LedgerEntry{}, ErrInvalidQuantity
	}

	if s.guarded {
		s.locks.Lock(input.ResourceID)
		defer s.locks.Unlock(input.ResourceID)
		if s.distLock != nil {
			lockKey := shared.ResourceLockKey(input.ResourceID)
			if err := s.distLock.Acquire(ctx, lockKey); err != nil {
				return LedgerEntry{}, err
			}
			defer func() {
				if err := s.distLock.Release(context.WithoutCancel(ctx), lockKey); err != nil {
					s.logger.Warn("resource lock release failed", slog.String("resource", input.ResourceID), slog.Any("error", err))
				}
			}()
		}
	}

	attempts := 1
	if s.guarded {
		attempts = casAttempts
	}

	var (
		resource *Resource
		key      string
		before   float64
		after    float64
	)
	for attempt := 0; ; attempt++ {
		var err error
		resource, err = s.store.GetResource(ctx, input.ResourceID)
		if err != nil {
			return LedgerEntry{}, err
		}

		key = VariantKey(WithBranch(input.Variants, input.Branch))
		before = resource.ControlStock[key].Stock
		after = addRound2(before, float64(sign)*input.Quantity)

		next := resource.ControlStock
		if next == nil {
			next = ControlStock{}
		}
		next[key] = next[key].WithStock(after)

		if !s.guarded {
			if err := s.store.UpdateControlStock(ctx, resource.ID, next); err != nil {
				return LedgerEntry{}, err
			}
			break
		}
		swapped, err := s.store.CompareAndSwapControlStock(ctx, resource.ID, resource.RawControlStock, next)
		if err != nil {
			return LedgerEntry{}, err
		}
		if swapped {
			break
		}
		if attempt+1 >= attempts {
			return LedgerEntry{}, fmt.Errorf("inventory: concurrent stock update on %s", resource.ID)
		}
	}

	impact := float64(sign) * input.Quantity
	movementType := input.MovementType
	if movementType == "" {
		if sign < 0 {
			movementType = "Descuento stock"
		} else {
			movementType = "Aumento stock"
		}
	}
	format := input.Format
	if len(format) == 0 {
		format = resource.Format
	}
	actor := shared.ActorFromContext(ctx)

	entry := LedgerEntry{
		OccurredAt:    time.Now().UTC(),
		Origin:        originOrManual(input.Origin),
		ReferenceID:   input.ReferenceID,
		ReferenceCode: input.ReferenceCode,
		ItemType:      ItemTypeResource,
		ItemID:        resource.ID,
		ItemCode:      resource.Code,
		ItemName:      resource.Name,
		Branch:        input.Branch,
		Format:        format,
		QuantityUOM:   input.Quantity,
		UnitOfMeasure: resource.UnitOfMeasure,
		Impact:        round2(impact),
		StockBefore:   before,
		StockAfter:    after,
		MovementType:  movementType,
		Observations:  input.Observations,
		ActorID:       actor.ID,
		ActorName:     actor.Name,
	}
	// Stock first, ledger second. The pair is not transactional; a ledger
	// failure here surfaces as this mutation's error while the stock write
	// stands, matching the historical contract.
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		return LedgerEntry{}, err
	}

	direction := "credit"
	if sign < 0 {
		direction = "debit"
	}
	s.metrics.mutation(entry.Origin, direction)
	s.logger.Info("stock mutated",
		slog.String("resource", resource.Name),
		slog.String("variant_key", key),
		slog.Float64("before", before),
		slog.Float64("impact", entry.Impact),
		slog.Float64("after", after),
	)
	return entry, nil
}

func originOrManual(origin MovementOrigin) MovementOrigin {
	if origin == "" {
		return OriginManual
	}
	return origin
}

// DiscountQuotation discounts insumos when a quotation is approved (or
// re-approved after an edit). Per-line and per-entry problems are recorded
// in the result and never abort the batch; only the initial catalog load is
// fatal.
func (s *Service) DiscountQuotation(ctx context.Context, input QuotationStockInput) (BatchResult, error) {
	if input.Origin == "" {
		input.Origin = OriginQuotationApproved
	}
	if input.Origin != OriginQuotationApproved && input.Origin != OriginQuotationEdited {
		return BatchResult{}, fmt.Errorf("%w: %s", ErrInvalidOrigin, input.Origin)
	}
	return s.processQuotation(ctx, input, -1, "Venta")
}

// RevertQuotation is the mirror of DiscountQuotation: same filters, same
// consumption math recomputed from the supplied lines, opposite sign. It is
// only numerically exact when the lines are unchanged since the discount.
func (s *Service) RevertQuotation(ctx context.Context, input QuotationStockInput) (BatchResult, error) {
	if input.Origin == "" {
		input.Origin = OriginQuotationRejected
	}
	switch input.Origin {
	case OriginQuotationRejected, OriginQuotationEdited, OriginQuotationDeleted:
	default:
		return BatchResult{}, fmt.Errorf("%w: %s", ErrInvalidOrigin, input.Origin)
	}
	return s.processQuotation(ctx, input, 1, "Reversión venta")
}

func (s *Service) processQuotation(ctx context.Context, input QuotationStockInput, sign int, movementType string) (BatchResult, error) {
	result := BatchResult{QuotationID: input.QuotationID, Origin: input.Origin}

	log := s.logger.With(
		slog.String("quotation", input.QuotationID),
		slog.String("origin", string(input.Origin)),
		slog.String("branch", input.Branch),
	)
	log.Info("processing quotation stock", slog.Int("lines", len(input.Lines)))

	catalog, err := s.loadCatalog(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("inventory: load resource catalog: %w", err)
	}

	skip := func(outcome EntryOutcome, reason string) {
		outcome.Status = OutcomeSkipped
		outcome.Reason = reason
		result.Outcomes = append(result.Outcomes, outcome)
		s.metrics.skip(reason)
		log.Info("skipped", slog.Int("line", outcome.Line), slog.String("reason", reason), slog.String("resource", outcome.Resource))
	}
	fail := func(outcome EntryOutcome, err error) {
		outcome.Status = OutcomeFailed
		outcome.Reason = err.Error()
		result.Outcomes = append(result.Outcomes, outcome)
		s.metrics.failure(input.Origin)
		log.Error("stock mutation failed", slog.Int("line", outcome.Line), slog.String("resource", outcome.Resource), slog.Any("error", err))
	}

	for i, line := range input.Lines {
		base := EntryOutcome{Line: i + 1, Product: line.label()}

		if line.Type != LineTypeProduct {
			skip(base, "linea_no_producto")
			continue
		}
		if line.IsSupport {
			skip(base, "es_soporte")
			continue
		}
		if line.ProductCode == "" && line.ProductName == "" {
			skip(base, "sin_codigo_ni_nombre")
			continue
		}
		if line.Quantity <= 0 {
			skip(base, "cantidad_invalida")
			continue
		}

		product, err := s.lookupProduct(ctx, line)
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				skip(base, "producto_no_encontrado")
			} else {
				fail(base, err)
			}
			continue
		}
		if len(product.Recipe) == 0 {
			skip(base, "sin_receta")
			continue
		}

		consumption := Consumption(line, product.UnitOfMeasure)
		if consumption <= 0 {
			skip(base, "consumo_invalido")
			continue
		}

		productVariants := DecodeLineVariants(line.Variants)

		for _, recipeEntry := range product.Recipe {
			outcome := base
			outcome.Resource = recipeEntry.label()

			resource, err := s.resolver.Resolve(ctx, recipeEntry, catalog)
			if err != nil {
				if errors.Is(err, ErrResourceNotFound) {
					skip(outcome, "recurso_no_encontrado")
				} else {
					fail(outcome, err)
				}
				continue
			}
			outcome.Resource = resource.Name

			if resource.Category != CategorySupplies {
				skip(outcome, "no_es_insumo")
				continue
			}

			amount := mulRound2(float64(recipeEntry.Quantity), consumption)
			if amount <= 0 {
				skip(outcome, "cantidad_descuento_invalida")
				continue
			}

			applied := ApplyVariantSchema(resource.VariantSchema, productVariants)

			_, err = s.mutateStock(ctx, sign, MovementInput{
				ResourceID:    resource.ID,
				Quantity:      amount,
				Branch:        input.Branch,
				Variants:      applied,
				Origin:        input.Origin,
				ReferenceID:   input.QuotationID,
				ReferenceCode: input.QuotationCode,
				MovementType:  movementType,
				Format:        resource.Format,
			})
			if err != nil {
				fail(outcome, err)
				continue
			}
			outcome.Status = OutcomeApplied
			outcome.Amount = amount
			result.Outcomes = append(result.Outcomes, outcome)
		}
	}

	log.Info("quotation stock processed",
		slog.Int("applied", result.Applied()),
		slog.Int("skipped", result.Skipped()),
		slog.Int("failed", result.Failed()),
	)

	if s.audit != nil {
		action := "inventory:descuento"
		if sign > 0 {
			action = "inventory:reversion"
		}
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    shared.ActorFromContext(ctx),
			Action:   action,
			Entity:   "cotizacion",
			EntityID: input.QuotationID,
			Meta: map[string]any{
				"origen":   string(input.Origin),
				"sucursal": input.Branch,
				"aplicado": result.Applied(),
				"omitido":  result.Skipped(),
				"fallido":  result.Failed(),
			},
		})
	}
	return result, nil
}

// loadCatalog reads the full resource catalog. Concurrent orchestrator runs
// share one read; a stale-by-milliseconds snapshot is fine because mutateStock
// re-reads each resource before writing.
func (s *Service) loadCatalog(ctx context.Context) ([]Resource, error) {
	ch := s.catalog.DoChan("catalog", func() (any, error) {
		return s.store.ListResources(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Resource), nil
	}
}

func (s *Service) lookupProduct(ctx context.Context, line QuotationLine) (*Product, error) {
	if line.ProductCode != "" {
		product, err := s.store.GetProductByCode(ctx, line.ProductCode)
		if err == nil {
			return product, nil
		}
		if !errors.Is(err, ErrProductNotFound) {
			return nil, err
		}
	}
	if line.ProductName != "" {
		return s.store.GetProductByName(ctx, line.ProductName)
	}
	return nil, ErrProductNotFound
}

// Ledger lists ledger rows for the history views.
func (s *Service) Ledger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, int, error) {
	return s.store.ListLedger(ctx, filter)
}

// ResourceStock returns a resource's per-variant stock map.
func (s *Service) ResourceStock(ctx context.Context, resourceID string) (*Resource, error) {
	return s.store.GetResource(ctx, resourceID)
}

func addRound2(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Round(2).Float64()
	return f
}
