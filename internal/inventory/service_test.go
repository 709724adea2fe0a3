package inventory

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alen95ae/stellarmotion-sub005/internal/shared"
)

func newTestService(t *testing.T, store Store, guarded bool) *Service {
	t.Helper()
	return NewService(store, nil, ServiceConfig{
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		GuardedWrites: guarded,
	})
}

func lonaResource(stock float64) Resource {
	return Resource{
		ID:            "r1",
		Code:          "INS-001",
		Name:          "Lona Frontlight",
		Category:      CategorySupplies,
		UnitOfMeasure: "m²",
		VariantSchema: VariantSchema{{Name: "Color"}},
		ControlStock:  ControlStock{"Base": VariantStock{Stock: stock}},
	}
}

func TestDebitAllowsNegativeStock(t *testing.T) {
	store := newMemStore()
	store.addResource(lonaResource(3))
	svc := newTestService(t, store, false)

	entry, err := svc.Debit(context.Background(), MovementInput{ResourceID: "r1", Quantity: 5})
	require.NoError(t, err)

	require.Equal(t, 3.0, entry.StockBefore)
	require.Equal(t, -5.0, entry.Impact)
	require.Equal(t, -2.0, entry.StockAfter)
	require.Equal(t, "Descuento stock", entry.MovementType)
	require.Equal(t, OriginManual, entry.Origin)
	require.Equal(t, ItemTypeResource, entry.ItemType)
	require.Equal(t, "INS-001", entry.ItemCode)
	require.Equal(t, "sistema", entry.ActorName)

	require.Equal(t, -2.0, store.stock("r1", "Base"))
	require.Len(t, store.ledger, 1)
}

func TestCreditIncreasesStock(t *testing.T) {
	store := newMemStore()
	store.addResource(lonaResource(0))
	svc := newTestService(t, store, false)

	entry, err := svc.Credit(context.Background(), MovementInput{ResourceID: "r1", Quantity: 2.5})
	require.NoError(t, err)
	require.Equal(t, 2.5, entry.Impact)
	require.Equal(t, 2.5, entry.StockAfter)
	require.Equal(t, "Aumento stock", entry.MovementType)
	require.Equal(t, 2.5, store.stock("r1", "Base"))
}

func TestMutateStockValidation(t *testing.T) {
	store := newMemStore()
	store.addResource(lonaResource(1))
	svc := newTestService(t, store, false)
	ctx := context.Background()

	_, err := svc.Debit(ctx, MovementInput{ResourceID: "r1", Quantity: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Debit(ctx, MovementInput{ResourceID: "r1", Quantity: -1})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Debit(ctx, MovementInput{Quantity: 1})
	require.Error(t, err)

	_, err = svc.Debit(ctx, MovementInput{ResourceID: "ghost", Quantity: 1})
	require.ErrorIs(t, err, ErrResourceNotFound)

	require.Empty(t, store.ledger)
}

func TestDebitUsesBranchVariantKey(t *testing.T) {
	store := newMemStore()
	store.addResource(lonaResource(10))
	svc := newTestService(t, store, false)

	_, err := svc.Debit(context.Background(), MovementInput{
		ResourceID: "r1",
		Quantity:   4,
		Branch:     "La Paz",
		Variants:   map[string]string{"Color": "Rojo"},
	})
	require.NoError(t, err)

	require.Equal(t, -4.0, store.stock("r1", "Color:Rojo|Sucursal:La Paz"))
	// Sibling keys stay untouched.
	require.Equal(t, 10.0, store.stock("r1", "Base"))
}

func TestDebitRecordsActorFromContext(t *testing.T) {
	store := newMemStore()
	store.addResource(lonaResource(1))
	svc := newTestService(t, store, false)

	ctx := shared.ContextWithActor(context.Background(), shared.Actor{ID: "u7", Name: "Alicia"})
	entry, err := svc.Debit(ctx, MovementInput{ResourceID: "r1", Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, "u7", entry.ActorID)
	require.Equal(t, "Alicia", entry.ActorName)
}

func quotationFixture() *memStore {
	store := newMemStore()
	store.addResource(lonaResource(10))
	store.addResource(Resource{
		ID: "r2", Code: "ACA-001", Name: "Acabado Mate", Category: "Acabados",
		ControlStock: ControlStock{"Base": VariantStock{Stock: 5}},
	})
	store.addProduct(Product{
		ID: "p1", Code: "PROD-1", Name: "Banner", UnitOfMeasure: "m²",
		Recipe: []RecipeEntry{
			{ResourceCode: "INS-001", Quantity: 2},
			{ResourceCode: "ACA-001", Quantity: 1},
		},
	})
	store.addProduct(Product{ID: "p2", Code: "PROD-2", Name: "Diseño"})
	return store
}

func TestDiscountQuotation(t *testing.T) {
	store := quotationFixture()
	svc := newTestService(t, store, false)

	result, err := svc.DiscountQuotation(context.Background(), QuotationStockInput{
		QuotationID:   "q1",
		QuotationCode: "COT-001",
		Branch:        "La Paz",
		Origin:        OriginQuotationApproved,
		Lines: []QuotationLine{
			{Type: "Producto", ProductCode: "PROD-1", Quantity: 1, Width: ptr(3), Height: ptr(3), UnitOfMeasure: "m²",
				Variants: []byte(`{"Color":"Rojo","Acabado":"Mate"}`)},
			{Type: "Servicio", ProductName: "Instalación", Quantity: 1},
			{Type: "Producto", ProductCode: "PROD-1", Quantity: 1, IsSupport: true},
			{Type: "Producto", Quantity: 1},
			{Type: "Producto", ProductCode: "PROD-1", Quantity: 0},
			{Type: "Producto", ProductCode: "NOPE", Quantity: 1},
			{Type: "Producto", ProductCode: "PROD-2", Quantity: 1},
			{Type: "Producto", ProductCode: "PROD-1", Quantity: 1, UnitOfMeasure: "m²"},
		},
	})
	require.NoError(t, err)

	require.Equal(t, 1, result.Applied())
	require.Equal(t, 8, result.Skipped())
	require.Equal(t, 0, result.Failed())

	reasons := map[string]bool{}
	for _, o := range result.Outcomes {
		if o.Status == OutcomeSkipped {
			reasons[o.Reason] = true
		}
	}
	for _, want := range []string{
		"no_es_insumo", "linea_no_producto", "es_soporte", "sin_codigo_ni_nombre",
		"cantidad_invalida", "producto_no_encontrado", "sin_receta", "consumo_invalido",
	} {
		require.True(t, reasons[want], "missing skip reason %s", want)
	}

	// consumption 1×3×3 = 9 m², recipe factor 2 → 18, keyed by the schema
	// intersection (Color) plus branch.
	require.Equal(t, -18.0, store.stock("r1", "Color:Rojo|Sucursal:La Paz"))
	require.Equal(t, 10.0, store.stock("r1", "Base"))
	// Non-insumo resource untouched.
	require.Equal(t, 5.0, store.stock("r2", "Base"))

	require.Len(t, store.ledger, 1)
	row := store.ledger[0]
	require.Equal(t, OriginQuotationApproved, row.Origin)
	require.Equal(t, "q1", row.ReferenceID)
	require.Equal(t, "COT-001", row.ReferenceCode)
	require.Equal(t, "Venta", row.MovementType)
	require.Equal(t, 18.0, row.QuantityUOM)
	require.Equal(t, -18.0, row.Impact)
}

func TestDiscountQuotationAreaScenario(t *testing.T) {
	store := newMemStore()
	store.addResource(Resource{
		ID: "r1", Code: "INS-001", Name: "Lona Frontlight",
		Category: CategorySupplies, UnitOfMeasure: "m²",
		ControlStock: ControlStock{"Sucursal:La Paz": VariantStock{Stock: 10}},
	})
	store.addProduct(Product{
		ID: "p1", Code: "P1", Name: "Banner", UnitOfMeasure: "m²",
		Recipe: []RecipeEntry{{ResourceCode: "INS-001", Quantity: 0.5}},
	})
	svc := newTestService(t, store, false)

	result, err := svc.DiscountQuotation(context.Background(), QuotationStockInput{
		QuotationID: "q1",
		Branch:      "La Paz",
		Lines: []QuotationLine{
			{Type: "Producto", ProductCode: "P1", Quantity: 1, Width: ptr(2), Height: ptr(1), UnitOfMeasure: "m²"},
		},
	})
	require.NoError(t, err)

	// consumption 1×2×1 = 2.00, recipe factor 0.5 → amount 1.00
	require.Equal(t, 1, result.Applied())
	require.Equal(t, 1.0, result.Outcomes[0].Amount)
	require.Equal(t, 9.0, store.stock("r1", "Sucursal:La Paz"))

	require.Len(t, store.ledger, 1)
	require.Equal(t, -1.0, store.ledger[0].Impact)
	require.Equal(t, 10.0, store.ledger[0].StockBefore)
	require.Equal(t, 9.0, store.ledger[0].StockAfter)
	require.Equal(t, "La Paz", store.ledger[0].Branch)
}

func TestDiscountQuotationDefaultsOrigin(t *testing.T) {
	store := quotationFixture()
	svc := newTestService(t, store, false)

	result, err := svc.DiscountQuotation(context.Background(), QuotationStockInput{QuotationID: "q1"})
	require.NoError(t, err)
	require.Equal(t, OriginQuotationApproved, result.Origin)
}

func TestDiscountQuotationRejectsOrigin(t *testing.T) {
	svc := newTestService(t, quotationFixture(), false)
	_, err := svc.DiscountQuotation(context.Background(), QuotationStockInput{
		QuotationID: "q1",
		Origin:      OriginQuotationRejected,
	})
	require.ErrorIs(t, err, ErrInvalidOrigin)
}

func TestRevertQuotationRejectsOrigin(t *testing.T) {
	svc := newTestService(t, quotationFixture(), false)
	_, err := svc.RevertQuotation(context.Background(), QuotationStockInput{
		QuotationID: "q1",
		Origin:      OriginQuotationApproved,
	})
	require.ErrorIs(t, err, ErrInvalidOrigin)
}

func TestRevertQuotationRestoresStock(t *testing.T) {
	store := quotationFixture()
	svc := newTestService(t, store, false)
	ctx := context.Background()

	input := QuotationStockInput{
		QuotationID: "q1",
		Branch:      "La Paz",
		Lines: []QuotationLine{
			{Type: "Producto", ProductCode: "PROD-1", Quantity: 3, UnitOfMeasure: "unidad"},
		},
	}

	input.Origin = OriginQuotationApproved
	_, err := svc.DiscountQuotation(ctx, input)
	require.NoError(t, err)
	require.Equal(t, -6.0, store.stock("r1", "Sucursal:La Paz"))

	input.Origin = OriginQuotationRejected
	result, err := svc.RevertQuotation(ctx, input)
	require.NoError(t, err)
	require.Equal(t, 1, result.Applied())
	require.Equal(t, 0.0, store.stock("r1", "Sucursal:La Paz"))

	require.Len(t, store.ledger, 2)
	require.Equal(t, "Venta", store.ledger[0].MovementType)
	require.Equal(t, "Reversión venta", store.ledger[1].MovementType)
	require.Equal(t, 6.0, store.ledger[1].Impact)
}

func TestQuotationContinuesAfterMutationFailure(t *testing.T) {
	store := quotationFixture()
	store.ledgerErr = errStoreDown
	svc := newTestService(t, store, false)

	result, err := svc.DiscountQuotation(context.Background(), QuotationStockInput{
		QuotationID: "q1",
		Origin:      OriginQuotationApproved,
		Lines: []QuotationLine{
			{Type: "Producto", ProductCode: "PROD-1", Quantity: 1, UnitOfMeasure: "unidad"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.Applied())
	require.Equal(t, 1, result.Failed())
}

func TestGuardedWriteRetriesOnLostRace(t *testing.T) {
	store := newMemStore()
	store.addResource(lonaResource(8))
	store.casRejects = 1
	svc := newTestService(t, store, true)

	entry, err := svc.Debit(context.Background(), MovementInput{ResourceID: "r1", Quantity: 3})
	require.NoError(t, err)
	require.Equal(t, 5.0, entry.StockAfter)
	require.Equal(t, 2, store.casCalls)
}

func TestGuardedWriteGivesUpAfterRetries(t *testing.T) {
	store := newMemStore()
	store.addResource(lonaResource(8))
	store.casRejects = 3
	svc := newTestService(t, store, true)

	_, err := svc.Debit(context.Background(), MovementInput{ResourceID: "r1", Quantity: 3})
	require.Error(t, err)
	require.Empty(t, store.ledger)
}
