package quotations

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alen95ae/stellarmotion-sub005/internal/inventory"
	"github.com/alen95ae/stellarmotion-sub005/internal/shared"
)

type memStore struct {
	mu    sync.Mutex
	items map[string]Quotation
}

func newMemStore() *memStore {
	return &memStore{items: map[string]Quotation{}}
}

func (s *memStore) Create(_ context.Context, q Quotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[q.ID] = q
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*Quotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := q
	return &out, nil
}

func (s *memStore) List(_ context.Context, _, _ int) ([]Quotation, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Quotation, 0, len(s.items))
	for _, q := range s.items {
		out = append(out, q)
	}
	return out, len(out), nil
}

func (s *memStore) Transition(_ context.Context, id string, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if q.Status != from {
		return ErrInvalidTransition
	}
	q.Status = to
	s.items[id] = q
	return nil
}

func (s *memStore) UpdateLines(_ context.Context, id string, lines []inventory.QuotationLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	q.Lines = lines
	s.items[id] = q
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// engineCall records one engine invocation for assertions.
type engineCall struct {
	op     string
	origin inventory.MovementOrigin
	lines  int
}

type fakeEngine struct {
	calls []engineCall
	err   error
}

func (e *fakeEngine) DiscountQuotation(_ context.Context, in inventory.QuotationStockInput) (inventory.BatchResult, error) {
	e.calls = append(e.calls, engineCall{op: "discount", origin: in.Origin, lines: len(in.Lines)})
	return inventory.BatchResult{QuotationID: in.QuotationID, Origin: in.Origin}, e.err
}

func (e *fakeEngine) RevertQuotation(_ context.Context, in inventory.QuotationStockInput) (inventory.BatchResult, error) {
	e.calls = append(e.calls, engineCall{op: "revert", origin: in.Origin, lines: len(in.Lines)})
	return inventory.BatchResult{QuotationID: in.QuotationID, Origin: in.Origin}, e.err
}

type fakeGuard struct {
	seen map[string]bool
}

func newFakeGuard() *fakeGuard { return &fakeGuard{seen: map[string]bool{}} }

func (g *fakeGuard) CheckAndInsert(_ context.Context, key, _ string) error {
	if g.seen[key] {
		return shared.ErrIdempotencyConflict
	}
	g.seen[key] = true
	return nil
}

func (g *fakeGuard) Delete(_ context.Context, key string) error {
	delete(g.seen, key)
	return nil
}

func newTestService(t *testing.T) (*Service, *memStore, *fakeEngine) {
	t.Helper()
	store := newMemStore()
	engine := &fakeEngine{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, engine, newFakeGuard(), logger), store, engine
}

func draftLines() []inventory.QuotationLine {
	return []inventory.QuotationLine{
		{Type: "Producto", ProductCode: "PROD-1", Quantity: 2},
	}
}

func TestCreateStartsAsDraft(t *testing.T) {
	svc, _, engine := newTestService(t)

	q, err := svc.Create(context.Background(), CreateInput{Code: "COT-001", Branch: "La Paz", Lines: draftLines()})
	require.NoError(t, err)
	require.NotEmpty(t, q.ID)
	require.Equal(t, StatusDraft, q.Status)
	require.Empty(t, engine.calls)
}

func TestApproveDiscountsStock(t *testing.T) {
	svc, store, engine := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, CreateInput{Code: "COT-001", Lines: draftLines()})
	require.NoError(t, err)

	approved, result, err := svc.Approve(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.Equal(t, inventory.OriginQuotationApproved, result.Origin)

	require.Len(t, engine.calls, 1)
	require.Equal(t, engineCall{op: "discount", origin: inventory.OriginQuotationApproved, lines: 1}, engine.calls[0])

	stored, err := store.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, stored.Status)
}

func TestApproveTwiceFails(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, CreateInput{Code: "COT-001", Lines: draftLines()})
	require.NoError(t, err)

	_, _, err = svc.Approve(ctx, q.ID)
	require.NoError(t, err)

	_, _, err = svc.Approve(ctx, q.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Len(t, engine.calls, 1)
}

func TestRejectDraftSkipsEngine(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, CreateInput{Code: "COT-001", Lines: draftLines()})
	require.NoError(t, err)

	rejected, _, err := svc.Reject(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Empty(t, engine.calls)
}

func TestRejectApprovedRevertsStock(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, CreateInput{Code: "COT-001", Lines: draftLines()})
	require.NoError(t, err)
	_, _, err = svc.Approve(ctx, q.ID)
	require.NoError(t, err)

	rejected, result, err := svc.Reject(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, inventory.OriginQuotationRejected, result.Origin)

	require.Len(t, engine.calls, 2)
	require.Equal(t, "revert", engine.calls[1].op)
}

func TestRejectRejectedFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, CreateInput{Code: "COT-001"})
	require.NoError(t, err)
	_, _, err = svc.Reject(ctx, q.ID)
	require.NoError(t, err)

	_, _, err = svc.Reject(ctx, q.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateLinesOnDraftSavesWithoutEngine(t *testing.T) {
	svc, store, engine := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, CreateInput{Code: "COT-001", Lines: draftLines()})
	require.NoError(t, err)

	newLines := []inventory.QuotationLine{
		{Type: "Producto", ProductCode: "PROD-2", Quantity: 1},
	}
	updated, _, err := svc.UpdateLines(ctx, q.ID, newLines)
	require.NoError(t, err)
	require.Equal(t, newLines, updated.Lines)
	require.Empty(t, engine.calls)

	stored, err := store.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, "PROD-2", stored.Lines[0].ProductCode)
}

func TestUpdateLinesOnApprovedRevertsThenRediscounts(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, CreateInput{Code: "COT-001", Lines: draftLines()})
	require.NoError(t, err)
	_, _, err = svc.Approve(ctx, q.ID)
	require.NoError(t, err)

	newLines := []inventory.QuotationLine{
		{Type: "Producto", ProductCode: "PROD-2", Quantity: 1},
		{Type: "Producto", ProductCode: "PROD-3", Quantity: 1},
	}
	_, _, err = svc.UpdateLines(ctx, q.ID, newLines)
	require.NoError(t, err)

	require.Len(t, engine.calls, 3)
	// Revert runs with the OLD lines, the re-discount with the new ones.
	require.Equal(t, engineCall{op: "revert", origin: inventory.OriginQuotationEdited, lines: 1}, engine.calls[1])
	require.Equal(t, engineCall{op: "discount", origin: inventory.OriginQuotationEdited, lines: 2}, engine.calls[2])
}

func TestDeleteApprovedRevertsStock(t *testing.T) {
	svc, store, engine := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, CreateInput{Code: "COT-001", Lines: draftLines()})
	require.NoError(t, err)
	_, _, err = svc.Approve(ctx, q.ID)
	require.NoError(t, err)

	result, err := svc.Delete(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.OriginQuotationDeleted, result.Origin)
	require.Equal(t, "revert", engine.calls[len(engine.calls)-1].op)

	_, err = store.Get(ctx, q.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDraftSkipsEngine(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()

	q, err := svc.Create(ctx, CreateInput{Code: "COT-001", Lines: draftLines()})
	require.NoError(t, err)

	_, err = svc.Delete(ctx, q.ID)
	require.NoError(t, err)
	require.Empty(t, engine.calls)
}

func TestApproveUnknownQuotation(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, _, err := svc.Approve(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}
