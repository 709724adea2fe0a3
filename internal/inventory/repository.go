package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store abstracts the resource/product/ledger persistence used by Service.
// The pgx implementation below is the production store; tests supply an
// in-memory one.
type Store interface {
	GetResource(ctx context.Context, id string) (*Resource, error)
	GetResourceByCode(ctx context.Context, code string) (*Resource, error)
	GetResourceByName(ctx context.Context, name string) (*Resource, error)
	ListResources(ctx context.Context) ([]Resource, error)
	UpdateControlStock(ctx context.Context, resourceID string, cs ControlStock) error
	CompareAndSwapControlStock(ctx context.Context, resourceID string, expected json.RawMessage, next ControlStock) (bool, error)
	GetProduct(ctx context.Context, id string) (*Product, error)
	GetProductByCode(ctx context.Context, code string) (*Product, error)
	GetProductByName(ctx context.Context, name string) (*Product, error)
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) error
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, int, error)
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const resourceColumns = `id, codigo, nombre, categoria, unidad_medida, formato, variantes, control_stock`

func (r *Repository) scanResource(row pgx.Row) (*Resource, error) {
	var (
		res          Resource
		code         *string
		name         *string
		category     *string
		unit         *string
		format       []byte
		variantsRaw  []byte
		controlStock []byte
	)
	if err := row.Scan(&res.ID, &code, &name, &category, &unit, &format, &variantsRaw, &controlStock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResourceNotFound
		}
		return nil, fmt.Errorf("inventory: scan resource: %w", err)
	}
	res.Code = deref(code)
	res.Name = deref(name)
	res.Category = deref(category)
	res.UnitOfMeasure = deref(unit)
	if len(format) > 0 {
		res.Format = json.RawMessage(format)
	}
	res.VariantSchema = DecodeVariantSchema(variantsRaw)
	cs, err := DecodeControlStock(controlStock)
	if err != nil {
		return nil, fmt.Errorf("inventory: decode control_stock for %s: %w", res.ID, err)
	}
	res.ControlStock = cs
	if len(controlStock) > 0 {
		res.RawControlStock = json.RawMessage(controlStock)
	}
	return &res, nil
}

// GetResource fetches a resource by id.
func (r *Repository) GetResource(ctx context.Context, id string) (*Resource, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+resourceColumns+` FROM recursos WHERE id=$1`, id)
	return r.scanResource(row)
}

// GetResourceByCode fetches a resource by code, case-insensitively.
func (r *Repository) GetResourceByCode(ctx context.Context, code string) (*Resource, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+resourceColumns+` FROM recursos WHERE codigo ILIKE $1 LIMIT 1`, code)
	return r.scanResource(row)
}

// GetResourceByName fetches a resource by trimmed name, case-insensitively.
func (r *Repository) GetResourceByName(ctx context.Context, name string) (*Resource, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+resourceColumns+` FROM recursos WHERE TRIM(nombre) ILIKE $1 LIMIT 1`, strings.TrimSpace(name))
	return r.scanResource(row)
}

// ListResources fetches the whole resource catalog. The orchestrators load it
// once per run so recipe resolution does not hit the store per entry.
func (r *Repository) ListResources(ctx context.Context) ([]Resource, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+resourceColumns+` FROM recursos`)
	if err != nil {
		return nil, fmt.Errorf("inventory: list resources: %w", err)
	}
	defer rows.Close()
	var resources []Resource
	for rows.Next() {
		res, err := r.scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inventory: list resources: %w", err)
	}
	return resources, nil
}

// UpdateControlStock writes the whole control_stock blob back.
func (r *Repository) UpdateControlStock(ctx context.Context, resourceID string, cs ControlStock) error {
	payload, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("inventory: encode control_stock: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE recursos SET control_stock=$2 WHERE id=$1`, resourceID, payload)
	if err != nil {
		return fmt.Errorf("inventory: update control_stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrResourceNotFound
	}
	return nil
}

// CompareAndSwapControlStock writes the blob only when the stored value still
// matches the witness read earlier. Returns false when another writer won.
func (r *Repository) CompareAndSwapControlStock(ctx context.Context, resourceID string, expected json.RawMessage, next ControlStock) (bool, error) {
	payload, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("inventory: encode control_stock: %w", err)
	}
	if len(expected) == 0 {
		ct, err := r.pool.Exec(ctx, `UPDATE recursos SET control_stock=$2 WHERE id=$1 AND (control_stock IS NULL OR control_stock = 'null'::jsonb)`, resourceID, payload)
		if err != nil {
			return false, fmt.Errorf("inventory: cas control_stock: %w", err)
		}
		return ct.RowsAffected() > 0, nil
	}
	ct, err := r.pool.Exec(ctx, `UPDATE recursos SET control_stock=$2 WHERE id=$1 AND control_stock=$3::jsonb`, resourceID, payload, []byte(expected))
	if err != nil {
		return false, fmt.Errorf("inventory: cas control_stock: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

const productColumns = `id, codigo, nombre, unidad_medida, receta`

func (r *Repository) scanProduct(row pgx.Row) (*Product, error) {
	var (
		prod   Product
		code   *string
		name   *string
		unit   *string
		recipe []byte
	)
	if err := row.Scan(&prod.ID, &code, &name, &unit, &recipe); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("inventory: scan product: %w", err)
	}
	prod.Code = deref(code)
	prod.Name = deref(name)
	prod.UnitOfMeasure = deref(unit)
	prod.Recipe = DecodeRecipe(recipe)
	return &prod, nil
}

// GetProduct fetches a product by id.
func (r *Repository) GetProduct(ctx context.Context, id string) (*Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM productos WHERE id=$1`, id)
	return r.scanProduct(row)
}

// GetProductByCode fetches a product by exact code.
func (r *Repository) GetProductByCode(ctx context.Context, code string) (*Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM productos WHERE codigo=$1 LIMIT 1`, code)
	return r.scanProduct(row)
}

// GetProductByName fetches a product by exact name.
func (r *Repository) GetProductByName(ctx context.Context, name string) (*Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM productos WHERE nombre=$1 LIMIT 1`, name)
	return r.scanProduct(row)
}

// InsertLedgerEntry appends one immutable row to historial_stock.
func (r *Repository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) error {
	at := entry.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO historial_stock
(fecha, origen, referencia_id, referencia_codigo, item_tipo, item_id, item_codigo, item_nombre, sucursal, formato, cantidad_udm, unidad_medida, impacto, stock_anterior, stock_nuevo, tipo_movimiento, observaciones, usuario_id, usuario_nombre)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		at, string(entry.Origin), nullable(entry.ReferenceID), nullable(entry.ReferenceCode),
		entry.ItemType, entry.ItemID, entry.ItemCode, entry.ItemName, entry.Branch,
		rawOrNil(entry.Format), entry.QuantityUOM, entry.UnitOfMeasure, entry.Impact,
		entry.StockBefore, entry.StockAfter, entry.MovementType, nullable(entry.Observations),
		nullable(entry.ActorID), nullable(entry.ActorName))
	if err != nil {
		return fmt.Errorf("inventory: insert ledger entry: %w", err)
	}
	return nil
}

// ListLedger returns filtered ledger rows, newest first, plus the total count.
func (r *Repository) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.ItemID != "" {
		where = append(where, "item_id="+arg(filter.ItemID))
	}
	if filter.Branch != "" {
		where = append(where, "sucursal="+arg(filter.Branch))
	}
	if filter.Origin != "" {
		where = append(where, "origen="+arg(string(filter.Origin)))
	}
	if !filter.From.IsZero() {
		where = append(where, "fecha >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "fecha <= "+arg(filter.To))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM historial_stock WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("inventory: count ledger: %w", err)
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query := `SELECT id, fecha, origen, referencia_id, referencia_codigo, item_tipo, item_id, item_codigo, item_nombre, sucursal, formato, cantidad_udm, unidad_medida, impacto, stock_anterior, stock_nuevo, tipo_movimiento, observaciones, usuario_id, usuario_nombre
FROM historial_stock WHERE ` + cond + ` ORDER BY fecha DESC, id DESC LIMIT ` + arg(perPage) + ` OFFSET ` + arg((page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("inventory: list ledger: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var (
			e                              LedgerEntry
			origin                         string
			refID, refCode, obs, uid, unom *string
			format                         []byte
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &origin, &refID, &refCode, &e.ItemType, &e.ItemID, &e.ItemCode, &e.ItemName, &e.Branch, &format, &e.QuantityUOM, &e.UnitOfMeasure, &e.Impact, &e.StockBefore, &e.StockAfter, &e.MovementType, &obs, &uid, &unom); err != nil {
			return nil, 0, fmt.Errorf("inventory: scan ledger entry: %w", err)
		}
		e.Origin = MovementOrigin(origin)
		e.ReferenceID = deref(refID)
		e.ReferenceCode = deref(refCode)
		e.Observations = deref(obs)
		e.ActorID = deref(uid)
		e.ActorName = deref(unom)
		if len(format) > 0 {
			e.Format = json.RawMessage(format)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("inventory: list ledger: %w", err)
	}
	return entries, total, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
