package inventory

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/cases"
)

// Resolver maps recipe entries to concrete resources. Precedence: exact id,
// case-insensitive code, then trimmed case-insensitive name. A caller-supplied
// catalog snapshot is searched first; the store is only consulted when the
// snapshot misses, so the common path is one bulk read per orchestrator run.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Codes and names in historic recipe rows carry mixed casing, including
// accented uppercase, so plain ASCII folding is not enough.
var folder = cases.Fold()

func foldEqual(a, b string) bool {
	return folder.String(strings.TrimSpace(a)) == folder.String(strings.TrimSpace(b))
}

// Recipe loads a product's bill of materials. Empty is a valid answer.
func (r *Resolver) Recipe(ctx context.Context, productID string) ([]RecipeEntry, error) {
	product, err := r.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return product.Recipe, nil
}

// Resolve finds the resource a recipe entry points at. The catalog snapshot
// is optional; when it misses, the store is queried with the same precedence.
// Returns ErrResourceNotFound when no candidate matches anywhere.
func (r *Resolver) Resolve(ctx context.Context, entry RecipeEntry, catalog []Resource) (*Resource, error) {
	if found := resolveInCatalog(entry, catalog); found != nil {
		return found, nil
	}

	if entry.ResourceID != "" {
		res, err := r.store.GetResource(ctx, entry.ResourceID)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrResourceNotFound) {
			return nil, err
		}
	}
	if entry.ResourceCode != "" {
		res, err := r.store.GetResourceByCode(ctx, entry.ResourceCode)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrResourceNotFound) {
			return nil, err
		}
	}
	if entry.ResourceName != "" {
		res, err := r.store.GetResourceByName(ctx, entry.ResourceName)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrResourceNotFound) {
			return nil, err
		}
	}
	return nil, ErrResourceNotFound
}

func resolveInCatalog(entry RecipeEntry, catalog []Resource) *Resource {
	if len(catalog) == 0 {
		return nil
	}
	if entry.ResourceID != "" {
		for i := range catalog {
			if catalog[i].ID == entry.ResourceID {
				return &catalog[i]
			}
		}
	}
	if entry.ResourceCode != "" {
		for i := range catalog {
			if catalog[i].Code != "" && foldEqual(catalog[i].Code, entry.ResourceCode) {
				return &catalog[i]
			}
		}
	}
	if entry.ResourceName != "" {
		for i := range catalog {
			if catalog[i].Name != "" && foldEqual(catalog[i].Name, entry.ResourceName) {
				return &catalog[i]
			}
		}
	}
	return nil
}

func (e RecipeEntry) label() string {
	switch {
	case e.ResourceName != "":
		return e.ResourceName
	case e.ResourceCode != "":
		return e.ResourceCode
	default:
		return e.ResourceID
	}
}
