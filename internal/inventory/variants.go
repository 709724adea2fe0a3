package inventory

import (
	"sort"
	"strings"
)

// BranchAttribute is the attribute name under which the branch is folded into
// the variant combination. The resulting keys index persisted control_stock
// data, so the Spanish name must not change.
const BranchAttribute = "Sucursal"

// NoVariantKey is the key used when a combination has no attributes.
const NoVariantKey = "Base"

// VariantKey serialises an attribute combination into its canonical lookup
// key, e.g. "Color:Rojo|Sucursal:La Paz". Attribute names are sorted in byte
// order so insertion order never changes the key.
func VariantKey(combination map[string]string) string {
	if len(combination) == 0 {
		return NoVariantKey
	}
	names := make([]string, 0, len(combination))
	for name := range combination {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+":"+strings.TrimSpace(combination[name]))
	}
	return strings.Join(parts, "|")
}

// WithBranch copies the combination and adds the branch attribute. An empty
// branch adds nothing, so unbranched movements keep the Base key.
func WithBranch(variants map[string]string, branch string) map[string]string {
	combined := make(map[string]string, len(variants)+1)
	for name, value := range variants {
		combined[name] = value
	}
	if strings.TrimSpace(branch) != "" {
		combined[BranchAttribute] = branch
	}
	return combined
}

// ApplyVariantSchema intersects a product's variant combination with the
// attribute dimensions the resource declares. Attributes the resource does
// not track are dropped; a resource without a schema takes no variants.
func ApplyVariantSchema(schema VariantSchema, productVariants map[string]string) map[string]string {
	applied := map[string]string{}
	if len(productVariants) == 0 || len(schema) == 0 {
		return applied
	}
	names := schema.Names()
	for name, value := range productVariants {
		if _, ok := names[name]; ok {
			applied[name] = value
		}
	}
	return applied
}
