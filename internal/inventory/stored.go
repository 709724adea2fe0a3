package inventory

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// The legacy store keeps control_stock, variantes and formato as loosely
// typed JSON, occasionally double-encoded as a JSON string. Everything is
// normalised here, at the store boundary; the rest of the package only sees
// the parsed forms.

// ControlStock maps a variant key to the stock tracked for that combination.
type ControlStock map[string]VariantStock

// VariantStock holds the stock figure for one variant key. Unknown fields on
// the stored object (minimums, pricing hints) are preserved verbatim across
// read-modify-write cycles.
type VariantStock struct {
	Stock float64
	extra map[string]json.RawMessage
}

// WithStock returns a copy with the stock figure replaced.
func (v VariantStock) WithStock(stock float64) VariantStock {
	v.Stock = stock
	return v
}

// UnmarshalJSON accepts {"stock": n, ...} with n as number or numeric string.
func (v *VariantStock) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if field, ok := raw["stock"]; ok {
		var num float64
		if err := json.Unmarshal(field, &num); err == nil {
			v.Stock = num
		} else {
			var str string
			if err := json.Unmarshal(field, &str); err == nil {
				if parsed, err := strconv.ParseFloat(str, 64); err == nil {
					v.Stock = parsed
				}
			}
		}
		delete(raw, "stock")
	}
	v.extra = raw
	return nil
}

// MarshalJSON writes the preserved fields plus the current stock figure.
func (v VariantStock) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(v.extra)+1)
	for key, value := range v.extra {
		out[key] = value
	}
	out["stock"] = v.Stock
	return json.Marshal(out)
}

// VariantSchema lists the attribute dimensions a resource tracks.
type VariantSchema []VariantDimension

// VariantDimension is one named attribute dimension, e.g. Color.
type VariantDimension struct {
	Name   string   `json:"nombre"`
	Values []string `json:"valores,omitempty"`
}

// Names returns the set of attribute names the schema declares.
func (s VariantSchema) Names() map[string]struct{} {
	names := make(map[string]struct{}, len(s))
	for _, dim := range s {
		if dim.Name != "" {
			names[dim.Name] = struct{}{}
		}
	}
	return names
}

// unwrapString peels one layer of JSON string encoding, if present.
func unwrapString(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return trimmed
	}
	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return trimmed
	}
	return []byte(inner)
}

func isJSONNull(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// DecodeControlStock normalises a stored control_stock blob.
func DecodeControlStock(raw []byte) (ControlStock, error) {
	if isJSONNull(raw) {
		return ControlStock{}, nil
	}
	data := unwrapString(raw)
	if isJSONNull(data) {
		return ControlStock{}, nil
	}
	var cs ControlStock
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, err
	}
	if cs == nil {
		cs = ControlStock{}
	}
	return cs, nil
}

// DecodeVariantSchema normalises a stored variantes blob. Historic rows use
// three shapes: a bare array, an object wrapping the array under "variantes",
// or either of those double-encoded as a string. Unparseable input degrades
// to an empty schema rather than an error.
func DecodeVariantSchema(raw []byte) VariantSchema {
	if isJSONNull(raw) {
		return nil
	}
	data := unwrapString(raw)
	if isJSONNull(data) {
		return nil
	}
	var schema VariantSchema
	if err := json.Unmarshal(data, &schema); err == nil {
		return schema
	}
	var wrapped struct {
		Variants VariantSchema `json:"variantes"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		return wrapped.Variants
	}
	return nil
}

// DecodeLineVariants normalises a line item's variant combination. Accepts an
// object or a string-wrapped object; anything else degrades to no variants.
func DecodeLineVariants(raw json.RawMessage) map[string]string {
	if isJSONNull(raw) {
		return map[string]string{}
	}
	data := unwrapString(raw)
	if isJSONNull(data) {
		return map[string]string{}
	}
	var variants map[string]string
	if err := json.Unmarshal(data, &variants); err != nil || variants == nil {
		return map[string]string{}
	}
	return variants
}

// DecodeRecipe normalises a stored receta blob. Missing or unparseable
// recipes decode as empty, which callers treat as "no stock side effects".
func DecodeRecipe(raw []byte) []RecipeEntry {
	if isJSONNull(raw) {
		return nil
	}
	data := unwrapString(raw)
	if isJSONNull(data) {
		return nil
	}
	var recipe []RecipeEntry
	if err := json.Unmarshal(data, &recipe); err != nil {
		return nil
	}
	return recipe
}

// flexFloat decodes JSON numbers that historic rows sometimes store as
// quoted strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat(num)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		*f = 0
		return nil
	}
	parsed, err := strconv.ParseFloat(str, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(parsed)
	return nil
}

func (f flexFloat) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(f))
}
