package inventory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeControlStock(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		key  string
		want float64
	}{
		{"plain object", `{"Base":{"stock":12.5}}`, "Base", 12.5},
		{"stock as numeric string", `{"Base":{"stock":"7.25"}}`, "Base", 7.25},
		{"double encoded", `"{\"Sucursal:La Paz\":{\"stock\":3}}"`, "Sucursal:La Paz", 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cs, err := DecodeControlStock([]byte(tc.raw))
			require.NoError(t, err)
			require.Contains(t, cs, tc.key)
			require.Equal(t, tc.want, cs[tc.key].Stock)
		})
	}
}

func TestDecodeControlStockNullVariants(t *testing.T) {
	for _, raw := range []string{"", "null", `"null"`} {
		cs, err := DecodeControlStock([]byte(raw))
		require.NoError(t, err)
		require.NotNil(t, cs)
		require.Empty(t, cs)
	}
}

func TestDecodeControlStockRejectsGarbage(t *testing.T) {
	_, err := DecodeControlStock([]byte(`[1,2,3]`))
	require.Error(t, err)
}

func TestVariantStockPreservesUnknownFields(t *testing.T) {
	raw := `{"Base":{"stock":10,"stock_minimo":2,"nota":"pedir al proveedor"}}`
	cs, err := DecodeControlStock([]byte(raw))
	require.NoError(t, err)

	cs["Base"] = cs["Base"].WithStock(4)
	out, err := json.Marshal(cs)
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Equal(t, 4.0, decoded["Base"]["stock"])
	require.Equal(t, 2.0, decoded["Base"]["stock_minimo"])
	require.Equal(t, "pedir al proveedor", decoded["Base"]["nota"])
}

func TestDecodeVariantSchema(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"bare array", `[{"nombre":"Color","valores":["Rojo"]}]`, []string{"Color"}},
		{"wrapped object", `{"variantes":[{"nombre":"Color"},{"nombre":"Material"}]}`, []string{"Color", "Material"}},
		{"double encoded array", `"[{\"nombre\":\"Color\"}]"`, []string{"Color"}},
		{"null", `null`, nil},
		{"garbage degrades to empty", `42`, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			schema := DecodeVariantSchema([]byte(tc.raw))
			var names []string
			for _, dim := range schema {
				names = append(names, dim.Name)
			}
			require.Equal(t, tc.want, names)
		})
	}
}

func TestDecodeLineVariants(t *testing.T) {
	require.Equal(t, map[string]string{"Color": "Rojo"}, DecodeLineVariants(json.RawMessage(`{"Color":"Rojo"}`)))
	require.Equal(t, map[string]string{"Color": "Azul"}, DecodeLineVariants(json.RawMessage(`"{\"Color\":\"Azul\"}"`)))
	require.Empty(t, DecodeLineVariants(nil))
	require.Empty(t, DecodeLineVariants(json.RawMessage(`null`)))
	require.Empty(t, DecodeLineVariants(json.RawMessage(`[1]`)))
}

func TestDecodeRecipe(t *testing.T) {
	recipe := DecodeRecipe([]byte(`[{"recurso_codigo":"INS-001","cantidad":"2.5"},{"recurso_nombre":"Tinta","cantidad":1}]`))
	require.Len(t, recipe, 2)
	require.Equal(t, "INS-001", recipe[0].ResourceCode)
	require.Equal(t, flexFloat(2.5), recipe[0].Quantity)
	require.Equal(t, "Tinta", recipe[1].ResourceName)
	require.Equal(t, flexFloat(1), recipe[1].Quantity)

	require.Nil(t, DecodeRecipe([]byte(`null`)))
	require.Nil(t, DecodeRecipe([]byte(`"no es json"`)))
}

func TestFlexFloatBadStringDecodesAsZero(t *testing.T) {
	var f flexFloat
	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &f))
	require.Equal(t, flexFloat(0), f)
}
