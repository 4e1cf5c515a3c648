package promo

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNormalizeDefaults(t *testing.T) {
	rule := Normalize(RawRule{"id": "r1", "name": "r1", "type": "amount"})

	assert.True(t, rule.Enabled)
	assert.True(t, rule.Combinable)
	assert.False(t, rule.UniquePerTicket)
	assert.Equal(t, DefaultPriority, rule.Priority)
	assert.Nil(t, rule.MaxPerTicket)
	assert.Nil(t, rule.ValidFrom)
	assert.Nil(t, rule.ValidTo)
	require.NotNil(t, rule.Amount)
	assert.Equal(t, int64(0), rule.Amount.AmountCents)
}

func TestNormalizeSpanishVocabulary(t *testing.T) {
	rule := Normalize(RawRule{
		"id":           "es",
		"nombre":       "3x2 paletas",
		"tipo":         "cantidad_regalo",
		"habilitado":   "si",
		"prioridad":    "7",
		"acumulable":   "no",
		"vigencia":     map[string]any{"desde": "2025-07-01", "hasta": "2025-07-31 23:59:59"},
		"maxPorTicket": 2.9,
		"condiciones":  map[string]any{"categoria": "paleta", "compra_min": 2},
		"beneficio":    map[string]any{"gratis": 1},
	})

	assert.Equal(t, "3x2 paletas", rule.Name)
	assert.Equal(t, TypeBogo, rule.Type)
	assert.True(t, rule.Enabled)
	assert.False(t, rule.Combinable)
	assert.Equal(t, 7.0, rule.Priority)
	require.NotNil(t, rule.MaxPerTicket)
	assert.Equal(t, 2, *rule.MaxPerTicket)
	require.NotNil(t, rule.ValidFrom)
	require.NotNil(t, rule.ValidTo)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), *rule.ValidFrom)
	assert.Equal(t, time.Date(2025, 7, 31, 23, 59, 59, 0, time.UTC), *rule.ValidTo)
	require.NotNil(t, rule.Bogo)
	assert.Equal(t, BogoTerms{MatchTag: "paleta", BuyQty: 2, GetQty: 1}, *rule.Bogo)
}

func TestNormalizeCanonicalKeyWinsOverAlias(t *testing.T) {
	rule := Normalize(RawRule{
		"id": "p", "name": "canonical", "nombre": "alias",
		"type": "percent", "percent": 12.5,
		"matchTag": "helado", "condiciones": map[string]any{"categoria": "paleta"},
		"beneficio": map[string]any{"porcentaje": 50},
	})

	assert.Equal(t, "canonical", rule.Name)
	require.NotNil(t, rule.Percent)
	assert.Equal(t, PercentTerms{MatchTag: "helado", BasisPoints: 1250}, *rule.Percent)
}

func TestNormalizeTypeVocabularyIsCaseInsensitive(t *testing.T) {
	cases := map[string]Type{
		"BOGO":           TypeBogo,
		" combo_regalo ": TypeComboGift,
		"Porcentaje":     TypePercent,
		"monto":          TypeAmount,
		"happy_hour":     Type("happy_hour"),
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(RawRule{"type": in}).Type, in)
	}
}

func TestNormalizeUnknownTypeCarriesNoTerms(t *testing.T) {
	rule := Normalize(RawRule{"id": "x", "type": "happy_hour"})

	assert.Nil(t, rule.Bogo)
	assert.Nil(t, rule.Combo)
	assert.Nil(t, rule.Percent)
	assert.Nil(t, rule.Amount)
}

func TestNormalizeComboFromSpanishItems(t *testing.T) {
	rule := Normalize(RawRule{
		"id": "c", "tipo": "combo_regalo",
		"condiciones": map[string]any{"items": []any{
			map[string]any{"sku": "PALETA_CHOCO", "qty": 2},
			map[string]any{"sku": "PALETA_LIMON"},
			"not-a-map",
		}},
		"beneficio": map[string]any{"item": "CONO", "nombre": "Cono sencillo", "gratis": 1},
	})

	require.NotNil(t, rule.Combo)
	assert.Equal(t, []Requirement{{SKU: "PALETA_CHOCO", Qty: 2}, {SKU: "PALETA_LIMON", Qty: 1}}, rule.Combo.Requires)
	assert.Equal(t, Gift{SKU: "CONO", Name: "Cono sencillo", Qty: 1}, rule.Combo.Gift)
}

func TestNormalizeComboGiftNameDefaultsToSKU(t *testing.T) {
	rule := Normalize(RawRule{
		"type":     "combo_gift",
		"requires": []map[string]any{{"sku": "A", "qty": 1}},
		"gift":     map[string]any{"sku": "CONO", "qty": 3},
	})

	require.NotNil(t, rule.Combo)
	assert.Equal(t, Gift{SKU: "CONO", Name: "CONO", Qty: 3}, rule.Combo.Gift)
}

func TestNormalizeNumericCoercion(t *testing.T) {
	fromJSON := Normalize(RawRule{"type": "amount", "amount": json.Number("750")})
	fromString := Normalize(RawRule{"type": "amount", "amount": " 750 "})
	fromGarbage := Normalize(RawRule{"type": "amount", "amount": "siete"})

	assert.Equal(t, int64(750), fromJSON.Amount.AmountCents)
	assert.Equal(t, int64(750), fromString.Amount.AmountCents)
	assert.Equal(t, int64(0), fromGarbage.Amount.AmountCents)
}

func TestNormalizeBooleanStrings(t *testing.T) {
	for _, off := range []string{"false", "0", "no", "OFF"} {
		assert.False(t, Normalize(RawRule{"combinable": off}).Combinable, off)
	}
	for _, on := range []string{"true", "1", "yes", "si"} {
		assert.True(t, Normalize(RawRule{"combinable": on}).Combinable, on)
	}
	assert.False(t, Normalize(RawRule{"acumulable": 0}).Combinable)
}

func TestNormalizeOnlyLiteralFalseDisables(t *testing.T) {
	assert.False(t, Normalize(RawRule{"enabled": false}).Enabled)
	assert.False(t, Normalize(RawRule{"habilitado": false}).Enabled)

	for _, v := range []any{nil, "", "0", "no", "false", 0, 0.0, true} {
		assert.True(t, Normalize(RawRule{"enabled": v}).Enabled, "%#v", v)
	}
}

func TestNormalizeKeepsFractionalPriority(t *testing.T) {
	assert.Equal(t, 10.4, Normalize(RawRule{"priority": 10.4}).Priority)
	assert.Equal(t, 10.2, Normalize(RawRule{"prioridad": "10.2"}).Priority)
}

func TestNormalizeSaturatesHugeNumbers(t *testing.T) {
	rule := Normalize(RawRule{
		"type": "bogo", "matchTag": "paleta", "buyQty": 1e30, "getQty": -1e30, "maxPerTicket": 1e20,
	})
	require.NotNil(t, rule.MaxPerTicket)
	assert.Equal(t, math.MaxInt, *rule.MaxPerTicket)
	assert.Equal(t, math.MaxInt, rule.Bogo.BuyQty)
	assert.Equal(t, math.MinInt, rule.Bogo.GetQty)

	amount := Normalize(RawRule{"type": "amount", "matchTag": "x", "amount": 1e300})
	assert.Equal(t, int64(math.MaxInt64), amount.Amount.AmountCents)
}

func TestNormalizeUnparsableDateIsIgnored(t *testing.T) {
	rule := Normalize(RawRule{"validFrom": "mañana", "validTo": ""})

	assert.Nil(t, rule.ValidFrom)
	assert.Nil(t, rule.ValidTo)
	assert.True(t, rule.ActiveAt(testNow))
}

func TestNormalizeDecodedYAML(t *testing.T) {
	doc := []byte(`
id: combo-cono
nombre: Combo cono
tipo: combo_regalo
validFrom: 2025-07-01T00:00:00Z
condiciones:
  items:
    - sku: PALETA_CHOCO
      qty: 1
beneficio:
  item: CONO
  gratis: 1
`)
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(doc, &raw))

	rule := Normalize(raw)

	assert.Equal(t, TypeComboGift, rule.Type)
	require.NotNil(t, rule.ValidFrom)
	assert.True(t, rule.ValidFrom.Equal(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, rule.Combo)
	assert.Equal(t, []Requirement{{SKU: "PALETA_CHOCO", Qty: 1}}, rule.Combo.Requires)
	assert.Equal(t, "CONO", rule.Combo.Gift.SKU)
}

func TestActiveAtBoundsAreInclusive(t *testing.T) {
	from := testNow
	to := testNow
	rule := Rule{ValidFrom: &from, ValidTo: &to}

	assert.True(t, rule.ActiveAt(testNow))
	assert.False(t, rule.ActiveAt(testNow.Add(-time.Second)))
	assert.False(t, rule.ActiveAt(testNow.Add(time.Second)))
}
