package promo

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// fieldAliases maps every canonical field to the raw keys that may carry
// it, in precedence order. Dotted keys address nested maps. Rule files in
// the Spanish vocabulary use nombre/tipo/condiciones/beneficio and friends.
var fieldAliases = map[string][]string{
	"id":              {"id"},
	"name":            {"name", "nombre"},
	"type":            {"type", "tipo"},
	"enabled":         {"enabled", "habilitado"},
	"priority":        {"priority", "prioridad"},
	"combinable":      {"combinable", "acumulable"},
	"validFrom":       {"validFrom", "valid_from", "vigencia.desde"},
	"validTo":         {"validTo", "valid_to", "vigencia.hasta"},
	"uniquePerTicket": {"uniquePerTicket", "unique_per_ticket", "unicaPorTicket"},
	"maxPerTicket":    {"maxPerTicket", "max_per_ticket", "maxPorTicket"},
	"matchTag":        {"matchTag", "match_tag", "conditions.categoria", "condiciones.categoria"},
	"buyQty":          {"buyQty", "buy_qty", "conditions.compra_min", "condiciones.compra_min"},
	"getQty":          {"getQty", "get_qty", "benefit.gratis", "beneficio.gratis"},
	"percent":         {"percent", "benefit.porcentaje", "beneficio.porcentaje"},
	"amount":          {"amount", "benefit.monto", "beneficio.monto"},
	"requires":        {"requires"},
	"items":           {"conditions.items", "condiciones.items"},
	"gift":            {"gift"},
	"giftItem":        {"benefit.item", "beneficio.item"},
	"giftName":        {"benefit.nombre", "beneficio.nombre"},
	"giftQty":         {"benefit.gratis", "beneficio.gratis"},
}

var typeVocabulary = map[string]Type{
	"bogo":            TypeBogo,
	"cantidad_regalo": TypeBogo,
	"combo_gift":      TypeComboGift,
	"combo_regalo":    TypeComboGift,
	"percent":         TypePercent,
	"porcentaje":      TypePercent,
	"amount":          TypeAmount,
	"monto":           TypeAmount,
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize converts a raw rule into its canonical shape. It never fails:
// missing or unparsable values fall back to inert defaults so the rule
// simply does not fire.
func Normalize(raw RawRule) Rule {
	rule := Rule{
		ID:              toString(field(raw, "id")),
		Name:            toString(field(raw, "name")),
		Type:            mapType(field(raw, "type")),
		Enabled:         isEnabled(field(raw, "enabled")),
		Priority:        DefaultPriority,
		Combinable:      toBool(field(raw, "combinable"), true),
		ValidFrom:       toTime(field(raw, "validFrom")),
		ValidTo:         toTime(field(raw, "validTo")),
		UniquePerTicket: toBool(field(raw, "uniquePerTicket"), false),
	}
	if p, ok := toNumber(field(raw, "priority")); ok {
		rule.Priority = p
	}
	if m, ok := toNumber(field(raw, "maxPerTicket")); ok {
		limit := clampInt(math.Floor(m))
		rule.MaxPerTicket = &limit
	}

	switch rule.Type {
	case TypeBogo:
		rule.Bogo = &BogoTerms{
			MatchTag: toString(field(raw, "matchTag")),
			BuyQty:   toInt(field(raw, "buyQty")),
			GetQty:   toInt(field(raw, "getQty")),
		}
	case TypeComboGift:
		rule.Combo = normalizeCombo(raw)
	case TypePercent:
		pct, _ := toNumber(field(raw, "percent"))
		rule.Percent = &PercentTerms{
			MatchTag:    toString(field(raw, "matchTag")),
			BasisPoints: clampInt64(math.Round(pct * 100)),
		}
	case TypeAmount:
		amount, _ := toNumber(field(raw, "amount"))
		rule.Amount = &AmountTerms{
			MatchTag:    toString(field(raw, "matchTag")),
			AmountCents: clampInt64(math.Round(amount)),
		}
	}
	return rule
}

func normalizeCombo(raw RawRule) *ComboTerms {
	terms := &ComboTerms{}

	source, ok := asSlice(field(raw, "requires"))
	if !ok {
		source, _ = asSlice(field(raw, "items"))
	}
	for _, item := range source {
		entry, ok := asMap(item)
		if !ok {
			continue
		}
		qty := 1
		if n, ok := toNumber(entry["qty"]); ok && n != 0 {
			qty = clampInt(math.Round(n))
		}
		terms.Requires = append(terms.Requires, Requirement{SKU: toString(entry["sku"]), Qty: qty})
	}

	gift, ok := asMap(field(raw, "gift"))
	if !ok {
		gift = map[string]any{}
		if item := field(raw, "giftItem"); item != nil {
			gift["sku"] = item
			gift["name"] = field(raw, "giftName")
			gift["qty"] = field(raw, "giftQty")
		}
	}
	terms.Gift.SKU = toString(gift["sku"])
	terms.Gift.Name = firstString(gift["name"], gift["nombre"])
	if terms.Gift.Name == "" {
		terms.Gift.Name = terms.Gift.SKU
	}
	qty := gift["qty"]
	if qty == nil {
		qty = field(raw, "giftQty")
	}
	terms.Gift.Qty = toInt(qty)
	return terms
}

func mapType(v any) Type {
	s := strings.TrimSpace(toString(v))
	if t, ok := typeVocabulary[strings.ToLower(s)]; ok {
		return t
	}
	return Type(s)
}

// field resolves a canonical field through its alias list; the first
// non-nil value wins.
func field(raw RawRule, name string) any {
	for _, key := range fieldAliases[name] {
		if v := lookup(raw, key); v != nil {
			return v
		}
	}
	return nil
}

func lookup(raw map[string]any, path string) any {
	var cur any = raw
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []map[string]any:
		out := make([]any, 0, len(s))
		for _, m := range s {
			out = append(out, m)
		}
		return out, true
	default:
		return nil, false
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func firstString(values ...any) string {
	for _, v := range values {
		if s := toString(v); s != "" {
			return s
		}
	}
	return ""
}

func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case bool:
		if n {
			f = 1
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toInt(v any) int {
	n, ok := toNumber(v)
	if !ok {
		return 0
	}
	return clampInt(math.Round(n))
}

// clampInt converts f to int, saturating at the int range.
func clampInt(f float64) int {
	switch {
	case f >= math.MaxInt:
		return math.MaxInt
	case f <= math.MinInt:
		return math.MinInt
	}
	return int(f)
}

func clampInt64(f float64) int64 {
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// isEnabled reports false only for a literal boolean false.
func isEnabled(v any) bool {
	b, ok := v.(bool)
	return !ok || b
}

func toBool(v any, fallback bool) bool {
	switch b := v.(type) {
	case nil:
		return fallback
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "false", "0", "no", "off", "":
			return false
		default:
			return true
		}
	default:
		n, ok := toNumber(b)
		if !ok {
			return fallback
		}
		return n != 0
	}
}

func toTime(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return &t
	case *time.Time:
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return &parsed
			}
		}
	}
	return nil
}
