package promo

import (
	"sort"
	"time"

	"paleteria/backend/internal/domain"
)

type Result struct {
	Cart    domain.Cart               `json:"cart"`
	Applied []domain.AppliedPromotion `json:"applied"`
}

// Eligible normalizes raw rules and keeps the enabled ones that are active
// at now, stable-sorted by ascending priority.
func Eligible(raw []RawRule, now time.Time) []Rule {
	rules := make([]Rule, 0, len(raw))
	for _, r := range raw {
		rule := Normalize(r)
		if !rule.Enabled {
			continue
		}
		rules = append(rules, rule)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})

	active := rules[:0]
	for _, rule := range rules {
		if rule.ActiveAt(now) {
			active = append(active, rule)
		}
	}
	return active
}

// Apply evaluates rules, in the given order, against a copy of cart. The
// input cart is never modified. Once a non-combinable rule fires the
// remaining rules are skipped.
func Apply(cart domain.Cart, rules []Rule, now time.Time) Result {
	p := &pass{cart: CloneCart(cart), usage: NewUsage()}
	applied := make([]domain.AppliedPromotion, 0, len(rules))

	for _, rule := range rules {
		if !rule.ActiveAt(now) {
			continue
		}
		eval, ok := evaluators[rule.Type]
		if !ok {
			continue
		}
		record, fired := eval(p, rule)
		if !fired {
			continue
		}
		applied = append(applied, record)
		if !rule.Combinable {
			break
		}
	}

	return Result{Cart: p.cart, Applied: applied}
}

// ApplyRaw is Eligible followed by Apply with the same instant.
func ApplyRaw(cart domain.Cart, raw []RawRule, now time.Time) Result {
	return Apply(cart, Eligible(raw, now), now)
}
