package promo

import (
	"fmt"

	"paleteria/backend/internal/domain"
)

// pass is the mutable state of one evaluation: the working cart, the usage
// counters and the sequence used to name discount lines.
type pass struct {
	cart  domain.Cart
	usage *Usage
	seq   int
}

// evaluator applies one rule to the working cart. It reports false when the
// rule did not fire, in which case the cart is left untouched.
type evaluator func(p *pass, rule Rule) (domain.AppliedPromotion, bool)

var evaluators = map[Type]evaluator{
	TypeBogo:      evalBogo,
	TypeComboGift: evalComboGift,
	TypePercent:   evalPercent,
	TypeAmount:    evalAmount,
}

func evalBogo(p *pass, rule Rule) (domain.AppliedPromotion, bool) {
	terms := rule.Bogo
	if terms == nil {
		return domain.AppliedPromotion{}, false
	}
	bundleSize := terms.BuyQty + terms.GetQty
	if bundleSize <= 0 {
		return domain.AppliedPromotion{}, false
	}
	total := QtyByTag(p.cart, terms.MatchTag)
	bundles := p.usage.Cap(rule, total/bundleSize)
	if bundles <= 0 {
		return domain.AppliedPromotion{}, false
	}
	cheapest, ok := cheapestByTag(p.cart, terms.MatchTag)
	if !ok {
		return domain.AppliedPromotion{}, false
	}

	discount := cheapest.UnitPrice * int64(terms.GetQty) * int64(bundles)
	p.addDiscountLine(rule.Name, discount)
	p.usage.Record(rule, bundles)
	return domain.AppliedPromotion{ID: rule.ID, Name: rule.Name, Type: string(rule.Type), Amount: &discount}, true
}

func evalComboGift(p *pass, rule Rule) (domain.AppliedPromotion, bool) {
	terms := rule.Combo
	if terms == nil || len(terms.Requires) == 0 {
		return domain.AppliedPromotion{}, false
	}
	if terms.Gift.SKU == "" {
		return domain.AppliedPromotion{}, false
	}

	combos := -1
	for _, req := range terms.Requires {
		if req.Qty <= 0 {
			return domain.AppliedPromotion{}, false
		}
		n := QtyBySKU(p.cart, req.SKU) / req.Qty
		if combos < 0 || n < combos {
			combos = n
		}
	}
	combos = p.usage.Cap(rule, combos)
	if combos <= 0 {
		return domain.AppliedPromotion{}, false
	}

	qty := terms.Gift.Qty * combos
	p.addGiftLine(terms.Gift.SKU, terms.Gift.Name, qty)
	p.usage.Record(rule, combos)
	return domain.AppliedPromotion{
		ID:   rule.ID,
		Name: rule.Name,
		Type: string(rule.Type),
		Gift: &domain.GiftGrant{SKU: terms.Gift.SKU, Qty: qty},
	}, true
}

func evalPercent(p *pass, rule Rule) (domain.AppliedPromotion, bool) {
	terms := rule.Percent
	if terms == nil {
		return domain.AppliedPromotion{}, false
	}
	base := SubtotalByTag(p.cart, terms.MatchTag)
	if base <= 0 {
		return domain.AppliedPromotion{}, false
	}
	times := p.usage.Cap(rule, 1)
	if times <= 0 {
		return domain.AppliedPromotion{}, false
	}

	discount := percentOf(base, terms.BasisPoints)
	p.addDiscountLine(rule.Name, discount)
	p.usage.Record(rule, times)
	return domain.AppliedPromotion{ID: rule.ID, Name: rule.Name, Type: string(rule.Type), Amount: &discount}, true
}

func evalAmount(p *pass, rule Rule) (domain.AppliedPromotion, bool) {
	terms := rule.Amount
	if terms == nil {
		return domain.AppliedPromotion{}, false
	}
	if QtyByTag(p.cart, terms.MatchTag) <= 0 {
		return domain.AppliedPromotion{}, false
	}
	times := p.usage.Cap(rule, 1)
	if times <= 0 {
		return domain.AppliedPromotion{}, false
	}

	amount := terms.AmountCents
	p.addDiscountLine(rule.Name, amount)
	p.usage.Record(rule, times)
	return domain.AppliedPromotion{ID: rule.ID, Name: rule.Name, Type: string(rule.Type), Amount: &amount}, true
}

// percentOf computes base*bp/10000 rounded half away from zero.
func percentOf(base int64, basisPoints int64) int64 {
	product := base * basisPoints
	if product < 0 {
		return -((-product + 5000) / 10000)
	}
	return (product + 5000) / 10000
}

// addDiscountLine appends a single negative-priced line. Non-positive
// amounts leave the cart as is.
func (p *pass) addDiscountLine(name string, amount int64) {
	if amount <= 0 {
		return
	}
	p.seq++
	p.cart.Lines = append(p.cart.Lines, domain.CartLine{
		SKU:       fmt.Sprintf("DISC-%d", p.seq),
		Name:      name,
		Qty:       1,
		UnitPrice: -amount,
		Tags:      []string{domain.TagPromoDiscount},
	})
}

// addGiftLine grows an existing zero-priced line for sku, or appends one.
func (p *pass) addGiftLine(sku string, name string, qty int) {
	if qty <= 0 {
		return
	}
	for i := range p.cart.Lines {
		if p.cart.Lines[i].SKU == sku && p.cart.Lines[i].UnitPrice == 0 {
			p.cart.Lines[i].Qty += qty
			return
		}
	}
	p.cart.Lines = append(p.cart.Lines, domain.CartLine{
		SKU:       sku,
		Name:      name,
		Qty:       qty,
		UnitPrice: 0,
		Tags:      []string{domain.TagPromoGift},
	})
}
