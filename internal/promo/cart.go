package promo

import "paleteria/backend/internal/domain"

// CloneCart deep-copies a cart, including each line's tag slice.
func CloneCart(cart domain.Cart) domain.Cart {
	lines := make([]domain.CartLine, len(cart.Lines))
	for i, line := range cart.Lines {
		line.Tags = append([]string(nil), line.Tags...)
		lines[i] = line
	}
	return domain.Cart{Lines: lines}
}

// LinesByTag returns the indexes of lines carrying tag, in cart order.
func LinesByTag(cart domain.Cart, tag string) []int {
	if tag == "" {
		return nil
	}
	var idx []int
	for i, line := range cart.Lines {
		if line.HasTag(tag) {
			idx = append(idx, i)
		}
	}
	return idx
}

func QtyByTag(cart domain.Cart, tag string) int {
	total := 0
	for _, i := range LinesByTag(cart, tag) {
		total += cart.Lines[i].Qty
	}
	return total
}

// QtyBySKU returns the quantity of the first line with sku.
func QtyBySKU(cart domain.Cart, sku string) int {
	for _, line := range cart.Lines {
		if line.SKU == sku {
			return line.Qty
		}
	}
	return 0
}

// SubtotalByTag sums unit price times quantity over lines carrying tag.
func SubtotalByTag(cart domain.Cart, tag string) int64 {
	var total int64
	for _, i := range LinesByTag(cart, tag) {
		total += cart.Lines[i].UnitPrice * int64(cart.Lines[i].Qty)
	}
	return total
}

// cheapestByTag picks the lowest-priced tagged line with positive quantity.
// Ties go to the line seen first.
func cheapestByTag(cart domain.Cart, tag string) (domain.CartLine, bool) {
	var (
		best  domain.CartLine
		found bool
	)
	for _, i := range LinesByTag(cart, tag) {
		line := cart.Lines[i]
		if line.Qty <= 0 {
			continue
		}
		if !found || line.UnitPrice < best.UnitPrice {
			best = line
			found = true
		}
	}
	return best, found
}

// ComputeTotals derives display totals from an evaluated cart: gross over
// positive-priced lines, discount as the magnitude of negative-priced lines
// and net over every line.
func ComputeTotals(cart domain.Cart) domain.SaleTotals {
	var totals domain.SaleTotals
	for _, line := range cart.Lines {
		value := line.UnitPrice * int64(line.Qty)
		switch {
		case line.UnitPrice > 0:
			totals.TotalGross += value
		case line.UnitPrice < 0:
			totals.TotalDiscount -= value
		}
		totals.TotalNet += value
	}
	totals.LinesCount = len(cart.Lines)
	return totals
}
