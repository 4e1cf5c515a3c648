package promo

import "math"

// Usage counts how many times each rule fired during one evaluation pass.
// A fresh Usage is created per Apply call; counts never carry over.
type Usage struct {
	used map[string]int
}

func NewUsage() *Usage {
	return &Usage{used: make(map[string]int)}
}

// Remaining is the number of firings the rule may still make this pass.
// Rules without a cap report math.MaxInt.
func (u *Usage) Remaining(rule Rule) int {
	used := u.used[rule.ID]
	remaining := math.MaxInt
	if rule.UniquePerTicket {
		remaining = 1 - used
	}
	if rule.MaxPerTicket != nil && *rule.MaxPerTicket-used < remaining {
		remaining = *rule.MaxPerTicket - used
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (u *Usage) Record(rule Rule, n int) {
	u.used[rule.ID] += n
}

func (u *Usage) Used(rule Rule) int {
	return u.used[rule.ID]
}

// Cap bounds a cart-derived firing count by the rule's remaining budget.
func (u *Usage) Cap(rule Rule, theoretical int) int {
	times := min(theoretical, u.Remaining(rule))
	if times < 0 {
		return 0
	}
	return times
}
