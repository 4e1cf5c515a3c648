package promo

import (
	"fmt"
	"strings"
)

// ValidationError names the first rule in a set that cannot be saved.
type ValidationError struct {
	RuleID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("promo rule: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("promo rule %s: %s %s", e.RuleID, e.Field, e.Reason)
}

// Validate checks a rule set before it is persisted and fails on the first
// violation. It is not used during evaluation.
func Validate(raw []RawRule) error {
	seen := make(map[string]struct{}, len(raw))
	for i, r := range raw {
		id, ok := r["id"].(string)
		if !ok || strings.TrimSpace(id) == "" {
			return &ValidationError{Field: "id", Reason: fmt.Sprintf("must be a non-empty string (rule #%d)", i+1)}
		}
		if _, dup := seen[id]; dup {
			return &ValidationError{RuleID: id, Field: "id", Reason: "is duplicated"}
		}
		seen[id] = struct{}{}

		rule := Normalize(r)
		if rule.Type == "" {
			return &ValidationError{RuleID: id, Field: "type", Reason: "is required"}
		}
		if strings.TrimSpace(rule.Name) == "" {
			return &ValidationError{RuleID: id, Field: "name", Reason: "is required"}
		}
		if err := validateTerms(rule); err != nil {
			return err
		}
	}
	return nil
}

func validateTerms(rule Rule) error {
	invalid := func(field, reason string) error {
		return &ValidationError{RuleID: rule.ID, Field: field, Reason: reason}
	}

	switch rule.Type {
	case TypeBogo:
		if rule.Bogo.MatchTag == "" {
			return invalid("matchTag", "is required")
		}
		if rule.Bogo.BuyQty <= 0 {
			return invalid("buyQty", "must be > 0")
		}
		if rule.Bogo.GetQty <= 0 {
			return invalid("getQty", "must be > 0")
		}
	case TypeComboGift:
		if len(rule.Combo.Requires) == 0 {
			return invalid("requires", "must not be empty")
		}
		for _, req := range rule.Combo.Requires {
			if req.SKU == "" {
				return invalid("requires.sku", "is required")
			}
		}
		if rule.Combo.Gift.SKU == "" {
			return invalid("gift.sku", "is required")
		}
		if rule.Combo.Gift.Qty <= 0 {
			return invalid("gift.qty", "must be > 0")
		}
	case TypePercent:
		if rule.Percent.MatchTag == "" {
			return invalid("matchTag", "is required")
		}
		if rule.Percent.BasisPoints <= 0 {
			return invalid("percent", "must be > 0")
		}
	case TypeAmount:
		if rule.Amount.MatchTag == "" {
			return invalid("matchTag", "is required")
		}
		if rule.Amount.AmountCents <= 0 {
			return invalid("amount", "must be > 0")
		}
	}
	return nil
}
