// Package promo evaluates promotion rules against a sale cart.
//
// Rules arrive loosely typed from the rule source and are turned into a
// canonical Rule by Normalize. Apply is total: any cart and any rule set
// that Normalize can produce yields a result, malformed rules simply never
// fire. Validate is the strict counterpart used before persisting a rule
// set. All money is integer cents.
package promo

import "time"

type Type string

const (
	TypeBogo      Type = "bogo"
	TypeComboGift Type = "combo_gift"
	TypePercent   Type = "percent"
	TypeAmount    Type = "amount"
)

const DefaultPriority float64 = 100

// RawRule is a rule definition as decoded from YAML or JSON.
type RawRule = map[string]any

type Rule struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Type            Type       `json:"type"`
	Enabled         bool       `json:"enabled"`
	Priority        float64    `json:"priority"`
	Combinable      bool       `json:"combinable"`
	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidTo         *time.Time `json:"valid_to,omitempty"`
	UniquePerTicket bool       `json:"unique_per_ticket"`
	MaxPerTicket    *int       `json:"max_per_ticket,omitempty"`

	// Exactly one of the payloads below is set, matching Type. Rules with an
	// unrecognized Type carry none.
	Bogo    *BogoTerms    `json:"bogo,omitempty"`
	Combo   *ComboTerms   `json:"combo_gift,omitempty"`
	Percent *PercentTerms `json:"percent,omitempty"`
	Amount  *AmountTerms  `json:"amount,omitempty"`
}

// BogoTerms: every BuyQty+GetQty units tagged MatchTag free GetQty units.
type BogoTerms struct {
	MatchTag string `json:"match_tag"`
	BuyQty   int    `json:"buy_qty"`
	GetQty   int    `json:"get_qty"`
}

type Requirement struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

type Gift struct {
	SKU  string `json:"sku"`
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

type ComboTerms struct {
	Requires []Requirement `json:"requires"`
	Gift     Gift          `json:"gift"`
}

// PercentTerms stores the rate in basis points (1250 = 12.5%).
type PercentTerms struct {
	MatchTag    string `json:"match_tag"`
	BasisPoints int64  `json:"basis_points"`
}

type AmountTerms struct {
	MatchTag    string `json:"match_tag"`
	AmountCents int64  `json:"amount_cents"`
}

// ActiveAt reports whether now falls inside the rule's validity window.
// A missing bound leaves that side open.
func (r Rule) ActiveAt(now time.Time) bool {
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && now.After(*r.ValidTo) {
		return false
	}
	return true
}
