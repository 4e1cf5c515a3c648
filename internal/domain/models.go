package domain

import "time"

type Product struct {
	SKU         string   `json:"sku"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	PriceCents  int64    `json:"price_cents"`
	Tags        []string `json:"tags"`
	ControlType string   `json:"control_type"`
	Sellable    bool     `json:"sellable"`
	Active      bool     `json:"active"`
	// Stock is the sum of stock moves, filled in on listing.
	Stock int `json:"stock"`
}

type ProductCreateRequest struct {
	SKU          string   `json:"sku" validate:"required,max=64"`
	Name         string   `json:"name" validate:"required,max=160"`
	Category     string   `json:"category" validate:"required,max=64"`
	PriceCents   int64    `json:"price_cents" validate:"gte=0"`
	Tags         []string `json:"tags" validate:"omitempty,dive,required,max=64"`
	ControlType  string   `json:"control_type" validate:"omitempty,oneof=unitario venta_directa tecnico_helado tecnico_topping"`
	Sellable     *bool    `json:"sellable,omitempty"`
	InitialStock int      `json:"initial_stock" validate:"gte=0"`
}

type ProductUpdateRequest struct {
	Name        *string   `json:"name,omitempty"`
	Category    *string   `json:"category,omitempty"`
	PriceCents  *int64    `json:"price_cents,omitempty" validate:"omitempty,gte=0"`
	Tags        *[]string `json:"tags,omitempty"`
	ControlType *string   `json:"control_type,omitempty" validate:"omitempty,oneof=unitario venta_directa tecnico_helado tecnico_topping"`
	Sellable    *bool     `json:"sellable,omitempty"`
	Active      *bool     `json:"active,omitempty"`
}

// CartLine is one ticket line. UnitPrice is in cents; promotion engine
// discount lines carry a negative price and gift lines a zero price.
type CartLine struct {
	SKU       string   `json:"sku" validate:"required"`
	Name      string   `json:"name"`
	Qty       int      `json:"qty" validate:"gte=0"`
	UnitPrice int64    `json:"unit_price"`
	Tags      []string `json:"tags,omitempty"`
}

func (l CartLine) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

type Cart struct {
	Lines []CartLine `json:"lines" validate:"required,dive"`
}

type GiftGrant struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

// AppliedPromotion is the audit record of one rule that fired during an
// evaluation pass.
type AppliedPromotion struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Type   string     `json:"type"`
	Amount *int64     `json:"amount,omitempty"`
	Gift   *GiftGrant `json:"gift,omitempty"`
}

type SaleTotals struct {
	TotalGross    int64 `json:"total_gross"`
	TotalDiscount int64 `json:"total_discount"`
	TotalNet      int64 `json:"total_net"`
	LinesCount    int   `json:"lines_count"`
}

type QuoteRequest struct {
	Cart *Cart `json:"cart" validate:"required"`
}

type QuoteResponse struct {
	Cart     Cart               `json:"cart"`
	Applied  []AppliedPromotion `json:"applied"`
	Totals   SaleTotals         `json:"totals"`
	Currency string             `json:"currency"`
}

type CommitRequest struct {
	Cart    *Cart  `json:"cart" validate:"required"`
	Comment string `json:"comment,omitempty" validate:"max=500"`
}

// NotSellableItem names a cart SKU whose product is flagged non-sellable.
type NotSellableItem struct {
	SKU  string `json:"sku"`
	Name string `json:"name"`
}

type InventorySummary struct {
	Made     int      `json:"made"`
	Skipped  int      `json:"skipped"`
	Warnings []string `json:"warnings"`
}

type CommitResponse struct {
	OK        bool             `json:"ok"`
	SaleID    string           `json:"sale_id"`
	Code      string           `json:"code"`
	Totals    SaleTotals       `json:"totals"`
	Applied   []SalePromo      `json:"applied"`
	Inventory InventorySummary `json:"inventory"`
	Currency  string           `json:"currency"`
}

type Sale struct {
	ID            string      `json:"id"`
	Code          string      `json:"code"`
	UserCode      string      `json:"user_code"`
	Currency      string      `json:"currency"`
	TotalGross    int64       `json:"total_gross"`
	TotalDiscount int64       `json:"total_discount"`
	TotalNet      int64       `json:"total_net"`
	CreatedAt     time.Time   `json:"created_at"`
	Lines         []SaleLine  `json:"lines,omitempty"`
	Promos        []SalePromo `json:"promos,omitempty"`
}

type SaleLine struct {
	ID        string   `json:"id"`
	SaleID    string   `json:"sale_id"`
	SKU       string   `json:"sku"`
	Name      string   `json:"name"`
	Qty       int      `json:"qty"`
	UnitPrice int64    `json:"unit_price"`
	IsGift    bool     `json:"is_gift"`
	Tags      []string `json:"tags"`
}

// SalePromo is the persisted form of an AppliedPromotion. Meta holds the
// gift grant as JSON for combo gifts and "{}" otherwise.
type SalePromo struct {
	ID     string `json:"id"`
	SaleID string `json:"sale_id"`
	RuleID string `json:"rule_id"`
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
	Meta   string `json:"meta_json"`
}

type SaleDetailResponse struct {
	Sale   Sale        `json:"sale"`
	Lines  []SaleLine  `json:"lines"`
	Promos []SalePromo `json:"promos"`
}

type SaleReceiptResponse struct {
	SaleID      string `json:"sale_id"`
	Code        string `json:"code"`
	PreviewText string `json:"preview_text"`
	FileName    string `json:"file_name"`
}

type StockMove struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	Kind      string    `json:"kind"`
	Qty       int       `json:"qty"`
	UserCode  string    `json:"user_code"`
	SaleID    string    `json:"sale_id,omitempty"`
	ReceiptID string    `json:"receipt_id,omitempty"`
	LotID     string    `json:"lot_id,omitempty"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

type PromoSetRequest struct {
	Promos []map[string]any `json:"promos" validate:"required"`
}

type PromoSetResponse struct {
	OK    bool `json:"ok"`
	Count int  `json:"count"`
}

type PromoApplyRequest struct {
	Cart *Cart `json:"cart" validate:"required"`
}

type PromoApplyResponse struct {
	Cart    Cart               `json:"cart"`
	Applied []AppliedPromotion `json:"applied"`
}

type DailyReportPromo struct {
	RuleID       string `json:"rule_id"`
	Name         string `json:"name"`
	Times        int64  `json:"times"`
	AmountCents  int64  `json:"amount_cents"`
	GiftUnitsQty int64  `json:"gift_units"`
}

type DailyReport struct {
	Date          string             `json:"date"`
	Sales         int64              `json:"sales"`
	GrossCents    int64              `json:"gross_cents"`
	DiscountCents int64              `json:"discount_cents"`
	NetCents      int64              `json:"net_cents"`
	ByPromo       []DailyReportPromo `json:"by_promo"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Module        string    `json:"module"`
	Action        string    `json:"action"`
	EntityID      string    `json:"entity_id"`
	Before        string    `json:"before,omitempty"`
	After         string    `json:"after,omitempty"`
	Comment       string    `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=32"`
	Password string `json:"password" validate:"required,min=6,max=128"`
	Role     string `json:"role" validate:"omitempty,oneof=cashier admin supersu"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
	RoleSuperSU = "supersu"
)

const (
	ControlUnit          = "unitario"
	ControlDirectSale    = "venta_directa"
	ControlTechIceCream  = "tecnico_helado"
	ControlTechTopping   = "tecnico_topping"
	TagPromoDiscount     = "promo:discount"
	TagPromoGift         = "promo:gift"
	DefaultCurrency      = "MXN"
	StockMoveKindSale    = "SALE"
	StockMoveKindReceipt = "RECEIPT"
)

const (
	StockMoveKindReceiptAdjust = "RECEIPT_EDIT_ADJUST"
	StockMoveKindReceiptDelete = "RECEIPT_DELETE"
	StockMoveKindConvertOut    = "CONVERT_OUT"
	StockMoveKindConvertIn     = "CONVERT_IN"
	StockMoveKindRevertIn      = "CONVERT_REVERT_IN"
	StockMoveKindRevertOut     = "CONVERT_REVERT_OUT"

	ReceiptStatusOpen   = "OPEN"
	ReceiptStatusLocked = "LOCKED"
	LotStatusOpen       = "OPEN"
	LotStatusDepleted   = "DEPLETED"
)

// Receipt is a merchandise reception. Every item owns exactly one lot and
// one RECEIPT stock move for its units.
type Receipt struct {
	ID              string        `json:"id"`
	Code            string        `json:"code"`
	UserCode        string        `json:"user_code"`
	Status          string        `json:"status"`
	Comment         string        `json:"comment,omitempty"`
	LastEditedBy    string        `json:"last_edited_by,omitempty"`
	LastEditComment string        `json:"last_edit_comment,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Items           []ReceiptItem `json:"items,omitempty"`
}

type ReceiptItem struct {
	ID           string `json:"id"`
	ReceiptID    string `json:"receipt_id"`
	SKU          string `json:"sku"`
	Packs        int    `json:"packs"`
	UnitsPerPack int    `json:"units_per_pack"`
	UnitsTotal   int    `json:"units_total"`
	Lot          *Lot   `json:"lot,omitempty"`
}

type Lot struct {
	ID            string    `json:"id"`
	Code          string    `json:"code"`
	SKU           string    `json:"sku"`
	ReceiptID     string    `json:"receipt_id"`
	ReceiptItemID string    `json:"receipt_item_id"`
	ReceiptCode   string    `json:"receipt_code"`
	Status        string    `json:"status"`
	QtyTotal      int       `json:"qty_total"`
	QtyUsed       int       `json:"qty_used"`
	Available     int       `json:"available"`
	CreatedAt     time.Time `json:"created_at"`
}

type ReceiptItemRequest struct {
	SKU          string `json:"sku" validate:"required,max=64"`
	Packs        int    `json:"packs" validate:"gte=0"`
	UnitsPerPack int    `json:"units_per_pack" validate:"gte=0"`
}

type ReceiptCreateRequest struct {
	Items   []ReceiptItemRequest `json:"items" validate:"required,min=1,dive"`
	Comment string               `json:"comment,omitempty" validate:"max=500"`
}

type ReceiptItemAddRequest struct {
	ReceiptItemRequest
	Comment string `json:"comment,omitempty" validate:"max=500"`
}

type ReceiptItemUpdateRequest struct {
	Packs   *int   `json:"packs" validate:"required,gte=0"`
	Comment string `json:"comment,omitempty" validate:"max=500"`
}

type CommentRequest struct {
	Comment string `json:"comment,omitempty" validate:"max=500"`
}

type ReceiptPresets struct {
	Unlock        []string `json:"unlock"`
	AddItem       []string `json:"add_item"`
	DeleteItem    []string `json:"delete_item"`
	DeleteReceipt []string `json:"delete_receipt"`
}

type StockView struct {
	SKU         string         `json:"sku"`
	Name        string         `json:"name"`
	ControlType string         `json:"control_type"`
	Stock       int            `json:"stock"`
	Breakdown   map[string]int `json:"breakdown"`
	Recent      []StockMove    `json:"recent"`
}

type StockSummaryItem struct {
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	ControlType string `json:"control_type"`
	Stock       int    `json:"stock"`
}

// PackRule converts one unit of From into Factor units of To.
type PackRule struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Factor int    `json:"factor"`
}

type ConvertRequest struct {
	FromSKU       string `json:"from_sku" validate:"required,max=64"`
	Qty           int    `json:"qty" validate:"gt=0"`
	ToSKU         string `json:"to_sku,omitempty" validate:"max=64"`
	Factor        int    `json:"factor,omitempty" validate:"gte=0"`
	AllowNegative bool   `json:"allow_negative,omitempty"`
	Comment       string `json:"comment,omitempty" validate:"max=500"`
}

type ConvertFromReceiptRequest struct {
	ReceiptItemID string `json:"receipt_item_id" validate:"required"`
	Qty           int    `json:"qty" validate:"gt=0"`
	ToSKU         string `json:"to_sku,omitempty" validate:"max=64"`
	Factor        int    `json:"factor,omitempty" validate:"gte=0"`
	AllowNegative bool   `json:"allow_negative,omitempty"`
	Comment       string `json:"comment,omitempty" validate:"max=500"`
}

type ConvertSide struct {
	SKU         string `json:"sku"`
	Delta       int    `json:"delta"`
	StockBefore int    `json:"stock_before"`
	StockAfter  int    `json:"stock_after"`
}

type ConvertResponse struct {
	OK            bool        `json:"ok"`
	AuditID       string      `json:"audit_id"`
	RuleSource    string      `json:"rule_source"`
	Rule          PackRule    `json:"rule"`
	ReceiptItemID string      `json:"receipt_item_id,omitempty"`
	LotID         string      `json:"lot_id,omitempty"`
	From          ConvertSide `json:"from"`
	To            ConvertSide `json:"to"`
}

type ConvertRevertRequest struct {
	AuditID       string `json:"audit_id" validate:"required"`
	AllowNegative bool   `json:"allow_negative,omitempty"`
	Comment       string `json:"comment,omitempty" validate:"max=500"`
}

type ConvertRevertResponse struct {
	OK        bool        `json:"ok"`
	AuditID   string      `json:"audit_id"`
	RevertsID string      `json:"reverts_id"`
	From      ConvertSide `json:"from"`
	To        ConvertSide `json:"to"`
}

type ConversionLogEntry struct {
	AuditID       string    `json:"audit_id"`
	CreatedAt     time.Time `json:"created_at"`
	UserCode      string    `json:"user_code"`
	FromSKU       string    `json:"from_sku"`
	ToSKU         string    `json:"to_sku"`
	Qty           int       `json:"qty"`
	Factor        int       `json:"factor"`
	Source        string    `json:"source"`
	ReceiptItemID string    `json:"receipt_item_id,omitempty"`
	LotID         string    `json:"lot_id,omitempty"`
	FromDelta     int       `json:"from_delta"`
	ToDelta       int       `json:"to_delta"`
	Comment       string    `json:"comment,omitempty"`
	Reverted      bool      `json:"reverted"`
}
