package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/promo"
	"paleteria/backend/internal/store"
	"paleteria/backend/internal/xid"
)

const (
	defaultSalesLimit = 20
	maxSalesLimit     = 100
)

// NotSellableError lists the cart SKUs whose catalog product is flagged as
// not sellable at the POS. It matches store.ErrNotSellable with errors.Is.
type NotSellableError struct {
	Items []domain.NotSellableItem
}

func (e *NotSellableError) Error() string {
	skus := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		skus = append(skus, item.SKU)
	}
	return fmt.Sprintf("%s: %s", store.ErrNotSellable.Error(), strings.Join(skus, ","))
}

func (e *NotSellableError) Unwrap() error {
	return store.ErrNotSellable
}

// QuoteSale prices a cart with the current promotions. Nothing is stored.
func (s *Service) QuoteSale(ctx context.Context, req domain.QuoteRequest) (domain.QuoteResponse, error) {
	if _, err := requireRole(ctx, sellerRoles...); err != nil {
		return domain.QuoteResponse{}, err
	}
	if req.Cart == nil {
		return domain.QuoteResponse{}, fmt.Errorf("%w: cart is required", store.ErrInvalidInput)
	}

	result, totals, err := s.priceCart(ctx, "quote", *req.Cart)
	if err != nil {
		return domain.QuoteResponse{}, err
	}
	return domain.QuoteResponse{
		Cart:     result.Cart,
		Applied:  result.Applied,
		Totals:   totals,
		Currency: domain.DefaultCurrency,
	}, nil
}

// CommitSale prices the cart like QuoteSale, stores the sale with its lines
// and applied promotions, records stock moves and writes the audit entry.
// Inventory problems are reported as warnings and never fail the sale.
func (s *Service) CommitSale(ctx context.Context, req domain.CommitRequest) (domain.CommitResponse, error) {
	actor, err := requireRole(ctx, sellerRoles...)
	if err != nil {
		return domain.CommitResponse{}, err
	}
	if req.Cart == nil {
		return domain.CommitResponse{}, fmt.Errorf("%w: cart is required", store.ErrInvalidInput)
	}
	if len(req.Cart.Lines) == 0 {
		return domain.CommitResponse{}, fmt.Errorf("%w: cart has no lines", store.ErrInvalidInput)
	}

	result, totals, err := s.priceCart(ctx, "commit", *req.Cart)
	if err != nil {
		return domain.CommitResponse{}, err
	}

	now := s.now().UTC()
	sale := domain.Sale{
		ID:            xid.New("sale"),
		Code:          s.codes.Next(now),
		UserCode:      actor.Username,
		Currency:      domain.DefaultCurrency,
		TotalGross:    totals.TotalGross,
		TotalDiscount: totals.TotalDiscount,
		TotalNet:      totals.TotalNet,
		CreatedAt:     now,
		Lines:         toSaleLines(result.Cart),
		Promos:        toSalePromos(result.Applied),
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.CommitResponse{}, fmt.Errorf("create sale: %w", err)
	}

	inventory := s.applyInventory(ctx, created, actor.Username)
	s.metrics.ObserveSale(totals.TotalNet, totals.TotalDiscount)

	s.logAudit(ctx, "sales", "commit", created.ID,
		map[string]any{"cart": req.Cart},
		map[string]any{
			"saleId":    created.ID,
			"code":      created.Code,
			"applied":   created.Promos,
			"totals":    totals,
			"inventory": inventory,
		},
		strings.TrimSpace(req.Comment),
	)
	s.log.Info(s.log.WithActor(ctx, actor.Username, actor.Role), "sale committed", map[string]any{
		"sale_id":   created.ID,
		"code":      created.Code,
		"total_net": totals.TotalNet,
		"promos":    len(created.Promos),
	})

	return domain.CommitResponse{
		OK:        true,
		SaleID:    created.ID,
		Code:      created.Code,
		Totals:    totals,
		Applied:   created.Promos,
		Inventory: inventory,
		Currency:  domain.DefaultCurrency,
	}, nil
}

// priceCart checks sellability, evaluates promotions, re-checks the
// resulting cart (gift lines included) and computes totals.
func (s *Service) priceCart(ctx context.Context, operation string, cart domain.Cart) (promo.Result, domain.SaleTotals, error) {
	if err := s.assertSellable(ctx, cart.Lines); err != nil {
		return promo.Result{}, domain.SaleTotals{}, err
	}

	result, err := s.evaluate(ctx, operation, cart)
	if err != nil {
		return promo.Result{}, domain.SaleTotals{}, err
	}

	if err := s.assertSellable(ctx, result.Cart.Lines); err != nil {
		return promo.Result{}, domain.SaleTotals{}, err
	}
	return result, promo.ComputeTotals(result.Cart), nil
}

// assertSellable rejects lines whose SKU is a known non-sellable product.
// Unknown SKUs pass.
func (s *Service) assertSellable(ctx context.Context, lines []domain.CartLine) error {
	skus := make([]string, 0, len(lines))
	for _, line := range lines {
		if sku := strings.TrimSpace(line.SKU); sku != "" {
			skus = append(skus, sku)
		}
	}
	if len(skus) == 0 {
		return nil
	}

	products, err := s.repo.GetProductsBySKUs(ctx, skus)
	if err != nil {
		return fmt.Errorf("lookup products: %w", err)
	}

	var bad []domain.NotSellableItem
	for _, line := range lines {
		sku := strings.TrimSpace(line.SKU)
		product, ok := products[sku]
		if !ok || product.Sellable {
			continue
		}
		bad = append(bad, domain.NotSellableItem{SKU: sku, Name: product.Name})
	}
	if len(bad) > 0 {
		s.metrics.IncRejected("not_sellable")
		return &NotSellableError{Items: bad}
	}
	return nil
}

// applyInventory writes one SALE move per stocked line. Discount lines,
// empty or zero-quantity lines, unknown SKUs and technical products are
// skipped; gift lines are depleted like any other.
func (s *Service) applyInventory(ctx context.Context, sale *domain.Sale, userCode string) domain.InventorySummary {
	summary := domain.InventorySummary{Warnings: []string{}}

	skus := make([]string, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		skus = append(skus, strings.TrimSpace(line.SKU))
	}
	products, err := s.repo.GetProductsBySKUs(ctx, skus)
	if err != nil {
		summary.Skipped = len(sale.Lines)
		summary.Warnings = append(summary.Warnings, "inventory lookup failed: "+err.Error())
		return summary
	}

	moves := make([]domain.StockMove, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.UnitPrice < 0 {
			summary.Skipped++
			continue
		}
		sku := strings.TrimSpace(line.SKU)
		if sku == "" || line.Qty <= 0 {
			summary.Skipped++
			continue
		}
		product, ok := products[sku]
		if !ok {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("SKU %s no existe en catálogo", line.SKU))
			summary.Skipped++
			continue
		}
		if product.ControlType == domain.ControlTechIceCream || product.ControlType == domain.ControlTechTopping {
			summary.Skipped++
			continue
		}
		moves = append(moves, domain.StockMove{
			ID:        xid.New("move"),
			SKU:       sku,
			Kind:      domain.StockMoveKindSale,
			Qty:       -line.Qty,
			UserCode:  userCode,
			SaleID:    sale.ID,
			Note:      fmt.Sprintf("SALE %s %s", sale.ID, sku),
			CreatedAt: sale.CreatedAt,
		})
	}

	if len(moves) == 0 {
		return summary
	}
	if err := s.repo.CreateStockMoves(ctx, moves); err != nil {
		s.log.Warn(s.log.WithField(ctx, "sale_id", sale.ID), "inventory depletion failed", err)
		summary.Skipped += len(moves)
		summary.Warnings = append(summary.Warnings, "inventory depletion failed: "+err.Error())
		return summary
	}
	summary.Made = len(moves)
	return summary
}

func toSaleLines(cart domain.Cart) []domain.SaleLine {
	lines := make([]domain.SaleLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		name := line.Name
		if name == "" {
			name = line.SKU
		}
		tags := line.Tags
		if tags == nil {
			tags = []string{}
		}
		lines = append(lines, domain.SaleLine{
			ID:        xid.New("line"),
			SKU:       line.SKU,
			Name:      name,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
			IsGift:    line.HasTag(domain.TagPromoGift),
			Tags:      tags,
		})
	}
	return lines
}

type giftMeta struct {
	GiftSKU string `json:"giftSku"`
	GiftQty int    `json:"giftQty"`
}

func toSalePromos(applied []domain.AppliedPromotion) []domain.SalePromo {
	promos := make([]domain.SalePromo, 0, len(applied))
	for _, a := range applied {
		record := domain.SalePromo{
			ID:     xid.New("salepromo"),
			RuleID: a.ID,
			Name:   a.Name,
			Meta:   "{}",
		}
		if a.Amount != nil {
			record.Amount = *a.Amount
		}
		if a.Gift != nil {
			if raw, err := json.Marshal(giftMeta{GiftSKU: a.Gift.SKU, GiftQty: a.Gift.Qty}); err == nil {
				record.Meta = string(raw)
			}
		}
		promos = append(promos, record)
	}
	return promos
}

// ListSales returns sale headers, newest first. limit defaults to 20 and is
// capped at 100.
func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if _, err := requireRole(ctx, sellerRoles...); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultSalesLimit
	}
	if limit > maxSalesLimit {
		limit = maxSalesLimit
	}
	return s.repo.ListSales(ctx, limit)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleDetailResponse, error) {
	if _, err := requireRole(ctx, sellerRoles...); err != nil {
		return domain.SaleDetailResponse{}, err
	}
	sale, err := s.loadSale(ctx, id)
	if err != nil {
		return domain.SaleDetailResponse{}, err
	}

	lines, promos := sale.Lines, sale.Promos
	header := *sale
	header.Lines, header.Promos = nil, nil
	if lines == nil {
		lines = []domain.SaleLine{}
	}
	if promos == nil {
		promos = []domain.SalePromo{}
	}
	return domain.SaleDetailResponse{Sale: header, Lines: lines, Promos: promos}, nil
}

// SaleMoves lists the stock moves written for a sale.
func (s *Service) SaleMoves(ctx context.Context, id string) ([]domain.StockMove, error) {
	if _, err := requireRole(ctx, sellerRoles...); err != nil {
		return nil, err
	}
	sale, err := s.loadSale(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.repo.ListStockMovesBySale(ctx, sale.ID)
}

// SaleReceipt renders a plain-text ticket for a stored sale.
func (s *Service) SaleReceipt(ctx context.Context, id string) (domain.SaleReceiptResponse, error) {
	if _, err := requireRole(ctx, sellerRoles...); err != nil {
		return domain.SaleReceiptResponse{}, err
	}
	sale, err := s.loadSale(ctx, id)
	if err != nil {
		return domain.SaleReceiptResponse{}, err
	}

	lines := []string{
		"Paleteria POS",
		"========================",
		"Folio: " + sale.Code,
		"Cajero: " + sale.UserCode,
		"Fecha: " + sale.CreatedAt.In(s.loc).Format("2006-01-02 15:04:05"),
		"------------------------",
	}
	for _, line := range sale.Lines {
		label := fmt.Sprintf("%s x%d", line.Name, line.Qty)
		if line.IsGift {
			label += " (regalo)"
		}
		lines = append(lines, label)
		lines = append(lines, "  "+FormatMoney(line.UnitPrice*int64(line.Qty)))
	}
	lines = append(lines, "------------------------")
	for _, p := range sale.Promos {
		lines = append(lines, fmt.Sprintf("Promo %s: -%s", p.Name, FormatMoney(p.Amount)))
	}
	lines = append(lines,
		"Subtotal : "+FormatMoney(sale.TotalGross),
		"Descuento: "+FormatMoney(sale.TotalDiscount),
		"Total    : "+FormatMoney(sale.TotalNet)+" "+sale.Currency,
		"========================",
		"Gracias por su compra",
		"",
	)

	return domain.SaleReceiptResponse{
		SaleID:      sale.ID,
		Code:        sale.Code,
		PreviewText: strings.Join(lines, "\n"),
		FileName:    fmt.Sprintf("receipt-%s.txt", sale.Code),
	}, nil
}

func (s *Service) loadSale(ctx context.Context, id string) (*domain.Sale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, store.ErrInvalidInput
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get sale %s: %w", id, err)
	}
	return sale, nil
}

// FormatMoney renders cents as a peso amount, e.g. 2550 -> "$25.50".
func FormatMoney(cents int64) string {
	amount := decimal.New(cents, -2)
	if amount.IsNegative() {
		return "-$" + amount.Abs().StringFixed(2)
	}
	return "$" + amount.StringFixed(2)
}
