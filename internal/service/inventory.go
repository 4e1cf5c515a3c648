package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/packs"
	"paleteria/backend/internal/store"
	"paleteria/backend/internal/xid"
)

const (
	inventoryModule      = "inventory"
	auditActionConvert   = "convert"
	defaultRecentMoves   = 20
	maxRecentMoves       = 50
	defaultConvertLog    = 50
	maxConvertLog        = 200
	ruleSourceRequest    = "body"
	revertDefaultComment = "(sin comentario)"
)

// conversionRecord is the "before" payload of convert and convert_revert
// audit entries. Reverts are rebuilt from it.
type conversionRecord struct {
	AuditID       string           `json:"auditId,omitempty"`
	FromSKU       string           `json:"fromSku"`
	ToSKU         string           `json:"toSku"`
	Qty           int              `json:"qty"`
	Factor        int              `json:"factor"`
	Source        string           `json:"source,omitempty"`
	Rule          *domain.PackRule `json:"rule,omitempty"`
	ReceiptItemID string           `json:"receiptItemId,omitempty"`
	LotID         string           `json:"lotId,omitempty"`
	LotUsed       int              `json:"lotUsed,omitempty"`
}

type conversionDeltas struct {
	FromDelta int `json:"fromDelta"`
	ToDelta   int `json:"toDelta"`
}

// StockBySKU returns the current stock of a product, its total per move
// kind and the latest moves, newest first.
func (s *Service) StockBySKU(ctx context.Context, sku string, recent int) (domain.StockView, error) {
	if _, err := requireRole(ctx, sellerRoles...); err != nil {
		return domain.StockView{}, err
	}
	if recent < 1 {
		recent = defaultRecentMoves
	}
	if recent > maxRecentMoves {
		recent = maxRecentMoves
	}

	product, err := s.GetProduct(ctx, sku)
	if err != nil {
		return domain.StockView{}, err
	}
	moves, err := s.repo.ListStockMovesBySKU(ctx, product.SKU)
	if err != nil {
		return domain.StockView{}, fmt.Errorf("list moves %s: %w", product.SKU, err)
	}

	view := domain.StockView{
		SKU:         product.SKU,
		Name:        product.Name,
		ControlType: product.ControlType,
		Breakdown:   map[string]int{},
		Recent:      make([]domain.StockMove, 0, min(recent, len(moves))),
	}
	for _, move := range moves {
		view.Stock += move.Qty
		view.Breakdown[move.Kind] += move.Qty
	}
	for i := len(moves) - 1; i >= 0 && len(view.Recent) < recent; i-- {
		view.Recent = append(view.Recent, moves[i])
	}
	return view, nil
}

// StockSummary lists active products with their stock, sorted by SKU. A
// non-empty sku narrows it to that product.
func (s *Service) StockSummary(ctx context.Context, sku string) ([]domain.StockSummaryItem, error) {
	if _, err := requireRole(ctx, managerRoles...); err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	sku = normalizeSKU(sku)
	items := make([]domain.StockSummaryItem, 0, len(products))
	for _, p := range products {
		if sku != "" && p.SKU != sku {
			continue
		}
		items = append(items, domain.StockSummaryItem{SKU: p.SKU, Name: p.Name, ControlType: p.ControlType, Stock: p.Stock})
	}
	slices.SortFunc(items, func(a, b domain.StockSummaryItem) int {
		return strings.Compare(a.SKU, b.SKU)
	})
	return items, nil
}

// Kardex returns every stock move of a product, oldest first.
func (s *Service) Kardex(ctx context.Context, sku string) ([]domain.StockMove, error) {
	if _, err := requireRole(ctx, sellerRoles...); err != nil {
		return nil, err
	}
	product, err := s.GetProduct(ctx, sku)
	if err != nil {
		return nil, err
	}
	return s.repo.ListStockMovesBySKU(ctx, product.SKU)
}

func (s *Service) PackRules(ctx context.Context) ([]domain.PackRule, error) {
	if _, err := requireRole(ctx, sellerRoles...); err != nil {
		return nil, err
	}
	rules, err := s.packs.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pack rules: %w", err)
	}
	if rules == nil {
		rules = []domain.PackRule{}
	}
	return rules, nil
}

// resolveConversion prefers the configured pack rules and falls back to
// an explicit target and factor from the request.
func (s *Service) resolveConversion(ctx context.Context, fromSKU string, toSKU string, factor int) (string, domain.PackRule, error) {
	rules, err := s.packs.Rules(ctx)
	if err != nil {
		return "", domain.PackRule{}, fmt.Errorf("load pack rules: %w", err)
	}
	if rule, ok := packs.Find(rules, fromSKU); ok {
		return s.packs.Name(), rule, nil
	}
	toSKU = normalizeSKU(toSKU)
	if toSKU != "" && factor > 0 {
		return ruleSourceRequest, domain.PackRule{From: fromSKU, To: toSKU, Factor: factor}, nil
	}
	return "", domain.PackRule{}, fmt.Errorf("%w: no hay conversión definida para %s", store.ErrInvalidInput, fromSKU)
}

// Convert turns qty units of from_sku into qty x factor units of the target.
func (s *Service) Convert(ctx context.Context, req domain.ConvertRequest) (domain.ConvertResponse, error) {
	if _, err := requireRole(ctx, managerRoles...); err != nil {
		return domain.ConvertResponse{}, err
	}
	if req.Qty <= 0 {
		return domain.ConvertResponse{}, fmt.Errorf("%w: qty must be greater than zero", store.ErrInvalidInput)
	}
	fromSKU := normalizeSKU(req.FromSKU)
	source, rule, err := s.resolveConversion(ctx, fromSKU, req.ToSKU, req.Factor)
	if err != nil {
		return domain.ConvertResponse{}, err
	}

	return s.convert(ctx, conversionRecord{
		FromSKU: fromSKU,
		ToSKU:   rule.To,
		Qty:     req.Qty,
		Factor:  rule.Factor,
		Source:  source,
		Rule:    &rule,
	}, req.AllowNegative, strings.TrimSpace(req.Comment))
}

// ConvertFromReceipt converts units of a received item and draws them from
// the item's lot.
func (s *Service) ConvertFromReceipt(ctx context.Context, req domain.ConvertFromReceiptRequest) (domain.ConvertResponse, error) {
	if _, err := requireRole(ctx, managerRoles...); err != nil {
		return domain.ConvertResponse{}, err
	}
	if req.Qty <= 0 {
		return domain.ConvertResponse{}, fmt.Errorf("%w: qty must be greater than zero", store.ErrInvalidInput)
	}
	item, err := s.repo.GetReceiptItem(ctx, strings.TrimSpace(req.ReceiptItemID))
	if err != nil {
		return domain.ConvertResponse{}, err
	}
	source, rule, err := s.resolveConversion(ctx, item.SKU, req.ToSKU, req.Factor)
	if err != nil {
		return domain.ConvertResponse{}, err
	}

	record := conversionRecord{
		FromSKU:       item.SKU,
		ToSKU:         rule.To,
		Qty:           req.Qty,
		Factor:        rule.Factor,
		Source:        source,
		Rule:          &rule,
		ReceiptItemID: item.ID,
	}
	if item.Lot != nil {
		available := item.Lot.QtyTotal - item.Lot.QtyUsed
		if req.Qty > available && !req.AllowNegative {
			return domain.ConvertResponse{}, fmt.Errorf("%w: lote %s solo tiene %d disponibles", store.ErrInvalidInput, item.Lot.Code, available)
		}
		record.LotID = item.Lot.ID
		record.LotUsed = min(req.Qty, max(available, 0))
	}

	comment := strings.TrimSpace(req.Comment)
	if comment == "" {
		comment = "Auto-convert from receiptItem " + item.ID
	}
	return s.convert(ctx, record, req.AllowNegative, comment)
}

func (s *Service) convert(ctx context.Context, record conversionRecord, allowNegative bool, comment string) (domain.ConvertResponse, error) {
	if record.FromSKU == record.ToSKU {
		return domain.ConvertResponse{}, fmt.Errorf("%w: cannot convert %s into itself", store.ErrInvalidInput, record.FromSKU)
	}
	if record.Factor < 1 || record.Qty > maxUnitsPerItem/record.Factor {
		return domain.ConvertResponse{}, fmt.Errorf("%w: conversion exceeds %d units", store.ErrInvalidInput, maxUnitsPerItem)
	}

	from, to, err := s.conversionProducts(ctx, record.FromSKU, record.ToSKU)
	if err != nil {
		return domain.ConvertResponse{}, err
	}
	if !allowNegative && from.Stock < record.Qty {
		return domain.ConvertResponse{}, fmt.Errorf("%w: Stock insuficiente de %s. Actual: %d, requerido: %d", store.ErrInvalidInput, from.SKU, from.Stock, record.Qty)
	}

	units := record.Qty * record.Factor
	note := fmt.Sprintf("CONVERT %s->%s x%d (factor %d)", record.FromSKU, record.ToSKU, record.Qty, record.Factor)
	if record.ReceiptItemID != "" {
		note += fmt.Sprintf(" [receiptItemId=%s]", record.ReceiptItemID)
	}
	deltas := conversionDeltas{FromDelta: -record.Qty, ToDelta: units}

	entry := s.auditEntry(ctx, inventoryModule, auditActionConvert, "", record, deltas, comment)
	entry.EntityID = entry.ID
	write := store.InventoryWrite{
		Moves: s.conversionMoves(ctx, record, domain.StockMoveKindConvertOut, -record.Qty, domain.StockMoveKindConvertIn, units, note),
		Audit: entry,
		LotID: record.LotID,
	}
	if record.LotID != "" {
		write.LotUsed = record.LotUsed
	}
	if err := s.repo.ApplyInventoryWrite(ctx, write); err != nil {
		return domain.ConvertResponse{}, fmt.Errorf("apply conversion: %w", err)
	}

	s.log.Info(ctx, "stock converted", map[string]any{
		"audit_id": entry.ID,
		"from":     record.FromSKU,
		"to":       record.ToSKU,
		"qty":      record.Qty,
		"factor":   record.Factor,
	})
	return domain.ConvertResponse{
		OK:            true,
		AuditID:       entry.ID,
		RuleSource:    record.Source,
		Rule:          *record.Rule,
		ReceiptItemID: record.ReceiptItemID,
		LotID:         record.LotID,
		From:          domain.ConvertSide{SKU: from.SKU, Delta: -record.Qty, StockBefore: from.Stock, StockAfter: from.Stock - record.Qty},
		To:            domain.ConvertSide{SKU: to.SKU, Delta: units, StockBefore: to.Stock, StockAfter: to.Stock + units},
	}, nil
}

// RevertConversion undoes a conversion once. Lot usage drawn by a receipt
// conversion is returned to the lot.
func (s *Service) RevertConversion(ctx context.Context, req domain.ConvertRevertRequest) (domain.ConvertRevertResponse, error) {
	if _, err := requireRole(ctx, managerRoles...); err != nil {
		return domain.ConvertRevertResponse{}, err
	}
	auditID := strings.TrimSpace(req.AuditID)
	if auditID == "" {
		return domain.ConvertRevertResponse{}, fmt.Errorf("%w: audit_id is required", store.ErrInvalidInput)
	}

	original, err := s.repo.GetAuditLog(ctx, auditID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ConvertRevertResponse{}, fmt.Errorf("%w: registro no es una conversión válida", store.ErrNotFound)
		}
		return domain.ConvertRevertResponse{}, err
	}
	if original.Module != inventoryModule || original.Action != auditActionConvert {
		return domain.ConvertRevertResponse{}, fmt.Errorf("%w: registro no es una conversión válida", store.ErrNotFound)
	}

	previous, err := s.repo.FindAuditLogs(ctx, store.AuditFilter{Module: inventoryModule, Action: store.AuditActionConvertRevert, EntityID: auditID, Limit: 1})
	if err != nil {
		return domain.ConvertRevertResponse{}, err
	}
	if len(previous) > 0 {
		return domain.ConvertRevertResponse{}, fmt.Errorf("%w: esta conversión ya fue revertida (%s)", store.ErrConflict, previous[0].ID)
	}

	var record conversionRecord
	if err := json.Unmarshal([]byte(original.Before), &record); err != nil || record.FromSKU == "" || record.ToSKU == "" || record.Qty <= 0 || record.Factor <= 0 {
		return domain.ConvertRevertResponse{}, fmt.Errorf("%w: el registro no contiene datos suficientes para revertir", store.ErrInvalidInput)
	}

	from, to, err := s.conversionProducts(ctx, record.FromSKU, record.ToSKU)
	if err != nil {
		return domain.ConvertRevertResponse{}, err
	}
	units := record.Qty * record.Factor
	if !req.AllowNegative && to.Stock < units {
		return domain.ConvertRevertResponse{}, fmt.Errorf("%w: Stock insuficiente de %s para revertir. Actual: %d, requerido: %d", store.ErrInvalidInput, to.SKU, to.Stock, units)
	}

	comment := strings.TrimSpace(req.Comment)
	if comment == "" {
		comment = revertDefaultComment
	}
	note := fmt.Sprintf("REVERT CONVERT %s->%s x%d (factor %d) [auditId=%s]", record.FromSKU, record.ToSKU, record.Qty, record.Factor, auditID)
	revertRecord := record
	revertRecord.AuditID = auditID

	entry := s.auditEntry(ctx, inventoryModule, store.AuditActionConvertRevert, auditID, revertRecord, conversionDeltas{FromDelta: record.Qty, ToDelta: -units}, comment)
	write := store.InventoryWrite{
		Moves: s.conversionMoves(ctx, record, domain.StockMoveKindRevertIn, record.Qty, domain.StockMoveKindRevertOut, -units, note),
		Audit: entry,
		LotID: record.LotID,
	}
	if record.LotID != "" {
		write.LotUsed = -record.LotUsed
	}
	if err := s.repo.ApplyInventoryWrite(ctx, write); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.ConvertRevertResponse{}, err
		}
		return domain.ConvertRevertResponse{}, fmt.Errorf("apply revert: %w", err)
	}

	return domain.ConvertRevertResponse{
		OK:        true,
		AuditID:   entry.ID,
		RevertsID: auditID,
		From:      domain.ConvertSide{SKU: from.SKU, Delta: record.Qty, StockBefore: from.Stock, StockAfter: from.Stock + record.Qty},
		To:        domain.ConvertSide{SKU: to.SKU, Delta: -units, StockBefore: to.Stock, StockAfter: to.Stock - units},
	}, nil
}

// ConversionLog lists recent conversions, newest first. The sku filter
// matches either side and is applied after the limit.
func (s *Service) ConversionLog(ctx context.Context, sku string, limit int) ([]domain.ConversionLogEntry, error) {
	if _, err := requireRole(ctx, managerRoles...); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultConvertLog
	}
	if limit > maxConvertLog {
		limit = maxConvertLog
	}

	entries, err := s.repo.FindAuditLogs(ctx, store.AuditFilter{Module: inventoryModule, Action: auditActionConvert, Limit: limit})
	if err != nil {
		return nil, err
	}
	reverts, err := s.repo.FindAuditLogs(ctx, store.AuditFilter{Module: inventoryModule, Action: store.AuditActionConvertRevert})
	if err != nil {
		return nil, err
	}
	reverted := make(map[string]bool, len(reverts))
	for _, r := range reverts {
		reverted[r.EntityID] = true
	}

	sku = normalizeSKU(sku)
	items := make([]domain.ConversionLogEntry, 0, len(entries))
	for _, entry := range entries {
		var record conversionRecord
		var deltas conversionDeltas
		_ = json.Unmarshal([]byte(entry.Before), &record)
		_ = json.Unmarshal([]byte(entry.After), &deltas)
		if sku != "" && record.FromSKU != sku && record.ToSKU != sku {
			continue
		}
		items = append(items, domain.ConversionLogEntry{
			AuditID:       entry.ID,
			CreatedAt:     entry.CreatedAt,
			UserCode:      entry.ActorUsername,
			FromSKU:       record.FromSKU,
			ToSKU:         record.ToSKU,
			Qty:           record.Qty,
			Factor:        record.Factor,
			Source:        record.Source,
			ReceiptItemID: record.ReceiptItemID,
			LotID:         record.LotID,
			FromDelta:     deltas.FromDelta,
			ToDelta:       deltas.ToDelta,
			Comment:       entry.Comment,
			Reverted:      reverted[entry.ID],
		})
	}
	return items, nil
}

func (s *Service) conversionProducts(ctx context.Context, fromSKU string, toSKU string) (domain.Product, domain.Product, error) {
	products, err := s.repo.GetProductsBySKUs(ctx, []string{fromSKU, toSKU})
	if err != nil {
		return domain.Product{}, domain.Product{}, fmt.Errorf("lookup products: %w", err)
	}
	from, ok := products[fromSKU]
	if !ok {
		return domain.Product{}, domain.Product{}, fmt.Errorf("%w: fromSku %s no existe en catálogo", store.ErrInvalidInput, fromSKU)
	}
	to, ok := products[toSKU]
	if !ok {
		return domain.Product{}, domain.Product{}, fmt.Errorf("%w: toSku %s no existe en catálogo", store.ErrInvalidInput, toSKU)
	}
	return from, to, nil
}

func (s *Service) conversionMoves(ctx context.Context, record conversionRecord, fromKind string, fromQty int, toKind string, toQty int, note string) []domain.StockMove {
	user := "system"
	if actor, ok := ActorFromContext(ctx); ok {
		user = actor.Username
	}
	now := s.now().UTC()
	return []domain.StockMove{
		{ID: xid.New("move"), SKU: record.FromSKU, Kind: fromKind, Qty: fromQty, UserCode: user, LotID: record.LotID, Note: note, CreatedAt: now},
		{ID: xid.New("move"), SKU: record.ToSKU, Kind: toKind, Qty: toQty, UserCode: user, Note: note, CreatedAt: now},
	}
}
