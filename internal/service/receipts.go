package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/store"
	"paleteria/backend/internal/xid"
)

const (
	receiptsModule       = "inventory.receipts"
	defaultReceiptsLimit = 20
	maxReceiptsLimit     = 100
	maxUnitsPerItem      = 1_000_000
	receiptCodeAttempts  = 5
)

var receiptPresets = domain.ReceiptPresets{
	Unlock: []string{
		"Corrección de conteo",
		"Agregar producto omitido",
		"Eliminar ítem duplicado",
		"Ajuste por devolución",
		"Error de digitación",
	},
	AddItem: []string{
		"Faltaba en guía",
		"Reposición adicional",
		"Corrección posterior",
		"Ingreso no registrado",
	},
	DeleteItem: []string{
		"Ítem duplicado",
		"Ingreso por error",
		"Producto dañado",
		"Ajuste por diferencia",
	},
	DeleteReceipt: []string{
		"Creada por error",
		"Recepción duplicada",
		"Guía anulada",
		"Se rehará con datos correctos",
	},
}

// ReceiptPresets lists the canned comments offered by the UI.
func (s *Service) ReceiptPresets() domain.ReceiptPresets {
	return receiptPresets
}

// CreateReceipt stores a locked receipt. Each item gets a lot and a RECEIPT
// move for packs x units-per-pack units.
func (s *Service) CreateReceipt(ctx context.Context, req domain.ReceiptCreateRequest) (domain.Receipt, error) {
	actor, err := requireRole(ctx, sellerRoles...)
	if err != nil {
		return domain.Receipt{}, err
	}
	if len(req.Items) == 0 {
		return domain.Receipt{}, fmt.Errorf("%w: receipt has no items", store.ErrInvalidInput)
	}

	skus := make([]string, 0, len(req.Items))
	for i := range req.Items {
		req.Items[i].SKU = normalizeSKU(req.Items[i].SKU)
		skus = append(skus, req.Items[i].SKU)
	}
	products, err := s.repo.GetProductsBySKUs(ctx, skus)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("lookup products: %w", err)
	}

	now := s.now().UTC()
	comment := strings.TrimSpace(req.Comment)

	var created *domain.Receipt
	for attempt := 1; attempt <= receiptCodeAttempts; attempt++ {
		receipt := domain.Receipt{
			ID:              xid.New("rcpt"),
			Code:            s.receiptCode(now, actor.Username, attempt),
			UserCode:        actor.Username,
			Status:          domain.ReceiptStatusLocked,
			Comment:         comment,
			LastEditedBy:    actor.Username,
			LastEditComment: comment,
			CreatedAt:       now,
		}
		moves := make([]domain.StockMove, 0, len(req.Items))
		for i, itemReq := range req.Items {
			if _, ok := products[itemReq.SKU]; !ok {
				return domain.Receipt{}, fmt.Errorf("%w: product %s not found", store.ErrInvalidInput, itemReq.SKU)
			}
			item, err := newReceiptItem(receipt, itemReq, i+1)
			if err != nil {
				return domain.Receipt{}, err
			}
			receipt.Items = append(receipt.Items, item)
			moves = appendMove(moves, receiptMove(receipt, item, domain.StockMoveKindReceipt, item.UnitsTotal, actor.Username, now))
		}

		created, err = s.repo.CreateReceipt(ctx, receipt, moves)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return domain.Receipt{}, fmt.Errorf("create receipt: %w", err)
		}
		break
	}
	if created == nil {
		return domain.Receipt{}, fmt.Errorf("%w: receipt code already taken", store.ErrConflict)
	}

	s.logAudit(ctx, receiptsModule, "create", created.ID, nil, map[string]any{
		"code":  created.Code,
		"items": created.Items,
	}, comment)
	s.log.Info(s.log.WithActor(ctx, actor.Username, actor.Role), "receipt created", map[string]any{
		"receipt_id": created.ID,
		"code":       created.Code,
		"items":      len(created.Items),
	})
	return *created, nil
}

// ListReceipts returns receipt headers, newest first.
func (s *Service) ListReceipts(ctx context.Context, limit int) ([]domain.Receipt, error) {
	if _, err := requireRole(ctx, sellerRoles...); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultReceiptsLimit
	}
	if limit > maxReceiptsLimit {
		limit = maxReceiptsLimit
	}
	return s.repo.ListReceipts(ctx, limit)
}

func (s *Service) GetReceipt(ctx context.Context, id string) (domain.Receipt, error) {
	if _, err := requireRole(ctx, sellerRoles...); err != nil {
		return domain.Receipt{}, err
	}
	receipt, err := s.loadReceipt(ctx, id)
	if err != nil {
		return domain.Receipt{}, err
	}
	if receipt.Items == nil {
		receipt.Items = []domain.ReceiptItem{}
	}
	return *receipt, nil
}

// ReceiptAudit lists the audit entries of a receipt, deleted ones included.
func (s *Service) ReceiptAudit(ctx context.Context, id string) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, sellerRoles...); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.FindAuditLogs(ctx, store.AuditFilter{Module: receiptsModule, EntityID: id, Limit: 200})
}

// UnlockReceipt reopens a receipt for edits. Cashiers must explain why;
// managers get an automatic comment.
func (s *Service) UnlockReceipt(ctx context.Context, id string, comment string) (domain.Receipt, error) {
	actor, err := requireRole(ctx, sellerRoles...)
	if err != nil {
		return domain.Receipt{}, err
	}
	comment, err = requiredComment(actor, comment, "Desbloqueado por")
	if err != nil {
		return domain.Receipt{}, err
	}

	receipt, err := s.loadReceipt(ctx, id)
	if err != nil {
		return domain.Receipt{}, err
	}
	updated, err := s.repo.UpdateReceiptStatus(ctx, receipt.ID, domain.ReceiptStatusOpen, actor.Username, comment)
	if err != nil {
		return domain.Receipt{}, err
	}

	s.logAudit(ctx, receiptsModule, "unlock", receipt.ID,
		map[string]any{"status": receipt.Status},
		map[string]any{"status": updated.Status},
		comment,
	)
	return *updated, nil
}

// LockReceipt closes a receipt. Cashiers can only lock open receipts.
func (s *Service) LockReceipt(ctx context.Context, id string) (domain.Receipt, error) {
	actor, err := requireRole(ctx, sellerRoles...)
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt, err := s.loadReceipt(ctx, id)
	if err != nil {
		return domain.Receipt{}, err
	}
	if err := canEditReceipt(actor, receipt); err != nil {
		return domain.Receipt{}, err
	}

	comment := ""
	if isManager(actor) {
		comment = "Cerrado por " + strings.ToUpper(actor.Role)
	}
	updated, err := s.repo.UpdateReceiptStatus(ctx, receipt.ID, domain.ReceiptStatusLocked, actor.Username, comment)
	if err != nil {
		return domain.Receipt{}, err
	}

	s.logAudit(ctx, receiptsModule, "lock", receipt.ID,
		map[string]any{"status": receipt.Status},
		map[string]any{"status": updated.Status},
		comment,
	)
	return *updated, nil
}

func (s *Service) AddReceiptItem(ctx context.Context, id string, req domain.ReceiptItemAddRequest) (domain.Receipt, error) {
	actor, err := requireRole(ctx, sellerRoles...)
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt, err := s.loadReceipt(ctx, id)
	if err != nil {
		return domain.Receipt{}, err
	}
	if err := canEditReceipt(actor, receipt); err != nil {
		return domain.Receipt{}, err
	}

	req.SKU = normalizeSKU(req.SKU)
	if _, err := s.repo.GetProductBySKU(ctx, req.SKU); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Receipt{}, fmt.Errorf("%w: product %s not found", store.ErrInvalidInput, req.SKU)
		}
		return domain.Receipt{}, err
	}

	item, err := newReceiptItem(*receipt, req.ReceiptItemRequest, nextLotSeq(*receipt, req.SKU))
	if err != nil {
		return domain.Receipt{}, err
	}
	comment := firstNonEmpty(strings.TrimSpace(req.Comment), "agregar ítem")
	moves := appendMove(nil, receiptMove(*receipt, item, domain.StockMoveKindReceipt, item.UnitsTotal, actor.Username, s.now().UTC()))
	if err := s.repo.SaveReceiptItem(ctx, item, actor.Username, comment, moves); err != nil {
		return domain.Receipt{}, err
	}

	s.logAudit(ctx, receiptsModule, "add_item", receipt.ID, nil, item, comment)
	return s.GetReceipt(ctx, receipt.ID)
}

// UpdateReceiptItem changes the pack count of an item. The lot total cannot
// drop below what was already used; the stock difference is written as a
// RECEIPT_EDIT_ADJUST move.
func (s *Service) UpdateReceiptItem(ctx context.Context, id string, itemID string, req domain.ReceiptItemUpdateRequest) (domain.Receipt, error) {
	actor, err := requireRole(ctx, sellerRoles...)
	if err != nil {
		return domain.Receipt{}, err
	}
	if req.Packs == nil || *req.Packs < 0 {
		return domain.Receipt{}, fmt.Errorf("%w: packs must be zero or more", store.ErrInvalidInput)
	}
	receipt, err := s.loadReceipt(ctx, id)
	if err != nil {
		return domain.Receipt{}, err
	}
	if err := canEditReceipt(actor, receipt); err != nil {
		return domain.Receipt{}, err
	}
	current, err := findItem(receipt, itemID)
	if err != nil {
		return domain.Receipt{}, err
	}

	units, err := unitsFor(*req.Packs, current.UnitsPerPack)
	if err != nil {
		return domain.Receipt{}, err
	}
	if current.Lot != nil && units < current.Lot.QtyUsed {
		return domain.Receipt{}, fmt.Errorf("%w: no puedes bajar a %d unidades; ya se usaron %d", store.ErrInvalidInput, units, current.Lot.QtyUsed)
	}

	updated := current
	updated.Packs = *req.Packs
	updated.UnitsTotal = units
	lot := domain.Lot{}
	if current.Lot != nil {
		lot = *current.Lot
	}
	lot.QtyTotal = units
	updated.Lot = &lot

	comment := firstNonEmpty(strings.TrimSpace(req.Comment), "editar ítem")
	moves := appendMove(nil, receiptMove(*receipt, updated, domain.StockMoveKindReceiptAdjust, units-current.UnitsTotal, actor.Username, s.now().UTC()))
	if err := s.repo.SaveReceiptItem(ctx, updated, actor.Username, comment, moves); err != nil {
		return domain.Receipt{}, err
	}

	s.logAudit(ctx, receiptsModule, "edit_item", receipt.ID,
		map[string]any{"itemId": current.ID, "packs": current.Packs, "unitsTotal": current.UnitsTotal},
		map[string]any{"itemId": updated.ID, "packs": updated.Packs, "unitsTotal": updated.UnitsTotal},
		comment,
	)
	return s.GetReceipt(ctx, receipt.ID)
}

// DeleteReceiptItem removes an item and its lot and takes its units out of
// stock. Items whose lot was already used cannot be removed.
func (s *Service) DeleteReceiptItem(ctx context.Context, id string, itemID string, comment string) (domain.Receipt, error) {
	actor, err := requireRole(ctx, sellerRoles...)
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt, err := s.loadReceipt(ctx, id)
	if err != nil {
		return domain.Receipt{}, err
	}
	if err := canEditReceipt(actor, receipt); err != nil {
		return domain.Receipt{}, err
	}
	item, err := findItem(receipt, itemID)
	if err != nil {
		return domain.Receipt{}, err
	}
	if item.Lot != nil && item.Lot.QtyUsed > 0 {
		return domain.Receipt{}, fmt.Errorf("%w: lot %s already used %d units", store.ErrConflict, item.Lot.Code, item.Lot.QtyUsed)
	}

	comment = firstNonEmpty(strings.TrimSpace(comment), "eliminar ítem")
	moves := appendMove(nil, receiptMove(*receipt, item, domain.StockMoveKindReceiptAdjust, -item.UnitsTotal, actor.Username, s.now().UTC()))
	if err := s.repo.DeleteReceiptItem(ctx, receipt.ID, item.ID, actor.Username, comment, moves); err != nil {
		return domain.Receipt{}, err
	}

	s.logAudit(ctx, receiptsModule, "delete_item", receipt.ID, item, nil, comment)
	return s.GetReceipt(ctx, receipt.ID)
}

// DeleteReceipt removes a receipt and reverses the stock of every item.
// Cashiers must comment; managers get an automatic comment.
func (s *Service) DeleteReceipt(ctx context.Context, id string, comment string) error {
	actor, err := requireRole(ctx, sellerRoles...)
	if err != nil {
		return err
	}
	receipt, err := s.loadReceipt(ctx, id)
	if err != nil {
		return err
	}
	if err := canEditReceipt(actor, receipt); err != nil {
		return err
	}
	comment, err = requiredComment(actor, comment, "Eliminado por")
	if err != nil {
		return err
	}

	now := s.now().UTC()
	moves := make([]domain.StockMove, 0, len(receipt.Items))
	for _, item := range receipt.Items {
		if item.Lot != nil && item.Lot.QtyUsed > 0 {
			return fmt.Errorf("%w: lot %s already used %d units", store.ErrConflict, item.Lot.Code, item.Lot.QtyUsed)
		}
		move := receiptMove(*receipt, item, domain.StockMoveKindReceiptDelete, -item.UnitsTotal, actor.Username, now)
		move.Note = "Delete RC " + receipt.Code
		moves = appendMove(moves, move)
	}
	if err := s.repo.DeleteReceipt(ctx, receipt.ID, moves); err != nil {
		return err
	}

	s.logAudit(ctx, receiptsModule, "delete_receipt", receipt.ID,
		map[string]any{"receipt": map[string]any{"id": receipt.ID, "code": receipt.Code}, "items": receipt.Items},
		nil,
		comment,
	)
	return nil
}

// LotsBySKU lists the lots of a product, newest first.
func (s *Service) LotsBySKU(ctx context.Context, sku string) ([]domain.Lot, error) {
	if _, err := requireRole(ctx, sellerRoles...); err != nil {
		return nil, err
	}
	product, err := s.GetProduct(ctx, sku)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLotsBySKU(ctx, product.SKU)
}

func (s *Service) loadReceipt(ctx context.Context, id string) (*domain.Receipt, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, store.ErrInvalidInput
	}
	receipt, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get receipt %s: %w", id, err)
	}
	return receipt, nil
}

// receiptCode is RC-YYYYMMDD-HHMMSS-<user> in local time, with a numeric
// suffix on retries.
func (s *Service) receiptCode(now time.Time, user string, attempt int) string {
	code := fmt.Sprintf("RC-%s-%s", now.In(s.loc).Format("20060102-150405"), user)
	if attempt > 1 {
		code = fmt.Sprintf("%s-%d", code, attempt)
	}
	return code
}

func newReceiptItem(receipt domain.Receipt, req domain.ReceiptItemRequest, seq int) (domain.ReceiptItem, error) {
	if req.SKU == "" {
		return domain.ReceiptItem{}, fmt.Errorf("%w: item sku is required", store.ErrInvalidInput)
	}
	if req.Packs < 0 || req.UnitsPerPack < 0 {
		return domain.ReceiptItem{}, fmt.Errorf("%w: packs must be zero or more", store.ErrInvalidInput)
	}
	perPack := req.UnitsPerPack
	if perPack == 0 {
		perPack = 1
	}
	units, err := unitsFor(req.Packs, perPack)
	if err != nil {
		return domain.ReceiptItem{}, err
	}

	itemID := xid.New("rcptitem")
	return domain.ReceiptItem{
		ID:           itemID,
		ReceiptID:    receipt.ID,
		SKU:          req.SKU,
		Packs:        req.Packs,
		UnitsPerPack: perPack,
		UnitsTotal:   units,
		Lot: &domain.Lot{
			ID:            xid.New("lot"),
			Code:          fmt.Sprintf("LOT-%s-%s-#%d", receipt.Code, req.SKU, seq),
			SKU:           req.SKU,
			ReceiptID:     receipt.ID,
			ReceiptItemID: itemID,
			ReceiptCode:   receipt.Code,
			Status:        domain.LotStatusOpen,
			QtyTotal:      units,
			Available:     units,
		},
	}, nil
}

func unitsFor(packs int, perPack int) (int, error) {
	if perPack < 1 {
		perPack = 1
	}
	if packs > maxUnitsPerItem/perPack {
		return 0, fmt.Errorf("%w: at most %d units per item", store.ErrInvalidInput, maxUnitsPerItem)
	}
	return packs * perPack, nil
}

func receiptMove(receipt domain.Receipt, item domain.ReceiptItem, kind string, qty int, user string, at time.Time) domain.StockMove {
	move := domain.StockMove{
		ID:        xid.New("move"),
		SKU:       item.SKU,
		Kind:      kind,
		Qty:       qty,
		UserCode:  user,
		ReceiptID: receipt.ID,
		Note:      "RC " + receipt.Code,
		CreatedAt: at,
	}
	if item.Lot != nil {
		move.LotID = item.Lot.ID
	}
	return move
}

// appendMove skips zero-quantity moves.
func appendMove(moves []domain.StockMove, move domain.StockMove) []domain.StockMove {
	if move.Qty == 0 {
		return moves
	}
	return append(moves, move)
}

// nextLotSeq numbers lots per receipt, skipping codes already in use.
func nextLotSeq(receipt domain.Receipt, sku string) int {
	seq := len(receipt.Items) + 1
	for {
		code := fmt.Sprintf("LOT-%s-%s-#%d", receipt.Code, sku, seq)
		taken := slices.ContainsFunc(receipt.Items, func(it domain.ReceiptItem) bool {
			return it.Lot != nil && it.Lot.Code == code
		})
		if !taken {
			return seq
		}
		seq++
	}
}

func findItem(receipt *domain.Receipt, itemID string) (domain.ReceiptItem, error) {
	itemID = strings.TrimSpace(itemID)
	for _, item := range receipt.Items {
		if item.ID == itemID {
			return item, nil
		}
	}
	return domain.ReceiptItem{}, fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
}

// canEditReceipt lets managers edit any receipt and cashiers only open ones.
func canEditReceipt(actor domain.Actor, receipt *domain.Receipt) error {
	if isManager(actor) || receipt.Status == domain.ReceiptStatusOpen {
		return nil
	}
	return fmt.Errorf("%w: receipt %s is locked", store.ErrForbidden, receipt.Code)
}

// requiredComment returns the trimmed comment. Managers without one get
// "<prefix> <ROLE>"; cashiers without one are rejected.
func requiredComment(actor domain.Actor, comment string, prefix string) (string, error) {
	comment = strings.TrimSpace(comment)
	if comment != "" {
		return comment, nil
	}
	if isManager(actor) {
		return prefix + " " + strings.ToUpper(actor.Role), nil
	}
	return "", fmt.Errorf("%w: comment is required", store.ErrInvalidInput)
}

func isManager(actor domain.Actor) bool {
	return slices.Contains(managerRoles, actor.Role)
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
