package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/store"
	"paleteria/backend/internal/xid"
)

func (s *Store) ListStockMovesBySKU(_ context.Context, sku string) ([]domain.StockMove, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMove, 0, 16)
	for _, move := range s.stockMoves {
		if move.SKU == sku {
			result = append(result, move)
		}
	}
	return result, nil
}

func (s *Store) ApplyInventoryWrite(_ context.Context, write store.InventoryWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateMoves(write.Moves); err != nil {
		return err
	}
	if write.Audit.Action == store.AuditActionConvertRevert {
		for _, entry := range s.auditLogs {
			if entry.Action == store.AuditActionConvertRevert && entry.EntityID == write.Audit.EntityID {
				return fmt.Errorf("%w: conversion %s already reverted", store.ErrConflict, write.Audit.EntityID)
			}
		}
	}

	var lotRef *domain.Lot
	if write.LotID != "" {
		lotRef = s.findLot(write.LotID)
		if lotRef == nil {
			return store.ErrNotFound
		}
		used := lotRef.QtyUsed + write.LotUsed
		if used < 0 || used > lotRef.QtyTotal {
			return fmt.Errorf("%w: lot %s would use %d of %d", store.ErrInvalidInput, lotRef.Code, used, lotRef.QtyTotal)
		}
	}

	now := time.Now().UTC()
	if lotRef != nil {
		lotRef.QtyUsed += write.LotUsed
		lotRef.Status = lotStatus(*lotRef)
	}
	s.appendMoves(write.Moves, now)

	entry := write.Audit
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) CreateReceipt(_ context.Context, receipt domain.Receipt, moves []domain.StockMove) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if receipt.ID == "" || receipt.Code == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.receipts[receipt.ID]; exists {
		return nil, store.ErrConflict
	}
	for _, existing := range s.receipts {
		if existing.Code == receipt.Code {
			return nil, store.ErrConflict
		}
	}
	if err := validateMoves(moves); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = now
	}
	receipt.UpdatedAt = receipt.CreatedAt
	receipt = cloneReceipt(receipt)
	for i := range receipt.Items {
		prepareItem(&receipt.Items[i], receipt, receipt.CreatedAt)
	}

	s.receipts[receipt.ID] = receipt
	s.appendMoves(moves, now)
	created := cloneReceipt(receipt)
	return &created, nil
}

func (s *Store) GetReceipt(_ context.Context, id string) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, ok := s.receipts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneReceipt(receipt)
	return &found, nil
}

func (s *Store) ListReceipts(_ context.Context, limit int) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Receipt, 0, len(s.receipts))
	for _, receipt := range s.receipts {
		receipt.Items = nil
		result = append(result, receipt)
	}
	slices.SortFunc(result, func(a, b domain.Receipt) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Code, a.Code)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateReceiptStatus(_ context.Context, id string, status string, editedBy string, comment string) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receipts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	receipt.Status = status
	touchReceipt(&receipt, editedBy, comment)
	s.receipts[id] = receipt
	updated := cloneReceipt(receipt)
	return &updated, nil
}

func (s *Store) SaveReceiptItem(_ context.Context, item domain.ReceiptItem, editedBy string, comment string, moves []domain.StockMove) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receipts[item.ReceiptID]
	if !ok {
		return store.ErrNotFound
	}
	if item.ID == "" || item.SKU == "" || item.Lot == nil {
		return store.ErrInvalidInput
	}
	if err := validateMoves(moves); err != nil {
		return err
	}

	now := time.Now().UTC()
	item = cloneItem(item)
	idx := slices.IndexFunc(receipt.Items, func(it domain.ReceiptItem) bool { return it.ID == item.ID })
	if idx >= 0 {
		if item.Lot.QtyTotal < receipt.Items[idx].Lot.QtyUsed {
			return fmt.Errorf("%w: lot %s already used %d units", store.ErrInvalidInput, item.Lot.Code, receipt.Items[idx].Lot.QtyUsed)
		}
		item.Lot.QtyUsed = receipt.Items[idx].Lot.QtyUsed
		item.Lot.CreatedAt = receipt.Items[idx].Lot.CreatedAt
		prepareItem(&item, receipt, now)
		receipt.Items[idx] = item
	} else {
		prepareItem(&item, receipt, now)
		receipt.Items = append(receipt.Items, item)
	}
	touchReceipt(&receipt, editedBy, comment)
	s.receipts[receipt.ID] = receipt
	s.appendMoves(moves, now)
	return nil
}

func (s *Store) DeleteReceiptItem(_ context.Context, receiptID string, itemID string, editedBy string, comment string, moves []domain.StockMove) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receipts[receiptID]
	if !ok {
		return store.ErrNotFound
	}
	idx := slices.IndexFunc(receipt.Items, func(it domain.ReceiptItem) bool { return it.ID == itemID })
	if idx < 0 {
		return store.ErrNotFound
	}
	if err := validateMoves(moves); err != nil {
		return err
	}

	receipt.Items = slices.Delete(receipt.Items, idx, idx+1)
	touchReceipt(&receipt, editedBy, comment)
	s.receipts[receiptID] = receipt
	s.appendMoves(moves, time.Now().UTC())
	return nil
}

func (s *Store) DeleteReceipt(_ context.Context, id string, moves []domain.StockMove) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.receipts[id]; !ok {
		return store.ErrNotFound
	}
	if err := validateMoves(moves); err != nil {
		return err
	}
	delete(s.receipts, id)
	s.appendMoves(moves, time.Now().UTC())
	return nil
}

func (s *Store) GetReceiptItem(_ context.Context, itemID string) (*domain.ReceiptItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, receipt := range s.receipts {
		for _, item := range receipt.Items {
			if item.ID == itemID {
				found := cloneItem(item)
				return &found, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListLotsBySKU(_ context.Context, sku string) ([]domain.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lots := make([]domain.Lot, 0, 8)
	for _, receipt := range s.receipts {
		for _, item := range receipt.Items {
			if item.SKU == sku && item.Lot != nil {
				lots = append(lots, withAvailable(*item.Lot))
			}
		}
	}
	slices.SortFunc(lots, func(a, b domain.Lot) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Code, a.Code)
	})
	return lots, nil
}

// findLot must be called with s.mu held for writing.
func (s *Store) findLot(id string) *domain.Lot {
	for rid, receipt := range s.receipts {
		for i := range receipt.Items {
			if receipt.Items[i].Lot != nil && receipt.Items[i].Lot.ID == id {
				return s.receipts[rid].Items[i].Lot
			}
		}
	}
	return nil
}

// appendMoves must be called with s.mu held for writing.
func (s *Store) appendMoves(moves []domain.StockMove, now time.Time) {
	for _, move := range moves {
		if move.ID == "" {
			move.ID = xid.New("move")
		}
		if move.CreatedAt.IsZero() {
			move.CreatedAt = now
		}
		s.stockMoves = append(s.stockMoves, move)
	}
}

func validateMoves(moves []domain.StockMove) error {
	for _, move := range moves {
		if move.SKU == "" || move.Kind == "" {
			return store.ErrInvalidInput
		}
	}
	return nil
}

func prepareItem(item *domain.ReceiptItem, receipt domain.Receipt, now time.Time) {
	item.ReceiptID = receipt.ID
	if item.Lot == nil {
		return
	}
	item.Lot.SKU = item.SKU
	item.Lot.ReceiptID = receipt.ID
	item.Lot.ReceiptItemID = item.ID
	item.Lot.ReceiptCode = receipt.Code
	if item.Lot.CreatedAt.IsZero() {
		item.Lot.CreatedAt = now
	}
	item.Lot.Status = lotStatus(*item.Lot)
	*item.Lot = withAvailable(*item.Lot)
}

func touchReceipt(receipt *domain.Receipt, editedBy string, comment string) {
	receipt.LastEditedBy = editedBy
	receipt.LastEditComment = comment
	receipt.UpdatedAt = time.Now().UTC()
}

func lotStatus(lot domain.Lot) string {
	if lot.QtyTotal > 0 && lot.QtyUsed >= lot.QtyTotal {
		return domain.LotStatusDepleted
	}
	return domain.LotStatusOpen
}

func withAvailable(lot domain.Lot) domain.Lot {
	lot.Available = lot.QtyTotal - lot.QtyUsed
	return lot
}

func cloneItem(src domain.ReceiptItem) domain.ReceiptItem {
	dst := src
	if src.Lot != nil {
		lot := withAvailable(*src.Lot)
		dst.Lot = &lot
	}
	return dst
}

func cloneReceipt(src domain.Receipt) domain.Receipt {
	dst := src
	if src.Items == nil {
		return dst
	}
	dst.Items = make([]domain.ReceiptItem, len(src.Items))
	for i, item := range src.Items {
		dst.Items[i] = cloneItem(item)
	}
	return dst
}
