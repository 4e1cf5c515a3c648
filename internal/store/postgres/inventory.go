package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/store"
	"paleteria/backend/internal/xid"
)

func (s *Store) ListStockMovesBySKU(ctx context.Context, sku string) ([]domain.StockMove, error) {
	return s.queryMoves(ctx, `
		SELECT `+moveColumns+`
		FROM stock_moves
		WHERE sku = $1
		ORDER BY created_at ASC, id ASC
	`, sku)
}

func (s *Store) ApplyInventoryWrite(ctx context.Context, write store.InventoryWrite) error {
	if err := validateMoves(write.Moves); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if write.LotID != "" {
		res, err := tx.ExecContext(ctx, `
			UPDATE lots
			SET qty_used = qty_used + $2,
				status = CASE WHEN qty_total > 0 AND qty_used + $2 >= qty_total THEN 'DEPLETED' ELSE 'OPEN' END
			WHERE id = $1 AND qty_used + $2 BETWEEN 0 AND qty_total
		`, write.LotID, write.LotUsed)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM lots WHERE id = $1)`, write.LotID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return store.ErrNotFound
			}
			return fmt.Errorf("%w: lot %s cannot absorb %d units", store.ErrInvalidInput, write.LotID, write.LotUsed)
		}
	}

	if err := insertMoves(ctx, tx, write.Moves); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, write.Audit); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: conversion %s already reverted", store.ErrConflict, write.Audit.EntityID)
		}
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateReceipt(ctx context.Context, receipt domain.Receipt, moves []domain.StockMove) (*domain.Receipt, error) {
	if receipt.ID == "" || receipt.Code == "" {
		return nil, store.ErrInvalidInput
	}
	if err := validateMoves(moves); err != nil {
		return nil, err
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO receipts (id, code, user_code, status, comment, last_edited_by, last_edit_comment, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
	`, receipt.ID, receipt.Code, receipt.UserCode, receipt.Status, receipt.Comment, receipt.LastEditedBy, receipt.LastEditComment, receipt.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for i, item := range receipt.Items {
		if err := insertItem(ctx, tx, receipt, item, i); err != nil {
			return nil, err
		}
	}
	if err := insertMoves(ctx, tx, moves); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetReceipt(ctx, receipt.ID)
}

func insertItem(ctx context.Context, tx *sql.Tx, receipt domain.Receipt, item domain.ReceiptItem, position int) error {
	if item.ID == "" || item.SKU == "" || item.Lot == nil {
		return store.ErrInvalidInput
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO receipt_items (id, receipt_id, position, sku, packs, units_per_pack, units_total)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, item.ID, receipt.ID, position, item.SKU, item.Packs, item.UnitsPerPack, item.UnitsTotal); err != nil {
		return err
	}

	lot := item.Lot
	if lot.ID == "" {
		lot.ID = xid.New("lot")
	}
	createdAt := lot.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO lots (id, code, sku, receipt_id, receipt_item_id, receipt_code, status, qty_total, qty_used, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,$9)
	`, lot.ID, lot.Code, item.SKU, receipt.ID, item.ID, receipt.Code, domain.LotStatusOpen, lot.QtyTotal, createdAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

const receiptColumns = `id, code, user_code, status, comment, last_edited_by, last_edit_comment, created_at, updated_at`

func scanReceipt(row rowScanner) (domain.Receipt, error) {
	var r domain.Receipt
	if err := row.Scan(&r.ID, &r.Code, &r.UserCode, &r.Status, &r.Comment, &r.LastEditedBy, &r.LastEditComment, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.Receipt{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

const itemColumns = `
	i.id, i.receipt_id, i.sku, i.packs, i.units_per_pack, i.units_total,
	l.id, l.code, l.sku, l.receipt_id, l.receipt_item_id, l.receipt_code, l.status, l.qty_total, l.qty_used, l.created_at
`

func scanItem(row rowScanner) (domain.ReceiptItem, error) {
	var item domain.ReceiptItem
	var lot domain.Lot
	if err := row.Scan(&item.ID, &item.ReceiptID, &item.SKU, &item.Packs, &item.UnitsPerPack, &item.UnitsTotal,
		&lot.ID, &lot.Code, &lot.SKU, &lot.ReceiptID, &lot.ReceiptItemID, &lot.ReceiptCode, &lot.Status,
		&lot.QtyTotal, &lot.QtyUsed, &lot.CreatedAt); err != nil {
		return domain.ReceiptItem{}, err
	}
	lot.CreatedAt = lot.CreatedAt.UTC()
	lot.Available = lot.QtyTotal - lot.QtyUsed
	item.Lot = &lot
	return item, nil
}

func (s *Store) GetReceipt(ctx context.Context, id string) (*domain.Receipt, error) {
	receipt, err := scanReceipt(s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM receipt_items i
		JOIN lots l ON l.receipt_item_id = i.id
		WHERE i.receipt_id = $1
		ORDER BY i.position ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receipt.Items = make([]domain.ReceiptItem, 0, 8)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		receipt.Items = append(receipt.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (s *Store) ListReceipts(ctx context.Context, limit int) ([]domain.Receipt, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		ORDER BY created_at DESC, code DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receipts := make([]domain.Receipt, 0, limit)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

func (s *Store) UpdateReceiptStatus(ctx context.Context, id string, status string, editedBy string, comment string) (*domain.Receipt, error) {
	receipt, err := scanReceipt(s.db.QueryRowContext(ctx, `
		UPDATE receipts
		SET status = $2, last_edited_by = $3, last_edit_comment = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+receiptColumns, id, status, editedBy, comment))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &receipt, nil
}

func (s *Store) SaveReceiptItem(ctx context.Context, item domain.ReceiptItem, editedBy string, comment string, moves []domain.StockMove) error {
	if item.ID == "" || item.SKU == "" || item.Lot == nil {
		return store.ErrInvalidInput
	}
	if err := validateMoves(moves); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	receipt, err := scanReceipt(tx.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1 FOR UPDATE`, item.ReceiptID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	var used int
	err = tx.QueryRowContext(ctx, `SELECT qty_used FROM lots WHERE receipt_item_id = $1 FOR UPDATE`, item.ID).Scan(&used)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		var position int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position) + 1, 0) FROM receipt_items WHERE receipt_id = $1`, receipt.ID).Scan(&position); err != nil {
			return err
		}
		if err := insertItem(ctx, tx, receipt, item, position); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if item.Lot.QtyTotal < used {
			return fmt.Errorf("%w: lot %s already used %d units", store.ErrInvalidInput, item.Lot.Code, used)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE receipt_items SET packs = $2, units_per_pack = $3, units_total = $4
			WHERE id = $1
		`, item.ID, item.Packs, item.UnitsPerPack, item.UnitsTotal); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE lots
			SET qty_total = $2,
				status = CASE WHEN $2 > 0 AND qty_used >= $2 THEN 'DEPLETED' ELSE 'OPEN' END
			WHERE receipt_item_id = $1
		`, item.ID, item.Lot.QtyTotal); err != nil {
			return err
		}
	}

	if err := touchReceipt(ctx, tx, receipt.ID, editedBy, comment); err != nil {
		return err
	}
	if err := insertMoves(ctx, tx, moves); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteReceiptItem(ctx context.Context, receiptID string, itemID string, editedBy string, comment string, moves []domain.StockMove) error {
	if err := validateMoves(moves); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM receipt_items WHERE id = $1 AND receipt_id = $2`, itemID, receiptID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	if err := touchReceipt(ctx, tx, receiptID, editedBy, comment); err != nil {
		return err
	}
	if err := insertMoves(ctx, tx, moves); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteReceipt(ctx context.Context, id string, moves []domain.StockMove) error {
	if err := validateMoves(moves); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM receipts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	if err := insertMoves(ctx, tx, moves); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetReceiptItem(ctx context.Context, itemID string) (*domain.ReceiptItem, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM receipt_items i
		JOIN lots l ON l.receipt_item_id = i.id
		WHERE i.id = $1
	`, itemID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListLotsBySKU(ctx context.Context, sku string) ([]domain.Lot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, sku, receipt_id, receipt_item_id, receipt_code, status, qty_total, qty_used, created_at
		FROM lots
		WHERE sku = $1
		ORDER BY created_at DESC, code DESC
	`, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots := make([]domain.Lot, 0, 8)
	for rows.Next() {
		var lot domain.Lot
		if err := rows.Scan(&lot.ID, &lot.Code, &lot.SKU, &lot.ReceiptID, &lot.ReceiptItemID, &lot.ReceiptCode,
			&lot.Status, &lot.QtyTotal, &lot.QtyUsed, &lot.CreatedAt); err != nil {
			return nil, err
		}
		lot.CreatedAt = lot.CreatedAt.UTC()
		lot.Available = lot.QtyTotal - lot.QtyUsed
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lots, nil
}

func (s *Store) GetAuditLog(ctx context.Context, id string) (*domain.AuditLog, error) {
	entry, err := scanAudit(s.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Store) FindAuditLogs(ctx context.Context, filter store.AuditFilter) ([]domain.AuditLog, error) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	add := func(column string, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("module", filter.Module)
	add("action", filter.Action)
	add("entity_id", filter.EntityID)

	query := `SELECT ` + auditColumns + ` FROM audit_logs`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.queryAudit(ctx, query, args...)
}

func touchReceipt(ctx context.Context, tx *sql.Tx, id string, editedBy string, comment string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE receipts SET last_edited_by = $2, last_edit_comment = $3, updated_at = now()
		WHERE id = $1
	`, id, editedBy, comment)
	return err
}
