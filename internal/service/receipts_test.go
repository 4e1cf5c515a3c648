package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/store"
)

func fresaReceipt(packs int, perPack int) domain.ReceiptCreateRequest {
	return domain.ReceiptCreateRequest{Items: []domain.ReceiptItemRequest{
		{SKU: "paleta_fresa", Packs: packs, UnitsPerPack: perPack},
	}}
}

func stockOf(t *testing.T, f fixture, sku string) int {
	t.Helper()
	product, err := f.repo.GetProductBySKU(context.Background(), sku)
	require.NoError(t, err)
	return product.Stock
}

func intPtr(v int) *int { return &v }

func TestCreateReceiptAddsStockAndLots(t *testing.T) {
	f := newFixture(t)
	ctx := asRole(domain.RoleAdmin)

	receipt, err := f.svc.CreateReceipt(ctx, domain.ReceiptCreateRequest{
		Items: []domain.ReceiptItemRequest{
			{SKU: "paleta_fresa", Packs: 2, UnitsPerPack: 10},
			{SKU: "CONO", Packs: 3},
		},
		Comment: "entrega lunes",
	})
	require.NoError(t, err)

	assert.Equal(t, "RC-20260310-183000-user-admin", receipt.Code)
	assert.Equal(t, domain.ReceiptStatusLocked, receipt.Status)
	assert.Equal(t, "entrega lunes", receipt.Comment)
	require.Len(t, receipt.Items, 2)

	fresa := receipt.Items[0]
	assert.Equal(t, "PALETA_FRESA", fresa.SKU)
	assert.Equal(t, 20, fresa.UnitsTotal)
	require.NotNil(t, fresa.Lot)
	assert.Equal(t, "LOT-RC-20260310-183000-user-admin-PALETA_FRESA-#1", fresa.Lot.Code)
	assert.Equal(t, 20, fresa.Lot.Available)
	assert.Equal(t, 1, receipt.Items[1].UnitsPerPack)
	assert.Equal(t, 3, receipt.Items[1].UnitsTotal)

	assert.Equal(t, 70, stockOf(t, f, "PALETA_FRESA"))
	assert.Equal(t, 53, stockOf(t, f, "CONO"))

	logs, err := f.svc.ReceiptAudit(ctx, receipt.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "create", logs[0].Action)

	lots, err := f.svc.LotsBySKU(asRole(domain.RoleCashier), "paleta_fresa")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, fresa.Lot.ID, lots[0].ID)
}

func TestCreateReceiptValidatesInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateReceipt(asRole("guest"), fresaReceipt(1, 1))
	assert.ErrorIs(t, err, store.ErrForbidden)

	_, err = f.svc.CreateReceipt(asRole(domain.RoleCashier), domain.ReceiptCreateRequest{})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = f.svc.CreateReceipt(asRole(domain.RoleCashier), domain.ReceiptCreateRequest{Items: []domain.ReceiptItemRequest{
		{SKU: "NO_EXISTE", Packs: 1},
	}})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = f.svc.CreateReceipt(asRole(domain.RoleCashier), fresaReceipt(2, maxUnitsPerItem))
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	assert.Equal(t, 50, stockOf(t, f, "PALETA_FRESA"))
}

func TestCashierMustUnlockBeforeEditing(t *testing.T) {
	f := newFixture(t)
	cashier := asRole(domain.RoleCashier)

	receipt, err := f.svc.CreateReceipt(cashier, fresaReceipt(1, 10))
	require.NoError(t, err)

	add := domain.ReceiptItemAddRequest{ReceiptItemRequest: domain.ReceiptItemRequest{SKU: "CONO", Packs: 4}}
	_, err = f.svc.AddReceiptItem(cashier, receipt.ID, add)
	assert.ErrorIs(t, err, store.ErrForbidden)
	_, err = f.svc.LockReceipt(cashier, receipt.ID)
	assert.ErrorIs(t, err, store.ErrForbidden)

	_, err = f.svc.UnlockReceipt(cashier, receipt.ID, "  ")
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	opened, err := f.svc.UnlockReceipt(cashier, receipt.ID, "Agregar producto omitido")
	require.NoError(t, err)
	assert.Equal(t, domain.ReceiptStatusOpen, opened.Status)
	assert.Equal(t, "Agregar producto omitido", opened.LastEditComment)

	updated, err := f.svc.AddReceiptItem(cashier, receipt.ID, add)
	require.NoError(t, err)
	require.Len(t, updated.Items, 2)
	assert.Equal(t, "LOT-"+receipt.Code+"-CONO-#2", updated.Items[1].Lot.Code)
	assert.Equal(t, "agregar ítem", updated.LastEditComment)
	assert.Equal(t, 54, stockOf(t, f, "CONO"))

	locked, err := f.svc.LockReceipt(cashier, receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReceiptStatusLocked, locked.Status)
	assert.Empty(t, locked.LastEditComment)
}

func TestManagersGetAutomaticComments(t *testing.T) {
	f := newFixture(t)
	admin := asRole(domain.RoleAdmin)

	receipt, err := f.svc.CreateReceipt(admin, fresaReceipt(1, 10))
	require.NoError(t, err)

	opened, err := f.svc.UnlockReceipt(admin, receipt.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Desbloqueado por ADMIN", opened.LastEditComment)

	locked, err := f.svc.LockReceipt(admin, receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cerrado por ADMIN", locked.LastEditComment)

	// managers edit locked receipts directly
	updated, err := f.svc.UpdateReceiptItem(admin, receipt.ID, receipt.Items[0].ID, domain.ReceiptItemUpdateRequest{Packs: intPtr(3)})
	require.NoError(t, err)
	assert.Equal(t, 30, updated.Items[0].UnitsTotal)
	assert.Equal(t, "editar ítem", updated.LastEditComment)
}

func TestUpdateReceiptItemWritesAdjustMove(t *testing.T) {
	f := newFixture(t)
	admin := asRole(domain.RoleAdmin)

	receipt, err := f.svc.CreateReceipt(admin, fresaReceipt(2, 10))
	require.NoError(t, err)
	itemID := receipt.Items[0].ID

	updated, err := f.svc.UpdateReceiptItem(admin, receipt.ID, itemID, domain.ReceiptItemUpdateRequest{Packs: intPtr(1), Comment: "conteo"})
	require.NoError(t, err)
	assert.Equal(t, 10, updated.Items[0].UnitsTotal)
	assert.Equal(t, 10, updated.Items[0].Lot.QtyTotal)
	assert.Equal(t, 60, stockOf(t, f, "PALETA_FRESA"))

	kardex, err := f.svc.Kardex(admin, "PALETA_FRESA")
	require.NoError(t, err)
	last := kardex[len(kardex)-1]
	assert.Equal(t, domain.StockMoveKindReceiptAdjust, last.Kind)
	assert.Equal(t, -10, last.Qty)
	assert.Equal(t, receipt.ID, last.ReceiptID)

	_, err = f.svc.UpdateReceiptItem(admin, receipt.ID, itemID, domain.ReceiptItemUpdateRequest{})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = f.svc.UpdateReceiptItem(admin, receipt.ID, "missing", domain.ReceiptItemUpdateRequest{Packs: intPtr(1)})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsedLotsCannotShrinkOrBeDeleted(t *testing.T) {
	f := newFixture(t)
	admin := asRole(domain.RoleAdmin)

	receipt, err := f.svc.CreateReceipt(admin, fresaReceipt(2, 10))
	require.NoError(t, err)
	item := receipt.Items[0]
	require.NoError(t, f.repo.ApplyInventoryWrite(context.Background(), store.InventoryWrite{LotID: item.Lot.ID, LotUsed: 15}))

	_, err = f.svc.UpdateReceiptItem(admin, receipt.ID, item.ID, domain.ReceiptItemUpdateRequest{Packs: intPtr(1)})
	require.ErrorIs(t, err, store.ErrInvalidInput)
	assert.Contains(t, err.Error(), "no puedes bajar a 10 unidades; ya se usaron 15")

	_, err = f.svc.DeleteReceiptItem(admin, receipt.ID, item.ID, "")
	assert.ErrorIs(t, err, store.ErrConflict)
	err = f.svc.DeleteReceipt(admin, receipt.ID, "")
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 70, stockOf(t, f, "PALETA_FRESA"))
}

func TestDeleteReceiptItemReversesStock(t *testing.T) {
	f := newFixture(t)
	admin := asRole(domain.RoleAdmin)

	receipt, err := f.svc.CreateReceipt(admin, domain.ReceiptCreateRequest{Items: []domain.ReceiptItemRequest{
		{SKU: "PALETA_FRESA", Packs: 1, UnitsPerPack: 10},
		{SKU: "CONO", Packs: 5},
	}})
	require.NoError(t, err)

	updated, err := f.svc.DeleteReceiptItem(admin, receipt.ID, receipt.Items[1].ID, "")
	require.NoError(t, err)
	require.Len(t, updated.Items, 1)
	assert.Equal(t, "eliminar ítem", updated.LastEditComment)
	assert.Equal(t, 50, stockOf(t, f, "CONO"))
	assert.Equal(t, 60, stockOf(t, f, "PALETA_FRESA"))
}

func TestDeleteReceiptReversesAllItems(t *testing.T) {
	f := newFixture(t)
	admin := asRole(domain.RoleAdmin)
	cashier := asRole(domain.RoleCashier)

	receipt, err := f.svc.CreateReceipt(cashier, domain.ReceiptCreateRequest{Items: []domain.ReceiptItemRequest{
		{SKU: "PALETA_FRESA", Packs: 1, UnitsPerPack: 10},
		{SKU: "CONO", Packs: 5},
	}})
	require.NoError(t, err)

	err = f.svc.DeleteReceipt(cashier, receipt.ID, "Creada por error")
	assert.ErrorIs(t, err, store.ErrForbidden)

	require.NoError(t, f.svc.DeleteReceipt(admin, receipt.ID, ""))
	assert.Equal(t, 50, stockOf(t, f, "PALETA_FRESA"))
	assert.Equal(t, 50, stockOf(t, f, "CONO"))

	_, err = f.svc.GetReceipt(admin, receipt.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	logs, err := f.svc.ReceiptAudit(admin, receipt.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	var deleted domain.AuditLog
	for _, entry := range logs {
		if entry.Action == "delete_receipt" {
			deleted = entry
		}
	}
	assert.Equal(t, "Eliminado por ADMIN", deleted.Comment)

	kardex, err := f.svc.Kardex(admin, "CONO")
	require.NoError(t, err)
	last := kardex[len(kardex)-1]
	assert.Equal(t, domain.StockMoveKindReceiptDelete, last.Kind)
	assert.Equal(t, "Delete RC "+receipt.Code, last.Note)
}

func TestCashierDeletesOpenReceiptWithComment(t *testing.T) {
	f := newFixture(t)
	cashier := asRole(domain.RoleCashier)

	receipt, err := f.svc.CreateReceipt(cashier, fresaReceipt(1, 5))
	require.NoError(t, err)
	_, err = f.svc.UnlockReceipt(cashier, receipt.ID, "Recepción duplicada")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteReceipt(cashier, receipt.ID, ""), store.ErrInvalidInput)
	require.NoError(t, f.svc.DeleteReceipt(cashier, receipt.ID, "Recepción duplicada"))
	assert.Equal(t, 50, stockOf(t, f, "PALETA_FRESA"))
}

func TestListReceiptsOmitsItems(t *testing.T) {
	f := newFixture(t)
	ctx := asRole(domain.RoleCashier)

	_, err := f.svc.CreateReceipt(ctx, fresaReceipt(1, 1))
	require.NoError(t, err)

	receipts, err := f.svc.ListReceipts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Empty(t, receipts[0].Items)

	presets := f.svc.ReceiptPresets()
	assert.Contains(t, presets.Unlock, "Corrección de conteo")
	assert.NotEmpty(t, presets.DeleteReceipt)
}
