package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("PALETERIA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set PALETERIA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestSaleRoundTripAndDailyReport(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	sku := fmt.Sprintf("PALETA-IT-%d", stamp)
	saleID := fmt.Sprintf("sale-it-%d", stamp)
	code := fmt.Sprintf("SAL-IT-%d", stamp)
	createdAt := time.Now().UTC().Truncate(time.Microsecond)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_moves WHERE sku = $1`, sku)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE sku = $1`, sku)
	})

	_, err := s.CreateProduct(ctx, domain.Product{
		SKU: sku, Name: "Paleta IT", Category: "paletas", PriceCents: 2500,
		Tags: []string{"paleta", "agua"}, ControlType: domain.ControlUnit, Sellable: true, Active: true,
	})
	require.NoError(t, err)

	_, err = s.CreateProduct(ctx, domain.Product{SKU: sku, Name: "dup", PriceCents: 1})
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, s.CreateStockMoves(ctx, []domain.StockMove{
		{SKU: sku, Kind: domain.StockMoveKindReceipt, Qty: 10, UserCode: "it"},
	}))

	product, err := s.GetProductBySKU(ctx, sku)
	require.NoError(t, err)
	assert.Equal(t, 10, product.Stock)
	assert.Equal(t, []string{"paleta", "agua"}, product.Tags)

	_, err = s.CreateSale(ctx, domain.Sale{
		ID: saleID, Code: code, UserCode: "cajero", Currency: domain.DefaultCurrency,
		TotalGross: 7500, TotalDiscount: 2500, TotalNet: 5000, CreatedAt: createdAt,
		Lines: []domain.SaleLine{
			{SKU: sku, Name: "Paleta IT", Qty: 3, UnitPrice: 2500, Tags: []string{"paleta"}},
			{SKU: "DISC-1", Name: "2x1 paletas", Qty: 1, UnitPrice: -2500, Tags: []string{domain.TagPromoDiscount}},
			{SKU: sku, Name: "Paleta IT", Qty: 1, UnitPrice: 0, IsGift: true, Tags: []string{domain.TagPromoGift}},
		},
		Promos: []domain.SalePromo{
			{RuleID: "bogo-it", Name: "2x1 paletas", Amount: 2500},
			{RuleID: "combo-it", Name: "Regalo", Amount: 0, Meta: `{"giftSku":"` + sku + `","giftQty":1}`},
		},
	})
	require.NoError(t, err)

	require.NoError(t, s.CreateStockMoves(ctx, []domain.StockMove{
		{SKU: sku, Kind: domain.StockMoveKindSale, Qty: -3, UserCode: "cajero", SaleID: saleID},
	}))

	got, err := s.GetSale(ctx, saleID)
	require.NoError(t, err)
	assert.Equal(t, code, got.Code)
	require.Len(t, got.Lines, 3)
	assert.Equal(t, "DISC-1", got.Lines[1].SKU)
	assert.True(t, got.Lines[2].IsGift)
	require.Len(t, got.Promos, 2)
	assert.JSONEq(t, "{}", got.Promos[0].Meta)

	moves, err := s.ListStockMovesBySale(ctx, saleID)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, -3, moves[0].Qty)

	report, err := s.GetDailyReport(ctx, createdAt.Add(-time.Second), createdAt.Add(time.Second))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.Sales, int64(1))

	var combo *domain.DailyReportPromo
	for i := range report.ByPromo {
		if report.ByPromo[i].RuleID == "combo-it" {
			combo = &report.ByPromo[i]
		}
	}
	require.NotNil(t, combo)
	assert.Equal(t, int64(1), combo.Times)
	assert.Equal(t, int64(1), combo.GiftUnitsQty)

	_, err = s.GetSale(ctx, "missing-"+saleID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReceiptLotsAndRevertOnce(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	sku := fmt.Sprintf("CAJA-IT-%d", stamp)
	receiptID := fmt.Sprintf("rcpt-it-%d", stamp)
	convertID := fmt.Sprintf("audit-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_moves WHERE sku = $1`, sku)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM receipts WHERE id = $1`, receiptID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE id = $1 OR entity_id = $1`, convertID)
	})

	receipt := domain.Receipt{
		ID: receiptID, Code: "RC-IT-" + receiptID, UserCode: "it", Status: domain.ReceiptStatusLocked,
		Items: []domain.ReceiptItem{{
			ID: receiptID + "-item", SKU: sku, Packs: 2, UnitsPerPack: 5, UnitsTotal: 10,
			Lot: &domain.Lot{ID: receiptID + "-lot", Code: "LOT-" + receiptID, QtyTotal: 10},
		}},
	}
	created, err := s.CreateReceipt(ctx, receipt, []domain.StockMove{
		{SKU: sku, Kind: domain.StockMoveKindReceipt, Qty: 10, UserCode: "it", ReceiptID: receiptID, LotID: receiptID + "-lot"},
	})
	require.NoError(t, err)
	require.Len(t, created.Items, 1)
	require.NotNil(t, created.Items[0].Lot)
	assert.Equal(t, 10, created.Items[0].Lot.Available)

	_, err = s.CreateReceipt(ctx, receipt, nil)
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, s.ApplyInventoryWrite(ctx, store.InventoryWrite{
		Moves: []domain.StockMove{{SKU: sku, Kind: domain.StockMoveKindConvertOut, Qty: -4, UserCode: "it"}},
		Audit: domain.AuditLog{ID: convertID, Module: "inventory", Action: "convert", EntityID: convertID},
		LotID: receiptID + "-lot", LotUsed: 4,
	}))
	err = s.ApplyInventoryWrite(ctx, store.InventoryWrite{LotID: receiptID + "-lot", LotUsed: 7})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	lots, err := s.ListLotsBySKU(ctx, sku)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, 4, lots[0].QtyUsed)
	assert.Equal(t, 6, lots[0].Available)

	revert := store.InventoryWrite{
		Moves: []domain.StockMove{{SKU: sku, Kind: domain.StockMoveKindRevertIn, Qty: 4, UserCode: "it"}},
		Audit: domain.AuditLog{Module: "inventory", Action: store.AuditActionConvertRevert, EntityID: convertID},
		LotID: receiptID + "-lot", LotUsed: -4,
	}
	require.NoError(t, s.ApplyInventoryWrite(ctx, revert))
	assert.ErrorIs(t, s.ApplyInventoryWrite(ctx, revert), store.ErrConflict)

	moves, err := s.ListStockMovesBySKU(ctx, sku)
	require.NoError(t, err)
	assert.Len(t, moves, 3)

	found, err := s.FindAuditLogs(ctx, store.AuditFilter{Module: "inventory", EntityID: convertID})
	require.NoError(t, err)
	assert.Len(t, found, 2)
}
