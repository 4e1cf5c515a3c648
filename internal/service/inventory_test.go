package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/packs"
	"paleteria/backend/internal/promo/source"
	"paleteria/backend/internal/store"
	"paleteria/backend/internal/store/memory"
)

var cajaRule = domain.PackRule{From: "PALETA_FRESA_CAJA", To: "PALETA_FRESA", Factor: 24}

func newPackFixture(t *testing.T) fixture {
	t.Helper()
	repo := memory.NewSeeded()
	src := source.NewFileSource(filepath.Join(t.TempDir(), "promos.yaml"))
	svc := New(repo, src,
		WithClock(func() time.Time { return testNow }),
		WithPackRules(packs.Static{cajaRule}),
	)
	return fixture{svc: svc, repo: repo, rules: src}
}

func TestStockBySKUBreakdownAndRecent(t *testing.T) {
	f := newFixture(t)
	ctx := asRole(domain.RoleCashier)

	_, err := f.svc.CreateReceipt(ctx, fresaReceipt(2, 10))
	require.NoError(t, err)

	view, err := f.svc.StockBySKU(ctx, "paleta_fresa", 1)
	require.NoError(t, err)
	assert.Equal(t, "PALETA_FRESA", view.SKU)
	assert.Equal(t, "Paleta de fresa", view.Name)
	assert.Equal(t, 70, view.Stock)
	assert.Equal(t, map[string]int{domain.StockMoveKindReceipt: 70}, view.Breakdown)
	require.Len(t, view.Recent, 1)
	assert.Equal(t, 20, view.Recent[0].Qty)

	_, err = f.svc.StockBySKU(ctx, "NO_EXISTE", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.svc.StockBySKU(asRole("guest"), "PALETA_FRESA", 0)
	assert.ErrorIs(t, err, store.ErrForbidden)
}

func TestStockSummaryIsManagerOnly(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.StockSummary(asRole(domain.RoleCashier), "")
	assert.ErrorIs(t, err, store.ErrForbidden)

	all, err := f.svc.StockSummary(asRole(domain.RoleAdmin), "")
	require.NoError(t, err)
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].SKU, all[i].SKU)
	}

	one, err := f.svc.StockSummary(asRole(domain.RoleAdmin), "cono")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, domain.StockSummaryItem{SKU: "CONO", Name: "Cono sencillo", ControlType: domain.ControlUnit, Stock: 50}, one[0])
}

func TestKardexIsOldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := asRole(domain.RoleAdmin)

	receipt, err := f.svc.CreateReceipt(ctx, fresaReceipt(1, 6))
	require.NoError(t, err)

	moves, err := f.svc.Kardex(ctx, "PALETA_FRESA")
	require.NoError(t, err)
	require.Len(t, moves, 2)
	assert.Equal(t, "opening stock", moves[0].Note)
	assert.Equal(t, "RC "+receipt.Code, moves[1].Note)
	assert.Equal(t, receipt.Items[0].Lot.ID, moves[1].LotID)
}

func TestConvertUsesPackRules(t *testing.T) {
	f := newPackFixture(t)
	ctx := asRole(domain.RoleAdmin)

	rules, err := f.svc.PackRules(asRole(domain.RoleCashier))
	require.NoError(t, err)
	assert.Equal(t, []domain.PackRule{cajaRule}, rules)

	resp, err := f.svc.Convert(ctx, domain.ConvertRequest{FromSKU: "paleta_fresa_caja", Qty: 2})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.NotEmpty(t, resp.AuditID)
	assert.Equal(t, "static", resp.RuleSource)
	assert.Equal(t, cajaRule, resp.Rule)
	assert.Equal(t, domain.ConvertSide{SKU: "PALETA_FRESA_CAJA", Delta: -2, StockBefore: 50, StockAfter: 48}, resp.From)
	assert.Equal(t, domain.ConvertSide{SKU: "PALETA_FRESA", Delta: 48, StockBefore: 50, StockAfter: 98}, resp.To)

	assert.Equal(t, 48, stockOf(t, f, "PALETA_FRESA_CAJA"))
	assert.Equal(t, 98, stockOf(t, f, "PALETA_FRESA"))

	moves, err := f.svc.Kardex(ctx, "PALETA_FRESA")
	require.NoError(t, err)
	last := moves[len(moves)-1]
	assert.Equal(t, domain.StockMoveKindConvertIn, last.Kind)
	assert.Equal(t, "CONVERT PALETA_FRESA_CAJA->PALETA_FRESA x2 (factor 24)", last.Note)
}

func TestConvertChecksStockUnlessAllowed(t *testing.T) {
	f := newPackFixture(t)
	ctx := asRole(domain.RoleAdmin)

	_, err := f.svc.Convert(asRole(domain.RoleCashier), domain.ConvertRequest{FromSKU: "PALETA_FRESA_CAJA", Qty: 1})
	assert.ErrorIs(t, err, store.ErrForbidden)

	_, err = f.svc.Convert(ctx, domain.ConvertRequest{FromSKU: "PALETA_FRESA_CAJA", Qty: 51})
	require.ErrorIs(t, err, store.ErrInvalidInput)
	assert.Contains(t, err.Error(), "Stock insuficiente de PALETA_FRESA_CAJA. Actual: 50, requerido: 51")

	resp, err := f.svc.Convert(ctx, domain.ConvertRequest{FromSKU: "PALETA_FRESA_CAJA", Qty: 51, AllowNegative: true})
	require.NoError(t, err)
	assert.Equal(t, -1, resp.From.StockAfter)
	assert.Equal(t, -1, stockOf(t, f, "PALETA_FRESA_CAJA"))
}

func TestConvertFallsBackToRequestRule(t *testing.T) {
	f := newPackFixture(t)
	ctx := asRole(domain.RoleAdmin)

	_, err := f.svc.Convert(ctx, domain.ConvertRequest{FromSKU: "CONO_PAQ", Qty: 1})
	require.ErrorIs(t, err, store.ErrInvalidInput)
	assert.Contains(t, err.Error(), "no hay conversión definida para CONO_PAQ")

	resp, err := f.svc.Convert(ctx, domain.ConvertRequest{FromSKU: "CONO_PAQ", Qty: 1, ToSKU: "cono", Factor: 12})
	require.NoError(t, err)
	assert.Equal(t, "body", resp.RuleSource)
	assert.Equal(t, 62, resp.To.StockAfter)

	_, err = f.svc.Convert(ctx, domain.ConvertRequest{FromSKU: "CONO", Qty: 1, ToSKU: "CONO", Factor: 2})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = f.svc.Convert(ctx, domain.ConvertRequest{FromSKU: "CONO_PAQ", Qty: 1, ToSKU: "NO_EXISTE", Factor: 2})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = f.svc.Convert(ctx, domain.ConvertRequest{FromSKU: "CONO_PAQ", Qty: maxUnitsPerItem, ToSKU: "CONO", Factor: 12, AllowNegative: true})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestRevertConversionOnlyOnce(t *testing.T) {
	f := newPackFixture(t)
	ctx := asRole(domain.RoleAdmin)

	conv, err := f.svc.Convert(ctx, domain.ConvertRequest{FromSKU: "PALETA_FRESA_CAJA", Qty: 1})
	require.NoError(t, err)

	rev, err := f.svc.RevertConversion(ctx, domain.ConvertRevertRequest{AuditID: conv.AuditID})
	require.NoError(t, err)
	assert.Equal(t, conv.AuditID, rev.RevertsID)
	assert.Equal(t, domain.ConvertSide{SKU: "PALETA_FRESA_CAJA", Delta: 1, StockBefore: 49, StockAfter: 50}, rev.From)
	assert.Equal(t, domain.ConvertSide{SKU: "PALETA_FRESA", Delta: -24, StockBefore: 74, StockAfter: 50}, rev.To)
	assert.Equal(t, 50, stockOf(t, f, "PALETA_FRESA_CAJA"))
	assert.Equal(t, 50, stockOf(t, f, "PALETA_FRESA"))

	_, err = f.svc.RevertConversion(ctx, domain.ConvertRevertRequest{AuditID: conv.AuditID})
	assert.ErrorIs(t, err, store.ErrConflict)
	_, err = f.svc.RevertConversion(ctx, domain.ConvertRevertRequest{AuditID: rev.AuditID})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.svc.RevertConversion(ctx, domain.ConvertRevertRequest{AuditID: "audit_missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.svc.RevertConversion(ctx, domain.ConvertRevertRequest{})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	reverts, err := f.repo.FindAuditLogs(ctx, store.AuditFilter{Action: store.AuditActionConvertRevert})
	require.NoError(t, err)
	require.Len(t, reverts, 1)
	assert.Equal(t, "(sin comentario)", reverts[0].Comment)
}

func TestRevertNeedsTargetStock(t *testing.T) {
	f := newPackFixture(t)
	ctx := asRole(domain.RoleAdmin)

	conv, err := f.svc.Convert(ctx, domain.ConvertRequest{FromSKU: "PALETA_FRESA_CAJA", Qty: 3})
	require.NoError(t, err)
	_, err = f.svc.Convert(ctx, domain.ConvertRequest{FromSKU: "PALETA_FRESA", Qty: 100, ToSKU: "PALETA_MANGO", Factor: 1})
	require.NoError(t, err)

	_, err = f.svc.RevertConversion(ctx, domain.ConvertRevertRequest{AuditID: conv.AuditID})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = f.svc.RevertConversion(ctx, domain.ConvertRevertRequest{AuditID: conv.AuditID, AllowNegative: true, Comment: "conteo"})
	require.NoError(t, err)
	assert.Equal(t, 22-72, stockOf(t, f, "PALETA_FRESA"))
}

func TestConvertFromReceiptDrawsFromLot(t *testing.T) {
	f := newPackFixture(t)
	ctx := asRole(domain.RoleAdmin)

	receipt, err := f.svc.CreateReceipt(ctx, domain.ReceiptCreateRequest{Items: []domain.ReceiptItemRequest{
		{SKU: "PALETA_FRESA_CAJA", Packs: 3},
	}})
	require.NoError(t, err)
	item := receipt.Items[0]

	_, err = f.svc.ConvertFromReceipt(ctx, domain.ConvertFromReceiptRequest{ReceiptItemID: item.ID, Qty: 4})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = f.svc.ConvertFromReceipt(ctx, domain.ConvertFromReceiptRequest{ReceiptItemID: "missing", Qty: 1})
	assert.ErrorIs(t, err, store.ErrNotFound)

	conv, err := f.svc.ConvertFromReceipt(ctx, domain.ConvertFromReceiptRequest{ReceiptItemID: item.ID, Qty: 2})
	require.NoError(t, err)
	assert.Equal(t, item.ID, conv.ReceiptItemID)
	assert.Equal(t, item.Lot.ID, conv.LotID)
	assert.Equal(t, 98, stockOf(t, f, "PALETA_FRESA"))

	lots, err := f.svc.LotsBySKU(ctx, "PALETA_FRESA_CAJA")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, 2, lots[0].QtyUsed)
	assert.Equal(t, 1, lots[0].Available)

	entries, err := f.svc.ConversionLog(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Auto-convert from receiptItem "+item.ID, entries[0].Comment)

	_, err = f.svc.RevertConversion(ctx, domain.ConvertRevertRequest{AuditID: conv.AuditID})
	require.NoError(t, err)
	lots, err = f.svc.LotsBySKU(ctx, "PALETA_FRESA_CAJA")
	require.NoError(t, err)
	assert.Zero(t, lots[0].QtyUsed)
	assert.Equal(t, domain.LotStatusOpen, lots[0].Status)
}

func TestConversionLogMarksReverts(t *testing.T) {
	f := newPackFixture(t)
	ctx := asRole(domain.RoleAdmin)

	fresa, err := f.svc.Convert(ctx, domain.ConvertRequest{FromSKU: "PALETA_FRESA_CAJA", Qty: 1, Comment: "apertura"})
	require.NoError(t, err)
	cono, err := f.svc.Convert(ctx, domain.ConvertRequest{FromSKU: "CONO_PAQ", Qty: 1, ToSKU: "CONO", Factor: 12})
	require.NoError(t, err)
	_, err = f.svc.RevertConversion(ctx, domain.ConvertRevertRequest{AuditID: fresa.AuditID})
	require.NoError(t, err)

	_, err = f.svc.ConversionLog(asRole(domain.RoleCashier), "", 0)
	assert.ErrorIs(t, err, store.ErrForbidden)

	entries, err := f.svc.ConversionLog(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	byID := map[string]domain.ConversionLogEntry{}
	for _, e := range entries {
		byID[e.AuditID] = e
	}
	assert.True(t, byID[fresa.AuditID].Reverted)
	assert.Equal(t, "apertura", byID[fresa.AuditID].Comment)
	assert.Equal(t, -1, byID[fresa.AuditID].FromDelta)
	assert.Equal(t, 24, byID[fresa.AuditID].ToDelta)
	assert.False(t, byID[cono.AuditID].Reverted)
	assert.Equal(t, "body", byID[cono.AuditID].Source)
	assert.Equal(t, "user-admin", byID[cono.AuditID].UserCode)

	filtered, err := f.svc.ConversionLog(ctx, "cono", 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, cono.AuditID, filtered[0].AuditID)
}
