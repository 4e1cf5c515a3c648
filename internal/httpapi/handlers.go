package httpapi

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/service"
)

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.ListProducts(r.Context())
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, r, http.StatusBadRequest, err)
			return
		}

		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		a.writeMethodNotAllowed(w, r)
	}
}

// handleProductActions serves /api/v1/products/{sku} and /{sku}/lots.
func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/products/"), "/"), "/")
	sku := strings.TrimSpace(parts[0])
	if sku == "" || len(parts) > 2 {
		a.writeError(w, r, http.StatusBadRequest, errors.New("product sku required"))
		return
	}

	if len(parts) == 2 {
		if parts[1] != "lots" {
			a.writeError(w, r, http.StatusNotFound, fmt.Errorf("unknown product action %q", parts[1]))
			return
		}
		if r.Method != http.MethodGet {
			a.writeMethodNotAllowed(w, r)
			return
		}
		lots, err := a.service.LotsBySKU(r.Context(), sku)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": lots})
		return
	}

	switch r.Method {
	case http.MethodGet:
		product, err := a.service.GetProduct(r.Context(), sku)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	case http.MethodPatch:
		var req domain.ProductUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, r, http.StatusBadRequest, err)
			return
		}

		updated, err := a.service.UpdateProduct(r.Context(), sku, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": updated})
	default:
		a.writeMethodNotAllowed(w, r)
	}
}

func (a *API) handlePromos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rules, err := a.service.ListPromos(r.Context())
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"promos": rules})
	case http.MethodPost:
		var req domain.PromoSetRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, r, http.StatusBadRequest, err)
			return
		}

		resp, err := a.service.SavePromos(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		a.writeMethodNotAllowed(w, r)
	}
}

func (a *API) handlePromoApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w, r)
		return
	}

	var req domain.PromoApplyRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.ApplyPromos(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSaleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w, r)
		return
	}

	var req domain.QuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.QuoteSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSaleCommit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w, r)
		return
	}

	var req domain.CommitRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.CommitSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 100)
	sales, err := a.service.ListSales(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": sales})
}

// handleSaleActions serves /api/v1/sales/{id}, /moves and /receipt.
func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}

	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/sales/"), "/")
	parts := strings.Split(tail, "/")
	id := strings.TrimSpace(parts[0])
	if id == "" || len(parts) > 2 {
		a.writeError(w, r, http.StatusBadRequest, errors.New("invalid sale path"))
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		detail, err := a.service.GetSale(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	case "moves":
		moves, err := a.service.SaleMoves(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": moves})
	case "receipt":
		receipt, err := a.service.SaleReceipt(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	default:
		a.writeError(w, r, http.StatusNotFound, fmt.Errorf("unknown sale action %q", action))
	}
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}

	date := r.URL.Query().Get("date")
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))

	report, err := a.service.DailyReport(r.Context(), date)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	switch format {
	case "csv":
		body, err := dailyReportToCSV(report)
		if err != nil {
			a.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"daily-report-%s.csv\"", report.Date))
		_, _ = w.Write(body)
	case "", "json":
		writeJSON(w, http.StatusOK, report)
	default:
		a.writeError(w, r, http.StatusBadRequest, fmt.Errorf("unsupported format %q", format))
	}
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}

	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
	case http.MethodPost:
		var req domain.UserCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, r, http.StatusBadRequest, err)
			return
		}

		actor, _ := service.ActorFromContext(r.Context())
		user, err := a.auth.CreateUser(r.Context(), actor, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		a.writeMethodNotAllowed(w, r)
	}
}

// dailyReportToCSV renders section,key,value rows; money columns carry
// both cents and a formatted peso amount.
func dailyReportToCSV(report domain.DailyReport) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	rows := [][]string{
		{"section", "key", "value", "display"},
		{"summary", "date", report.Date, ""},
		{"summary", "sales", strconv.FormatInt(report.Sales, 10), ""},
		{"summary", "gross_cents", strconv.FormatInt(report.GrossCents, 10), service.FormatMoney(report.GrossCents)},
		{"summary", "discount_cents", strconv.FormatInt(report.DiscountCents, 10), service.FormatMoney(report.DiscountCents)},
		{"summary", "net_cents", strconv.FormatInt(report.NetCents, 10), service.FormatMoney(report.NetCents)},
	}
	for _, p := range report.ByPromo {
		rows = append(rows,
			[]string{"promo:" + p.RuleID, "name", p.Name, ""},
			[]string{"promo:" + p.RuleID, "times", strconv.FormatInt(p.Times, 10), ""},
			[]string{"promo:" + p.RuleID, "amount_cents", strconv.FormatInt(p.AmountCents, 10), service.FormatMoney(p.AmountCents)},
			[]string{"promo:" + p.RuleID, "gift_units", strconv.FormatInt(p.GiftUnitsQty, 10), ""},
		)
	}

	if err := cw.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
