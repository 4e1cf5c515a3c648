package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"paleteria/backend/internal/domain"
)

func (a *API) handleReceipts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 100)
		receipts, err := a.service.ListReceipts(r.Context(), limit)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": receipts})
	case http.MethodPost:
		var req domain.ReceiptCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, r, http.StatusBadRequest, err)
			return
		}

		receipt, err := a.service.CreateReceipt(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"receipt": receipt})
	default:
		a.writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleReceiptPresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, a.service.ReceiptPresets())
}

// handleReceiptActions serves /api/v1/receipts/{id}, /audit, /lock,
// /unlock, /items and /items/{itemId}.
func (a *API) handleReceiptActions(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/receipts/"), "/"), "/")
	id := strings.TrimSpace(parts[0])
	if id == "" || len(parts) > 3 {
		a.writeError(w, r, http.StatusBadRequest, errors.New("invalid receipt path"))
		return
	}

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && len(parts) == 1:
		a.handleReceipt(w, r, id)
	case action == "audit" && len(parts) == 2:
		if r.Method != http.MethodGet {
			a.writeMethodNotAllowed(w, r)
			return
		}
		logs, err := a.service.ReceiptAudit(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
	case (action == "lock" || action == "unlock") && len(parts) == 2:
		a.handleReceiptStatus(w, r, id, action)
	case action == "items" && len(parts) == 2:
		if r.Method != http.MethodPost {
			a.writeMethodNotAllowed(w, r)
			return
		}
		var req domain.ReceiptItemAddRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		receipt, err := a.service.AddReceiptItem(r.Context(), id, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"receipt": receipt})
	case action == "items" && len(parts) == 3:
		a.handleReceiptItem(w, r, id, parts[2])
	default:
		a.writeError(w, r, http.StatusNotFound, fmt.Errorf("unknown receipt action %q", action))
	}
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		receipt, err := a.service.GetReceipt(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"receipt": receipt})
	case http.MethodDelete:
		var req domain.CommentRequest
		if err := decodeOptionalJSON(r, &req); err != nil {
			a.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		if err := a.service.DeleteReceipt(r.Context(), id, req.Comment); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		a.writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleReceiptStatus(w http.ResponseWriter, r *http.Request, id string, action string) {
	if r.Method != http.MethodPatch {
		a.writeMethodNotAllowed(w, r)
		return
	}
	var req domain.CommentRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var (
		receipt domain.Receipt
		err     error
	)
	if action == "lock" {
		receipt, err = a.service.LockReceipt(r.Context(), id)
	} else {
		receipt, err = a.service.UnlockReceipt(r.Context(), id, req.Comment)
	}
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipt": receipt})
}

func (a *API) handleReceiptItem(w http.ResponseWriter, r *http.Request, id string, itemID string) {
	switch r.Method {
	case http.MethodPatch:
		var req domain.ReceiptItemUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		receipt, err := a.service.UpdateReceiptItem(r.Context(), id, itemID, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"receipt": receipt})
	case http.MethodDelete:
		var req domain.CommentRequest
		if err := decodeOptionalJSON(r, &req); err != nil {
			a.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		receipt, err := a.service.DeleteReceiptItem(r.Context(), id, itemID, req.Comment)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"receipt": receipt})
	default:
		a.writeMethodNotAllowed(w, r)
	}
}

func (a *API) handleInventoryStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}
	sku, ok := a.skuTail(w, r, "/api/v1/inventory/stock/")
	if !ok {
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 50)
	view, err := a.service.StockBySKU(r.Context(), sku, limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleInventoryKardex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}
	sku, ok := a.skuTail(w, r, "/api/v1/inventory/kardex/")
	if !ok {
		return
	}

	moves, err := a.service.Kardex(r.Context(), sku)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sku": strings.ToUpper(sku), "items": moves})
}

func (a *API) handleInventorySummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}
	items, err := a.service.StockSummary(r.Context(), r.URL.Query().Get("sku"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handlePackRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}
	rules, err := a.service.PackRules(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packs": rules})
}

func (a *API) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w, r)
		return
	}
	var req domain.ConvertRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.Convert(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleConvertFromReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w, r)
		return
	}
	var req domain.ConvertFromReceiptRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.ConvertFromReceipt(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleConversionLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)
	items, err := a.service.ConversionLog(r.Context(), r.URL.Query().Get("sku"), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleConvertRevert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w, r)
		return
	}
	var req domain.ConvertRevertRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.RevertConversion(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) skuTail(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	sku := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if sku == "" || strings.Contains(sku, "/") {
		a.writeError(w, r, http.StatusBadRequest, errors.New("sku required"))
		return "", false
	}
	return sku, true
}
