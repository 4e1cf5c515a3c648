package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"paleteria/backend/internal/promo"
	"paleteria/backend/internal/service"
	"paleteria/backend/internal/store"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON rejects unknown fields and runs struct validation on dest.
func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	if err := validate.Struct(dest); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("field %s failed %s validation", fe.Namespace(), fe.Tag())
		}
		return err
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty,
// such as DELETE with an optional comment.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(r, dest)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	a.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the cause of 5xx responses from clients and logs it.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		a.log.Error(r.Context(), fmt.Sprintf("internal error (status %d)", status), err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// writeServiceError maps service and store errors onto HTTP responses.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var notSellable *service.NotSellableError
	if errors.As(err, &notSellable) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "SKU no vendible en POS",
			"items": notSellable.Items,
		})
		return
	}

	var invalidRule *promo.ValidationError
	if errors.As(err, &invalidRule) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   invalidRule.Error(),
			"rule_id": invalidRule.RuleID,
			"field":   invalidRule.Field,
		})
		return
	}

	a.writeError(w, r, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, store.ErrNotSellable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
