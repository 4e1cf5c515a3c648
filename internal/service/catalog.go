package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/store"
	"paleteria/backend/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, managerRoles...)
	if err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.SKU == "" || req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.PriceCents < 0 || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	controlType := strings.TrimSpace(req.ControlType)
	if controlType == "" {
		controlType = domain.ControlUnit
	}
	if !isControlType(controlType) {
		return domain.Product{}, fmt.Errorf("%w: control type %q", store.ErrInvalidInput, controlType)
	}
	sellable := true
	if req.Sellable != nil {
		sellable = *req.Sellable
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:         req.SKU,
		Name:        req.Name,
		Category:    req.Category,
		PriceCents:  req.PriceCents,
		Tags:        normalizeTags(req.Tags),
		ControlType: controlType,
		Sellable:    sellable,
		Active:      true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	if req.InitialStock > 0 {
		err := s.repo.CreateStockMoves(ctx, []domain.StockMove{{
			ID:        xid.New("move"),
			SKU:       created.SKU,
			Kind:      domain.StockMoveKindReceipt,
			Qty:       req.InitialStock,
			UserCode:  actor.Username,
			Note:      "initial stock",
			CreatedAt: s.now().UTC(),
		}})
		if err != nil {
			return domain.Product{}, err
		}
		created.Stock += req.InitialStock
	}

	s.logAudit(ctx, "catalog", "product_create", created.SKU, nil, created, "")
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, sku string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, managerRoles...); err != nil {
		return domain.Product{}, err
	}

	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Category = category
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.Tags != nil {
		updated.Tags = normalizeTags(*req.Tags)
	}
	if req.ControlType != nil {
		if !isControlType(*req.ControlType) {
			return domain.Product{}, fmt.Errorf("%w: control type %q", store.ErrInvalidInput, *req.ControlType)
		}
		updated.ControlType = *req.ControlType
	}
	if req.Sellable != nil {
		updated.Sellable = *req.Sellable
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	result, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "catalog", "product_update", sku, existing, result, "")
	return *result, nil
}

func isControlType(v string) bool {
	switch v {
	case domain.ControlUnit, domain.ControlDirectSale, domain.ControlTechIceCream, domain.ControlTechTopping:
		return true
	}
	return false
}

// normalizeTags trims, drops empties and dedupes while keeping order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || slices.Contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}

func (s *Service) GetProduct(ctx context.Context, sku string) (domain.Product, error) {
	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	product, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}
