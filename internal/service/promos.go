package service

import (
	"context"
	"fmt"
	"time"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/promo"
	"paleteria/backend/internal/store"
)

// ListPromos returns the rules that would be evaluated right now, in
// evaluation order.
func (s *Service) ListPromos(ctx context.Context) ([]promo.Rule, error) {
	raw, err := s.rules.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load promos: %w", err)
	}
	return promo.Eligible(raw, s.now()), nil
}

// SavePromos replaces the whole rule set. Validation failures come back as
// *promo.ValidationError.
func (s *Service) SavePromos(ctx context.Context, req domain.PromoSetRequest) (domain.PromoSetResponse, error) {
	if _, err := requireRole(ctx, managerRoles...); err != nil {
		return domain.PromoSetResponse{}, err
	}
	if req.Promos == nil {
		return domain.PromoSetResponse{}, fmt.Errorf("%w: promos must be an array", store.ErrInvalidInput)
	}

	previous, err := s.rules.Load(ctx)
	if err != nil {
		return domain.PromoSetResponse{}, fmt.Errorf("load promos: %w", err)
	}

	rules := make([]promo.RawRule, len(req.Promos))
	copy(rules, req.Promos)
	if err := s.rules.Save(ctx, rules); err != nil {
		return domain.PromoSetResponse{}, err
	}

	s.logAudit(ctx, "promos", "save", "", map[string]any{"promos": previous}, map[string]any{"promos": rules}, "")
	return domain.PromoSetResponse{OK: true, Count: len(rules)}, nil
}

// ApplyPromos evaluates the current rule set against a cart without
// persisting anything.
func (s *Service) ApplyPromos(ctx context.Context, req domain.PromoApplyRequest) (domain.PromoApplyResponse, error) {
	if _, err := requireRole(ctx, sellerRoles...); err != nil {
		return domain.PromoApplyResponse{}, err
	}
	if req.Cart == nil {
		return domain.PromoApplyResponse{}, fmt.Errorf("%w: cart is required", store.ErrInvalidInput)
	}

	result, err := s.evaluate(ctx, "sandbox", *req.Cart)
	if err != nil {
		return domain.PromoApplyResponse{}, err
	}
	return domain.PromoApplyResponse{Cart: result.Cart, Applied: result.Applied}, nil
}

// evaluate loads the rule set and runs one engine pass at the service clock.
func (s *Service) evaluate(ctx context.Context, operation string, cart domain.Cart) (promo.Result, error) {
	raw, err := s.rules.Load(ctx)
	if err != nil {
		return promo.Result{}, fmt.Errorf("load promos: %w", err)
	}

	started := time.Now()
	result := promo.ApplyRaw(cart, raw, s.now())

	fired := make([]string, 0, len(result.Applied))
	for _, a := range result.Applied {
		fired = append(fired, a.Type)
	}
	s.metrics.ObserveEvaluation(operation, time.Since(started), fired)
	return result, nil
}
