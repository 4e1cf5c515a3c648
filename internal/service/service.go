package service

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/logger"
	"paleteria/backend/internal/metrics"
	"paleteria/backend/internal/packs"
	"paleteria/backend/internal/promo/source"
	"paleteria/backend/internal/store"
	"paleteria/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

var (
	sellerRoles  = []string{domain.RoleCashier, domain.RoleAdmin, domain.RoleSuperSU}
	managerRoles = []string{domain.RoleAdmin, domain.RoleSuperSU}
)

type Service struct {
	repo    store.Repository
	rules   source.Source
	metrics *metrics.POSMetrics
	log     *logger.Logger
	loc     *time.Location
	now     func() time.Time
	codes   *xid.SaleCodes
	packs   packs.Source
}

type Option func(*Service)

func WithMetrics(m *metrics.POSMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithLocation sets the zone used to cut report days.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithPackRules sets where pack conversion rules are read from.
func WithPackRules(src packs.Source) Option {
	return func(s *Service) {
		if src != nil {
			s.packs = src
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, rules source.Source, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		rules: rules,
		log:   logger.Nop(),
		loc:   time.UTC,
		now:   time.Now,
		codes: &xid.SaleCodes{},
		packs: packs.Static(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", store.ErrForbidden)
	}
	if !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, fmt.Errorf("%w: role %s not allowed", store.ErrForbidden, actor.Role)
	}
	return actor, nil
}

// logAudit never fails the caller; write errors are logged.
func (s *Service) logAudit(ctx context.Context, module string, action string, entityID string, before any, after any, comment string) {
	entry := s.auditEntry(ctx, module, action, entityID, before, after, comment)
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.log.Warn(s.log.WithFields(ctx, map[string]any{
			"module":    module,
			"action":    action,
			"entity_id": entityID,
		}), "failed to write audit log", err)
	}
}

func (s *Service) auditEntry(ctx context.Context, module string, action string, entityID string, before any, after any, comment string) domain.AuditLog {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	return domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Module:        module,
		Action:        action,
		EntityID:      entityID,
		Before:        encodeAudit(before),
		After:         encodeAudit(after),
		Comment:       comment,
		CreatedAt:     s.now().UTC(),
	}
}

func encodeAudit(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
