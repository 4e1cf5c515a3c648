// Package source loads and stores promotion rule sets.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"paleteria/backend/internal/cache"
	"paleteria/backend/internal/logger"
	"paleteria/backend/internal/promo"
)

type Source interface {
	Load(ctx context.Context) ([]promo.RawRule, error)
	Save(ctx context.Context, rules []promo.RawRule) error
}

// FileSource keeps the rule set in a YAML document of the form
// {promos: [...]}. The file and its directory are created on first use.
type FileSource struct {
	path string
	mu   sync.Mutex
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Path() string {
	return s.path
}

func (s *FileSource) Load(ctx context.Context) ([]promo.RawRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensure(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read promos file: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse promos file: %w", err)
	}

	list, _ := doc["promos"].([]any)
	rules := make([]promo.RawRule, 0, len(list))
	for _, item := range list {
		if rule, ok := item.(map[string]any); ok {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// Save validates rules and replaces the file atomically. Nothing is written
// when validation fails.
func (s *FileSource) Save(ctx context.Context, rules []promo.RawRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := promo.Validate(rules); err != nil {
		return err
	}
	if rules == nil {
		rules = []promo.RawRule{}
	}

	payload, err := yaml.Marshal(map[string]any{"promos": rules})
	if err != nil {
		return fmt.Errorf("encode promos: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path, payload)
}

func (s *FileSource) ensure() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat promos file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	return writeAtomic(s.path, []byte("promos: []\n"))
}

func writeAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create promos dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".promos-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp promos file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write promos file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync promos file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close promos file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace promos file: %w", err)
	}
	return nil
}

const cacheKey = "ruleset"

// CachedSource fronts another source with a rule-set cache. Cache failures
// are logged and fall through to the underlying source.
type CachedSource struct {
	next  Source
	cache cache.RuleSetCache
	ttl   time.Duration
	log   *logger.Logger
}

func NewCachedSource(next Source, c cache.RuleSetCache, ttl time.Duration, log *logger.Logger) Source {
	if ttl <= 0 || c == nil {
		return next
	}
	return &CachedSource{next: next, cache: c, ttl: ttl, log: log}
}

func (s *CachedSource) Load(ctx context.Context) ([]promo.RawRule, error) {
	rules, ok, err := s.cache.Get(ctx, cacheKey)
	if err != nil {
		s.log.Warn(ctx, "promo cache read failed", err)
	}
	if ok {
		return rules, nil
	}

	rules, err = s.next.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, cacheKey, rules, s.ttl); err != nil {
		s.log.Warn(ctx, "promo cache write failed", err)
	}
	return rules, nil
}

func (s *CachedSource) Save(ctx context.Context, rules []promo.RawRule) error {
	if err := s.next.Save(ctx, rules); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		s.log.Warn(ctx, "promo cache invalidation failed", err)
	}
	return nil
}
