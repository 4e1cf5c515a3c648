// Package packs reads the pack conversion rules, e.g. one box of
// PALETA_FRESA_CAJA becomes 24 PALETA_FRESA.
package packs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"paleteria/backend/internal/domain"
)

type Source interface {
	Rules(ctx context.Context) ([]domain.PackRule, error)
	// Name identifies where the rules came from in conversion audits.
	Name() string
}

// FileSource reads {packs: [{from, to, factor}]} on every call. Spanish
// keys de, a and unidades are accepted. A missing file means no rules.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string {
	return "packs.yaml"
}

func (s *FileSource) Rules(ctx context.Context) ([]domain.PackRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.PackRule{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read packs file: %w", err)
	}
	return Parse(raw)
}

// Parse drops entries without both SKUs or with a factor below 1.
func Parse(raw []byte) ([]domain.PackRule, error) {
	var doc struct {
		Packs []map[string]any `yaml:"packs"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse packs file: %w", err)
	}

	rules := make([]domain.PackRule, 0, len(doc.Packs))
	for _, entry := range doc.Packs {
		rule := domain.PackRule{
			From:   str(first(entry, "from", "de")),
			To:     str(first(entry, "to", "a")),
			Factor: toFactor(first(entry, "factor", "unidades")),
		}
		if rule.From == "" || rule.To == "" || rule.Factor < 1 {
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Find returns the first rule converting from sku.
func Find(rules []domain.PackRule, sku string) (domain.PackRule, bool) {
	for _, rule := range rules {
		if rule.From == sku {
			return rule, true
		}
	}
	return domain.PackRule{}, false
}

func first(entry map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := entry[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func toFactor(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		if math.IsNaN(n) || n < 1 || n > math.MaxInt32 {
			return 0
		}
		return int(math.Floor(n))
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return parsed
	}
	return 0
}

// Static serves a fixed rule list.
type Static []domain.PackRule

func (s Static) Rules(context.Context) ([]domain.PackRule, error) {
	return append([]domain.PackRule(nil), s...), nil
}

func (Static) Name() string {
	return "static"
}
