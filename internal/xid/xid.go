package xid

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed, time-sortable identifier such as
// "sale-0190f4c2-...". UUIDv7 falls back to v4 if the clock source fails.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	if prefix == "" {
		return id.String()
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// SaleCode is the human-facing ticket code, SAL-<unix millis>.
func SaleCode(at time.Time) string {
	return fmt.Sprintf("SAL-%d", at.UnixMilli())
}

// SaleCodes hands out SaleCode values that never repeat within a process,
// bumping the millisecond when two sales land in the same one.
type SaleCodes struct {
	mu   sync.Mutex
	last int64
}

func (g *SaleCodes) Next(at time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := at.UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return SaleCode(time.UnixMilli(ms))
}
