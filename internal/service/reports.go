package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/store"
)

const dateLayout = "2006-01-02"

// DailyReport aggregates the sales of one local calendar day. An empty date
// means today.
func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	if _, err := requireRole(ctx, managerRoles...); err != nil {
		return domain.DailyReport{}, err
	}

	from, to, err := s.dayBounds(date)
	if err != nil {
		return domain.DailyReport{}, err
	}

	report, err := s.repo.GetDailyReport(ctx, from, to)
	if err != nil {
		return domain.DailyReport{}, fmt.Errorf("daily report: %w", err)
	}
	report.Date = from.Format(dateLayout)
	if report.ByPromo == nil {
		report.ByPromo = []domain.DailyReportPromo{}
	}
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, managerRoles...); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	var from, to time.Time
	if strings.TrimSpace(date) == "" {
		to = s.now().UTC().Add(time.Minute)
		from = to.Add(-24*time.Hour - time.Minute)
	} else {
		var err error
		from, to, err = s.dayBounds(date)
		if err != nil {
			return nil, err
		}
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// dayBounds returns [start, next start) of the day in the service location.
func (s *Service) dayBounds(date string) (time.Time, time.Time, error) {
	var day time.Time
	if strings.TrimSpace(date) == "" {
		now := s.now().In(s.loc)
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	} else {
		parsed, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), s.loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		day = parsed
	}
	return day, day.AddDate(0, 0, 1), nil
}
