// Package history loads the stored trajectory a scan needs.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/tripwire/internal/domain"
)

// Service reads events for scans. Window rules need context on both sides
// of the requested range, so every load is widened by the lookback.
type Service struct {
	repo     domain.Repository
	lookback time.Duration
}

// NewService creates a new history service.
func NewService(repo domain.Repository, lookbackDays int) *Service {
	if lookbackDays < 0 {
		lookbackDays = 0
	}
	return &Service{
		repo:     repo,
		lookback: time.Duration(lookbackDays) * 24 * time.Hour,
	}
}

// Lookback is the widening applied to each side of a scan range.
func (s *Service) Lookback() time.Duration {
	return s.lookback
}

// Load returns the events a scan should evaluate, ordered by start.
func (s *Service) Load(ctx context.Context, req domain.ScanRequest) ([]domain.Event, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	if s.repo == nil {
		return nil, fmt.Errorf("no data source available")
	}
	if !req.Since.IsZero() && !req.Until.IsZero() && req.Until.Before(req.Since) {
		return nil, fmt.Errorf("scan range ends before it starts")
	}

	filter := domain.EventFilter{UserID: req.UserID}
	if !req.Since.IsZero() {
		filter.Since = req.Since.Add(-s.lookback)
	}
	if !req.Until.IsZero() {
		filter.Until = req.Until.Add(s.lookback)
	}

	events, err := s.repo.ListEvents(ctx, req.TenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	return events, nil
}

// InRange keeps findings whose primary event intersects the requested
// range. Context events loaded by the lookback can still appear as related
// events.
func InRange(findings []domain.Finding, events []domain.Event, req domain.ScanRequest) []domain.Finding {
	if req.Since.IsZero() && req.Until.IsZero() {
		return findings
	}

	byID := make(map[string]domain.TimeWindow, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev.Window
	}

	out := make([]domain.Finding, 0, len(findings))
	for _, f := range findings {
		w, ok := byID[f.PrimaryEventID]
		if !ok || intersects(w, req.Since, req.Until) {
			out = append(out, f)
		}
	}
	return out
}

func intersects(w domain.TimeWindow, since, until time.Time) bool {
	lo, hi := w.Start(), w.End()
	if hi.Before(lo) {
		lo, hi = hi, lo
	}
	if !since.IsZero() && hi.Before(since) {
		return false
	}
	if !until.IsZero() && lo.After(until) {
		return false
	}
	return true
}
