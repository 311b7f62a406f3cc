package service

import (
	"context"
	"fmt"

	"sportstream-relay/internal/model"
	"sportstream-relay/internal/store"
)

// DashboardService serves aggregate statistics over recorded matches.
type DashboardService struct {
	store *store.Store
}

// NewDashboardService creates a DashboardService.
func NewDashboardService(st *store.Store) *DashboardService {
	return &DashboardService{store: st}
}

// LiveStats returns the number of recorded streams and distinct sports.
func (d *DashboardService) LiveStats(ctx context.Context) (model.LiveStats, error) {
	total, err := d.store.CountMatches(ctx)
	if err != nil {
		return model.LiveStats{}, fmt.Errorf("live stats: %w", err)
	}
	sports, err := d.store.CountSports(ctx)
	if err != nil {
		return model.LiveStats{}, fmt.Errorf("live stats: %w", err)
	}
	return model.LiveStats{TotalStreams: total, ActiveSports: sports}, nil
}

// StreamsPerDay returns the per-day recorded stream series.
func (d *DashboardService) StreamsPerDay(ctx context.Context) ([]model.DayCount, error) {
	return d.store.StreamsPerDay(ctx)
}

// MostStreamedSports returns each sport's share of recorded streams.
func (d *DashboardService) MostStreamedSports(ctx context.Context) ([]model.SportShare, error) {
	return d.store.SportShares(ctx)
}

// MatchesBySport returns visible recorded matches for an upstream sport id.
func (d *DashboardService) MatchesBySport(ctx context.Context, sportID int) ([]model.Match, error) {
	return d.store.VisibleMatchesBySport(ctx, sportID)
}
