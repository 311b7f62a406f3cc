package store

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"

	"sportstream-relay/internal/model"
)

var monthNames = [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// UpsertMatch records m, keyed by its external id. An existing row keeps its
// id and creation time; its teams, status and stream URL are refreshed.
func (s *Store) UpsertMatch(ctx context.Context, m *model.Match) error {
	now := s.now()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.MatchDate.IsZero() {
		m.MatchDate = now
	}
	if m.Score == "" {
		m.Score = "N/A"
	}
	if m.Status == "" {
		m.Status = "Scheduled"
	}
	m.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matches (id, external_id, sport, sport_id, home_team, away_team, score, status,
			stream_url, match_date, league, venue, is_visible, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			home_team = excluded.home_team,
			away_team = excluded.away_team,
			status = excluded.status,
			stream_url = excluded.stream_url,
			match_date = excluded.match_date,
			updated_at = excluded.updated_at`,
		m.ID, m.ExternalID, m.Sport, m.SportID, m.HomeTeam, m.AwayTeam, m.Score, m.Status,
		m.StreamURL, formatTime(m.MatchDate), m.League, m.Venue, m.IsVisible,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert match %s: %w", m.ExternalID, err)
	}
	return nil
}

// CountMatches returns the number of recorded matches.
func (s *Store) CountMatches(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM matches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count matches: %w", err)
	}
	return n, nil
}

// CountSports returns the number of distinct sports among recorded matches.
func (s *Store) CountSports(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT sport) FROM matches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sports: %w", err)
	}
	return n, nil
}

// StreamsPerDay returns recorded matches grouped by creation day, oldest first.
func (s *Store) StreamsPerDay(ctx context.Context) ([]model.DayCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m-%d', created_at) AS day, COUNT(*)
		FROM matches GROUP BY day ORDER BY day`)
	if err != nil {
		return nil, fmt.Errorf("streams per day: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.DayCount{}
	for rows.Next() {
		var d model.DayCount
		if err := rows.Scan(&d.Date, &d.Streams); err != nil {
			return nil, fmt.Errorf("streams per day: scan: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// StreamsPerMonth returns recorded matches grouped by calendar month of creation.
func (s *Store) StreamsPerMonth(ctx context.Context) ([]model.MonthCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strftime('%m', created_at) AS month, COUNT(*)
		FROM matches GROUP BY month ORDER BY month`)
	if err != nil {
		return nil, fmt.Errorf("streams per month: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.MonthCount{}
	for rows.Next() {
		var (
			month string
			n     int
		)
		if err := rows.Scan(&month, &n); err != nil {
			return nil, fmt.Errorf("streams per month: scan: %w", err)
		}
		idx, err := strconv.Atoi(month)
		if err != nil || idx < 1 || idx > 12 {
			continue
		}
		out = append(out, model.MonthCount{Month: monthNames[idx-1], Streams: n})
	}
	return out, rows.Err()
}

// SportShares returns each sport's share of recorded matches, largest first,
// rounded to one decimal place.
func (s *Store) SportShares(ctx context.Context) ([]model.SportShare, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sport, COUNT(*) AS n FROM matches GROUP BY sport ORDER BY n DESC, sport`)
	if err != nil {
		return nil, fmt.Errorf("sport shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type count struct {
		sport string
		n     int
	}
	var (
		counts []count
		total  int
	)
	for rows.Next() {
		var c count
		if err := rows.Scan(&c.sport, &c.n); err != nil {
			return nil, fmt.Errorf("sport shares: scan: %w", err)
		}
		counts = append(counts, c)
		total += c.n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.SportShare, 0, len(counts))
	for _, c := range counts {
		pct := 0.0
		if total > 0 {
			pct = math.Round(float64(c.n)/float64(total)*1000) / 10
		}
		out = append(out, model.SportShare{Name: c.sport, Percentage: pct})
	}
	return out, nil
}

// VisibleMatchesBySport returns visible recorded matches for an upstream sport id.
func (s *Store) VisibleMatchesBySport(ctx context.Context, sportID int) ([]model.Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_id, sport, sport_id, home_team, away_team, score, status,
			stream_url, match_date, league, venue, is_visible, created_at, updated_at
		FROM matches WHERE sport_id = ? AND is_visible = 1
		ORDER BY match_date DESC`, sportID)
	if err != nil {
		return nil, fmt.Errorf("matches by sport: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.Match{}
	for rows.Next() {
		var (
			m                           model.Match
			matchDate, created, updated string
		)
		if err := rows.Scan(&m.ID, &m.ExternalID, &m.Sport, &m.SportID, &m.HomeTeam, &m.AwayTeam,
			&m.Score, &m.Status, &m.StreamURL, &matchDate, &m.League, &m.Venue, &m.IsVisible,
			&created, &updated); err != nil {
			return nil, fmt.Errorf("matches by sport: scan: %w", err)
		}
		m.MatchDate = parseTime(matchDate)
		m.CreatedAt = parseTime(created)
		m.UpdatedAt = parseTime(updated)
		out = append(out, m)
	}
	return out, rows.Err()
}
