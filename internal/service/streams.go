package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"sportstream-relay/internal/cache"
	"sportstream-relay/internal/client"
	"sportstream-relay/internal/config"
	"sportstream-relay/internal/metrics"
	"sportstream-relay/internal/model"
	"sportstream-relay/internal/store"
)

const (
	// finishedAfter is how long after kick-off a stream is reported finished.
	finishedAfter = 3 * time.Hour

	startTimeLayout = "1/2/2006, 3:04:05 PM"
	liveStreamsKey  = "live"
)

// emptyResults is returned for pass-through endpoints without results.
var emptyResults = model.RawResults("[]")

// StreamService serves live stream listings and match data from the sports API.
// Upstream listings are cached for the configured TTL and every supported
// stream with a play URL is recorded in the match store.
type StreamService struct {
	sports *client.SportsClient
	store  *store.Store
	cache  *cache.TTL[string, []model.RawStream]
	logger *slog.Logger
	now    func() time.Time
}

// NewStreamService creates a StreamService. The store is optional.
func NewStreamService(sc *client.SportsClient, st *store.Store, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *StreamService {
	ttl := time.Duration(cfg.Sports.CacheTTLSeconds) * time.Second
	return &StreamService{
		sports: sc,
		store:  st,
		cache:  cache.New[string, []model.RawStream](16, ttl, m),
		logger: logger.With("component", "stream_service"),
		now:    time.Now,
	}
}

// Sports returns the supported sports ordered by upstream id.
func (s *StreamService) Sports() []model.Sport {
	out := make([]model.Sport, 0, len(model.Sports))
	for _, sp := range model.Sports {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LiveStreams returns the supported live streams in client-facing form.
func (s *StreamService) LiveStreams(ctx context.Context) ([]model.LiveStream, error) {
	raw, err := s.rawStreams(ctx)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, &APIError{Status: http.StatusNotFound, Message: "No live streams found from API."}
	}

	now := s.now()
	out := make([]model.LiveStream, 0, len(raw))
	for i := range raw {
		sport, ok := model.SportByID(raw[i].SportID)
		if !ok {
			continue
		}
		out = append(out, toLiveStream(&raw[i], sport, now))
	}
	if len(out) == 0 {
		return nil, &APIError{Status: http.StatusNotFound, Message: "No football, baseball or American football streams found."}
	}
	return out, nil
}

// DashboardMatches returns every upstream stream in the admin dashboard shape.
func (s *StreamService) DashboardMatches(ctx context.Context) ([]model.DashboardMatch, error) {
	raw, err := s.rawStreams(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.DashboardMatch, 0, len(raw))
	for i := range raw {
		r := &raw[i]
		out = append(out, model.DashboardMatch{
			MatchID:   r.MatchID,
			SportID:   r.SportID,
			HomeTeam:  firstNonEmpty(r.HomeName, "Team A"),
			AwayTeam:  firstNonEmpty(r.AwayName, "Team B"),
			Sport:     firstNonEmpty(r.SportName, "Unknown"),
			MatchTime: r.MatchTime,
			StreamURL: optional(firstNonEmpty(r.PlayURL2, r.PlayURL1)),
		})
	}
	return out, nil
}

// Diary returns the upstream match diary for matchID.
func (s *StreamService) Diary(ctx context.Context, sport, matchID string) (model.RawResults, error) {
	if err := checkSport(sport); err != nil {
		return nil, err
	}
	if strings.TrimSpace(matchID) == "" {
		return nil, &APIError{Status: http.StatusBadRequest, Message: "Match id is required."}
	}
	return s.results(ctx, "/v1/"+sport+"/match/diary", url.Values{"uuid": {matchID}})
}

// MatchList returns the upstream match list for sport.
func (s *StreamService) MatchList(ctx context.Context, sport string) (model.RawResults, error) {
	if err := checkSport(sport); err != nil {
		return nil, err
	}
	return s.results(ctx, "/v1/"+sport+"/match/list", nil)
}

// Invalidate drops cached upstream listings so the next request refetches.
func (s *StreamService) Invalidate() {
	s.cache.Purge()
	s.logger.Info("stream cache invalidated")
}

func (s *StreamService) results(ctx context.Context, path string, query url.Values) (model.RawResults, error) {
	res, err := s.sports.Results(ctx, path, query)
	if err != nil {
		s.logger.Error("sports api request failed", "path", path, "err", client.Redact(err))
		return nil, upstreamAPIError("Failed to fetch match data", err)
	}
	if len(res) == 0 || string(res) == "null" {
		return emptyResults, nil
	}
	return res, nil
}

func (s *StreamService) rawStreams(ctx context.Context) ([]model.RawStream, error) {
	if cached, ok := s.cache.Get(liveStreamsKey); ok {
		return cached, nil
	}

	raw, err := s.sports.LiveStreams(ctx)
	if err != nil {
		s.logger.Error("fetch live streams failed", "err", client.Redact(err))
		return nil, upstreamAPIError("Failed to fetch live matches", err)
	}

	s.record(ctx, raw)
	if len(raw) > 0 {
		s.cache.Set(liveStreamsKey, raw)
	}
	return raw, nil
}

// record upserts supported streams with a play URL into the match store.
// Failures are logged; the listing is still served.
func (s *StreamService) record(ctx context.Context, raw []model.RawStream) {
	if s.store == nil {
		return
	}
	now := s.now()
	recorded := 0
	for i := range raw {
		r := &raw[i]
		sport, ok := model.SportByID(r.SportID)
		if !ok {
			continue
		}
		externalID := firstNonEmpty(r.ID, r.MatchID)
		streamURL := firstNonEmpty(r.PlayURL2, r.PlayURL1)
		if externalID == "" || streamURL == "" {
			continue
		}

		m := &model.Match{
			ExternalID: externalID,
			Sport:      sport.Name,
			SportID:    sport.ID,
			HomeTeam:   teamName(r.Home, r.HomeName),
			AwayTeam:   teamName(r.Away, r.AwayName),
			Status:     storedStatus(matchStatus(r, now)),
			StreamURL:  streamURL,
			League:     competition(r),
			IsVisible:  true,
		}
		if t, ok := r.MatchTime.Time(); ok {
			m.MatchDate = t
		}
		if err := s.store.UpsertMatch(ctx, m); err != nil {
			s.logger.Warn("record match failed", "external_id", externalID, "err", err)
			continue
		}
		recorded++
	}
	s.logger.Debug("recorded live streams", "count", recorded)
}

func toLiveStream(r *model.RawStream, sport model.Sport, now time.Time) model.LiveStream {
	startTime := "N/A"
	if t, ok := r.MatchTime.Time(); ok {
		startTime = t.UTC().Format(startTimeLayout)
	}
	return model.LiveStream{
		SportName:       sport.Slug,
		CompetitionName: competition(r),
		HomeName:        teamName(r.Home, r.HomeName),
		AwayName:        teamName(r.Away, r.AwayName),
		StartTime:       startTime,
		MatchStatus:     matchStatus(r, now),
		MatchID:         optional(r.ID),
		PlayURL1:        optional(r.PlayURL1),
		PlayURL2:        optional(r.PlayURL2),
		RawMatchTime:    r.MatchTime,
	}
}

// matchStatus derives the listing status from kick-off time and play URLs.
func matchStatus(r *model.RawStream, now time.Time) string {
	if r.PlayURL1 == "" && r.PlayURL2 == "" {
		return model.StatusFinished
	}
	start, ok := r.MatchTime.Time()
	if !ok {
		return model.StatusLive
	}
	switch diff := now.Sub(start); {
	case diff >= finishedAfter:
		return model.StatusFinished
	case diff < 0:
		return model.StatusUpcoming
	default:
		return model.StatusLive
	}
}

func storedStatus(status string) string {
	switch status {
	case model.StatusLive:
		return "Live"
	case model.StatusFinished:
		return "Finished"
	default:
		return "Scheduled"
	}
}

func checkSport(slug string) error {
	if _, ok := model.Sports[slug]; ok {
		return nil
	}
	return &APIError{Status: http.StatusBadRequest, Message: "This endpoint is only for football, baseball, amfootball."}
}

func upstreamAPIError(msg string, err error) *APIError {
	status := http.StatusInternalServerError
	var se *client.StatusError
	if errors.As(err, &se) {
		status = http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	return &APIError{Status: status, Message: msg, Err: err}
}

func competition(r *model.RawStream) string {
	return firstNonEmpty(r.Comp, r.CompetitionName, "Unknown")
}

func teamName(short, long string) string {
	return firstNonEmpty(short, long, "TBD")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
