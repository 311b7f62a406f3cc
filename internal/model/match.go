package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Sport is an entry of the supported sports catalog.
type Sport struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Sports is the catalog of sports the relay lists streams for, keyed by slug.
var Sports = map[string]Sport{
	"football":   {ID: 1, Name: "Football", Slug: "football"},
	"baseball":   {ID: 2, Name: "Baseball", Slug: "baseball"},
	"amfootball": {ID: 6, Name: "American Football", Slug: "amfootball"},
}

// SportByID returns the catalog entry for an upstream sport id.
func SportByID(id int) (Sport, bool) {
	for _, s := range Sports {
		if s.ID == id {
			return s, true
		}
	}
	return Sport{}, false
}

// UnixTime is a unix timestamp the upstream encodes as either a number or a
// numeric string.
type UnixTime int64

// UnmarshalJSON accepts 1700000000, "1700000000" and null.
func (t *UnixTime) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*t = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		// Unparseable timestamps are treated as absent.
		*t = 0
		return nil
	}
	*t = UnixTime(n)
	return nil
}

// Time converts the timestamp; ok is false for the zero value.
func (t UnixTime) Time() (time.Time, bool) {
	if t == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(t), 0), true
}

// RawStream is one item of the upstream live stream listing.
type RawStream struct {
	ID              string   `json:"id"`
	MatchID         string   `json:"match_id"`
	SportID         int      `json:"sport_id"`
	SportName       string   `json:"sport_name"`
	Comp            string   `json:"comp"`
	CompetitionName string   `json:"competition_name"`
	Home            string   `json:"home"`
	Away            string   `json:"away"`
	HomeName        string   `json:"home_name"`
	AwayName        string   `json:"away_name"`
	MatchTime       UnixTime `json:"match_time"`
	PlayURL1        string   `json:"playurl1"`
	PlayURL2        string   `json:"playurl2"`
}

// Match status values reported for live streams.
const (
	StatusLive     = "LIVE"
	StatusUpcoming = "UPCOMING"
	StatusFinished = "FINISHED"
)

// LiveStream is the client-facing shape of a live stream listing item.
type LiveStream struct {
	SportName       string   `json:"sport_name"`
	CompetitionName string   `json:"competition_name"`
	HomeName        string   `json:"home_name"`
	AwayName        string   `json:"away_name"`
	StartTime       string   `json:"start_time"`
	MatchStatus     string   `json:"match_status"`
	MatchID         *string  `json:"match_id"`
	PlayURL1        *string  `json:"playurl1"`
	PlayURL2        *string  `json:"playurl2"`
	RawMatchTime    UnixTime `json:"raw_match_time"`
}

// DashboardMatch is the admin dashboard shape of a live stream.
type DashboardMatch struct {
	MatchID   string   `json:"matchId"`
	SportID   int      `json:"sportId"`
	HomeTeam  string   `json:"homeTeam"`
	AwayTeam  string   `json:"awayTeam"`
	Sport     string   `json:"sport"`
	MatchTime UnixTime `json:"matchTime"`
	StreamURL *string  `json:"streamUrl"`
}

// Match is a recorded match in the local store.
type Match struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"externalId"`
	Sport      string    `json:"sport"`
	SportID    int       `json:"sport_id"`
	HomeTeam   string    `json:"homeTeam"`
	AwayTeam   string    `json:"awayTeam"`
	Score      string    `json:"score"`
	Status     string    `json:"status"`
	StreamURL  string    `json:"streamUrl"`
	MatchDate  time.Time `json:"matchDate"`
	League     string    `json:"league,omitempty"`
	Venue      string    `json:"venue,omitempty"`
	IsVisible  bool      `json:"isVisible"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// AdminLog is an entry of the admin audit log.
type AdminLog struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Username  string    `json:"username"`
	RemoteIP  string    `json:"remote_ip"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// DayCount is a per-day stream count.
type DayCount struct {
	Date    string `json:"date"`
	Streams int    `json:"streams"`
}

// MonthCount is a per-month stream count.
type MonthCount struct {
	Month   string `json:"month"`
	Streams int    `json:"streams"`
}

// SportShare is a sport's share of all recorded streams, in percent.
type SportShare struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
}

// RawResults is an upstream payload passed through to clients verbatim.
type RawResults = json.RawMessage

// LiveStats summarizes recorded streams.
type LiveStats struct {
	TotalStreams int `json:"totalStreams"`
	ActiveSports int `json:"activeSports"`
}

// TrafficStats is the admin dashboard traffic summary.
type TrafficStats struct {
	Traffic int `json:"traffic"`
}

// AdminDashboard is the aggregated admin dashboard payload.
type AdminDashboard struct {
	Stats        TrafficStats     `json:"stats"`
	Streams      []MonthCount     `json:"streams"`
	MostStreamed []SportShare     `json:"mostStreamed"`
	Matches      []DashboardMatch `json:"matches"`
}
