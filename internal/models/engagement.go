package models

import "time"

// EngagementSnapshot is the metric tuple captured at one instant.
type EngagementSnapshot struct {
	Likes       int `json:"likes"`
	Retweets    int `json:"retweets"`
	Quotes      int `json:"quotes"`
	Replies     int `json:"replies"`
	Impressions int `json:"impressions"`
}

// TimeSeriesPoint pairs a snapshot with its capture time.
type TimeSeriesPoint struct {
	Timestamp time.Time          `json:"timestamp"`
	Snapshot  EngagementSnapshot `json:"snapshot"`
}

// Engagement tracks per-post metrics: the latest aggregates plus an
// append-only time-series of snapshots.
type Engagement struct {
	PostIDX       string             `json:"postIdX"`
	PostIDLocal   string             `json:"postIdLocal"`
	UserID        string             `json:"userId"`
	Likes         int                `json:"likes"`
	Retweets      int                `json:"retweets"`
	Quotes        int                `json:"quotes"`
	Replies       int                `json:"replies"`
	Impressions   int                `json:"impressions"`
	HourlyMetrics []TimeSeriesPoint  `json:"hourlyMetrics"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// Latest returns the aggregates as a snapshot.
func (e *Engagement) Latest() EngagementSnapshot {
	return EngagementSnapshot{
		Likes:       e.Likes,
		Retweets:    e.Retweets,
		Quotes:      e.Quotes,
		Replies:     e.Replies,
		Impressions: e.Impressions,
	}
}

// BatchRefreshRequest names the posts to refresh in one call.
type BatchRefreshRequest struct {
	PostIDs []string `json:"postIds"`
}

// RefreshOutcome reports a per-post result for batch refreshes.
type RefreshOutcome struct {
	PostIDX string `json:"postIdX"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
