// Package v1 defines the wire types of the banditd HTTP API.
//
// The package is import-safe for external clients: it carries no server
// dependencies, only request and response shapes.
package v1

import "time"

// DecisionRequest asks for one action selection.
//
// Context arrives per half as either a precomputed embedding or raw text;
// when text is given the server embeds it, and when both are given the
// embedding wins. time_bucket and day_of_week default to the server's
// current time when omitted.
type DecisionRequest struct {
	Platform          string    `json:"platform"`
	TimeBucket        string    `json:"time_bucket,omitempty"`
	DayOfWeek         *int      `json:"day_of_week,omitempty"`
	BusinessEmbedding []float64 `json:"business_embedding,omitempty"`
	TopicEmbedding    []float64 `json:"topic_embedding,omitempty"`
	BusinessText      string    `json:"business_text,omitempty"`
	TopicText         string    `json:"topic_text,omitempty"`
}

// ValueProbability is one candidate value with its score and sampling
// probability.
type ValueProbability struct {
	Value       string  `json:"value"`
	Score       float64 `json:"score"`
	Probability float64 `json:"probability"`
}

// DimensionDistribution is the full distribution one dimension was sampled
// from, plus the chosen value and the distribution's entropy.
type DimensionDistribution struct {
	Dimension    string             `json:"dimension"`
	Chosen       string             `json:"chosen"`
	Distribution []ValueProbability `json:"distribution"`
	Entropy      float64            `json:"entropy"`
}

// DecisionResponse is the result of POST /v1/decisions.
type DecisionResponse struct {
	DecisionID    string                  `json:"decision_id"`
	PostID        string                  `json:"post_id"`
	Platform      string                  `json:"platform"`
	TimeBucket    string                  `json:"time_bucket"`
	DayOfWeek     int                     `json:"day_of_week"`
	Action        map[string]string       `json:"action"`
	Probabilities []DimensionDistribution `json:"probabilities"`
	CreatedAt     time.Time               `json:"created_at"`
}

// PublishRequest confirms a post went live. published_at defaults to the
// server's current time when omitted.
type PublishRequest struct {
	PublishedAt *time.Time `json:"published_at,omitempty"`
	MediaID     string     `json:"media_id"`
}

// EngagementSnapshot is one engagement reading at a decay bucket.
// taken_at defaults to the server's current time when omitted.
type EngagementSnapshot struct {
	BucketHours int        `json:"bucket_hours"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	Likes       int64      `json:"likes"`
	Comments    int64      `json:"comments"`
	Shares      int64      `json:"shares"`
	Saves       int64      `json:"saves"`
	Replies     int64      `json:"replies"`
	Retweets    int64      `json:"retweets"`
	Reactions   int64      `json:"reactions"`
	Followers   int64      `json:"followers"`
}

// SnapshotRequest appends engagement snapshots to a post.
type SnapshotRequest struct {
	Snapshots []EngagementSnapshot `json:"snapshots"`
}

// SnapshotResponse reports how many snapshots were stored.
type SnapshotResponse struct {
	PostID string `json:"post_id"`
	Added  int    `json:"added"`
}

// DeleteRequest reports the post was deleted on-platform. deleted_at
// defaults to the server's current time when omitted.
type DeleteRequest struct {
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// LearnResponse reports one applied learning pass.
type LearnResponse struct {
	PostID    string    `json:"post_id"`
	Platform  string    `json:"platform"`
	Reward    float64   `json:"reward"`
	Baseline  float64   `json:"baseline"`
	Advantage float64   `json:"advantage"`
	LearnedAt time.Time `json:"learned_at"`
}

// Outcome is the learned outcome attached to a finished post.
type Outcome struct {
	Reward    float64   `json:"reward"`
	Baseline  float64   `json:"baseline"`
	Advantage float64   `json:"advantage"`
	LearnedAt time.Time `json:"learned_at"`
}

// PostResponse is one ledger record. The stored context vector stays
// internal.
type PostResponse struct {
	PostID      string            `json:"post_id"`
	DecisionID  string            `json:"decision_id"`
	Platform    string            `json:"platform"`
	TimeBucket  string            `json:"time_bucket"`
	DayOfWeek   int               `json:"day_of_week"`
	Action      map[string]string `json:"action"`
	MediaID     string            `json:"media_id,omitempty"`
	Status      string            `json:"status"`
	Attempts    int               `json:"attempts"`
	CreatedAt   time.Time         `json:"created_at"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	EligibleAt  *time.Time        `json:"eligible_at,omitempty"`
	DeletedAt   *time.Time        `json:"deleted_at,omitempty"`
	Outcome     *Outcome          `json:"outcome,omitempty"`
}

// PreferenceCell is one learned preference entry of a posting slot.
type PreferenceCell struct {
	Dimension string    `json:"dimension"`
	Value     string    `json:"value"`
	Score     float64   `json:"score"`
	Samples   int64     `json:"samples"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PreferencesResponse is the learned preference table of one posting slot.
type PreferencesResponse struct {
	Platform   string           `json:"platform"`
	TimeBucket string           `json:"time_bucket"`
	DayOfWeek  int              `json:"day_of_week"`
	Cells      []PreferenceCell `json:"cells"`
}

// BaselineEntry is one platform's EMA reward baseline.
type BaselineEntry struct {
	Platform  string    `json:"platform"`
	Value     float64   `json:"value"`
	Samples   int64     `json:"samples"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BaselinesResponse lists every tracked platform baseline.
type BaselinesResponse struct {
	Baselines []BaselineEntry `json:"baselines"`
}

// SimilarDecision is one decision-log neighbor.
type SimilarDecision struct {
	DecisionID string            `json:"decision_id"`
	PostID     string            `json:"post_id"`
	Platform   string            `json:"platform"`
	TimeBucket string            `json:"time_bucket"`
	DayOfWeek  int               `json:"day_of_week"`
	Action     map[string]string `json:"action"`
	Similarity float64           `json:"similarity"`
	CreatedAt  time.Time         `json:"created_at"`
}

// SimilarDecisionsResponse answers GET /v1/decisions/similar.
type SimilarDecisionsResponse struct {
	PostID    string            `json:"post_id"`
	Neighbors []SimilarDecision `json:"neighbors"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status string `json:"status"`
}
