package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/banditd/internal/bandit"
	"github.com/fyrsmithlabs/banditd/internal/decisionlog"
	"github.com/fyrsmithlabs/banditd/internal/embeddings"
	"github.com/fyrsmithlabs/banditd/internal/reward"
	"github.com/fyrsmithlabs/banditd/internal/store"
	v1 "github.com/fyrsmithlabs/banditd/pkg/api/v1"
)

// errNoEmbedder is returned when a decision request carries raw text but no
// embeddings provider is configured.
var errNoEmbedder = errors.New("embeddings provider not configured; send precomputed embeddings")

// handleDecide samples one action for a posting slot.
func (s *Server) handleDecide(c echo.Context) error {
	ctx := c.Request().Context()

	var req v1.DecisionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid decision request", zap.Error(err))
		return badRequest(c, "invalid request body")
	}
	if req.Platform == "" {
		return badRequest(c, "platform field is required")
	}

	now := time.Now()
	bucket := req.TimeBucket
	if bucket == "" {
		bucket = bandit.BucketForTime(now)
	}
	day := int(now.Weekday())
	if req.DayOfWeek != nil {
		day = *req.DayOfWeek
	}

	business, err := s.contextHalf(ctx, req.BusinessEmbedding, req.BusinessText)
	if err != nil {
		return s.respondError(c, err)
	}
	topic, err := s.contextHalf(ctx, req.TopicEmbedding, req.TopicText)
	if err != nil {
		return s.respondError(c, err)
	}

	dec, err := s.engine.SelectAction(ctx, bandit.DecisionQuery{
		Platform:          req.Platform,
		TimeBucket:        bucket,
		DayOfWeek:         day,
		BusinessEmbedding: business,
		TopicEmbedding:    topic,
	})
	if err != nil {
		return s.respondError(c, err)
	}

	return c.JSON(http.StatusOK, decisionResponse(dec))
}

// contextHalf resolves one half of the context vector: a precomputed
// embedding wins; raw text is embedded at this boundary.
func (s *Server) contextHalf(ctx context.Context, embedding []float64, text string) ([]float64, error) {
	if len(embedding) != 0 || text == "" {
		return embedding, nil
	}
	if s.embedder == nil {
		return nil, errNoEmbedder
	}
	return s.embedder.EmbedText(ctx, text)
}

// handlePublished confirms the post went live and starts the maturity clock.
func (s *Server) handlePublished(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req v1.PublishRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.MediaID == "" {
		return badRequest(c, "media_id field is required")
	}

	var publishedAt time.Time
	if req.PublishedAt != nil {
		publishedAt = *req.PublishedAt
	}

	if err := s.engine.Publish(ctx, id, publishedAt, req.MediaID); err != nil {
		return s.respondError(c, err)
	}

	rec, err := s.engine.GetPost(ctx, id)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, postResponse(rec))
}

// handleSnapshots appends engagement snapshots to a post.
func (s *Server) handleSnapshots(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req v1.SnapshotRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Snapshots) == 0 {
		return badRequest(c, "snapshots field is required")
	}

	added := 0
	for i, w := range req.Snapshots {
		snap, err := snapshotFromWire(id, w)
		if err != nil {
			return badRequest(c, fmt.Sprintf("snapshot %d: %v", i, err))
		}
		if err := s.engine.AddSnapshot(ctx, snap); err != nil {
			return s.respondError(c, err)
		}
		added++
	}

	return c.JSON(http.StatusOK, v1.SnapshotResponse{PostID: id, Added: added})
}

// handleDeleted records platform-side deletion, making the post immediately
// due with the deletion penalty.
func (s *Server) handleDeleted(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req v1.DeleteRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	var deletedAt time.Time
	if req.DeletedAt != nil {
		deletedAt = *req.DeletedAt
	}

	if err := s.engine.ReportDeleted(ctx, id, deletedAt); err != nil {
		return s.respondError(c, err)
	}

	rec, err := s.engine.GetPost(ctx, id)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, postResponse(rec))
}

// handleEvaluate forces a learning pass now. At-most-once still holds.
func (s *Server) handleEvaluate(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	res, err := s.engine.Evaluate(ctx, id)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, learnResponse(res))
}

// handleGetPost returns one ledger record.
func (s *Server) handleGetPost(c echo.Context) error {
	rec, err := s.engine.GetPost(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, postResponse(rec))
}

// handlePreferences returns the learned preference table of one posting
// slot.
func (s *Server) handlePreferences(c echo.Context) error {
	platform := c.QueryParam("platform")
	if platform == "" {
		return badRequest(c, "platform query parameter is required")
	}
	bucket := c.QueryParam("time_bucket")
	if bucket == "" {
		return badRequest(c, "time_bucket query parameter is required")
	}
	day, err := strconv.Atoi(c.QueryParam("day_of_week"))
	if err != nil {
		return badRequest(c, "day_of_week query parameter must be an integer")
	}
	if !bandit.ValidTimeBucket(bucket) {
		return badRequest(c, fmt.Sprintf("unknown time bucket %q", bucket))
	}
	if !bandit.ValidDayOfWeek(day) {
		return badRequest(c, fmt.Sprintf("day_of_week %d outside 0-6", day))
	}

	prefs, err := s.engine.Preferences(c.Request().Context(), platform, bucket, day)
	if err != nil {
		return s.respondError(c, err)
	}

	return c.JSON(http.StatusOK, v1.PreferencesResponse{
		Platform:   platform,
		TimeBucket: bucket,
		DayOfWeek:  day,
		Cells:      preferenceCells(prefs),
	})
}

// handleBaselines returns every tracked platform baseline.
func (s *Server) handleBaselines(c echo.Context) error {
	baselines, err := s.engine.Baselines(c.Request().Context())
	if err != nil {
		return s.respondError(c, err)
	}

	entries := make([]v1.BaselineEntry, 0, len(baselines))
	for platform, b := range baselines {
		entries = append(entries, v1.BaselineEntry{
			Platform:  platform,
			Value:     b.Value,
			Samples:   b.Samples,
			UpdatedAt: b.UpdatedAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Platform < entries[j].Platform })

	return c.JSON(http.StatusOK, v1.BaselinesResponse{Baselines: entries})
}

// handleSimilar looks up decision-log neighbors of a post's context.
func (s *Server) handleSimilar(c echo.Context) error {
	ctx := c.Request().Context()

	postID := c.QueryParam("post_id")
	if postID == "" {
		return badRequest(c, "post_id query parameter is required")
	}
	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = n
	}
	if limit > 100 {
		limit = 100
	}
	if s.declog == nil {
		return badRequest(c, "decision log is not enabled")
	}

	rec, err := s.engine.GetPost(ctx, postID)
	if err != nil {
		return s.respondError(c, err)
	}

	// Ask for one extra so the post's own decision can be dropped.
	neighbors, err := s.declog.Similar(ctx, rec.Context, limit+1)
	if err != nil {
		return s.respondError(c, err)
	}

	out := make([]v1.SimilarDecision, 0, limit)
	for _, n := range neighbors {
		if n.PostID == postID {
			continue
		}
		out = append(out, v1.SimilarDecision{
			DecisionID: n.DecisionID,
			PostID:     n.PostID,
			Platform:   n.Platform,
			TimeBucket: n.TimeBucket,
			DayOfWeek:  n.DayOfWeek,
			Action:     n.Action,
			Similarity: n.Similarity,
			CreatedAt:  n.CreatedAt,
		})
		if len(out) == limit {
			break
		}
	}

	return c.JSON(http.StatusOK, v1.SimilarDecisionsResponse{PostID: postID, Neighbors: out})
}

// respondError maps a domain error onto the wire envelope.
func (s *Server) respondError(c echo.Context, err error) error {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.JSON(status, v1.ErrorResponse{Error: err.Error(), Code: code})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, v1.ErrorResponse{Error: msg, Code: v1.CodeValidation})
}

// classify maps domain errors to HTTP status and wire code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, v1.CodeNotFound
	case errors.Is(err, reward.ErrNoSnapshots):
		return http.StatusUnprocessableEntity, v1.CodeNoSnapshots
	case errors.Is(err, bandit.ErrAlreadyLearned),
		errors.Is(err, bandit.ErrNotPublished),
		errors.Is(err, bandit.ErrNotEligible),
		errors.Is(err, bandit.ErrUnrated),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrExists):
		return http.StatusConflict, v1.CodeConflict
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, store.ErrClosed):
		return http.StatusServiceUnavailable, v1.CodeStoreUnavailable
	case errors.Is(err, errNoEmbedder),
		errors.Is(err, embeddings.ErrEmptyInput),
		errors.Is(err, embeddings.ErrInvalidConfig):
		return http.StatusBadRequest, v1.CodeValidation
	case errors.Is(err, embeddings.ErrEmbeddingFailed),
		errors.Is(err, embeddings.ErrWrongDimension):
		return http.StatusServiceUnavailable, v1.CodeEmbeddingsUnavailable
	case errors.Is(err, bandit.ErrUnknownPlatform),
		errors.Is(err, bandit.ErrUnknownTimeBucket),
		errors.Is(err, bandit.ErrInvalidDayOfWeek),
		errors.Is(err, bandit.ErrDimensionMismatch),
		errors.Is(err, bandit.ErrUnknownDimension),
		errors.Is(err, bandit.ErrEmptyValueSet),
		errors.Is(err, bandit.ErrNotFinite),
		errors.Is(err, decisionlog.ErrInvalidQuery):
		return http.StatusBadRequest, v1.CodeValidation
	default:
		return http.StatusInternalServerError, v1.CodeInternal
	}
}

func snapshotFromWire(postID string, w v1.EngagementSnapshot) (store.Snapshot, error) {
	if w.BucketHours <= 0 {
		return store.Snapshot{}, fmt.Errorf("bucket_hours must be positive, got %d", w.BucketHours)
	}
	counts := []int64{w.Likes, w.Comments, w.Shares, w.Saves, w.Replies, w.Retweets, w.Reactions, w.Followers}
	for _, n := range counts {
		if n < 0 {
			return store.Snapshot{}, errors.New("engagement counts cannot be negative")
		}
	}

	snap := store.Snapshot{
		PostID:      postID,
		BucketHours: w.BucketHours,
		Likes:       w.Likes,
		Comments:    w.Comments,
		Shares:      w.Shares,
		Saves:       w.Saves,
		Replies:     w.Replies,
		Retweets:    w.Retweets,
		Reactions:   w.Reactions,
		Followers:   w.Followers,
	}
	if w.TakenAt != nil {
		snap.TakenAt = *w.TakenAt
	}
	return snap, nil
}

func decisionResponse(dec *bandit.Decision) v1.DecisionResponse {
	probs := make([]v1.DimensionDistribution, len(dec.Choices))
	for i, ch := range dec.Choices {
		dist := make([]v1.ValueProbability, len(ch.Distribution))
		for j, vp := range ch.Distribution {
			dist[j] = v1.ValueProbability{
				Value:       vp.Value,
				Score:       vp.Score,
				Probability: vp.Probability,
			}
		}
		probs[i] = v1.DimensionDistribution{
			Dimension:    ch.Dimension,
			Chosen:       ch.Chosen,
			Distribution: dist,
			Entropy:      ch.Entropy,
		}
	}

	return v1.DecisionResponse{
		DecisionID:    dec.DecisionID,
		PostID:        dec.PostID,
		Platform:      dec.Platform,
		TimeBucket:    dec.TimeBucket,
		DayOfWeek:     dec.DayOfWeek,
		Action:        dec.Action,
		Probabilities: probs,
		CreatedAt:     dec.CreatedAt,
	}
}

func postResponse(rec store.PostRecord) v1.PostResponse {
	resp := v1.PostResponse{
		PostID:      rec.PostID,
		DecisionID:  rec.DecisionID,
		Platform:    rec.Platform,
		TimeBucket:  rec.TimeBucket,
		DayOfWeek:   rec.DayOfWeek,
		Action:      rec.Action,
		MediaID:     rec.MediaID,
		Status:      string(rec.Status),
		Attempts:    rec.Attempts,
		CreatedAt:   rec.CreatedAt,
		PublishedAt: rec.PublishedAt,
		EligibleAt:  rec.EligibleAt,
		DeletedAt:   rec.DeletedAt,
	}
	if rec.Outcome != nil {
		resp.Outcome = &v1.Outcome{
			Reward:    rec.Outcome.Reward,
			Baseline:  rec.Outcome.Baseline,
			Advantage: rec.Outcome.Advantage,
			LearnedAt: rec.Outcome.LearnedAt,
		}
	}
	return resp
}

func learnResponse(res bandit.LearnResult) v1.LearnResponse {
	return v1.LearnResponse{
		PostID:    res.PostID,
		Platform:  res.Platform,
		Reward:    res.Reward,
		Baseline:  res.Baseline,
		Advantage: res.Advantage,
		LearnedAt: res.LearnedAt,
	}
}

func preferenceCells(prefs map[store.PreferenceKey]store.Preference) []v1.PreferenceCell {
	cells := make([]v1.PreferenceCell, 0, len(prefs))
	for k, p := range prefs {
		cells = append(cells, v1.PreferenceCell{
			Dimension: k.Dimension,
			Value:     k.Value,
			Score:     p.Score,
			Samples:   p.Samples,
			UpdatedAt: p.UpdatedAt,
		})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Dimension != cells[j].Dimension {
			return cells[i].Dimension < cells[j].Dimension
		}
		return cells[i].Value < cells[j].Value
	})
	return cells
}
