package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/banditd/internal/bandit"
	"github.com/fyrsmithlabs/banditd/internal/decisionlog"
	"github.com/fyrsmithlabs/banditd/internal/embeddings"
	"github.com/fyrsmithlabs/banditd/internal/reward"
	"github.com/fyrsmithlabs/banditd/internal/store"
	v1 "github.com/fyrsmithlabs/banditd/pkg/api/v1"
)

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func decideRequest() v1.DecisionRequest {
	day := 3
	return v1.DecisionRequest{
		Platform:          "instagram",
		TimeBucket:        "evening",
		DayOfWeek:         &day,
		BusinessEmbedding: []float64{1, 0},
		TopicEmbedding:    []float64{0, 1},
	}
}

// decide runs one decision request and returns the decoded response.
func decide(t *testing.T, server *Server) v1.DecisionResponse {
	t.Helper()
	rec := doJSON(t, server, http.MethodPost, "/v1/decisions", decideRequest())
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	return decodeJSON[v1.DecisionResponse](t, rec)
}

func TestHandleDecide(t *testing.T) {
	t.Run("samples an action from the configured space", func(t *testing.T) {
		server := setupTestServer(t)

		resp := decide(t, server)

		assert.NotEmpty(t, resp.DecisionID)
		assert.NotEmpty(t, resp.PostID)
		assert.Equal(t, "instagram", resp.Platform)
		assert.Equal(t, "evening", resp.TimeBucket)
		assert.Equal(t, 3, resp.DayOfWeek)
		assert.Contains(t, []string{"question", "bold_claim"}, resp.Action["hook_type"])
		assert.Contains(t, []string{"casual", "formal"}, resp.Action["tone"])
		assert.False(t, resp.CreatedAt.IsZero())

		require.Len(t, resp.Probabilities, 2)
		for _, dim := range resp.Probabilities {
			var sum float64
			for _, vp := range dim.Distribution {
				sum += vp.Probability
			}
			assert.InDelta(t, 1.0, sum, 1e-6)
			assert.GreaterOrEqual(t, dim.Entropy, 0.0)
		}
	})

	t.Run("defaults time bucket and day of week to now", func(t *testing.T) {
		server := setupTestServer(t)

		rec := doJSON(t, server, http.MethodPost, "/v1/decisions", v1.DecisionRequest{
			Platform:          "instagram",
			BusinessEmbedding: []float64{1, 0},
			TopicEmbedding:    []float64{0, 1},
		})
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

		resp := decodeJSON[v1.DecisionResponse](t, rec)
		assert.True(t, bandit.ValidTimeBucket(resp.TimeBucket))
		assert.True(t, bandit.ValidDayOfWeek(resp.DayOfWeek))
	})

	t.Run("rejects missing platform", func(t *testing.T) {
		server := setupTestServer(t)

		req := decideRequest()
		req.Platform = ""
		rec := doJSON(t, server, http.MethodPost, "/v1/decisions", req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeJSON[v1.ErrorResponse](t, rec)
		assert.Equal(t, v1.CodeValidation, resp.Code)
	})

	t.Run("rejects unknown platform", func(t *testing.T) {
		server := setupTestServer(t)

		req := decideRequest()
		req.Platform = "myspace"
		rec := doJSON(t, server, http.MethodPost, "/v1/decisions", req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeJSON[v1.ErrorResponse](t, rec)
		assert.Equal(t, v1.CodeValidation, resp.Code)
	})

	t.Run("rejects wrong embedding dimension", func(t *testing.T) {
		server := setupTestServer(t)

		req := decideRequest()
		req.BusinessEmbedding = []float64{1, 0, 0}
		rec := doJSON(t, server, http.MethodPost, "/v1/decisions", req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects text when no embedder is configured", func(t *testing.T) {
		server := setupTestServer(t)

		rec := doJSON(t, server, http.MethodPost, "/v1/decisions", v1.DecisionRequest{
			Platform:     "instagram",
			BusinessText: "b2b saas for dentists",
			TopicText:    "spring cleaning special",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeJSON[v1.ErrorResponse](t, rec)
		assert.Contains(t, resp.Error, "embeddings provider not configured")
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/decisions", bytes.NewReader([]byte("{")))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		setupTestServer(t).echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleDecide_EmbedsText(t *testing.T) {
	// Fake OpenAI-compatible embedding endpoint: every input becomes the
	// same 2-dim vector.
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type datum struct {
			Object    string    `json:"object"`
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]datum, len(req.Input))
		for i := range req.Input {
			data[i] = datum{Object: "embedding", Embedding: []float64{0.6, 0.8}, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		}))
	}))
	defer fake.Close()

	provider, err := embeddings.NewProvider(embeddings.Config{
		Provider:  "http",
		BaseURL:   fake.URL,
		Model:     "test-model",
		Dimension: 2,
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)
	defer provider.Close()

	eng, _ := testEngine(t)
	server, err := NewServer(Deps{Engine: eng, Embedder: provider, Logger: zap.NewNop()}, nil)
	require.NoError(t, err)

	rec := doJSON(t, server, http.MethodPost, "/v1/decisions", v1.DecisionRequest{
		Platform:     "instagram",
		TimeBucket:   "morning",
		BusinessText: "b2b saas for dentists",
		TopicText:    "spring cleaning special",
	})

	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	resp := decodeJSON[v1.DecisionResponse](t, rec)
	assert.NotEmpty(t, resp.PostID)
}

func TestPostLifecycle(t *testing.T) {
	server := setupTestServer(t)
	dec := decide(t, server)

	t.Run("new post starts generated", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/v1/posts/"+dec.PostID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		post := decodeJSON[v1.PostResponse](t, rec)
		assert.Equal(t, "generated", post.Status)
		assert.Equal(t, dec.DecisionID, post.DecisionID)
		assert.Nil(t, post.PublishedAt)
	})

	t.Run("publish requires media id", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/v1/posts/"+dec.PostID+"/published", v1.PublishRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("publish starts the maturity clock", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/v1/posts/"+dec.PostID+"/published",
			v1.PublishRequest{MediaID: "ig-media-17841400"})
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

		post := decodeJSON[v1.PostResponse](t, rec)
		assert.Equal(t, "published", post.Status)
		assert.Equal(t, "ig-media-17841400", post.MediaID)
		require.NotNil(t, post.PublishedAt)
		require.NotNil(t, post.EligibleAt)
		assert.True(t, post.EligibleAt.After(*post.PublishedAt))
	})

	t.Run("double publish conflicts", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/v1/posts/"+dec.PostID+"/published",
			v1.PublishRequest{MediaID: "ig-media-17841400"})
		assert.Equal(t, http.StatusConflict, rec.Code)

		resp := decodeJSON[v1.ErrorResponse](t, rec)
		assert.Equal(t, v1.CodeConflict, resp.Code)
	})

	t.Run("evaluate without snapshots is not ratable yet", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/v1/posts/"+dec.PostID+"/evaluate", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		resp := decodeJSON[v1.ErrorResponse](t, rec)
		assert.Equal(t, v1.CodeNoSnapshots, resp.Code)
	})

	t.Run("snapshot validation", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/v1/posts/"+dec.PostID+"/snapshots",
			v1.SnapshotRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doJSON(t, server, http.MethodPost, "/v1/posts/"+dec.PostID+"/snapshots",
			v1.SnapshotRequest{Snapshots: []v1.EngagementSnapshot{{BucketHours: 0}}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doJSON(t, server, http.MethodPost, "/v1/posts/"+dec.PostID+"/snapshots",
			v1.SnapshotRequest{Snapshots: []v1.EngagementSnapshot{{BucketHours: 24, Likes: -1}}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("snapshots append", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/v1/posts/"+dec.PostID+"/snapshots",
			v1.SnapshotRequest{Snapshots: []v1.EngagementSnapshot{
				{BucketHours: 24, Likes: 150, Comments: 12, Saves: 9, Followers: 5000},
				{BucketHours: 72, Likes: 210, Comments: 15, Saves: 11, Followers: 5010},
			}})
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

		resp := decodeJSON[v1.SnapshotResponse](t, rec)
		assert.Equal(t, dec.PostID, resp.PostID)
		assert.Equal(t, 2, resp.Added)
	})

	t.Run("evaluate learns once", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/v1/posts/"+dec.PostID+"/evaluate", nil)
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

		res := decodeJSON[v1.LearnResponse](t, rec)
		assert.Equal(t, dec.PostID, res.PostID)
		assert.Equal(t, "instagram", res.Platform)
		assert.GreaterOrEqual(t, res.Reward, -1.0)
		assert.LessOrEqual(t, res.Reward, 1.0)
		assert.False(t, res.LearnedAt.IsZero())
	})

	t.Run("second evaluate conflicts", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/v1/posts/"+dec.PostID+"/evaluate", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)

		resp := decodeJSON[v1.ErrorResponse](t, rec)
		assert.Equal(t, v1.CodeConflict, resp.Code)
	})

	t.Run("learned post exposes its outcome", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/v1/posts/"+dec.PostID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		post := decodeJSON[v1.PostResponse](t, rec)
		assert.Equal(t, "learned", post.Status)
		require.NotNil(t, post.Outcome)
		assert.Equal(t, post.Outcome.Reward-post.Outcome.Baseline, post.Outcome.Advantage)
	})

	t.Run("preferences reflect the learning pass", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet,
			"/v1/preferences?platform=instagram&time_bucket=evening&day_of_week=3", nil)
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

		resp := decodeJSON[v1.PreferencesResponse](t, rec)
		assert.Equal(t, "instagram", resp.Platform)
		require.NotEmpty(t, resp.Cells)
		for _, cell := range resp.Cells {
			assert.GreaterOrEqual(t, cell.Samples, int64(1))
		}
	})

	t.Run("baselines track the platform", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/v1/baselines", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeJSON[v1.BaselinesResponse](t, rec)
		require.Len(t, resp.Baselines, 1)
		assert.Equal(t, "instagram", resp.Baselines[0].Platform)
		assert.Equal(t, int64(1), resp.Baselines[0].Samples)
	})
}

func TestHandleDeleted(t *testing.T) {
	t.Run("deleted post learns the penalty without snapshots", func(t *testing.T) {
		server := setupTestServer(t)
		dec := decide(t, server)

		rec := doJSON(t, server, http.MethodPost, "/v1/posts/"+dec.PostID+"/published",
			v1.PublishRequest{MediaID: "media-1"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, server, http.MethodPost, "/v1/posts/"+dec.PostID+"/deleted", v1.DeleteRequest{})
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

		post := decodeJSON[v1.PostResponse](t, rec)
		assert.NotNil(t, post.DeletedAt)

		rec = doJSON(t, server, http.MethodPost, "/v1/posts/"+dec.PostID+"/evaluate", nil)
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

		res := decodeJSON[v1.LearnResponse](t, rec)
		assert.Negative(t, res.Reward)
	})

	t.Run("unknown post is not found", func(t *testing.T) {
		server := setupTestServer(t)

		rec := doJSON(t, server, http.MethodPost, "/v1/posts/nope/deleted", v1.DeleteRequest{})
		assert.Equal(t, http.StatusNotFound, rec.Code)

		resp := decodeJSON[v1.ErrorResponse](t, rec)
		assert.Equal(t, v1.CodeNotFound, resp.Code)
	})
}

func TestHandleGetPost_NotFound(t *testing.T) {
	server := setupTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/v1/posts/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePreferences_Validation(t *testing.T) {
	server := setupTestServer(t)

	tests := []struct {
		name  string
		query string
	}{
		{"missing platform", "time_bucket=evening&day_of_week=3"},
		{"missing time bucket", "platform=instagram&day_of_week=3"},
		{"bad day of week", "platform=instagram&time_bucket=evening&day_of_week=9"},
		{"non-numeric day", "platform=instagram&time_bucket=evening&day_of_week=tuesday"},
		{"unknown bucket", "platform=instagram&time_bucket=brunch&day_of_week=3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, server, http.MethodGet, "/v1/preferences?"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleSimilar(t *testing.T) {
	openLog := func(t *testing.T) *decisionlog.Log {
		t.Helper()
		log, err := decisionlog.Open(decisionlog.Config{
			Path:       filepath.Join(t.TempDir(), "decisions"),
			Collection: "decisions",
		}, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = log.Close() })
		return log
	}

	newServerWithLog := func(t *testing.T) *Server {
		t.Helper()
		log := openLog(t)

		mem := store.NewMemory()
		shaper, err := reward.NewShaper(reward.ShaperConfig{}, zap.NewNop())
		require.NoError(t, err)
		eng, err := bandit.NewEngine(bandit.EngineConfig{
			Space: bandit.ActionSpace{Dimensions: []bandit.Dimension{
				{Name: "hook_type", Values: []string{"question", "bold_claim"}},
			}},
			ContextDim: 4,
			Seed:       7,
		}, bandit.Deps{Store: mem, Shaper: shaper, Sink: log})
		require.NoError(t, err)

		server, err := NewServer(Deps{Engine: eng, Decisions: log, Logger: zap.NewNop()}, nil)
		require.NoError(t, err)
		return server
	}

	t.Run("finds neighbors excluding the post itself", func(t *testing.T) {
		server := newServerWithLog(t)

		post := func(business, topic []float64) string {
			day := 3
			rec := doJSON(t, server, http.MethodPost, "/v1/decisions", v1.DecisionRequest{
				Platform:          "instagram",
				TimeBucket:        "evening",
				DayOfWeek:         &day,
				BusinessEmbedding: business,
				TopicEmbedding:    topic,
			})
			require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
			return decodeJSON[v1.DecisionResponse](t, rec).PostID
		}

		target := post([]float64{1, 0}, []float64{0, 1})
		_ = post([]float64{0.9, 0.1}, []float64{0.1, 0.9})
		_ = post([]float64{0, 1}, []float64{1, 0})

		rec := doJSON(t, server, http.MethodGet, "/v1/decisions/similar?post_id="+target+"&limit=2", nil)
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

		resp := decodeJSON[v1.SimilarDecisionsResponse](t, rec)
		assert.Equal(t, target, resp.PostID)
		require.NotEmpty(t, resp.Neighbors)
		for _, n := range resp.Neighbors {
			assert.NotEqual(t, target, n.PostID)
			assert.NotEmpty(t, n.Action)
		}
		// The near-identical context ranks first.
		assert.InDelta(t, 1.0, resp.Neighbors[0].Similarity, 0.05)
	})

	t.Run("reports disabled without a decision log", func(t *testing.T) {
		server := setupTestServer(t)
		dec := decide(t, server)

		rec := doJSON(t, server, http.MethodGet, "/v1/decisions/similar?post_id="+dec.PostID, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		resp := decodeJSON[v1.ErrorResponse](t, rec)
		assert.Contains(t, resp.Error, "decision log is not enabled")
	})

	t.Run("requires post_id", func(t *testing.T) {
		server := newServerWithLog(t)

		rec := doJSON(t, server, http.MethodGet, "/v1/decisions/similar", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects bad limit", func(t *testing.T) {
		server := newServerWithLog(t)

		rec := doJSON(t, server, http.MethodGet, "/v1/decisions/similar?post_id=p&limit=zero", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown post is not found", func(t *testing.T) {
		server := newServerWithLog(t)

		rec := doJSON(t, server, http.MethodGet, "/v1/decisions/similar?post_id=missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", fmt.Errorf("get: %w", store.ErrNotFound), http.StatusNotFound, v1.CodeNotFound},
		{"no snapshots", fmt.Errorf("shape: %w", reward.ErrNoSnapshots), http.StatusUnprocessableEntity, v1.CodeNoSnapshots},
		{"already learned", bandit.ErrAlreadyLearned, http.StatusConflict, v1.CodeConflict},
		{"not published", bandit.ErrNotPublished, http.StatusConflict, v1.CodeConflict},
		{"claim lost", store.ErrConflict, http.StatusConflict, v1.CodeConflict},
		{"store closed", store.ErrClosed, http.StatusServiceUnavailable, v1.CodeStoreUnavailable},
		{"unknown platform", bandit.ErrUnknownPlatform, http.StatusBadRequest, v1.CodeValidation},
		{"dimension mismatch", bandit.ErrDimensionMismatch, http.StatusBadRequest, v1.CodeValidation},
		{"embedder missing", errNoEmbedder, http.StatusBadRequest, v1.CodeValidation},
		{"embedding backend down", fmt.Errorf("embed: %w", embeddings.ErrEmbeddingFailed), http.StatusServiceUnavailable, v1.CodeEmbeddingsUnavailable},
		{"anything else", errors.New("disk on fire"), http.StatusInternalServerError, v1.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestSnapshotFromWire(t *testing.T) {
	t.Run("fills post id and copies counts", func(t *testing.T) {
		taken := time.Date(2026, 7, 2, 12, 0, 0, 0, time.UTC)
		snap, err := snapshotFromWire("post-1", v1.EngagementSnapshot{
			BucketHours: 24,
			TakenAt:     &taken,
			Likes:       10,
			Comments:    2,
			Followers:   4000,
		})
		require.NoError(t, err)
		assert.Equal(t, "post-1", snap.PostID)
		assert.Equal(t, 24, snap.BucketHours)
		assert.Equal(t, taken, snap.TakenAt)
		assert.Equal(t, int64(10), snap.Likes)
		assert.Equal(t, int64(4000), snap.Followers)
	})

	t.Run("rejects non-positive bucket", func(t *testing.T) {
		_, err := snapshotFromWire("post-1", v1.EngagementSnapshot{BucketHours: 0})
		assert.Error(t, err)
	})

	t.Run("rejects negative counts", func(t *testing.T) {
		_, err := snapshotFromWire("post-1", v1.EngagementSnapshot{BucketHours: 24, Shares: -3})
		assert.Error(t, err)
	})

	t.Run("leaves taken_at zero when omitted", func(t *testing.T) {
		snap, err := snapshotFromWire("post-1", v1.EngagementSnapshot{BucketHours: 24})
		require.NoError(t, err)
		assert.True(t, snap.TakenAt.IsZero())
	})
}
