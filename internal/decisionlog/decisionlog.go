// Package decisionlog keeps a searchable history of decisions in an
// embedded vector database.
//
// Every decision the engine makes is recorded with its context vector, so
// operators can ask "what did we pick in situations like this one" without
// standing up external infrastructure. chromem-go persists gob files under a
// local directory and needs no CGO and no service.
package decisionlog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/banditd/internal/bandit"
)

var tracer = otel.Tracer("banditd.decisionlog")

var (
	// ErrInvalidConfig indicates invalid decision log configuration.
	ErrInvalidConfig = errors.New("invalid decision log configuration")

	// ErrInvalidDecision indicates a decision that cannot be recorded.
	ErrInvalidDecision = errors.New("invalid decision")

	// ErrInvalidQuery indicates an unusable similarity query.
	ErrInvalidQuery = errors.New("invalid similarity query")
)

// Config holds decision log settings.
type Config struct {
	// Path is the directory for persistent storage.
	Path string

	// Collection is the chromem collection name.
	Collection string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// Neighbor is a past decision scored by context similarity.
type Neighbor struct {
	DecisionID string            `json:"decision_id"`
	PostID     string            `json:"post_id"`
	Platform   string            `json:"platform"`
	TimeBucket string            `json:"time_bucket"`
	DayOfWeek  int               `json:"day_of_week"`
	Action     map[string]string `json:"action"`
	Similarity float64           `json:"similarity"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Log records decisions and answers similarity lookups. It implements
// bandit.DecisionSink.
type Log struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *zap.Logger
}

// Open opens or creates the decision log at cfg.Path.
func Open(cfg Config, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: collection is required", ErrInvalidConfig)
	}

	path, err := expandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	// Every document and query carries a precomputed context vector, so
	// chromem must never fall back to its own embedder.
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", cfg.Collection, err)
	}

	logger.Info("decision log opened",
		zap.String("path", path),
		zap.String("collection", cfg.Collection),
		zap.Int("decisions", collection.Count()),
	)

	return &Log{db: db, collection: collection, logger: logger}, nil
}

func rejectEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("decision log only stores precomputed context vectors")
}

// expandPath expands ~ to home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// RecordDecision stores a decision with its context vector.
func (l *Log) RecordDecision(ctx context.Context, dec bandit.Decision) error {
	ctx, span := tracer.Start(ctx, "Log.RecordDecision")
	defer span.End()

	span.SetAttributes(
		attribute.String("decision_id", dec.DecisionID),
		attribute.String("platform", dec.Platform),
	)

	if dec.DecisionID == "" {
		return fmt.Errorf("%w: decision ID is required", ErrInvalidDecision)
	}
	if dec.Context.Dim() == 0 {
		return fmt.Errorf("%w: context vector is empty", ErrInvalidDecision)
	}

	doc := chromem.Document{
		ID:        dec.DecisionID,
		Content:   describeDecision(dec),
		Metadata:  decisionMetadata(dec),
		Embedding: narrow(dec.Context.Vector),
	}

	if err := l.collection.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding decision %s: %w", dec.DecisionID, err)
	}

	span.SetStatus(codes.Ok, "success")
	l.logger.Debug("decision recorded",
		zap.String("decision_id", dec.DecisionID),
		zap.String("post_id", dec.PostID),
	)
	return nil
}

// Similar returns up to limit past decisions closest to the given context
// vector, most similar first.
func (l *Log) Similar(ctx context.Context, vector []float64, limit int) ([]Neighbor, error) {
	ctx, span := tracer.Start(ctx, "Log.Similar")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidQuery, limit)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: vector is empty", ErrInvalidQuery)
	}
	query, err := normalize(vector)
	if err != nil {
		return nil, err
	}

	// chromem requires nResults <= document count.
	count := l.collection.Count()
	if count == 0 {
		return []Neighbor{}, nil
	}
	if limit > count {
		limit = count
	}

	results, err := l.collection.QueryEmbedding(ctx, query, limit, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying decisions: %w", err)
	}

	neighbors := make([]Neighbor, len(results))
	for i, r := range results {
		neighbors[i] = neighborFromResult(r)
	}

	span.SetAttributes(attribute.Int("results", len(neighbors)))
	span.SetStatus(codes.Ok, "success")
	return neighbors, nil
}

// Count returns the number of recorded decisions.
func (l *Log) Count() int {
	return l.collection.Count()
}

// Close closes the log. chromem persists on every write, so there is
// nothing to flush.
func (l *Log) Close() error {
	l.logger.Info("decision log closed")
	return nil
}

const actionPrefix = "action."

func decisionMetadata(dec bandit.Decision) map[string]string {
	meta := map[string]string{
		"post_id":     dec.PostID,
		"platform":    dec.Platform,
		"time_bucket": dec.TimeBucket,
		"day_of_week": strconv.Itoa(dec.DayOfWeek),
		"created_at":  dec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	for dim, val := range dec.Action {
		meta[actionPrefix+dim] = val
	}
	return meta
}

func neighborFromResult(r chromem.Result) Neighbor {
	n := Neighbor{
		DecisionID: r.ID,
		PostID:     r.Metadata["post_id"],
		Platform:   r.Metadata["platform"],
		TimeBucket: r.Metadata["time_bucket"],
		Action:     make(map[string]string),
		Similarity: float64(r.Similarity),
	}
	if day, err := strconv.Atoi(r.Metadata["day_of_week"]); err == nil {
		n.DayOfWeek = day
	}
	if ts, err := time.Parse(time.RFC3339Nano, r.Metadata["created_at"]); err == nil {
		n.CreatedAt = ts
	}
	for k, v := range r.Metadata {
		if dim, ok := strings.CutPrefix(k, actionPrefix); ok {
			n.Action[dim] = v
		}
	}
	return n
}

// describeDecision renders the decision as one line of text. chromem wants
// document content; this also keeps the gob files greppable.
func describeDecision(dec bandit.Decision) string {
	dims := make([]string, 0, len(dec.Action))
	for dim := range dec.Action {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	var b strings.Builder
	b.WriteString(dec.Platform)
	b.WriteString(" ")
	b.WriteString(dec.TimeBucket)
	b.WriteString(" day")
	b.WriteString(strconv.Itoa(dec.DayOfWeek))
	for _, dim := range dims {
		b.WriteString(" ")
		b.WriteString(dim)
		b.WriteString("=")
		b.WriteString(dec.Action[dim])
	}
	return b.String()
}

func narrow(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}

// normalize scales the vector to unit length while narrowing to float32.
// Similarity scores are dot products, so both sides must be unit vectors;
// chromem normalizes the stored side itself.
func normalize(vec []float64) ([]float32, error) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return nil, fmt.Errorf("%w: vector has zero norm", ErrInvalidQuery)
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v * inv)
	}
	return out, nil
}

var _ bandit.DecisionSink = (*Log)(nil)
