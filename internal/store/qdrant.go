package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// thetaNamespace is the UUIDv5 namespace for deterministic point IDs, so the
// same (dimension, value) always maps to the same Qdrant point.
var thetaNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// QdrantConfig configures the Qdrant-backed theta store.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	Port int

	// Collection holds the theta points.
	Collection string

	// VectorDim must match the engine's context dimensionality.
	VectorDim int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "banditd_thetas"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 8 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorDim <= 0 {
		return fmt.Errorf("%w: vector dim must be positive, got %d", ErrInvalidConfig, c.VectorDim)
	}
	if !keyTokenPattern.MatchString(c.Collection) {
		return fmt.Errorf("%w: collection %q", ErrInvalidConfig, c.Collection)
	}
	return nil
}

// QdrantThetaStore keeps theta vectors as Qdrant points, one point per
// (dimension, value). Qdrant has no compare-and-swap, so read-modify-write
// cycles are serialized per process; the engine's learn path is already
// serialized per platform on top of that.
type QdrantThetaStore struct {
	client *qdrant.Client
	cfg    QdrantConfig
	mu     sync.Mutex
}

// NewQdrantThetaStore connects, ensures the collection exists, and verifies
// the server is healthy.
func NewQdrantThetaStore(ctx context.Context, cfg QdrantConfig) (*QdrantThetaStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := &QdrantThetaStore{client: client, cfg: cfg}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantThetaStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", s.cfg.Collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.cfg.VectorDim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.cfg.Collection, err)
	}
	return nil
}

func thetaPointID(key ThetaKey) string {
	return uuid.NewSHA1(thetaNamespace, []byte(key.Dimension+"="+key.Value)).String()
}

// GetThetas retrieves the stored vectors for the given keys. Unwritten keys
// are absent from the result.
func (s *QdrantThetaStore) GetThetas(ctx context.Context, keys []ThetaKey) (map[ThetaKey][]float64, error) {
	if len(keys) == 0 {
		return map[ThetaKey][]float64{}, nil
	}
	ids := make([]*qdrant.PointId, len(keys))
	byID := make(map[string]ThetaKey, len(keys))
	for i, key := range keys {
		id := thetaPointID(key)
		ids[i] = qdrant.NewIDUUID(id)
		byID[id] = key
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            ids,
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get thetas: %w", err)
	}

	out := make(map[ThetaKey][]float64, len(points))
	for _, point := range points {
		key, ok := byID[point.GetId().GetUuid()]
		if !ok {
			continue
		}
		data := point.GetVectors().GetVector().GetData()
		out[key] = f32ToVec(data)
	}
	return out, nil
}

// AddThetas applies element-wise additive deltas via read-modify-write.
func (s *QdrantThetaStore) AddThetas(ctx context.Context, deltas []ThetaDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]ThetaKey, len(deltas))
	for i, delta := range deltas {
		keys[i] = delta.Key
	}
	current, err := s.GetThetas(ctx, keys)
	if err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(deltas))
	for _, delta := range deltas {
		vec, ok := current[delta.Key]
		if !ok {
			vec = make([]float64, len(delta.Add))
		}
		if len(vec) != len(delta.Add) {
			return fmt.Errorf("theta %s=%s has %d dims, delta has %d: %w",
				delta.Key.Dimension, delta.Key.Value, len(vec), len(delta.Add), ErrConflict)
		}
		for i, add := range delta.Add {
			vec[i] += add
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(thetaPointID(delta.Key)),
			Vectors: qdrant.NewVectors(vecToF32(vec)...),
			Payload: map[string]*qdrant.Value{
				"dimension":    {Kind: &qdrant.Value_StringValue{StringValue: delta.Key.Dimension}},
				"action_value": {Kind: &qdrant.Value_StringValue{StringValue: delta.Key.Value}},
			},
		})
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("upsert thetas: %w", err)
	}
	return nil
}

// HealthCheck verifies the Qdrant server responds.
func (s *QdrantThetaStore) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantThetaStore) Close() error {
	return s.client.Close()
}

// thetaOverlay routes theta reads and writes to Qdrant while everything else
// goes to the base store.
type thetaOverlay struct {
	Store
	thetas *QdrantThetaStore
}

// WithQdrantThetas composes a base store with a Qdrant theta store.
func WithQdrantThetas(base Store, thetas *QdrantThetaStore) Store {
	return &thetaOverlay{Store: base, thetas: thetas}
}

func (o *thetaOverlay) GetThetas(ctx context.Context, keys []ThetaKey) (map[ThetaKey][]float64, error) {
	return o.thetas.GetThetas(ctx, keys)
}

func (o *thetaOverlay) ApplyLearning(ctx context.Context, step LearningStep) error {
	prefStep := step
	prefStep.Thetas = nil
	if err := o.Store.ApplyLearning(ctx, prefStep); err != nil {
		return err
	}
	if err := o.thetas.AddThetas(ctx, step.Thetas); err != nil {
		// Compensate the preference writes so the step stays all-or-nothing.
		revert := LearningStep{PostID: step.PostID, Platform: step.Platform}
		for _, delta := range step.Preferences {
			revert.Preferences = append(revert.Preferences, PreferenceDelta{
				Key:         delta.Key,
				ScoreDelta:  -delta.ScoreDelta,
				SampleDelta: -delta.SampleDelta,
			})
		}
		if rerr := o.Store.ApplyLearning(ctx, revert); rerr != nil {
			return fmt.Errorf("%w (compensation also failed: %v)", err, rerr)
		}
		return err
	}
	return nil
}

func (o *thetaOverlay) HealthCheck(ctx context.Context) error {
	if err := o.Store.HealthCheck(ctx); err != nil {
		return err
	}
	return o.thetas.HealthCheck(ctx)
}

func (o *thetaOverlay) Close() error {
	err := o.Store.Close()
	if cerr := o.thetas.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
