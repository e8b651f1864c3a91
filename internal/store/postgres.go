package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PostgresConfig configures the relational backend.
type PostgresConfig struct {
	// DSN is the lib/pq connection string.
	DSN string

	// VectorDim is the dimensionality of theta and context vectors. It is
	// baked into the schema, so changing it requires a migration.
	VectorDim int

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// SkipMigrate disables schema bootstrap, for deployments that manage the
	// schema externally.
	SkipMigrate bool
}

// ApplyDefaults sets default values for unset fields.
func (c *PostgresConfig) ApplyDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 16
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 4
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
}

// Validate validates the configuration.
func (c PostgresConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("%w: dsn required", ErrInvalidConfig)
	}
	if c.VectorDim <= 0 {
		return fmt.Errorf("%w: vector dim must be positive, got %d", ErrInvalidConfig, c.VectorDim)
	}
	return nil
}

// Postgres is a Store backed by PostgreSQL. Theta and context vectors use the
// pgvector extension; learning steps run inside one transaction.
type Postgres struct {
	db  *sql.DB
	cfg PostgresConfig
	now func() time.Time
}

// NewPostgres opens a connection pool, bootstraps the schema, and verifies
// connectivity.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s, err := NewPostgresFromDB(ctx, db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresFromDB wraps an existing pool. Used by tests to inject sqlmock
// and by callers that manage their own pool settings.
func NewPostgresFromDB(ctx context.Context, db *sql.DB, cfg PostgresConfig) (*Postgres, error) {
	cfg.ApplyDefaults()
	if cfg.VectorDim <= 0 {
		return nil, fmt.Errorf("%w: vector dim must be positive, got %d", ErrInvalidConfig, cfg.VectorDim)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s := &Postgres{db: db, cfg: cfg, now: time.Now}
	if !cfg.SkipMigrate {
		if err := s.migrate(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Postgres) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS rl_preferences (
			platform TEXT NOT NULL,
			time_bucket TEXT NOT NULL,
			day_of_week INT NOT NULL,
			dimension TEXT NOT NULL,
			action_value TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			samples BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (platform, time_bucket, day_of_week, dimension, action_value)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rl_thetas (
			dimension TEXT NOT NULL,
			action_value TEXT NOT NULL,
			theta vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (dimension, action_value)
		)`, s.cfg.VectorDim),
		`CREATE TABLE IF NOT EXISTS rl_baselines (
			platform TEXT PRIMARY KEY,
			value DOUBLE PRECISION NOT NULL,
			samples BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS post_snapshots (
			id BIGSERIAL PRIMARY KEY,
			post_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			bucket_hours INT NOT NULL,
			taken_at TIMESTAMPTZ NOT NULL,
			likes BIGINT NOT NULL DEFAULT 0,
			comments BIGINT NOT NULL DEFAULT 0,
			shares BIGINT NOT NULL DEFAULT 0,
			saves BIGINT NOT NULL DEFAULT 0,
			replies BIGINT NOT NULL DEFAULT 0,
			retweets BIGINT NOT NULL DEFAULT 0,
			reactions BIGINT NOT NULL DEFAULT 0,
			followers BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS post_snapshots_post_idx ON post_snapshots (post_id, taken_at)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS posts (
			post_id TEXT PRIMARY KEY,
			decision_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			time_bucket TEXT NOT NULL,
			day_of_week INT NOT NULL,
			action JSONB NOT NULL,
			context vector(%d) NOT NULL,
			media_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			published_at TIMESTAMPTZ,
			eligible_at TIMESTAMPTZ,
			deleted_at TIMESTAMPTZ,
			reward DOUBLE PRECISION,
			baseline DOUBLE PRECISION,
			advantage DOUBLE PRECISION,
			learned_at TIMESTAMPTZ
		)`, s.cfg.VectorDim),
		`CREATE INDEX IF NOT EXISTS posts_due_idx ON posts (status, eligible_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func vecToF32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func f32ToVec(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func (s *Postgres) GetPreference(ctx context.Context, key PreferenceKey) (Preference, error) {
	var pref Preference
	err := s.db.QueryRowContext(ctx,
		`SELECT score, samples, updated_at FROM rl_preferences
		 WHERE platform=$1 AND time_bucket=$2 AND day_of_week=$3 AND dimension=$4 AND action_value=$5`,
		key.Platform, key.TimeBucket, key.DayOfWeek, key.Dimension, key.Value,
	).Scan(&pref.Score, &pref.Samples, &pref.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Preference{}, fmt.Errorf("preference %s/%s: %w", key.Dimension, key.Value, ErrNotFound)
	}
	if err != nil {
		return Preference{}, fmt.Errorf("get preference: %w", err)
	}
	return pref, nil
}

func (s *Postgres) ListPreferences(ctx context.Context, platform, timeBucket string, dayOfWeek int) (map[PreferenceKey]Preference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dimension, action_value, score, samples, updated_at FROM rl_preferences
		 WHERE platform=$1 AND time_bucket=$2 AND day_of_week=$3`,
		platform, timeBucket, dayOfWeek)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	out := make(map[PreferenceKey]Preference)
	for rows.Next() {
		key := PreferenceKey{Platform: platform, TimeBucket: timeBucket, DayOfWeek: dayOfWeek}
		var pref Preference
		if err := rows.Scan(&key.Dimension, &key.Value, &pref.Score, &pref.Samples, &pref.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		out[key] = pref
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	return out, nil
}

func (s *Postgres) GetThetas(ctx context.Context, keys []ThetaKey) (map[ThetaKey][]float64, error) {
	if len(keys) == 0 {
		return map[ThetaKey][]float64{}, nil
	}
	var sb strings.Builder
	args := make([]any, 0, len(keys)*2)
	sb.WriteString(`SELECT dimension, action_value, theta FROM rl_thetas WHERE (dimension, action_value) IN (`)
	for i, key := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d)", len(args)+1, len(args)+2)
		args = append(args, key.Dimension, key.Value)
	}
	sb.WriteString(")")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get thetas: %w", err)
	}
	defer rows.Close()

	out := make(map[ThetaKey][]float64, len(keys))
	for rows.Next() {
		var key ThetaKey
		var vec pgvector.Vector
		if err := rows.Scan(&key.Dimension, &key.Value, &vec); err != nil {
			return nil, fmt.Errorf("scan theta: %w", err)
		}
		out[key] = f32ToVec(vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get thetas: %w", err)
	}
	return out, nil
}

func (s *Postgres) UpdateBaseline(ctx context.Context, platform string, reward, alpha float64) (Baseline, error) {
	b := Baseline{Platform: platform}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO rl_baselines (platform, value, samples, updated_at)
		 VALUES ($1, $2 * $3, 1, $4)
		 ON CONFLICT (platform) DO UPDATE
		 SET value = rl_baselines.value + $3 * ($2 - rl_baselines.value),
		     samples = rl_baselines.samples + 1,
		     updated_at = $4
		 RETURNING value, samples, updated_at`,
		platform, reward, alpha, s.now().UTC(),
	).Scan(&b.Value, &b.Samples, &b.UpdatedAt)
	if err != nil {
		return Baseline{}, fmt.Errorf("update baseline %s: %w", platform, err)
	}
	return b, nil
}

func (s *Postgres) GetBaseline(ctx context.Context, platform string) (Baseline, error) {
	b := Baseline{Platform: platform}
	err := s.db.QueryRowContext(ctx,
		`SELECT value, samples, updated_at FROM rl_baselines WHERE platform=$1`, platform,
	).Scan(&b.Value, &b.Samples, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Baseline{}, fmt.Errorf("baseline %s: %w", platform, ErrNotFound)
	}
	if err != nil {
		return Baseline{}, fmt.Errorf("get baseline %s: %w", platform, err)
	}
	return b, nil
}

func (s *Postgres) ListBaselines(ctx context.Context) (map[string]Baseline, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT platform, value, samples, updated_at FROM rl_baselines`)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Baseline)
	for rows.Next() {
		var b Baseline
		if err := rows.Scan(&b.Platform, &b.Value, &b.Samples, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		out[b.Platform] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	return out, nil
}

func (s *Postgres) AppendSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO post_snapshots
		 (post_id, platform, bucket_hours, taken_at, likes, comments, shares, saves, replies, retweets, reactions, followers)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		snap.PostID, snap.Platform, snap.BucketHours, snap.TakenAt.UTC(),
		snap.Likes, snap.Comments, snap.Shares, snap.Saves,
		snap.Replies, snap.Retweets, snap.Reactions, snap.Followers)
	if err != nil {
		return fmt.Errorf("append snapshot %s: %w", snap.PostID, err)
	}
	return nil
}

func (s *Postgres) ListSnapshots(ctx context.Context, postID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, platform, bucket_hours, taken_at, likes, comments, shares, saves, replies, retweets, reactions, followers
		 FROM post_snapshots WHERE post_id=$1 ORDER BY taken_at`, postID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", postID, err)
	}
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.PostID, &snap.Platform, &snap.BucketHours, &snap.TakenAt,
			&snap.Likes, &snap.Comments, &snap.Shares, &snap.Saves,
			&snap.Replies, &snap.Retweets, &snap.Reactions, &snap.Followers); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", postID, err)
	}
	return out, nil
}

const postColumns = `post_id, decision_id, platform, time_bucket, day_of_week, action, context,
	media_id, status, attempts, created_at, published_at, eligible_at, deleted_at,
	reward, baseline, advantage, learned_at`

func (s *Postgres) CreatePost(ctx context.Context, rec PostRecord) error {
	action, err := json.Marshal(rec.Action)
	if err != nil {
		return fmt.Errorf("encode action %s: %w", rec.PostID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO posts (post_id, decision_id, platform, time_bucket, day_of_week, action, context, media_id, status, attempts, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rec.PostID, rec.DecisionID, rec.Platform, rec.TimeBucket, rec.DayOfWeek,
		action, pgvector.NewVector(vecToF32(rec.Context)), rec.MediaID, string(rec.Status), rec.Attempts, rec.CreatedAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("post %s: %w", rec.PostID, ErrExists)
		}
		return fmt.Errorf("create post %s: %w", rec.PostID, err)
	}
	return nil
}

func scanPost(scan func(dest ...any) error) (PostRecord, error) {
	var (
		rec       PostRecord
		action    []byte
		vec       pgvector.Vector
		status    string
		published sql.NullTime
		eligible  sql.NullTime
		deleted   sql.NullTime
		reward    sql.NullFloat64
		baseline  sql.NullFloat64
		advantage sql.NullFloat64
		learnedAt sql.NullTime
	)
	err := scan(&rec.PostID, &rec.DecisionID, &rec.Platform, &rec.TimeBucket, &rec.DayOfWeek,
		&action, &vec, &rec.MediaID, &status, &rec.Attempts, &rec.CreatedAt,
		&published, &eligible, &deleted, &reward, &baseline, &advantage, &learnedAt)
	if err != nil {
		return PostRecord{}, err
	}
	if err := json.Unmarshal(action, &rec.Action); err != nil {
		return PostRecord{}, fmt.Errorf("decode action: %w", err)
	}
	rec.Context = f32ToVec(vec.Slice())
	rec.Status = Status(status)
	if published.Valid {
		t := published.Time
		rec.PublishedAt = &t
	}
	if eligible.Valid {
		t := eligible.Time
		rec.EligibleAt = &t
	}
	if deleted.Valid {
		t := deleted.Time
		rec.DeletedAt = &t
	}
	if learnedAt.Valid && reward.Valid && baseline.Valid && advantage.Valid {
		rec.Outcome = &Outcome{
			Reward:    reward.Float64,
			Baseline:  baseline.Float64,
			Advantage: advantage.Float64,
			LearnedAt: learnedAt.Time,
		}
	}
	return rec, nil
}

func (s *Postgres) GetPost(ctx context.Context, postID string) (PostRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE post_id=$1`, postID)
	rec, err := scanPost(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return PostRecord{}, fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	if err != nil {
		return PostRecord{}, fmt.Errorf("get post %s: %w", postID, err)
	}
	return rec, nil
}

// guardedUpdate runs an UPDATE that carries its own status guard in the WHERE
// clause. Zero rows means either a missing post or a wrong-state post; the
// follow-up read disambiguates.
func (s *Postgres) guardedUpdate(ctx context.Context, postID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update post %s: %w", postID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update post %s: %w", postID, err)
	}
	if n == 0 {
		rec, err := s.GetPost(ctx, postID)
		if err != nil {
			return err
		}
		return fmt.Errorf("post %s is %s: %w", postID, rec.Status, ErrConflict)
	}
	return nil
}

func (s *Postgres) MarkPublished(ctx context.Context, postID string, publishedAt, eligibleAt time.Time, mediaID string) error {
	return s.guardedUpdate(ctx, postID,
		`UPDATE posts SET status=$1, published_at=$2, eligible_at=$3, media_id=$4 WHERE post_id=$5 AND status=$6`,
		string(StatusPublished), publishedAt.UTC(), eligibleAt.UTC(), mediaID, postID, string(StatusGenerated))
}

func (s *Postgres) MarkDeleted(ctx context.Context, postID string, deletedAt time.Time) error {
	return s.guardedUpdate(ctx, postID,
		`UPDATE posts SET deleted_at=$1 WHERE post_id=$2 AND status NOT IN ($3, $4)`,
		deletedAt.UTC(), postID, string(StatusLearned), string(StatusUnrated))
}

func (s *Postgres) ClaimLearning(ctx context.Context, postID string) (PostRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE posts SET status=$1 WHERE post_id=$2 AND status=$3 RETURNING `+postColumns,
		string(StatusLearning), postID, string(StatusPublished))
	rec, err := scanPost(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		cur, gerr := s.GetPost(ctx, postID)
		if gerr != nil {
			return PostRecord{}, gerr
		}
		return PostRecord{}, fmt.Errorf("post %s is %s, want %s: %w", postID, cur.Status, StatusPublished, ErrConflict)
	}
	if err != nil {
		return PostRecord{}, fmt.Errorf("claim post %s: %w", postID, err)
	}
	return rec, nil
}

func (s *Postgres) ReleaseLearning(ctx context.Context, postID string) error {
	return s.guardedUpdate(ctx, postID,
		`UPDATE posts SET status=$1, attempts=attempts+1 WHERE post_id=$2 AND status=$3`,
		string(StatusPublished), postID, string(StatusLearning))
}

func (s *Postgres) CompleteLearning(ctx context.Context, postID string, outcome Outcome) error {
	return s.guardedUpdate(ctx, postID,
		`UPDATE posts SET status=$1, reward=$2, baseline=$3, advantage=$4, learned_at=$5 WHERE post_id=$6 AND status=$7`,
		string(StatusLearned), outcome.Reward, outcome.Baseline, outcome.Advantage, outcome.LearnedAt.UTC(),
		postID, string(StatusLearning))
}

func (s *Postgres) ParkUnrated(ctx context.Context, postID string) error {
	return s.guardedUpdate(ctx, postID,
		`UPDATE posts SET status=$1 WHERE post_id=$2 AND status=$3`,
		string(StatusUnrated), postID, string(StatusLearning))
}

func (s *Postgres) ListDue(ctx context.Context, now time.Time, limit int) ([]PostRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE status=$1 AND (deleted_at IS NOT NULL OR eligible_at <= $2)
		 ORDER BY created_at LIMIT $3`,
		string(StatusPublished), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due: %w", err)
	}
	return collectPosts(rows)
}

func (s *Postgres) ListPosts(ctx context.Context, platform string, status Status, limit int) ([]PostRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE ($1 = '' OR platform = $1) AND ($2 = '' OR status = $2)
		 ORDER BY created_at LIMIT $3`,
		platform, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return collectPosts(rows)
}

func collectPosts(rows *sql.Rows) ([]PostRecord, error) {
	defer rows.Close()
	var out []PostRecord
	for rows.Next() {
		rec, err := scanPost(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}

// ApplyLearning runs every delta in one transaction.
func (s *Postgres) ApplyLearning(ctx context.Context, step LearningStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply learning %s: %w", step.PostID, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	for _, delta := range step.Preferences {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rl_preferences (platform, time_bucket, day_of_week, dimension, action_value, score, samples, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,GREATEST($7::bigint,0),$8)
			 ON CONFLICT (platform, time_bucket, day_of_week, dimension, action_value) DO UPDATE
			 SET score = rl_preferences.score + EXCLUDED.score,
			     samples = GREATEST(rl_preferences.samples + $7, 0),
			     updated_at = EXCLUDED.updated_at`,
			delta.Key.Platform, delta.Key.TimeBucket, delta.Key.DayOfWeek,
			delta.Key.Dimension, delta.Key.Value, delta.ScoreDelta, delta.SampleDelta, now)
		if err != nil {
			return fmt.Errorf("apply preference %s/%s: %w", delta.Key.Dimension, delta.Key.Value, err)
		}
	}
	for _, delta := range step.Thetas {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rl_thetas (dimension, action_value, theta, updated_at)
			 VALUES ($1,$2,$3,$4)
			 ON CONFLICT (dimension, action_value) DO UPDATE
			 SET theta = rl_thetas.theta + EXCLUDED.theta,
			     updated_at = EXCLUDED.updated_at`,
			delta.Key.Dimension, delta.Key.Value, pgvector.NewVector(vecToF32(delta.Add)), now)
		if err != nil {
			return fmt.Errorf("apply theta %s/%s: %w", delta.Key.Dimension, delta.Key.Value, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply learning %s: %w", step.PostID, err)
	}
	return nil
}

func (s *Postgres) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Postgres) Close() error {
	return s.db.Close()
}

var _ Store = (*Postgres)(nil)
