package store

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendNATS     = "nats"
	BackendPostgres = "postgres"

	// ThetaBackendQdrant routes theta vectors to Qdrant on top of any base
	// backend.
	ThetaBackendQdrant = "qdrant"
)

// Options selects and configures the persistence backend.
type Options struct {
	// Backend is memory, nats, or postgres.
	Backend string

	// NATSConn is the shared connection for the nats backend. The caller owns
	// its lifecycle.
	NATSConn *nats.Conn
	NATSKV   NATSKVConfig

	Postgres PostgresConfig

	// ThetaBackend optionally overrides where theta vectors live. Empty keeps
	// them in the base backend; "qdrant" moves them to Qdrant.
	ThetaBackend string
	Qdrant       QdrantConfig

	// SkipInstrumentation disables the Prometheus wrapper, for tests that
	// would otherwise double-register collectors.
	SkipInstrumentation bool
}

// Open builds the configured Store. The returned store is instrumented unless
// SkipInstrumentation is set.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		base Store
		err  error
	)
	switch opts.Backend {
	case BackendMemory, "":
		base = NewMemory()
	case BackendNATS:
		if opts.NATSConn == nil {
			return nil, fmt.Errorf("%w: nats backend requires a connection", ErrInvalidConfig)
		}
		base, err = NewNATSKV(ctx, opts.NATSConn, opts.NATSKV)
		if err != nil {
			return nil, err
		}
	case BackendPostgres:
		base, err = NewPostgres(ctx, opts.Postgres)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, opts.Backend)
	}

	switch opts.ThetaBackend {
	case "":
	case ThetaBackendQdrant:
		thetas, err := NewQdrantThetaStore(ctx, opts.Qdrant)
		if err != nil {
			_ = base.Close()
			return nil, err
		}
		base = WithQdrantThetas(base, thetas)
	default:
		_ = base.Close()
		return nil, fmt.Errorf("%w: unknown theta backend %q", ErrInvalidConfig, opts.ThetaBackend)
	}

	if opts.SkipInstrumentation {
		return base, nil
	}
	backend := opts.Backend
	if backend == "" {
		backend = BackendMemory
	}
	return Instrument(backend, base), nil
}
