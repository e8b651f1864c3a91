// internal/logging/context.go
package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if decisionID := DecisionIDFromContext(ctx); decisionID != "" {
		fields = append(fields, zap.String("decision.id", decisionID))
	}

	if postID := PostIDFromContext(ctx); postID != "" {
		fields = append(fields, zap.String("post.id", postID))
	}

	if platform := PlatformFromContext(ctx); platform != "" {
		fields = append(fields, zap.String("platform", platform))
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// Context key types
type decisionCtxKey struct{}
type postCtxKey struct{}
type platformCtxKey struct{}
type requestCtxKey struct{}

const maxIDLen = 128

// idPattern allows alphanumeric, hyphen, underscore
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateID validates a decision, post, or request ID.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// DecisionIDFromContext extracts decision ID from context.
func DecisionIDFromContext(ctx context.Context) string {
	if d, ok := ctx.Value(decisionCtxKey{}).(string); ok {
		return d
	}
	return ""
}

// WithDecisionID adds decision ID to context.
// Panics if decisionID is empty or contains invalid characters; IDs are
// produced internally, so an invalid one is a bug.
func WithDecisionID(ctx context.Context, decisionID string) context.Context {
	if err := validateID(decisionID, "decisionID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, decisionCtxKey{}, decisionID)
}

// PostIDFromContext extracts post ID from context.
func PostIDFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(postCtxKey{}).(string); ok {
		return p
	}
	return ""
}

// WithPostID adds post ID to context.
// Panics if postID is empty or contains invalid characters.
func WithPostID(ctx context.Context, postID string) context.Context {
	if err := validateID(postID, "postID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, postCtxKey{}, postID)
}

// PlatformFromContext extracts platform from context.
func PlatformFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(platformCtxKey{}).(string); ok {
		return p
	}
	return ""
}

// WithPlatform adds platform to context. Empty platforms are ignored so
// callers can pass through unvalidated request input.
func WithPlatform(ctx context.Context, platform string) context.Context {
	if platform == "" {
		return ctx
	}
	return context.WithValue(ctx, platformCtxKey{}, platform)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context.
// Panics if requestID is empty or contains invalid characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validateID(requestID, "requestID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a default nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
