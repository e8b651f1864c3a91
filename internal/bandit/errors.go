package bandit

import "errors"

// Sentinel errors for decision and learning operations.
var (
	// ErrDimensionMismatch is returned when an embedding does not have the
	// declared dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyValueSet is returned when an action dimension has no candidate
	// values.
	ErrEmptyValueSet = errors.New("action dimension has no values")

	// ErrUnknownDimension is returned when an action references a dimension
	// that is not part of the action space.
	ErrUnknownDimension = errors.New("unknown action dimension")

	// ErrUnknownTimeBucket is returned for a time bucket outside the closed
	// set.
	ErrUnknownTimeBucket = errors.New("unknown time bucket")

	// ErrInvalidDayOfWeek is returned for a day outside 0..6.
	ErrInvalidDayOfWeek = errors.New("day of week out of range")

	// ErrUnknownPlatform is returned when a platform has no configuration.
	ErrUnknownPlatform = errors.New("unknown platform")

	// ErrMissingBaseline marks a sequencing bug: a learning step arrived
	// without a baseline.
	ErrMissingBaseline = errors.New("learning step missing baseline")

	// ErrNotFinite is returned when a computation produces NaN or Inf. Such
	// values are never returned to callers or persisted.
	ErrNotFinite = errors.New("non-finite value")

	// ErrNotPublished is returned when learning is requested for a post that
	// never reported publication.
	ErrNotPublished = errors.New("post not published")

	// ErrNotEligible is returned when learning is requested before the
	// maturity window has elapsed. Deletion preempts the window.
	ErrNotEligible = errors.New("post not yet eligible")

	// ErrAlreadyLearned is returned when a reward was already applied for the
	// post.
	ErrAlreadyLearned = errors.New("post already learned")

	// ErrUnrated is returned for posts parked after never producing a usable
	// reward. Terminal; an operator reset is the only way out.
	ErrUnrated = errors.New("post parked as unrated")
)
