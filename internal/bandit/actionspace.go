// Package bandit implements the contextual bandit that picks creative
// parameters for generated posts and learns from delayed engagement.
//
// The decision surface is a small set of discrete dimensions (hook type,
// tone, length, ...). Each dimension is scored independently: a learned
// discrete preference plus a contextual term from a per-value weight vector
// dotted with the request's context embedding. A softmax over the combined
// scores gives the sampling distribution. Learning runs long after the
// decision, when the post's engagement has matured into a shaped reward.
package bandit

import (
	"fmt"
	"time"
)

// Dimension is one independent axis of the creative decision.
type Dimension struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// ActionSpace is the ordered set of dimensions the policy decides over.
// Values are closed sets: the policy only ever samples values listed here.
type ActionSpace struct {
	Dimensions []Dimension `json:"dimensions"`
}

// DefaultActionSpace returns the built-in creative decision surface.
func DefaultActionSpace() ActionSpace {
	return ActionSpace{Dimensions: []Dimension{
		{Name: "hook_type", Values: []string{"question", "bold_claim", "relatable_pain", "trendy_topic", "curiosity_gap"}},
		{Name: "length", Values: []string{"short", "medium"}},
		{Name: "tone", Values: []string{"casual", "formal", "humorous", "educational"}},
		{Name: "creativity_level", Values: []string{"safe", "balanced", "experimental"}},
		{Name: "text_in_image", Values: []string{"text", "no_text"}},
		{Name: "visual_style", Values: []string{"abstract", "human_figure"}},
	}}
}

// Validate checks that every dimension is named, non-empty, and free of
// duplicates.
func (s ActionSpace) Validate() error {
	if len(s.Dimensions) == 0 {
		return fmt.Errorf("action space: %w", ErrEmptyValueSet)
	}
	seen := make(map[string]struct{}, len(s.Dimensions))
	for _, dim := range s.Dimensions {
		if dim.Name == "" {
			return fmt.Errorf("action space: unnamed dimension")
		}
		if _, dup := seen[dim.Name]; dup {
			return fmt.Errorf("action space: duplicate dimension %q", dim.Name)
		}
		seen[dim.Name] = struct{}{}
		if len(dim.Values) == 0 {
			return fmt.Errorf("dimension %q: %w", dim.Name, ErrEmptyValueSet)
		}
		values := make(map[string]struct{}, len(dim.Values))
		for _, v := range dim.Values {
			if v == "" {
				return fmt.Errorf("dimension %q: empty value", dim.Name)
			}
			if _, dup := values[v]; dup {
				return fmt.Errorf("dimension %q: duplicate value %q", dim.Name, v)
			}
			values[v] = struct{}{}
		}
	}
	return nil
}

// Dimension returns the named dimension.
func (s ActionSpace) Dimension(name string) (Dimension, bool) {
	for _, dim := range s.Dimensions {
		if dim.Name == name {
			return dim, true
		}
	}
	return Dimension{}, false
}

// Action is one chosen value per dimension. Treated as immutable once built.
type Action map[string]string

// Validate checks the action covers exactly the space's dimensions with
// known values.
func (a Action) Validate(space ActionSpace) error {
	if len(a) != len(space.Dimensions) {
		return fmt.Errorf("action has %d dimensions, space has %d: %w", len(a), len(space.Dimensions), ErrUnknownDimension)
	}
	for _, dim := range space.Dimensions {
		chosen, ok := a[dim.Name]
		if !ok {
			return fmt.Errorf("action missing dimension %q: %w", dim.Name, ErrUnknownDimension)
		}
		found := false
		for _, v := range dim.Values {
			if v == chosen {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("dimension %q has no value %q: %w", dim.Name, chosen, ErrUnknownDimension)
		}
	}
	return nil
}

// Time buckets partition the posting day. Closed set; requests with any
// other value are rejected at the boundary.
const (
	BucketMorning   = "morning"
	BucketAfternoon = "afternoon"
	BucketEvening   = "evening"
	BucketNight     = "night"
)

// TimeBuckets lists the valid buckets in day order.
func TimeBuckets() []string {
	return []string{BucketMorning, BucketAfternoon, BucketEvening, BucketNight}
}

// ValidTimeBucket reports whether b is one of the closed bucket names.
func ValidTimeBucket(b string) bool {
	switch b {
	case BucketMorning, BucketAfternoon, BucketEvening, BucketNight:
		return true
	}
	return false
}

// BucketForTime maps a wall-clock hour to its bucket: morning 05-11,
// afternoon 12-16, evening 17-21, night otherwise.
func BucketForTime(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return BucketMorning
	case h >= 12 && h < 17:
		return BucketAfternoon
	case h >= 17 && h < 22:
		return BucketEvening
	default:
		return BucketNight
	}
}

// ValidDayOfWeek reports whether d is in 0..6 (Sunday = 0).
func ValidDayOfWeek(d int) bool {
	return d >= 0 && d <= 6
}
