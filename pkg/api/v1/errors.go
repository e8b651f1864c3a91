package v1

// Error codes carried in ErrorResponse.Code. Clients branch on the code;
// the message is for humans.
const (
	// CodeValidation covers malformed bodies, unknown platforms or buckets,
	// and dimension mismatches.
	CodeValidation = "validation"

	// CodeNotFound means the post or resource does not exist.
	CodeNotFound = "not_found"

	// CodeConflict covers state-machine violations: already learned, not
	// published, a racing learning claim.
	CodeConflict = "conflict"

	// CodeNoSnapshots means a reward was requested before any engagement
	// snapshot arrived.
	CodeNoSnapshots = "no_snapshots"

	// CodeStoreUnavailable means the persistence backend is unreachable.
	CodeStoreUnavailable = "store_unavailable"

	// CodeEmbeddingsUnavailable means text could not be embedded because the
	// embeddings backend failed or is not configured.
	CodeEmbeddingsUnavailable = "embeddings_unavailable"

	// CodeInternal is everything else.
	CodeInternal = "internal"
)

// ErrorResponse is the JSON error envelope every non-2xx response carries.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
