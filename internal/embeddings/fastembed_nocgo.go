//go:build !cgo

package embeddings

import "fmt"

func newFastEmbedProvider(cfg Config) (Provider, error) {
	return nil, fmt.Errorf("%w: rebuild with CGO_ENABLED=1 or use the http provider", ErrFastEmbedUnavailable)
}
