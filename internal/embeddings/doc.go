// Package embeddings turns raw text into context vectors at the API
// boundary.
//
// The bandit core consumes vectors; it never embeds. When a decision request
// carries business or topic text instead of precomputed embeddings, the HTTP
// layer runs it through a Provider from this package first. Two providers
// exist: an HTTP provider speaking the OpenAI-compatible embeddings API
// (works against TEI and OpenAI itself) and a local fastembed provider
// available in cgo builds.
//
// Every provider validates that the vectors it returns match the configured
// dimension, because a silently wrong dimension corrupts every decision made
// with it.
package embeddings
