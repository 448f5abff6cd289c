// Package provider defines the shared backend contract, the static backend
// registry, and the selection policy.
package provider

import (
	"context"

	"github.com/spetr/localrouter/pkg/types"
)

// Provider is the contract every backend adapter implements.
type Provider interface {
	// Kind returns the backend kind this adapter serves.
	Kind() types.Kind

	// Generate runs a single text generation call and returns the plain
	// text output.
	Generate(ctx context.Context, req types.GenerateRequest) (string, error)

	// Embed generates an embedding vector for the given text. Backends
	// whose registry entry disallows embeddings return
	// types.ErrUnsupportedOperation without any wire or process activity.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Probe runs a bounded liveness check. Probe never returns an error:
	// any failure, timeout, or malformed response is absorbed into an
	// unreachable result.
	Probe(ctx context.Context) types.ProbeResult
}
