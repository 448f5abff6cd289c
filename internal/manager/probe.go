package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/spetr/localrouter/pkg/provider"
	"github.com/spetr/localrouter/pkg/types"
)

// DefaultProbeTimeout bounds a single backend probe when the
// configuration does not set one.
const DefaultProbeTimeout = 1 * time.Second

// probeAll probes every provider concurrently, each under its own
// timeout, and returns one snapshot covering the whole set. A slow or
// hung backend costs at most the timeout, not the batch.
func probeAll(ctx context.Context, providers map[types.Kind]provider.Provider, timeout time.Duration) types.Snapshot {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		snapshot = make(types.Snapshot, len(providers))
	)

	for kind, p := range providers {
		wg.Add(1)
		go func(kind types.Kind, p provider.Provider) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			result := p.Probe(probeCtx)
			slog.Debug("probed backend", "backend", kind, "reachable", result.Reachable)

			mu.Lock()
			snapshot[kind] = result
			mu.Unlock()
		}(kind, p)
	}

	wg.Wait()
	return snapshot
}
