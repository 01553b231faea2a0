package streamcapture

import (
	"context"

	"github.com/e7canasta/orion-care-sensor/modules/stream-capture/internal/backoff"
)

// ReconnectConfig contains configuration for exponential backoff reconnection
type ReconnectConfig = backoff.Config

// DefaultReconnectConfig returns 5 retries starting at 1s, capped at 30s.
func DefaultReconnectConfig() ReconnectConfig {
	return backoff.DefaultConfig()
}

// RunWithReconnect calls connect until it returns nil, retrying failures with
// exponential backoff. name prefixes the retry logs.
func RunWithReconnect(ctx context.Context, name string, connect func(ctx context.Context) error, cfg ReconnectConfig) error {
	return backoff.Run(ctx, name, connect, cfg, nil)
}
