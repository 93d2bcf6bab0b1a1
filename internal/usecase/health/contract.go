package health

import "context"

// StorePinger checks key-value store availability.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// UpstreamChecker checks completion provider availability.
type UpstreamChecker interface {
	HealthCheck(ctx context.Context) error
}
