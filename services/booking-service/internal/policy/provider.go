package policy

import (
	"context"
	"time"
)

// DefaultMaxReschedules caps how many times one appointment may be moved
// when no policy source is configured.
const DefaultMaxReschedules = 2

// Provider supplies the clinic booking policy. The static provider serves
// env-configured values; the gRPC provider reads live clinic settings.
type Provider interface {
	ReminderOffsets(ctx context.Context) ([]time.Duration, error)
	MaxReschedules(ctx context.Context) (int, error)
}

type staticProvider struct {
	offsets        []time.Duration
	maxReschedules int
}

func NewStaticProvider(offsets []time.Duration, maxReschedules int) Provider {
	return &staticProvider{offsets: offsets, maxReschedules: maxReschedules}
}

func (p *staticProvider) ReminderOffsets(_ context.Context) ([]time.Duration, error) {
	return p.offsets, nil
}

func (p *staticProvider) MaxReschedules(_ context.Context) (int, error) {
	return p.maxReschedules, nil
}
