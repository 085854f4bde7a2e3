//go:build !protogen

package policy

import (
	"log/slog"
	"time"
)

func NewClinicPolicyProvider(_ *slog.Logger, offsets []time.Duration, maxReschedules int, _ string) (Provider, error) {
	return NewStaticProvider(offsets, maxReschedules), nil
}
