//go:build protogen

package policy

import (
	"context"
	"log/slog"
	"time"

	"github.com/novadent/platform/libs/grpcx"
	clinicv1 "github.com/novadent/platform/protos/gen/clinic/v1"
)

type grpcProvider struct {
	client   clinicv1.ClinicServiceClient
	fallback Provider
}

func NewClinicPolicyProvider(logger *slog.Logger, offsets []time.Duration, maxReschedules int, addr string) (Provider, error) {
	static := NewStaticProvider(offsets, maxReschedules)
	if addr == "" {
		return static, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		logger.Warn("grpc policy provider unavailable, using fallback", "err", err)
		return static, nil
	}

	logger.Info("grpc policy provider enabled", "addr", addr)
	return &grpcProvider{client: clinicv1.NewClinicServiceClient(conn), fallback: static}, nil
}

func (p *grpcProvider) ReminderOffsets(ctx context.Context) ([]time.Duration, error) {
	resp, err := p.client.GetBookingPolicy(ctx, &clinicv1.BookingPolicyRequest{})
	if err != nil {
		return nil, err
	}
	var offsets []time.Duration
	for _, mins := range resp.GetReminderOffsetsMinutes() {
		if mins <= 0 {
			continue
		}
		offsets = append(offsets, time.Duration(mins)*time.Minute)
	}
	return offsets, nil
}

func (p *grpcProvider) MaxReschedules(ctx context.Context) (int, error) {
	resp, err := p.client.GetBookingPolicy(ctx, &clinicv1.BookingPolicyRequest{})
	if err != nil {
		return p.fallback.MaxReschedules(ctx)
	}
	if resp.GetMaxReschedules() <= 0 {
		return p.fallback.MaxReschedules(ctx)
	}
	return int(resp.GetMaxReschedules()), nil
}
