//go:build protogen

package grpcserver

import (
	"context"

	"github.com/novadent/platform/libs/db"
	clinicv1 "github.com/novadent/platform/protos/gen/clinic/v1"
	"github.com/novadent/platform/services/clinic-service/internal/storage"
	"google.golang.org/grpc"
)

type server struct {
	clinicv1.UnimplementedClinicServiceServer
	pool *db.Pool
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, pool *db.Pool, repo *storage.Repository) {
	clinicv1.RegisterClinicServiceServer(grpcServer, &server{pool: pool, repo: repo})
}

func (s *server) GetBookingPolicy(ctx context.Context, _ *clinicv1.BookingPolicyRequest) (*clinicv1.BookingPolicyResponse, error) {
	resp := &clinicv1.BookingPolicyResponse{
		ReminderOffsetsMinutes: []int32{1440, 60},
		MaxReschedules:         2,
		Timezone:               "UTC",
	}
	if s.repo == nil {
		return resp, nil
	}

	settings, err := s.repo.GetOrCreateSettings(ctx)
	if err != nil {
		return resp, nil
	}
	if settings.Timezone != "" {
		resp.Timezone = settings.Timezone
	}
	if settings.MaxReschedules > 0 {
		resp.MaxReschedules = int32(settings.MaxReschedules)
	}
	if len(settings.OffsetsMins) > 0 {
		resp.ReminderOffsetsMinutes = nil
		for _, v := range settings.OffsetsMins {
			if v <= 0 {
				continue
			}
			resp.ReminderOffsetsMinutes = append(resp.ReminderOffsetsMinutes, int32(v))
		}
		if len(resp.ReminderOffsetsMinutes) == 0 {
			resp.ReminderOffsetsMinutes = []int32{1440, 60}
		}
	}
	return resp, nil
}

// GetTimeOff returns the approved blackout windows for a provider on one
// date, merged so overlapping entries come back as a single window.
func (s *server) GetTimeOff(ctx context.Context, req *clinicv1.TimeOffRequest) (*clinicv1.TimeOffResponse, error) {
	resp := &clinicv1.TimeOffResponse{
		ProviderId: req.GetProviderId(),
		Date:       req.GetDate(),
	}
	if s.repo == nil || req.GetProviderId() == "" || req.GetDate() == "" {
		return resp, nil
	}

	blocks, err := s.repo.ListTimeOff(ctx, req.GetProviderId(), req.GetDate(), 500)
	if err != nil {
		return nil, err
	}

	merged := mergeBlocks(blocks)
	for _, b := range merged {
		resp.Windows = append(resp.Windows, &clinicv1.TimeOffWindow{
			StartMinute: int32(b.start),
			EndMinute:   int32(b.end),
		})
	}
	return resp, nil
}
