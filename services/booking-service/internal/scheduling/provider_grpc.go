//go:build protogen

package scheduling

import (
	"context"
	"time"

	"github.com/novadent/platform/libs/grpcx"
	clinicv1 "github.com/novadent/platform/protos/gen/clinic/v1"
)

// Window is a blocked [StartMinute, EndMinute) range of a provider's day.
type Window struct {
	StartMinute int
	EndMinute   int
}

type Provider interface {
	TimeOffWindows(ctx context.Context, providerID, date string) ([]Window, error)
}

type grpcProvider struct {
	client clinicv1.ClinicServiceClient
}

func NewProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: clinicv1.NewClinicServiceClient(conn)}, nil
}

func (p *grpcProvider) TimeOffWindows(ctx context.Context, providerID, date string) ([]Window, error) {
	resp, err := p.client.GetTimeOff(ctx, &clinicv1.TimeOffRequest{
		ProviderId: providerID,
		Date:       date,
	})
	if err != nil {
		return nil, err
	}
	var out []Window
	for _, w := range resp.GetWindows() {
		start := int(w.GetStartMinute())
		end := int(w.GetEndMinute())
		if end > start {
			out = append(out, Window{StartMinute: start, EndMinute: end})
		}
	}
	return out, nil
}
