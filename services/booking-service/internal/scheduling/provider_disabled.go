//go:build !protogen

package scheduling

import "context"

// Window is a blocked [StartMinute, EndMinute) range of a provider's day.
type Window struct {
	StartMinute int
	EndMinute   int
}

type Provider interface {
	TimeOffWindows(ctx context.Context, providerID, date string) ([]Window, error)
}

func NewProvider(_ string) (Provider, error) {
	return nil, nil
}
