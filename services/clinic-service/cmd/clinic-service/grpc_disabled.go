//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/novadent/platform/libs/db"
	"github.com/novadent/platform/services/clinic-service/internal/storage"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ *db.Pool, _ *storage.Repository) error {
	return nil
}
