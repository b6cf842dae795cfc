package storage

import (
	"context"
	"log/slog"

	"gorm.io/gorm"
)

// UsageLogRepository appends audit records for verification API calls.
type UsageLogRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewUsageLogRepository creates a usage log repository
func NewUsageLogRepository(db *gorm.DB, logger *slog.Logger) *UsageLogRepository {
	return &UsageLogRepository{db: db, logger: logger.With(slog.String("component", "usage_log"))}
}

// Append records one API call. Auditing is best-effort: a failed insert is
// logged and swallowed so it can never fail the verification call itself.
func (r *UsageLogRepository) Append(ctx context.Context, entry *SubscriptionUsageLog) {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		r.logger.ErrorContext(ctx, "failed to append usage log",
			slog.String("endpoint", entry.APIEndpoint),
			slog.Uint64("client_id", uint64(entry.ClientID)),
			slog.String("error", err.Error()),
		)
	}
}
