package db

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MonitorPool logs pool statistics every interval until ctx is done.
func (d *DB) MonitorPool(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := d.Pool.Stat()
			logger.Debug("database pool stats",
				zap.Int32("total_conns", stats.TotalConns()),
				zap.Int32("idle_conns", stats.IdleConns()),
				zap.Int32("acquired_conns", stats.AcquiredConns()),
				zap.Int64("acquire_count", stats.AcquireCount()),
				zap.Duration("acquire_duration", stats.AcquireDuration()),
				zap.Int64("canceled_acquire_count", stats.CanceledAcquireCount()),
			)
		case <-ctx.Done():
			return
		}
	}
}
