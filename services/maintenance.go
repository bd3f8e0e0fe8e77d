package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

const (
	purgeInterval = 15 * time.Minute
	// Staged chunks older than this belong to a run that died between
	// staging and swap; no live run stages for this long.
	staleStagedAge = time.Hour
)

// MaintenanceService periodically purges staged chunk generations left
// behind by crashed ingestion runs.
type MaintenanceService struct {
	scheduler *gocron.Scheduler
	store     *ChunkStore
}

// NewMaintenanceService creates the maintenance scheduler.
func NewMaintenanceService(store *ChunkStore) *MaintenanceService {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	return &MaintenanceService{
		scheduler: s,
		store:     store,
	}
}

// Start schedules the purge job and runs the scheduler in the background.
func (m *MaintenanceService) Start() error {
	_, err := m.scheduler.Every(purgeInterval).Tag("purge-stale-staged").Do(m.purgeStaleStaged)
	if err != nil {
		return err
	}

	m.scheduler.StartAsync()
	slog.Info("maintenance scheduler started", "purge_interval", purgeInterval.String())
	return nil
}

// Stop stops the scheduler.
func (m *MaintenanceService) Stop() {
	m.scheduler.Stop()
}

func (m *MaintenanceService) purgeStaleStaged() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	purged, err := m.store.PurgeStaleStaged(ctx, staleStagedAge)
	if err != nil {
		slog.Error("stale staged chunk purge failed", "error", err)
		return
	}
	if purged > 0 {
		slog.Info("purged stale staged chunks", "count", purged)
	}
}
