package services

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/trackflow/trackflow/internal/config"
	"github.com/trackflow/trackflow/internal/models"
	"github.com/trackflow/trackflow/internal/store"
	"github.com/trackflow/trackflow/pkg/logger"
)

// SyncScheduler periodically refreshes connections that have not synced
// recently. Refreshes are issues-only, run with the scheduled source so no
// confirmation gate applies, and connections that already have an active
// operation are skipped without noise.
type SyncScheduler struct {
	connections store.ConnectionStore
	syncService *SyncService
	cfg         *config.SyncConfig
	cron        *cron.Cron
	entryID     cron.EntryID
}

func NewSyncScheduler(connections store.ConnectionStore, syncService *SyncService, cfg *config.SyncConfig) *SyncScheduler {
	return &SyncScheduler{
		connections: connections,
		syncService: syncService,
		cfg:         cfg,
	}
}

// Start registers the cron entry. An empty schedule disables the scheduler.
func (s *SyncScheduler) Start() {
	if s.cfg.Schedule == "" {
		logger.Infof("[Scheduler] no schedule configured, background refresh disabled")
		return
	}

	s.cron = cron.New()
	entryID, err := s.cron.AddFunc(s.cfg.Schedule, s.tick)
	if err != nil {
		logger.Errorf("[Scheduler] invalid schedule %q: %v", s.cfg.Schedule, err)
		return
	}
	s.entryID = entryID
	s.cron.Start()
	logger.Infof("[Scheduler] background refresh scheduled (cron: %s, stale after %dh)",
		s.cfg.Schedule, s.cfg.StaleAfterHours)
}

func (s *SyncScheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *SyncScheduler) tick() {
	cutoff := time.Now().Add(-time.Duration(s.cfg.StaleAfterHours) * time.Hour)
	stale, err := s.connections.ListStale(cutoff)
	if err != nil {
		logger.Errorf("[Scheduler] listing stale connections: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	logger.Infof("[Scheduler] refreshing %d stale connection(s)", len(stale))
	for i := range stale {
		s.refresh(&stale[i])
	}
}

func (s *SyncScheduler) refresh(conn *models.RepositoryConnection) {
	_, err := s.syncService.TriggerSync(context.Background(), &TriggerRequest{
		ConnectionID: conn.ID,
		SyncType:     models.SyncTypeIssuesOnly,
		Source:       models.SyncSourceScheduled,
	})
	if err == nil {
		return
	}

	var conflict *SyncConflictError
	if errors.As(err, &conflict) {
		// Already syncing, the refresh is redundant.
		return
	}
	logger.Warnf("[Scheduler] refresh of connection %d failed: %v", conn.ID, err)
}
