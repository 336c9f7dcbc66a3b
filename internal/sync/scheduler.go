package sync

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"caseline-sync/internal/config"
	"caseline-sync/internal/errs"
	"caseline-sync/internal/logger"
)

// Scheduler triggers periodic sync cycles on a cron interval.
type Scheduler struct {
	cfg     config.SchedulerConfig
	engine  *Engine
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, engine *Engine) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		engine: engine,
		cron:   cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, func() {
		s.triggerSync()
	})
	if err != nil {
		logger.Log.Error("Failed to schedule sync job", zap.Error(err))
		return
	}

	s.entryID = id
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerSync() {
	logger.Log.Info("Triggering scheduled sync")

	_, err := s.engine.RunSyncCycle(context.Background(), nil)
	if errors.Is(err, errs.ErrSyncInProgress) {
		logger.Log.Info("Sync already running, skipping scheduled run")
		return
	}
	if err != nil {
		logger.Log.Error("Scheduled sync failed", zap.Error(err))
	}
}
