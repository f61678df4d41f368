package cron

import (
	"Courier/internal/job"
	log "log/slog"

	"github.com/robfig/cron/v3"
)

type Manager struct {
	engine               *cron.Cron
	typingSweepJob       *job.TypingSweepJob
	offlineQueueAuditJob *job.OfflineQueueAuditJob
}

func NewCronManager(typingSweepJob *job.TypingSweepJob, offlineQueueAuditJob *job.OfflineQueueAuditJob) *Manager {
	return &Manager{
		engine:               cron.New(cron.WithSeconds()),
		typingSweepJob:       typingSweepJob,
		offlineQueueAuditJob: offlineQueueAuditJob,
	}
}

// RegisterJobs 注册定时任务
func (s *Manager) RegisterJobs() error {
	if _, err := s.engine.AddJob("@every 1m", s.typingSweepJob); err != nil {
		return err
	}
	if _, err := s.engine.AddJob("@hourly", s.offlineQueueAuditJob); err != nil {
		return err
	}
	return nil
}

func (s *Manager) Start() {
	log.Info("Cron 定时任务引擎启动")
	s.engine.Start()
}

func (s *Manager) Stop() {
	log.Info("Cron 定时任务引擎停止")
	s.engine.Stop()
}
