package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/blues/cfledger/internal/logger"
	"github.com/go-co-op/gocron/v2"
)

// Job 定时任务
type Job interface {
	GetName() string
	Execute()
}

// Manager 任务管理器
type Manager struct {
	scheduler gocron.Scheduler
	interval  time.Duration
}

// NewManager 创建新的任务管理器，interval 为所有任务的执行间隔
func NewManager(interval time.Duration) (*Manager, error) {
	if interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Manager{
		scheduler: s,
		interval:  interval,
	}, nil
}

// Register 注册任务，启动后立即执行一次
func (m *Manager) Register(job Job) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(job.Execute),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", job.GetName(), err)
	}
	return nil
}

// Start 启动任务管理器
func (m *Manager) Start() {
	m.scheduler.Start()
	logger.Info("Task manager started with %d jobs, interval %s", len(m.scheduler.Jobs()), m.interval)
}

// Stop 停止任务管理器
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("Failed to shutdown scheduler: %v", err)
	}
	logger.Info("Task manager stopped")
}
