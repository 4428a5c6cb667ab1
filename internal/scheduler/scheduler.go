// Package scheduler 基于cron表达式运行后台周期任务
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hewenyu/church-monitor/internal/config"
)

// Job 周期任务，ctx在调度器停止时取消
type Job func(ctx context.Context)

// Scheduler 管理所有后台周期任务
type Scheduler struct {
	cron    *cron.Cron
	logger  config.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
	mu      sync.Mutex
}

// New 创建调度器，同一任务上一次未结束时跳过本次触发
func New(logger config.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Add 注册一个命名任务，同名任务会被替换
func (s *Scheduler) Add(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}

	id, err := s.cron.AddFunc(spec, func() {
		job(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("注册周期任务%s失败: %w", name, err)
	}
	s.entries[name] = id

	s.logger.Info("周期任务已注册", zap.String("job", name), zap.String("schedule", spec))
	return nil
}

// Jobs 返回已注册的任务名称
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("调度器已启动")
}

// Stop 停止调度并等待正在运行的任务结束或ctx超时
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("调度器已停止")
	case <-ctx.Done():
		s.logger.Warn("等待周期任务结束超时")
	}
}

// cronLogger 把cron的日志转到zap
type cronLogger struct {
	logger config.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		out = append(out, zap.Any(key, keysAndValues[i+1]))
	}
	return out
}
