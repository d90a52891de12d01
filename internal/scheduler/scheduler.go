package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/LJTian/MarketPulse/internal/config"
	"github.com/LJTian/MarketPulse/internal/coordinator"
)

// ErrRunInProgress 上一次采集尚未结束
var ErrRunInProgress = errors.New("collection run already in progress")

// Runner 执行一次采集，由 coordinator.Coordinator 实现
type Runner interface {
	Run(ctx context.Context, sources []config.Source) (*coordinator.CollectionRun, error)
}

// Scheduler 按 cron 表达式触发采集；同一时间只允许一次采集
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	sources []config.Source
	timeout time.Duration
	log     logrus.FieldLogger

	mu      sync.Mutex
	running bool
	last    *coordinator.CollectionRun
	// Trigger 启动的后台采集
	triggered sync.WaitGroup
}

// New timeout 为单次采集的最长时间，0 表示不限制
func New(spec string, runner Runner, sources []config.Source, timeout time.Duration, log logrus.FieldLogger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		runner:  runner,
		sources: sources,
		timeout: timeout,
		log:     log,
	}

	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RunOnce(context.Background()); err != nil && !errors.Is(err, ErrRunInProgress) {
			s.log.WithError(err).Warn("scheduled collection failed")
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停止触发新的采集，并等待定时与手动触发的采集结束或 ctx 到期
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.triggered.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce 对外暴露的单次执行入口，方便手动触发采集；已有采集在执行时返回 ErrRunInProgress
func (s *Scheduler) RunOnce(ctx context.Context) (*coordinator.CollectionRun, error) {
	if !s.acquire() {
		s.log.Warn("collection skipped: previous run still in progress")
		return nil, ErrRunInProgress
	}
	return s.run(ctx)
}

// run 调用方已持有执行权，结束时释放
func (s *Scheduler) run(ctx context.Context) (*coordinator.CollectionRun, error) {
	defer s.release()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.log.Info("start collect job...")
	run, err := s.runner.Run(ctx, s.sources)

	s.mu.Lock()
	s.last = run
	s.mu.Unlock()
	return run, err
}

// Trigger 在后台开始一次采集，立即返回；已有采集在执行时返回 ErrRunInProgress
func (s *Scheduler) Trigger() error {
	if !s.acquire() {
		return ErrRunInProgress
	}

	s.triggered.Add(1)
	go func() {
		defer s.triggered.Done()
		if _, err := s.run(context.Background()); err != nil {
			s.log.WithError(err).Warn("triggered collection failed")
		}
	}()
	return nil
}

// Running 当前是否有采集在执行
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Last 最近一次结束的采集，尚未执行过时为 nil
func (s *Scheduler) Last() *coordinator.CollectionRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
