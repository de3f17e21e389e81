package session

import (
	"context"
	"sync"
	"time"

	"crisis-monitor/pkg/util"

	"github.com/sirupsen/logrus"
)

// SweeperConfig holds configuration for the inactivity sweep
type SweeperConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Sweeper periodically ends sessions that have been idle too long
type Sweeper struct {
	logger   *logrus.Entry
	manager  *Manager
	interval time.Duration
	timeout  time.Duration
	panics   *util.PanicHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates an inactivity sweeper for the manager
func NewSweeper(manager *Manager, config SweeperConfig, logger *logrus.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = 2 * time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		logger:   logger.WithField("component", "session_sweeper"),
		manager:  manager,
		interval: config.Interval,
		timeout:  config.Timeout,
		panics:   util.NewPanicHandler(logger),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the sweep loop
func (s *Sweeper) Start() {
	s.wg.Add(1)
	s.panics.SafeGo("session_sweeper", s.loop)
	s.logger.WithFields(logrus.Fields{
		"sweep_interval":  s.interval,
		"session_timeout": s.timeout,
	}).Info("Session sweeper started")
}

// Stop stops the sweep loop, waiting at most timeout
func (s *Sweeper) Stop(timeout time.Duration) {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Session sweeper stopped")
	case <-time.After(timeout):
		s.logger.Warn("Session sweeper stop timed out")
	}
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepTick()
		}
	}
}

// sweepTick keeps the loop alive when a single sweep panics
func (s *Sweeper) sweepTick() {
	defer s.panics.Recover("session_sweeper")
	s.Sweep(s.ctx, s.manager.now())
}

// Sweep ends every session idle since before now minus the timeout and
// returns the number ended.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-s.timeout)
	ended := 0

	for _, id := range s.manager.store.IDs() {
		summary, err := s.manager.expire(ctx, id, cutoff)
		if err != nil {
			continue
		}
		if summary != nil {
			ended++
		}
	}

	if ended > 0 {
		s.logger.WithFields(logrus.Fields{
			"ended":  ended,
			"active": s.manager.store.Count(),
		}).Info("Expired inactive sessions")
	}
	return ended
}
