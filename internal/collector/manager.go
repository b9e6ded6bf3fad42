package collector

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is one long-running component of the service.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Manager runs tasks concurrently until ctx is done or a task fails, then
// closes the registered closers.
type Manager struct {
	Tasks   []Task
	Closers []io.Closer
	Log     *logrus.Entry
	// Grace bounds the wait for tasks to return after cancellation.
	Grace time.Duration
}

// Run blocks until every task returned or the grace period elapsed. The
// first task error is returned.
func (m *Manager) Run(ctx context.Context) error {
	log := m.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	grace := m.Grace
	if grace <= 0 {
		grace = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, t := range m.Tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			if err := t.Run(ctx); err != nil {
				log.WithError(err).WithField("task", t.Name).Error("task stopped")
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				cancel()
				return
			}
			log.WithField("task", t.Name).Debug("task finished")
		}(t)
	}

	<-ctx.Done()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(grace):
		log.Warn("timeout waiting for tasks to stop")
	}

	for _, c := range m.Closers {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("close failed")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	return firstErr
}
