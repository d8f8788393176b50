package task

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

type task struct {
	function    func()
	interval    time.Duration
	name        string
	latency     prometheus.Histogram
	stopChannel chan struct{}
}

// BackgroundTaskManager runs functions on a fixed interval until stopped.
// It is not threadsafe, it should only be accessed from a single thread.
type BackgroundTaskManager struct {
	tasks         []*task
	metricsPrefix string
	registerer    prometheus.Registerer
	wg            *sync.WaitGroup
}

// NewBackgroundTaskManager creates a manager whose latency histograms are registered with registerer.
// A nil registerer keeps the histograms unregistered, which is what tests want.
func NewBackgroundTaskManager(metricsPrefix string, registerer prometheus.Registerer) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		tasks:         []*task{},
		metricsPrefix: metricsPrefix,
		registerer:    registerer,
		wg:            &sync.WaitGroup{},
	}
}

// Register runs backgroundTask once immediately and then every interval.
func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, name string) {
	t := &task{
		function: backgroundTask,
		interval: interval,
		name:     name,
		latency: promauto.With(m.registerer).NewHistogram(
			prometheus.HistogramOpts{
				Name:    m.metricsPrefix + name + "_latency_seconds",
				Help:    "Background loop " + name + " latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			}),
		stopChannel: make(chan struct{}),
	}
	m.startBackgroundTask(t)
	m.tasks = append(m.tasks, t)
}

// StopAll signals every task to stop and reports whether waiting for them timed out.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	for _, t := range m.tasks {
		close(t.stopChannel)
	}
	m.tasks = nil
	return m.waitForShutdownCompletion(timeout)
}

func (m *BackgroundTaskManager) startBackgroundTask(t *task) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			m.run(t)
			select {
			case <-ticker.C:
			case <-t.stopChannel:
				log.Debugf("background task %s stopped", t.name)
				return
			}
		}
	}()
}

func (m *BackgroundTaskManager) run(t *task) {
	start := time.Now()
	t.function()
	t.latency.Observe(time.Since(start).Seconds())
}

func (m *BackgroundTaskManager) waitForShutdownCompletion(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false // completed normally
	case <-time.After(timeout):
		return true // timed out
	}
}
