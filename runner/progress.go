package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// ProgressIndicator receives execution progress updates
type ProgressIndicator interface {
	StartRun(totalWaves, totalSuites int)
	StartWave(index, size int)
	StartSuite(suiteID string)
	CompleteSuite(suiteID string, status types.SuiteStatus)
	CompleteWave(index int)
	Stop()
}

// noOpProgressIndicator provides a no-op implementation of ProgressIndicator
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) StartRun(totalWaves, totalSuites int)                   {}
func (n *noOpProgressIndicator) StartWave(index, size int)                              {}
func (n *noOpProgressIndicator) StartSuite(suiteID string)                              {}
func (n *noOpProgressIndicator) CompleteSuite(suiteID string, status types.SuiteStatus) {}
func (n *noOpProgressIndicator) CompleteWave(index int)                                 {}
func (n *noOpProgressIndicator) Stop()                                                  {}

// consoleProgressIndicator periodically logs which suites are running
type consoleProgressIndicator struct {
	logger   log.Logger
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex

	totalWaves      int
	totalSuites     int
	currentWave     int
	completedSuites int
	waveStartTime   time.Time

	// suite id -> start time
	runningSuites map[string]time.Time
}

// NewConsoleProgressIndicator creates a progress indicator that shows updates in the console
func NewConsoleProgressIndicator(logger log.Logger, updateInterval time.Duration) ProgressIndicator {
	if updateInterval <= 0 {
		updateInterval = DefaultProgressInterval
	}
	if logger == nil {
		logger = log.New()
	}

	indicator := &consoleProgressIndicator{
		logger:        logger,
		ticker:        time.NewTicker(updateInterval),
		stopCh:        make(chan struct{}),
		runningSuites: make(map[string]time.Time),
	}

	go indicator.progressReporter()

	return indicator
}

func (c *consoleProgressIndicator) StartRun(totalWaves, totalSuites int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalWaves = totalWaves
	c.totalSuites = totalSuites
	c.completedSuites = 0
	c.runningSuites = make(map[string]time.Time)
	c.logger.Info("Starting execution", "waves", totalWaves, "suites", totalSuites)
}

func (c *consoleProgressIndicator) StartWave(index, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentWave = index
	c.waveStartTime = time.Now()
	c.logger.Info("Starting wave", "wave", index+1, "of", c.totalWaves, "suites", size)
}

func (c *consoleProgressIndicator) StartSuite(suiteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runningSuites[suiteID] = time.Now()
	c.logger.Debug("Suite started", "suite", suiteID, "running", len(c.runningSuites))
}

func (c *consoleProgressIndicator) CompleteSuite(suiteID string, status types.SuiteStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.runningSuites, suiteID)
	c.completedSuites++
	c.logger.Debug("Suite completed", "suite", suiteID, "status", status,
		"completed", c.completedSuites, "total", c.totalSuites)
}

func (c *consoleProgressIndicator) CompleteWave(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Since(c.waveStartTime).Truncate(time.Second)
	c.logger.Info("Completed wave", "wave", index+1, "of", c.totalWaves, "duration", duration)
}

func (c *consoleProgressIndicator) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *consoleProgressIndicator) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var percentComplete float64
	if c.totalSuites > 0 {
		percentComplete = float64(c.completedSuites) * 100.0 / float64(c.totalSuites)
	}

	c.logger.Info("Progress update",
		"wave", c.currentWave+1,
		"waves", c.totalWaves,
		"completed", c.completedSuites,
		"total", c.totalSuites,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"numRunning", len(c.runningSuites),
		"longestRunning", formatRunningSuites(c.runningSuites, 3))
}

// Stop stops the progress indicator
func (c *consoleProgressIndicator) Stop() {
	c.stopOnce.Do(func() {
		c.ticker.Stop()
		close(c.stopCh)
	})
}

// formatRunningSuites lists the longest running suites first, at most maxShow of them
func formatRunningSuites(running map[string]time.Time, maxShow int) string {
	if len(running) == 0 {
		return ""
	}

	type runningSuite struct {
		id       string
		duration time.Duration
	}

	now := time.Now()
	suites := make([]runningSuite, 0, len(running))
	for id, startTime := range running {
		suites = append(suites, runningSuite{id: id, duration: now.Sub(startTime)})
	}
	sort.Slice(suites, func(i, j int) bool {
		if suites[i].duration != suites[j].duration {
			return suites[i].duration > suites[j].duration
		}
		return suites[i].id < suites[j].id
	})

	var parts []string
	for i, s := range suites {
		if i >= maxShow {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%v)", s.id, s.duration.Truncate(time.Second)))
	}
	if len(suites) > maxShow {
		parts = append(parts, fmt.Sprintf("+%d more", len(suites)-maxShow))
	}
	return strings.Join(parts, ", ")
}
