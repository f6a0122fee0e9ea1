package runner

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// Collector is the single-writer queue for suite results. Executors enqueue
// concurrently; one goroutine drains the queue into the canonical result set.
type Collector struct {
	log   log.Logger
	queue chan types.SuiteResult
	done  chan struct{}

	mu     sync.RWMutex
	frozen bool

	// owned by the drain goroutine until done is closed
	results  map[string]types.SuiteResult
	rejected []types.SuiteResult
}

// NewCollector starts a collector with the given queue capacity
func NewCollector(logger log.Logger, capacity int) *Collector {
	if logger == nil {
		logger = log.New()
	}
	if capacity < 0 {
		capacity = 0
	}
	c := &Collector{
		log:     logger.New("component", "result-collector"),
		queue:   make(chan types.SuiteResult, capacity),
		done:    make(chan struct{}),
		results: make(map[string]types.SuiteResult),
	}
	go c.drain()
	return c
}

func (c *Collector) drain() {
	defer close(c.done)
	for res := range c.queue {
		if _, exists := c.results[res.SuiteID]; exists {
			c.log.Error("Rejecting duplicate suite result", "suite", res.SuiteID, "status", res.Status)
			c.rejected = append(c.rejected, res)
			continue
		}
		c.results[res.SuiteID] = res
	}
}

// Add enqueues a result. It fails once the collector is frozen.
func (c *Collector) Add(res types.SuiteResult) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.frozen {
		return fmt.Errorf("collector is frozen, dropping result for suite %s", res.SuiteID)
	}
	c.queue <- res
	return nil
}

// Freeze stops intake, waits for the queue to drain and returns the results sorted by suite id.
// Calling Freeze again returns the same set.
func (c *Collector) Freeze() []types.SuiteResult {
	c.mu.Lock()
	if !c.frozen {
		c.frozen = true
		close(c.queue)
	}
	c.mu.Unlock()
	<-c.done

	out := make([]types.SuiteResult, 0, len(c.results))
	for _, res := range c.results {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SuiteID < out[j].SuiteID })
	return out
}

// Rejected returns the duplicate results dropped by the collector. Only valid after Freeze.
func (c *Collector) Rejected() []types.SuiteResult {
	<-c.done
	return append([]types.SuiteResult(nil), c.rejected...)
}
