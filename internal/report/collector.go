package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Sink receives every completed suite after it has been recorded locally.
type Sink interface {
	Name() string
	Publish(ctx context.Context, suite SuiteResult) error
	Close() error
}

const (
	sinkQueueSize      = 256
	sinkPublishTimeout = 5 * time.Second
)

// Collector is the process-wide result collector. Each connection hands it
// one complete suite; appends are serialized so concurrent connections never
// observe each other's partial results.
type Collector struct {
	mu          sync.RWMutex
	suites      []SuiteResult
	reportPath  string
	sinks       []Sink
	queue       chan SuiteResult
	done        chan struct{}
	closed      bool
	subscribers map[int]chan SuiteResult // live listeners, see Subscribe
	nextSub     int
	logger      *slog.Logger
}

// NewCollector creates a collector that rewrites the JUnit report at
// reportPath after every recorded suite. An empty path keeps results in
// memory only. Sinks are fed from a background goroutine.
func NewCollector(reportPath string, sinks ...Sink) *Collector {
	c := &Collector{
		reportPath:  reportPath,
		sinks:       sinks,
		queue:       make(chan SuiteResult, sinkQueueSize),
		done:        make(chan struct{}),
		subscribers: make(map[int]chan SuiteResult),
		logger:      slog.Default().With("component", "collector"),
	}
	go c.publishLoop()
	return c
}

// Record appends a suite, refreshes the report file and schedules the suite
// for the configured sinks.
func (c *Collector) Record(suite SuiteResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.suites = append(c.suites, suite)
	failures, errs := suite.Counts()
	c.logger.Info("suite_recorded",
		"suite", suite.Name,
		"connection_id", suite.ConnectionID,
		"cases", len(suite.Cases),
		"failures", failures,
		"errors", errs,
		"aborted", suite.Aborted,
	)

	if !c.closed && len(c.sinks) > 0 {
		select {
		case c.queue <- suite:
		default:
			c.logger.Warn("sink_queue_full", "suite", suite.Name, "connection_id", suite.ConnectionID)
		}
	}

	for id, ch := range c.subscribers {
		select {
		case ch <- suite:
		default:
			c.logger.Warn("subscriber_lagging", "subscriber", id, "suite", suite.Name)
		}
	}

	if c.reportPath == "" {
		return nil
	}
	if err := WriteJUnitFile(c.reportPath, c.suites); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Suites returns a snapshot of every recorded suite.
func (c *Collector) Suites() []SuiteResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]SuiteResult(nil), c.suites...)
}

// WriteReport renders the current results to the report path.
func (c *Collector) WriteReport() error {
	if c.reportPath == "" {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return WriteJUnitFile(c.reportPath, c.suites)
}

// Subscribe returns a channel receiving every suite recorded from now on
// and a function that ends the subscription. Suites are dropped for a
// subscriber whose buffer is full. The channel is closed by cancel or by
// Close.
func (c *Collector) Subscribe(buffer int) (<-chan SuiteResult, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan SuiteResult, buffer)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(sub)
			}
		})
	}
}

// ReportPath returns where the JUnit report is written.
func (c *Collector) ReportPath() string {
	return c.reportPath
}

func (c *Collector) publishLoop() {
	defer close(c.done)
	for suite := range c.queue {
		for _, sink := range c.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkPublishTimeout)
			if err := sink.Publish(ctx, suite); err != nil {
				c.logger.Error("sink_publish_failed",
					"sink", sink.Name(),
					"suite", suite.Name,
					"error", err,
				)
			}
			cancel()
		}
	}
}

// Close stops accepting sink work, drains the queue and closes every sink.
// Suites recorded afterwards still reach the report file.
func (c *Collector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	c.mu.Unlock()

	<-c.done

	var errs []error
	for _, sink := range c.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
