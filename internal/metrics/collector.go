// Package metrics aggregates verification results per tool and per process.
//
// The Collector keeps running totals, a streaming average execution time,
// failure counts by phase and a bounded buffer of recent failures. It is safe
// for concurrent use; each Record updates a tool's and a process's aggregate
// atomically with respect to readers.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/processd/internal/contract"
)

// DefaultRecentFailures is the default capacity of the recent-failure buffer.
const DefaultRecentFailures = 50

// FailureRecord describes one failed verification.
type FailureRecord struct {
	StepOrder        int            `json:"step_order"`
	StepName         string         `json:"step_name,omitempty"`
	ToolName         string         `json:"tool_name"`
	ProcessID        string         `json:"process_id"`
	Phase            contract.Phase `json:"phase"`
	FailedConditions []string       `json:"failed_conditions,omitempty"`
	Error            string         `json:"error,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// VerificationMetricRecord is a snapshot of the aggregate for one tool or
// one process. Exactly one of ToolName and ProcessID is set.
type VerificationMetricRecord struct {
	ToolName           string                   `json:"tool_name,omitempty"`
	ProcessID          string                   `json:"process_id,omitempty"`
	Total              int64                    `json:"total"`
	Passed             int64                    `json:"passed"`
	Failed             int64                    `json:"failed"`
	AvgExecutionTimeMs float64                  `json:"avg_execution_time_ms"`
	FailuresByPhase    map[contract.Phase]int64 `json:"failures_by_phase,omitempty"`
	RecentFailures     []FailureRecord          `json:"recent_failures"`
	LastUpdated        time.Time                `json:"last_updated"`
}

// PassRate returns Passed/Total, or 0 before any verification.
func (r VerificationMetricRecord) PassRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total)
}

type aggregate struct {
	total, passed, failed int64
	avgMs                 float64
	byPhase               map[contract.Phase]int64
	recent                *ring
	lastUpdated           time.Time
}

func newAggregate(capacity int) *aggregate {
	return &aggregate{byPhase: make(map[contract.Phase]int64), recent: newRing(capacity)}
}

func (a *aggregate) add(r contract.VerificationResult, now time.Time) {
	a.total++
	// Streaming mean keeps the average exact without storing samples.
	a.avgMs += (float64(r.ExecutionTimeMs) - a.avgMs) / float64(a.total)
	if r.Passed {
		a.passed++
	} else {
		a.failed++
		a.byPhase[r.Phase]++
		a.recent.push(FailureRecord{
			StepOrder:        r.StepOrder,
			StepName:         r.StepName,
			ToolName:         r.ToolName,
			ProcessID:        r.ProcessID,
			Phase:            r.Phase,
			FailedConditions: r.FailedConditionIDs(),
			Error:            r.Error,
			Timestamp:        r.Timestamp,
		})
	}
	a.lastUpdated = now
}

func (a *aggregate) snapshot() VerificationMetricRecord {
	byPhase := make(map[contract.Phase]int64, len(a.byPhase))
	for k, v := range a.byPhase {
		byPhase[k] = v
	}
	return VerificationMetricRecord{
		Total:              a.total,
		Passed:             a.passed,
		Failed:             a.failed,
		AvgExecutionTimeMs: a.avgMs,
		FailuresByPhase:    byPhase,
		RecentFailures:     a.recent.items(),
		LastUpdated:        a.lastUpdated,
	}
}

// Collector aggregates VerificationResults.
type Collector struct {
	mu        sync.RWMutex
	capacity  int
	tools     map[string]*aggregate
	processes map[string]*aggregate
	exporter  *Exporter
	now       func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithRecentFailures sets the capacity of each recent-failure buffer.
func WithRecentFailures(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithExporter mirrors every recorded result to Prometheus.
func WithExporter(e *Exporter) Option {
	return func(c *Collector) { c.exporter = e }
}

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates an empty collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		capacity:  DefaultRecentFailures,
		tools:     make(map[string]*aggregate),
		processes: make(map[string]*aggregate),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record adds one verification result to the tool and process aggregates.
func (c *Collector) Record(r contract.VerificationResult) {
	now := c.now()

	c.mu.Lock()
	tool, ok := c.tools[r.ToolName]
	if !ok {
		tool = newAggregate(c.capacity)
		c.tools[r.ToolName] = tool
	}
	tool.add(r, now)

	if r.ProcessID != "" {
		proc, ok := c.processes[r.ProcessID]
		if !ok {
			proc = newAggregate(c.capacity)
			c.processes[r.ProcessID] = proc
		}
		proc.add(r, now)
	}
	c.mu.Unlock()

	if c.exporter != nil {
		c.exporter.Observe(r)
	}
}

// Query returns the record for toolName, or every tool record sorted by
// name when toolName is empty. An unknown tool yields an empty slice.
func (c *Collector) Query(toolName string) []VerificationMetricRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return query(c.tools, toolName, func(rec *VerificationMetricRecord, key string) { rec.ToolName = key })
}

// QueryProcess is Query keyed by process.
func (c *Collector) QueryProcess(processID string) []VerificationMetricRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return query(c.processes, processID, func(rec *VerificationMetricRecord, key string) { rec.ProcessID = key })
}

func query(aggs map[string]*aggregate, key string, label func(*VerificationMetricRecord, string)) []VerificationMetricRecord {
	if key != "" {
		a, ok := aggs[key]
		if !ok {
			return []VerificationMetricRecord{}
		}
		rec := a.snapshot()
		label(&rec, key)
		return []VerificationMetricRecord{rec}
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]VerificationMetricRecord, 0, len(keys))
	for _, k := range keys {
		rec := aggs[k].snapshot()
		label(&rec, k)
		out = append(out, rec)
	}
	return out
}
