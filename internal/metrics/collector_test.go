package metrics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/processd/internal/contract"
)

func passed(tool string, ms int64) contract.VerificationResult {
	return contract.VerificationResult{ToolName: tool, ProcessID: "lead_intake", Passed: true, ExecutionTimeMs: ms}
}

func failed(tool string, phase contract.Phase, ms int64) contract.VerificationResult {
	return contract.VerificationResult{
		ToolName:         tool,
		ProcessID:        "lead_intake",
		Phase:            phase,
		ExecutionTimeMs:  ms,
		FailedConditions: []contract.Condition{{ID: "c1"}},
	}
}

func TestCollector_Totals(t *testing.T) {
	c := NewCollector()
	c.Record(passed("create_customer", 10))
	c.Record(passed("create_customer", 20))
	c.Record(failed("create_customer", contract.PhasePostcondition, 30))

	recs := c.Query("create_customer")
	require.Len(t, recs, 1)
	rec := recs[0]

	assert.Equal(t, "create_customer", rec.ToolName)
	assert.Equal(t, int64(3), rec.Total)
	assert.Equal(t, int64(2), rec.Passed)
	assert.Equal(t, int64(1), rec.Failed)
	assert.Equal(t, rec.Total, rec.Passed+rec.Failed)
	assert.InDelta(t, 20.0, rec.AvgExecutionTimeMs, 1e-9)
	assert.Equal(t, int64(1), rec.FailuresByPhase[contract.PhasePostcondition])
	require.Len(t, rec.RecentFailures, 1)
	assert.Equal(t, []string{"c1"}, rec.RecentFailures[0].FailedConditions)
	assert.InDelta(t, 2.0/3.0, rec.PassRate(), 1e-9)
}

func TestCollector_QueryAllAndUnknown(t *testing.T) {
	c := NewCollector()
	c.Record(passed("b_tool", 1))
	c.Record(passed("a_tool", 1))

	all := c.Query("")
	require.Len(t, all, 2)
	assert.Equal(t, "a_tool", all[0].ToolName)
	assert.Equal(t, "b_tool", all[1].ToolName)

	assert.Empty(t, c.Query("unknown"))
	assert.NotNil(t, c.Query("unknown"))
}

func TestCollector_QueryProcess(t *testing.T) {
	c := NewCollector()
	c.Record(passed("a_tool", 1))
	c.Record(failed("b_tool", contract.PhasePrecondition, 1))

	recs := c.QueryProcess("lead_intake")
	require.Len(t, recs, 1)
	assert.Equal(t, "lead_intake", recs[0].ProcessID)
	assert.Empty(t, recs[0].ToolName)
	assert.Equal(t, int64(2), recs[0].Total)
	assert.Equal(t, int64(1), recs[0].FailuresByPhase[contract.PhasePrecondition])
}

func TestCollector_RecentFailuresBounded(t *testing.T) {
	c := NewCollector(WithRecentFailures(3))
	for i := 0; i < 5; i++ {
		r := failed("t", contract.PhaseExecution, 1)
		r.StepOrder = i
		c.Record(r)
	}

	rec := c.Query("t")[0]
	require.Len(t, rec.RecentFailures, 3)
	assert.Equal(t, 2, rec.RecentFailures[0].StepOrder, "oldest entries are evicted first")
	assert.Equal(t, 4, rec.RecentFailures[2].StepOrder)
	assert.Equal(t, int64(5), rec.Failed)
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector()
	c.Record(failed("t", contract.PhaseExecution, 1))

	rec := c.Query("t")[0]
	rec.FailuresByPhase[contract.PhaseExecution] = 99
	rec.RecentFailures[0].ToolName = "mutated"

	fresh := c.Query("t")[0]
	assert.Equal(t, int64(1), fresh.FailuresByPhase[contract.PhaseExecution])
	assert.Equal(t, "t", fresh.RecentFailures[0].ToolName)
}

func TestCollector_LastUpdated(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCollector(WithClock(func() time.Time { return at }))
	c.Record(passed("t", 1))
	assert.Equal(t, at, c.Query("t")[0].LastUpdated)
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if i%4 == 0 {
					c.Record(failed(fmt.Sprintf("tool_%d", g%2), contract.PhaseExecution, 5))
				} else {
					c.Record(passed(fmt.Sprintf("tool_%d", g%2), 5))
				}
				_ = c.Query("")
			}
		}(g)
	}
	wg.Wait()

	var total int64
	for _, rec := range c.Query("") {
		assert.Equal(t, rec.Total, rec.Passed+rec.Failed)
		assert.InDelta(t, 5.0, rec.AvgExecutionTimeMs, 1e-9)
		total += rec.Total
	}
	assert.Equal(t, int64(800), total)
	assert.Equal(t, int64(800), c.QueryProcess("lead_intake")[0].Total)
}

func TestExporter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(WithExporter(NewExporter(reg)))

	c.Record(passed("create_customer", 100))
	c.Record(failed("create_customer", contract.PhaseDBAssertion, 200))

	e := c.exporter
	assert.Equal(t, 1.0, testutil.ToFloat64(e.verifications.WithLabelValues("create_customer", "lead_intake", "passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.verifications.WithLabelValues("create_customer", "lead_intake", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.failures.WithLabelValues("create_customer", "lead_intake", "db_assertion")))
	assert.Equal(t, 1, testutil.CollectAndCount(e.stepDuration))

	// A second exporter on a fresh registry must not collide.
	assert.NotPanics(t, func() { NewExporter(prometheus.NewRegistry()) })
	assert.NotPanics(t, func() { NewExporter(nil) })
}
