package monitoring

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/engine"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/memory"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
)

func TestObserverMethods(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ExecutionFinished(engine.StateCompleted, "", 10*time.Millisecond, true)
	m.ExecutionFinished(engine.StateTimedOut, errs.KindExecutionTimeout, time.Second, false)
	m.InstanceCreated()
	m.InstanceDiscarded(sandbox.DiscardTimeout)
	m.AcquireWaited(time.Millisecond, false)
	m.RegionAllocated(memory.KindPooled, 64)
	m.RegionAllocated(memory.KindPooled, 32)
	m.RegionFreed(memory.KindPooled, 64, memory.FreeRefcount)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("timed_out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionErrors.WithLabelValues("execution_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InstancesCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InstancesDiscarded.WithLabelValues("timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AcquireWait))
	assert.Equal(t, 32.0, testutil.ToFloat64(m.LiveBytes.WithLabelValues(memory.KindPooled.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegionsFreed.WithLabelValues(memory.KindPooled.String(), "refcount")))
}

func TestMetricsFollowEngine(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	config := engine.DefaultConfig()
	config.Memory.SweepInterval = 0
	eng, err := engine.New(config, nil, m)
	require.NoError(t, err)
	defer eng.Close()
	m.Watch(eng)
	m.Watch(eng)

	ctx := context.Background()
	for n := 0; n < 3; n++ {
		res := eng.Submit(ctx, "Buffer.alloc(8).length", nil, eng.DefaultOptions())
		require.True(t, res.Success, "error: %v", res.Error)
	}
	eng.Submit(ctx, "function (", nil, eng.DefaultOptions())

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Executions.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionErrors.WithLabelValues("compile")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RegionsAllocated.WithLabelValues(memory.KindPooled.String())))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LiveBytes.WithLabelValues(memory.KindPooled.String())))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetGauge() != nil:
				values[f.GetName()] = metric.GetGauge().GetValue()
			case metric.GetCounter() != nil:
				values[f.GetName()] = metric.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, values["scriptd_cache_entries"])
	assert.Equal(t, 2.0, values["scriptd_cache_compiles_total"])
	assert.Equal(t, 1.0, values["scriptd_cache_compile_failures_total"])
	assert.Equal(t, 0.0, values["scriptd_pool_in_use"])
	assert.Equal(t, 0.0, values["scriptd_buffer_live_regions"])
	assert.Contains(t, values, "scriptd_uptime_seconds")
}

func TestHandlerServesExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.InstanceCreated()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "scriptd_pool_instances_created_total 1")
}
