package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/engine"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/memory"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
)

const namespace = "scriptd"

// Metrics holds all Prometheus metrics. It implements engine.Observer.
type Metrics struct {
	registerer prometheus.Registerer
	factory    promauto.Factory

	// Execution metrics
	Executions        *prometheus.CounterVec
	ExecutionErrors   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	CacheLookups      *prometheus.CounterVec

	// Pool metrics
	InstancesCreated   prometheus.Counter
	InstancesDiscarded *prometheus.CounterVec
	AcquireWait        *prometheus.HistogramVec

	// Buffer metrics
	RegionsAllocated *prometheus.CounterVec
	RegionsFreed     *prometheus.CounterVec
	LiveBytes        *prometheus.GaugeVec

	startTime time.Time
	watchOnce sync.Once
}

var _ engine.Observer = (*Metrics)(nil)

// NewMetrics creates the metrics and registers them on reg. A nil reg uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	m := &Metrics{
		registerer: reg,
		factory:    f,
		startTime:  time.Now(),

		Executions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of finished submissions by terminal state",
			},
			[]string{"state"},
		),
		ExecutionErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "execution_errors_total",
				Help:      "Total number of failed submissions by error kind",
			},
			[]string{"kind"},
		),
		ExecutionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Submission duration in seconds, compile and queueing included",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"state"},
		),
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Compile cache lookups made by submissions",
			},
			[]string{"result"},
		),

		InstancesCreated: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_instances_created_total",
				Help:      "Total number of runtime instances created",
			},
		),
		InstancesDiscarded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_instances_discarded_total",
				Help:      "Total number of runtime instances discarded by reason",
			},
			[]string{"reason"},
		),
		AcquireWait: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pool_acquire_wait_seconds",
				Help:      "Time spent waiting for a runtime instance",
				Buckets:   []float64{.0001, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"outcome"},
		),

		RegionsAllocated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buffer_regions_allocated_total",
				Help:      "Total number of backing regions allocated by kind",
			},
			[]string{"kind"},
		),
		RegionsFreed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buffer_regions_freed_total",
				Help:      "Total number of backing regions freed by kind and release path",
			},
			[]string{"kind", "reason"},
		),
		LiveBytes: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "buffer_live_bytes",
				Help:      "Bytes held by live backing regions",
			},
			[]string{"kind"},
		),
	}

	f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Engine uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// ExecutionFinished records a finished submission
func (m *Metrics) ExecutionFinished(state engine.State, kind errs.Kind, duration time.Duration, cacheHit bool) {
	m.Executions.WithLabelValues(string(state)).Inc()
	m.ExecutionDuration.WithLabelValues(string(state)).Observe(duration.Seconds())
	if kind != "" {
		m.ExecutionErrors.WithLabelValues(string(kind)).Inc()
	}

	// Submissions refused before the cache was consulted still count as a miss
	result := "miss"
	if cacheHit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// InstanceCreated records a new runtime instance
func (m *Metrics) InstanceCreated() {
	m.InstancesCreated.Inc()
}

// InstanceDiscarded records an instance leaving the pool
func (m *Metrics) InstanceDiscarded(reason sandbox.DiscardReason) {
	m.InstancesDiscarded.WithLabelValues(string(reason)).Inc()
}

// AcquireWaited records how long an Acquire waited
func (m *Metrics) AcquireWaited(wait time.Duration, ok bool) {
	outcome := "acquired"
	if !ok {
		outcome = "exhausted"
	}
	m.AcquireWait.WithLabelValues(outcome).Observe(wait.Seconds())
}

// RegionAllocated records a backing region allocation
func (m *Metrics) RegionAllocated(kind memory.Kind, size int) {
	m.RegionsAllocated.WithLabelValues(kind.String()).Inc()
	m.LiveBytes.WithLabelValues(kind.String()).Add(float64(size))
}

// RegionFreed records a backing region being freed
func (m *Metrics) RegionFreed(kind memory.Kind, size int, reason memory.FreeReason) {
	m.RegionsFreed.WithLabelValues(kind.String(), string(reason)).Inc()
	m.LiveBytes.WithLabelValues(kind.String()).Sub(float64(size))
}

// Watch exposes the engine's pool and cache state as gauges read at
// scrape time. Only the first call registers them.
func (m *Metrics) Watch(e *engine.Engine) {
	m.watchOnce.Do(func() {
		gauge := func(name, help string, fn func(engine.Stats) float64) {
			m.factory.NewGaugeFunc(
				prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
				func() float64 { return fn(e.Stats()) },
			)
		}
		counter := func(name, help string, fn func(engine.Stats) float64) {
			m.factory.NewCounterFunc(
				prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
				func() float64 { return fn(e.Stats()) },
			)
		}

		gauge("pool_size", "Configured number of runtime instances",
			func(s engine.Stats) float64 { return float64(s.Pool.Size) })
		gauge("pool_in_use", "Runtime instances checked out",
			func(s engine.Stats) float64 { return float64(s.Pool.InUse) })
		gauge("pool_idle", "Runtime instances ready for reuse",
			func(s engine.Stats) float64 { return float64(s.Pool.Idle) })

		gauge("cache_entries", "Compiled programs held by the cache",
			func(s engine.Stats) float64 { return float64(s.Cache.Entries) })
		gauge("cache_bytes", "Approximate size of the cached programs",
			func(s engine.Stats) float64 { return float64(s.Cache.Bytes) })
		counter("cache_compiles_total", "Total number of compiles, failed ones included",
			func(s engine.Stats) float64 { return float64(s.Cache.Compiles) })
		counter("cache_compile_failures_total", "Total number of failed compiles",
			func(s engine.Stats) float64 { return float64(s.Cache.Failures) })
		counter("cache_evictions_total", "Total number of cache evictions",
			func(s engine.Stats) float64 { return float64(s.Cache.Evictions) })

		gauge("buffer_live_regions", "Backing regions not yet freed",
			func(s engine.Stats) float64 { return float64(s.Memory.LiveRegions) })
		counter("buffer_regions_swept_total", "Total number of regions reclaimed by the sweep",
			func(s engine.Stats) float64 { return float64(s.Memory.Swept) })
	})
}
