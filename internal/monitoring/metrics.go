package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/pumpcast/internal/model"
)

const namespace = "pumpcast"

// Metrics holds the pipeline's Prometheus collectors on a private registry.
// It satisfies pipeline.Observer.
type Metrics struct {
	// Counters
	StagesTotal *prometheus.CounterVec
	RunsTotal   *prometheus.CounterVec
	AlertsSent  prometheus.Counter

	// Gauges
	LastExitCode    prometheus.Gauge
	LastRunTime     prometheus.Gauge
	TableAgeDays    *prometheus.GaugeVec
	ArtifactAgeHour *prometheus.GaugeVec
	StaleTables     prometheus.Gauge

	// Histograms
	StageDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers the pipeline metrics.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.StagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_total",
			Help:      "Completed pipeline stages by outcome",
		},
		[]string{"stage", "status"},
	)
	m.RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished pipeline runs by mode and status",
		},
		[]string{"mode", "status"},
	)
	m.AlertsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_sent_total",
		Help:      "Alerts delivered to the webhook",
	})

	m.LastExitCode = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_exit_code",
		Help:      "Exit code of the most recent run",
	})
	m.LastRunTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the most recent run finished",
	})
	m.TableAgeDays = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "silver",
			Name:      "table_age_days",
			Help:      "Days since the newest observation of each Silver table",
		},
		[]string{"table"},
	)
	m.ArtifactAgeHour = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifact_age_hours",
			Help:      "Hours since the Gold build or forecast was produced",
		},
		[]string{"artifact"},
	)
	m.StaleTables = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "silver",
		Name:      "stale_tables",
		Help:      "Silver tables past their freshness threshold or never built",
	})

	m.StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"stage"},
	)

	m.registry.MustRegister(
		m.StagesTotal, m.RunsTotal, m.AlertsSent,
		m.LastExitCode, m.LastRunTime, m.TableAgeDays, m.ArtifactAgeHour, m.StaleTables,
		m.StageDuration,
	)
	return m
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StageDone records one finished stage.
func (m *Metrics) StageDone(stage model.Stage, status model.PhaseStatus, d time.Duration) {
	m.StagesTotal.WithLabelValues(string(stage), string(status)).Inc()
	if status != model.PhaseStatusSkipped {
		m.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	}
}

// RunDone records a finished run.
func (m *Metrics) RunDone(run *model.Run) {
	m.RunsTotal.WithLabelValues(string(run.Mode), string(run.Status)).Inc()
	if run.Result != nil {
		m.LastExitCode.Set(float64(run.Result.ExitCode))
	}
	m.LastRunTime.Set(float64(time.Now().Unix()))
}

// ObserveHealth exports a health report. Disabled and missing tables are
// left out of the age gauge.
func (m *Metrics) ObserveHealth(r *HealthReport) {
	m.TableAgeDays.Reset()
	for _, t := range r.Tables {
		if t.Level == LevelDisabled || t.Level == LevelMissing {
			continue
		}
		m.TableAgeDays.WithLabelValues(t.Name).Set(float64(t.AgeDays))
	}
	m.StaleTables.Set(float64(r.Count(LevelStale) + r.Count(LevelMissing)))
	for _, ah := range []ArtifactHealth{r.Gold, r.Forecast} {
		if ah.At.IsZero() {
			m.ArtifactAgeHour.DeleteLabelValues(ah.Name)
			continue
		}
		m.ArtifactAgeHour.WithLabelValues(ah.Name).Set(ah.AgeHours)
	}
}
