package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/config"
)

// Checker runs periodic health checks and alerting in the background.
type Checker struct {
	collector *Collector
	health    *HealthChecker
	alerter   *Alerter
	metrics   *Metrics
	cfg       config.HealthConfig
}

// NewChecker creates a background checker. metrics may be nil.
func NewChecker(collector *Collector, health *HealthChecker, alerter *Alerter, metrics *Metrics, cfg config.HealthConfig) *Checker {
	return &Checker{
		collector: collector,
		health:    health,
		alerter:   alerter,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting health checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs one collection, exports metrics and sends any alerts. It
// returns the alerts raised.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx, c.cfg.LookbackHours)
	if err != nil {
		log.Error("monitoring: failed to collect run metrics", zap.Error(err))
	}
	report, err := c.health.Check(ctx)
	if err != nil {
		log.Error("monitoring: failed to check health", zap.Error(err))
	}
	if report != nil && c.metrics != nil {
		c.metrics.ObserveHealth(report)
	}

	alerts := c.alerter.Evaluate(snap, report)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	if c.metrics != nil {
		c.metrics.AlertsSent.Add(float64(sent))
	}
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
