// Package monitoring reports layer freshness and run health, raises
// webhook alerts and exports Prometheus metrics.
package monitoring

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pumpcast/internal/config"
	"github.com/sells-group/pumpcast/internal/forecast"
	"github.com/sells-group/pumpcast/internal/gold"
	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/silver"
)

// Level grades the freshness of one artifact.
type Level string

const (
	LevelOK       Level = "ok"
	LevelWarn     Level = "warn"
	LevelStale    Level = "stale"
	LevelMissing  Level = "missing"
	LevelDisabled Level = "disabled"
)

// TableHealth is the freshness of one Silver table.
type TableHealth struct {
	Name          string    `json:"name"`
	CadenceDays   int       `json:"cadence_days"`
	Rows          int       `json:"rows"`
	LastDate      time.Time `json:"last_date"`
	AgeDays       int       `json:"age_days"`
	WarnAfterDays int       `json:"warn_after_days"`
	MaxAgeDays    int       `json:"max_age_days"`
	Level         Level     `json:"level"`
}

// ArtifactHealth is the freshness of the Gold build or the forecast.
type ArtifactHealth struct {
	Name        string    `json:"name"`
	At          time.Time `json:"at"`
	AgeHours    float64   `json:"age_hours"`
	MaxAgeHours int       `json:"max_age_hours"`
	Level       Level     `json:"level"`
	Error       string    `json:"error,omitempty"`
}

// HealthReport is one freshness check across all layers.
type HealthReport struct {
	CheckedAt time.Time      `json:"checked_at"`
	Tables    []TableHealth  `json:"tables"`
	Gold      ArtifactHealth `json:"gold"`
	Forecast  ArtifactHealth `json:"forecast"`
}

// Err joins a StaleArtifact error for every stale or missing table and for
// stale Gold or forecast. A missing forecast is not an error.
func (r *HealthReport) Err() error {
	var errs []error
	for _, t := range r.Tables {
		if t.Level != LevelStale && t.Level != LevelMissing {
			continue
		}
		errs = append(errs, model.NewError(model.KindStaleArtifact, model.StageSilver, "silver/"+t.Name,
			eris.Errorf("%s: last date %s, %d days old (max %d)", t.Level, day(t.LastDate), t.AgeDays, t.MaxAgeDays)))
	}
	if r.Gold.Level == LevelStale || r.Gold.Level == LevelMissing {
		errs = append(errs, model.NewError(model.KindStaleArtifact, model.StageGold, "gold",
			eris.Errorf("%s: built %.1fh ago (max %dh)", r.Gold.Level, r.Gold.AgeHours, r.Gold.MaxAgeHours)))
	}
	if r.Forecast.Level == LevelStale {
		errs = append(errs, model.NewError(model.KindStaleArtifact, model.StageValidation, "forecast",
			eris.Errorf("stale: generated %.1fh ago (max %dh)", r.Forecast.AgeHours, r.Forecast.MaxAgeHours)))
	}
	return errors.Join(errs...)
}

// Healthy reports whether Err is nil.
func (r *HealthReport) Healthy() bool { return r.Err() == nil }

// Count returns how many tables sit at level.
func (r *HealthReport) Count(level Level) int {
	n := 0
	for _, t := range r.Tables {
		if t.Level == level {
			n++
		}
	}
	return n
}

// TableLister lists stored Silver tables.
type TableLister interface {
	Tables(ctx context.Context) ([]silver.TableInfo, error)
}

// ManifestReader reads the promoted Gold manifest.
type ManifestReader interface {
	Manifest() (*gold.Manifest, error)
}

// HealthChecker grades the freshness of every layer.
type HealthChecker struct {
	cfg          config.HealthConfig
	catalog      *silver.Catalog
	tables       TableLister
	manifest     ManifestReader
	forecastPath string
	disabled     map[string]bool
	now          func() time.Time
}

// NewHealthChecker builds a checker. Tables fed only by disabled datasets
// are reported as disabled rather than stale.
func NewHealthChecker(cfg config.HealthConfig, catalog *silver.Catalog, tables TableLister, manifest ManifestReader, forecastPath string, disabledDatasets []string) *HealthChecker {
	disabled := make(map[string]bool)
	for _, name := range catalog.TablesFedBy(disabledDatasets) {
		disabled[name] = true
	}
	return &HealthChecker{
		cfg:          cfg,
		catalog:      catalog,
		tables:       tables,
		manifest:     manifest,
		forecastPath: forecastPath,
		disabled:     disabled,
		now:          time.Now,
	}
}

// Check builds a HealthReport. Errors reading the stores are returned;
// stale data is reported, not returned.
func (h *HealthChecker) Check(ctx context.Context) (*HealthReport, error) {
	now := h.now().UTC()
	report := &HealthReport{CheckedAt: now}

	infos, err := h.tables.Tables(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list silver tables")
	}
	byName := make(map[string]silver.TableInfo, len(infos))
	for _, ti := range infos {
		byName[ti.Name] = ti
	}

	for _, spec := range h.catalog.Tables {
		th := TableHealth{Name: spec.Name, CadenceDays: spec.CadenceDays}
		th.WarnAfterDays, th.MaxAgeDays = h.thresholds(spec)

		ti, ok := byName[spec.Name]
		switch {
		case h.disabled[spec.Name]:
			th.Level = LevelDisabled
		case !ok || ti.Rows == 0:
			th.Level = LevelMissing
		default:
			th.Rows = ti.Rows
			th.LastDate = ti.LastDate
			th.AgeDays = model.DaysBetween(ti.LastDate, now)
			th.Level = grade(th.AgeDays, th.WarnAfterDays, th.MaxAgeDays)
		}
		report.Tables = append(report.Tables, th)
	}
	slices.SortFunc(report.Tables, func(a, b TableHealth) int {
		return cmp.Compare(a.Name, b.Name)
	})

	report.Gold, err = h.checkGold(now)
	if err != nil {
		return nil, err
	}
	report.Forecast = h.checkForecast(now)
	return report, nil
}

// thresholds returns the warn and stale ages for a table. A catalog
// MaxAgeDays override applies to both.
func (h *HealthChecker) thresholds(spec silver.TableSpec) (warn, limit int) {
	if spec.MaxAgeDays > 0 {
		return spec.MaxAgeDays, spec.MaxAgeDays
	}
	if spec.CadenceDays <= 1 {
		return h.cfg.DailyWarnAgeDays, h.cfg.DailyMaxAgeDays
	}
	return h.cfg.WeeklyWarnAgeDays, h.cfg.WeeklyMaxAgeDays
}

func (h *HealthChecker) checkGold(now time.Time) (ArtifactHealth, error) {
	ah := ArtifactHealth{Name: "gold", MaxAgeHours: h.cfg.GoldMaxAgeHours}
	m, err := h.manifest.Manifest()
	if err != nil {
		return ah, eris.Wrap(err, "monitoring: read gold manifest")
	}
	if m == nil {
		ah.Level = LevelMissing
		return ah, nil
	}
	ah.At = m.BuiltAt
	ah.AgeHours = now.Sub(m.BuiltAt).Hours()
	ah.Level = gradeHours(ah.AgeHours, ah.MaxAgeHours)
	return ah, nil
}

func (h *HealthChecker) checkForecast(now time.Time) ArtifactHealth {
	ah := ArtifactHealth{Name: "forecast", MaxAgeHours: h.cfg.ForecastMaxAgeHours}
	f, err := forecast.Read(h.forecastPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		ah.Level = LevelMissing
		return ah
	case err != nil:
		ah.Level = LevelStale
		ah.Error = err.Error()
		return ah
	}
	ah.At = f.GeneratedAt
	ah.AgeHours = f.Age(now).Hours()
	ah.Level = gradeHours(ah.AgeHours, ah.MaxAgeHours)
	return ah
}

func grade(age, warn, limit int) Level {
	switch {
	case age <= warn:
		return LevelOK
	case age <= limit:
		return LevelWarn
	default:
		return LevelStale
	}
}

func gradeHours(age float64, limit int) Level {
	if age > float64(limit) {
		return LevelStale
	}
	return LevelOK
}

func day(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(model.DayLayout)
}

// Summary is a one-line description for logs and alerts.
func (r *HealthReport) Summary() string {
	return fmt.Sprintf("%d ok, %d warn, %d stale, %d missing tables; gold %s; forecast %s",
		r.Count(LevelOK), r.Count(LevelWarn), r.Count(LevelStale), r.Count(LevelMissing),
		r.Gold.Level, r.Forecast.Level)
}
