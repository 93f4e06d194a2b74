// Package forecast reads, writes and publishes the JSON forecast artifact
// that model consumers produce from the Gold table.
package forecast

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pumpcast/internal/model"
)

// Prediction is the forecast for one target date, in $/gal.
type Prediction struct {
	TargetDate string  `json:"target_date" validate:"required,datetime=2006-01-02"`
	P10        float64 `json:"p10" validate:"gt=0,ltefield=P50"`
	P50        float64 `json:"p50" validate:"gt=0,ltefield=P90"`
	P90        float64 `json:"p90" validate:"gt=0"`
	Point      float64 `json:"point,omitempty" validate:"gte=0"`
}

// Forecast is the artifact written by an external model run.
type Forecast struct {
	GeneratedAt time.Time    `json:"generated_at" validate:"required"`
	Model       string       `json:"model" validate:"required"`
	HorizonDays int          `json:"horizon_days" validate:"min=1"`
	GoldRunID   string       `json:"gold_run_id,omitempty"`
	Predictions []Prediction `json:"predictions" validate:"min=1,dive"`
}

var validate = validator.New()

// Validate checks field constraints, quantile order and that target dates
// strictly increase.
func (f *Forecast) Validate() error {
	if err := validate.Struct(f); err != nil {
		return eris.Wrap(err, "forecast: invalid")
	}
	var prev time.Time
	for i, p := range f.Predictions {
		d, err := model.ParseDay(p.TargetDate)
		if err != nil {
			return eris.Wrapf(err, "forecast: prediction %d", i)
		}
		if i > 0 && !d.After(prev) {
			return eris.Errorf("forecast: target dates not increasing at %s", p.TargetDate)
		}
		prev = d
	}
	return nil
}

// Age is how long ago the forecast was generated.
func (f *Forecast) Age(now time.Time) time.Duration {
	return now.Sub(f.GeneratedAt)
}

// Read loads and validates the artifact at path. A missing file yields an
// error matching os.ErrNotExist.
func Read(path string) (*Forecast, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "forecast: read %s", path)
	}
	var f Forecast
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "forecast: decode %s", path)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Write validates f and replaces the artifact at path atomically.
func Write(path string, f *Forecast) error {
	if err := f.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return eris.Wrap(err, "forecast: encode")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "forecast: create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".forecast-*.json")
	if err != nil {
		return eris.Wrap(err, "forecast: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "forecast: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "forecast: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "forecast: close temp file")
	}
	return eris.Wrapf(os.Rename(tmp.Name(), path), "forecast: replace %s", path)
}
