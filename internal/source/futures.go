package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/config"
	"github.com/sells-group/pumpcast/internal/fetcher"
	"github.com/sells-group/pumpcast/internal/model"
)

const futuresName = "futures"

// Futures fetches daily settles for the RBOB and WTI front-month contracts.
type Futures struct {
	cfg   config.YahooConfig
	start time.Time
	now   func() time.Time
}

// NewFutures creates the futures source.
func NewFutures(cfg config.SourcesConfig) *Futures {
	return &Futures{cfg: cfg.Yahoo, start: cfg.StartDate(), now: time.Now}
}

func (s *Futures) Name() string     { return futuresName }
func (s *Futures) Cadence() Cadence { return Daily }

func (s *Futures) Datasets() []string {
	return []string{model.DatasetRBOBFutures, model.DatasetWTIFutures}
}

func (s *Futures) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return TradingDaySchedule(now, lastRun)
}

func (s *Futures) Fetch(ctx context.Context, f fetcher.Fetcher) ([]model.RawRecord, error) {
	log := zap.L().With(zap.String("source", s.Name()))

	var records []model.RawRecord
	for _, t := range []struct{ dataset, symbol string }{
		{model.DatasetRBOBFutures, s.cfg.RBOBSymbol},
		{model.DatasetWTIFutures, s.cfg.WTISymbol},
	} {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		data, err := f.Get(ctx, s.chartURL(t.symbol), nil)
		if err != nil {
			return records, eris.Wrapf(err, "futures: fetch %s", t.symbol)
		}
		chart, err := fetcher.DecodeJSONBytes[YahooChart](data)
		if err != nil {
			return records, eris.Wrapf(err, "futures: %s", t.symbol)
		}
		if chart.Chart.Error != nil {
			return records, eris.Errorf("futures: %s: %s", t.symbol, chart.Chart.Error.Description)
		}
		if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
			return records, eris.Errorf("futures: %s: empty chart", t.symbol)
		}

		log.Info("fetched futures chart",
			zap.String("symbol", t.symbol),
			zap.Int("points", len(chart.Chart.Result[0].Timestamp)),
		)
		records = append(records, newRecord(t.dataset, model.SchemaYahooChart, "application/json", data, s.now()))
	}
	return records, nil
}

func (s *Futures) chartURL(symbol string) string {
	q := url.Values{}
	q.Set("period1", fmt.Sprint(s.start.Unix()))
	q.Set("period2", fmt.Sprint(s.now().Unix()))
	q.Set("interval", "1d")
	q.Set("events", "history")
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + url.PathEscape(symbol) + "?" + q.Encode()
}
