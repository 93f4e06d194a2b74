package source

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/config"
	"github.com/sells-group/pumpcast/internal/fetcher"
	"github.com/sells-group/pumpcast/internal/model"
)

const noaaName = "noaa"

// NOAA fetches daily average temperature for Gulf Coast stations from the
// Climate Data Online API. Each response page is stored as its own
// snapshot. Requests span at most one calendar year, the CDO limit.
type NOAA struct {
	cfg   config.NOAAConfig
	start time.Time
	now   func() time.Time
}

// NewNOAA creates the NOAA source.
func NewNOAA(cfg config.SourcesConfig) *NOAA {
	return &NOAA{cfg: cfg.NOAA, start: cfg.StartDate(), now: time.Now}
}

func (s *NOAA) Name() string     { return noaaName }
func (s *NOAA) Cadence() Cadence { return Daily }

func (s *NOAA) Datasets() []string {
	return []string{model.DatasetNOAATemperature}
}

func (s *NOAA) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return DailySchedule(now, lastRun)
}

func (s *NOAA) Fetch(ctx context.Context, f fetcher.Fetcher) ([]model.RawRecord, error) {
	log := zap.L().With(zap.String("source", s.Name()))
	header := http.Header{"token": []string{s.cfg.Token}}
	end := model.Day(s.now())

	limit := s.cfg.PageSize
	if limit <= 0 {
		limit = 1000
	}

	var records []model.RawRecord
	for _, station := range s.cfg.Stations {
		for from := model.Day(s.start); !from.After(end); {
			to := time.Date(from.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
			if to.After(end) {
				to = end
			}

			for offset := 1; ; offset += limit {
				if err := ctx.Err(); err != nil {
					return records, err
				}

				data, err := f.Get(ctx, s.pageURL(station, from, to, limit, offset), header)
				if err != nil {
					return records, eris.Wrapf(err, "noaa: fetch %s %d", station, from.Year())
				}
				resp, err := fetcher.DecodeJSONBytes[NOAAResponse](data)
				if err != nil {
					return records, eris.Wrapf(err, "noaa: %s %d", station, from.Year())
				}
				// An empty window returns "{}".
				if len(resp.Results) == 0 {
					break
				}

				records = append(records, newRecord(model.DatasetNOAATemperature, model.SchemaNOAACDO, "application/json", data, s.now()))
				log.Debug("fetched noaa page",
					zap.String("station", station),
					zap.Int("year", from.Year()),
					zap.Int("offset", offset),
					zap.Int("results", len(resp.Results)),
				)

				if offset+len(resp.Results) > resp.Metadata.ResultSet.Count {
					break
				}
			}

			from = to.AddDate(0, 0, 1)
		}
	}

	log.Info("fetched noaa temperatures", zap.Int("pages", len(records)))
	return records, nil
}

func (s *NOAA) pageURL(station string, from, to time.Time, limit, offset int) string {
	q := url.Values{}
	q.Set("datasetid", "GHCND")
	q.Set("datatypeid", "TAVG")
	q.Set("stationid", station)
	q.Set("startdate", from.Format(model.DayLayout))
	q.Set("enddate", to.Format(model.DayLayout))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return strings.TrimRight(s.cfg.BaseURL, "/") + "?" + q.Encode()
}
