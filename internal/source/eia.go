package source

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/config"
	"github.com/sells-group/pumpcast/internal/fetcher"
	"github.com/sells-group/pumpcast/internal/model"
)

const eiaName = "eia"

// EIASeriesSpec maps a Bronze dataset to an EIA v2 route and weekly series id.
type EIASeriesSpec struct {
	Dataset string
	Route   string
	Series  string
}

// EIASeries lists every weekly series pulled from the EIA API.
var EIASeries = []EIASeriesSpec{
	{model.DatasetEIARetail, "petroleum/pri/gnd/data", "EMM_EPMR_PTE_NUS_DPG"},         // regular retail, $/gal
	{model.DatasetEIAInventory, "petroleum/stoc/wstk/data", "WGTSTUS1"},                // total gasoline stocks, MBBL
	{model.DatasetEIAUtilization, "petroleum/pnp/wiup/data", "WPULEUS3"},               // refinery utilization, %
	{model.DatasetEIAImports, "petroleum/move/wkly/data", "WGTIMUS2"},                  // gasoline imports, MBBL/D
	{model.DatasetEIAExports, "petroleum/move/wkly/data", "W_EPM0F_EEX_NUS-Z00_MBBLD"}, // gasoline exports, MBBL/D
	{model.DatasetEIADemand, "petroleum/cons/wpsup/data", "WGFUPUS2"},                  // product supplied, MBBL/D
	{model.DatasetEIAPADD3Stocks, "petroleum/stoc/wstk/data", "WGTSTP31"},              // Gulf Coast stocks, MBBL
}

// EIA fetches weekly petroleum series from the EIA Open Data API v2.
type EIA struct {
	cfg   config.EIAConfig
	start string
	now   func() time.Time
}

// NewEIA creates the EIA source.
func NewEIA(cfg config.SourcesConfig) *EIA {
	return &EIA{cfg: cfg.EIA, start: cfg.Start, now: time.Now}
}

func (s *EIA) Name() string     { return eiaName }
func (s *EIA) Cadence() Cadence { return Weekly }

func (s *EIA) Datasets() []string {
	out := make([]string, len(EIASeries))
	for i, es := range EIASeries {
		out[i] = es.Dataset
	}
	return out
}

// ShouldRun fires after the Monday retail release and the Wednesday
// Weekly Petroleum Status Report.
func (s *EIA) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return WeeklyRelease(now, lastRun, time.Monday, 17) ||
		WeeklyRelease(now, lastRun, time.Wednesday, 15)
}

func (s *EIA) Fetch(ctx context.Context, f fetcher.Fetcher) ([]model.RawRecord, error) {
	log := zap.L().With(zap.String("source", s.Name()))

	var records []model.RawRecord
	for _, es := range EIASeries {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		data, err := f.Get(ctx, s.seriesURL(es), nil)
		if err != nil {
			return records, eris.Wrapf(err, "eia: fetch %s", es.Series)
		}
		resp, err := fetcher.DecodeJSONBytes[EIAResponse](data)
		if err != nil {
			return records, eris.Wrapf(err, "eia: %s", es.Series)
		}
		if resp.Error != "" {
			return records, eris.Errorf("eia: %s: %s", es.Series, resp.Error)
		}

		log.Info("fetched eia series",
			zap.String("series", es.Series),
			zap.Int("rows", len(resp.Response.Data)),
		)
		records = append(records, newRecord(es.Dataset, model.SchemaEIAv2, "application/json", data, s.now()))
	}
	return records, nil
}

func (s *EIA) seriesURL(es EIASeriesSpec) string {
	q := url.Values{}
	q.Set("api_key", s.cfg.APIKey)
	q.Set("frequency", "weekly")
	q.Set("data[0]", "value")
	q.Set("facets[series][]", es.Series)
	q.Set("start", s.start)
	q.Set("sort[0][column]", "period")
	q.Set("sort[0][direction]", "asc")
	q.Set("length", "5000")
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + es.Route + "?" + q.Encode()
}
