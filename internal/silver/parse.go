package silver

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pumpcast/internal/fetcher"
	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/source"
)

// Box is a latitude/longitude bounding box in signed degrees.
type Box struct {
	LatMin, LatMax float64
	LonMin, LonMax float64
}

// Contains reports whether the point lies inside the box, edges included.
func (b Box) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

// observation is one parsed data point before calendar keying.
type observation struct {
	Date   time.Time
	Series string
	Unit   string
	Values map[string]float64
}

type parseEnv struct {
	StormBox Box
	Since    time.Time
}

type parserFunc func(ctx context.Context, rec model.RawRecord, env parseEnv) ([]observation, error)

var parsers = map[string]parserFunc{
	"yahoo_chart": parseYahooChart,
	"eia_v2":      parseEIA,
	"noaa_cdo":    parseNOAA,
	"hurdat2":     parseHURDAT,
}

func parseYahooChart(_ context.Context, rec model.RawRecord, _ parseEnv) ([]observation, error) {
	chart, err := fetcher.DecodeJSONBytes[source.YahooChart](rec.Payload)
	if err != nil {
		return nil, err
	}
	if chart.Chart.Error != nil {
		return nil, eris.Errorf("chart error %s: %s", chart.Chart.Error.Code, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, eris.New("chart has no result")
	}
	res := chart.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, eris.New("chart has no quote indicator")
	}
	q := res.Indicators.Quote[0]
	if len(q.Close) != len(res.Timestamp) {
		return nil, eris.Errorf("chart has %d timestamps but %d closes", len(res.Timestamp), len(q.Close))
	}

	obs := make([]observation, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if q.Close[i] == nil {
			continue
		}
		vals := map[string]float64{"close": *q.Close[i]}
		if i < len(q.Volume) && q.Volume[i] != nil {
			vals["volume"] = *q.Volume[i]
		}
		obs = append(obs, observation{
			Date:   model.Day(time.Unix(ts, 0)),
			Series: res.Meta.Symbol,
			Values: vals,
		})
	}
	return obs, nil
}

func parseEIA(_ context.Context, rec model.RawRecord, _ parseEnv) ([]observation, error) {
	resp, err := fetcher.DecodeJSONBytes[source.EIAResponse](rec.Payload)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, eris.Errorf("api error: %s", resp.Error)
	}

	obs := make([]observation, 0, len(resp.Response.Data))
	for _, d := range resp.Response.Data {
		day, err := model.ParseDay(d.Period)
		if err != nil {
			return nil, eris.Wrapf(err, "period %q", d.Period)
		}
		v, ok, err := numeric(d.Value)
		if err != nil {
			return nil, eris.Wrapf(err, "period %s value", d.Period)
		}
		if !ok {
			continue
		}
		obs = append(obs, observation{
			Date:   day,
			Series: d.Series,
			Unit:   d.Units,
			Values: map[string]float64{"value": v},
		})
	}
	return obs, nil
}

// numeric accepts the number, numeric-string and null encodings EIA uses.
func numeric(v any) (float64, bool, error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return x, true, nil
	case json.Number:
		f, err := x.Float64()
		return f, err == nil, err
	case string:
		s := strings.TrimSpace(x)
		if s == "" || s == "NA" || s == "--" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, eris.Wrapf(err, "not a number %q", x)
		}
		return f, true, nil
	default:
		return 0, false, eris.Errorf("unexpected value type %T", v)
	}
}

func parseNOAA(_ context.Context, rec model.RawRecord, _ parseEnv) ([]observation, error) {
	resp, err := fetcher.DecodeJSONBytes[source.NOAAResponse](rec.Payload)
	if err != nil {
		return nil, err
	}
	obs := make([]observation, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.DataType != "TAVG" {
			continue
		}
		day, err := model.ParseDay(r.Date)
		if err != nil {
			return nil, eris.Wrapf(err, "station %s date", r.Station)
		}
		obs = append(obs, observation{
			Date:   day,
			Series: r.Station,
			Values: map[string]float64{"tavg": r.Value},
		})
	}
	return obs, nil
}

// parseHURDAT expands best-track fixes into a daily grid covering every
// season year with data, from env.Since onward. Days without a fix inside
// the box carry zero storms and zero wind.
func parseHURDAT(ctx context.Context, rec model.RawRecord, env parseEnv) ([]observation, error) {
	fixes, err := source.ParseHURDAT(ctx, bytes.NewReader(rec.Payload))
	if err != nil {
		return nil, err
	}

	firstYear, lastYear := math.MaxInt, math.MinInt
	storms := make(map[time.Time]map[string]bool)
	wind := make(map[time.Time]float64)
	for _, f := range fixes {
		y := f.Time.Year()
		if y < firstYear {
			firstYear = y
		}
		if y > lastYear {
			lastYear = y
		}
		if !env.StormBox.Contains(f.Lat, f.Lon) {
			continue
		}
		day := model.Day(f.Time)
		if storms[day] == nil {
			storms[day] = make(map[string]bool)
		}
		storms[day][f.StormID] = true
		if f.MaxWindKt > wind[day] {
			wind[day] = f.MaxWindKt
		}
	}

	if !env.Since.IsZero() && env.Since.Year() > firstYear {
		firstYear = env.Since.Year()
	}
	if firstYear > lastYear {
		return nil, nil
	}

	start := model.Date(firstYear, time.January, 1)
	end := model.Date(lastYear, time.December, 31)
	obs := make([]observation, 0, model.DaysBetween(start, end)+1)
	for d := start; !d.After(end); d = model.AddDays(d, 1) {
		obs = append(obs, observation{
			Date: d,
			Values: map[string]float64{
				"storm_count": float64(len(storms[d])),
				"max_wind":    wind[d],
			},
		})
	}
	return obs, nil
}
