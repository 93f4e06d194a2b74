package source

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pumpcast/internal/fetcher"
)

// YahooChart is the chart API v8 envelope.
type YahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol   string `json:"symbol"`
				Currency string `json:"currency"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// EIAResponse is the API v2 data envelope.
type EIAResponse struct {
	Response struct {
		Total any `json:"total"`
		Data  []struct {
			Period string `json:"period"`
			Series string `json:"series"`
			Value  any    `json:"value"`
			Units  string `json:"units"`
		} `json:"data"`
	} `json:"response"`
	Error string `json:"error"`
}

// NOAAResponse is the CDO v2 data envelope.
type NOAAResponse struct {
	Metadata struct {
		ResultSet struct {
			Offset int `json:"offset"`
			Count  int `json:"count"`
			Limit  int `json:"limit"`
		} `json:"resultset"`
	} `json:"metadata"`
	Results []struct {
		Date     string  `json:"date"`
		DataType string  `json:"datatype"`
		Station  string  `json:"station"`
		Value    float64 `json:"value"`
	} `json:"results"`
}

// StormFix is one six-hourly best-track position.
type StormFix struct {
	StormID   string
	Name      string
	Time      time.Time
	Lat       float64
	Lon       float64
	MaxWindKt float64 // -1 when not reported
}

// ParseHURDAT reads HURDAT2 text. Header lines ("AL092008, IKE, 58,")
// introduce a storm and its fix count; data lines carry the fixes.
func ParseHURDAT(ctx context.Context, r io.Reader) ([]StormFix, error) {
	rows, err := fetcher.ReadCSV(ctx, r, fetcher.CSVOptions{
		TrimSpace:         true,
		DropEmptyTrailing: true,
		LazyQuotes:        true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "hurdat2: read")
	}

	var fixes []StormFix
	var id, name string
	for i, row := range rows {
		if len(row) == 0 || (len(row) == 1 && row[0] == "") {
			continue
		}
		if len(row) == 3 && isStormID(row[0]) {
			id, name = row[0], row[1]
			continue
		}
		if id == "" {
			return nil, eris.Errorf("hurdat2: line %d: data before storm header", i+1)
		}
		if len(row) < 7 {
			return nil, eris.Errorf("hurdat2: line %d: expected at least 7 fields, got %d", i+1, len(row))
		}
		ts, err := time.Parse("200601021504", row[0]+row[1])
		if err != nil {
			return nil, eris.Wrapf(err, "hurdat2: line %d: timestamp", i+1)
		}
		lat, err := parseCoord(row[4], 'N', 'S')
		if err != nil {
			return nil, eris.Wrapf(err, "hurdat2: line %d", i+1)
		}
		lon, err := parseCoord(row[5], 'E', 'W')
		if err != nil {
			return nil, eris.Wrapf(err, "hurdat2: line %d", i+1)
		}
		wind := -1.0
		if w, err := strconv.ParseFloat(row[6], 64); err == nil && w >= 0 {
			wind = w
		}
		fixes = append(fixes, StormFix{
			StormID:   id,
			Name:      name,
			Time:      ts.UTC(),
			Lat:       lat,
			Lon:       lon,
			MaxWindKt: wind,
		})
	}
	if len(fixes) == 0 {
		return nil, eris.New("hurdat2: no storm fixes")
	}
	return fixes, nil
}

func isStormID(s string) bool {
	if len(s) != 8 {
		return false
	}
	return s[0] >= 'A' && s[0] <= 'Z' && s[1] >= 'A' && s[1] <= 'Z'
}

// parseCoord converts "29.3N" or "94.7W" to signed degrees.
func parseCoord(s string, pos, neg byte) (float64, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, eris.Errorf("bad coordinate %q", s)
	}
	hemi := s[len(s)-1]
	v, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil {
		return 0, eris.Wrapf(err, "bad coordinate %q", s)
	}
	switch hemi {
	case pos:
		return v, nil
	case neg:
		return -v, nil
	default:
		return 0, eris.Errorf("bad hemisphere in %q", s)
	}
}
