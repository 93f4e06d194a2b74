package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/config"
	"github.com/sells-group/pumpcast/internal/fetcher"
	"github.com/sells-group/pumpcast/internal/model"
)

const hurdatName = "hurdat"

// HURDAT fetches the Atlantic best-track file from the National Hurricane
// Center. The file is republished once a year after the season review.
type HURDAT struct {
	url string
	now func() time.Time
}

// NewHURDAT creates the HURDAT2 source.
func NewHURDAT(cfg config.SourcesConfig) *HURDAT {
	return &HURDAT{url: cfg.HURDAT.URL, now: time.Now}
}

func (s *HURDAT) Name() string     { return hurdatName }
func (s *HURDAT) Cadence() Cadence { return Annual }

func (s *HURDAT) Datasets() []string {
	return []string{model.DatasetHURDAT2}
}

func (s *HURDAT) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return AnnualAfter(now, lastRun, time.June)
}

func (s *HURDAT) Fetch(ctx context.Context, f fetcher.Fetcher) ([]model.RawRecord, error) {
	data, err := f.Get(ctx, s.url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "hurdat: fetch")
	}
	if len(data) == 0 {
		return nil, eris.New("hurdat: empty file")
	}
	zap.L().Info("fetched hurdat2", zap.String("source", s.Name()), zap.Int("bytes", len(data)))
	return []model.RawRecord{
		newRecord(model.DatasetHURDAT2, model.SchemaHURDAT2, "text/plain", data, s.now()),
	}, nil
}
