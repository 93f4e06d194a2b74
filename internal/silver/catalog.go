// Package silver cleans Bronze snapshots into typed, deduplicated tables on
// a canonical calendar.
package silver

import (
	_ "embed"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/validate"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Calendar is the canonical date grid of a table.
type Calendar string

const (
	// CalendarTradingDays keys by date and drops weekends.
	CalendarTradingDays Calendar = "trading_days"
	// CalendarISOWeek keys by ISO (year, week).
	CalendarISOWeek Calendar = "iso_week"
	// CalendarDaily keys by calendar date.
	CalendarDaily Calendar = "daily"
)

// Catalog describes every Silver table.
type Catalog struct {
	Tables []TableSpec `yaml:"tables"`
}

// TableSpec describes one Silver table: where it comes from, its grid and
// the documented domain of each field. MaxAgeDays, when set, overrides the
// freshness threshold derived from the cadence. AnnualRelease (MM-DD) marks
// feeds that publish a whole season once a year.
type TableSpec struct {
	Name               string      `yaml:"name"`
	Calendar           Calendar    `yaml:"calendar"`
	CadenceDays        int         `yaml:"cadence_days"`
	PublicationLagDays int         `yaml:"publication_lag_days"`
	MaxGapDays         int         `yaml:"max_gap_days"`
	MaxAgeDays         int         `yaml:"max_age_days"`
	AnnualRelease      string      `yaml:"annual_release"`
	Inputs             []InputSpec `yaml:"inputs"`
	Derive             *DeriveSpec `yaml:"derive"`
	Fields             []FieldSpec `yaml:"fields"`
}

// InputSpec binds a Bronze dataset to a parser.
type InputSpec struct {
	Dataset      string        `yaml:"dataset"`
	Parser       string        `yaml:"parser"`
	ReportedUnit string        `yaml:"reported_unit"`
	Measures     []MeasureSpec `yaml:"measures"`
}

// MeasureSpec maps a parser measure onto a field in a canonical unit.
type MeasureSpec struct {
	Measure      string      `yaml:"measure"`
	Field        model.Field `yaml:"field"`
	Unit         string      `yaml:"unit"`
	ReportedUnit string      `yaml:"reported_unit"`
}

// DeriveSpec combines two input fields, inner-joined on the calendar key.
type DeriveSpec struct {
	Op    string      `yaml:"op"`
	Left  model.Field `yaml:"left"`
	Right model.Field `yaml:"right"`
	Field model.Field `yaml:"field"`
}

// Derive operations.
const (
	DeriveDifference = "difference"
	DeriveRatioPct   = "ratio_pct"
)

// FieldSpec is the documented domain of one output field.
type FieldSpec struct {
	Name        model.Field `yaml:"name"`
	Unit        string      `yaml:"unit"`
	Min         float64     `yaml:"min"`
	Max         float64     `yaml:"max"`
	FillRunDays int         `yaml:"fill_run_days"`
	Optional    bool        `yaml:"optional"`
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file, or the embedded one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "silver: read catalog %s", path)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and checks a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "silver: parse catalog")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks internal consistency.
func (c *Catalog) Validate() error {
	if len(c.Tables) == 0 {
		return eris.New("silver: catalog has no tables")
	}
	seen := make(map[string]bool)
	for _, t := range c.Tables {
		if t.Name == "" {
			return eris.New("silver: catalog table without name")
		}
		if seen[t.Name] {
			return eris.Errorf("silver: duplicate table %q", t.Name)
		}
		seen[t.Name] = true

		switch t.Calendar {
		case CalendarTradingDays, CalendarISOWeek, CalendarDaily:
		default:
			return eris.Errorf("silver: table %s: unknown calendar %q", t.Name, t.Calendar)
		}
		if t.CadenceDays < 1 {
			return eris.Errorf("silver: table %s: cadence_days must be >= 1", t.Name)
		}
		if t.MaxAgeDays < 0 {
			return eris.Errorf("silver: table %s: negative max age", t.Name)
		}
		if t.PublicationLagDays < 0 {
			return eris.Errorf("silver: table %s: negative publication lag", t.Name)
		}
		if t.AnnualRelease != "" {
			if _, err := time.Parse(releaseLayout, t.AnnualRelease); err != nil {
				return eris.Errorf("silver: table %s: annual_release %q is not MM-DD", t.Name, t.AnnualRelease)
			}
		}
		if len(t.Inputs) == 0 {
			return eris.Errorf("silver: table %s: no inputs", t.Name)
		}
		if len(t.Fields) == 0 {
			return eris.Errorf("silver: table %s: no fields", t.Name)
		}
		for _, in := range t.Inputs {
			if _, ok := parsers[in.Parser]; !ok {
				return eris.Errorf("silver: table %s: unknown parser %q", t.Name, in.Parser)
			}
			if len(in.Measures) == 0 {
				return eris.Errorf("silver: table %s: input %s maps no measures", t.Name, in.Dataset)
			}
		}
		if len(t.Inputs) > 1 && t.Derive == nil {
			return eris.Errorf("silver: table %s: multiple inputs need a derive rule", t.Name)
		}
		if t.Derive != nil {
			switch t.Derive.Op {
			case DeriveDifference, DeriveRatioPct:
			default:
				return eris.Errorf("silver: table %s: unknown derive op %q", t.Name, t.Derive.Op)
			}
			if len(t.Inputs) != 2 {
				return eris.Errorf("silver: table %s: derive needs exactly two inputs", t.Name)
			}
		}
		for _, f := range t.Fields {
			if f.Max < f.Min {
				return eris.Errorf("silver: table %s: field %s has max < min", t.Name, f.Name)
			}
			if f.FillRunDays < 0 {
				return eris.Errorf("silver: table %s: field %s has negative fill bound", t.Name, f.Name)
			}
		}
	}
	return nil
}

// Table returns the spec for name.
func (c *Catalog) Table(name string) (TableSpec, bool) {
	for _, t := range c.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSpec{}, false
}

// Names lists tables in catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		out[i] = t.Name
	}
	return out
}

// FieldOwner returns the table that produces field f.
func (c *Catalog) FieldOwner(f model.Field) (TableSpec, FieldSpec, bool) {
	for _, t := range c.Tables {
		for _, fs := range t.Fields {
			if fs.Name == f {
				return t, fs, true
			}
		}
	}
	return TableSpec{}, FieldSpec{}, false
}

// TablesFedBy lists the tables that read only from the given datasets.
func (c *Catalog) TablesFedBy(datasets []string) []string {
	set := make(map[string]bool, len(datasets))
	for _, d := range datasets {
		set[d] = true
	}
	var out []string
	for _, t := range c.Tables {
		if allDisabled(t, set) {
			out = append(out, t.Name)
		}
	}
	return out
}

// Datasets lists the Bronze datasets a table reads.
func (t TableSpec) Datasets() []string {
	out := make([]string, len(t.Inputs))
	for i, in := range t.Inputs {
		out[i] = in.Dataset
	}
	return out
}

// FieldNames lists output fields in catalog order.
func (t TableSpec) FieldNames() []model.Field {
	out := make([]model.Field, len(t.Fields))
	for i, f := range t.Fields {
		out[i] = f.Name
	}
	return out
}

// Rules converts the spec into Silver validation rules.
func (t TableSpec) Rules() validate.SilverRules {
	bounds := make(map[model.Field]validate.Bounds, len(t.Fields))
	for _, f := range t.Fields {
		bounds[f.Name] = validate.Bounds{Min: f.Min, Max: f.Max}
	}
	return validate.SilverRules{MaxGapDays: t.MaxGapDays, Bounds: bounds}
}

const releaseLayout = "01-02"

// AvailableOn is the first day a row dated date could have been read: the
// publication lag after it, or for annual feeds the release day of the
// following year. A snapshot retrieved before that release bounds it.
func (t TableSpec) AvailableOn(date, retrieved time.Time) time.Time {
	avail := model.AddDays(date, t.PublicationLagDays)
	if t.AnnualRelease == "" {
		return avail
	}
	md, err := time.Parse(releaseLayout, t.AnnualRelease)
	if err != nil {
		return avail
	}
	release := model.Date(date.Year()+1, md.Month(), md.Day())
	if !retrieved.IsZero() {
		if r := model.Day(retrieved); r.Before(release) {
			release = r
		}
	}
	if release.After(avail) {
		return release
	}
	return avail
}
