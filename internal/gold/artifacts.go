package gold

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/model"
)

// ManifestFile names the manifest inside the Gold directory.
const ManifestFile = "manifest.json"

const (
	stagingPrefix = ".staging-"
	buildPrefix   = "build-"
)

// Manifest describes the promoted Gold files. Dir is the build directory,
// relative to the Gold directory, holding them.
type Manifest struct {
	RunID   string                   `json:"run_id"`
	Dir     string                   `json:"dir,omitempty"`
	BuiltAt time.Time                `json:"built_at"`
	AsOf    *time.Time               `json:"as_of,omitempty"`
	Tables  map[string]ManifestEntry `json:"tables"`
}

// ManifestEntry describes one Gold file.
type ManifestEntry struct {
	File      string    `json:"file"`
	Rows      int       `json:"rows"`
	Checksum  string    `json:"checksum"`
	FirstDate time.Time `json:"first_date"`
	LastDate  time.Time `json:"last_date"`
}

// Artifacts manages the Gold directory. Each promotion lives in its own
// build directory and the manifest names the current one.
type Artifacts struct {
	dir    string
	now    func() time.Time
	rename func(oldpath, newpath string) error
}

// NewArtifacts manages Gold files under dir.
func NewArtifacts(dir string) *Artifacts {
	return &Artifacts{dir: dir, now: time.Now, rename: os.Rename}
}

// Dir returns the Gold directory.
func (a *Artifacts) Dir() string { return a.dir }

// Staged is a set of written but unpublished Gold files.
type Staged struct {
	a        *Artifacts
	dir      string
	manifest Manifest
}

// Manifest returns the manifest that Promote will publish.
func (s *Staged) Manifest() Manifest { return s.manifest }

// Stage writes every table of res into a fresh staging directory next to
// the Gold directory. Nothing is visible to readers until Promote.
func (a *Artifacts) Stage(res *Result, runID string) (*Staged, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "gold: create %s", a.dir)
	}
	tmp, err := os.MkdirTemp(a.dir, stagingPrefix)
	if err != nil {
		return nil, eris.Wrap(err, "gold: create staging dir")
	}

	m := Manifest{
		RunID:   runID,
		Dir:     buildPrefix + strings.TrimPrefix(filepath.Base(tmp), stagingPrefix),
		BuiltAt: a.now().UTC(),
		Tables:  make(map[string]ManifestEntry),
	}
	if !res.AsOf.IsZero() {
		asOf := res.AsOf
		m.AsOf = &asOf
	}
	for _, t := range res.Tables() {
		data, err := EncodeParquet(t)
		if err != nil {
			os.RemoveAll(tmp) //nolint:errcheck
			return nil, err
		}
		file := t.Name + ".parquet"
		if err := os.WriteFile(filepath.Join(tmp, file), data, 0o644); err != nil {
			os.RemoveAll(tmp) //nolint:errcheck
			return nil, eris.Wrapf(err, "gold: stage %s", file)
		}
		m.Tables[t.Name] = ManifestEntry{
			File:      file,
			Rows:      len(t.Rows),
			Checksum:  Checksum(t),
			FirstDate: t.FirstDate(),
			LastDate:  t.LastDate(),
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		os.RemoveAll(tmp) //nolint:errcheck
		return nil, eris.Wrap(err, "gold: marshal manifest")
	}
	if err := os.WriteFile(filepath.Join(tmp, ManifestFile), data, 0o644); err != nil {
		os.RemoveAll(tmp) //nolint:errcheck
		return nil, eris.Wrap(err, "gold: stage manifest")
	}
	return &Staged{a: a, dir: tmp, manifest: m}, nil
}

// Promote publishes the staged build in two renames: the staging directory
// becomes its build directory, then its manifest replaces the current one.
// Until the second rename readers keep resolving the previous build. Builds
// other than the new one and the one it replaced are pruned afterwards.
func (s *Staged) Promote() error {
	a := s.a
	prev, err := a.Manifest()
	if err != nil {
		return err
	}

	build := filepath.Join(a.dir, s.manifest.Dir)
	if err := a.rename(s.dir, build); err != nil {
		return eris.Wrapf(err, "gold: promote %s", s.manifest.Dir)
	}
	s.dir = build
	if err := a.rename(filepath.Join(build, ManifestFile), filepath.Join(a.dir, ManifestFile)); err != nil {
		return eris.Wrap(err, "gold: promote manifest")
	}

	keep := map[string]bool{s.manifest.Dir: true}
	if prev != nil && prev.Dir != "" {
		keep[prev.Dir] = true
	}
	a.prune(keep)

	zap.L().Info("gold: promoted",
		zap.String("component", "gold.artifacts"),
		zap.String("run_id", s.manifest.RunID),
		zap.String("dir", build),
	)
	return nil
}

// Discard drops the staged files. After a failed Promote it removes the
// unreferenced build directory.
func (s *Staged) Discard() error {
	return eris.Wrap(os.RemoveAll(s.dir), "gold: discard staging dir")
}

func (a *Artifacts) prune(keep map[string]bool) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		zap.L().Warn("gold: list builds", zap.Error(err))
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), buildPrefix) || keep[e.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(a.dir, e.Name())); err != nil {
			zap.L().Warn("gold: prune build", zap.String("dir", e.Name()), zap.Error(err))
		}
	}
}

// Manifest reads the current manifest. Returns nil when Gold has never been
// promoted.
func (a *Artifacts) Manifest() (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(a.dir, ManifestFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "gold: read manifest")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "gold: parse manifest")
	}
	return &m, nil
}

// Load reads a promoted table by name from the build the manifest names.
func (a *Artifacts) Load(ctx context.Context, name string) (*model.GoldTable, error) {
	m, err := a.Manifest()
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, eris.Wrapf(os.ErrNotExist, "gold: %s not promoted", name)
	}
	file := name + ".parquet"
	if e, ok := m.Tables[name]; ok {
		file = e.File
	}
	data, err := os.ReadFile(filepath.Join(a.dir, m.Dir, file))
	if err != nil {
		return nil, eris.Wrapf(err, "gold: read %s", name)
	}
	t, err := DecodeParquet(ctx, data)
	if err != nil {
		return nil, eris.Wrapf(err, "gold: decode %s", name)
	}
	if t.Name == "" {
		t.Name = name
	}
	return t, nil
}

// Checksum hashes the content of a Gold table.
func Checksum(t *model.GoldTable) string {
	h := sha256.New()
	var buf [8]byte
	putOpt := func(v model.Opt) {
		if !v.Valid {
			h.Write([]byte{0})
			return
		}
		h.Write([]byte{1})
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.V))
		h.Write(buf[:])
	}
	for _, c := range t.Columns {
		h.Write([]byte(c))
		h.Write([]byte{0})
	}
	for _, r := range t.Rows {
		h.Write([]byte(r.Date.Format(model.DayLayout)))
		putOpt(r.Target)
		for _, v := range r.Values {
			putOpt(v)
		}
		for _, f := range r.Filled {
			h.Write([]byte{byte(boolFloat(f))})
		}
		h.Write([]byte{byte(boolFloat(r.NoSources))})
	}
	return hex.EncodeToString(h.Sum(nil))
}
