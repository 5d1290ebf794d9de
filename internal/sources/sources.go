// Package sources imports publications into the directory.
package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/pressroom/internal/core"
)

// Entry is one source as written in an import file.
type Entry struct {
	URL      string `yaml:"url" json:"url"`
	Name     string `yaml:"name" json:"name"`
	Country  string `yaml:"country" json:"country,omitempty"`
	Language string `yaml:"language" json:"language,omitempty"`
	Locale   string `yaml:"locale" json:"locale,omitempty"`
	Priority bool   `yaml:"priority" json:"priority,omitempty"`
}

type file struct {
	Sources []Entry `yaml:"sources"`
}

// Store is the persistence the importer needs.
type Store interface {
	CreateSource(ctx context.Context, src core.Source) (core.Source, error)
	GetSourceByURL(ctx context.Context, url string) (core.Source, error)
}

// Report summarizes an import.
type Report struct {
	Created  int
	Existing int
	Invalid  int
}

// LoadFile reads entries from a YAML file shaped as {sources: [...]}.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}
	return f.Sources, nil
}

// Importer inserts sources if absent.
type Importer struct {
	store  Store
	logger *zap.Logger
}

// NewImporter builds an Importer.
func NewImporter(store Store, logger *zap.Logger) *Importer {
	return &Importer{store: store, logger: logger.Named("sources")}
}

// Import adds every entry. Invalid entries are logged and counted.
func (i *Importer) Import(ctx context.Context, entries []Entry) (Report, error) {
	var rep Report
	for _, e := range entries {
		_, created, err := i.Add(ctx, e)
		switch {
		case errors.Is(err, ErrInvalid):
			i.logger.Warn("skipping invalid source", zap.String("url", e.URL), zap.Error(err))
			rep.Invalid++
		case err != nil:
			return rep, err
		case created:
			rep.Created++
		default:
			rep.Existing++
		}
	}
	i.logger.Info("sources imported",
		zap.Int("created", rep.Created), zap.Int("existing", rep.Existing), zap.Int("invalid", rep.Invalid))
	return rep, nil
}

// ErrInvalid marks an entry that cannot become a source.
var ErrInvalid = errors.New("invalid source")

// Add inserts e unless a source with the same URL exists, in which case the
// existing source is returned with created=false. A slug taken by another
// URL gets a numeric suffix.
func (i *Importer) Add(ctx context.Context, e Entry) (core.Source, bool, error) {
	src, err := e.source()
	if err != nil {
		return core.Source{}, false, err
	}
	if existing, err := i.store.GetSourceByURL(ctx, src.URL); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.Source{}, false, fmt.Errorf("lookup source %s: %w", src.URL, err)
	}

	base := src.Slug
	for n := 1; ; n++ {
		created, err := i.store.CreateSource(ctx, src)
		if err == nil {
			return created, true, nil
		}
		if !errors.Is(err, core.ErrAlreadyExists) {
			return core.Source{}, false, fmt.Errorf("create source %s: %w", src.URL, err)
		}
		// A concurrent writer may have inserted the same URL.
		if existing, lookupErr := i.store.GetSourceByURL(ctx, src.URL); lookupErr == nil {
			i.logger.Info("source already exists", zap.String("url", src.URL))
			return existing, false, nil
		}
		if n > 100 {
			return core.Source{}, false, fmt.Errorf("create source %s: no free slug: %w", src.URL, err)
		}
		src.Slug = fmt.Sprintf("%s-%d", base, n)
	}
}

func (e Entry) source() (core.Source, error) {
	raw := strings.TrimSpace(e.URL)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u := core.CleanURL(raw)
	host := core.Hostname(u)
	if u == "" || host == "" {
		return core.Source{}, fmt.Errorf("%w: url %q", ErrInvalid, e.URL)
	}
	name := strings.TrimSpace(e.Name)
	if name == "" {
		name = host
	}
	return core.Source{
		URL:      u,
		Name:     name,
		Slug:     core.Slugify(name),
		Country:  strings.TrimSpace(e.Country),
		Language: strings.TrimSpace(e.Language),
		Locale:   strings.TrimSpace(e.Locale),
		Priority: e.Priority,
	}, nil
}
