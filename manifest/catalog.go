// Package manifest builds catalogs of remote Debian packages from declarative configuration files.
package manifest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.yaml.in/yaml/v3"

	"github.com/etnz/debmeta/apt"
	"github.com/etnz/debmeta/deb"
	"github.com/etnz/debmeta/fetch"
	"github.com/etnz/debmeta/github"
)

// FetchConfig controls how packages are probed.
type FetchConfig struct {
	// Timeout bounds each range request, e.g. "30s". Empty means no limit.
	Timeout string `json:"timeout" yaml:"timeout"`
	// Retries is the number of additional attempts after a transient failure.
	Retries int `json:"retries" yaml:"retries"`
	// UserAgent is sent with every request.
	UserAgent string `json:"user_agent" yaml:"user_agent"`
	// MaxControlSize is the largest control archive downloaded, in bytes.
	MaxControlSize int64 `json:"max_control_size" yaml:"max_control_size"`
}

// Catalog represents the configuration for a catalog of remote packages.
// It defines the output directory, global variables, and where to find packages.
type Catalog struct {
	// Path is the directory path where the catalog will be generated.
	Path string `json:"path" yaml:"path"`
	// Defines is a map of global variables available to source templates.
	Defines map[string]string `json:"defines" yaml:"defines"`
	// Fetch configures the probing of packages.
	Fetch FetchConfig `json:"fetch" yaml:"fetch"`
	// Compressions lists the accepted control archive compressions (gz, xz, zst).
	Compressions []string `json:"compressions" yaml:"compressions"`
	// ArchiveInfo is written to the Release file.
	ArchiveInfo apt.ArchiveInfo `json:"archive_info" yaml:"archive_info"`
	// Sources is a list of .deb URLs or paths, relative to the manifest file.
	Sources []string `json:"sources" yaml:"sources"`
	// GitHub is a list of repositories whose release assets are added to the sources.
	GitHub []string `json:"github" yaml:"github"`

	filePath     string
	engine       *templateEngine
	timeout      time.Duration
	compressions []deb.Compression
	repos        []github.Repo
}

// NewCatalog loads and parses a Catalog configuration from the specified file path.
// It supports both JSON and YAML formats based on the file extension.
func NewCatalog(path string) (*Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var c Catalog
	if err := unmarshal(path, content, &c); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if c.Path == "" {
		return nil, fmt.Errorf("manifest must specify 'path'")
	}

	c.filePath = path
	c.engine = newTemplateEngine(c.Defines)

	if c.Fetch.Timeout != "" {
		if c.timeout, err = time.ParseDuration(c.Fetch.Timeout); err != nil {
			return nil, fmt.Errorf("invalid fetch timeout: %w", err)
		}
	}
	for _, s := range c.Compressions {
		comp, err := deb.ParseCompression(s)
		if err != nil {
			return nil, err
		}
		c.compressions = append(c.compressions, comp)
	}
	for _, s := range c.GitHub {
		r, err := github.ParseRepo(s)
		if err != nil {
			return nil, err
		}
		c.repos = append(c.repos, r)
	}
	return &c, nil
}

// Extractor returns the extractor configured by the fetch section. It reads
// http and https sources over the network and anything else from disk.
func (c *Catalog) Extractor() *deb.Extractor {
	h := fetch.NewHTTP(&fetch.Options{
		Retries:   c.Fetch.Retries,
		UserAgent: c.Fetch.UserAgent,
	})
	return deb.NewExtractor(fetch.Auto{HTTP: h}, &deb.Options{
		FetchTimeout:   c.timeout,
		MaxControlSize: c.Fetch.MaxControlSize,
		Compressions:   c.compressions,
	})
}

// ResolveSources renders the source templates and resolves local paths
// relative to the manifest file.
func (c *Catalog) ResolveSources() ([]string, error) {
	var sources []string
	for i, raw := range c.Sources {
		src, err := c.engine.render(fmt.Sprintf("sources[%d]", i), raw)
		if err != nil {
			return nil, fmt.Errorf("rendering source %q: %w", raw, err)
		}
		sources = append(sources, c.resolve(src))
	}
	return sources, nil
}

// Compile orchestrates the catalog building process.
// It resolves the sources, probes every package, then computes and saves the
// indices. Sources that cannot be read are left out; their errors are
// returned together once the catalog is saved.
func (c *Catalog) Compile(ctx context.Context, gpgKey string, gh *github.Client, l Listener) error {
	if l == nil {
		l = func(fmt.Stringer) {}
	}
	if gh == nil {
		gh = &github.Client{}
	}

	sources, err := c.ResolveSources()
	if err != nil {
		return fmt.Errorf("failed to resolve sources: %w", err)
	}

	var errs error
	if len(c.repos) > 0 {
		urls, err := gh.FetchAllDebs(ctx, c.repos)
		if err != nil {
			l(EventGitHubScanFailure{Error: err.Error()})
			errs = multierror.Append(errs, err)
		}
		sources = append(sources, urls...)
	}
	l(EventCatalogLoadSuccess{Path: c.filePath, Sources: len(sources)})

	idx, err := apt.IndexAll(ctx, c.Extractor(), sources)
	if err != nil {
		for _, e := range flatten(err) {
			l(probeFailure(e))
		}
		errs = multierror.Append(errs, err)
	}
	for _, p := range idx.Packages() {
		l(EventPackageProbeSuccess{
			URL:          p.Filename,
			Package:      p.Name,
			Version:      p.Version,
			Architecture: p.Architecture,
		})
	}

	if err := idx.ComputeIndices(c.ArchiveInfo, gpgKey); err != nil {
		return fmt.Errorf("failed to compute indices: %w", err)
	}

	ops, err := c.SaveCatalog(idx)
	if err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}
	for _, op := range ops {
		l(op)
	}
	l(EventCatalogSaveSuccess{Path: c.Path, Packages: idx.Len()})

	return errs
}

// SaveCatalog writes the computed indices to the configured Path and reports
// what happened to every file.
func (c *Catalog) SaveCatalog(idx *apt.PackageIndex) ([]EventFileOperation, error) {
	dir := c.resolve(c.Path)
	var ops []EventFileOperation
	for _, f := range idx.Files() {
		path := filepath.Join(dir, f.Name)
		op := EventFileOperation{Path: path, NewDigest: digest(f.Content)}
		if old, err := os.ReadFile(path); err == nil {
			op.OldDigest = digest(old)
		}
		op.Created = op.OldDigest == ""
		op.Updated = op.OldDigest != "" && op.OldDigest != op.NewDigest
		ops = append(ops, op)
	}
	if err := idx.SaveTo(dir); err != nil {
		return nil, err
	}
	return ops, nil
}

func digest(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// flatten returns the errors combined in err.
func flatten(err error) []error {
	var merr *multierror.Error
	if errors.As(err, &merr) {
		return merr.WrappedErrors()
	}
	return []error{err}
}

func probeFailure(err error) EventPackageProbeFailure {
	ev := EventPackageProbeFailure{Error: err.Error()}
	var e *deb.Error
	if errors.As(err, &e) {
		ev.URL = e.URL
		ev.Kind = string(e.Kind)
	}
	return ev
}

func (c *Catalog) resolve(path string) string {
	if filepath.IsAbs(path) || fetch.IsURL(path) {
		return path
	}
	return filepath.Join(filepath.Dir(c.filePath), path)
}

// unmarshal parses JSON or YAML based on file extension.
func unmarshal(path string, data []byte, v interface{}) error {
	ext := strings.ToLower(filepath.Ext(path))
	r := bytes.NewReader(data)
	if ext == ".yaml" || ext == ".yml" {
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		return dec.Decode(v)
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
