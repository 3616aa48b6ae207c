// Package sources provides per-source selector sets and pagination strategies.
// Every publication listing is scraped by the same extractor; only its Definition differs.
package sources

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/publication-pipeline/internal/types"
)

//go:embed sources.yaml
var defaultDefinitions []byte

// QueryPlaceholder is replaced by the escaped search keyword in SearchURL.
const QueryPlaceholder = "{query}"

// PaginationStrategy controls how the "next page" control is located.
type PaginationStrategy string

const (
	// PaginateWaitClickable polls until the control is clickable or the timeout elapses
	PaginateWaitClickable PaginationStrategy = "wait_clickable"
	// PaginateImmediate looks the control up once and fails if it is absent
	PaginateImmediate PaginationStrategy = "immediate"
)

// Selectors holds the CSS selectors used to read one listing page.
type Selectors struct {
	Container string `yaml:"container" validate:"required"`
	Title     string `yaml:"title" validate:"required"`
	Authors   string `yaml:"authors" validate:"required"`
	Banner    string `yaml:"banner"` // cookie/consent banner to dismiss, optional
}

// Ready describes how to decide that the first result page has rendered.
// WaitFor waits for a selector up to Timeout; Delay is a fixed wait used when
// the site offers nothing reliable to wait on.
type Ready struct {
	WaitFor          string        `yaml:"wait_for"`
	Timeout          time.Duration `yaml:"timeout"`
	Delay            time.Duration `yaml:"delay"`
	ScreenshotOnFail string        `yaml:"screenshot_on_fail"`
}

// Scroll describes the lazy-load scroll performed before reading containers.
type Scroll struct {
	Midpoint bool          `yaml:"midpoint"` // scroll to 1000px first
	Settle   time.Duration `yaml:"settle"`
}

// Pagination describes how to move to the next result page.
type Pagination struct {
	Next     string             `yaml:"next" validate:"required"`
	Strategy PaginationStrategy `yaml:"strategy" validate:"required,oneof=wait_clickable immediate"`
	Timeout  time.Duration      `yaml:"timeout"`
	Settle   time.Duration      `yaml:"settle"`
}

// Definition configures scraping for one publication source.
type Definition struct {
	Source      types.Source `yaml:"source" validate:"required,oneof=ACM IEEE ScienceDirect"`
	DisplayName string       `yaml:"display_name"`
	Journal     string       `yaml:"journal" validate:"required"`
	SearchURL   string       `yaml:"search_url" validate:"required"`
	Selectors   Selectors    `yaml:"selectors"`
	Ready       Ready        `yaml:"ready"`
	Scroll      Scroll       `yaml:"scroll"`
	Pagination  Pagination   `yaml:"pagination"`
}

// BuildSearchURL returns the search URL for keyword.
func (d Definition) BuildSearchURL(keyword string) string {
	return strings.ReplaceAll(d.SearchURL, QueryPlaceholder, url.QueryEscape(keyword))
}

// Name returns the display name, falling back to the source identifier.
func (d Definition) Name() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return string(d.Source)
}

// Registry maps sources to their definitions, preserving file order.
type Registry struct {
	order []types.Source
	defs  map[types.Source]Definition
}

type file struct {
	Sources []Definition `yaml:"sources"`
}

// Default returns the built-in definitions.
func Default() (*Registry, error) {
	return Parse(defaultDefinitions)
}

// Load reads definitions from a YAML file. An empty path returns Default.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source definitions %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML source definitions.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse source definitions: %w", err)
	}
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("no source definitions found")
	}

	validate := validator.New()
	reg := &Registry{defs: make(map[types.Source]Definition, len(f.Sources))}
	for i, def := range f.Sources {
		if err := validate.Struct(def); err != nil {
			return nil, fmt.Errorf("source definition %d (%s): %w", i, def.Source, err)
		}
		if !strings.Contains(def.SearchURL, QueryPlaceholder) {
			return nil, fmt.Errorf("source definition %s: search_url must contain %s", def.Source, QueryPlaceholder)
		}
		if _, dup := reg.defs[def.Source]; dup {
			return nil, fmt.Errorf("source %s defined more than once", def.Source)
		}
		if def.Pagination.Strategy == PaginateWaitClickable && def.Pagination.Timeout == 0 {
			def.Pagination.Timeout = 10 * time.Second
		}
		if def.Ready.WaitFor != "" && def.Ready.Timeout == 0 {
			def.Ready.Timeout = 30 * time.Second
		}
		reg.defs[def.Source] = def
		reg.order = append(reg.order, def.Source)
	}
	return reg, nil
}

// Get returns the definition for source.
func (r *Registry) Get(source types.Source) (Definition, bool) {
	def, ok := r.defs[source]
	return def, ok
}

// Sources returns the configured sources in file order.
func (r *Registry) Sources() []types.Source {
	out := make([]types.Source, len(r.order))
	copy(out, r.order)
	return out
}
