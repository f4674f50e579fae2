// Package extract converts a rendered product view into structured price
// facts through a two-tier strategy: a semantic extractor (Claude) as the
// primary, and a deterministic per-domain recipe as the fallback.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
)

// ErrService marks failures on the semantic service side (timeouts,
// HTTP errors, overload). The orchestrator treats these as transient.
var ErrService = errors.New("extract: semantic service failure")

// ErrSchema marks responses that do not fit the expected schema or fail
// the sanity checks. Not transient: retrying the same content is futile.
var ErrSchema = errors.New("extract: response failed schema validation")

// ErrNoRecipe is returned by the fallback tier when no recipe is cached
// for the page's domain.
var ErrNoRecipe = errors.New("extract: no recipe for domain")

// Tier identifies which extractor produced a Facts value. Observability
// only; never persisted.
type Tier string

const (
	TierSemantic Tier = "semantic"
	TierFallback Tier = "fallback"
)

// View is one rendered page state handed to the pipeline.
type View struct {
	URL      string
	Domain   string
	Colorway string
	HTML     string
}

// Facts is the structured output of extraction for one rendered view.
type Facts struct {
	Name           string
	Brand          string
	Category       string
	ListedPrice    *float64
	SalePrice      *float64
	SizesAvailable []string
	Tier           Tier
}

// Config tunes the pipeline.
type Config struct {
	// MaxContentBytes bounds the cleaned markdown sent to the semantic
	// tier. Default: 20000.
	MaxContentBytes int
	// MaxPlausiblePrice rejects extractions above this bound as noise.
	// 0 disables the check.
	MaxPlausiblePrice float64
}

func (c *Config) defaults() {
	if c.MaxContentBytes <= 0 {
		c.MaxContentBytes = 20000
	}
}

// Pipeline runs the two-tier extraction.
type Pipeline struct {
	chat     ChatFunc
	recipes  *Cache
	cfg      Config
	logger   *slog.Logger
	conv     *converter.Converter
	sanitize *bluemonday.Policy
}

// New creates a Pipeline. chat is the semantic tier transport; recipes is
// the explicit per-domain recipe store (shared across runs for cost
// control and breaker state).
func New(chat ChatFunc, recipes *Cache, cfg Config, logger *slog.Logger) *Pipeline {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if recipes == nil {
		recipes = NewCache(0)
	}
	return &Pipeline{
		chat:    chat,
		recipes: recipes,
		cfg:     cfg,
		logger:  logger,
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		sanitize: bluemonday.UGCPolicy(),
	}
}

// Extract produces Facts for a view. The semantic tier runs first; any of
// its failures falls through to the domain recipe. When both tiers fail,
// the returned error wraps the semantic cause so the caller can classify
// transiency (service-side vs schema).
func (p *Pipeline) Extract(ctx context.Context, view View) (*Facts, error) {
	log := p.logger.With("url", view.URL, "colorway", view.Colorway)

	facts, semErr := p.semantic(ctx, view)
	if semErr == nil {
		facts.Tier = TierSemantic
		return facts, nil
	}
	log.Warn("extract: semantic tier failed, trying recipe", "error", semErr)

	facts, fbErr := p.fallback(view)
	if fbErr == nil {
		p.recipes.RecordSuccess(view.Domain)
		facts.Tier = TierFallback
		return facts, nil
	}

	if !errors.Is(fbErr, ErrNoRecipe) {
		if p.recipes.RecordFailure(view.Domain) {
			log.Warn("extract: recipe invalidated after repeated failures",
				"domain", view.Domain)
		}
	}

	return nil, fmt.Errorf("extract %s: %w (fallback: %v)", view.URL, semErr, fbErr)
}

// markdown cleans the raw HTML and converts it to focused markdown for
// the semantic tier.
func (p *Pipeline) markdown(view View) string {
	clean := p.sanitize.Sanitize(view.HTML)
	md, err := p.conv.ConvertString(clean, converter.WithDomain(view.URL))
	if err != nil || strings.TrimSpace(md) == "" {
		// Conversion failure is not fatal: fall back to the sanitised
		// text, the focusing pass still narrows it.
		md = clean
	}
	return focusProductSection(md, p.cfg.MaxContentBytes)
}

// validate applies the shared sanity checks to extracted facts.
func (p *Pipeline) validate(f *Facts) error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: empty product name", ErrSchema)
	}
	for _, price := range []*float64{f.ListedPrice, f.SalePrice} {
		if price == nil {
			continue
		}
		if *price < 0 {
			return fmt.Errorf("%w: negative price %v", ErrSchema, *price)
		}
		if p.cfg.MaxPlausiblePrice > 0 && *price > p.cfg.MaxPlausiblePrice {
			return fmt.Errorf("%w: price %v above plausibility bound", ErrSchema, *price)
		}
	}
	if f.ListedPrice != nil && f.SalePrice != nil && *f.SalePrice > *f.ListedPrice {
		return fmt.Errorf("%w: sale price %v above listed price %v",
			ErrSchema, *f.SalePrice, *f.ListedPrice)
	}
	if f.SizesAvailable == nil {
		f.SizesAvailable = []string{}
	}
	return nil
}
