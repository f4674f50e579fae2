// Package discover enumerates the interactive color-variant controls of a
// rendered product page and replays their selection against the same
// session, so each variant can be extracted from a realistic view.
package discover

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/prix/tracker/page"
)

// DefaultSelectors are the swatch patterns tried when no per-domain recipe
// supplies its own. Ordered from most to least specific.
var DefaultSelectors = []string{
	`button[data-testid^="swatch-"]`,
	`.product-swatch`,
	`[class*="ColorSwatch"]`,
	`button[aria-label*="color" i]`,
}

// Colorway is one discovered variant. Selector/Index re-identify the
// control for activation; a zero Selector means "the view as loaded"
// (single-variant item, nothing to click).
type Colorway struct {
	Name     string
	Selector string
	Index    int
}

// Config tunes discovery.
type Config struct {
	// Selectors to probe, in order. The first selector with matches wins.
	// Default: DefaultSelectors.
	Selectors []string
	// Max caps the number of colorways per item. Malformed pages can
	// expose runaway selector counts; the excess is dropped and logged,
	// never treated as a failure. Default: 12.
	Max int
}

func (c *Config) defaults() {
	if len(c.Selectors) == 0 {
		c.Selectors = DefaultSelectors
	}
	if c.Max <= 0 {
		c.Max = 12
	}
}

// Discover returns the ordered colorway list for the current page.
// Always at least one entry: a page without variant controls yields a
// single anonymous colorway.
func Discover(ctx context.Context, s page.Session, cfg Config, logger *slog.Logger) ([]Colorway, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	for _, selector := range cfg.Selectors {
		els, err := s.Elements(ctx, selector)
		if err != nil {
			return nil, fmt.Errorf("discover: probe %q: %w", selector, err)
		}
		if len(els) == 0 {
			continue
		}

		cws := dedupe(els)
		if len(cws) > cfg.Max {
			logger.Warn("discover: colorway cap exceeded, truncating",
				"selector", selector, "found", len(cws), "max", cfg.Max)
			cws = cws[:cfg.Max]
		}
		return cws, nil
	}

	return []Colorway{{Name: ""}}, nil
}

// Activate selects a colorway on the live session and waits for the page
// to settle. A colorway with no selector is the view as loaded; there is
// nothing to click.
func Activate(ctx context.Context, s page.Session, cw Colorway, timeout time.Duration) error {
	if cw.Selector == "" {
		return nil
	}
	if err := s.Click(ctx, cw.Selector, cw.Index); err != nil {
		return fmt.Errorf("discover: select %q: %w", cw.Name, err)
	}
	if err := s.WaitStable(ctx, timeout); err != nil {
		return fmt.Errorf("discover: settle after %q: %w", cw.Name, err)
	}
	return nil
}

// dedupe keeps the first occurrence of each displayed name, compared
// case-insensitively, preserving page order. Unlabelled controls are kept
// under a positional name so they remain selectable.
func dedupe(els []page.Element) []Colorway {
	seen := make(map[string]bool, len(els))
	var out []Colorway
	for _, el := range els {
		name := el.Label
		if name == "" {
			name = fmt.Sprintf("variant-%d", el.Index+1)
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Colorway{Name: name, Selector: el.Selector, Index: el.Index})
	}
	return out
}
