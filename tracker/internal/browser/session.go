package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/prix/tracker/page"
)

// Session is one Rod tab bound to one item-run. Implements page.Session.
type Session struct {
	page *rod.Page
	url  string
}

// HTML serialises the complete DOM as outer HTML.
func (s *Session) HTML(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// Elements returns all matches for a CSS selector with their display labels.
func (s *Session) Elements(ctx context.Context, selector string) ([]page.Element, error) {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: elements %q: %w", selector, err)
	}

	out := make([]page.Element, 0, len(els))
	for i, el := range els {
		out = append(out, page.Element{
			Label:    elementLabel(el),
			Selector: selector,
			Index:    i,
		})
	}
	return out, nil
}

// Click re-finds the index-th match of selector and clicks it.
func (s *Session) Click(ctx context.Context, selector string, index int) error {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return fmt.Errorf("browser: elements %q: %w", selector, err)
	}
	if index < 0 || index >= len(els) {
		return fmt.Errorf("browser: selector %q has %d matches, index %d out of range",
			selector, len(els), index)
	}
	if err := els[index].Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %q[%d]: %w", selector, index, err)
	}
	return nil
}

// WaitStable blocks until the DOM has stopped mutating, bounded by timeout.
func (s *Session) WaitStable(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.page.Context(waitCtx).WaitDOMStable(500*time.Millisecond, 0); err != nil {
		return fmt.Errorf("browser: wait stable: %w", err)
	}
	return nil
}

// Close closes the tab.
func (s *Session) Close() error {
	if s.page != nil {
		return s.page.Close()
	}
	return nil
}

// elementLabel extracts the human-visible name of a control: aria-label,
// title, alt, then trimmed text content, first non-empty wins.
func elementLabel(el *rod.Element) string {
	for _, attr := range []string{"aria-label", "title", "alt"} {
		v, err := el.Attribute(attr)
		if err == nil && v != nil && strings.TrimSpace(*v) != "" {
			return strings.TrimSpace(*v)
		}
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
