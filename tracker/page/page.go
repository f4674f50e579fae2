// Package page defines the rendered-page surface the scrape pipeline
// consumes. The production implementation drives a stealth Chrome tab
// (tracker/internal/browser); tests substitute fakes.
//
// A Session is scoped to one item-run and must never be shared across
// items: colorway interactions mutate the underlying navigation state.
package page

import (
	"context"
	"time"
)

// Element is an interactive control found on the page. Selector plus Index
// re-identify the element for Click after the DOM has settled.
type Element struct {
	// Label is the human-visible name of the control (aria-label, title,
	// alt or text content, first non-empty wins).
	Label string
	// Selector is the CSS selector the element was found with.
	Selector string
	// Index is the element's position within the selector's match list.
	Index int
}

// Session is one browser tab bound to one item-run.
type Session interface {
	// HTML returns the current rendered DOM as outer HTML.
	HTML(ctx context.Context) (string, error)
	// Elements returns all elements matching a CSS selector.
	Elements(ctx context.Context, selector string) ([]Element, error)
	// Click simulates a click on the index-th match of selector.
	Click(ctx context.Context, selector string, index int) error
	// WaitStable blocks until the DOM has been quiet for a short window,
	// or the timeout expires. Synchronous with an explicit deadline; no
	// event loop crosses this boundary.
	WaitStable(ctx context.Context, timeout time.Duration) error
	// Close releases the tab.
	Close() error
}

// Browser creates sessions. One session per item-run.
type Browser interface {
	NewSession(ctx context.Context, url string) (Session, error)
	Close() error
}
