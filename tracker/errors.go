package tracker

import (
	"errors"

	"github.com/hazyhaar/prix/tracker/internal/extract"
)

// ErrConfig is returned when configuration or registry input fails
// validation.
var ErrConfig = errors.New("tracker: invalid configuration")

// ErrUnknownItem is returned when an operation names an item that is not
// in the store.
var ErrUnknownItem = errors.New("tracker: unknown item")

// ErrNetwork marks failures reaching or rendering the product page.
var ErrNetwork = errors.New("tracker: network failure")

// ErrRateLimited marks a refusal by the target site. Retried without
// consuming the attempt budget.
var ErrRateLimited = errors.New("tracker: rate limited by target")

// ErrInteraction marks a page interaction (colorway click, DOM settle)
// that did not complete in time.
var ErrInteraction = errors.New("tracker: page interaction failed")

// ErrPersistence marks database failures. Never retried by the scrape
// loop; the store has its own busy-retry underneath.
var ErrPersistence = errors.New("tracker: persistence failure")

// Transient reports whether an error is worth retrying within one run.
// Network trouble, target rate limits and semantic-service failures are
// transient; schema failures and persistence failures are not.
func Transient(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, extract.ErrService)
}
