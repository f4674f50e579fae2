package extract

import (
	"regexp"
)

// Focusing narrows the page markdown to the section most likely to carry
// the product facts before it is sent to the semantic tier. Product pages
// bury the interesting block between navigation, recommendations and
// footer boilerplate; sending all of it wastes tokens and degrades
// extraction quality.

var (
	focusPriceRe  = regexp.MustCompile(`\$\s*\d+(?:\.\d{2})?`)
	focusHeaderRe = regexp.MustCompile(`(?m)^#{1,2}\s+[A-Z].*$`)
)

const (
	focusBackWindow  = 3000
	focusFrontWindow = 15000
	focusMinSection  = 5000
)

// focusProductSection returns a window of at most maxChars around the
// densest price region. Strategy, in order: window around the first
// substantial price match, window after the first top-level header,
// then the middle of the document with the leading navigation skipped.
func focusProductSection(markdown string, maxChars int) string {
	if len(markdown) <= maxChars {
		return markdown
	}

	for _, m := range focusPriceRe.FindAllStringIndex(markdown, -1) {
		start := max(0, m[0]-focusBackWindow)
		end := min(len(markdown), m[0]+focusFrontWindow)
		if end-start > focusMinSection {
			return clampSection(markdown, start, end, maxChars)
		}
	}

	if m := focusHeaderRe.FindStringIndex(markdown); m != nil {
		start := max(0, m[0]-1000)
		return clampSection(markdown, start, start+maxChars, maxChars)
	}

	// Skip the first fifth (typically navigation) and take what fits.
	skip := len(markdown) / 5
	return clampSection(markdown, skip, skip+maxChars, maxChars)
}

func clampSection(s string, start, end, maxChars int) string {
	if end > len(s) {
		end = len(s)
	}
	if end-start > maxChars {
		end = start + maxChars
	}
	return s[start:end]
}
