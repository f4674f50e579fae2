package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	priceCleanRe  = regexp.MustCompile(`[$€£¥,\s]`)
	priceNumberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// ParsePrice converts a displayed price string ("$49.99", "$1,299.00",
// "Was $70") to a number. Commas are treated as thousands separators, so
// European decimal-comma prices are not supported. Returns nil when no
// price can be read.
func ParsePrice(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	// Strip currency symbols, separators and labels, then take the first
	// number-looking run.
	cleaned := priceCleanRe.ReplaceAllString(s, "")
	if m := priceNumberRe.FindString(cleaned); m != "" {
		cleaned = m
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}
