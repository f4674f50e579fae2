package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// fallback runs the Tier-2 extraction: the cached domain recipe applied
// to the raw HTML with structural selectors. No model involved.
func (p *Pipeline) fallback(view View) (*Facts, error) {
	rec := p.recipes.Get(view.Domain)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRecipe, view.Domain)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(view.HTML))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrSchema, err)
	}

	facts := &Facts{
		Name:        selectText(doc, rec.Selectors["name"]),
		ListedPrice: selectPrice(doc, rec.Selectors["listed_price"]),
		SalePrice:   selectPrice(doc, rec.Selectors["sale_price"]),
	}

	if sel := rec.Selectors["sizes"]; sel != "" {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if sizeUnavailable(s) {
				return
			}
			if label := strings.TrimSpace(s.Text()); label != "" {
				facts.SizesAvailable = append(facts.SizesAvailable, label)
			}
		})
	}

	// A recipe that no longer matches the page yields neither name nor
	// prices: count it against the breaker.
	if facts.Name == "" && facts.ListedPrice == nil && facts.SalePrice == nil {
		return nil, fmt.Errorf("%w: recipe selectors matched nothing", ErrSchema)
	}

	if err := p.validate(facts); err != nil {
		return nil, err
	}
	return facts, nil
}

func selectText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func selectPrice(doc *goquery.Document, selector string) *float64 {
	if selector == "" {
		return nil
	}
	return ParsePrice(doc.Find(selector).First().Text())
}

// sizeUnavailable filters size controls that the page marks as sold out.
func sizeUnavailable(s *goquery.Selection) bool {
	if _, ok := s.Attr("disabled"); ok {
		return true
	}
	if v, ok := s.Attr("aria-disabled"); ok && v == "true" {
		return true
	}
	class, _ := s.Attr("class")
	class = strings.ToLower(class)
	return strings.Contains(class, "sold-out") ||
		strings.Contains(class, "soldout") ||
		strings.Contains(class, "unavailable")
}
