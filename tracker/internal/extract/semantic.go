package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ChatFunc sends one extraction request to the semantic service and
// returns its raw text response. Tests substitute a canned function.
type ChatFunc func(ctx context.Context, system, prompt string) (string, error)

// NewClaudeChat returns a ChatFunc backed by the Anthropic Messages API.
func NewClaudeChat(apiKey, model string, timeout time.Duration) ChatFunc {
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return func(ctx context.Context, system, prompt string) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		msg, err := client.Messages.New(callCtx, anthropic.MessageNewParams{
			Model:       anthropic.Model(model),
			MaxTokens:   1024,
			Temperature: anthropic.Float(0.1),
			System: []anthropic.TextBlockParam{
				{Text: system},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrService, err)
		}

		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		return sb.String(), nil
	}
}

const semanticSystem = "You extract structured product information from " +
	"e-commerce pages. Respond with valid JSON only."

const semanticPrompt = `Extract product information from this e-commerce product page.

Look for:
1. Product name/title (usually in headers or near the top)
2. Brand name (logo, header, navigation, or product details)
3. Category (breadcrumbs, URL path, or product type - e.g. "Hoodies", "Shoes")
4. Prices - patterns like "Was $X, now $Y" or "$X"
   - "Was" price = listed_price (original price)
   - "now" price or current price = sale_price
5. Available sizes (size selectors, buttons, or lists)
6. CSS selectors where you located name, prices and sizes, if identifiable

Return ONLY a JSON object in this exact format:
{
    "name": "Product name as string",
    "brand": "Brand name as string",
    "category": "Category as string",
    "listed_price": 70.00,
    "sale_price": 56.00,
    "sizes_available": ["XS", "S", "M", "L", "XL"],
    "selectors": {"name": "h1.product-title", "listed_price": ".price-was", "sale_price": ".price-now", "sizes": ".size-selector button"}
}

Rules:
- Prices must be numbers, not strings
- If the item is not on sale, listed_price and sale_price are the same
- Only include sizes that are in stock (ignore "Sold Out" sizes)
- If you cannot find a field, use null (except sizes_available which should be [])
- Omit "selectors" if you cannot identify stable selectors

JSON output:`

// semanticResult mirrors the requested JSON schema. A response with the
// wrong field types fails to unmarshal and is treated as a schema error.
type semanticResult struct {
	Name           string            `json:"name"`
	Brand          string            `json:"brand"`
	Category       string            `json:"category"`
	ListedPrice    *float64          `json:"listed_price"`
	SalePrice      *float64          `json:"sale_price"`
	SizesAvailable []string          `json:"sizes_available"`
	Selectors      map[string]string `json:"selectors"`
}

// semantic runs the Tier-1 extraction: cleaned markdown to the model,
// strict parse, sanity validation, recipe refresh on success.
func (p *Pipeline) semantic(ctx context.Context, view View) (*Facts, error) {
	md := p.markdown(view)
	prompt := semanticPrompt + "\n\nPage content:\n\n" + md

	raw, err := p.chat(ctx, semanticSystem, prompt)
	if err != nil {
		return nil, err
	}

	res, err := parseSemanticResponse(raw)
	if err != nil {
		return nil, err
	}

	facts := &Facts{
		Name:           res.Name,
		Brand:          res.Brand,
		Category:       res.Category,
		ListedPrice:    res.ListedPrice,
		SalePrice:      res.SalePrice,
		SizesAvailable: res.SizesAvailable,
	}
	if err := p.validate(facts); err != nil {
		return nil, err
	}

	// A validated semantic result may carry selectors: refresh the domain
	// recipe so later failures can be served without the model.
	if len(res.Selectors) > 0 {
		p.recipes.Put(view.Domain, &Recipe{Selectors: res.Selectors})
		p.logger.Debug("extract: recipe refreshed", "domain", view.Domain)
	}

	return facts, nil
}

var jsonBlobRe = regexp.MustCompile(`(?s)\{.*\}`)

// parseSemanticResponse tolerates markdown code fences and surrounding
// prose, but is strict about field types.
func parseSemanticResponse(raw string) (*semanticResult, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var res semanticResult
	if err := json.Unmarshal([]byte(cleaned), &res); err == nil {
		return &res, nil
	}

	// The model sometimes wraps the object in prose; take the outermost
	// JSON-looking blob.
	blob := jsonBlobRe.FindString(cleaned)
	if blob == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrSchema)
	}
	if err := json.Unmarshal([]byte(blob), &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return &res, nil
}
