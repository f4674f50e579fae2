package tracker

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/prix/tracker/internal/store"
)

// Registry is the operator-maintained list of items to track.
type Registry struct {
	Items []RegistryItem `yaml:"items"`
}

// RegistryItem declares one product page in the registry file.
type RegistryItem struct {
	URL       string `yaml:"url"`
	Name      string `yaml:"name"`
	Brand     string `yaml:"brand"`
	Category  string `yaml:"category"`
	Frequency string `yaml:"frequency"`
}

var allowedFrequencies = map[string]bool{
	"hourly": true,
	"daily":  true,
	"weekly": true,
}

// LoadRegistry reads and validates a registry file. Every entry needs an
// http(s) URL; frequency defaults to daily; duplicate URLs are rejected
// so one page cannot be scraped under two identities.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}

	seen := make(map[string]bool, len(reg.Items))
	for i := range reg.Items {
		it := &reg.Items[i]
		if err := validateItemURL(it.URL); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrConfig, i, err)
		}
		if seen[it.URL] {
			return nil, fmt.Errorf("%w: duplicate url %s", ErrConfig, it.URL)
		}
		seen[it.URL] = true

		if it.Frequency == "" {
			it.Frequency = "daily"
		}
		if !allowedFrequencies[it.Frequency] {
			return nil, fmt.Errorf("%w: item %d: frequency %q (want hourly, daily or weekly)",
				ErrConfig, i, it.Frequency)
		}
	}
	return &reg, nil
}

func validateItemURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q: missing host", raw)
	}
	return nil
}

// SyncRegistry upserts every registry entry into the store. Existing
// items keep their identity and history; new URLs get fresh ids. Returns
// how many items were created.
func (svc *Service) SyncRegistry(ctx context.Context, reg *Registry) (int, error) {
	added := 0
	for i := range reg.Items {
		ri := &reg.Items[i]
		_, created, err := svc.store.EnsureItem(ctx, &store.Item{
			ID:              svc.newID(),
			URL:             ri.URL,
			Name:            ri.Name,
			Brand:           ri.Brand,
			Category:        ri.Category,
			ScrapeFrequency: ri.Frequency,
			CreatedAt:       svc.now().UnixMilli(),
		})
		if err != nil {
			return added, fmt.Errorf("%w: sync %s: %v", ErrPersistence, ri.URL, err)
		}
		if created {
			added++
		}
	}
	svc.logger.Info("tracker: registry synced", "items", len(reg.Items), "added", added)
	return added, nil
}
