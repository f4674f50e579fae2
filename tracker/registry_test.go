package tracker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	return path
}

func TestLoadRegistry(t *testing.T) {
	path := writeRegistry(t, `
items:
  - url: https://shop.example.com/p/jacket
    name: Trail Jacket
    brand: Acme
    frequency: daily
  - url: https://other.example.com/p/boots
`)
	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if len(reg.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(reg.Items))
	}
	if reg.Items[1].Frequency != "daily" {
		t.Errorf("frequency defaulted to %q, want daily", reg.Items[1].Frequency)
	}
}

func TestLoadRegistryRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad scheme", "items:\n  - url: ftp://example.com/x\n"},
		{"no host", "items:\n  - url: https:///x\n"},
		{"empty url", "items:\n  - name: no url\n"},
		{"bad frequency", "items:\n  - url: https://example.com/x\n    frequency: sometimes\n"},
		{"duplicate url", "items:\n  - url: https://example.com/x\n  - url: https://example.com/x\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeRegistry(t, tc.content)
			if _, err := LoadRegistry(path); !errors.Is(err, ErrConfig) {
				t.Errorf("err = %v, want ErrConfig", err)
			}
		})
	}
}

func TestSyncRegistryKeepsItemIdentity(t *testing.T) {
	svc := newTestService(t, &fakeBrowser{}, variantChat)
	reg := &Registry{Items: []RegistryItem{
		{URL: "https://shop.example.com/p/jacket", Name: "Trail Jacket", Frequency: "daily"},
	}}

	added, err := svc.SyncRegistry(context.Background(), reg)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}

	items, err := svc.Items(context.Background())
	if err != nil || len(items) != 1 {
		t.Fatalf("Items = %v, %v", items, err)
	}
	firstID := items[0].ID

	// A second sync of the same registry creates nothing and keeps ids.
	added, err = svc.SyncRegistry(context.Background(), reg)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if added != 0 {
		t.Errorf("added = %d on resync, want 0", added)
	}
	items, _ = svc.Items(context.Background())
	if len(items) != 1 || items[0].ID != firstID {
		t.Errorf("resync changed item identity: %v", items)
	}
}

func TestLoadConfigFileDefaults(t *testing.T) {
	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Workers != 4 || cfg.Retry.MaxAttempts != 3 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfigFileParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
workers: 2
retry:
  max_attempts: 5
throttle:
  interval: 5s
extract:
  model: claude-sonnet-4-5
  max_plausible_price: 10000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Workers != 2 || cfg.Retry.MaxAttempts != 5 {
		t.Errorf("parsed config = %+v", cfg)
	}
	if cfg.Throttle.Interval.Seconds() != 5 {
		t.Errorf("throttle interval = %v, want 5s", cfg.Throttle.Interval)
	}
	if cfg.Extract.MaxPlausiblePrice != 10000 {
		t.Errorf("max plausible price = %v", cfg.Extract.MaxPlausiblePrice)
	}
}
