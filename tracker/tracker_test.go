package tracker

// WHAT: end-to-end orchestration over a fake browser and a canned
// semantic service: colorway fan-out, retry classification, idempotent
// re-runs and the one-log-row-per-run contract.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/prix/dbopen"
	"github.com/hazyhaar/prix/tracker/internal/extract"
	"github.com/hazyhaar/prix/tracker/internal/store"
	"github.com/hazyhaar/prix/tracker/page"

	_ "modernc.org/sqlite"
)

// fakeSession serves two colorways, Red and Blue, through the first
// default swatch selector. Clicking a swatch switches the HTML marker the
// chat stub keys on.
type fakeSession struct {
	active      string
	failHTML    error
	throttled   bool   // serve a throttling interstitial instead of the product
	stableErrOn string // colorway whose settle wait fails
}

func (s *fakeSession) HTML(ctx context.Context) (string, error) {
	if s.failHTML != nil {
		return "", s.failHTML
	}
	if s.throttled {
		return "<html><body><h1>Too Many Requests</h1>Try again later.</body></html>", nil
	}
	return "<html><body>VARIANT:" + s.active + "</body></html>", nil
}

func (s *fakeSession) Elements(ctx context.Context, selector string) ([]page.Element, error) {
	if selector != `button[data-testid^="swatch-"]` {
		return nil, nil
	}
	return []page.Element{
		{Label: "Red", Selector: selector, Index: 0},
		{Label: "Blue", Selector: selector, Index: 1},
	}, nil
}

func (s *fakeSession) Click(ctx context.Context, selector string, index int) error {
	if index == 0 {
		s.active = "Red"
	} else {
		s.active = "Blue"
	}
	return nil
}

func (s *fakeSession) WaitStable(ctx context.Context, timeout time.Duration) error {
	if s.stableErrOn == "*" || (s.stableErrOn != "" && s.active == s.stableErrOn) {
		return errors.New("context deadline exceeded")
	}
	return nil
}

func (s *fakeSession) Close() error { return nil }

type fakeBrowser struct {
	mu            sync.Mutex
	sessions      int
	openErr       error
	session       *fakeSession
	throttleFirst int    // serve throttling pages for the first N sessions
	stableErrOn   string // propagated to every session
}

func (b *fakeBrowser) NewSession(ctx context.Context, url string) (page.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.sessions++
	b.session = &fakeSession{active: "Red", stableErrOn: b.stableErrOn}
	if b.throttleFirst > 0 {
		b.throttleFirst--
		b.session.throttled = true
	}
	return b.session, nil
}

func (b *fakeBrowser) Close() error { return nil }

// variantChat answers per the VARIANT marker in the prompt.
func variantChat(ctx context.Context, system, prompt string) (string, error) {
	if strings.Contains(prompt, "VARIANT:Blue") {
		return `{"name": "Trail Jacket", "brand": "Acme", "category": "Jackets",
			"listed_price": 25.00, "sale_price": null, "sizes_available": []}`, nil
	}
	return `{"name": "Trail Jacket", "brand": "Acme", "category": "Jackets",
		"listed_price": 19.99, "sale_price": null, "sizes_available": ["S", "M"]}`, nil
}

var testClock = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, browser page.Browser, chat extract.ChatFunc) *Service {
	t.Helper()
	db := dbopen.OpenMemory(t)
	cfg := &Config{
		Retry:    RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Throttle: ThrottleConfig{Interval: time.Millisecond, Burst: 2},
	}
	svc, err := New(db, cfg, slog.Default(),
		WithBrowser(browser),
		WithChat(chat),
		WithClock(func() time.Time { return testClock }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	t.Cleanup(func() { svc.Close() })
	return svc
}

func addTestItem(t *testing.T, svc *Service) string {
	t.Helper()
	id, _, err := svc.store.EnsureItem(context.Background(), &store.Item{
		ID:              "item-1",
		URL:             "https://shop.example.com/p/jacket",
		Name:            "Trail Jacket",
		ScrapeFrequency: "daily",
		CreatedAt:       testClock.UnixMilli(),
	})
	if err != nil {
		t.Fatalf("EnsureItem: %v", err)
	}
	return id
}

func TestRunItemRecordsEveryColorway(t *testing.T) {
	svc := newTestService(t, &fakeBrowser{}, variantChat)
	itemID := addTestItem(t, svc)

	out, err := svc.RunItem(context.Background(), itemID)
	if err != nil {
		t.Fatalf("RunItem: %v", err)
	}
	if !out.Success || out.FactsWritten != 2 || out.SkippedColorways != 0 {
		t.Fatalf("outcome = %+v, want success with 2 facts", out)
	}

	red, err := svc.History(context.Background(), itemID, "Red", 0, 0)
	if err != nil || len(red) != 1 {
		t.Fatalf("Red history = %v, %v", red, err)
	}
	if *red[0].ListedPrice != 19.99 || !red[0].InStock() {
		t.Errorf("Red fact = %+v, want 19.99 in stock", red[0])
	}

	blue, err := svc.History(context.Background(), itemID, "Blue", 0, 0)
	if err != nil || len(blue) != 1 {
		t.Fatalf("Blue history = %v, %v", blue, err)
	}
	if *blue[0].ListedPrice != 25.00 || blue[0].InStock() {
		t.Errorf("Blue fact = %+v, want 25.00 out of stock", blue[0])
	}

	// Both colorways carry the run timestamp.
	if red[0].ScrapedAt != blue[0].ScrapedAt {
		t.Errorf("colorway timestamps differ: %d vs %d", red[0].ScrapedAt, blue[0].ScrapedAt)
	}
	if red[0].ScrapedAt != testClock.UnixMilli() {
		t.Errorf("scraped_at = %d, want %d", red[0].ScrapedAt, testClock.UnixMilli())
	}
}

func TestRunItemIdempotentRerun(t *testing.T) {
	svc := newTestService(t, &fakeBrowser{}, variantChat)
	itemID := addTestItem(t, svc)

	if _, err := svc.RunItem(context.Background(), itemID); err != nil {
		t.Fatalf("first RunItem: %v", err)
	}
	out, err := svc.RunItem(context.Background(), itemID)
	if err != nil {
		t.Fatalf("second RunItem: %v", err)
	}
	// Same clock, same idempotency keys: the rerun writes nothing new.
	if !out.Success || out.FactsWritten != 0 {
		t.Errorf("rerun outcome = %+v, want success with 0 new facts", out)
	}

	red, err := svc.History(context.Background(), itemID, "Red", 0, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(red) != 1 {
		t.Errorf("Red history has %d facts after rerun, want 1", len(red))
	}
}

func TestRunItemRetriesTransientFailures(t *testing.T) {
	browser := &fakeBrowser{}
	calls := 0
	flaky := func(ctx context.Context, system, prompt string) (string, error) {
		calls++
		if calls <= 2 {
			return "", fmt.Errorf("%w: overloaded", extract.ErrService)
		}
		return variantChat(ctx, system, prompt)
	}
	svc := newTestService(t, browser, flaky)
	itemID := addTestItem(t, svc)

	out, err := svc.RunItem(context.Background(), itemID)
	if err != nil {
		t.Fatalf("RunItem: %v", err)
	}
	if !out.Success {
		t.Fatalf("outcome = %+v, want eventual success", out)
	}
	if out.Attempts < 2 {
		t.Errorf("attempts = %d, want retries before success", out.Attempts)
	}
}

func TestRunItemExhaustsAttemptsAndLogsOnce(t *testing.T) {
	browser := &fakeBrowser{openErr: errors.New("connection refused")}
	svc := newTestService(t, browser, variantChat)
	itemID := addTestItem(t, svc)

	out, err := svc.RunItem(context.Background(), itemID)
	if err != nil {
		t.Fatalf("RunItem: %v", err)
	}
	if out.Success {
		t.Fatal("outcome succeeded with an unreachable browser")
	}
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", out.Attempts)
	}
	if !errors.Is(out.Err, ErrNetwork) {
		t.Errorf("outcome error = %v, want ErrNetwork", out.Err)
	}

	entries, err := svc.store.ListLog(context.Background(), itemID, 10)
	if err != nil {
		t.Fatalf("ListLog: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("log has %d rows, want exactly 1", len(entries))
	}
	if entries[0].Success || entries[0].ErrorMessage == "" {
		t.Errorf("log entry = %+v, want failure with message", entries[0])
	}
}

func TestRunItemPermanentFailureDoesNotRetry(t *testing.T) {
	browser := &fakeBrowser{}
	// Unparseable responses are schema failures: permanent for the run.
	svc := newTestService(t, browser, func(ctx context.Context, system, prompt string) (string, error) {
		return "not json at all", nil
	})
	itemID := addTestItem(t, svc)

	out, err := svc.RunItem(context.Background(), itemID)
	if err != nil {
		t.Fatalf("RunItem: %v", err)
	}
	if out.Success {
		t.Fatal("outcome succeeded on unparseable extraction")
	}
	if out.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on schema failure)", out.Attempts)
	}
}

func TestRunItemSkipsColorwayOnInteractionTimeout(t *testing.T) {
	// One dead swatch loses that variant, never the run.
	browser := &fakeBrowser{stableErrOn: "Blue"}
	svc := newTestService(t, browser, variantChat)
	itemID := addTestItem(t, svc)

	out, err := svc.RunItem(context.Background(), itemID)
	if err != nil {
		t.Fatalf("RunItem: %v", err)
	}
	if !out.Success {
		t.Fatalf("outcome = %+v, want success despite one dead swatch", out)
	}
	if out.FactsWritten != 1 || out.SkippedColorways != 1 {
		t.Errorf("outcome = %+v, want 1 fact and 1 skip", out)
	}

	red, err := svc.History(context.Background(), itemID, "Red", 0, 0)
	if err != nil || len(red) != 1 {
		t.Fatalf("Red history = %v, %v", red, err)
	}
	blue, err := svc.History(context.Background(), itemID, "Blue", 0, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(blue) != 0 {
		t.Errorf("Blue history has %d facts, want none for a skipped colorway", len(blue))
	}
}

func TestRunItemFailsWhenEveryColorwayDies(t *testing.T) {
	browser := &fakeBrowser{stableErrOn: "*"}
	svc := newTestService(t, browser, variantChat)
	itemID := addTestItem(t, svc)

	out, err := svc.RunItem(context.Background(), itemID)
	if err != nil {
		t.Fatalf("RunItem: %v", err)
	}
	if out.Success {
		t.Fatal("outcome succeeded with every colorway dead")
	}
	if !errors.Is(out.Err, ErrInteraction) {
		t.Errorf("outcome error = %v, want ErrInteraction", out.Err)
	}
	// Interaction failure is not transient: no retry.
	if out.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", out.Attempts)
	}
}

func TestRunItemRateLimitKeepsRetryBudget(t *testing.T) {
	// WHAT: a throttling interstitial triggers a wait without consuming
	// the attempt budget, and the run still succeeds afterwards.
	browser := &fakeBrowser{throttleFirst: 2}
	svc := newTestService(t, browser, variantChat)
	svc.config.Retry.MaxAttempts = 1
	itemID := addTestItem(t, svc)

	out, err := svc.RunItem(context.Background(), itemID)
	if err != nil {
		t.Fatalf("RunItem: %v", err)
	}
	if !out.Success {
		t.Fatalf("outcome = %+v, want success once throttling clears", out)
	}
	// Two throttled tries plus the successful one, all within a budget
	// of one attempt.
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", out.Attempts)
	}
	if out.FactsWritten != 2 {
		t.Errorf("facts written = %d, want 2", out.FactsWritten)
	}
}

func TestRunItemUnknownItem(t *testing.T) {
	svc := newTestService(t, &fakeBrowser{}, variantChat)
	if _, err := svc.RunItem(context.Background(), "nope"); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("err = %v, want ErrUnknownItem", err)
	}
}

func TestRunBatchScrapesEveryItem(t *testing.T) {
	svc := newTestService(t, &fakeBrowser{}, variantChat)

	for i := 0; i < 5; i++ {
		_, _, err := svc.store.EnsureItem(context.Background(), &store.Item{
			ID:              fmt.Sprintf("item-%d", i),
			URL:             fmt.Sprintf("https://shop.example.com/p/%d", i),
			ScrapeFrequency: "daily",
			CreatedAt:       testClock.UnixMilli(),
		})
		if err != nil {
			t.Fatalf("EnsureItem: %v", err)
		}
	}

	report, err := svc.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if report.Items != 5 || report.Succeeded != 5 || report.Failed != 0 {
		t.Errorf("report = %+v, want 5 successes", report)
	}
	if report.FactsWritten != 10 {
		t.Errorf("facts written = %d, want 10 (two colorways each)", report.FactsWritten)
	}
	if report.SkippedColorways != 0 {
		t.Errorf("skipped colorways = %d, want 0", report.SkippedColorways)
	}
}

func TestRunBatchAggregatesSkippedColorways(t *testing.T) {
	svc := newTestService(t, &fakeBrowser{stableErrOn: "Blue"}, variantChat)

	for i := 0; i < 3; i++ {
		_, _, err := svc.store.EnsureItem(context.Background(), &store.Item{
			ID:              fmt.Sprintf("item-%d", i),
			URL:             fmt.Sprintf("https://shop.example.com/p/%d", i),
			ScrapeFrequency: "daily",
			CreatedAt:       testClock.UnixMilli(),
		})
		if err != nil {
			t.Fatalf("EnsureItem: %v", err)
		}
	}

	report, err := svc.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if report.Succeeded != 3 {
		t.Fatalf("report = %+v, want 3 successes", report)
	}
	if report.SkippedColorways != 3 {
		t.Errorf("skipped colorways = %d, want 3 (one per item)", report.SkippedColorways)
	}
}

func TestCompactAllAggregatesSeries(t *testing.T) {
	svc := newTestService(t, &fakeBrowser{}, variantChat)
	itemID := addTestItem(t, svc)

	// A week of daily observations eight months back, two colorways.
	old := testClock.AddDate(0, -8, 0)
	// Align to Monday so the whole run lands in one ISO week.
	for old.Weekday() != time.Monday {
		old = old.AddDate(0, 0, -1)
	}
	price := 70.0
	for _, cw := range []string{"Red", "Blue"} {
		for i := 0; i < 7; i++ {
			_, err := svc.store.AppendFact(context.Background(), &store.Fact{
				ID:          fmt.Sprintf("old-%s-%d", cw, i),
				ItemID:      itemID,
				ScrapedAt:   old.AddDate(0, 0, i).UnixMilli(),
				Colorway:    cw,
				ListedPrice: &price,
				Sizes:       []string{"M"},
			})
			if err != nil {
				t.Fatalf("AppendFact: %v", err)
			}
		}
	}

	sum, err := svc.CompactAll(context.Background())
	if err != nil {
		t.Fatalf("CompactAll: %v", err)
	}
	if sum.Series != 2 {
		t.Errorf("series = %d, want 2", sum.Series)
	}
	if sum.Deleted != 12 || sum.Kept != 2 {
		t.Errorf("summary = %+v, want 12 deleted and 2 kept", sum)
	}
}
