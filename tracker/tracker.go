// Package tracker watches e-commerce product pages and records price
// history per colorway. It renders pages in a headless browser, extracts
// structured facts through a two-tier pipeline and appends them to an
// idempotent store, so retries and overlapping runs never double-count.
package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/prix/idgen"
	"github.com/hazyhaar/prix/throttle"
	"github.com/hazyhaar/prix/tracker/internal/browser"
	"github.com/hazyhaar/prix/tracker/internal/compact"
	"github.com/hazyhaar/prix/tracker/internal/discover"
	"github.com/hazyhaar/prix/tracker/internal/extract"
	"github.com/hazyhaar/prix/tracker/internal/store"
	"github.com/hazyhaar/prix/tracker/page"
)

// Service is the price tracker orchestrator.
type Service struct {
	store       *store.Store
	browser     page.Browser
	pipeline    *extract.Pipeline
	limiter     *throttle.Limiter
	downsampler *compact.Downsampler
	config      *Config
	logger      *slog.Logger
	newID       func() string
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithBrowser overrides the headless browser. Used in tests with a fake
// page source.
func WithBrowser(b page.Browser) ServiceOption {
	return func(svc *Service) { svc.browser = b }
}

// WithChat overrides the semantic extraction transport.
func WithChat(chat extract.ChatFunc) ServiceOption {
	return func(svc *Service) {
		svc.pipeline = extract.New(chat,
			extract.NewCache(svc.config.Extract.RecipeMaxFailures),
			extractConfig(svc.config), svc.logger)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(svc *Service) { svc.now = now }
}

// WithIDGen overrides the id generator.
func WithIDGen(gen func() string) ServiceOption {
	return func(svc *Service) { svc.newID = gen }
}

// New creates a tracker Service over an already-opened database. The
// schema is applied on creation; it is idempotent.
func New(db *sql.DB, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	if err := store.ApplySchema(db); err != nil {
		return nil, fmt.Errorf("%w: apply schema: %v", ErrPersistence, err)
	}
	st := store.NewStore(db)

	svc := &Service{
		store:  st,
		config: cfg,
		logger: logger,
		newID:  idgen.New,
		now:    time.Now,
		sleep:  sleepCtx,
		limiter: throttle.New(throttle.Config{
			Interval: cfg.Throttle.Interval,
			Burst:    cfg.Throttle.Burst,
		}),
		downsampler: compact.New(st, compact.Config{
			WeeklyAfterMonths:  cfg.Compact.WeeklyAfterMonths,
			MonthlyAfterMonths: cfg.Compact.MonthlyAfterMonths,
		}, logger),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.browser == nil {
		svc.browser = browser.NewManager(browser.Config{
			RemoteURL:   cfg.Browser.RemoteURL,
			NavTimeout:  cfg.Browser.NavTimeout,
			SettleDelay: cfg.Browser.SettleDelay,
			Logger:      logger,
		})
	}
	if svc.pipeline == nil {
		chat := extract.NewClaudeChat(cfg.Extract.APIKey, cfg.Extract.Model, cfg.Extract.Timeout)
		svc.pipeline = extract.New(chat,
			extract.NewCache(cfg.Extract.RecipeMaxFailures),
			extractConfig(cfg), logger)
	}

	return svc, nil
}

func extractConfig(cfg *Config) extract.Config {
	return extract.Config{
		MaxContentBytes:   cfg.Extract.MaxContentBytes,
		MaxPlausiblePrice: cfg.Extract.MaxPlausiblePrice,
	}
}

// Close releases the browser.
func (svc *Service) Close() error {
	if svc.browser != nil {
		return svc.browser.Close()
	}
	return nil
}

// Item returns one tracked item.
func (svc *Service) Item(ctx context.Context, id string) (*TrackedItem, error) {
	it, err := svc.store.GetItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if it == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	return it, nil
}

// Items returns every tracked item.
func (svc *Service) Items(ctx context.Context) ([]*TrackedItem, error) {
	items, err := svc.store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return items, nil
}

// History returns the price observations of one series with scraped_at
// in [from, to) milliseconds, oldest first. Zero bounds are unbounded.
func (svc *Service) History(ctx context.Context, itemID, colorway string, from, to int64) ([]*PriceFact, error) {
	facts, err := svc.store.QueryHistory(ctx, itemID, colorway, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return facts, nil
}

// Latest returns the most recent observation of one series, or nil.
func (svc *Service) Latest(ctx context.Context, itemID, colorway string) (*PriceFact, error) {
	f, err := svc.store.LatestFact(ctx, itemID, colorway)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return f, nil
}

// RunItem scrapes one item now: render, discover colorways, extract and
// append one fact per colorway. Transient failures are retried with
// backoff inside the call; the attempt budget excludes rate-limit waits.
// Exactly one scrape_log row is written per call.
func (svc *Service) RunItem(ctx context.Context, itemID string) (*Outcome, error) {
	it, err := svc.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if it == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}

	domain := itemDomain(it.URL)
	log := svc.logger.With("item_id", it.ID, "url", it.URL)

	// One timestamp for the whole run. Retried attempts and every
	// colorway share it, so partial writes collapse on the idempotency
	// key instead of duplicating history.
	scrapedAt := svc.now().UnixMilli()

	out := &Outcome{ItemID: it.ID}
	var runErr error
	for attempt := 1; attempt <= svc.config.Retry.MaxAttempts; attempt++ {
		if err := svc.limiter.Wait(ctx, domain); err != nil {
			runErr = fmt.Errorf("%w: %v", ErrNetwork, err)
			break
		}

		out.Attempts++
		runErr = svc.scrapeOnce(ctx, it, domain, scrapedAt, out)
		if runErr == nil {
			out.Success = true
			break
		}

		if errors.Is(runErr, ErrRateLimited) {
			// The target pushed back: wait, but keep the attempt budget.
			attempt--
			log.Warn("tracker: rate limited, backing off", "error", runErr)
		} else if !Transient(runErr) {
			log.Warn("tracker: permanent failure, giving up", "error", runErr)
			break
		} else {
			log.Warn("tracker: transient failure", "attempt", attempt, "error", runErr)
		}

		if attempt < svc.config.Retry.MaxAttempts {
			if err := svc.sleep(ctx, svc.backoff(out.Attempts)); err != nil {
				runErr = fmt.Errorf("%w: %v", ErrNetwork, err)
				break
			}
		}
	}
	out.Err = runErr

	// The audit row must land even when the run died on a cancelled
	// context.
	logCtx := context.WithoutCancel(ctx)
	entry := &store.LogEntry{
		ID:        svc.newID(),
		ItemID:    it.ID,
		ScrapedAt: scrapedAt,
		Success:   out.Success,
	}
	if runErr != nil {
		entry.ErrorMessage = runErr.Error()
	}
	if err := svc.store.AppendLog(logCtx, entry); err != nil {
		log.Error("tracker: append scrape log", "error", err)
	}

	if out.Success {
		log.Info("tracker: item scraped",
			"facts", out.FactsWritten, "skipped_colorways", out.SkippedColorways,
			"attempts", out.Attempts)
	}
	return out, nil
}

// scrapeOnce is a single attempt: one browser session, every colorway.
func (svc *Service) scrapeOnce(ctx context.Context, it *store.Item, domain string, scrapedAt int64, out *Outcome) error {
	session, err := svc.browser.NewSession(ctx, it.URL)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrNetwork, it.URL, err)
	}
	defer session.Close()

	// Throttled sites swap the product page for an interstitial. Sniff it
	// before touching any variant so the attempt is classified as a
	// rate-limit wait, not an extraction failure.
	probe, err := session.HTML(ctx)
	if err != nil {
		return fmt.Errorf("%w: read page: %v", ErrNetwork, err)
	}
	if rateLimited(probe) {
		return fmt.Errorf("%w: %s served a throttling page", ErrRateLimited, domain)
	}

	colorways, err := discover.Discover(ctx, session, discover.Config{
		Selectors: svc.config.Discover.Selectors,
		Max:       svc.config.Discover.MaxColorways,
	}, svc.logger)
	if err != nil {
		return fmt.Errorf("%w: discover colorways: %v", ErrNetwork, err)
	}

	wrote := 0
	skipped := 0
	for _, cw := range colorways {
		if err := discover.Activate(ctx, session, cw, svc.config.Discover.SettleTimeout); err != nil {
			// A dead swatch loses one variant, not the run.
			svc.logger.Warn("tracker: colorway activation failed, skipping",
				"item_id", it.ID, "colorway", cw.Name, "error", err)
			skipped++
			continue
		}

		html, err := session.HTML(ctx)
		if err != nil {
			return fmt.Errorf("%w: read page: %v", ErrNetwork, err)
		}

		facts, err := svc.pipeline.Extract(ctx, extract.View{
			URL:      it.URL,
			Domain:   domain,
			Colorway: cw.Name,
			HTML:     html,
		})
		if err != nil {
			if extractTransient(err) {
				return err
			}
			// Unextractable variant: note it and move on, the other
			// colorways may still parse.
			svc.logger.Warn("tracker: extraction failed, skipping colorway",
				"item_id", it.ID, "colorway", cw.Name, "error", err)
			skipped++
			continue
		}

		written, err := svc.store.AppendFact(ctx, &store.Fact{
			ID:          svc.newID(),
			ItemID:      it.ID,
			ScrapedAt:   scrapedAt,
			Colorway:    cw.Name,
			ListedPrice: facts.ListedPrice,
			SalePrice:   facts.SalePrice,
			Sizes:       facts.SizesAvailable,
		})
		if err != nil {
			return fmt.Errorf("%w: append fact: %v", ErrPersistence, err)
		}
		if written {
			wrote++
		}
	}

	if wrote == 0 && skipped == len(colorways) && len(colorways) > 0 {
		return fmt.Errorf("%w: all %d colorways failed", ErrInteraction, len(colorways))
	}

	out.FactsWritten = wrote
	out.SkippedColorways = skipped
	return nil
}

// extractTransient reports whether an extraction error should abort the
// attempt for retry instead of skipping the colorway.
func extractTransient(err error) bool {
	return errors.Is(err, extract.ErrService)
}

// rateLimitMarkers are phrases from the interstitials sites serve when
// they throttle a scraper. Kept distinctive enough not to match product
// page copy.
var rateLimitMarkers = []string{
	"too many requests",
	"rate limited",
	"unusual traffic from your",
	"verify you are a human",
}

func rateLimited(html string) bool {
	h := strings.ToLower(html)
	for _, m := range rateLimitMarkers {
		if strings.Contains(h, m) {
			return true
		}
	}
	return false
}

// RunBatch scrapes every tracked item with a bounded worker pool.
func (svc *Service) RunBatch(ctx context.Context) (*BatchReport, error) {
	items, err := svc.store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	report := &BatchReport{Items: len(items)}
	if len(items) == 0 {
		return report, nil
	}

	jobs := make(chan *store.Item)
	var mu sync.Mutex
	var wg sync.WaitGroup

	workers := svc.config.Workers
	if workers > len(items) {
		workers = len(items)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range jobs {
				out, err := svc.RunItem(ctx, it.ID)
				if err != nil {
					out = &Outcome{ItemID: it.ID, Err: err}
				}
				mu.Lock()
				report.Outcomes = append(report.Outcomes, out)
				report.SkippedColorways += out.SkippedColorways
				if out.Success {
					report.Succeeded++
					report.FactsWritten += out.FactsWritten
				} else {
					report.Failed++
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, it := range items {
		select {
		case jobs <- it:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	svc.logger.Info("tracker: batch finished",
		"items", report.Items, "succeeded", report.Succeeded,
		"failed", report.Failed, "facts", report.FactsWritten,
		"skipped_colorways", report.SkippedColorways)
	return report, ctx.Err()
}

// CompactAll downsamples every series per the retention tiers.
func (svc *Service) CompactAll(ctx context.Context) (*CompactionSummary, error) {
	series, err := svc.store.ListSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	sum := &CompactionSummary{Series: len(series)}
	for _, s := range series {
		rep, err := svc.downsampler.Compact(ctx, s[0], s[1])
		if err != nil {
			return sum, fmt.Errorf("compact series %s/%s: %w", s[0], s[1], err)
		}
		sum.Examined += rep.Examined
		sum.Deleted += rep.Deleted
		sum.Kept += rep.Kept
	}
	return sum, nil
}

// SuccessRate returns the fraction of successful runs for an item since
// the given time (ms since epoch, 0 for all time).
func (svc *Service) SuccessRate(ctx context.Context, itemID string, since int64) (float64, error) {
	rate, err := svc.store.SuccessRate(ctx, itemID, since)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return rate, nil
}

// backoff is exponential in the attempt count with half-width jitter.
func (svc *Service) backoff(attempt int) time.Duration {
	d := svc.config.Retry.BaseDelay << (attempt - 1)
	if d > svc.config.Retry.MaxDelay {
		d = svc.config.Retry.MaxDelay
	}
	half := int64(d) / 2
	return time.Duration(half + rand.Int63n(half+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func itemDomain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
