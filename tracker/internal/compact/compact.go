// Package compact downsamples old price history so the store grows with
// the number of price changes, not the scrape frequency.
//
// Retention tiers, measured from the current time:
//
//	< 6 months   raw, untouched
//	6-12 months  one representative per ISO week
//	> 12 months  one representative per calendar month (UTC)
//
// The representative of a bucket is the observation with the lowest
// effective price (sale when present, listed otherwise); ties go to the
// earliest scraped_at, then the smallest id. A bucket is only compacted
// once it lies entirely past its tier boundary, so a bucket still
// receiving observations is never touched and re-running the pass is a
// no-op.
package compact

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hazyhaar/prix/tracker/internal/store"
)

// Config tunes the downsampler.
type Config struct {
	// WeeklyAfterMonths is the age, in calendar months, past which history
	// is thinned to weekly buckets. Default: 6.
	WeeklyAfterMonths int
	// MonthlyAfterMonths is the age past which history is thinned to
	// monthly buckets. Default: 12.
	MonthlyAfterMonths int
}

func (c *Config) defaults() {
	if c.WeeklyAfterMonths <= 0 {
		c.WeeklyAfterMonths = 6
	}
	if c.MonthlyAfterMonths <= 0 {
		c.MonthlyAfterMonths = 12
	}
}

// Report summarises one compaction of one series.
type Report struct {
	Examined int
	Deleted  int
	Kept     int
}

// Downsampler compacts price history series. Safe for concurrent use;
// writes to any one series are serialised by a per-series lock.
type Downsampler struct {
	store  *store.Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Downsampler over the given store.
func New(st *store.Store, cfg Config, logger *slog.Logger) *Downsampler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Downsampler{
		store:  st,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Compact downsamples one (item, colorway) series and reports what it did.
func (d *Downsampler) Compact(ctx context.Context, itemID, colorway string) (*Report, error) {
	lock := d.seriesLock(itemID + "\x00" + colorway)
	lock.Lock()
	defer lock.Unlock()

	now := d.now().UTC()
	weeklyCutoff := now.AddDate(0, -d.cfg.WeeklyAfterMonths, 0)
	monthlyCutoff := now.AddDate(0, -d.cfg.MonthlyAfterMonths, 0)

	rep := &Report{}

	deleted, examined, err := d.pass(ctx, itemID, colorway, weeklyCutoff, isoWeekBucket)
	if err != nil {
		return nil, fmt.Errorf("compact: weekly pass: %w", err)
	}
	rep.Examined = examined
	rep.Deleted += deleted

	deleted, _, err = d.pass(ctx, itemID, colorway, monthlyCutoff, monthBucket)
	if err != nil {
		return nil, fmt.Errorf("compact: monthly pass: %w", err)
	}
	rep.Deleted += deleted
	rep.Kept = rep.Examined - rep.Deleted

	if rep.Deleted > 0 {
		d.logger.Info("compact: series downsampled",
			"item_id", itemID, "colorway", colorway,
			"examined", rep.Examined, "deleted", rep.Deleted, "kept", rep.Kept)
	}
	return rep, nil
}

// pass compacts every bucket of facts older than cutoff whose bucket
// window closes at or before cutoff. bucket maps an observation time to
// its window [start, end).
func (d *Downsampler) pass(ctx context.Context, itemID, colorway string,
	cutoff time.Time, bucket func(time.Time) (time.Time, time.Time)) (deleted, examined int, err error) {

	facts, err := d.store.QueryHistory(ctx, itemID, colorway, 0, cutoff.UnixMilli())
	if err != nil {
		return 0, 0, err
	}
	examined = len(facts)

	type group struct {
		keep   *store.Fact
		losers []string
	}
	groups := make(map[time.Time]*group)

	for _, f := range facts {
		start, end := bucket(time.UnixMilli(f.ScrapedAt).UTC())
		if end.After(cutoff) {
			// Bucket straddles the tier boundary: leave it whole.
			continue
		}
		g, ok := groups[start]
		if !ok {
			groups[start] = &group{keep: f}
			continue
		}
		// Facts arrive ordered by (scraped_at, id), so on equal price the
		// earlier observation is already the keeper.
		if effectivePrice(f) < effectivePrice(g.keep) {
			g.losers = append(g.losers, g.keep.ID)
			g.keep = f
		} else {
			g.losers = append(g.losers, f.ID)
		}
	}

	var doomed []string
	for _, g := range groups {
		doomed = append(doomed, g.losers...)
	}
	if len(doomed) == 0 {
		return 0, examined, nil
	}
	if err := d.store.DeleteFacts(ctx, doomed); err != nil {
		return 0, examined, err
	}
	return len(doomed), examined, nil
}

func (d *Downsampler) seriesLock(key string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[key]
	if !ok {
		l = &sync.Mutex{}
		d.locks[key] = l
	}
	return l
}

// effectivePrice is what a buyer would pay: the sale price when present,
// the listed price otherwise. Observations with no price at all never win
// a bucket against priced ones.
func effectivePrice(f *store.Fact) float64 {
	if f.SalePrice != nil {
		return *f.SalePrice
	}
	if f.ListedPrice != nil {
		return *f.ListedPrice
	}
	return math.Inf(1)
}

// isoWeekBucket returns the [Monday, next Monday) window of t's ISO week.
func isoWeekBucket(t time.Time) (time.Time, time.Time) {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	back := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -back)
	return start, start.AddDate(0, 0, 7)
}

// monthBucket returns the [1st, 1st of next month) window of t's month.
func monthBucket(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
