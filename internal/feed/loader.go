package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/groundtrack/internal/logging"
	"github.com/signalsfoundry/groundtrack/kb"
)

// SourceCache is the catalog source name used for disk cache fallbacks.
const SourceCache = "cache"

// Loader turns the feed into a kb.Catalog, falling back to the disk cache
// when the network is unavailable.
type Loader struct {
	fetcher *Fetcher
	cache   *DiskCache
	log     logging.Logger
	now     func() time.Time
}

// NewLoader wires a fetcher and an optional disk cache.
func NewLoader(f *Fetcher, cache *DiskCache, log logging.Logger) *Loader {
	return &Loader{fetcher: f, cache: cache, log: logging.Component(log, "feed"), now: time.Now}
}

// Load fetches, parses and caches the feed. When the fetch fails it serves
// the newest cached copy; with no cache it returns an empty catalog together
// with an error wrapping ErrFeedUnavailable, so callers can keep running.
func (l *Loader) Load(ctx context.Context) (*kb.Catalog, error) {
	fetchedAt := l.now().UTC()
	data, fetchErr := l.fetcher.Fetch(ctx)
	if fetchErr == nil {
		sets, err := Parse(bytes.NewReader(data), l.log)
		switch {
		case err != nil:
			fetchErr = fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
		case len(sets) == 0:
			// A 200 carrying an error page or an empty group is not a feed.
			fetchErr = fmt.Errorf("%w: %s returned no element sets", ErrFeedUnavailable, l.fetcher.SourceURL())
		default:
			if l.cache != nil {
				if err := l.cache.Write(data, fetchedAt); err != nil {
					l.log.Warn(ctx, "failed to write feed cache", logging.Err(err))
				}
			}
			cat := kb.NewCatalog(sets, fetchedAt, l.fetcher.SourceURL())
			l.log.Info(ctx, "catalog loaded",
				logging.String("source", cat.Source()),
				logging.Int("satellites", cat.Len()),
				logging.Int("duplicates", cat.Skipped()),
			)
			return cat, nil
		}
	}

	l.log.Warn(ctx, "feed fetch failed", logging.String("source", l.fetcher.SourceURL()), logging.Err(fetchErr))
	if l.cache == nil {
		return kb.NewCatalog(nil, fetchedAt, l.fetcher.SourceURL()), fetchErr
	}

	cached, ts, err := l.cache.LoadLatest()
	if err != nil {
		if !errors.Is(err, ErrNoCache) {
			l.log.Warn(ctx, "feed cache unreadable", logging.Err(err))
		}
		return kb.NewCatalog(nil, fetchedAt, l.fetcher.SourceURL()), fetchErr
	}
	sets, err := Parse(bytes.NewReader(cached), l.log)
	if err != nil || len(sets) == 0 {
		return kb.NewCatalog(nil, fetchedAt, l.fetcher.SourceURL()), fetchErr
	}
	cat := kb.NewCatalog(sets, ts, SourceCache)
	l.log.Warn(ctx, "serving catalog from disk cache",
		logging.Time("cached_at", ts),
		logging.Int("satellites", cat.Len()),
	)
	return cat, nil
}
