// Package feed is the photo feed controller: a cursor-paginated,
// de-duplicated, append-only view over the account's photo records that
// falls back to a synthetic feed when the repository cannot be read.
package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/sirupsen/logrus"

	"atpark/internal/domain"
	"atpark/internal/metrics"
)

// Source is the repository the feed reads from and writes through.
type Source interface {
	ListPhotos(ctx context.Context, limit int, cursor string) (domain.PhotoPage, error)
	CreatePhoto(ctx context.Context, in domain.PhotoInput) (domain.PhotoRecord, error)
}

// Fallback selects which fetch failures degrade to the synthetic feed.
type Fallback string

const (
	// FallbackAll degrades on any failure.
	FallbackAll Fallback = "all"
	// FallbackNetwork degrades only when the repository is unreachable;
	// other failures put the feed in StateError.
	FallbackNetwork Fallback = "network"
)

func ParseFallback(raw string) (Fallback, error) {
	switch f := Fallback(raw); f {
	case "":
		return FallbackAll, nil
	case FallbackAll, FallbackNetwork:
		return f, nil
	}
	return "", fmt.Errorf("unknown feed fallback %q", raw)
}

type Config struct {
	Source        Source
	Collection    string
	PageSize      int
	SyntheticSize int
	Fallback      Fallback
	Logger        *logrus.Logger
	Metrics       *metrics.Feed
	Now           func() time.Time
}

// Controller is safe for concurrent use. At most one page fetch runs at a
// time, except that Refresh always starts a new one and supersedes the
// fetch in flight.
type Controller struct {
	cfg Config

	mu     sync.Mutex
	snap   Snapshot
	cancel context.CancelFunc
	// resets counts Reset calls. A create that straddles one belongs to a
	// feed that no longer exists.
	resets uint64
}

func New(cfg Config) (*Controller, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("feed source is required")
	}
	if _, err := syntax.ParseNSID(cfg.Collection); err != nil {
		return nil, fmt.Errorf("invalid feed collection: %w", err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.SyntheticSize <= 0 {
		cfg.SyntheticSize = 12
	}
	if cfg.Fallback == "" {
		cfg.Fallback = FallbackAll
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{cfg: cfg, snap: initial()}, nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.clone()
}

// Refresh drops everything held, leaves degraded mode and fetches the first
// page. When a newer Refresh starts before this one finishes, this result
// is discarded and the current snapshot is returned instead.
//
// The returned error is non-nil only when the failure is surfaced rather
// than degraded.
func (c *Controller) Refresh(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.snap = startRefresh(c.snap)
	gen := c.snap.Generation
	fetchCtx, cancel := c.fetchContext(ctx)
	c.mu.Unlock()
	defer cancel()

	c.cfg.Logger.WithField("generation", gen).Debug("refreshing feed")
	return c.fetch(fetchCtx, gen, "")
}

// LoadMore fetches the page after the cursor. It reports false without
// touching the network while a fetch is running or nothing is left.
func (c *Controller) LoadMore(ctx context.Context) (Snapshot, bool, error) {
	c.mu.Lock()
	if c.snap.State == StateLoading || !c.snap.HasMore {
		snap := c.snap.clone()
		c.mu.Unlock()
		return snap, false, nil
	}
	c.snap = startMore(c.snap)
	gen, cursor := c.snap.Generation, c.snap.Cursor
	fetchCtx, cancel := c.fetchContext(ctx)
	c.mu.Unlock()
	defer cancel()

	snap, err := c.fetch(fetchCtx, gen, cursor)
	return snap, true, err
}

// CreatePhoto writes through the source and prepends the confirmed record
// without re-fetching. A record whose create straddled a Reset is returned
// but not prepended, since the feed it was meant for is gone.
func (c *Controller) CreatePhoto(ctx context.Context, in domain.PhotoInput) (domain.PhotoRecord, error) {
	c.mu.Lock()
	resets := c.resets
	c.mu.Unlock()

	rec, err := c.cfg.Source.CreatePhoto(ctx, in)
	if err != nil {
		return domain.PhotoRecord{}, err
	}

	c.mu.Lock()
	if resets != c.resets {
		c.mu.Unlock()
		c.cfg.Logger.WithField("uri", rec.URI).Info("feed was reset during create, not prepending")
		return rec, nil
	}
	wasDegraded := c.snap.Degraded
	c.snap = prepend(c.snap, rec)
	size := len(c.snap.Records)
	c.mu.Unlock()

	c.cfg.Metrics.SetSize(size)
	if wasDegraded {
		c.cfg.Logger.WithField("uri", rec.URI).Info("create succeeded, leaving degraded feed")
	}
	return rec, nil
}

// Reset forgets the feed, e.g. after logout, and discards any fetch in flight.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.snap = reset(c.snap)
	c.resets++
	c.mu.Unlock()
	c.cfg.Metrics.SetSize(0)
}

// fetchContext detaches the fetch from the caller so an abandoned request
// cannot degrade the feed; only a superseding Refresh or Reset cancels it.
// Must be called with mu held.
func (c *Controller) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	return fetchCtx, cancel
}

func (c *Controller) fetch(ctx context.Context, gen uint64, cursor string) (Snapshot, error) {
	logger := c.cfg.Logger.WithFields(logrus.Fields{"generation": gen, "cursor": cursor})
	page, err := c.cfg.Source.ListPhotos(ctx, c.cfg.PageSize, cursor)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.snap.Generation {
		logger.Debug("discarding superseded feed page")
		c.cfg.Metrics.RecordFetch("stale")
		return c.snap.clone(), nil
	}
	c.cancel = nil

	if err != nil {
		degrade := c.shouldDegrade(err)
		c.snap = applyFailure(c.snap, err, degrade, syntheticBatch(c.cfg.Collection, c.cfg.SyntheticSize, c.cfg.Now()))
		c.cfg.Metrics.SetSize(len(c.snap.Records))
		if !degrade {
			logger.Errorf("feed fetch failed: %v", err)
			c.cfg.Metrics.RecordFetch("error")
			return c.snap.clone(), err
		}
		logger.Warnf("feed fetch failed, serving degraded feed: %v", err)
		c.cfg.Metrics.RecordFetch("degraded")
		return c.snap.clone(), nil
	}

	c.snap = applyPage(c.snap, page, c.cfg.PageSize)
	logger.WithField("has_more", c.snap.HasMore).Debugf("feed page of %d applied", page.Fetched)
	c.cfg.Metrics.RecordFetch("ok")
	c.cfg.Metrics.SetSize(len(c.snap.Records))
	return c.snap.clone(), nil
}

func (c *Controller) shouldDegrade(err error) bool {
	if c.cfg.Fallback == FallbackNetwork {
		return domain.IsKind(err, domain.KindNetwork)
	}
	return true
}
