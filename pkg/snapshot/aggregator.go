// Package snapshot assembles a complete listing of remote objects.
//
// A Snapshot is gathered page by page and is not transactional: each page
// reflects the store at the moment it was fetched. Callers must tolerate
// objects appearing or disappearing between snapshots, and never reuse a
// snapshot across invocations.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/3leaps/filecast/pkg/store"
)

// Lister is the store capability the aggregator needs.
type Lister interface {
	List(ctx context.Context, opts store.ListOptions) (*store.ListResult, error)
}

// Config configures snapshot aggregation.
type Config struct {
	// PageSize is sent with every list call.
	// Default: 100
	PageSize int

	// PagePause is the fixed courtesy delay between page fetches.
	// Zero disables pacing.
	// Default: 0 (callers set it from configuration)
	PagePause time.Duration
}

// DefaultConfig returns the default aggregation configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:  100,
		PagePause: 500 * time.Millisecond,
	}
}

// ErrTokenLoop indicates the store returned the token it was just given.
var ErrTokenLoop = errors.New("list returned a repeated page token")

// Aggregator fetches complete snapshots.
type Aggregator struct {
	lister Lister
	config Config

	// Page pacing limiter (nil if unpaced)
	limiter *rate.Limiter
}

// New creates a new aggregator.
func New(l Lister, cfg Config) *Aggregator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}

	a := &Aggregator{
		lister: l,
		config: cfg,
	}
	if cfg.PagePause > 0 {
		a.limiter = rate.NewLimiter(rate.Every(cfg.PagePause), 1)
	}
	return a
}

// Fetch lists every page and returns one snapshot.
//
// Pages are concatenated in arrival order. Any list failure aborts the
// whole fetch: a partial snapshot is never returned.
func (a *Aggregator) Fetch(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{FetchedAt: time.Now().UTC()}
	token := ""

	for {
		if err := a.wait(ctx); err != nil {
			return nil, err
		}

		page, err := a.lister.List(ctx, store.ListOptions{
			PageSize:  a.config.PageSize,
			PageToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", snap.Pages+1, err)
		}
		snap.Pages++
		snap.Objects = append(snap.Objects, page.Objects...)

		if page.NextPageToken == "" {
			break
		}
		if page.NextPageToken == token {
			return nil, fmt.Errorf("fetch page %d: %w", snap.Pages, ErrTokenLoop)
		}
		token = page.NextPageToken
	}

	return snap, nil
}

// wait blocks until the page limiter allows a request.
// Returns immediately if pacing is disabled.
func (a *Aggregator) wait(ctx context.Context) error {
	if a.limiter == nil {
		return ctx.Err()
	}
	return a.limiter.Wait(ctx)
}
