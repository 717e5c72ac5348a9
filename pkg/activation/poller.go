// Package activation polls uploaded objects until they leave PROCESSING.
//
// Every object starts pending. A poll round checks each pending object
// once; objects that reach a terminal status drop out of the working set.
// Rounds are separated by the delays of a Schedule, and whatever is still
// pending after the last round times out.
package activation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/3leaps/filecast/pkg/store"
)

// Status is the poller's classification of one object.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Terminal reports whether the status ends polling for the object.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// ErrMissingState indicates metadata without a state field.
var ErrMissingState = errors.New("object metadata has no state")

// Entry is the verification record for one object.
type Entry struct {
	ID                string
	Status            Status
	LastObservedState store.State
	Attempts          int

	// Err is set for error and failed entries.
	Err error
}

// Getter is the store capability the poller needs.
type Getter interface {
	Get(ctx context.Context, id string) (*store.RemoteObject, error)
}

// Config configures a Poller.
type Config struct {
	// Schedule yields the delays between rounds.
	// Default: FixedDelays(DefaultDelays...)
	Schedule Schedule

	// Workers bounds concurrent status checks within a round.
	// Default: 1 (sequential)
	Workers int

	// Sleep waits between rounds. Default: Sleep
	Sleep SleepFunc

	// OnRound is called before each round with the round number (1-based)
	// and the number of pending objects.
	OnRound func(round, pending int)

	// OnTerminal is called once per object when it leaves pending,
	// including timeouts.
	OnTerminal func(Entry)
}

// Poller drives objects to a terminal status.
type Poller struct {
	getter Getter
	config Config
}

// New creates a poller.
func New(g Getter, cfg Config) *Poller {
	if cfg.Schedule == nil {
		cfg.Schedule = FixedDelays(DefaultDelays...)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Sleep == nil {
		cfg.Sleep = Sleep
	}
	return &Poller{getter: g, config: cfg}
}

// Result is the outcome of a poller run.
type Result struct {
	// Entries in first-seen input order.
	Entries []Entry

	// Rounds is the number of poll rounds performed.
	Rounds int

	// Waited is the total delay slept between rounds.
	Waited time.Duration
}

// Active returns ids that reached the active status.
func (r *Result) Active() []string {
	var ids []string
	for _, e := range r.Entries {
		if e.Status == StatusActive {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// NotActive returns entries that ended in any status other than active.
func (r *Result) NotActive() []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Status != StatusActive {
			out = append(out, e)
		}
	}
	return out
}

// Counts tallies entries by status.
func (r *Result) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, e := range r.Entries {
		counts[e.Status]++
	}
	return counts
}

// OK reports whether every object ended active.
func (r *Result) OK() bool {
	return len(r.NotActive()) == 0
}

// Run polls ids until each is terminal or the schedule is exhausted.
//
// Duplicate ids are polled once. An error is returned only if ctx ends
// the run early; the partial result is returned alongside it.
func (p *Poller) Run(ctx context.Context, ids []string) (*Result, error) {
	res := &Result{}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		res.Entries = append(res.Entries, Entry{ID: id, Status: StatusPending})
	}

	pending := make([]int, 0, len(res.Entries))
	for i := range res.Entries {
		pending = append(pending, i)
	}

	backoff := p.config.Schedule()
	for len(pending) > 0 {
		res.Rounds++
		if p.config.OnRound != nil {
			p.config.OnRound(res.Rounds, len(pending))
		}

		p.round(ctx, res.Entries, pending)

		still := pending[:0]
		for _, i := range pending {
			if res.Entries[i].Status.Terminal() {
				p.notify(res.Entries[i])
				continue
			}
			still = append(still, i)
		}
		pending = still

		if err := ctx.Err(); err != nil {
			return res, err
		}
		if len(pending) == 0 {
			break
		}

		delay, stop := backoff.Next()
		if stop {
			break
		}
		if err := p.config.Sleep(ctx, delay); err != nil {
			return res, err
		}
		res.Waited += delay
	}

	for _, i := range pending {
		res.Entries[i].Status = StatusTimeout
		res.Entries[i].Err = fmt.Errorf("still %s after %d rounds", stateOrUnknown(res.Entries[i].LastObservedState), res.Rounds)
		p.notify(res.Entries[i])
	}

	return res, nil
}

// round checks every pending entry once with at most Workers in flight.
// Each goroutine owns a distinct entry.
func (p *Poller) round(ctx context.Context, entries []Entry, pending []int) {
	var g errgroup.Group
	g.SetLimit(p.config.Workers)
	for _, i := range pending {
		e := &entries[i]
		g.Go(func() error {
			p.check(ctx, e)
			return nil
		})
	}
	_ = g.Wait()
}

// check performs one status check and applies the transition.
func (p *Poller) check(ctx context.Context, e *Entry) {
	e.Attempts++

	obj, err := p.getter.Get(ctx, e.ID)
	if err != nil {
		e.Status = StatusError
		e.Err = err
		return
	}
	e.LastObservedState = obj.State

	switch {
	case obj.State == store.StateActive:
		e.Status = StatusActive
	case obj.State == store.StateFailed:
		e.Status = StatusFailed
		e.Err = errors.New("store reported FAILED")
		if obj.Error != nil && obj.Error.Message != "" {
			e.Err = fmt.Errorf("store reported FAILED: %s", obj.Error.Message)
		}
	case obj.Error != nil:
		e.Status = StatusError
		e.Err = &store.APIError{Code: obj.Error.Code, Message: obj.Error.Message, Status: obj.Error.Status}
	case obj.State == "":
		e.Status = StatusError
		e.Err = fmt.Errorf("%w: %w", store.ErrMalformedResponse, ErrMissingState)
	}
	// PROCESSING, STATE_UNSPECIFIED and unknown states remain pending.
}

func (p *Poller) notify(e Entry) {
	if p.config.OnTerminal != nil {
		p.config.OnTerminal(e)
	}
}

func stateOrUnknown(s store.State) string {
	if s == "" {
		return "unobserved"
	}
	return string(s)
}
