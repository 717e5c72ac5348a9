// Package reconcile deletes remote objects after checking the request
// against a fresh snapshot.
//
// Each run lists the store again, so a plan never acts on stale state.
// Deletion only starts after the caller's confirmation and proceeds
// through a throttle; every call is counted on its own.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/3leaps/filecast/pkg/snapshot"
	"github.com/3leaps/filecast/pkg/store"
)

// DefaultPause is the default delay between delete calls.
const DefaultPause = 200 * time.Millisecond

var (
	// ErrNoConfirmer indicates a run that needs confirmation had no Confirm.
	ErrNoConfirmer = errors.New("no confirmation capability configured")

	// ErrAmbiguousResponse indicates a delete call that succeeded at the
	// transport level but returned an unexpected body.
	ErrAmbiguousResponse = errors.New("unexpected delete response body")
)

// Fetcher produces fresh snapshots.
type Fetcher interface {
	Fetch(ctx context.Context) (*snapshot.Snapshot, error)
}

// Deleter is the store capability the reconciler needs.
type Deleter interface {
	Delete(ctx context.Context, id string) (*store.DeleteResult, error)
}

// Selector narrows a plan to the objects it matches.
type Selector interface {
	Match(obj *store.RemoteObject) bool
	String() string
}

// ConfirmFunc asks whether to proceed. Returning false declines.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

// Always returns a ConfirmFunc with a pre-decided answer.
func Always(answer bool) ConfirmFunc {
	return func(context.Context, string) (bool, error) { return answer, nil }
}

// Config configures a Reconciler.
type Config struct {
	// Confirm is asked before any deletion.
	Confirm ConfirmFunc

	// Pause is the minimum spacing between delete calls. Zero disables
	// the throttle; DefaultConfig sets DefaultPause.
	Pause time.Duration

	// Workers bounds concurrent delete calls. The pause still applies
	// across workers. Default: 1
	Workers int

	// StrictDelete turns ambiguous delete responses into errors.
	StrictDelete bool

	// Select, when set, keeps only matching objects in the plan. It
	// narrows the request and never widens it.
	Select Selector

	// OnPlan is called once the plan is resolved, before Confirm, so
	// unresolved and rejected ids can be reported ahead of the prompt.
	OnPlan func(*Plan)

	// OnDeletion is called after each delete call. Calls are serialized.
	OnDeletion func(Deletion)
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{Pause: DefaultPause, Workers: 1}
}

// Plan is the resolution of a delete request against one snapshot.
type Plan struct {
	// Requested holds normalized ids; nil means every object.
	Requested []string

	// Resolved are ids present in the snapshot, in snapshot order.
	Resolved []string

	// Unresolved are requested ids absent from the snapshot.
	Unresolved []string

	// Rejected are inputs that are not valid identifiers.
	Rejected []string

	// Filter describes the selector applied, or is empty.
	Filter string

	// Filtered are ids in scope that the selector excluded.
	Filtered []string

	// SnapshotSize is the number of objects listed.
	SnapshotSize int
}

// All reports whether the plan targets every object.
func (p *Plan) All() bool {
	return p.Requested == nil && p.Filter == ""
}

// Empty reports whether there is nothing to delete.
func (p *Plan) Empty() bool {
	return len(p.Resolved) == 0
}

// Deletion is the outcome of one delete call.
type Deletion struct {
	ID string

	// Err is set when the call failed.
	Err error

	// Warning is set when the call succeeded ambiguously.
	Warning string
}

// Result is the outcome of a reconciler run.
type Result struct {
	Plan *Plan

	// Declined is true when confirmation was refused.
	Declined bool

	// Deletions in resolved order.
	Deletions []Deletion
}

// Deleted returns the number of successful delete calls.
func (r *Result) Deleted() int {
	n := 0
	for _, d := range r.Deletions {
		if d.Err == nil {
			n++
		}
	}
	return n
}

// Errored returns the number of failed delete calls.
func (r *Result) Errored() int {
	return len(r.Deletions) - r.Deleted()
}

// Warnings returns deletions that succeeded with a warning.
func (r *Result) Warnings() []Deletion {
	var out []Deletion
	for _, d := range r.Deletions {
		if d.Err == nil && d.Warning != "" {
			out = append(out, d)
		}
	}
	return out
}

// OK reports whether no delete call failed. Declined and empty runs are OK.
func (r *Result) OK() bool {
	return r.Errored() == 0
}

// Reconciler plans and executes deletions.
type Reconciler struct {
	fetcher Fetcher
	deleter Deleter
	config  Config
}

// New creates a reconciler.
func New(f Fetcher, d Deleter, cfg Config) *Reconciler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Reconciler{fetcher: f, deleter: d, config: cfg}
}

// Plan fetches a fresh snapshot and resolves requested against it.
// A nil requested slice targets every object.
func (r *Reconciler) Plan(ctx context.Context, requested []string) (*Plan, error) {
	snap, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	plan := &Plan{SnapshotSize: snap.Len()}
	scope := snap.Objects
	if requested != nil {
		sel := snapshot.Select(snap, requested)
		plan.Requested = sel.Requested
		if plan.Requested == nil {
			plan.Requested = []string{}
		}
		plan.Unresolved = sel.Missing
		plan.Rejected = sel.Rejected
		scope = sel.Objects
	}

	if r.config.Select != nil {
		plan.Filter = r.config.Select.String()
	}
	for i := range scope {
		obj := &scope[i]
		if r.config.Select != nil && !r.config.Select.Match(obj) {
			plan.Filtered = append(plan.Filtered, obj.ID)
			continue
		}
		plan.Resolved = append(plan.Resolved, obj.ID)
	}
	return plan, nil
}

// Run plans, confirms and deletes.
//
// A snapshot failure is returned as an error and nothing is deleted.
// Per-id failures are recorded in the result; check Result.OK.
func (r *Reconciler) Run(ctx context.Context, requested []string) (*Result, error) {
	plan, err := r.Plan(ctx, requested)
	if err != nil {
		return nil, err
	}

	if r.config.OnPlan != nil {
		r.config.OnPlan(plan)
	}

	res := &Result{Plan: plan}
	if plan.Empty() {
		return res, nil
	}

	if r.config.Confirm == nil {
		return res, ErrNoConfirmer
	}
	ok, err := r.config.Confirm(ctx, Prompt(plan))
	if err != nil {
		return res, fmt.Errorf("confirm: %w", err)
	}
	if !ok {
		res.Declined = true
		return res, nil
	}

	res.Deletions = r.execute(ctx, plan.Resolved)
	return res, nil
}

// Prompt describes the plan for confirmation.
func Prompt(plan *Plan) string {
	if plan.All() {
		return fmt.Sprintf("Delete ALL %d file(s)?", len(plan.Resolved))
	}
	if plan.Filter != "" {
		return fmt.Sprintf("Delete %d file(s) matching %s?", len(plan.Resolved), plan.Filter)
	}
	return fmt.Sprintf("Delete %d file(s)?", len(plan.Resolved))
}

// execute deletes ids through the throttle with at most Workers in flight.
func (r *Reconciler) execute(ctx context.Context, ids []string) []Deletion {
	var limiter *rate.Limiter
	if r.config.Pause > 0 {
		limiter = rate.NewLimiter(rate.Every(r.config.Pause), 1)
	}

	out := make([]Deletion, len(ids))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.config.Workers)
	for i, id := range ids {
		d := &out[i]
		d.ID = id
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					d.Err = err
					return nil
				}
			}
			r.deleteOne(ctx, d)
			if r.config.OnDeletion != nil {
				mu.Lock()
				r.config.OnDeletion(*d)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Reconciler) deleteOne(ctx context.Context, d *Deletion) {
	res, err := r.deleter.Delete(ctx, d.ID)
	if err != nil {
		d.Err = err
		return
	}
	if !res.Unexpected() {
		return
	}
	if r.config.StrictDelete {
		d.Err = fmt.Errorf("%w: %s", ErrAmbiguousResponse, res.Body)
		return
	}
	d.Warning = "unexpected response body: " + res.Body
}
