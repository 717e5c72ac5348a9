package reconcile

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/filecast/pkg/emulator"
	"github.com/3leaps/filecast/pkg/snapshot"
	"github.com/3leaps/filecast/pkg/store"
	"github.com/3leaps/filecast/pkg/store/httpstore"
)

type staticFetcher struct {
	ids   []string
	err   error
	calls int
}

func (f *staticFetcher) Fetch(context.Context) (*snapshot.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	snap := &snapshot.Snapshot{Pages: 1}
	for _, id := range f.ids {
		snap.Objects = append(snap.Objects, store.RemoteObject{ID: id, State: store.StateActive})
	}
	return snap, nil
}

type recordingDeleter struct {
	mu      sync.Mutex
	deleted []string
	errFor  map[string]error
	bodyFor map[string]string
}

func (d *recordingDeleter) Delete(_ context.Context, id string) (*store.DeleteResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, id)
	if err := d.errFor[id]; err != nil {
		return nil, err
	}
	return &store.DeleteResult{Body: d.bodyFor[id]}, nil
}

func TestReconciler_ExplicitIDsDeclined(t *testing.T) {
	fetcher := &staticFetcher{ids: []string{"files/a", "files/b", "files/c"}}
	deleter := &recordingDeleter{}
	var prompt string
	r := New(fetcher, deleter, Config{
		Confirm: func(_ context.Context, p string) (bool, error) {
			prompt = p
			return false, nil
		},
	})

	res, err := r.Run(context.Background(), []string{"files/a", "b", "files/x"})
	require.NoError(t, err)

	assert.Equal(t, []string{"files/a", "files/b"}, res.Plan.Resolved)
	assert.Equal(t, []string{"files/x"}, res.Plan.Unresolved)
	assert.False(t, res.Plan.All())
	assert.True(t, res.Declined)
	assert.Empty(t, deleter.deleted)
	assert.True(t, res.OK())
	assert.Equal(t, "Delete 2 file(s)?", prompt)
}

func TestReconciler_PlanReportedBeforeConfirm(t *testing.T) {
	fetcher := &staticFetcher{ids: []string{"files/a", "files/b", "files/c"}}
	var events []string
	r := New(fetcher, &recordingDeleter{}, Config{
		OnPlan: func(p *Plan) {
			events = append(events, "plan")
			assert.Equal(t, []string{"files/x"}, p.Unresolved)
		},
		Confirm: func(context.Context, string) (bool, error) {
			events = append(events, "confirm")
			return false, nil
		},
	})

	_, err := r.Run(context.Background(), []string{"a", "b", "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"plan", "confirm"}, events)
}

func TestReconciler_AllAgainstEmptySnapshot(t *testing.T) {
	deleter := &recordingDeleter{}
	confirmed := false
	r := New(&staticFetcher{}, deleter, Config{
		Confirm: func(context.Context, string) (bool, error) {
			confirmed = true
			return true, nil
		},
	})

	res, err := r.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, res.Plan.All())
	assert.True(t, res.Plan.Empty())
	assert.False(t, confirmed, "nothing to confirm")
	assert.Empty(t, deleter.deleted)
	assert.True(t, res.OK())
}

func TestReconciler_AllDeletesEverything(t *testing.T) {
	deleter := &recordingDeleter{}
	var seen []Deletion
	r := New(&staticFetcher{ids: []string{"files/a", "files/b"}}, deleter, Config{
		Confirm:    Always(true),
		OnDeletion: func(d Deletion) { seen = append(seen, d) },
	})

	res, err := r.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"files/a", "files/b"}, deleter.deleted)
	assert.Equal(t, 2, res.Deleted())
	assert.Zero(t, res.Errored())
	assert.True(t, res.OK())
	assert.Len(t, seen, 2)
	assert.Equal(t, "Delete ALL 2 file(s)?", Prompt(res.Plan))
}

func TestReconciler_AllRequestedMissing(t *testing.T) {
	deleter := &recordingDeleter{}
	r := New(&staticFetcher{ids: []string{"files/a"}}, deleter, Config{Confirm: Always(true)})

	res, err := r.Run(context.Background(), []string{"zzz", "NOT VALID"})
	require.NoError(t, err)

	assert.False(t, res.Plan.All(), "an explicit list never widens to all")
	assert.True(t, res.Plan.Empty())
	assert.Equal(t, []string{"files/zzz"}, res.Plan.Unresolved)
	assert.Equal(t, []string{"NOT VALID"}, res.Plan.Rejected)
	assert.Empty(t, deleter.deleted)
	assert.True(t, res.OK())

	// Every input rejected still stays explicit.
	res, err = r.Run(context.Background(), []string{"NOT VALID"})
	require.NoError(t, err)
	assert.False(t, res.Plan.All())
	assert.Empty(t, deleter.deleted)
}

func TestReconciler_PartialFailure(t *testing.T) {
	deleter := &recordingDeleter{errFor: map[string]error{
		"files/b": &store.StoreError{Op: "Delete", ID: "files/b", Err: store.ErrTransport},
	}}
	r := New(&staticFetcher{ids: []string{"files/a", "files/b", "files/c"}}, deleter, Config{Confirm: Always(true)})

	res, err := r.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"files/a", "files/b", "files/c"}, deleter.deleted, "a failure does not stop siblings")
	assert.Equal(t, 2, res.Deleted())
	assert.Equal(t, 1, res.Errored())
	assert.False(t, res.OK())
	assert.True(t, store.IsTransport(res.Deletions[1].Err))
}

func TestReconciler_AmbiguousBody(t *testing.T) {
	newDeleter := func() *recordingDeleter {
		return &recordingDeleter{bodyFor: map[string]string{"files/a": `{"done":false}`}}
	}

	lenient := New(&staticFetcher{ids: []string{"files/a"}}, newDeleter(), Config{Confirm: Always(true)})
	res, err := lenient.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.OK())
	require.Len(t, res.Warnings(), 1)
	assert.Contains(t, res.Warnings()[0].Warning, `{"done":false}`)

	strict := New(&staticFetcher{ids: []string{"files/a"}}, newDeleter(), Config{Confirm: Always(true), StrictDelete: true})
	res, err = strict.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Deletions[0].Err, ErrAmbiguousResponse)
	assert.Empty(t, res.Warnings())
}

func TestReconciler_SnapshotFailureIsFatal(t *testing.T) {
	deleter := &recordingDeleter{}
	r := New(&staticFetcher{err: &store.StoreError{Op: "List", Err: store.ErrUnavailable}}, deleter, Config{Confirm: Always(true)})

	res, err := r.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, store.IsUnavailable(err))
	assert.Empty(t, deleter.deleted)
}

func TestReconciler_ConfirmErrors(t *testing.T) {
	fetcher := &staticFetcher{ids: []string{"files/a"}}
	deleter := &recordingDeleter{}

	_, err := New(fetcher, deleter, Config{}).Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoConfirmer)

	boom := errors.New("stdin closed")
	_, err = New(fetcher, deleter, Config{
		Confirm: func(context.Context, string) (bool, error) { return false, boom },
	}).Run(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, deleter.deleted)
}

func TestReconciler_FreshSnapshotPerRun(t *testing.T) {
	fetcher := &staticFetcher{ids: []string{"files/a"}}
	r := New(fetcher, &recordingDeleter{}, Config{Confirm: Always(false)})

	_, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
}

func TestReconciler_PauseSpacesCalls(t *testing.T) {
	deleter := &recordingDeleter{}
	r := New(&staticFetcher{ids: []string{"files/a", "files/b", "files/c"}}, deleter, Config{
		Confirm: Always(true),
		Pause:   20 * time.Millisecond,
		Workers: 3,
	})

	start := time.Now()
	res, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted())
	// First call is immediate; the other two wait one pause each.
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestReconciler_WithEmulator(t *testing.T) {
	emu := emulator.New(emulator.Options{APIKey: "k"})
	emu.Seed(
		store.RemoteObject{ID: "files/a", State: store.StateActive},
		store.RemoteObject{ID: "files/b", State: store.StateActive},
		store.RemoteObject{ID: "files/c", State: store.StateActive},
	)
	srv := httptest.NewServer(emu.Handler())
	defer srv.Close()

	client, err := httpstore.New(httpstore.Config{Endpoint: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	agg := snapshot.New(client, snapshot.Config{PageSize: 2})
	r := New(agg, client, Config{Confirm: Always(true)})

	res, err := r.Run(context.Background(), []string{"a", "c", "x"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Deleted())
	assert.Equal(t, []string{"files/x"}, res.Plan.Unresolved)
	assert.Equal(t, []string{"files/b"}, []string{emu.Objects()[0].ID})
	assert.Len(t, emu.Objects(), 1)
	assert.Equal(t, 2, emu.Calls(emulator.CallList))
}

type prefixSelector string

func (p prefixSelector) Match(obj *store.RemoteObject) bool {
	return len(obj.ID) >= len(p) && obj.ID[:len(p)] == string(p)
}

func (p prefixSelector) String() string { return "prefix " + string(p) }

func TestReconciler_SelectNarrowsAll(t *testing.T) {
	fetcher := &staticFetcher{ids: []string{"files/tmp1", "files/keep", "files/tmp2"}}
	deleter := &recordingDeleter{}
	var prompt string
	r := New(fetcher, deleter, Config{
		Select: prefixSelector("files/tmp"),
		Confirm: func(_ context.Context, p string) (bool, error) {
			prompt = p
			return true, nil
		},
	})

	res, err := r.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.False(t, res.Plan.All(), "a selector is never ALL")
	assert.Equal(t, []string{"files/tmp1", "files/tmp2"}, res.Plan.Resolved)
	assert.Equal(t, []string{"files/keep"}, res.Plan.Filtered)
	assert.Equal(t, "Delete 2 file(s) matching prefix files/tmp?", prompt)
	assert.ElementsMatch(t, []string{"files/tmp1", "files/tmp2"}, deleter.deleted)
}

func TestReconciler_SelectWithExplicitIDs(t *testing.T) {
	fetcher := &staticFetcher{ids: []string{"files/tmp1", "files/keep", "files/tmp2"}}
	deleter := &recordingDeleter{}
	r := New(fetcher, deleter, Config{
		Select:  prefixSelector("files/tmp"),
		Confirm: Always(true),
	})

	res, err := r.Run(context.Background(), []string{"tmp1", "keep"})
	require.NoError(t, err)

	assert.Equal(t, []string{"files/tmp1"}, res.Plan.Resolved)
	assert.Equal(t, []string{"files/keep"}, res.Plan.Filtered)
	assert.Equal(t, []string{"files/tmp1"}, deleter.deleted)
}

func TestReconciler_SelectMatchesNothing(t *testing.T) {
	fetcher := &staticFetcher{ids: []string{"files/a"}}
	deleter := &recordingDeleter{}
	r := New(fetcher, deleter, Config{Select: prefixSelector("files/zzz")})

	res, err := r.Run(context.Background(), nil)
	require.NoError(t, err, "an empty plan needs no confirmation")
	assert.True(t, res.Plan.Empty())
	assert.Empty(t, deleter.deleted)
}
