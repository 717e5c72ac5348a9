package activation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/filecast/pkg/store"
)

// scriptedGetter returns a per-id sequence of responses; the last response
// repeats once the script runs out.
type scriptedGetter struct {
	mu      sync.Mutex
	scripts map[string][]response
	calls   map[string]int
}

type response struct {
	obj *store.RemoteObject
	err error
}

func state(s store.State) response {
	return response{obj: &store.RemoteObject{State: s}}
}

func newScriptedGetter(scripts map[string][]response) *scriptedGetter {
	return &scriptedGetter{scripts: scripts, calls: make(map[string]int)}
}

func (g *scriptedGetter) Get(_ context.Context, id string) (*store.RemoteObject, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	script := g.scripts[id]
	n := g.calls[id]
	g.calls[id]++
	if len(script) == 0 {
		return nil, &store.StoreError{Op: "Get", ID: id, Err: store.ErrNotFound}
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	r := script[n]
	if r.obj != nil {
		obj := *r.obj
		obj.ID = id
		return &obj, r.err
	}
	return nil, r.err
}

// recordingSleeper records requested delays without waiting.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func (s *recordingSleeper) total() time.Duration {
	var sum time.Duration
	for _, d := range s.delays {
		sum += d
	}
	return sum
}

func entryByID(t *testing.T, res *Result, id string) Entry {
	t.Helper()
	for _, e := range res.Entries {
		if e.ID == id {
			return e
		}
	}
	t.Fatalf("no entry for %s", id)
	return Entry{}
}

func TestPoller_ActiveOnFirstRound(t *testing.T) {
	g := newScriptedGetter(map[string][]response{
		"files/a": {state(store.StateActive)},
	})
	sleeper := &recordingSleeper{}
	p := New(g, Config{Sleep: sleeper.Sleep})

	res, err := p.Run(context.Background(), []string{"files/a"})
	require.NoError(t, err)

	assert.True(t, res.OK())
	assert.Equal(t, []string{"files/a"}, res.Active())
	assert.Equal(t, 1, res.Rounds)
	assert.Empty(t, sleeper.delays)
	assert.Equal(t, 1, entryByID(t, res, "files/a").Attempts)
}

func TestPoller_TimeoutWaitsWholeSchedule(t *testing.T) {
	g := newScriptedGetter(map[string][]response{
		"files/slow": {state(store.StateProcessing)},
	})
	sleeper := &recordingSleeper{}
	p := New(g, Config{
		Schedule: FixedDelays(5*time.Second, 10*time.Second, 20*time.Second, 60*time.Second),
		Sleep:    sleeper.Sleep,
	})

	res, err := p.Run(context.Background(), []string{"files/slow"})
	require.NoError(t, err)

	e := entryByID(t, res, "files/slow")
	assert.Equal(t, StatusTimeout, e.Status)
	assert.Equal(t, store.StateProcessing, e.LastObservedState)
	assert.Equal(t, 5, e.Attempts)
	assert.Equal(t, 5, res.Rounds)
	assert.Equal(t, 95*time.Second, sleeper.total())
	assert.Equal(t, 95*time.Second, res.Waited)
	assert.False(t, res.OK())
	assert.Empty(t, res.Active())
}

func TestPoller_Transitions(t *testing.T) {
	g := newScriptedGetter(map[string][]response{
		"files/ok":      {state(store.StateProcessing), state(store.StateActive)},
		"files/fail":    {state(store.StateProcessing), {obj: &store.RemoteObject{State: store.StateFailed, Error: &store.Status{Message: "bad codec"}}}},
		"files/broken":  {{err: &store.StoreError{Op: "Get", Err: store.ErrTransport}}},
		"files/nostate": {{obj: &store.RemoteObject{}}},
		"files/reported": {{obj: &store.RemoteObject{
			State: store.StateProcessing,
			Error: &store.Status{Code: 500, Message: "internal", Status: "INTERNAL"},
		}}},
		"files/unknown": {state("QUEUED"), state(store.StateActive)},
	})
	p := New(g, Config{Schedule: FixedDelays(0, 0), Sleep: (&recordingSleeper{}).Sleep})

	ids := []string{"files/ok", "files/fail", "files/broken", "files/nostate", "files/reported", "files/unknown"}
	res, err := p.Run(context.Background(), ids)
	require.NoError(t, err)

	tests := []struct {
		id       string
		status   Status
		attempts int
		errIs    error
	}{
		{id: "files/ok", status: StatusActive, attempts: 2},
		{id: "files/fail", status: StatusFailed, attempts: 2},
		{id: "files/broken", status: StatusError, attempts: 1, errIs: store.ErrTransport},
		{id: "files/nostate", status: StatusError, attempts: 1, errIs: store.ErrMalformedResponse},
		{id: "files/reported", status: StatusError, attempts: 1, errIs: store.ErrUnavailable},
		{id: "files/unknown", status: StatusActive, attempts: 2},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			e := entryByID(t, res, tt.id)
			assert.Equal(t, tt.status, e.Status)
			assert.Equal(t, tt.attempts, e.Attempts)
			if tt.errIs != nil {
				assert.ErrorIs(t, e.Err, tt.errIs)
			}
		})
	}

	assert.Contains(t, entryByID(t, res, "files/fail").Err.Error(), "bad codec")
	assert.ElementsMatch(t, []string{"files/ok", "files/unknown"}, res.Active())
	assert.False(t, res.OK())
	assert.Equal(t, 2, res.Counts()[StatusActive])
	assert.Equal(t, 3, res.Counts()[StatusError])
}

func TestPoller_TerminalObjectsAreNotRechecked(t *testing.T) {
	g := newScriptedGetter(map[string][]response{
		"files/fast": {state(store.StateActive)},
		"files/slow": {state(store.StateProcessing), state(store.StateProcessing), state(store.StateActive)},
	})
	sleeper := &recordingSleeper{}
	p := New(g, Config{Schedule: FixedDelays(time.Second, 2*time.Second, 3*time.Second), Sleep: sleeper.Sleep})

	res, err := p.Run(context.Background(), []string{"files/fast", "files/slow"})
	require.NoError(t, err)

	assert.True(t, res.OK())
	assert.Equal(t, 1, g.calls["files/fast"])
	assert.Equal(t, 3, g.calls["files/slow"])
	assert.Equal(t, 3, res.Rounds)
	// Exits early: the last delay is never slept.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
}

func TestPoller_DuplicateIDsPolledOnce(t *testing.T) {
	g := newScriptedGetter(map[string][]response{
		"files/a": {state(store.StateActive)},
	})
	res, err := New(g, Config{}).Run(context.Background(), []string{"files/a", "files/a"})
	require.NoError(t, err)

	assert.Len(t, res.Entries, 1)
	assert.Equal(t, 1, g.calls["files/a"])
}

func TestPoller_EmptyInput(t *testing.T) {
	res, err := New(newScriptedGetter(nil), Config{}).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Zero(t, res.Rounds)
}

func TestPoller_ConcurrentWorkersKeepRoundsSynchronized(t *testing.T) {
	scripts := map[string][]response{}
	var ids []string
	for _, id := range []string{"files/a", "files/b", "files/c", "files/d", "files/e"} {
		scripts[id] = []response{state(store.StateProcessing), state(store.StateActive)}
		ids = append(ids, id)
	}
	g := newScriptedGetter(scripts)

	var rounds []int
	var terminal []string
	p := New(g, Config{
		Workers:    3,
		Schedule:   FixedDelays(0, 0),
		Sleep:      (&recordingSleeper{}).Sleep,
		OnRound:    func(round, pending int) { rounds = append(rounds, pending) },
		OnTerminal: func(e Entry) { terminal = append(terminal, e.ID) },
	})

	res, err := p.Run(context.Background(), ids)
	require.NoError(t, err)

	assert.True(t, res.OK())
	assert.Equal(t, []int{5, 5}, rounds)
	assert.Equal(t, ids, terminal)
	for _, id := range ids {
		assert.Equal(t, 2, g.calls[id])
	}
}

func TestPoller_CanceledDuringSleep(t *testing.T) {
	g := newScriptedGetter(map[string][]response{
		"files/a": {state(store.StateProcessing)},
	})
	ctx, cancel := context.WithCancel(context.Background())
	p := New(g, Config{
		Schedule: FixedDelays(time.Hour),
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return Sleep(ctx, d)
		},
	})

	res, err := p.Run(ctx, []string{"files/a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, res)
	assert.Equal(t, StatusPending, res.Entries[0].Status)
}

func TestSchedules(t *testing.T) {
	b := FixedDelays(time.Second, 2*time.Second)()
	d, stop := b.Next()
	assert.False(t, stop)
	assert.Equal(t, time.Second, d)
	d, stop = b.Next()
	assert.False(t, stop)
	assert.Equal(t, 2*time.Second, d)
	_, stop = b.Next()
	assert.True(t, stop)

	// Each run gets a fresh backoff.
	d, _ = FixedDelays(time.Second)().Next()
	assert.Equal(t, time.Second, d)

	exp := ExponentialDelays(time.Second, 3*time.Second, 4)()
	var got []time.Duration
	for {
		d, stop := exp.Next()
		if stop {
			break
		}
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, got)

	_, stop = ExponentialDelays(time.Second, time.Second, 1)().Next()
	assert.True(t, stop)
}

func TestSleep_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), 0))
}
