package memo_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/open-xiv/memo-uploader/pkg/memo"
	"github.com/open-xiv/memo-uploader/pkg/memo/duty"
	"github.com/open-xiv/memo-uploader/pkg/memo/event"
	"github.com/open-xiv/memo-uploader/pkg/memo/fetch"
	"github.com/open-xiv/memo-uploader/pkg/memo/record"
	"github.com/open-xiv/memo-uploader/pkg/telemetry"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// captureUploader records every delivered fight record.
type captureUploader struct {
	mu      sync.Mutex
	records []record.FightRecord
	ids     []uuid.UUID
	fail    bool
	// block, when set, makes Upload wait for ctx.
	block bool
}

func (u *captureUploader) Upload(ctx context.Context, id uuid.UUID, rec *record.FightRecord) (string, error) {
	if u.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, *rec)
	u.ids = append(u.ids, id)
	if u.fail {
		return "", eris.New("endpoint down")
	}
	return "fake", nil
}

func (u *captureUploader) Records() []record.FightRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]record.FightRecord(nil), u.records...)
}

func ptr[T any](v T) *T { return &v }

// twoPhaseDuty advances from P0 to P1 once action 10 completes.
func twoPhaseDuty() *duty.Config {
	return &duty.Config{
		ZoneID: 1122,
		Name:   "Test Duty",
		Mechanics: []duty.Mechanic{{
			Name:    "c1",
			Trigger: duty.Trigger{Type: duty.TriggerAction, ActionID: ptr[uint32](10)},
		}},
		Timeline: duty.Timeline{Phases: []duty.Phase{
			{
				Name:        "P0",
				TargetID:    500,
				Checkpoints: []string{"c1"},
				Transitions: []duty.Transition{{
					TargetPhase: "P1",
					Conditions:  []duty.Trigger{{Type: duty.TriggerMechanic, MechanicName: "c1"}},
				}},
			},
			{
				Name:     "P1",
				TargetID: 501,
				Transitions: []duty.Transition{{
					TargetPhase: "P2",
					Conditions:  []duty.Trigger{{Type: duty.TriggerTimeout, Value: ptr(60.0)}},
				}},
			},
			{Name: "P2"},
		}},
	}
}

func staticFetcher(docs map[uint32]*duty.Config) fetch.Fetcher {
	return fetch.FetcherFunc(func(_ context.Context, zoneID uint32) (*duty.Config, error) {
		if zoneID == 13 {
			return nil, eris.New("service unavailable")
		}
		return docs[zoneID], nil
	})
}

type harness struct {
	engine   *memo.Engine
	uploader *captureUploader
	clock    *clock
	cancel   context.CancelFunc
}

func start(t *testing.T, opts memo.Options) *harness {
	t.Helper()

	h := &harness{clock: newClock()}
	if opts.Uploader == nil {
		h.uploader = &captureUploader{}
		opts.Uploader = h.uploader
	}
	if opts.Fetcher == nil {
		opts.Fetcher = staticFetcher(map[uint32]*duty.Config{1122: twoPhaseDuty()})
	}
	tel := telemetry.Nop()
	opts.Telemetry = &tel
	opts.Now = h.clock.Now
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}

	e, err := memo.New(opts)
	require.NoError(t, err)
	h.engine = e

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return h
}

func (h *harness) post(t *testing.T, events ...event.Event) {
	t.Helper()
	for _, e := range events {
		require.True(t, h.engine.PostEvent(e))
	}
}

// settle waits until the consumer has processed every posted non-tick event.
func (h *harness) settle(t *testing.T, processed uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := h.engine.Status()
		return s.Processed == processed && s.Queued == 0
	}, waitFor, time.Millisecond)
}

func (h *harness) records(t *testing.T, n int) []record.FightRecord {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.uploader.Records()) >= n }, waitFor, time.Millisecond)
	return h.uploader.Records()
}

// -------------------------------------------------------------------------------------------------
// Ordering
// -------------------------------------------------------------------------------------------------

func TestEngine_ConcurrentPostersKeepOrder(t *testing.T) {
	t.Parallel()

	const (
		posters   = 4
		perPoster = 300
	)
	h := start(t, memo.Options{HistorySize: posters * perPoster})

	type origin struct{ poster, seq int }
	origins := make(map[string]origin, posters*perPoster)
	events := make([][]event.Event, posters)
	for p := range posters {
		for s := range perPoster {
			e := event.Death{EntityID: uint32(p<<16 | s)}
			events[p] = append(events[p], e)
			origins[e.String()] = origin{p, s}
		}
	}

	var wg sync.WaitGroup
	for p := range posters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, e := range events[p] {
				h.engine.PostEvent(e)
			}
		}()
	}
	wg.Wait()
	h.settle(t, posters*perPoster)

	entries := h.engine.History(0)
	require.Len(t, entries, posters*perPoster)
	next := make([]int, posters)
	for _, entry := range entries {
		o, ok := origins[entry.Message]
		require.True(t, ok, entry.Message)
		require.Equal(t, next[o.poster], o.seq, "poster %d reordered", o.poster)
		next[o.poster]++
	}
}

// -------------------------------------------------------------------------------------------------
// Zones
// -------------------------------------------------------------------------------------------------

func TestEngine_TrackedZoneProducesRecord(t *testing.T) {
	t.Parallel()
	h := start(t, memo.Options{})

	party := []event.Member{{EntityID: 1, Name: "Alice", Server: "Tonberry", JobID: 19, Level: 100}}
	h.post(t,
		event.ZoneChanged{ZoneID: 1122},
		event.PartyUpdated{Members: party},
		event.CombatEnter{},
		event.ActionComplete{EntityID: 0x4000_0001, ActionID: 10},
	)
	h.settle(t, 4)

	status := h.engine.Status()
	assert.True(t, status.Tracked)
	assert.Equal(t, uint32(1122), status.ZoneID)
	require.NotNil(t, status.Fight)
	assert.Equal(t, "P1", status.Fight.PhaseName)
	assert.Equal(t, "in_progress", status.Fight.Lifecycle)

	h.clock.Advance(42 * time.Second)
	h.post(t, event.Death{EntityID: 1}, event.DutyWiped{ZoneID: 1122})

	recs := h.records(t, 1)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.False(t, rec.Clear)
	assert.Equal(t, uint32(1122), rec.ZoneID)
	assert.Equal(t, uint32(1), rec.Progress.Phase)
	assert.Equal(t, uint32(0), rec.Progress.Subphase)
	assert.Equal(t, uint32(501), rec.Progress.EnemyID)
	assert.Equal(t, 42*time.Second, rec.Duration)
	assert.Equal(t, []record.Player{
		{Name: "Alice", Server: "Tonberry", JobID: 19, Level: 100, DeathCount: 1},
	}, rec.Players)

	require.Eventually(t, func() bool { return h.engine.Status().UploadsSucceeded == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, uint64(1), h.engine.Status().Records)
}

func TestEngine_UntrackedZones(t *testing.T) {
	t.Parallel()
	h := start(t, memo.Options{})

	for _, zone := range []uint32{7, 13} {
		h.post(t, event.ZoneChanged{ZoneID: zone}, event.CombatEnter{}, event.DutyWiped{ZoneID: zone})
	}
	h.settle(t, 6)

	status := h.engine.Status()
	assert.False(t, status.Tracked)
	assert.Nil(t, status.Fight)
	assert.Equal(t, uint32(13), status.ZoneID)
	assert.Equal(t, uint64(0), status.Records)
	assert.Empty(t, h.uploader.Records())
}

func TestEngine_ZoneChangeFinalizesAttempt(t *testing.T) {
	t.Parallel()
	h := start(t, memo.Options{})

	h.post(t, event.ZoneChanged{ZoneID: 1122}, event.CombatEnter{}, event.ZoneChanged{ZoneID: 7})

	recs := h.records(t, 1)
	assert.False(t, recs[0].Clear)
	assert.Equal(t, uint32(1122), recs[0].ZoneID)

	h.settle(t, 3)
	assert.False(t, h.engine.Status().Tracked)
}

func TestEngine_DutyRecommencedStartsNewAttempt(t *testing.T) {
	t.Parallel()
	h := start(t, memo.Options{})

	h.post(t,
		event.ZoneChanged{ZoneID: 1122},
		event.CombatEnter{},
		event.DutyWiped{ZoneID: 1122},
		event.CombatEnter{},
	)
	h.settle(t, 4)
	assert.Equal(t, "completed", h.engine.Status().Fight.Lifecycle, "completed attempts ignore combat")

	h.post(t,
		event.DutyRecommenced{ZoneID: 1122},
		event.CombatEnter{},
		event.ActionComplete{ActionID: 10},
		event.DutyCompleted{ZoneID: 1122},
	)

	recs := h.records(t, 2)
	require.Len(t, recs, 2)
	assert.False(t, recs[0].Clear)
	assert.True(t, recs[1].Clear)
	assert.Equal(t, uint32(1), recs[1].Progress.Phase)
}

func TestEngine_RecommenceFinalizesInProgress(t *testing.T) {
	t.Parallel()
	h := start(t, memo.Options{})

	h.post(t, event.ZoneChanged{ZoneID: 1122}, event.CombatEnter{}, event.DutyRecommenced{ZoneID: 1122})

	recs := h.records(t, 1)
	assert.False(t, recs[0].Clear)
	h.settle(t, 3)
	assert.Equal(t, "ready", h.engine.Status().Fight.Lifecycle)
}

func TestEngine_TicksDriveTimeouts(t *testing.T) {
	t.Parallel()
	h := start(t, memo.Options{})

	h.post(t, event.ZoneChanged{ZoneID: 1122}, event.CombatEnter{}, event.ActionComplete{ActionID: 10})
	h.settle(t, 3)
	require.Equal(t, 1, h.engine.Status().Fight.Phase)

	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return h.engine.Status().Fight.Phase == 2
	}, waitFor, time.Millisecond)

	assert.Len(t, h.engine.History(0), 3, "ticks are not recorded")
}

// -------------------------------------------------------------------------------------------------
// Uploads and shutdown
// -------------------------------------------------------------------------------------------------

func TestEngine_FailedUploadIsCounted(t *testing.T) {
	t.Parallel()
	h := start(t, memo.Options{Uploader: &captureUploader{fail: true}})

	h.post(t, event.ZoneChanged{ZoneID: 1122}, event.CombatEnter{}, event.DutyWiped{})
	require.Eventually(t, func() bool { return h.engine.Status().UploadsFailed == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, uint64(0), h.engine.Status().UploadsSucceeded)
}

func TestEngine_StopAbandonsUploadsAfterGrace(t *testing.T) {
	t.Parallel()
	up := &captureUploader{block: true}
	h := start(t, memo.Options{Uploader: up, UploadGrace: 100 * time.Millisecond})

	h.post(t, event.ZoneChanged{ZoneID: 1122}, event.CombatEnter{}, event.DutyWiped{})
	require.Eventually(t, func() bool { return h.engine.Status().Records == 1 }, waitFor, time.Millisecond)

	began := time.Now()
	h.engine.Stop()
	select {
	case <-h.engine.Done():
	case <-time.After(waitFor):
		t.Fatal("engine did not stop")
	}
	assert.GreaterOrEqual(t, time.Since(began), 100*time.Millisecond)
	assert.Equal(t, "shut_down", h.engine.Stage())
	assert.False(t, h.engine.PostEvent(event.CombatEnter{}))
}

func TestEngine_FlushWaitsForQueuedEvents(t *testing.T) {
	t.Parallel()
	h := start(t, memo.Options{})

	const deaths = 5000
	h.post(t, event.ZoneChanged{ZoneID: 1122}, event.CombatEnter{})
	for i := range deaths {
		h.post(t, event.Death{EntityID: uint32(i + 1)})
	}
	h.post(t, event.DutyWiped{ZoneID: 1122})

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.engine.Flush(ctx))

	status := h.engine.Status()
	assert.Equal(t, uint64(deaths+3), status.Processed)
	assert.Equal(t, uint64(1), status.Records)

	// Stopping right after a flush still delivers the record.
	h.engine.Stop()
	<-h.engine.Done()
	assert.Len(t, h.uploader.Records(), 1)
}

func TestEngine_FlushAfterStop(t *testing.T) {
	t.Parallel()
	h := start(t, memo.Options{})

	h.engine.Stop()
	<-h.engine.Done()

	err := h.engine.Flush(context.Background())
	require.Error(t, err)
	assert.True(t, eris.Is(err, memo.ErrStopped))
}

func TestEngine_FlushHonorsContext(t *testing.T) {
	t.Parallel()

	tel := telemetry.Nop()
	e, err := memo.New(memo.Options{Telemetry: &tel, Uploader: &captureUploader{}})
	require.NoError(t, err)

	// Never started, so the barrier is never reached.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, e.Flush(ctx))
}

// uploaderFunc adapts a function to memo.Uploader.
type uploaderFunc func(ctx context.Context, id uuid.UUID, rec *record.FightRecord) (string, error)

func (f uploaderFunc) Upload(ctx context.Context, id uuid.UUID, rec *record.FightRecord) (string, error) {
	return f(ctx, id, rec)
}

func TestEngine_DeliveryPanicIsContained(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	up := uploaderFunc(func(context.Context, uuid.UUID, *record.FightRecord) (string, error) {
		if calls.Add(1) == 1 {
			panic("uploader bug")
		}
		return "fake", nil
	})
	h := start(t, memo.Options{Uploader: up})

	h.post(t,
		event.ZoneChanged{ZoneID: 1122},
		event.CombatEnter{},
		event.DutyWiped{ZoneID: 1122},
	)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, time.Millisecond)

	h.post(t,
		event.DutyRecommenced{ZoneID: 1122},
		event.CombatEnter{},
		event.DutyWiped{ZoneID: 1122},
	)
	require.Eventually(t, func() bool { return h.engine.Status().UploadsSucceeded == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, "running", h.engine.Stage())
	assert.Equal(t, uint64(2), h.engine.Status().Records)
}

func TestEngine_RunTwice(t *testing.T) {
	t.Parallel()
	h := start(t, memo.Options{})

	require.Eventually(t, func() bool { return h.engine.Stage() == "running" }, waitFor, time.Millisecond)
	require.Error(t, h.engine.Run(context.Background()))
}

func TestEngine_PostNil(t *testing.T) {
	t.Parallel()
	h := start(t, memo.Options{})
	assert.False(t, h.engine.PostEvent(nil))
}

// -------------------------------------------------------------------------------------------------
// End to end over HTTP
// -------------------------------------------------------------------------------------------------

func TestEngine_FetchAndUploadOverHTTP(t *testing.T) {
	t.Parallel()

	doc, err := duty.Encode(twoPhaseDuty())
	require.NoError(t, err)

	uploaded := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /duty/1122":
			_, _ = w.Write(doc)
		case "POST /fight":
			body, _ := io.ReadAll(r.Body)
			uploaded <- body
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	tel := telemetry.Nop()
	e, err := memo.New(memo.Options{
		Endpoints: []string{srv.URL},
		Telemetry: &tel,
		DutyDir:   t.TempDir(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})

	for _, ev := range []event.Event{
		event.ZoneChanged{ZoneID: 1122},
		event.CombatEnter{},
		event.ActionComplete{ActionID: 10},
		event.DutyCompleted{ZoneID: 1122},
	} {
		require.True(t, e.PostEvent(ev))
	}

	select {
	case body := <-uploaded:
		rec, err := record.Unmarshal(body)
		require.NoError(t, err)
		assert.True(t, rec.Clear)
		assert.Equal(t, uint32(1122), rec.ZoneID)
		assert.Equal(t, uint32(1), rec.Progress.Phase)
	case <-time.After(waitFor):
		t.Fatal("no upload received")
	}
}
