// Package memo runs the encounter engine: it serializes combat events from any number of producers
// onto one consumer goroutine, drives the per-attempt state machine for the current zone and hands
// finished fight records to the uploader.
package memo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/open-xiv/memo-uploader/pkg/memo/duty"
	"github.com/open-xiv/memo-uploader/pkg/memo/event"
	"github.com/open-xiv/memo-uploader/pkg/memo/fetch"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/api"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/fight"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/history"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/publish"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/queue"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/stage"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/statsd"
	"github.com/open-xiv/memo-uploader/pkg/memo/record"
	"github.com/open-xiv/memo-uploader/pkg/telemetry"
	"github.com/open-xiv/memo-uploader/pkg/telemetry/sentry"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Uploader delivers a finished fight record and reports the endpoint that accepted it.
type Uploader interface {
	Upload(ctx context.Context, dispatchID uuid.UUID, rec *record.FightRecord) (string, error)
}

// Publisher fans a finished fight record out to other consumers.
type Publisher interface {
	Publish(ctx context.Context, dispatchID uuid.UUID, rec *record.FightRecord) error
	Close()
}

// ErrStopped is returned by Flush when the engine no longer consumes events.
var ErrStopped = eris.New("engine stopped")

// posted is one queue slot: an event, or a flush barrier closed once everything queued before it
// has been processed.
type posted struct {
	event   event.Event
	flushed chan struct{}
}

type apiUploader struct {
	client *api.Client
}

func (u apiUploader) Upload(ctx context.Context, dispatchID uuid.UUID, rec *record.FightRecord) (string, error) {
	res, err := u.client.UploadFight(ctx, dispatchID, rec)
	return res.Endpoint, err
}

type Engine struct {
	options Options
	tel     telemetry.Telemetry
	log     zerolog.Logger

	stage   *stage.Manager
	queue   *queue.Queue[posted]
	history *history.Log

	fetcher   fetch.Fetcher
	uploader  Uploader
	publisher Publisher
	closers   []func()

	// Owned by the consumer goroutine.
	fight  *fight.Context
	zoneID uint32
	party  []event.Member

	status           atomic.Pointer[Status]
	processed        atomic.Uint64
	records          atomic.Uint64
	uploadsSucceeded atomic.Uint64
	uploadsFailed    atomic.Uint64

	uploads       sync.WaitGroup
	uploadCtx     context.Context //nolint:containedctx // outlives any single call
	cancelUploads context.CancelFunc

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New builds an engine from the environment with opts applied on top. The engine does nothing until
// Run is called.
func New(opts Options) (*Engine, error) {
	cfg, err := loadEngineConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load engine config")
	}
	options := newDefaultOptions()
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid engine options")
	}

	e := &Engine{
		options: options,
		stage:   stage.NewManager(),
		queue:   queue.New[posted](),
		history: history.New(options.HistorySize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	e.uploadCtx, e.cancelUploads = context.WithCancel(context.Background())

	if options.Telemetry != nil {
		e.tel = *options.Telemetry
	} else {
		tel, err := telemetry.New(telemetry.Options{
			ServiceName:    "memo-uploader",
			ServiceVersion: options.ClientVersion,
		})
		if err != nil {
			return nil, eris.Wrap(err, "failed to initialize telemetry")
		}
		e.tel = tel
		e.closers = append(e.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = e.tel.Shutdown(ctx)
		})
	}
	e.log = e.tel.GetLogger("engine")

	if err := e.setup(); err != nil {
		e.close()
		return nil, err
	}

	e.publishStatus()
	return e, nil
}

func (e *Engine) setup() error {
	opts := e.options

	if opts.StatsdAddress != "" {
		if err := statsd.Init(opts.StatsdAddress, []string{"client:" + opts.ClientName}); err != nil {
			return eris.Wrap(err, "failed to initialize statsd")
		}
		e.closers = append(e.closers, func() { _ = statsd.Close() })
	}

	var client *api.Client
	if len(opts.Endpoints) > 0 {
		var err error
		client, err = api.New(api.Options{
			Endpoints:      opts.Endpoints,
			AuthKey:        opts.AuthKey,
			ClientName:     opts.ClientName,
			ClientVersion:  opts.ClientVersion,
			AttemptTimeout: opts.AttemptTimeout,
			ClientTimeout:  opts.ClientTimeout,
			Logger:         e.tel.GetLogger("api"),
			Tracer:         e.tel.Tracer,
		})
		if err != nil {
			return eris.Wrap(err, "failed to create api client")
		}
	}

	e.uploader = opts.Uploader
	if e.uploader == nil && !opts.DisableUpload && client != nil {
		e.uploader = apiUploader{client: client}
	}

	e.publisher = opts.Publisher
	if e.publisher == nil && opts.NATSURL != "" {
		p, err := publish.New(publish.Options{
			URL:     opts.NATSURL,
			Subject: opts.NATSSubject,
			Name:    opts.ClientName,
			Logger:  e.tel.GetLogger("publish"),
		})
		if err != nil {
			return eris.Wrap(err, "failed to create publisher")
		}
		e.publisher = p
	}
	if e.publisher != nil {
		e.closers = append(e.closers, e.publisher.Close)
	}

	e.fetcher = opts.Fetcher
	if e.fetcher == nil {
		e.fetcher = e.buildFetcher(client)
	}
	return nil
}

// buildFetcher composes the local directory, the shared redis cache, the remote API and the
// in-process cache, skipping whatever is not configured.
func (e *Engine) buildFetcher(client *api.Client) fetch.Fetcher {
	opts := e.options

	var chain fetch.Chain
	if opts.DutyDir != "" {
		chain = append(chain, fetch.Dir(opts.DutyDir))
	}
	if client != nil {
		var remote fetch.Fetcher = fetch.NewAPI(client)
		if opts.RedisAddress != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     opts.RedisAddress,
				Password: opts.RedisPassword,
			})
			e.closers = append(e.closers, func() { _ = rdb.Close() })
			remote = fetch.NewRedis(remote, rdb, opts.CacheTTL, e.tel.GetLogger("fetch"))
		}
		chain = append(chain, remote)
	}

	var f fetch.Fetcher = chain
	if opts.CacheBytes > 0 {
		f = fetch.NewCached(f, opts.CacheBytes, opts.CacheTTL)
	}
	return f
}

// PostEvent queues ev for the consumer without blocking. It reports false when the engine is
// stopping and the event was dropped.
func (e *Engine) PostEvent(ev event.Event) bool {
	if ev == nil {
		return false
	}
	if !e.stage.Accepting() {
		e.log.Debug().Str("kind", ev.Kind().String()).Msg("dropping event posted after stop")
		return false
	}
	e.queue.Push(posted{event: ev})
	return true
}

// Flush blocks until the consumer has processed every event posted before the call, including the
// records they produced being handed to delivery. It fails when the engine stops first or ctx is
// done.
func (e *Engine) Flush(ctx context.Context) error {
	if !e.stage.Accepting() {
		return ErrStopped
	}
	barrier := make(chan struct{})
	e.queue.Push(posted{flushed: barrier})

	select {
	case <-barrier:
		return nil
	case <-e.done:
		select {
		case <-barrier:
			return nil
		default:
		}
		return eris.Wrap(ErrStopped, "engine stopped before the flush completed")
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "flush interrupted")
	}
}

// Run consumes events until ctx is done or Stop is called, then waits up to the upload grace
// period for in-flight uploads. It may be called once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.stage.CompareAndSwap(stage.Init, stage.Running) {
		return eris.New("engine already started")
	}
	defer close(e.done)

	e.log.Info().
		Strs("endpoints", e.options.Endpoints).
		Bool("upload", e.uploader != nil).
		Bool("publish", e.publisher != nil).
		Msg("engine started")
	e.publishStatus()

	e.consume(ctx)
	e.shutdown()
	return nil
}

// Stop asks Run to return. It does not finalize an attempt in progress.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) consume(ctx context.Context) {
	defer sentry.Recover("consumer", true)

	ticker := time.NewTicker(e.options.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-e.queue.Ready():
			for _, p := range e.queue.Drain() {
				if p.flushed != nil {
					close(p.flushed)
					continue
				}
				e.process(ctx, p.event)
			}
		case <-ticker.C:
			e.process(ctx, event.Tick{At: e.options.Now()})
		}
	}
}

func (e *Engine) process(ctx context.Context, ev event.Event) {
	if _, tick := ev.(event.Tick); !tick {
		e.history.Record(e.options.Now(), ev)
		e.processed.Add(1)
		statsd.EmitEvent(ev.Kind().String())
	}

	switch ev := ev.(type) {
	case event.ZoneChanged:
		e.changeZone(ctx, ev.ZoneID)
	case event.DutyRecommenced:
		e.recommence()
	case event.PartyUpdated:
		e.party = append([]event.Member(nil), ev.Members...)
	default:
		if e.fight != nil {
			e.fight.ProcessEvent(ev)
		}
	}

	e.publishStatus()
}

// changeZone finalizes the current attempt and installs a context for the new zone, or none when
// the zone is untracked.
func (e *Engine) changeZone(ctx context.Context, zoneID uint32) {
	if e.fight != nil {
		e.fight.Finalize()
		e.fight = nil
	}
	e.zoneID = zoneID

	fetchCtx, cancel := context.WithTimeout(ctx, e.options.FetchTimeout)
	defer cancel()

	cfg, err := e.fetcher.Fetch(fetchCtx, zoneID)
	switch {
	case err != nil:
		e.log.Warn().Err(err).Uint32("zone", zoneID).Msg("failed to resolve duty config, zone is untracked")
	case cfg == nil:
		e.log.Info().Uint32("zone", zoneID).Msg("zone is untracked")
	default:
		e.fight = e.newFight(cfg)
		e.log.Info().
			Uint32("zone", zoneID).
			Str("duty", cfg.Name).
			Int("phases", len(cfg.Timeline.Phases)).
			Int("mechanics", len(cfg.Mechanics)).
			Msg("duty config installed")
	}
}

// recommence replaces the context with a fresh one for the same duty.
func (e *Engine) recommence() {
	if e.fight == nil {
		return
	}
	e.fight.Finalize()
	e.fight = e.newFight(e.fight.Config())
	e.log.Info().Uint32("zone", e.zoneID).Msg("duty recommenced")
}

func (e *Engine) newFight(cfg *duty.Config) *fight.Context {
	return fight.New(cfg, fight.Options{
		Now:    e.options.Now,
		Party:  func() []event.Member { return e.party },
		Sink:   e.dispatch,
		Logger: e.tel.GetLogger("fight"),
	})
}

// dispatch hands rec to a detached goroutine. It runs on the consumer and never blocks it.
func (e *Engine) dispatch(rec record.FightRecord) {
	e.records.Add(1)
	if e.uploader == nil && e.publisher == nil {
		return
	}

	id := uuid.New()
	e.uploads.Add(1)
	go func() {
		defer e.uploads.Done()
		defer sentry.Recover("delivery", false)
		e.deliver(e.uploadCtx, id, &rec)
	}()
}

func (e *Engine) deliver(ctx context.Context, id uuid.UUID, rec *record.FightRecord) {
	log := e.log.With().
		Str("dispatch_id", id.String()).
		Uint32("zone", rec.ZoneID).
		Bool("clear", rec.Clear).
		Logger()

	if e.uploader != nil {
		start := time.Now()
		endpoint, err := e.uploader.Upload(ctx, id, rec)
		statsd.EmitUpload(start, err == nil)
		if err != nil {
			e.uploadsFailed.Add(1)
			log.Warn().Err(err).Msg("fight record upload failed")
		} else {
			e.uploadsSucceeded.Add(1)
			log.Info().Str("endpoint", endpoint).Dur("latency", time.Since(start)).Msg("fight record uploaded")
		}
	}

	if e.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, e.options.ClientTimeout)
		defer cancel()
		if err := e.publisher.Publish(pubCtx, id, rec); err != nil {
			log.Warn().Err(err).Msg("fight record publish failed")
		}
	}
}

func (e *Engine) shutdown() {
	e.stage.Store(stage.ShuttingDown)
	e.log.Info().Msg("shutting down engine")

	waited := make(chan struct{})
	go func() {
		e.uploads.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(e.options.UploadGrace):
		e.log.Warn().Dur("grace", e.options.UploadGrace).Msg("abandoning in-flight uploads")
	}
	e.cancelUploads()

	dropped := 0
	for _, p := range e.queue.Drain() {
		if p.event != nil {
			dropped++
		}
	}
	if dropped > 0 {
		e.log.Debug().Int("events", dropped).Msg("dropped unprocessed events")
	}

	e.close()
	e.stage.Store(stage.ShutDown)
	e.publishStatus()
	e.log.Info().Msg("engine shut down")
}

func (e *Engine) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}
