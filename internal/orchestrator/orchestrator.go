// Package orchestrator accepts equation jobs, fans each one out over
// its initial conditions onto a bounded worker pool, drives the job
// state machine, and publishes lifecycle events on the notification
// bus. It is the only writer of the job store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"phaseflow/internal/job"
	"phaseflow/internal/notify"
	"phaseflow/internal/ode"
	"phaseflow/internal/solver"
)

// Config sizes the worker pool and its queue.
type Config struct {
	// Workers is the number of concurrent solve goroutines shared by
	// all jobs.
	Workers int
	// QueueDepth bounds the request channel. Requests that do not fit
	// stay in a backlog and the owning job stays queued.
	QueueDepth int
	// RequeueInterval is how often the backlog retries enqueueing.
	RequeueInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	if c.RequeueInterval <= 0 {
		c.RequeueInterval = 100 * time.Millisecond
	}
	return c
}

// SubmitRequest is one job submission.
type SubmitRequest struct {
	Name         string
	Source       string
	Parameters   map[string]float64
	InitialConds [][]float64
	Span         solver.Span
	Solver       string
	Options      solver.Options
}

// request is one unit of pool work: integrate a single initial
// condition of a tracked job.
type request struct {
	t     *tracked
	index int
}

// tracked is the in-memory view of a non-terminal job.
type tracked struct {
	mu sync.Mutex

	rec     *job.Record
	sys     *ode.System
	backend solver.Backend

	ctx    context.Context
	cancel context.CancelFunc

	total       int
	done        int
	outstanding int
	cancelled   bool
	failReason  string
	persisted   bool
	trajs       []*solver.Trajectory
}

// Persistence failures are retried briefly before the in-memory record
// becomes the fallback read path.
const (
	saveAttempts   = 3
	saveRetryDelay = 25 * time.Millisecond
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBackendResolver overrides how solver names resolve to backends.
// The default is the solver registry.
func WithBackendResolver(fn func(name string) (solver.Backend, error)) Option {
	return func(o *Orchestrator) { o.resolve = fn }
}

// Orchestrator owns the worker pool, the store, and the bus.
//
// Lock order: Orchestrator.mu before tracked.mu, never the reverse.
type Orchestrator struct {
	cfg     Config
	store   job.Store
	bus     *notify.Bus
	cache   *ode.Cache
	logger  *slog.Logger
	resolve func(name string) (solver.Backend, error)

	requests chan request

	mu      sync.Mutex
	jobs    map[string]*tracked
	backlog []request
	running bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, store job.Store, bus *notify.Bus, logger *slog.Logger, opts ...Option) *Orchestrator {
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:      cfg,
		store:    store,
		bus:      bus,
		cache:    ode.NewCache(),
		logger:   logger,
		resolve:  solver.New,
		requests: make(chan request, cfg.QueueDepth),
		jobs:     make(map[string]*tracked),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches the worker goroutines. It returns immediately.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}
	o.running = true

	o.logger.Info("orchestrator starting",
		slog.Int("workers", o.cfg.Workers),
		slog.Int("queue_depth", o.cfg.QueueDepth),
	)

	for range o.cfg.Workers {
		o.wg.Add(1)
		go o.workLoop()
	}
	o.wg.Add(1)
	go o.requeueLoop()
}

// Close stops accepting submissions, signals the workers, and waits
// for them to drain. If the context expires first, in-flight
// integrations are cancelled.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	o.mu.Unlock()

	o.logger.Info("orchestrator stopping")
	close(o.stopCh)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("orchestrator stopped")
	case <-ctx.Done():
		o.logger.Warn("orchestrator shutdown timed out, cancelling active jobs")
		o.cancelAll()
		o.wg.Wait()
	}
	return nil
}

func (o *Orchestrator) cancelAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, t := range o.jobs {
		t.cancel()
	}
}

// Subscribe attaches a listener to a job's event stream.
func (o *Orchestrator) Subscribe(jobID string) (<-chan notify.Event, func()) {
	return o.bus.Subscribe(jobID)
}

// Submit validates the request, persists a queued record, and enqueues
// one solve request per initial condition. Validation failures create
// no job. The returned record is a snapshot.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*job.Record, error) {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()
	if !running {
		return nil, ErrClosed
	}

	if req.Span.Tf < req.Span.T0 {
		return nil, ErrInvalidSpan
	}

	sys, err := o.cache.Build(req.Source, req.Parameters, func() (*ode.System, error) {
		return ode.BuildSystem(req.Source, req.Parameters)
	})
	if err != nil {
		return nil, err
	}

	backend, err := o.resolve(req.Solver)
	if err != nil {
		return nil, err
	}

	for i, ic := range req.InitialConds {
		if len(ic) != sys.Dim() {
			return nil, &DimensionMismatchError{Index: i, Expected: sys.Dim(), Actual: len(ic)}
		}
	}

	rec := &job.Record{
		ID:           job.NewID(),
		Name:         req.Name,
		Source:       req.Source,
		Vars:         append([]string(nil), sys.Vars()...),
		Parameters:   req.Parameters,
		InitialConds: req.InitialConds,
		Span:         req.Span,
		Solver:       backend.Name(),
		Options:      req.Options,
		State:        job.StateQueued,
		CreatedAt:    time.Now().UTC(),
	}

	if len(req.InitialConds) == 0 {
		return o.finishEmpty(ctx, rec)
	}

	jctx, cancel := context.WithCancel(context.Background())
	t := &tracked{
		rec:         rec,
		sys:         sys,
		backend:     backend,
		ctx:         jctx,
		cancel:      cancel,
		total:       len(req.InitialConds),
		outstanding: len(req.InitialConds),
		trajs:       make([]*solver.Trajectory, len(req.InitialConds)),
	}

	if err := o.store.Save(ctx, rec); err != nil {
		cancel()
		return nil, err
	}

	o.mu.Lock()
	o.jobs[rec.ID] = t
	for i := range req.InitialConds {
		rq := request{t: t, index: i}
		select {
		case o.requests <- rq:
		default:
			o.backlog = append(o.backlog, rq)
		}
	}
	backlogged := len(o.backlog)
	o.mu.Unlock()

	o.logger.Info("job submitted",
		slog.String("job_id", rec.ID),
		slog.String("solver", rec.Solver),
		slog.Int("trajectories", t.total),
		slog.Int("backlog", backlogged),
	)
	return rec.Clone(), nil
}

// finishEmpty resolves a zero-initial-condition job without touching
// the pool: there is nothing to integrate.
func (o *Orchestrator) finishEmpty(ctx context.Context, rec *job.Record) (*job.Record, error) {
	now := time.Now().UTC()
	rec.State = job.StateFinished
	rec.FinishedAt = &now
	rec.Result = &job.Result{
		Warnings: []string{"no initial conditions given; nothing was integrated"},
	}
	if err := o.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	o.bus.Publish(notify.Event{JobID: rec.ID, Kind: notify.KindJobFinished, Result: rec.Result})
	o.bus.Close(rec.ID)
	o.logger.Info("job finished empty", slog.String("job_id", rec.ID))
	return rec.Clone(), nil
}

// Cancel requests cancellation. Cancelling a terminal job is a no-op.
// A queued job resolves immediately; a running job resolves to
// cancelled once its in-flight integrations drain.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	o.mu.Lock()
	t := o.jobs[id]
	var purged int
	if t != nil {
		kept := o.backlog[:0]
		for _, rq := range o.backlog {
			if rq.t == t {
				purged++
				continue
			}
			kept = append(kept, rq)
		}
		o.backlog = kept
	}
	o.mu.Unlock()

	if t == nil {
		rec, err := o.store.Load(ctx, id)
		if err != nil {
			return err
		}
		if rec.State.Terminal() {
			return nil
		}
		return fmt.Errorf("orchestrator: job %s not tracked", id)
	}

	t.mu.Lock()
	if t.rec.State.Terminal() {
		t.mu.Unlock()
		return nil
	}
	t.cancelled = true
	t.cancel()
	t.outstanding -= purged
	o.logger.Info("job cancel requested",
		slog.String("job_id", id),
		slog.Int("purged", purged),
		slog.Int("outstanding", t.outstanding),
	)
	resolved := t.outstanding == 0
	if resolved {
		o.finalizeLocked(t)
	}
	persisted := t.persisted
	t.mu.Unlock()

	if resolved && persisted {
		o.forget(id)
	}
	return nil
}

// Status returns the record for a job. While the job is tracked the
// in-memory record is authoritative (the persisted copy may lag a
// failed save); afterwards the store serves it.
func (o *Orchestrator) Status(ctx context.Context, id string) (*job.Record, error) {
	o.mu.Lock()
	t := o.jobs[id]
	o.mu.Unlock()
	if t != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.rec.Clone(), nil
	}
	return o.store.Load(ctx, id)
}

// Result returns the terminal record for a job, or ErrNotReady while
// it is still queued or running. The query is idempotent.
func (o *Orchestrator) Result(ctx context.Context, id string) (*job.Record, error) {
	rec, err := o.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.State.Terminal() {
		return nil, ErrNotReady
	}
	return rec, nil
}

// Jobs lists all persisted jobs in creation order.
func (o *Orchestrator) Jobs(ctx context.Context) ([]*job.Record, error) {
	return o.store.List(ctx)
}

func (o *Orchestrator) workLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.stopCh:
			return
		case rq := <-o.requests:
			o.process(rq)
		}
	}
}

// requeueLoop retries backlogged requests so queue saturation leaves
// jobs queued instead of rejected.
func (o *Orchestrator) requeueLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.RequeueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.drainBacklog()
		}
	}
}

func (o *Orchestrator) drainBacklog() {
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.backlog[:0]
	for i, rq := range o.backlog {
		select {
		case o.requests <- rq:
		default:
			kept = append(kept, o.backlog[i:]...)
			o.backlog = kept
			return
		}
	}
	o.backlog = kept
}

// process runs one solve request to resolution. Every request
// decrements outstanding exactly once; the last one finalizes the job.
func (o *Orchestrator) process(rq request) {
	t := rq.t

	t.mu.Lock()
	skip := t.cancelled || t.failReason != ""
	if !skip && t.rec.State == job.StateQueued {
		o.setStateLocked(t, job.StateRunning)
	}
	ic := t.rec.InitialConds[rq.index]
	span, opts := t.rec.Span, t.rec.Options
	t.mu.Unlock()

	var (
		traj *solver.Trajectory
		err  error
	)
	if !skip {
		traj, _, err = t.backend.Integrate(t.ctx, t.sys, ic, span, opts)
	}

	t.mu.Lock()

	switch {
	case skip:
		// sibling failed or job cancelled before this request started

	case err == nil:
		t.trajs[rq.index] = traj
		t.done++
		o.bus.Publish(notify.Event{
			JobID:      t.rec.ID,
			Kind:       notify.KindTrajectoryCompleted,
			Index:      rq.index,
			Trajectory: traj,
		})
		o.bus.Publish(notify.Event{
			JobID:    t.rec.ID,
			Kind:     notify.KindProgress,
			Fraction: float64(t.done) / float64(t.total),
		})

	case errors.Is(err, context.Canceled):
		// cancelled mid-integration; drained result is discarded

	default:
		if t.failReason == "" {
			t.failReason = fmt.Sprintf("initial condition %d: %v", rq.index, err)
			t.cancel() // stop in-flight siblings
			o.logger.Warn("trajectory failed",
				slog.String("job_id", t.rec.ID),
				slog.Int("index", rq.index),
				slog.String("error", err.Error()),
			)
		}
	}

	t.outstanding--
	resolved := t.outstanding == 0
	if resolved {
		o.finalizeLocked(t)
	}
	persisted := t.persisted
	t.mu.Unlock()

	if resolved && persisted {
		o.forget(t.rec.ID)
	}
}

// forget drops a terminal job's tracked entry once its record is
// safely persisted, so long-lived orchestrators do not accumulate an
// unbounded in-process job table.
func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	delete(o.jobs, id)
	o.mu.Unlock()
}

// setStateLocked transitions the record, persists it, and publishes a
// status event. It reports whether the record landed in the store.
// Caller holds t.mu.
func (o *Orchestrator) setStateLocked(t *tracked, to job.State) bool {
	from := t.rec.State
	if !job.CanTransition(from, to) {
		o.logger.Error("illegal state transition",
			slog.String("job_id", t.rec.ID),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return false
	}
	t.rec.State = to
	saved := o.saveRetryLocked(t)
	if !to.Terminal() {
		o.bus.Publish(notify.Event{JobID: t.rec.ID, Kind: notify.KindStatusChanged, State: to})
	}
	return saved
}

// saveRetryLocked persists the record, retrying transient store
// failures. A record that never lands keeps its tracked entry alive so
// Status and Result stay serviceable from memory. Caller holds t.mu.
func (o *Orchestrator) saveRetryLocked(t *tracked) bool {
	var err error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(saveRetryDelay)
		}
		if err = o.store.Save(context.Background(), t.rec); err == nil {
			return true
		}
	}
	o.logger.Error("save failed, serving record from memory",
		slog.String("job_id", t.rec.ID),
		slog.String("error", err.Error()),
	)
	return false
}

// finalizeLocked resolves the job to its terminal state, persists the
// record, publishes the terminal event last, and closes the job's bus
// topic. Caller holds t.mu.
func (o *Orchestrator) finalizeLocked(t *tracked) {
	now := time.Now().UTC()
	t.rec.FinishedAt = &now

	var terminal notify.Event
	switch {
	case t.failReason != "":
		t.rec.Reason = t.failReason
		t.persisted = o.setStateLocked(t, job.StateFailed)
		terminal = notify.Event{JobID: t.rec.ID, Kind: notify.KindJobFailed, Reason: t.failReason}

	case t.cancelled:
		t.persisted = o.setStateLocked(t, job.StateCancelled)
		terminal = notify.Event{JobID: t.rec.ID, Kind: notify.KindStatusChanged, State: job.StateCancelled}

	default:
		res := &job.Result{
			Times:        append([]float64(nil), t.trajs[0].Times...),
			Trajectories: make([][][]float64, len(t.trajs)),
		}
		for i, traj := range t.trajs {
			res.Trajectories[i] = traj.States
		}
		t.rec.Result = res
		t.persisted = o.setStateLocked(t, job.StateFinished)
		terminal = notify.Event{JobID: t.rec.ID, Kind: notify.KindJobFinished, Result: res}
	}
	t.trajs = nil
	t.cancel()

	o.bus.Publish(terminal)
	o.bus.Close(t.rec.ID)
	o.logger.Info("job resolved",
		slog.String("job_id", t.rec.ID),
		slog.String("state", string(t.rec.State)),
	)
}
