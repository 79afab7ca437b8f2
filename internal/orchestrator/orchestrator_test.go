package orchestrator_test

import (
	"context"
	"errors"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"phaseflow/internal/job"
	"phaseflow/internal/notify"
	"phaseflow/internal/ode"
	"phaseflow/internal/orchestrator"
	"phaseflow/internal/solver"
)

// stubBackend lets the suite control integration timing and outcome.
type stubBackend struct {
	name      string
	integrate func(ctx context.Context, y0 []float64, span solver.Span) (*solver.Trajectory, error)
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) Integrate(ctx context.Context, _ *ode.System, y0 []float64, span solver.Span, _ solver.Options) (*solver.Trajectory, *solver.Stats, error) {
	traj, err := b.integrate(ctx, y0, span)
	return traj, &solver.Stats{}, err
}

// blockingResolver returns a backend that blocks every integration
// until release is closed, then succeeds with a two-sample trajectory.
func blockingResolver(release <-chan struct{}) func(string) (solver.Backend, error) {
	return func(string) (solver.Backend, error) {
		return &stubBackend{
			name: "stub",
			integrate: func(ctx context.Context, y0 []float64, span solver.Span) (*solver.Trajectory, error) {
				select {
				case <-release:
					y := append([]float64(nil), y0...)
					return &solver.Trajectory{
						Times:  []float64{span.T0, span.Tf},
						States: [][]float64{y, append([]float64(nil), y...)},
					}, nil
				case <-ctx.Done():
					return &solver.Trajectory{}, ctx.Err()
				}
			},
		}, nil
	}
}

func collectEvents(ch <-chan notify.Event, timeout time.Duration) []notify.Event {
	var evs []notify.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return evs
			}
			evs = append(evs, ev)
		case <-deadline:
			return evs
		}
	}
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx    context.Context
		store  *job.MemoryStore
		bus    *notify.Bus
		logger *slog.Logger
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = job.NewMemoryStore()
		bus = notify.NewBus()
		logger = slog.New(slog.NewTextHandler(GinkgoWriter, nil))
	})

	newOrch := func(cfg orchestrator.Config, opts ...orchestrator.Option) *orchestrator.Orchestrator {
		orc := orchestrator.New(cfg, store, bus, logger, opts...)
		orc.Start()
		DeferCleanup(func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			Expect(orc.Close(closeCtx)).To(Succeed())
		})
		return orc
	}

	stateOf := func(orc *orchestrator.Orchestrator, id string) func() job.State {
		return func() job.State {
			rec, err := orc.Status(ctx, id)
			if err != nil {
				return ""
			}
			return rec.State
		}
	}

	Describe("submitting a vector system", func() {
		It("integrates every initial condition and finishes", func() {
			orc := newOrch(orchestrator.Config{Workers: 2})

			rec, err := orc.Submit(ctx, orchestrator.SubmitRequest{
				Source:       "{D(x), D(y)} == {x - y, x*y}",
				InitialConds: [][]float64{{1, 0}, {0.5, 0.5}},
				Span:         solver.Span{T0: 0, Tf: 10},
				Options:      solver.Options{Points: 101},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.State).To(Equal(job.StateQueued))
			Expect(rec.Solver).To(Equal("rk45"))

			Eventually(stateOf(orc, rec.ID)).WithTimeout(10 * time.Second).Should(Equal(job.StateFinished))

			final, err := orc.Result(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(final.FinishedAt).NotTo(BeNil())
			Expect(final.Result).NotTo(BeNil())
			Expect(final.Result.Times).To(HaveLen(101))
			Expect(final.Result.Times[0]).To(Equal(0.0))
			Expect(final.Result.Times[100]).To(Equal(10.0))
			Expect(final.Result.Trajectories).To(HaveLen(2))

			for i, traj := range final.Result.Trajectories {
				Expect(traj).To(HaveLen(101))
				Expect(traj[0]).To(Equal([]float64{rec.InitialConds[i][0], rec.InitialConds[i][1]}))
			}
			for i := 1; i < len(final.Result.Times); i++ {
				Expect(final.Result.Times[i]).To(BeNumerically(">", final.Result.Times[i-1]))
			}
		})

		It("finishes a zero-initial-condition job immediately with a warning", func() {
			orc := newOrch(orchestrator.Config{})

			rec, err := orc.Submit(ctx, orchestrator.SubmitRequest{
				Source: "D(x) == -x",
				Span:   solver.Span{T0: 0, Tf: 1},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.State).To(Equal(job.StateFinished))
			Expect(rec.Result.Warnings).To(HaveLen(1))
			Expect(rec.Result.Trajectories).To(BeEmpty())

			// result query is idempotent
			for range 2 {
				final, err := orc.Result(ctx, rec.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(final.State).To(Equal(job.StateFinished))
			}
		})
	})

	Describe("validation", func() {
		var orc *orchestrator.Orchestrator

		BeforeEach(func() {
			orc = newOrch(orchestrator.Config{})
		})

		It("rejects malformed equation text without creating a job", func() {
			_, err := orc.Submit(ctx, orchestrator.SubmitRequest{
				Source:       "D(x) == x +",
				InitialConds: [][]float64{{1}},
				Span:         solver.Span{T0: 0, Tf: 1},
			})
			Expect(err).To(HaveOccurred())

			recs, err := orc.Jobs(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(BeEmpty())
		})

		It("rejects unresolved identifiers", func() {
			_, err := orc.Submit(ctx, orchestrator.SubmitRequest{
				Source:       "{D(x)} == {x + z}",
				InitialConds: [][]float64{{1}},
				Span:         solver.Span{T0: 0, Tf: 1},
			})
			var uerr *ode.UnknownIdentifierError
			Expect(errors.As(err, &uerr)).To(BeTrue())
			Expect(uerr.Name).To(Equal("z"))
		})

		It("rejects initial conditions of the wrong dimension", func() {
			_, err := orc.Submit(ctx, orchestrator.SubmitRequest{
				Source:       "{D(x), D(y)} == {y, -x}",
				InitialConds: [][]float64{{1, 0}, {1}},
				Span:         solver.Span{T0: 0, Tf: 1},
			})
			var derr *orchestrator.DimensionMismatchError
			Expect(errors.As(err, &derr)).To(BeTrue())
			Expect(derr.Index).To(Equal(1))
			Expect(derr.Expected).To(Equal(2))
			Expect(derr.Actual).To(Equal(1))
		})

		It("rejects a span whose end precedes its start", func() {
			_, err := orc.Submit(ctx, orchestrator.SubmitRequest{
				Source:       "D(x) == -x",
				InitialConds: [][]float64{{1}},
				Span:         solver.Span{T0: 5, Tf: 0},
			})
			Expect(err).To(MatchError(orchestrator.ErrInvalidSpan))
		})

		It("rejects an unknown solver name", func() {
			_, err := orc.Submit(ctx, orchestrator.SubmitRequest{
				Source:       "D(x) == -x",
				InitialConds: [][]float64{{1}},
				Span:         solver.Span{T0: 0, Tf: 1},
				Solver:       "euler",
			})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("queue saturation", func() {
		var (
			release chan struct{}
			orc     *orchestrator.Orchestrator
		)

		// One worker and a one-slot queue: a blocker job with two
		// initial conditions pins the worker and fills the queue, so
		// the next job's requests land in the backlog.
		submitBlockerAndTarget := func() (blocker, target *job.Record) {
			var err error
			blocker, err = orc.Submit(ctx, orchestrator.SubmitRequest{
				Source:       "D(x) == -x",
				InitialConds: [][]float64{{1}, {2}},
				Span:         solver.Span{T0: 0, Tf: 1},
				Solver:       "stub",
			})
			Expect(err).NotTo(HaveOccurred())

			target, err = orc.Submit(ctx, orchestrator.SubmitRequest{
				Source:       "D(x) == -x",
				InitialConds: [][]float64{{3}, {4}},
				Span:         solver.Span{T0: 0, Tf: 1},
				Solver:       "stub",
			})
			Expect(err).NotTo(HaveOccurred())
			return blocker, target
		}

		BeforeEach(func() {
			release = make(chan struct{})
			orc = newOrch(
				orchestrator.Config{Workers: 1, QueueDepth: 1, RequeueInterval: 10 * time.Millisecond},
				orchestrator.WithBackendResolver(blockingResolver(release)),
			)
			DeferCleanup(func() {
				select {
				case <-release:
				default:
					close(release)
				}
			})
		})

		It("keeps a saturated job queued and runs it when capacity frees", func() {
			_, target := submitBlockerAndTarget()

			Consistently(stateOf(orc, target.ID)).
				WithTimeout(200 * time.Millisecond).
				Should(Equal(job.StateQueued))

			ch, cancel := orc.Subscribe(target.ID)
			defer cancel()

			close(release)
			Eventually(stateOf(orc, target.ID)).WithTimeout(5 * time.Second).Should(Equal(job.StateFinished))

			evs := collectEvents(ch, time.Second)
			Expect(evs).NotTo(BeEmpty())
			Expect(evs[0].Kind).To(Equal(notify.KindStatusChanged))
			Expect(evs[0].State).To(Equal(job.StateRunning))
			Expect(evs[len(evs)-1].Kind).To(Equal(notify.KindJobFinished))
			Expect(evs[len(evs)-1].Result).NotTo(BeNil())

			var trajEvents int
			lastFraction := 0.0
			for _, ev := range evs {
				switch ev.Kind {
				case notify.KindTrajectoryCompleted:
					trajEvents++
					Expect(ev.Trajectory).NotTo(BeNil())
				case notify.KindProgress:
					Expect(ev.Fraction).To(BeNumerically(">=", lastFraction))
					lastFraction = ev.Fraction
				}
			}
			Expect(trajEvents).To(Equal(2))
			Expect(lastFraction).To(Equal(1.0))
		})

		It("cancels a queued job immediately, skipping every request", func() {
			_, target := submitBlockerAndTarget()

			Expect(orc.Cancel(ctx, target.ID)).To(Succeed())
			Eventually(stateOf(orc, target.ID)).WithTimeout(time.Second).Should(Equal(job.StateCancelled))

			final, err := orc.Result(ctx, target.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(final.Result).To(BeNil())
			Expect(final.FinishedAt).NotTo(BeNil())

			// the stream is already closed for late subscribers
			ch, cancel := orc.Subscribe(target.ID)
			defer cancel()
			Eventually(ch).Should(BeClosed())
		})
	})

	Describe("cancellation while running", func() {
		It("stops in-flight integrations and resolves to cancelled", func() {
			release := make(chan struct{})
			defer close(release)
			orc := newOrch(
				orchestrator.Config{Workers: 1},
				orchestrator.WithBackendResolver(blockingResolver(release)),
			)

			rec, err := orc.Submit(ctx, orchestrator.SubmitRequest{
				Source:       "D(x) == -x",
				InitialConds: [][]float64{{1}},
				Span:         solver.Span{T0: 0, Tf: 1},
				Solver:       "stub",
			})
			Expect(err).NotTo(HaveOccurred())

			ch, cancel := orc.Subscribe(rec.ID)
			defer cancel()

			Eventually(stateOf(orc, rec.ID)).WithTimeout(time.Second).Should(Equal(job.StateRunning))
			Expect(orc.Cancel(ctx, rec.ID)).To(Succeed())
			Eventually(stateOf(orc, rec.ID)).WithTimeout(2 * time.Second).Should(Equal(job.StateCancelled))

			// cancelling again is a no-op
			Expect(orc.Cancel(ctx, rec.ID)).To(Succeed())

			evs := collectEvents(ch, time.Second)
			Expect(evs).NotTo(BeEmpty())
			last := evs[len(evs)-1]
			Expect(last.Terminal()).To(BeTrue())
			Expect(last.State).To(Equal(job.StateCancelled))
		})
	})

	Describe("failure", func() {
		It("marks the job failed on the first trajectory failure and discards siblings", func() {
			resolver := func(string) (solver.Backend, error) {
				return &stubBackend{
					name: "stub",
					integrate: func(ctx context.Context, y0 []float64, span solver.Span) (*solver.Trajectory, error) {
						if y0[0] == 2 {
							return &solver.Trajectory{}, &solver.SolveError{Kind: solver.Diverged, T: 0.5}
						}
						<-ctx.Done()
						return &solver.Trajectory{}, ctx.Err()
					},
				}, nil
			}
			orc := newOrch(
				orchestrator.Config{Workers: 2},
				orchestrator.WithBackendResolver(resolver),
			)

			rec, err := orc.Submit(ctx, orchestrator.SubmitRequest{
				Source:       "D(x) == x*x",
				InitialConds: [][]float64{{1}, {2}, {3}},
				Span:         solver.Span{T0: 0, Tf: 5},
				Solver:       "stub",
			})
			Expect(err).NotTo(HaveOccurred())

			Eventually(stateOf(orc, rec.ID)).WithTimeout(5 * time.Second).Should(Equal(job.StateFailed))

			final, err := orc.Result(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(final.Reason).To(ContainSubstring("initial condition 1"))
			Expect(final.Reason).To(ContainSubstring("diverged"))
			Expect(final.Result).To(BeNil())
		})
	})

	Describe("result readiness", func() {
		It("returns ErrNotReady until the job is terminal", func() {
			release := make(chan struct{})
			defer close(release)
			orc := newOrch(
				orchestrator.Config{Workers: 1},
				orchestrator.WithBackendResolver(blockingResolver(release)),
			)

			rec, err := orc.Submit(ctx, orchestrator.SubmitRequest{
				Source:       "D(x) == -x",
				InitialConds: [][]float64{{1}},
				Span:         solver.Span{T0: 0, Tf: 1},
				Solver:       "stub",
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = orc.Result(ctx, rec.ID)
			Expect(err).To(MatchError(orchestrator.ErrNotReady))

			_, err = orc.Result(ctx, "no-such-job")
			Expect(err).To(MatchError(job.ErrNotFound))
		})
	})

	Describe("shutdown", func() {
		It("rejects submissions after Close", func() {
			orc := orchestrator.New(orchestrator.Config{}, store, bus, logger)
			orc.Start()
			Expect(orc.Close(ctx)).To(Succeed())

			_, err := orc.Submit(ctx, orchestrator.SubmitRequest{
				Source:       "D(x) == -x",
				InitialConds: [][]float64{{1}},
				Span:         solver.Span{T0: 0, Tf: 1},
			})
			Expect(err).To(MatchError(orchestrator.ErrClosed))
		})
	})
})
