package leadgen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgen/internal/store"
)

// Worker drains QUEUED jobs by polling the store. Ownership of a job is
// taken by the store's atomic claim, so several workers may poll the same
// store.
type Worker struct {
	ctrl     *Controller
	interval time.Duration
	limit    int

	mu       sync.Mutex
	inflight map[string]bool
}

// NewWorker creates a Worker running at most maxConcurrent jobs at a time.
func NewWorker(ctrl *Controller, interval time.Duration, maxConcurrent int) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Worker{ctrl: ctrl, interval: interval, limit: maxConcurrent, inflight: make(map[string]bool)}
}

// Run polls until ctx is done, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) error {
	log := zap.L().With(zap.Int("max_concurrent_jobs", w.limit), zap.Duration("interval", w.interval))
	log.Info("worker: started")

	g := new(errgroup.Group)
	g.SetLimit(w.limit)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		w.dispatch(ctx, g, nil)
		select {
		case <-ctx.Done():
			if n := w.ctrl.StopAll(); n > 0 {
				log.Info("worker: draining running jobs", zap.Int("jobs", n))
			}
			_ = g.Wait()
			log.Info("worker: stopped")
			return nil
		case <-t.C:
		}
	}
}

// RunOnce runs queued jobs until a pass claims nothing, and returns how
// many jobs it ran.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	var ran atomic.Int32
	for {
		before := ran.Load()
		g := new(errgroup.Group)
		g.SetLimit(w.limit)
		w.dispatch(ctx, g, &ran)
		_ = g.Wait()
		if ran.Load() == before || ctx.Err() != nil {
			return int(ran.Load()), ctx.Err()
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, g *errgroup.Group, ran *atomic.Int32) {
	jobs, err := w.ctrl.store.ListJobs(ctx, store.JobFilter{Claimable: true, Limit: w.limit * 4})
	if err != nil {
		zap.L().Warn("worker: list queued jobs", zap.Error(err))
		return
	}
	for _, j := range jobs {
		if !w.reserve(j.ID) {
			continue
		}
		id := j.ID
		if !g.TryGo(func() error {
			defer w.release(id)
			if w.runJob(ctx, id) && ran != nil {
				ran.Add(1)
			}
			return nil
		}) {
			w.release(id)
			return
		}
	}
}

// runJob reports whether the job was claimed. The job runs detached from
// ctx; shutdown reaches it through StopAll.
func (w *Worker) runJob(ctx context.Context, id string) bool {
	job, err := w.ctrl.Run(context.WithoutCancel(ctx), id)
	switch {
	case eris.Is(err, store.ErrNotClaimable), eris.Is(err, store.ErrNotFound):
		zap.L().Debug("worker: job not claimable", zap.String("job_id", id))
		return false
	case err != nil:
		zap.L().Error("worker: job run failed", zap.String("job_id", id), zap.Error(err))
		return true
	}
	zap.L().Debug("worker: job done", zap.String("job_id", id), zap.String("status", string(job.Status)))
	return true
}

func (w *Worker) reserve(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inflight[id] {
		return false
	}
	w.inflight[id] = true
	return true
}

func (w *Worker) release(id string) {
	w.mu.Lock()
	delete(w.inflight, id)
	w.mu.Unlock()
}
