package provider

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgen/internal/model"
)

// Report is the outcome of one provider.
type Report struct {
	Kind     model.ProviderKind
	Started  bool
	Degraded bool
	Err      error
	Elapsed  time.Duration
}

// Summary collects the reports of one orchestration, in provider order.
type Summary struct {
	Reports []Report
}

// Started counts providers that got past start-up.
func (s Summary) Started() int {
	n := 0
	for _, r := range s.Reports {
		if r.Started {
			n++
		}
	}
	return n
}

// Failed lists providers that could not start or ended with an error.
func (s Summary) Failed() []model.ProviderKind {
	var out []model.ProviderKind
	for _, r := range s.Reports {
		if r.Err != nil {
			out = append(out, r.Kind)
		}
	}
	return out
}

// Degraded reports whether any provider ran without crawling.
func (s Summary) Degraded() bool {
	for _, r := range s.Reports {
		if r.Degraded {
			return true
		}
	}
	return false
}

// Factory starts a provider. New is the production factory.
type Factory func(ctx context.Context, kind model.ProviderKind, env *Env) (Provider, error)

// Orchestrator runs a job's enabled providers concurrently. A provider's
// error or panic is recorded against the job and never stops its siblings.
type Orchestrator struct {
	env     *Env
	factory Factory
}

// NewOrchestrator creates an Orchestrator using New as its factory.
func NewOrchestrator(env *Env) *Orchestrator {
	return &Orchestrator{env: env, factory: New}
}

// WithFactory replaces the provider factory.
func (o *Orchestrator) WithFactory(f Factory) *Orchestrator {
	o.factory = f
	return o
}

// Run executes every enabled provider and waits for all of them.
func (o *Orchestrator) Run(ctx context.Context) Summary {
	kinds := o.env.Job.Providers.Kinds()
	reports := make([]Report, len(kinds))

	var g errgroup.Group
	for i, kind := range kinds {
		g.Go(func() error {
			reports[i] = o.runOne(ctx, kind)
			return nil
		})
	}
	_ = g.Wait()
	return Summary{Reports: reports}
}

func (o *Orchestrator) runOne(ctx context.Context, kind model.ProviderKind) (rep Report) {
	rep.Kind = kind
	rec := o.env.Recorder
	log := zap.L().With(zap.String("job_id", o.env.Job.ID), zap.String("provider", string(kind)))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			rep.Err = eris.Errorf("panic: %v", r)
			log.Error("provider: panic recovered", zap.Any("panic", r), zap.Stack("stack"))
		}
		rep.Elapsed = time.Since(start)
		if rep.Err != nil {
			rec.Add(model.Counters{Errors: 1})
			rec.Log(model.LogError, kind, rep.Err.Error())
			log.Warn("provider: failed", zap.Error(rep.Err), zap.Duration("elapsed", rep.Elapsed))
			return
		}
		log.Info("provider: finished", zap.Bool("degraded", rep.Degraded), zap.Duration("elapsed", rep.Elapsed))
	}()

	p, err := o.factory(ctx, kind, o.env)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Started = true
	defer p.Close()

	rec.Log(model.LogInfo, kind, "started")
	if err := p.Run(ctx); err != nil {
		rep.Err = eris.Wrapf(err, "provider %s", kind)
	}
	rep.Degraded = p.Degraded()
	return rep
}
