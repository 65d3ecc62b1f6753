// Package verify checks email deliverability through a fixed sequence of
// stages (syntax, mx, catch_all, smtp), reusing cached stage outcomes
// until they age past their TTL.
package verify

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/model"
)

// Config controls which stages run and how long results stay fresh.
type Config struct {
	Enabled      bool
	Stages       []model.VerificationStage
	DomainTTL    time.Duration
	AddressTTL   time.Duration
	RetryTTL     time.Duration
	StageTimeout time.Duration
}

// DefaultConfig enables every stage with the standard freshness windows.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Stages:       slices.Clone(model.StageOrder),
		DomainTTL:    7 * 24 * time.Hour,
		AddressTTL:   24 * time.Hour,
		RetryTTL:     time.Hour,
		StageTimeout: 10 * time.Second,
	}
}

// Cache stores one record per (stage, subject). Get returns nil, nil on a miss.
type Cache interface {
	GetVerification(ctx context.Context, stage model.VerificationStage, subject string) (*model.VerificationRecord, error)
	PutVerification(ctx context.Context, rec model.VerificationRecord) error
}

// Adapters are the network-facing probes used by each stage.
type Adapters struct {
	Syntax SyntaxChecker
	MX     MXResolver
	Prober MailboxProber
	Flags  FlagChecker
}

// Stager runs verification stages for addresses.
type Stager struct {
	cfg      Config
	cache    Cache
	adapters Adapters
	now      func() time.Time
}

// Option configures a Stager.
type Option func(*Stager)

// WithNow overrides the clock used for TTL checks.
func WithNow(fn func() time.Time) Option {
	return func(s *Stager) { s.now = fn }
}

// NewStager creates a Stager. Stages listed in cfg.Stages always execute in
// the fixed syntax, mx, catch_all, smtp order regardless of listing order.
func NewStager(cfg Config, cache Cache, adapters Adapters, opts ...Option) *Stager {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 10 * time.Second
	}
	s := &Stager{cfg: cfg, cache: cache, adapters: adapters, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enabled reports whether verification is switched on.
func (s *Stager) Enabled() bool { return s.cfg.Enabled }

// Verify runs every enabled stage against address, stopping at the first
// stage that does not pass. It never returns an error: failures surface as
// fail or unknown outcomes in the result.
func (s *Stager) Verify(ctx context.Context, address string) model.VerificationResult {
	addr := strings.ToLower(strings.TrimSpace(address))
	res := model.VerificationResult{Address: addr, Stages: []model.StageResult{}}
	if !s.cfg.Enabled || len(s.cfg.Stages) == 0 {
		res.Status = model.VerificationSkipped
		return res
	}

	local, domain := splitAddress(addr)
	if f := s.adapters.Flags; f != nil && domain != "" {
		res.Disposable = f.IsDisposable(domain)
		res.RoleAccount = f.IsRoleAccount(local)
		res.FreeProvider = f.IsFreeDomain(domain)
	}

	log := zap.L().With(zap.String("address", addr))
	for _, stage := range model.StageOrder {
		if !slices.Contains(s.cfg.Stages, stage) {
			continue
		}
		sr := s.runStage(ctx, stage, addr, local, domain)
		res.Stages = append(res.Stages, sr)
		log.Debug("verify: stage complete",
			zap.String("stage", string(stage)),
			zap.String("outcome", string(sr.Outcome)),
			zap.Bool("cached", sr.Cached),
		)
		if sr.Outcome != model.OutcomePass {
			break
		}
	}

	res.Status = summarize(res.Stages)
	return res
}

func (s *Stager) runStage(ctx context.Context, stage model.VerificationStage, addr, local, domain string) model.StageResult {
	subject := addr
	if stage.DomainScoped() {
		subject = domain
	}

	rec, err := s.cache.GetVerification(ctx, stage, subject)
	if err != nil {
		zap.L().Warn("verify: cache read failed", zap.String("stage", string(stage)), zap.Error(err))
	} else if rec != nil && s.fresh(*rec) {
		return model.StageResult{Stage: stage, Outcome: rec.Outcome, Cached: true, Detail: rec.Detail}
	}

	if ctx.Err() != nil {
		return model.StageResult{Stage: stage, Outcome: model.OutcomeUnknown, Detail: "cancelled"}
	}

	outcome, detail := s.probe(ctx, stage, addr, local, domain)
	next := model.VerificationRecord{
		Stage:     stage,
		Subject:   subject,
		Outcome:   outcome,
		Detail:    detail,
		TTLClass:  ttlClass(stage, outcome),
		CheckedAt: s.now(),
	}
	if err := s.cache.PutVerification(ctx, next); err != nil {
		zap.L().Warn("verify: cache write failed", zap.String("stage", string(stage)), zap.Error(err))
	}
	return model.StageResult{Stage: stage, Outcome: outcome, Detail: detail}
}

func (s *Stager) fresh(rec model.VerificationRecord) bool {
	return s.now().Sub(rec.CheckedAt) < s.ttl(rec.TTLClass)
}

func (s *Stager) ttl(c model.TTLClass) time.Duration {
	switch c {
	case model.TTLDomain:
		return s.cfg.DomainTTL
	case model.TTLAddress:
		return s.cfg.AddressTTL
	case model.TTLRetry:
		return s.cfg.RetryTTL
	}
	return 0
}

func ttlClass(stage model.VerificationStage, o model.Outcome) model.TTLClass {
	switch {
	case o == model.OutcomeUnknown:
		return model.TTLRetry
	case stage.DomainScoped():
		return model.TTLDomain
	default:
		return model.TTLAddress
	}
}

type probeResult struct {
	outcome model.Outcome
	detail  string
}

// probe runs a single stage bounded by the stage timeout. A probe that does
// not return in time, panics, or errors yields unknown.
func (s *Stager) probe(ctx context.Context, stage model.VerificationStage, addr, local, domain string) (model.Outcome, string) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
	defer cancel()

	ch := make(chan probeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- probeResult{model.OutcomeUnknown, fmt.Sprintf("probe panic: %v", r)}
			}
		}()
		o, d := s.probeStage(pctx, stage, addr, local, domain)
		ch <- probeResult{o, d}
	}()

	select {
	case r := <-ch:
		if pctx.Err() != nil && r.outcome == model.OutcomePass {
			return model.OutcomeUnknown, "timeout"
		}
		return r.outcome, r.detail
	case <-pctx.Done():
		return model.OutcomeUnknown, "timeout"
	}
}

func (s *Stager) probeStage(ctx context.Context, stage model.VerificationStage, addr, local, domain string) (model.Outcome, string) {
	switch stage {
	case model.StageSyntax:
		if s.adapters.Syntax == nil {
			return model.OutcomeUnknown, "no syntax checker"
		}
		if err := s.adapters.Syntax.CheckSyntax(addr); err != nil {
			return model.OutcomeFail, err.Error()
		}
		return model.OutcomePass, ""

	case model.StageMX:
		if s.adapters.MX == nil {
			return model.OutcomeUnknown, "no mx resolver"
		}
		hosts, err := s.adapters.MX.LookupMX(ctx, domain)
		if IsNoMX(err) {
			return model.OutcomeFail, err.Error()
		}
		if err != nil {
			return model.OutcomeUnknown, err.Error()
		}
		if len(hosts) == 0 {
			return model.OutcomeFail, "no mx records"
		}
		return model.OutcomePass, hosts[0]

	case model.StageCatchAll:
		if s.adapters.Prober == nil {
			return model.OutcomeUnknown, "no mailbox prober"
		}
		catchAll, err := s.adapters.Prober.CatchAll(ctx, domain)
		if err != nil {
			return model.OutcomeUnknown, err.Error()
		}
		if catchAll {
			return model.OutcomeFail, "domain accepts all recipients"
		}
		return model.OutcomePass, ""

	case model.StageSMTP:
		if s.adapters.Prober == nil {
			return model.OutcomeUnknown, "no mailbox prober"
		}
		ok, err := s.adapters.Prober.Mailbox(ctx, domain, local)
		if err != nil {
			return model.OutcomeUnknown, err.Error()
		}
		if !ok {
			return model.OutcomeFail, "mailbox rejected"
		}
		return model.OutcomePass, ""
	}
	return model.OutcomeUnknown, "unknown stage"
}

func summarize(stages []model.StageResult) model.VerificationStatus {
	if len(stages) == 0 {
		return model.VerificationSkipped
	}
	last := stages[len(stages)-1]
	switch last.Outcome {
	case model.OutcomePass:
		return model.VerificationValid
	case model.OutcomeUnknown:
		return model.VerificationUnknown
	}
	if last.Stage == model.StageCatchAll {
		return model.VerificationRisky
	}
	return model.VerificationInvalid
}

func splitAddress(addr string) (local, domain string) {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return addr, ""
	}
	return addr[:at], addr[at+1:]
}
