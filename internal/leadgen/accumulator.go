package leadgen

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/provider"
)

// Accumulator is the single accumulation point of a running job. Every
// provider reports through it, so the final counters are the exact sum of
// their contributions. Once sealed it ignores further writes.
type Accumulator struct {
	mu        sync.Mutex
	limits    model.Limits
	counters  model.Counters
	logs      []model.LogEntry
	companies map[string]bool
	emails    map[string]bool
	sealed    bool
	dirty     bool
	stopped   atomic.Bool
	now       func() time.Time
}

var _ provider.Recorder = (*Accumulator)(nil)

// NewAccumulator starts from the job's persisted counters and logs.
func NewAccumulator(job *model.Job) *Accumulator {
	return &Accumulator{
		limits:    job.ICP.Limits,
		counters:  job.Counters,
		logs:      slices.Clone(job.Logs),
		companies: make(map[string]bool),
		emails:    make(map[string]bool),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AdmitCompany reserves a company slot. The budget is checked before the
// slot is taken, so CompaniesFound never exceeds MaxCompanies.
func (a *Accumulator) AdmitCompany(domain string) bool {
	domain = strings.ToLower(domain)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed || a.stopped.Load() || a.companies[domain] || a.counters.CompaniesFound >= a.limits.MaxCompanies {
		return false
	}
	a.companies[domain] = true
	a.counters.CompaniesFound++
	a.dirty = true
	return true
}

// AdmitContact reserves an address across all providers of the job.
func (a *Accumulator) AdmitContact(email string) bool {
	email = strings.ToLower(email)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed || a.stopped.Load() || a.emails[email] {
		return false
	}
	a.emails[email] = true
	return true
}

func (a *Accumulator) Exhausted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters.CompaniesFound >= a.limits.MaxCompanies
}

func (a *Accumulator) Stopped() bool { return a.stopped.Load() }

// Stop halts admission of new work. In-flight work still reports.
func (a *Accumulator) Stop() {
	if a.stopped.CompareAndSwap(false, true) {
		a.Log(model.LogWarn, "", "cancellation requested, no new work will be admitted")
	}
}

func (a *Accumulator) Add(delta model.Counters) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return
	}
	a.counters = a.counters.Add(delta)
	a.dirty = true
}

func (a *Accumulator) Log(level model.LogLevel, kind model.ProviderKind, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return
	}
	a.logs = append(a.logs, model.LogEntry{Time: a.now(), Level: level, Provider: kind, Message: msg})
	a.dirty = true
}

// Snapshot returns the current counters and a copy of the logs.
func (a *Accumulator) Snapshot() (model.Counters, []model.LogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters, slices.Clone(a.logs)
}

// flush returns a snapshot when anything changed since the last flush.
func (a *Accumulator) flush() (model.Counters, []model.LogEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.dirty || a.sealed {
		return model.Counters{}, nil, false
	}
	a.dirty = false
	return a.counters, slices.Clone(a.logs), true
}

// Seal appends a final log line and freezes the accumulator, returning the
// terminal counters and logs.
func (a *Accumulator) Seal(level model.LogLevel, msg string) (model.Counters, []model.LogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.sealed {
		a.logs = append(a.logs, model.LogEntry{Time: a.now(), Level: level, Message: msg})
		a.sealed = true
	}
	return a.counters, slices.Clone(a.logs)
}

// Sealed reports whether Seal has been called.
func (a *Accumulator) Sealed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sealed
}
