// Package techdetect fingerprints the technology stack of a crawled page
// from its HTML, asset URLs and response headers.
package techdetect

import (
	"encoding/json"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// MaxHTMLChars bounds how much of a page's HTML is scanned.
const MaxHTMLChars = 200_000

// Snapshot is the page material the detector inspects.
type Snapshot struct {
	HTML       string
	ScriptURLs []string
	LinkURLs   []string
	Headers    map[string]string
}

// Table maps a technology name to the substrings that reveal it.
type Table map[string][]string

// Detector matches snapshots against a fixed signature table.
type Detector struct {
	names []string
	sigs  map[string][]string
}

// New builds a Detector. Signatures are lower-cased; empty ones are dropped.
func New(table Table) *Detector {
	d := &Detector{sigs: make(map[string][]string, len(table))}
	for name, patterns := range table {
		var clean []string
		for _, p := range patterns {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" {
				clean = append(clean, p)
			}
		}
		if len(clean) == 0 {
			continue
		}
		d.names = append(d.names, name)
		d.sigs[name] = clean
	}
	slices.Sort(d.names)
	return d
}

// Len returns the number of technologies the detector knows about.
func (d *Detector) Len() int { return len(d.names) }

// Detect returns the sorted set of technologies whose signatures appear in
// the snapshot. A technology is reported on its first matching signature.
func (d *Detector) Detect(s Snapshot) []string {
	haystacks := prepare(s)
	found := []string{}
	for _, name := range d.names {
		if matchesAny(d.sigs[name], haystacks) {
			found = append(found, name)
		}
	}
	return found
}

func matchesAny(patterns, haystacks []string) bool {
	for _, p := range patterns {
		for _, h := range haystacks {
			if strings.Contains(h, p) {
				return true
			}
		}
	}
	return false
}

func prepare(s Snapshot) []string {
	out := make([]string, 0, 1+len(s.ScriptURLs)+len(s.LinkURLs)+2*len(s.Headers))
	out = append(out, strings.ToLower(truncate(s.HTML, MaxHTMLChars)))
	for _, u := range s.ScriptURLs {
		out = append(out, strings.ToLower(u))
	}
	for _, u := range s.LinkURLs {
		out = append(out, strings.ToLower(u))
	}
	for k, v := range s.Headers {
		k, v = strings.ToLower(k), strings.ToLower(v)
		out = append(out, v, k+": "+v)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// LoadTable reads a JSON signature file of the form {"Name": ["sig", ...]}.
func LoadTable(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "techdetect: read %s", path)
	}
	var t Table
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, eris.Wrapf(err, "techdetect: parse %s", path)
	}
	if len(t) == 0 {
		return nil, eris.Errorf("techdetect: %s has no signatures", path)
	}
	return t, nil
}

// BuiltinTable returns a copy of the embedded fallback table.
func BuiltinTable() Table {
	t := make(Table, len(builtinSignatures))
	for k, v := range builtinSignatures {
		t[k] = slices.Clone(v)
	}
	return t
}

var (
	mu         sync.Mutex
	sigPath    string
	processDet *Detector
)

// Configure sets the signature file used by the process-wide detector and
// discards any table already loaded.
func Configure(path string) {
	mu.Lock()
	defer mu.Unlock()
	sigPath = path
	processDet = nil
}

// Invalidate forces the next Default call to reload the signature table.
func Invalidate() {
	mu.Lock()
	defer mu.Unlock()
	processDet = nil
}

// Default returns the process-wide detector, loading its table on first
// use. A missing or unreadable signature file falls back to the built-in
// table with a warning.
func Default() *Detector {
	mu.Lock()
	defer mu.Unlock()
	if processDet != nil {
		return processDet
	}

	table := BuiltinTable()
	if sigPath != "" {
		loaded, err := LoadTable(sigPath)
		if err != nil {
			zap.L().Warn("techdetect: using built-in signatures", zap.String("path", sigPath), zap.Error(err))
		} else {
			table = loaded
			zap.L().Debug("techdetect: loaded signatures", zap.String("path", sigPath), zap.Int("technologies", len(loaded)))
		}
	}
	processDet = New(table)
	return processDet
}

// Detect runs the process-wide detector.
func Detect(s Snapshot) []string {
	return Default().Detect(s)
}
