package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/rotisserie/eris"
)

// Strategy is one way of locating a browser executable.
type Strategy struct {
	Name string
	// NoSandbox launches the resolved binary with sandboxing disabled.
	NoSandbox bool
	Resolve   func(ctx context.Context) (string, error)
}

// Resolution is the executable chosen by the strategy chain.
type Resolution struct {
	Path      string
	Strategy  string
	NoSandbox bool
}

// ConfigError reports that no strategy produced a usable browser.
type ConfigError struct {
	Attempts []Attempt
}

// Attempt records why a strategy was rejected.
type Attempt struct {
	Strategy string
	Reason   string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("browser: no usable browser executable")
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "\n  - %s: %s", a.Strategy, a.Reason)
	}
	b.WriteString("\nremediation:")
	b.WriteString("\n  - set browser.executable_path (LEADGEN_BROWSER_EXECUTABLE_PATH) to a Chrome or Chromium binary")
	b.WriteString("\n  - or install chromium / google-chrome on PATH")
	b.WriteString("\n  - or set browser.allow_download=true so a headless build can be fetched")
	b.WriteString("\n  - or set crawl.fetcher=http to crawl without a browser")
	return b.String()
}

// IsConfigError reports whether err is a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// DefaultStrategies returns the resolution chain for cfg: the explicit
// operator path, a locally installed browser, then a downloaded build.
func DefaultStrategies(cfg Config) []Strategy {
	return []Strategy{
		{
			Name:      "configured path",
			NoSandbox: cfg.NoSandbox,
			Resolve: func(context.Context) (string, error) {
				if cfg.ExecutablePath == "" {
					return "", eris.New("browser.executable_path not set")
				}
				info, err := os.Stat(cfg.ExecutablePath)
				if err != nil {
					return "", eris.Wrapf(err, "stat %s", cfg.ExecutablePath)
				}
				if info.IsDir() {
					return "", eris.Errorf("%s is a directory", cfg.ExecutablePath)
				}
				return cfg.ExecutablePath, nil
			},
		},
		{
			Name:      "local install",
			NoSandbox: true,
			Resolve: func(context.Context) (string, error) {
				path, ok := launcher.LookPath()
				if !ok {
					return "", eris.New("no chrome, chromium or edge found on this host")
				}
				return path, nil
			},
		},
		{
			Name:      "download",
			NoSandbox: true,
			Resolve: func(ctx context.Context) (string, error) {
				if !cfg.AllowDownload {
					return "", eris.New("download disabled (browser.allow_download=false)")
				}
				return download(ctx)
			},
		},
	}
}

// download fetches rod's pinned headless build, giving up when ctx ends.
func download(ctx context.Context) (string, error) {
	b := launcher.NewBrowser()
	b.Context = ctx

	type result struct {
		path string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := b.Get()
		ch <- result{p, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", eris.Wrap(r.err, "download headless browser")
		}
		return r.path, nil
	case <-ctx.Done():
		return "", eris.Wrap(ctx.Err(), "download headless browser")
	}
}

// resolve walks strategies in order, returning the first success or a
// ConfigError describing every failure.
func resolve(ctx context.Context, strategies []Strategy) (Resolution, error) {
	cerr := &ConfigError{}
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			cerr.Attempts = append(cerr.Attempts, Attempt{Strategy: s.Name, Reason: err.Error()})
			continue
		}
		path, err := s.Resolve(ctx)
		if err == nil && path != "" {
			return Resolution{Path: path, Strategy: s.Name, NoSandbox: s.NoSandbox}, nil
		}
		reason := "empty path"
		if err != nil {
			reason = err.Error()
		}
		cerr.Attempts = append(cerr.Attempts, Attempt{Strategy: s.Name, Reason: reason})
	}
	return Resolution{}, cerr
}
