// Package browser manages headless browser processes and the pages opened
// on them. Executable discovery falls back through several strategies so a
// missing local install degrades into a clear configuration error.
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultUserAgent is a current desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"

// Config holds browser launch and page defaults.
type Config struct {
	ExecutablePath    string
	AllowDownload     bool
	Headless          bool
	NoSandbox         bool
	UserAgent         string
	AcceptLanguage    string
	ActionTimeout     time.Duration
	NavigationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = "en-US"
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 15 * time.Second
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	return c
}

// Process is a started browser. Release kills it and removes its profile
// directory; it may be nil.
type Process struct {
	ControlURL string
	Release    func()
}

// LaunchFunc starts a browser binary.
type LaunchFunc func(ctx context.Context, res Resolution, headless bool) (Process, error)

// Manager resolves, launches and connects to browsers.
type Manager struct {
	cfg        Config
	strategies []Strategy
	launch     LaunchFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithStrategies replaces the executable resolution chain.
func WithStrategies(s ...Strategy) Option {
	return func(m *Manager) { m.strategies = s }
}

// WithLaunchFunc replaces the process launcher.
func WithLaunchFunc(fn LaunchFunc) Option {
	return func(m *Manager) { m.launch = fn }
}

// NewManager creates a Manager with the default resolution chain.
func NewManager(cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{cfg: cfg, strategies: DefaultStrategies(cfg), launch: launchProcess}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Config returns the effective configuration after defaults.
func (m *Manager) Config() Config { return m.cfg }

// Resolve runs the executable resolution chain without launching.
func (m *Manager) Resolve(ctx context.Context) (Resolution, error) {
	return resolve(ctx, m.strategies)
}

// Launch resolves an executable, starts it and connects. Resolution
// failures are returned as *ConfigError.
func (m *Manager) Launch(ctx context.Context) (*Session, error) {
	res, err := resolve(ctx, m.strategies)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("strategy", res.Strategy), zap.String("path", res.Path))
	proc, err := m.launch(ctx, res, m.cfg.Headless)
	if err != nil {
		return nil, eris.Wrapf(err, "browser: launch %s", res.Path)
	}

	b := rod.New().ControlURL(proc.ControlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		if proc.Release != nil {
			proc.Release()
		}
		return nil, eris.Wrap(err, "browser: connect")
	}
	log.Info("browser: launched")

	return &Session{browser: b, cfg: m.cfg, release: proc.Release}, nil
}

func launchProcess(_ context.Context, res Resolution, headless bool) (Process, error) {
	l := launcher.New().
		Bin(res.Path).
		Headless(headless).
		NoSandbox(res.NoSandbox).
		Set("disable-dev-shm-usage").
		Set("disable-gpu")
	// Cleanup waits for the process to exit, so it only runs once one was started.
	release := func() {
		if l.PID() == 0 {
			return
		}
		l.Kill()
		l.Cleanup()
	}
	u, err := l.Launch()
	if err != nil {
		release()
		return Process{}, err
	}
	return Process{ControlURL: u, Release: release}, nil
}

// Session is a connected browser process.
type Session struct {
	browser *rod.Browser
	cfg     Config
	release func()

	once sync.Once
}

// NewPage opens a blank page with the session's user agent, language and
// timeouts applied.
func (s *Session) NewPage(ctx context.Context) (*Page, error) {
	if s == nil || s.browser == nil {
		return nil, eris.New("browser: session not launched")
	}
	p, err := s.browser.Context(ctx).Page(protoBlank())
	if err != nil {
		return nil, eris.Wrap(err, "browser: open page")
	}
	page, err := newPage(p, s.cfg)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return page, nil
}

// Close shuts the browser down. It is safe to call more than once and
// never reports an error.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				zap.L().Debug("browser: close", zap.Error(err))
			}
		}
		if s.release != nil {
			s.release()
		}
	})
}
