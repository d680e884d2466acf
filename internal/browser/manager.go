// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applypilot/internal/config"
	"github.com/xkilldash9x/applypilot/internal/humanoid"
	"github.com/xkilldash9x/applypilot/internal/jobs"
	"github.com/xkilldash9x/applypilot/internal/page"
)

// Manager owns the Chrome process. Every Page it hands out is a tab of that process
// and must be closed by its holder.
type Manager struct {
	cfg    config.BrowserConfig
	sel    config.SelectorConfig
	ver    config.VerificationConfig
	engine config.EngineConfig
	logger *zap.Logger

	// pointer is shared by every page; nil disables mouse travel.
	pointer *humanoid.Pointer

	// allocatorCtx manages the browser process. browserCtx is its first tab and the
	// parent of every Page.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	// wg tracks open pages for a graceful shutdown.
	wg sync.WaitGroup
}

// NewManager launches the browser and checks that it responds.
func NewManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("browser manager requires a configuration")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:    cfg.Browser,
		sel:    cfg.Selectors,
		ver:    cfg.Verification,
		engine: cfg.Engine,
		logger: logger.Named("browser_manager"),
	}
	if cfg.Pointer.Enabled {
		m.pointer = humanoid.NewPointer(cfg.Pointer, 0)
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

// launchBrowser starts the browser process and waits for it to load a blank page.
func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...",
		zap.Bool("headless", m.cfg.Headless),
		zap.String("user_data_dir", m.cfg.UserDataDir))

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), DefaultAllocatorOptions(m.cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Warnf),
	)

	wait := m.cfg.LaunchWait
	if wait <= 0 {
		wait = 30 * time.Second
	}
	testCtx, cancelTest := context.WithTimeout(browserCtx, wait)
	defer cancelTest()
	stop := context.AfterFunc(ctx, cancelTest)
	defer stop()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.allocatorCtx, m.allocatorCancel = allocCtx, allocCancel
	m.browserCtx, m.browserCancel = browserCtx, browserCancel
	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// DefaultAllocatorOptions assembles the Chrome flags for cfg.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption
	for _, opt := range chromedp.DefaultExecAllocatorOptions {
		opts = append(opts, opt)
	}

	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(1366, 900),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	// Custom arguments from the configuration, with or without a value.
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}

// NewPage opens a blank tab.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	if m.browserCtx == nil || m.browserCtx.Err() != nil {
		return nil, page.ErrSessionLost
	}
	tabCtx, cancel := chromedp.NewContext(m.browserCtx)

	startCtx, cancelStart := context.WithTimeout(tabCtx, m.navigationTimeout())
	defer cancelStart()
	stop := context.AfterFunc(ctx, cancelStart)
	defer stop()
	if err := chromedp.Run(startCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	p := newPage(tabCtx, cancel, m.engine.CommitTimeout*2, m.logger.Named("page"))
	p.pointer = m.pointer
	m.wg.Add(1)
	p.onClose = m.wg.Done
	return p, nil
}

func (m *Manager) navigationTimeout() time.Duration {
	if m.cfg.NavigationTimeout > 0 {
		return m.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

// Open navigates a new tab to the job posting and presses its apply control. The
// returned Page shows the first screen of the application modal. A posting whose
// apply control already reads as applied yields jobs.ErrAlreadyApplied.
func (m *Manager) Open(ctx context.Context, job jobs.Job) (*Page, error) {
	logger := m.logger.With(zap.String("job", job.Reference))
	p, err := m.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Page, error) {
		_ = p.Close()
		return nil, err
	}

	timeout := m.navigationTimeout()
	if err := p.navigate(ctx, job.URL, timeout); err != nil {
		return fail(fmt.Errorf("failed to load %s: %w", job.URL, err))
	}

	var button page.Node
	var label string
	err = page.Poll(ctx, timeout, m.engine.PollInterval, func(ctx context.Context) (bool, error) {
		n, err := page.FirstVisible(ctx, p, m.sel.ApplyButton)
		if err != nil || n == nil {
			return false, err
		}
		button = n
		label, err = p.Text(ctx, n)
		return err == nil, err
	})
	if err != nil {
		return fail(fmt.Errorf("no apply control on %s: %w", job.URL, err))
	}
	if appliedLabel(label, m.ver.AppliedLabels) {
		logger.Info("Posting is already applied to.", zap.String("label", label))
		return fail(jobs.ErrAlreadyApplied)
	}

	logger.Debug("Pressing apply control.", zap.String("label", label))
	if err := p.Click(ctx, button); err != nil {
		return fail(fmt.Errorf("failed to press apply control: %w", err))
	}

	err = page.Poll(ctx, timeout, m.engine.PollInterval, func(ctx context.Context) (bool, error) {
		n, err := page.FirstVisible(ctx, p, m.sel.Modal)
		return n != nil, err
	})
	if err != nil {
		return fail(fmt.Errorf("application modal did not open for %s: %w", job.URL, err))
	}
	logger.Info("Application modal open.")
	return p, nil
}

// appliedLabel reports whether an apply control's label says the job was applied to.
func appliedLabel(label string, applied []string) bool {
	l := strings.ToLower(strings.Join(strings.Fields(label), " "))
	for _, a := range applied {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" && (l == a || strings.HasPrefix(l, a+" ")) {
			return true
		}
	}
	return false
}

// Shutdown waits for open pages to close, up to ctx's deadline, then stops the
// browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated. Waiting for open pages to close...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All pages closed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocatorCancel != nil {
		m.logger.Info("Shutting down main browser process...")
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}
	return nil
}
