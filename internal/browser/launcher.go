// File: internal/browser/launcher.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sessions/api/schemas"
	"github.com/xkilldash9x/scalpel-sessions/internal/config"
)

const defaultLaunchTimeout = 60 * time.Second

// Launcher starts visible Chromium instances through chromedp.
type Launcher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

var _ schemas.BrowserLauncher = (*Launcher)(nil)

// NewLauncher creates a launcher for the given browser settings.
func NewLauncher(cfg config.BrowserConfig, logger *zap.Logger) *Launcher {
	return &Launcher{cfg: cfg, logger: logger.Named("browser")}
}

// Launch starts a browser process, creates a fresh isolated browser context inside it and
// attaches to a blank page in that context. On any failure everything acquired so far
// is released before returning.
func (l *Launcher) Launch(ctx context.Context, opts schemas.LaunchOptions) (schemas.BrowserWindow, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = l.cfg.LaunchTimeout
	}
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}

	// The browser outlives the request that launched it, so it hangs off a detached
	// context and is torn down only through Close.
	base := context.WithoutCancel(ctx)
	allocCtx, allocCancel := chromedp.NewExecAllocator(base, AllocatorOptions(l.cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.logger.Sugar().Debugf),
		chromedp.WithErrorf(l.logger.Sugar().Warnf),
	)

	w := &window{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		logger:        l.logger,
		navTimeout:    l.cfg.NavigationTimeout,
		origins:       newOriginSet(),
		done:          make(chan struct{}),
	}

	success := false
	defer func() {
		if !success {
			w.release()
		}
	}()

	// 1. Start the process. The first Run on a chromedp context allocates the browser and
	// must not carry a deadline, or the deadline would later kill the browser.
	if err := l.await(ctx, timeout, w, func() error { return chromedp.Run(browserCtx) }); err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	// 2. Create an isolated browser context and a page inside it.
	if err := l.await(ctx, timeout, w, w.openIsolatedPage); err != nil {
		return nil, fmt.Errorf("failed to open isolated browsing context: %w", err)
	}

	// 3. Watch for navigation and for the operator closing the window.
	w.watch()

	success = true
	l.logger.Info("Visible browser launched.", zap.String("browser_context_id", string(w.browserContextID)))
	return w, nil
}

// await runs step in the background and gives up when ctx or the timeout expires.
// Giving up releases the window, which unblocks step.
func (l *Launcher) await(ctx context.Context, timeout time.Duration, w *window, step func() error) error {
	errc := make(chan error, 1)
	go func() { errc <- step() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-errc:
		return err
	case <-timer.C:
		w.release()
		<-errc
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		w.release()
		<-errc
		return ctx.Err()
	}
}

// openIsolatedPage creates a new browser context (an incognito-style profile partition)
// and attaches a chromedp context to a blank page in it.
func (w *window) openIsolatedPage() error {
	browserExec := cdp.WithExecutor(w.browserCtx, chromedp.FromContext(w.browserCtx).Browser)

	id, err := target.CreateBrowserContext().Do(browserExec)
	if err != nil {
		return fmt.Errorf("failed to create browser context: %w", err)
	}

	targetID, err := target.CreateTarget("about:blank").WithBrowserContextID(id).Do(browserExec)
	if err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}

	pageCtx, pageCancel := chromedp.NewContext(w.browserCtx, chromedp.WithTargetID(targetID))
	w.mu.Lock()
	w.browserContextID = id
	w.targetID = targetID
	w.pageCtx, w.pageCancel = pageCtx, pageCancel
	w.mu.Unlock()

	if err := chromedp.Run(pageCtx); err != nil {
		return fmt.Errorf("failed to attach to page: %w", err)
	}
	return nil
}

// watch wires the CDP listeners that track visited origins and detect the window going away.
func (w *window) watch() {
	gone := make(chan struct{})
	goneOnce := sync.OnceFunc(func() { close(gone) })

	chromedp.ListenTarget(w.pageCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame != nil {
				w.origins.add(e.Frame.URL)
			}
		case *inspector.EventDetached:
			w.logger.Debug("Page detached.", zap.String("reason", e.Reason.String()))
			goneOnce()
		}
	})
	chromedp.ListenBrowser(w.browserCtx, func(ev interface{}) {
		if e, ok := ev.(*target.EventTargetDestroyed); ok && e.TargetID == w.targetID {
			goneOnce()
		}
	})

	lost := chromedp.FromContext(w.browserCtx).Browser.LostConnection
	go func() {
		select {
		case <-gone:
			w.logger.Info("Browser window closed by the operator.")
		case <-lost:
			w.logger.Info("Browser process went away.")
		case <-w.browserCtx.Done():
		}
		w.markDone()
	}()
}
