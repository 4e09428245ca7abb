// File: internal/browser/window.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/domstorage"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sessions/api/schemas"
)

const (
	defaultNavigationTimeout = 90 * time.Second
	closeTimeout             = 10 * time.Second
)

// window is one launched browser process with a single isolated page.
type window struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	mu               sync.Mutex
	pageCtx          context.Context
	pageCancel       context.CancelFunc
	browserContextID cdp.BrowserContextID
	targetID         target.ID

	logger     *zap.Logger
	navTimeout time.Duration
	origins    *originSet

	done        chan struct{}
	doneOnce    sync.Once
	releaseOnce sync.Once
}

var _ schemas.BrowserWindow = (*window)(nil)

var errWindowClosed = errors.New("browser window is closed")

func (w *window) page() (context.Context, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pageCtx == nil || w.pageCtx.Err() != nil {
		return nil, errWindowClosed
	}
	return w.pageCtx, nil
}

// run executes actions on the page, bounded by both the page lifetime and ctx.
func (w *window) run(ctx context.Context, actions ...chromedp.Action) error {
	pageCtx, err := w.page()
	if err != nil {
		return err
	}
	runCtx, cancel := CombineContext(pageCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url and waits for the load event.
func (w *window) Navigate(ctx context.Context, url string) error {
	timeout := w.navTimeout
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	w.origins.add(url)
	w.logger.Debug("Navigating.", zap.String("url", url))
	if err := w.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// StorageState reads every cookie in the isolated browser context and the localStorage of
// each origin the page has visited.
func (w *window) StorageState(ctx context.Context) (*schemas.AuthenticatedState, error) {
	pageCtx, err := w.page()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	browserContextID := w.browserContextID
	w.mu.Unlock()

	state := &schemas.AuthenticatedState{
		Cookies: []schemas.Cookie{},
		Origins: []schemas.OriginStorage{},
	}

	// 1. Cookies, scoped to our browser context. Storage.getCookies is a browser-level command.
	var cookies []*network.Cookie
	err = w.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		browserExec := cdp.WithExecutor(c, chromedp.FromContext(pageCtx).Browser)
		var err error
		cookies, err = storage.GetCookies().WithBrowserContextID(browserContextID).Do(browserExec)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	state.Cookies = toCookies(cookies)

	// 2. localStorage per visited origin through the DOMStorage domain.
	read := make(map[string]bool)
	if err := w.run(ctx, domstorage.Enable()); err != nil {
		w.logger.Debug("DOMStorage domain unavailable; falling back to script evaluation.", zap.Error(err))
	} else {
		for _, origin := range w.origins.snapshot() {
			var items []domstorage.Item
			err := w.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
				var err error
				items, err = domstorage.GetDOMStorageItems(&domstorage.StorageID{
					SecurityOrigin: origin,
					IsLocalStorage: true,
				}).Do(c)
				return err
			}))
			if err != nil {
				w.logger.Debug("Could not read localStorage for origin.", zap.String("origin", origin), zap.Error(err))
				continue
			}
			read[origin] = true
			if len(items) > 0 {
				state.Origins = append(state.Origins, schemas.OriginStorage{Origin: origin, LocalStorage: toEntries(items)})
			}
		}
	}

	// 3. The current document is always readable from script.
	var current jsStorageResult
	if err := w.run(ctx, chromedp.Evaluate(jsLocalStorage, &current)); err != nil {
		w.logger.Warn("Could not read localStorage of the current page.", zap.Error(err))
	} else if origin, ok := originOf(current.Origin); ok && !read[origin] && len(current.Entries) > 0 {
		state.Origins = append(state.Origins, schemas.OriginStorage{Origin: origin, LocalStorage: current.Entries})
	}

	return state, nil
}

// Close shuts the browser down gracefully, then kills whatever is left. It is idempotent.
func (w *window) Close(ctx context.Context) error {
	var err error
	w.releaseOnce.Do(func() {
		err = w.shutdown(ctx)
	})
	return err
}

func (w *window) shutdown(ctx context.Context) error {
	defer w.markDone()
	defer w.allocCancel()

	w.mu.Lock()
	pageCancel := w.pageCancel
	w.mu.Unlock()
	if pageCancel != nil {
		pageCancel()
	}

	closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- chromedp.Cancel(w.browserCtx) }()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Debug("Browser did not shut down cleanly.", zap.Error(err))
		}
	case <-closeCtx.Done():
		w.logger.Warn("Timed out waiting for the browser to exit; killing it.")
		w.browserCancel()
		<-errc
	}
	w.browserCancel()
	w.logger.Debug("Browser released.")
	return nil
}

// release tears everything down without waiting on a graceful exit. Used on launch failure.
func (w *window) release() {
	w.releaseOnce.Do(func() {
		w.mu.Lock()
		pageCancel := w.pageCancel
		w.mu.Unlock()
		if pageCancel != nil {
			pageCancel()
		}
		w.browserCancel()
		w.allocCancel()
		w.markDone()
	})
}

// Done is closed once the browser has gone away.
func (w *window) Done() <-chan struct{} {
	return w.done
}

func (w *window) markDone() {
	w.doneOnce.Do(func() { close(w.done) })
}
