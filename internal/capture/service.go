// File: internal/capture/service.go
package capture

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sessions/api/schemas"
	"github.com/xkilldash9x/scalpel-sessions/internal/config"
	"github.com/xkilldash9x/scalpel-sessions/internal/observability"
)

// releaseTimeout bounds how long tearing down a browser may take.
const releaseTimeout = 15 * time.Second

// Termination reasons, used in logs.
const (
	reasonCaptured     = "captured"
	reasonCancelled    = "cancelled"
	reasonTimeout      = "timeout"
	reasonWindowClosed = "window_closed"
	reasonShutdown     = "shutdown"
)

// StartOptions tunes a single capture.
type StartOptions struct {
	// Timeout overrides the configured capture timeout when positive.
	Timeout time.Duration
}

// active is the one capture the service owns. Whoever claims it (under Service.mu)
// performs the teardown; everyone else finds it finishing. It keeps the slot occupied
// until its browser has been released.
type active struct {
	session   schemas.CaptureSession
	window    schemas.BrowserWindow
	timer     *time.Timer
	done      chan struct{}
	finishing bool
}

// Service drives the manual login workflow: launch a visible browser, wait for the
// operator to log in, then capture and persist the authenticated state.
type Service struct {
	launcher schemas.BrowserLauncher
	saver    schemas.SessionSaver
	cfg      config.CaptureConfig
	log      *zap.Logger

	mu        sync.Mutex
	current   *active
	launching bool
	closed    bool
	watchers  sync.WaitGroup

	now func() time.Time
}

// New creates a capture service. The launcher and saver are injected so tests can swap in fakes.
func New(cfg config.CaptureConfig, launcher schemas.BrowserLauncher, saver schemas.SessionSaver, logger *zap.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultCaptureTimeout
	}
	return &Service{
		launcher: launcher,
		saver:    saver,
		cfg:      cfg,
		log:      logger.Named("capture"),
		now:      time.Now,
	}
}

// StartLogin opens a visible browser on loginURL and arms the capture timeout.
func (s *Service) StartLogin(ctx context.Context, loginURL string, opts StartOptions) (*schemas.CaptureSession, error) {
	// 1. Environment gate.
	if !s.cfg.AllowHeaded {
		return nil, newError(CodeHeadlessEnvironment, nil,
			"visible browsers are disabled; set %s=true to allow manual login capture", config.AllowHeadedEnv)
	}

	// 2. Only web URLs ever reach the browser.
	loginURL = strings.TrimSpace(loginURL)
	if err := validateLoginURL(loginURL); err != nil {
		return nil, newError(CodeNavigationFailed, err, "refusing to open %q", loginURL)
	}

	// 3. Reserve the single slot for the duration of the launch.
	if err := s.reserve(); err != nil {
		return nil, err
	}
	reserved := true
	defer func() {
		if reserved {
			s.unreserve()
		}
	}()

	// 4. Launch and navigate, releasing the browser on any failure.
	window, err := s.launcher.Launch(ctx, schemas.LaunchOptions{})
	if err != nil {
		return nil, newError(CodeBrowserLaunchFailed, err, "failed to launch browser")
	}
	if err := window.Navigate(ctx, loginURL); err != nil {
		s.closeWindow(ctx, window)
		return nil, newError(CodeNavigationFailed, err, "failed to open login page")
	}

	// 5. Publish the session and arm the timeout.
	timeout := s.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	a := &active{
		session: schemas.CaptureSession{
			ID:        uuid.NewString(),
			LoginURL:  loginURL,
			StartedAt: s.now().UTC(),
			Status:    schemas.CaptureWaitingForLogin,
		},
		window: window,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.launching = false
	reserved = false
	if s.closed {
		s.mu.Unlock()
		s.closeWindow(ctx, window)
		return nil, newError(CodeBrowserLaunchFailed, nil, "capture service is shutting down")
	}
	s.current = a
	id := a.session.ID
	a.timer = time.AfterFunc(timeout, func() { s.terminate(id, reasonTimeout) })
	s.watchers.Add(1)
	s.mu.Unlock()

	go s.watch(a)

	s.log.Info("Waiting for operator login.",
		zap.String("capture_id", id),
		zap.String("login_url", loginURL),
		zap.Duration("timeout", timeout))
	session := a.session
	return &session, nil
}

func (s *Service) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return newError(CodeBrowserLaunchFailed, nil, "capture service is shutting down")
	case s.current != nil && s.current.finishing:
		return newError(CodeBrowserLaunchFailed, nil,
			"capture session %s is still finishing; try again once it has ended", s.current.session.ID)
	case s.current != nil:
		return newError(CodeBrowserLaunchFailed, nil,
			"capture session %s is already active; capture or cancel it first", s.current.session.ID)
	case s.launching:
		return newError(CodeBrowserLaunchFailed, nil, "another capture session is being started")
	}
	s.launching = true
	return nil
}

func (s *Service) unreserve() {
	s.mu.Lock()
	s.launching = false
	s.mu.Unlock()
}

// watch ends the capture if the operator closes the browser window.
func (s *Service) watch(a *active) {
	defer s.watchers.Done()
	select {
	case <-a.window.Done():
		s.terminate(a.session.ID, reasonWindowClosed)
	case <-a.done:
	}
}

// CaptureSession reads the live authenticated state and saves it under name. The browser
// is released whether or not the save succeeds.
func (s *Service) CaptureSession(ctx context.Context, id, name, passphrase string) (*schemas.SessionRecord, error) {
	a := s.claim(id)
	if a == nil {
		return nil, newError(CodeSessionNotFound, nil, "no active capture session %q", id)
	}

	reason := reasonCancelled
	defer func() { s.release(ctx, a, reason) }()

	state, err := a.window.StorageState(ctx)
	if err != nil {
		return nil, newError(CodeCaptureFailed, err, "failed to read browser state")
	}

	record, err := s.saver.Save(ctx, name, state, passphrase, schemas.SaveOptions{})
	if err != nil {
		return nil, newError(CodeSaveFailed, err, "failed to save captured session")
	}

	reason = reasonCaptured
	s.log.Info("Authenticated state captured.", zap.String("capture_id", id), observability.Record(record), observability.StateSummary(state))
	return record, nil
}

// CancelLogin ends the capture without saving. Unknown or already finished ids are ignored.
func (s *Service) CancelLogin(ctx context.Context, id string) {
	if a := s.claim(id); a != nil {
		s.release(ctx, a, reasonCancelled)
	}
}

// GetActiveSession returns a copy of the in-flight capture, if any. A capture that is
// being saved or torn down is still reported until its browser is gone.
func (s *Service) GetActiveSession() (*schemas.CaptureSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, false
	}
	session := s.current.session
	return &session, true
}

// Done returns a channel that is closed when the capture with the given id reaches a
// terminal state, by any path. The bool is false when id is not the active capture.
func (s *Service) Done(id string) (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.session.ID != id {
		return nil, false
	}
	return s.current.done, true
}

// Shutdown cancels any active capture, refuses new ones and waits for background
// watchers and in-flight teardowns to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	var id string
	if s.current != nil && !s.current.finishing {
		id = s.current.session.ID
	}
	s.mu.Unlock()

	if id != "" {
		s.terminate(id, reasonShutdown)
	}

	waited := make(chan struct{})
	go func() {
		s.watchers.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// claim performs the terminal transition: it marks the capture finishing, stops the
// timer and signals Done. Exactly one caller per capture gets a non-nil result, and that
// caller must hand it to release, which frees the slot.
func (s *Service) claim(id string) *active {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.current
	if a == nil || a.session.ID != id || a.finishing {
		return nil
	}
	a.finishing = true
	a.timer.Stop()
	close(a.done)
	// Shutdown waits for the teardown. The watcher still holds the group, so it is non-zero here.
	s.watchers.Add(1)
	return a
}

func (s *Service) terminate(id, reason string) {
	if a := s.claim(id); a != nil {
		s.release(context.Background(), a, reason)
	}
}

// release closes the browser of a claimed capture and then frees the slot. It runs once
// per capture because only the claimer calls it.
func (s *Service) release(ctx context.Context, a *active, reason string) {
	defer s.watchers.Done()

	s.closeWindow(ctx, a.window)

	s.mu.Lock()
	if reason == reasonCaptured {
		a.session.Status = schemas.CaptureCaptured
	} else {
		a.session.Status = schemas.CaptureCancelled
	}
	if s.current == a {
		s.current = nil
	}
	s.mu.Unlock()

	s.log.Info("Capture session ended.",
		zap.String("capture_id", a.session.ID),
		zap.String("status", string(a.session.Status)),
		zap.String("reason", reason),
		zap.Duration("elapsed", s.now().Sub(a.session.StartedAt)))
}

func (s *Service) closeWindow(ctx context.Context, window schemas.BrowserWindow) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := window.Close(closeCtx); err != nil {
		s.log.Warn("Failed to close browser cleanly.", zap.Error(err))
	}
}

// validateLoginURL accepts absolute http and https URLs with a host.
func validateLoginURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.New("only http and https URLs are allowed")
	}
	if u.Host == "" {
		return errors.New("URL has no host")
	}
	return nil
}
