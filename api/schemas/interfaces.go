package schemas

import (
	"context"
	"time"
)

// -- Browser Capability Interfaces --

// LaunchOptions configures a single visible browser launch.
type LaunchOptions struct {
	// Timeout bounds process start-up and the initial CDP handshake.
	Timeout time.Duration
}

// BrowserLauncher starts visible, isolated browser instances that a human can drive.
// Implementations must never reuse a profile between launches.
type BrowserLauncher interface {
	Launch(ctx context.Context, opts LaunchOptions) (BrowserWindow, error)
}

// BrowserWindow is one launched browser with a single, fresh browsing context.
type BrowserWindow interface {
	// Navigate loads the URL in the window's page.
	Navigate(ctx context.Context, url string) error
	// StorageState reads the cookies and per-origin localStorage of the browsing context.
	StorageState(ctx context.Context) (*AuthenticatedState, error)
	// Close terminates the browser process. It is safe to call more than once.
	Close(ctx context.Context) error
	// Done is closed once the browser has gone away, whether through Close or because
	// the operator closed the window.
	Done() <-chan struct{}
}

// -- Session Repository Interfaces --

// SaveOptions carries the optional metadata recorded with a new session.
type SaveOptions struct {
	AutoDestroy bool
	ExpiresAt   *time.Time
}

// SessionSaver persists a captured state under a human-chosen name.
type SessionSaver interface {
	Save(ctx context.Context, name string, state *AuthenticatedState, passphrase string, opts SaveOptions) (*SessionRecord, error)
}

// SessionRepository is the full contract of the encrypted session store.
type SessionRepository interface {
	SessionSaver
	Load(ctx context.Context, id, passphrase string) (*AuthenticatedState, error)
	List(ctx context.Context) []SessionRecord
	Delete(ctx context.Context, id string) error
	GetMetadata(ctx context.Context, id string) (*SessionRecord, bool)
}
