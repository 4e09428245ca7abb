// File: internal/capture/fakes_test.go
package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/xkilldash9x/scalpel-sessions/api/schemas"
)

// fakeWindow stands in for a launched browser.
type fakeWindow struct {
	state       *schemas.AuthenticatedState
	stateErr    error
	navigateErr error

	mu        sync.Mutex
	navigated []string

	closes   atomic.Int32
	done     chan struct{}
	doneOnce sync.Once
}

func newFakeWindow(state *schemas.AuthenticatedState) *fakeWindow {
	return &fakeWindow{state: state, done: make(chan struct{})}
}

func (w *fakeWindow) Navigate(ctx context.Context, url string) error {
	w.mu.Lock()
	w.navigated = append(w.navigated, url)
	w.mu.Unlock()
	return w.navigateErr
}

func (w *fakeWindow) StorageState(ctx context.Context) (*schemas.AuthenticatedState, error) {
	if w.stateErr != nil {
		return nil, w.stateErr
	}
	return w.state, nil
}

func (w *fakeWindow) Close(ctx context.Context) error {
	w.closes.Add(1)
	w.doneOnce.Do(func() { close(w.done) })
	return nil
}

func (w *fakeWindow) Done() <-chan struct{} { return w.done }

// operatorClose simulates the human closing the browser window.
func (w *fakeWindow) operatorClose() {
	w.doneOnce.Do(func() { close(w.done) })
}

// fakeLauncher hands out windows built by newWindow.
type fakeLauncher struct {
	newWindow func() *fakeWindow
	launchErr error
	// gate, when set, blocks Launch until it is closed.
	gate chan struct{}

	mu       sync.Mutex
	launched []*fakeWindow
}

func (l *fakeLauncher) Launch(ctx context.Context, opts schemas.LaunchOptions) (schemas.BrowserWindow, error) {
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	w := newFakeWindow(sampleState())
	if l.newWindow != nil {
		w = l.newWindow()
	}
	l.mu.Lock()
	l.launched = append(l.launched, w)
	l.mu.Unlock()
	return w, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

func (l *fakeLauncher) window(i int) *fakeWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched[i]
}

// failingSaver rejects every save.
type failingSaver struct{}

var errDiskFull = errors.New("disk full")

func (failingSaver) Save(ctx context.Context, name string, state *schemas.AuthenticatedState, passphrase string, opts schemas.SaveOptions) (*schemas.SessionRecord, error) {
	return nil, errDiskFull
}

// blockingSaver holds every save open until release is closed.
type blockingSaver struct {
	entered     chan struct{}
	enteredOnce sync.Once
	release     chan struct{}
}

func newBlockingSaver() *blockingSaver {
	return &blockingSaver{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingSaver) Save(ctx context.Context, name string, state *schemas.AuthenticatedState, passphrase string, opts schemas.SaveOptions) (*schemas.SessionRecord, error) {
	b.enteredOnce.Do(func() { close(b.entered) })
	<-b.release
	return &schemas.SessionRecord{
		ID:            "0c7d2f3e-4b5a-4c6d-8e9f-a0b1c2d3e4f5",
		Name:          name,
		Domain:        "example.com",
		AuthType:      schemas.AuthTypeForm,
		SchemaVersion: schemas.CurrentSchemaVersion,
	}, nil
}

func sampleState() *schemas.AuthenticatedState {
	return &schemas.AuthenticatedState{
		Cookies: []schemas.Cookie{
			{Name: "session", Value: "8c1f9e", Domain: ".example.com", Path: "/", Expires: -1, HTTPOnly: true, Secure: true, SameSite: "Lax"},
		},
		Origins: []schemas.OriginStorage{{
			Origin:       "https://example.com",
			LocalStorage: []schemas.StorageEntry{{Name: "csrf", Value: "k2"}},
		}},
	}
}
