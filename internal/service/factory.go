// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sessions/api/schemas"
	"github.com/xkilldash9x/scalpel-sessions/internal/browser"
	"github.com/xkilldash9x/scalpel-sessions/internal/capture"
	"github.com/xkilldash9x/scalpel-sessions/internal/config"
	"github.com/xkilldash9x/scalpel-sessions/internal/security"
	"github.com/xkilldash9x/scalpel-sessions/internal/store"
)

// ComponentFactory builds the component graph. Commands depend on this interface so their
// logic can be tested with fakes.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error)
}

// LauncherFunc constructs the browser capability from configuration.
type LauncherFunc func(cfg config.BrowserConfig, logger *zap.Logger) schemas.BrowserLauncher

type concreteFactory struct {
	newLauncher LauncherFunc
}

// NewComponentFactory returns the production factory, backed by a chromedp launcher.
func NewComponentFactory() ComponentFactory {
	return NewComponentFactoryWithLauncher(func(cfg config.BrowserConfig, logger *zap.Logger) schemas.BrowserLauncher {
		return browser.NewLauncher(cfg, logger)
	})
}

// NewComponentFactoryWithLauncher returns a factory that uses newLauncher for the browser.
func NewComponentFactoryWithLauncher(newLauncher LauncherFunc) ComponentFactory {
	return &concreteFactory{newLauncher: newLauncher}
}

// Create wires Cipher, Store, Launcher and CaptureService together.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// 1. Cipher
	cipher, err := security.NewWithIterations(cfg.Store.KDFIterations)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	logger.Debug("Cipher initialized.", zap.Int("kdf_iterations", cipher.Iterations()))

	// 2. Store
	sessions, err := store.New(cfg.Store, cipher, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	logger.Debug("Session store initialized.", zap.String("dir", sessions.Dir()))

	// 3. Browser capability. Nothing is launched until a capture starts.
	launcher := f.newLauncher(cfg.Browser, logger)

	// 4. Capture service
	captureSvc := capture.New(cfg.Capture, launcher, sessions, logger)
	logger.Debug("Capture service initialized.", zap.Bool("allow_headed", cfg.Capture.AllowHeaded))

	return &Components{
		Cipher:   cipher,
		Store:    sessions,
		Launcher: launcher,
		Capture:  captureSvc,
		logger:   logger,
	}, nil
}
