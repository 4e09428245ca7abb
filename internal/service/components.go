// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sessions/api/schemas"
	"github.com/xkilldash9x/scalpel-sessions/internal/capture"
	"github.com/xkilldash9x/scalpel-sessions/internal/security"
	"github.com/xkilldash9x/scalpel-sessions/internal/store"
)

const shutdownTimeout = 30 * time.Second

// Components holds the initialized services of one process. It replaces any notion of
// shared default instances: whoever builds it owns it and must call Shutdown.
type Components struct {
	Cipher   *security.Cipher
	Store    *store.Store
	Launcher schemas.BrowserLauncher
	Capture  *capture.Service

	logger *zap.Logger
}

// Shutdown releases resources in reverse dependency order. Any open capture is cancelled
// and its browser closed.
func (c *Components) Shutdown(ctx context.Context) error {
	c.logger.Debug("Beginning components shutdown sequence.")

	// Use a detached context so shutdown completes even if ctx is already cancelled.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if c.Capture != nil {
		if err := c.Capture.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("Error during capture service shutdown.", zap.Error(err))
			return err
		}
		c.logger.Debug("Capture service shut down.")
	}

	c.logger.Debug("All components shut down.")
	return nil
}
