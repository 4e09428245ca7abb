// File: internal/browser/options.go
package browser

import (
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/scalpel-sessions/internal/config"
)

// AllocatorOptions builds the exec allocator options for a visible, operator-driven
// browser. The allocator gives every launch its own temporary profile directory, so
// nothing carries over between captures.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range launchFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// launchFlags returns the command line switches layered over chromedp's defaults.
func launchFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		// The operator logs in by hand, so the window must be shown.
		"headless":               false,
		"hide-scrollbars":        false,
		"mute-audio":             false,
		"disable-blink-features": "AutomationControlled",
	}
	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
	}
	for _, arg := range cfg.Args {
		name, value := splitArg(arg)
		if name == "" {
			continue
		}
		flags[name] = value
	}
	return flags
}

// splitArg turns "--lang=en-US" into ("lang", "en-US") and "--kiosk" into ("kiosk", true).
func splitArg(arg string) (string, interface{}) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if name, value, ok := strings.Cut(arg, "="); ok {
		return name, value
	}
	return arg, true
}
