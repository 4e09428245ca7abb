// File: cmd/passphrase.go
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scalpel-sessions/internal/config"
)

const passphraseFileFlag = "passphrase-file"

func addPassphraseFlag(cmd *cobra.Command) {
	cmd.Flags().String(passphraseFileFlag, "", fmt.Sprintf("file holding the session passphrase (default reads %s)", config.PassphraseEnv))
}

// resolvePassphrase reads the passphrase from --passphrase-file, falling back to the
// environment. The passphrase itself is never echoed or logged.
func resolvePassphrase(cmd *cobra.Command) (string, error) {
	path, err := cmd.Flags().GetString(passphraseFileFlag)
	if err != nil {
		return "", err
	}

	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return "", fmt.Errorf("failed to expand passphrase file path: %w", err)
		}
		data, err := os.ReadFile(expanded)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase file: %w", err)
		}
		// Editors add a trailing newline; it is never part of the passphrase.
		passphrase := strings.TrimRight(string(data), "\r\n")
		if passphrase == "" {
			return "", fmt.Errorf("passphrase file %s is empty", expanded)
		}
		return passphrase, nil
	}

	if passphrase := os.Getenv(config.PassphraseEnv); passphrase != "" {
		return passphrase, nil
	}
	return "", fmt.Errorf("a passphrase is required: set %s or pass --%s", config.PassphraseEnv, passphraseFileFlag)
}
