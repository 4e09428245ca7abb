// File: cmd/capture.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scalpel-sessions/internal/capture"
	"github.com/xkilldash9x/scalpel-sessions/internal/service"
)

var errCaptureEnded = errors.New("capture ended before it was confirmed (timed out or the browser was closed)")

func newCaptureCmd(factory service.ComponentFactory) *cobra.Command {
	var (
		name    string
		timeout time.Duration
	)

	captureCmd := &cobra.Command{
		Use:   "capture <login-url>",
		Short: "Opens a browser for a manual login and stores the resulting session",
		Long: `Opens a visible browser at the login URL. Log in by hand, then press Enter to
capture the cookies and local storage and store them encrypted under --name.
Press Ctrl+C to abandon the capture without saving anything.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Resolve the passphrase first so nobody logs in only to find it missing.
			passphrase, err := resolvePassphrase(cmd)
			if err != nil {
				return err
			}
			return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
				return runCapture(ctx, c.Capture, captureRequest{
					loginURL:   args[0],
					name:       name,
					passphrase: passphrase,
					timeout:    timeout,
				}, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}

	captureCmd.Flags().StringVarP(&name, "name", "n", "", "name to store the session under (1-50 characters)")
	captureCmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait for the login before giving up (default from config)")
	_ = captureCmd.MarkFlagRequired("name")
	addPassphraseFlag(captureCmd)
	return captureCmd
}

type captureRequest struct {
	loginURL   string
	name       string
	passphrase string
	timeout    time.Duration
}

// runCapture drives one capture: it waits for the operator's confirmation on in, the end
// of the capture session (timeout or closed window), or cancellation of ctx.
func runCapture(ctx context.Context, svc *capture.Service, req captureRequest, in io.Reader, out io.Writer) error {
	session, err := svc.StartLogin(ctx, req.loginURL, capture.StartOptions{Timeout: req.timeout})
	if err != nil {
		return err
	}
	done, ok := svc.Done(session.ID)
	if !ok {
		return errCaptureEnded
	}

	fmt.Fprintf(out, "A browser window is open at %s.\n", session.LoginURL)
	fmt.Fprintln(out, "Log in, then press Enter here to capture the session (Ctrl+C to cancel).")

	confirmed := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(in).ReadString('\n')
		confirmed <- err
	}()

	select {
	case err := <-confirmed:
		if err != nil {
			svc.CancelLogin(ctx, session.ID)
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("input closed before the capture was confirmed")
			}
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		record, err := svc.CaptureSession(ctx, session.ID, req.name, req.passphrase)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Stored session %q for %s (id %s).\n", record.Name, record.Domain, record.ID)
		return nil

	case <-done:
		return errCaptureEnded

	case <-ctx.Done():
		svc.CancelLogin(context.WithoutCancel(ctx), session.ID)
		fmt.Fprintln(out, "Capture cancelled.")
		return ctx.Err()
	}
}
