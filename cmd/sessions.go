// File: cmd/sessions.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scalpel-sessions/api/schemas"
	"github.com/xkilldash9x/scalpel-sessions/internal/inspect"
	"github.com/xkilldash9x/scalpel-sessions/internal/service"
	"github.com/xkilldash9x/scalpel-sessions/internal/store"
)

const timeLayout = time.RFC3339

func newListCmd(factory service.ComponentFactory) *cobra.Command {
	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lists stored sessions (metadata only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
				records := c.Store.List(ctx)
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), records)
				}
				return writeRecordTable(cmd.OutOrStdout(), records, time.Now())
			})
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print the records as JSON")
	return listCmd
}

func newShowCmd(factory service.ComponentFactory) *cobra.Command {
	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Shows the metadata of one stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
				record, ok := c.Store.GetMetadata(ctx, args[0])
				if !ok {
					return fmt.Errorf("%w: %s", store.ErrNotFound, args[0])
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), record)
				}
				return writeRecordTable(cmd.OutOrStdout(), []schemas.SessionRecord{*record}, time.Now())
			})
		},
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")
	return showCmd
}

func newDeleteCmd(factory service.ComponentFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Deletes a stored session and its encrypted file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
				if err := c.Store.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s.\n", args[0])
				return nil
			})
		},
	}
}

func newCheckCmd(factory service.ComponentFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Reports index entries without files and files without index entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
				report, err := c.Store.Check(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d indexed session(s) in %s.\n", report.Sessions, c.Store.Dir())
				for _, id := range report.MissingFiles {
					fmt.Fprintf(out, "missing file:  %s\n", id)
				}
				for _, name := range report.OrphanFiles {
					fmt.Fprintf(out, "orphan file:   %s\n", name)
				}
				if !report.Consistent() {
					return fmt.Errorf("store is inconsistent: %d missing, %d orphaned", len(report.MissingFiles), len(report.OrphanFiles))
				}
				fmt.Fprintln(out, "Store is consistent.")
				return nil
			})
		},
	}
}

func newVerifyCmd(factory service.ComponentFactory) *cobra.Command {
	var asJSON bool
	verifyCmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "Decrypts a stored session and summarises what it contains",
		Long: `Decrypts the session with the given passphrase and prints a summary: cookie counts,
the earliest cookie expiry and any JWTs found in local storage. Secret values are never printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase, err := resolvePassphrase(cmd)
			if err != nil {
				return err
			}
			return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
				state, err := c.Store.Load(ctx, args[0], passphrase)
				if err != nil {
					return err
				}
				report := inspect.Describe(state, time.Now())
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				return writeReport(cmd.OutOrStdout(), report)
			})
		},
	}
	verifyCmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	addPassphraseFlag(verifyCmd)
	return verifyCmd
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.ConfigCompatibleWithStandardLibrary.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeRecordTable(w io.Writer, records []schemas.SessionRecord, now time.Time) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No stored sessions.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDOMAIN\tAUTH\tCREATED\tEXPIRES")
	for _, r := range records {
		expires := "-"
		if r.ExpiresAt != nil {
			expires = r.ExpiresAt.Format(timeLayout)
			if r.Expired(now) {
				expires += " (expired)"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Domain, r.AuthType, r.CreatedAt.Format(timeLayout), expires)
	}
	return tw.Flush()
}

func writeReport(w io.Writer, r *inspect.Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "cookies:\t%d (%d session, %d expired)\n", r.Cookies, r.SessionCookies, r.ExpiredCookies)
	fmt.Fprintf(tw, "domains:\t%s\n", joinOrDash(r.Domains))
	fmt.Fprintf(tw, "origins:\t%s\n", joinOrDash(r.Origins))
	fmt.Fprintf(tw, "storage entries:\t%d\n", r.StorageEntries)
	if r.EarliestCookieExpiry != nil {
		fmt.Fprintf(tw, "earliest cookie expiry:\t%s\n", r.EarliestCookieExpiry.Format(timeLayout))
	}
	for _, t := range r.Tokens {
		expiry := "no exp claim"
		if t.ExpiresAt != nil {
			expiry = "expires " + t.ExpiresAt.Format(timeLayout)
			if t.Expired {
				expiry = "expired " + t.ExpiresAt.Format(timeLayout)
			}
		}
		fmt.Fprintf(tw, "token:\t%s %s (%s, %s)\n", t.Origin, t.Key, t.Algorithm, expiry)
	}
	if r.Stale() {
		fmt.Fprintln(tw, "status:\tstale, capture a fresh session")
	} else {
		fmt.Fprintln(tw, "status:\tusable")
	}
	return tw.Flush()
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}
