package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"vaultedge/internal/app"
	"vaultedge/internal/archive"
	"vaultedge/internal/safebox"
)

// audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read a user's audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list USER",
	Short: "List audit entries, most recent first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("audit list")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.ReadAudit(args[0], limit)
		if err != nil {
			return err
		}
		printAudit(entries)
		return nil
	},
}

var auditSearchCmd = &cobra.Command{
	Use:   "search USER",
	Short: "Filter and page audit entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := auditQueryFromFlags(cmd)
		if err != nil {
			return err
		}

		a, err := newApp("audit search")
		if err != nil {
			return err
		}
		defer a.Close()

		page, err := a.SearchAudit(args[0], q)
		if err != nil {
			return err
		}
		printAudit(page.Items)
		fmt.Printf("\npage %d, %d of %d match(es)\n", page.Page, len(page.Items), page.Total)
		return nil
	},
}

func auditQueryFromFlags(cmd *cobra.Command) (safebox.AuditQuery, error) {
	var q safebox.AuditQuery
	flags := cmd.Flags()

	for _, name := range []string{"from", "to"} {
		raw, _ := flags.GetString(name)
		if raw == "" {
			continue
		}
		t, err := parseTime(raw)
		if err != nil {
			return q, fmt.Errorf("invalid --%s: %w", name, err)
		}
		if name == "from" {
			q.From = &t
		} else {
			q.To = &t
		}
	}

	scopes, _ := flags.GetStringSlice("scope")
	for _, s := range scopes {
		switch scope := safebox.AuditScope(strings.ToUpper(s)); scope {
		case safebox.ScopeUser, safebox.ScopeSafeBox:
			q.Scopes = append(q.Scopes, scope)
		default:
			return q, fmt.Errorf("invalid --scope %q: want USER or SAFEBOX", s)
		}
	}
	q.SafeBoxes, _ = flags.GetStringSlice("box")
	q.Query, _ = flags.GetString("query")
	q.Page, _ = flags.GetInt("page")
	q.Size, _ = flags.GetInt("size")
	return q, nil
}

func printAudit(entries []safebox.AuditEntry) {
	if len(entries) == 0 {
		fmt.Println("No audit entries.")
		return
	}
	for _, e := range entries {
		box := e.SafeBoxName
		if box == "" {
			box = "-"
		}
		fmt.Printf("%s  %-7s  %-16s  %s\n", e.Timestamp, e.Scope, box, e.Message)
	}
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate USER",
	Short: "Move a user's safeboxes into the masked layout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("migrate")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.MigrateUser(args[0])
		if err != nil {
			return err
		}
		if res.NoOp {
			fmt.Printf("Nothing to migrate for %s\n", res.UserID)
			return nil
		}
		fmt.Printf("Migrated %s to %s\n", res.UserID, res.MaskedUserID)
		for _, b := range res.Moved {
			fmt.Printf("  moved   %s\n", b)
		}
		for _, b := range res.Merged {
			fmt.Printf("  merged  %s\n", b)
		}
		return nil
	},
}

// mapping command
var mappingCmd = &cobra.Command{
	Use:   "mapping USER",
	Short: "Show a migrated user's masked identifiers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("mapping")
		if err != nil {
			return err
		}
		defer a.Close()

		m, ok := a.Mapping(args[0])
		if !ok {
			return fmt.Errorf("user %s has not been migrated", args[0])
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export USER BOX",
	Short: "Archive a safebox (or part of it) to the export sink",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		files, _ := cmd.Flags().GetStringSlice("files")
		encrypt, _ := cmd.Flags().GetBool("encrypt")
		recipientKeys, _ := cmd.Flags().GetStringSlice("recipient")

		req := app.ExportRequest{Path: path, Files: files}
		for _, k := range recipientKeys {
			r, err := archive.ParseRecipient(k)
			if err != nil {
				return err
			}
			req.Recipients = append(req.Recipients, r)
		}
		if encrypt {
			r, err := promptPassphraseRecipient()
			if err != nil {
				return err
			}
			req.Recipients = append(req.Recipients, r)
		}

		a, err := newApp("export")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Export(cmd.Context(), args[0], args[1], req)
		if err != nil {
			return err
		}
		fmt.Printf("Exported %s to %s\n", res.Name, res.Location)
		for _, s := range res.Skipped {
			fmt.Printf("  skipped %s\n", s)
		}
		return nil
	},
}

// promptPassphraseRecipient reads a passphrase twice from the terminal.
func promptPassphraseRecipient() (age.Recipient, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("--encrypt needs an interactive terminal for the passphrase")
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if string(first) != string(second) {
		return nil, fmt.Errorf("passphrases do not match")
	}
	return archive.PassphraseRecipient(string(first))
}

func init() {
	auditCmd.AddCommand(auditListCmd)
	auditListCmd.Flags().IntP("limit", "n", 100, "Maximum number of entries (0 for all)")
	auditCmd.AddCommand(auditSearchCmd)
	auditSearchCmd.Flags().String("from", "", "Earliest timestamp (RFC 3339 or YYYY-MM-DD)")
	auditSearchCmd.Flags().String("to", "", "Latest timestamp (RFC 3339 or YYYY-MM-DD)")
	auditSearchCmd.Flags().StringSlice("scope", nil, "USER and/or SAFEBOX")
	auditSearchCmd.Flags().StringSlice("box", nil, "Restrict to these safeboxes")
	auditSearchCmd.Flags().StringP("query", "q", "", "Case-insensitive text match")
	auditSearchCmd.Flags().Int("page", 0, "Zero-based page number")
	auditSearchCmd.Flags().Int("size", 50, "Page size")

	exportCmd.Flags().String("path", "", "Folder or file inside the safebox (default: whole safebox)")
	exportCmd.Flags().StringSlice("files", nil, "Archive only these files")
	exportCmd.Flags().Bool("encrypt", false, "Encrypt with a passphrase read from the terminal")
	exportCmd.Flags().StringSlice("recipient", nil, "Encrypt to this age public key")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(mappingCmd)
	rootCmd.AddCommand(exportCmd)
}
