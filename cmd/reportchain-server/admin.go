package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/reportchain/internal/config"
	"github.com/pendergraft/reportchain/internal/storage"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage reviewer API keys",
	}

	cmd.AddCommand(newKeysCreateCmd())
	cmd.AddCommand(newKeysListCmd())
	cmd.AddCommand(newKeysRevokeCmd())

	return cmd
}

func newKeysCreateCmd() *cobra.Command {
	var name string
	var outputFile string
	var quiet bool
	var show bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long: `Create an API key that may verify and reject reports.

By default, the key is written to a file in the current directory.
The key is only shown once - it cannot be retrieved later.

EXAMPLES:
  # Create key, write to file (default)
  reportchain-server keys create --name "moderator"

  # Create key, print only (for piping to a secrets manager)
  reportchain-server keys create --name "moderator" --quiet

  # Create key, display on screen
  reportchain-server keys create --name "moderator" --show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store storage.Store) error {
				return runKeysCreate(ctx, store, name, outputFile, quiet, show)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "name/label for the key (required)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write key to file (default: ./reportchain-key-{name}.txt)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the key (for piping)")
	cmd.Flags().BoolVar(&show, "show", false, "display key on screen")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), runKeysList)
		},
	}
}

func newKeysRevokeCmd() *cobra.Command {
	var keyID string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an API key",
		Long: `Revoke an API key to prevent further use.

Use 'reportchain-server keys list' to find the key ID. The first eight
characters are enough.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store storage.Store) error {
				return runKeysRevoke(ctx, store, keyID)
			})
		},
	}

	cmd.Flags().StringVar(&keyID, "id", "", "key ID to revoke (required)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the submission journal",
	}

	var kind, state string
	var limit int

	list := &cobra.Command{
		Use:   "list",
		Short: "List journal entries",
		Long: `List submissions recorded by the server, newest first.

Entries in state "partial" reached the ledger but have no reward; they can
be retried through the API. Entries in state "unknown" were broadcast but
never confirmed and need checking against the chain.

EXAMPLES:
  reportchain-server journal list --state partial
  reportchain-server journal list --kind self --limit 100
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.SubmissionFilter{
				Kind:  storage.SubmissionKind(kind),
				State: storage.SubmissionState(state),
			}
			return withStore(cmd.Context(), func(ctx context.Context, store storage.Store) error {
				return runJournalList(ctx, store, os.Stdout, filter, limit)
			})
		},
	}
	list.Flags().StringVar(&kind, "kind", "", "accusation or self")
	list.Flags().StringVar(&state, "state", "", "pending, failed, unknown, reward_pending, partial or committed")
	list.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")

	cmd.AddCommand(list)
	return cmd
}

// withStore opens and migrates the configured store for an admin command.
func withStore(ctx context.Context, fn func(context.Context, storage.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.New(cfg.Storage, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return fn(ctx, store)
}

func runKeysCreate(ctx context.Context, store storage.APIKeyStore, name, outputFile string, quiet, show bool) error {
	key, err := store.CreateAPIKey(ctx, name)
	if err != nil {
		return fmt.Errorf("creating API key: %w", err)
	}

	if quiet {
		fmt.Println(key)
		return nil
	}

	if show {
		fmt.Println("⚠️  API key (save this - it cannot be retrieved later):")
		fmt.Println()
		fmt.Println("   ", key)
		fmt.Println()
		return nil
	}

	if outputFile == "" {
		outputFile = fmt.Sprintf("./reportchain-key-%s.txt", name)
	}

	if dir := filepath.Dir(outputFile); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}

	if err := os.WriteFile(outputFile, []byte(key+"\n"), 0600); err != nil {
		return fmt.Errorf("writing key to file: %w", err)
	}

	fmt.Printf("✅ API key created: %s\n", name)
	fmt.Printf("   Written to: %s (mode 0600)\n", outputFile)
	fmt.Println()
	fmt.Println("   ⚠️  This key cannot be retrieved later. Keep it safe!")
	fmt.Println()
	fmt.Println("   Usage:")
	fmt.Println("     export REPORTCHAIN_API_KEY=$(cat", outputFile+")")
	fmt.Println("     reportchain verify <report-id>")

	return nil
}

func runKeysList(ctx context.Context, store storage.Store) error {
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing API keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys found")
		fmt.Println()
		fmt.Println("Create one with: reportchain-server keys create --name \"moderator\"")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREATED\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != "" {
			lastUsed = k.LastUsedAt
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortID(k.ID), k.Name, k.CreatedAt, lastUsed)
	}
	return w.Flush()
}

func runKeysRevoke(ctx context.Context, store storage.APIKeyStore, keyID string) error {
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing API keys: %w", err)
	}

	var fullKeyID string
	for _, k := range keys {
		if k.ID == keyID || (len(keyID) >= 8 && strings.HasPrefix(k.ID, keyID)) {
			fullKeyID = k.ID
			break
		}
	}

	if fullKeyID == "" {
		return fmt.Errorf("key not found: %s", keyID)
	}

	if err := store.RevokeAPIKey(ctx, fullKeyID); err != nil {
		return fmt.Errorf("revoking API key: %w", err)
	}

	fmt.Printf("✅ API key revoked: %s\n", keyID)
	return nil
}

func runJournalList(ctx context.Context, store storage.SubmissionStore, out io.Writer, filter storage.SubmissionFilter, limit int) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATE\tWALLET\tEVIDENCE\tLEDGER TX\tREWARD TX\tUPDATED")

	shown := 0
	cursor := ""
	for shown < limit {
		page, err := store.ListSubmissions(ctx, filter, storage.PaginationParams{Limit: min(limit-shown, 100), Cursor: cursor})
		if err != nil {
			return fmt.Errorf("listing submissions: %w", err)
		}
		for _, s := range page.Data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				shortID(s.ID), s.Kind, s.State, s.Wallet, s.EvidenceHash, orDash(s.LedgerTxHash), orDash(s.RewardTxHash), s.UpdatedAt)
			shown++
		}
		if !page.HasMore || len(page.Data) == 0 {
			break
		}
		cursor = page.NextCursor
	}

	if err := w.Flush(); err != nil {
		return err
	}
	if shown == 0 {
		fmt.Fprintln(out, "No submissions found")
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
