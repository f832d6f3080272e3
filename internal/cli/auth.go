package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/reportchain/pkg/client"
)

var errInvalidKey = errors.New("invalid API key")

// Credentials maps server URLs to the reviewer key saved for each.
type Credentials struct {
	Servers map[string]ServerCredential `yaml:"servers"`
}

// ServerCredential is a saved reviewer key. KeyID and Name are what the
// server reported for the key at login.
type ServerCredential struct {
	APIKey  string    `yaml:"api_key"`
	KeyID   string    `yaml:"key_id,omitempty"`
	Name    string    `yaml:"name,omitempty"`
	SavedAt time.Time `yaml:"saved_at,omitempty"`
}

func createAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage reviewer credentials",
	}

	cmd.AddCommand(createAuthLoginCmd())
	cmd.AddCommand(createAuthLogoutCmd())
	cmd.AddCommand(createAuthStatusCmd())

	return cmd
}

func createAuthLoginCmd() *cobra.Command {
	var serverFlag string
	var apiKeyFlag string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save a reviewer API key",
		Long: `Check a reviewer API key against the server and save it.

Reviewer keys are needed to verify or reject reports and to retry reward
registration. Keys are kept in ~/.reportchain/credentials (mode 0600).

EXAMPLES:
  # Prompt for the key
  reportchain auth login

  # Another server
  reportchain auth login --server https://reports.example.com

  # Non-interactive
  reportchain auth login --api-key $REPORTCHAIN_API_KEY
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(cmd.Context(), cmd.OutOrStdout(), serverFlag, apiKeyFlag)
		},
	}

	cmd.Flags().StringVar(&serverFlag, "server", "", "server URL (default from config)")
	cmd.Flags().StringVar(&apiKeyFlag, "api-key", "", "API key (prompts if not provided)")

	return cmd
}

func createAuthLogoutCmd() *cobra.Command {
	var serverFlag string
	var allFlag bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget saved credentials",
		Long: `Remove the saved key for a server, or every saved key with --all.

EXAMPLES:
  reportchain auth logout
  reportchain auth logout --server https://reports.example.com
  reportchain auth logout --all
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogout(cmd.OutOrStdout(), serverFlag, allFlag)
		},
	}

	cmd.Flags().StringVar(&serverFlag, "server", "", "server URL (default from config)")
	cmd.Flags().BoolVar(&allFlag, "all", false, "clear all credentials")

	return cmd
}

func createAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List saved credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus(cmd.OutOrStdout())
		},
	}
}

func runAuthLogin(ctx context.Context, out io.Writer, serverURL, apiKey string) error {
	if serverURL == "" {
		serverURL = getServer()
	}

	if apiKey == "" {
		fmt.Fprintf(out, "Enter API key for %s: ", serverURL)
		key, err := readAPIKey(os.Stdin, out)
		if err != nil {
			return fmt.Errorf("failed to read API key: %w", err)
		}
		apiKey = key
	}
	if apiKey == "" {
		return errors.New("API key cannot be empty")
	}

	fmt.Fprintf(out, "Checking key with %s...\n", serverURL)
	id, err := identify(ctx, serverURL, apiKey)
	if err != nil {
		return err
	}

	cred := ServerCredential{APIKey: apiKey, KeyID: id.ID, Name: id.Name, SavedAt: time.Now().UTC()}
	if err := saveCredential(serverURL, cred); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	if id.Auth != "api-key" {
		fmt.Fprintf(out, "⚠️  %s does not require API keys (auth: %s); the key was saved anyway\n", serverURL, id.Auth)
	}
	fmt.Fprintf(out, "✅ Authenticated to %s as %s (key: %s)\n", serverURL, orUnnamed(id.Name), maskAPIKey(apiKey))
	fmt.Fprintf(out, "   Credentials saved to %s\n", credentialsFilePath())
	return nil
}

// readAPIKey reads a key without echo from a terminal, or the first line of
// piped input otherwise.
func readAPIKey(in *os.File, out io.Writer) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		return strings.TrimSpace(string(b)), err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func runAuthLogout(out io.Writer, serverURL string, all bool) error {
	if all {
		if err := os.Remove(credentialsFilePath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		fmt.Fprintln(out, "✅ All credentials cleared")
		return nil
	}

	if serverURL == "" {
		serverURL = getServer()
	}

	creds, err := loadCredentials()
	if os.IsNotExist(err) {
		fmt.Fprintf(out, "No credentials found for %s\n", serverURL)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if _, ok := creds.Servers[serverURL]; !ok {
		fmt.Fprintf(out, "No credentials found for %s\n", serverURL)
		return nil
	}
	delete(creds.Servers, serverURL)

	if err := writeCredentials(creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	fmt.Fprintf(out, "✅ Logged out from %s\n", serverURL)
	return nil
}

func runAuthStatus(out io.Writer) error {
	creds, err := loadCredentials()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds == nil || len(creds.Servers) == 0 {
		fmt.Fprintln(out, "Not authenticated to any servers")
		fmt.Fprintln(out, "\nRun 'reportchain auth login' to authenticate")
		return nil
	}

	fmt.Fprintln(out, "Authenticated servers:")
	for _, server := range slices.Sorted(maps.Keys(creds.Servers)) {
		cred := creds.Servers[server]
		fmt.Fprintf(out, "  • %s (%s, key: %s", server, orUnnamed(cred.Name), maskAPIKey(cred.APIKey))
		if !cred.SavedAt.IsZero() {
			fmt.Fprintf(out, ", saved %s", cred.SavedAt.Format(time.DateOnly))
		}
		fmt.Fprintln(out, ")")
	}
	return nil
}

func credentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".reportchain"
	}
	return filepath.Join(home, ".reportchain")
}

func credentialsFilePath() string {
	return filepath.Join(credentialsDir(), "credentials")
}

func loadCredentials() (*Credentials, error) {
	data, err := os.ReadFile(credentialsFilePath())
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", credentialsFilePath(), err)
	}
	if creds.Servers == nil {
		creds.Servers = make(map[string]ServerCredential)
	}
	return &creds, nil
}

func writeCredentials(creds *Credentials) error {
	if err := os.MkdirAll(credentialsDir(), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}
	return os.WriteFile(credentialsFilePath(), data, 0600)
}

func saveCredential(serverURL string, cred ServerCredential) error {
	creds, err := loadCredentials()
	if os.IsNotExist(err) {
		creds, err = &Credentials{Servers: make(map[string]ServerCredential)}, nil
	}
	if err != nil {
		return err
	}
	creds.Servers[serverURL] = cred
	return writeCredentials(creds)
}

func getCredential(serverURL string) string {
	creds, err := loadCredentials()
	if err != nil {
		return ""
	}
	return creds.Servers[serverURL].APIKey
}

// identify asks the server who apiKey belongs to. A 401 is errInvalidKey;
// servers without auth accept any key.
func identify(ctx context.Context, serverURL, apiKey string) (*client.Identity, error) {
	id, err := client.New(serverURL, apiKey).WhoAmI(ctx)
	if err == nil {
		return id, nil
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		return nil, errInvalidKey
	}
	return nil, fmt.Errorf("failed to validate credentials: %w", err)
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

func orUnnamed(name string) string {
	if name == "" {
		return "unnamed key"
	}
	return name
}
