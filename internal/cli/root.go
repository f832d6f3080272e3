// Package cli implements the reportchain operator CLI.
package cli

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/pendergraft/reportchain/pkg/client"
)

const defaultServer = "http://localhost:3001"

var (
	cfgFile string
	server  string
	apiKey  string
)

// Execute runs the CLI. Interrupting cancels in-flight requests; a
// submission the server already sent to the chain still completes there.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return newRootCmd(version).ExecuteContext(ctx)
}

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reportchain",
		Short: "Scam report ledger CLI",
		Long: `reportchain submits scam reports to a reportchain server, lists the
on-chain ledger and lets reviewers verify or reject reports.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: reportchain.toml)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "server URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for reviewer commands")

	rootCmd.AddCommand(createSubmitCmd())
	rootCmd.AddCommand(createSelfReportCmd())
	rootCmd.AddCommand(createRetryRewardCmd())
	rootCmd.AddCommand(createListCmd())
	rootCmd.AddCommand(createShowCmd())
	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createBansCmd())
	rootCmd.AddCommand(createAuthCmd())
	rootCmd.AddCommand(createConfigCmd())
	rootCmd.AddCommand(createVersionCmd(version))

	return rootCmd
}

func newClient() *client.Client {
	return client.New(getServer(), getAPIKey())
}

// getServer returns the server URL from flag, env, config file, or default
func getServer() string {
	if server != "" {
		return server
	}

	if env := os.Getenv("REPORTCHAIN_SERVER"); env != "" {
		return env
	}

	if config := loadProjectConfigSilent(); config != nil && config.Server != "" {
		return config.Server
	}

	return defaultServer
}

// getAPIKey returns the API key from flag, env, or credentials file
func getAPIKey() string {
	if apiKey != "" {
		return apiKey
	}

	if env := os.Getenv("REPORTCHAIN_API_KEY"); env != "" {
		return env
	}

	if cred := getCredential(getServer()); cred != "" {
		return cred
	}

	return ""
}

// getWallet returns the flag value or the wallet from the project config.
func getWallet(flag string) string {
	if flag != "" {
		return flag
	}
	if config := loadProjectConfigSilent(); config != nil {
		return config.Wallet
	}
	return ""
}
