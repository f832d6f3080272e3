package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

const projectConfigFile = "reportchain.toml"

// ProjectConfig is the project-level TOML configuration
type ProjectConfig struct {
	Server string `toml:"server"`
	// Wallet is the default reporter wallet for self-reports.
	Wallet string     `toml:"wallet,omitempty"`
	List   ListConfig `toml:"list,omitempty"`
}

// ListConfig holds listing defaults.
type ListConfig struct {
	PageSize uint64 `toml:"page_size,omitempty"`
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var serverURL string
	var wallet string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a reportchain.toml configuration file in the current directory.

EXAMPLES:
  # Create config with default server
  reportchain config init

  # Create config for a specific server and reporter wallet
  reportchain config init --server https://reports.example.com --wallet 0xabc...

  # Overwrite existing config
  reportchain config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(serverURL, wallet, force)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServer, "server URL")
	cmd.Flags().StringVar(&wallet, "wallet", "", "default reporter wallet for self-reports")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}
}

func runConfigInit(serverURL, wallet string, force bool) error {
	if _, err := os.Stat(projectConfigFile); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", projectConfigFile)
	}

	content := fmt.Sprintf(`# reportchain CLI configuration

server = %q

# Reporter wallet used by 'reportchain self-report' when --wallet is omitted
wallet = %q

[list]
page_size = 50
`, serverURL, wallet)

	if err := os.WriteFile(projectConfigFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", projectConfigFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Run 'reportchain auth login' if you review reports")
	fmt.Println("  2. Run 'reportchain list' to browse the ledger")

	return nil
}

func runConfigShow() error {
	fmt.Println("Configuration sources (in order of precedence):")
	fmt.Println()

	fmt.Println("1. Command line flags")
	fmt.Println("   --server, --api-key, --config")
	fmt.Println()

	fmt.Println("2. Environment variables")
	for _, name := range []string{"REPORTCHAIN_SERVER", "REPORTCHAIN_API_KEY"} {
		v := os.Getenv(name)
		switch {
		case v == "":
			fmt.Printf("   %s=(not set)\n", name)
		case name == "REPORTCHAIN_API_KEY":
			fmt.Printf("   %s=%s\n", name, maskAPIKey(v))
		default:
			fmt.Printf("   %s=%s\n", name, v)
		}
	}
	fmt.Println()

	fmt.Printf("3. Project config (%s)\n", projectConfigFile)
	projectConfig, configPath, err := loadProjectConfig()
	switch {
	case os.IsNotExist(err):
		fmt.Println("   (not found)")
	case err != nil:
		fmt.Printf("   Error: %v\n", err)
	default:
		fmt.Printf("   Loaded from: %s\n", configPath)
		if projectConfig.Server != "" {
			fmt.Printf("   server: %s\n", projectConfig.Server)
		}
		if projectConfig.Wallet != "" {
			fmt.Printf("   wallet: %s\n", projectConfig.Wallet)
		}
		if projectConfig.List.PageSize > 0 {
			fmt.Printf("   list.page_size: %d\n", projectConfig.List.PageSize)
		}
	}
	fmt.Println()

	fmt.Println("4. Credentials (~/.reportchain/credentials)")
	creds, err := loadCredentials()
	switch {
	case os.IsNotExist(err):
		fmt.Println("   (not found)")
	case err != nil:
		fmt.Printf("   Error: %v\n", err)
	case len(creds.Servers) == 0:
		fmt.Println("   (no credentials stored)")
	default:
		for server, cred := range creds.Servers {
			fmt.Printf("   %s: %s\n", server, maskAPIKey(cred.APIKey))
		}
	}
	fmt.Println()

	fmt.Println("Effective configuration:")
	fmt.Printf("   Server:  %s\n", getServer())
	if key := getAPIKey(); key != "" {
		fmt.Printf("   API Key: %s\n", maskAPIKey(key))
	} else {
		fmt.Println("   API Key: (not set)")
	}

	return nil
}

// loadProjectConfig loads --config or reportchain.toml from the working
// directory.
func loadProjectConfig() (*ProjectConfig, string, error) {
	path := projectConfigFile
	if cfgFile != "" {
		path = cfgFile
	}
	config, err := loadProjectConfigFromPath(path)
	if err != nil {
		return nil, path, err
	}
	return config, path, nil
}

func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config ProjectConfig
	if _, err := toml.Decode(string(data), &config); err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}

	return &config, nil
}

// loadProjectConfigSilent returns nil when there is no config file and
// warns on parse failures.
func loadProjectConfigSilent() *ProjectConfig {
	config, _, err := loadProjectConfig()
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		}
		return nil
	}
	return config
}
