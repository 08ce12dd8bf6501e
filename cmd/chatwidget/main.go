package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/creastat/widget/config"
)

var (
	// Global flags
	configPath string
	apiURL     string
	tenantID   string
	storeFlag  string
	storePath  string
	verbose    bool

	logger *zap.Logger
	cfg    *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chatwidget",
	Short: "Terminal client for the embeddable chat widget",
	Long: `chatwidget runs the chat widget's session lifecycle in a terminal.

Configuration is read from --config (YAML), then CHATWIDGET_* environment
variables (a .env file in the working directory is loaded first), then flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = loadConfig()
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API origin (or set CHATWIDGET_API_URL)")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "Tenant id (or set CHATWIDGET_TENANT_ID)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Session cache driver: memory, file, redis, sqlite, postgres")
	rootCmd.PersistentFlags().StringVar(&storePath, "store-path", "", "Directory for the file session cache")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionCmd)
}

func loadConfig() (*config.Config, error) {
	config.LoadEnvFile()

	c := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		c = *loaded
	}
	if err := c.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if apiURL != "" {
		c.APIURL = apiURL
	}
	if tenantID != "" {
		c.TenantID = tenantID
	}
	if storeFlag != "" {
		c.Store.Driver = storeFlag
	}
	if storePath != "" {
		c.Store.Path = storePath
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
