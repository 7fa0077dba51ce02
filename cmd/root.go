package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/llmc-dev/llmc/internal/auth"
	"github.com/llmc-dev/llmc/internal/client"
	"github.com/llmc-dev/llmc/internal/config"
	"github.com/llmc-dev/llmc/internal/modelcache"
	"github.com/llmc-dev/llmc/internal/transport"
	"github.com/llmc-dev/llmc/internal/usage"
)

const (
	AppName = "llmc"
	Version = "0.3.0"
)

var (
	logger   *slog.Logger
	baseDir  string
	cfgMgr   *config.Manager
	registry *config.Registry
	keyStore *auth.FileStore
)

func init() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})
	logger = slog.New(handler)

	// A local .env can hold LLMC_* variables during development.
	_ = godotenv.Load()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		logger.Error("Failed to get home directory", "error", err)
		os.Exit(1)
	}

	baseDir = filepath.Join(homeDir, "."+AppName)
	if dir := os.Getenv("LLMC_CONFIG_DIR"); dir != "" {
		baseDir = dir
	}

	cfgMgr = config.NewManager(baseDir)
	keyStore = auth.NewFileStore(baseDir)
}

var rootCmd = &cobra.Command{
	Use:     AppName,
	Short:   "LLM client and OpenAI-compatible gateway",
	Long:    `Call any configured LLM provider from the command line, or serve them all behind one OpenAI-compatible HTTP endpoint.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		setupLogging(verbose)

		cfg := cfgMgr.Get()
		registry = config.NewRegistry(cfg)

		return keyStore.Load()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(aliasCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(usageCmd)
}

func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newClient assembles the full pipeline used by every network command.
func newClient() *client.Client {
	resolver := auth.NewResolver(keyStore, nil, logger)
	httpClient := transport.New(logger)

	return client.New(registry, resolver, httpClient, logger)
}

// openUsage attaches the usage recorder when the database can open;
// recording is best-effort and never blocks a command.
func openUsage(c *client.Client) *usage.Recorder {
	rec, err := usage.Open(baseDir)
	if err != nil {
		logger.Warn("Usage recording disabled", "error", err)
		return nil
	}

	c.SetUsageRecorder(rec)

	return rec
}

func newModelCache(c *client.Client) *modelcache.Cache {
	return modelcache.New(baseDir, c.ListModels, logger)
}

// resolveTarget maps a user-supplied model reference to a provider and
// upstream model name: aliases first, then provider:model, then the
// configured defaults.
func resolveTarget(providerFlag, modelRef string) (provider, model string, err error) {
	if p, m, ok := registry.ResolveAlias(modelRef); ok {
		return p, m, nil
	}

	if p, m, ok := strings.Cut(modelRef, ":"); ok && p != "" && m != "" && registry.Has(p) {
		return p, m, nil
	}

	if providerFlag != "" {
		if modelRef == "" {
			return "", "", fmt.Errorf("model name required")
		}

		return providerFlag, modelRef, nil
	}

	defProvider, defModel := registry.Defaults()
	if defProvider == "" {
		return "", "", fmt.Errorf("ambiguous model %q: use provider:model, set an alias, or configure a default provider", modelRef)
	}

	if modelRef == "" {
		modelRef = defModel
	}

	if modelRef == "" {
		return "", "", fmt.Errorf("no model given and no default model configured")
	}

	return defProvider, modelRef, nil
}
