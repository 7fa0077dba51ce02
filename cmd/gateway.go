package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmc-dev/llmc/internal/gateway"
	"github.com/llmc-dev/llmc/internal/process"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the OpenAI-compatible gateway",
	Long: `Serve every configured provider behind one OpenAI-compatible
endpoint. Clients address models as provider:model, or by bare name
when --provider pins the gateway to one provider.`,
	RunE: runGateway,
}

var gatewayStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway in the background",
	RunE: func(_ *cobra.Command, _ []string) error {
		procMgr := process.NewManager(baseDir)

		started, err := procMgr.StartServiceIfNeeded()
		if err != nil {
			return err
		}

		cfg := cfgMgr.Get()

		if started {
			color.Green("Gateway started (pid %d) on http://%s:%d", procMgr.ReadPID(), cfg.Host, cfg.Port)
		} else {
			color.Yellow("Gateway already running (pid %d)", procMgr.ReadPID())
		}

		return nil
	},
}

var gatewayStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Run: func(_ *cobra.Command, _ []string) {
		procMgr := process.NewManager(baseDir)
		cfg := cfgMgr.Get()

		if procMgr.IsRunning() {
			color.Green("Gateway running (pid %d) on http://%s:%d", procMgr.ReadPID(), cfg.Host, cfg.Port)
		} else {
			color.Yellow("Gateway not running")
		}
	},
}

var gatewayStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running gateway",
	RunE: func(_ *cobra.Command, _ []string) error {
		procMgr := process.NewManager(baseDir)
		if !procMgr.IsRunning() {
			return fmt.Errorf("gateway is not running")
		}

		if err := procMgr.Stop(); err != nil {
			return err
		}

		color.Green("Gateway stopped")

		return nil
	},
}

func init() {
	gatewayCmd.Flags().String("host", "", "listen host (default from config)")
	gatewayCmd.Flags().Int("port", 0, "listen port (default from config)")
	gatewayCmd.Flags().String("provider", "", "restrict the gateway to one provider")
	gatewayCmd.Flags().String("model", "", "force every request to one model")
	gatewayCmd.Flags().String("key", "", "inbound API key (generated when omitted)")

	gatewayCmd.AddCommand(gatewayStartCmd)
	gatewayCmd.AddCommand(gatewayStatusCmd)
	gatewayCmd.AddCommand(gatewayStopCmd)
}

func runGateway(cmd *cobra.Command, _ []string) error {
	cfg := cfgMgr.Get()

	host, _ := cmd.Flags().GetString("host")
	if host == "" {
		host = cfg.Host
	}

	port, _ := cmd.Flags().GetInt("port")
	if port == 0 {
		port = cfg.Port
	}

	providerFlag, _ := cmd.Flags().GetString("provider")
	if providerFlag != "" && !registry.Has(providerFlag) {
		return fmt.Errorf("unknown provider %q", providerFlag)
	}

	modelFlag, _ := cmd.Flags().GetString("model")
	key, _ := cmd.Flags().GetString("key")

	cl := newClient()
	if rec := openUsage(cl); rec != nil {
		defer rec.Close()
	}

	cache := newModelCache(cl)

	srv := gateway.NewServer(registry, cl, cache, logger,
		gateway.WithFilter(gateway.Filter{Provider: providerFlag, Model: modelFlag}),
		gateway.WithAPIKey(key),
	)

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	color.Green("Gateway listening on http://%s:%d", host, port)

	return srv.ListenAndServe(ctx, host, port)
}
