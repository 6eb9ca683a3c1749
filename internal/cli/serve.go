package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lsp-framework/internal/common"
	"lsp-framework/internal/config"
	"lsp-framework/internal/server"
)

var (
	configPath    string
	logLevel      string
	listenAddr    string
	transportName string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the language server",
	Long: `Start the language server on stdio, or on a tcp or websocket listener
when --listen is given. All logging goes to stderr; stdout carries the
protocol.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Serve sessions on this address instead of stdio")
	serveCmd.Flags().StringVar(&transportName, "transport", "", "Transport: stdio, tcp, or websocket (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
		if cfg.Transport == "" || cfg.Transport == config.TransportStdio {
			cfg.Transport = config.TransportWebSocket
		}
	}
	if transportName != "" {
		cfg.Transport = transportName
	}
	if cfg.Transport == "" {
		cfg.Transport = config.TransportStdio
	}

	logger, err := common.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := func() (*server.Server, error) {
		return server.New(logger, cfg)
	}

	switch cfg.Transport {
	case config.TransportWebSocket:
		return server.ListenWebSocket(ctx, logger, cfg.Listen, factory)
	case config.TransportTCP:
		return server.ListenTCP(ctx, logger, cfg.Listen, factory)
	case config.TransportStdio:
		srv, err := factory()
		if err != nil {
			return err
		}
		logger.Info("serving on stdio", zap.String("logLevel", cfg.LogLevel))
		return srv.Serve(ctx, server.StdioStream())
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// loadConfig reads the configured file or falls back to defaults when
// no path was given.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.GetDefaultConfig(), nil
	}
	return config.LoadConfig(configPath)
}
