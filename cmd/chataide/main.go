package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"chataide/internal/backend"
	"chataide/internal/config"
	"chataide/internal/provider"
	"chataide/internal/server"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	jsonOutput bool
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:          "chataide",
		Short:        "chataide: reply suggestions for the chat open in your browser",
		Long:         "chataide reads the conversation in your WhatsApp Web or Messenger tab, asks a reply service for three suggestions, and types the one you pick into the message box.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.chataide/config.json)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(initCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(suggestCmd())
	root.AddCommand(insertCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(serviceCmd())
	root.AddCommand(setupCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config (or defaults when there is no file yet) and
// reconfigures the logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := setupLogger(cfg.General); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(g config.GeneralConfig) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	var out io.Writer = os.Stderr
	if g.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(g.LogFile), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(g.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = f
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config, data directory and system prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if _, err := os.Stat(cfgPath); err == nil {
				logger.Info("config already exists, keeping it", "config", cfgPath)
			} else if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}

			dataDir := config.ExpandPath(cfg.General.DataDir)
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return err
			}
			prompt := config.ExpandPath(cfg.Server.PromptFile)
			if _, err := os.Stat(prompt); os.IsNotExist(err) {
				if err := os.MkdirAll(filepath.Dir(prompt), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(prompt, []byte(server.DefaultSystemPrompt+"\n"), 0o644); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath, "dataDir", dataDir, "prompt", prompt)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reply service (POST /generate-replies)",
		Long:  "Starts the HTTP service that turns conversation messages into three reply suggestions using the configured LLM providers. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signalContext()
			defer stop()

			prov, err := provider.NewFactory(cfg, logger).Chain()
			if err != nil {
				return fmt.Errorf("reply service needs a provider: %w", err)
			}
			if err := prov.Healthy(ctx); err != nil {
				logger.Warn("provider unhealthy at startup", "provider", prov.Name(), "err", err)
			} else {
				logger.Info("provider healthy", "provider", prov.Name())
			}

			metricsPath := ""
			if cfg.Metrics.Enabled {
				metricsPath = cfg.Metrics.Endpoint
			}
			srv := server.New(server.Config{
				Host:        cfg.Server.Host,
				Port:        cfg.Server.Port,
				Provider:    prov,
				PromptFile:  cfg.Server.PromptFile,
				MaxTokens:   cfg.Server.MaxTokens,
				Temperature: cfg.Server.Temperature,
				APIKey:      cfg.Server.APIKey,
				MetricsPath: metricsPath,
				LLMTimeout:  config.ReplyBudget(cfg),
				Logger:      logger,
			})
			return srv.Start(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default: server.port from config)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show reply endpoints and provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, statErr := os.Stat(cfgPath)
			logger.Info("config", "path", cfgPath, "loaded", statErr == nil)

			for _, ep := range newBackend(cfg).Endpoints() {
				logger.Info("reply endpoint", "url", ep, "listening", dialable(ep))
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			prov, err := provider.NewFactory(cfg, logger).Chain()
			if err != nil {
				logger.Info("provider", "configured", false, "err", err)
				return nil
			}
			if err := prov.Healthy(ctx); err != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", false, "err", err)
			} else {
				logger.Info("provider", "name", prov.Name(), "healthy", true)
			}
			return nil
		},
	}
}

func newBackend(cfg *config.Config) *backend.Client {
	var age *int
	if cfg.Backend.Age > 0 {
		a := cfg.Backend.Age
		age = &a
	}
	return backend.New(backend.Config{
		Scheme:         cfg.Backend.Scheme,
		Host:           cfg.Backend.Host,
		BasePort:       cfg.Backend.BasePort,
		PortSpan:       cfg.Backend.PortSpan,
		Path:           cfg.Backend.Path,
		AttemptTimeout: time.Duration(cfg.Backend.AttemptTimeoutMs) * time.Millisecond,
		Age:            age,
		Logger:         logger,
	})
}

// dialable reports whether something accepts TCP connections at the
// endpoint's host and port.
func dialable(endpoint string) bool {
	rest := endpoint
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	conn, err := net.DialTimeout("tcp", rest, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. backend.basePort)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			return printJSON(val)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. server.defaultProvider ollama)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if jsonOutput {
				return printJSON(config.Sanitize(cfg))
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
