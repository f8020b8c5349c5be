package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"chataide/internal/audit"
	"chataide/internal/config"
	"chataide/internal/site"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your chataide installation",
		Long: `Verifies that chataide's configuration, browser access, reply service,
providers and audit database are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("chataide doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'chataide init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				return fmt.Errorf("1 check(s) failed")
			}
			printPass("Config validation", "valid")
			passed++

			if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
				printFail("Data directory", err.Error())
				failed++
			} else {
				printPass("Data directory", cfg.General.DataDir)
				passed++
			}

			// Browser access
			if cfg.Browser.RemoteURL != "" {
				if err := checkDial(cfg.Browser.RemoteURL); err != nil {
					printFail("Remote browser", fmt.Sprintf("%s unreachable: %v", cfg.Browser.RemoteURL, err))
					failed++
				} else {
					printPass("Remote browser", cfg.Browser.RemoteURL)
					passed++
				}
			} else if info, err := os.Stat(cfg.Browser.ProfileDir); err != nil || !info.IsDir() {
				printWarn("Chrome profile", fmt.Sprintf("%s not created yet; run 'chataide login'", cfg.Browser.ProfileDir))
				warned++
			} else {
				printPass("Chrome profile", cfg.Browser.ProfileDir)
				passed++
			}

			if err := site.NewRegistry().LoadOverrides(cfg.Sites.OverridesFile, logger); err != nil {
				printFail("Site overrides", err.Error())
				failed++
			} else if _, err := os.Stat(cfg.Sites.OverridesFile); err == nil {
				printPass("Site overrides", cfg.Sites.OverridesFile)
				passed++
			}

			// Reply endpoints
			listening := 0
			for _, ep := range newBackend(cfg).Endpoints() {
				if dialable(ep) {
					listening++
				}
			}
			if listening == 0 {
				printWarn("Reply endpoints", "none listening; offline suggestions will be used until 'chataide serve' runs")
				warned++
				if err := checkPort(cfg.Server.Port); err != nil {
					printFail("Service port", fmt.Sprintf("port %d unavailable for 'chataide serve': %v", cfg.Server.Port, err))
					failed++
				} else {
					printPass("Service port", fmt.Sprintf(":%d available", cfg.Server.Port))
					passed++
				}
			} else {
				printPass("Reply endpoints", fmt.Sprintf("%d of %d listening", listening, cfg.Backend.PortSpan))
				passed++
			}

			// Reply service
			providerCount := 0
			for name, p := range cfg.Providers {
				if !p.Enabled {
					continue
				}
				providerCount++
				if name == "openai" && p.APIKey == "" {
					printWarn("Provider: "+name, "enabled but no API key configured")
					warned++
				} else {
					printPass("Provider: "+name, "configured")
					passed++
				}
			}
			if providerCount == 0 {
				printFail("Providers", "no providers enabled")
				failed++
			}

			if cfg.Server.PromptFile != "" {
				if _, err := os.Stat(cfg.Server.PromptFile); err != nil {
					printWarn("System prompt", fmt.Sprintf("%s missing; the built-in prompt is used", cfg.Server.PromptFile))
					warned++
				} else {
					printPass("System prompt", cfg.Server.PromptFile)
					passed++
				}
			}

			if cfg.Audit.Enabled {
				if err := checkDatabase(cfg.Audit.DBPath); err != nil {
					printFail("Audit database", err.Error())
					failed++
				} else {
					printPass("Audit database", cfg.Audit.DBPath)
					passed++
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running chataide.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nchataide should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! chataide is ready to run.\n")
			}
			return nil
		},
	}
}

// checkDatabase opens the audit journal, which also runs its migrations.
func checkDatabase(dbPath string) error {
	j, err := audit.NewSQLiteJournal(dbPath, logger)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := j.Recent(ctx, 1); err != nil {
		return fmt.Errorf("cannot read: %w", err)
	}
	return nil
}

// checkDial opens a TCP connection to the host of a ws:// or http:// URL.
func checkDial(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" || u.Scheme == "wss" {
			port = "443"
		}
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(u.Hostname(), port), 2*time.Second)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
