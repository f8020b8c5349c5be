package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chataide/internal/config"

	"github.com/spf13/cobra"
)

// providerMeta describes an LLM provider option offered by setup.
type providerMeta struct {
	Name         string
	NeedsKey     bool
	EnvVar       string
	APIBase      string
	DefaultModel string
}

var knownProviders = []providerMeta{
	{Name: "openai", NeedsKey: true, EnvVar: "OPENAI_API_KEY", APIBase: "https://api.openai.com/v1", DefaultModel: "gpt-4"},
	{Name: "ollama", NeedsKey: false, APIBase: "http://localhost:11434", DefaultModel: "llama3.1:8b"},
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup: browser → reply provider → endpoints → save config",
		Long:  "Asks how to reach Chrome, which LLM provider the reply service should use (and its API key), and where the reply endpoints listen. Writes config to the path used by --config or default.",
		RunE:  runSetup,
	}
}

func runSetup(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]config.ProviderConfig)
	}

	reader := bufio.NewReader(os.Stdin)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(os.Stdout, " [%s]: ", def)
		} else {
			fmt.Fprint(os.Stdout, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && def != "" {
			return def, nil
		}
		return s, nil
	}

	fmt.Println("\n--- Step 1: Browser ---")
	fmt.Println("Leave empty to let chataide launch Chrome with its own profile,")
	fmt.Println("or enter the DevTools URL of a Chrome started with --remote-debugging-port.")
	fmt.Fprint(os.Stdout, "Remote browser URL")
	remote, err := prompt(cfg.Browser.RemoteURL)
	if err != nil {
		return err
	}
	cfg.Browser.RemoteURL = remote
	if remote == "" {
		fmt.Fprint(os.Stdout, "Chat page to open")
		start, err := prompt(cfg.Browser.StartURL)
		if err != nil {
			return err
		}
		cfg.Browser.StartURL = start
		fmt.Fprintf(os.Stdout, "  Chrome profile: %s (run 'chataide login' once to sign in)\n", cfg.Browser.ProfileDir)
	} else {
		fmt.Fprintf(os.Stdout, "  Attaching to: %s\n", remote)
	}

	fmt.Println("\n--- Step 2: Reply provider ---")
	for i, p := range knownProviders {
		fmt.Fprintf(os.Stdout, "  %d) %s", i+1, p.Name)
		if p.NeedsKey {
			fmt.Fprintf(os.Stdout, " (set %s)", p.EnvVar)
		}
		fmt.Println()
	}
	fmt.Fprint(os.Stdout, "Choose provider (1–"+fmt.Sprint(len(knownProviders))+")")
	defNum := "1"
	for i, p := range knownProviders {
		if p.Name == cfg.Server.DefaultProvider {
			defNum = fmt.Sprint(i + 1)
			break
		}
	}
	choice, err := prompt(defNum)
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(knownProviders) {
		idx = 1
	}
	prov := knownProviders[idx-1]
	cfg.Server.DefaultProvider = prov.Name

	p := cfg.Providers[prov.Name]
	p.Enabled = true
	if p.APIBase == "" {
		p.APIBase = prov.APIBase
	}
	if p.DefaultModel == "" {
		p.DefaultModel = prov.DefaultModel
	}
	if prov.NeedsKey {
		fmt.Fprintf(os.Stdout, "API key: paste key or env var (e.g. ${%s})", prov.EnvVar)
		key, err := prompt("${" + prov.EnvVar + "}")
		if err != nil {
			return err
		}
		p.APIKey = key
	}
	cfg.Providers[prov.Name] = p

	// The other provider stays in the failover chain only if it is enabled.
	var chain []string
	for _, name := range cfg.Server.FailoverChain {
		if name != prov.Name && cfg.Providers[name].Enabled {
			chain = append(chain, name)
		}
	}
	cfg.Server.FailoverChain = chain
	fmt.Fprintf(os.Stdout, "  Using provider: %s\n", prov.Name)

	fmt.Println("\n--- Step 3: Reply endpoints ---")
	fmt.Fprint(os.Stdout, "First reply service port")
	portStr, err := prompt(fmt.Sprint(cfg.Backend.BasePort))
	if err != nil {
		return err
	}
	var port int
	if n, _ := fmt.Sscanf(portStr, "%d", &port); n == 1 && port > 0 && port < 65536 {
		cfg.Backend.BasePort = port
		cfg.Server.Port = port
	}
	fmt.Fprintf(os.Stdout, "  Clients try ports %d-%d; 'chataide serve' listens on %d\n",
		cfg.Backend.BasePort, cfg.Backend.BasePort+cfg.Backend.PortSpan-1, cfg.Server.Port)

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nConfig saved to %s\n", cfgPath)
	fmt.Println("Next: run 'chataide serve' for the reply service, then 'chataide insert' with your chat open.")
	return nil
}
