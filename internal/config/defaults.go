package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "~/.chataide",
			LogLevel: "info",
		},
		Browser: BrowserConfig{
			ProfileDir:     "~/.chataide/chrome-profile",
			Headless:       false,
			StartURL:       "https://web.whatsapp.com",
			TimeoutSeconds: 30,
			DebugPort:      9222,
		},
		Backend: BackendConfig{
			Scheme:           "http",
			Host:             "localhost",
			BasePort:         5000,
			PortSpan:         3,
			Path:             "/generate-replies",
			AttemptTimeoutMs: 4000,
		},
		Sites: SitesConfig{
			OverridesFile: "~/.chataide/sites.yaml",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            5000,
			PromptFile:      "~/.chataide/prompts/system_prompt.txt",
			DefaultProvider: "openai",
			FailoverChain:   []string{"ollama"},
			MaxTokens:       500,
			Temperature:     0.7,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:      true,
				APIBase:      "https://api.openai.com/v1",
				APIKey:       "${OPENAI_API_KEY}",
				DefaultModel: "gpt-4",
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Audit: AuditConfig{
			Enabled:       true,
			DBPath:        "~/.chataide/audit.db",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
