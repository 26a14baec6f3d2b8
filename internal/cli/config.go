package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/verity/internal/model"
)

// secretKeys never appear in the default document, so they are bound to the environment by name
var secretKeys = []string{
	"embedding.api_key",
	"llm.api_key",
	"index.postgres_url",
	"rate_limit.api_keys",
	"cache.persistent_dir",
	"corpus.files",
}

// loadConfig layers defaults, the config file, VERITY_* variables and flags
func loadConfig() (model.Config, error) {
	if err := setDefaults(viper.GetViper()); err != nil {
		return model.Config{}, err
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return model.Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c model.Config
	if err := viper.Unmarshal(&c); err != nil {
		return model.Config{}, fmt.Errorf("decode config: %w", err)
	}
	applyProviderKeys(&c)
	return c, nil
}

// setDefaults registers every key of the default config so env overrides resolve
func setDefaults(v *viper.Viper) error {
	data, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	dv := viper.New()
	dv.SetConfigType("yaml")
	if err := dv.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}
	for _, k := range dv.AllKeys() {
		v.SetDefault(k, dv.Get(k))
	}
	for _, k := range secretKeys {
		_ = v.BindEnv(k)
	}
	return nil
}

// applyProviderKeys falls back to the providers' conventional variables
func applyProviderKeys(c *model.Config) {
	if c.LLM.APIKey == "" {
		switch strings.ToLower(c.LLM.Provider) {
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic", "claude":
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "huggingface", "hf":
			c.LLM.APIKey = os.Getenv("HF_TOKEN")
		}
	}
	if c.LLM.BaseURL == "" && strings.EqualFold(c.LLM.Provider, "ollama") {
		c.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if c.Embedding.APIKey == "" && strings.EqualFold(c.Embedding.Backend, "openai") {
		c.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// redacted returns a copy safe to print
func redacted(c model.Config) model.Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.LLM.APIKey = mask(c.LLM.APIKey)
	c.Embedding.APIKey = mask(c.Embedding.APIKey)
	c.Index.PostgresURL = mask(c.Index.PostgresURL)
	keys := make([]string, len(c.RateLimit.APIKeys))
	for i, k := range c.RateLimit.APIKeys {
		keys[i] = mask(k)
	}
	c.RateLimit.APIKeys = keys
	return c
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Verity configuration",
	Long: `Manage Verity configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (VERITY_*)
3. Config file (~/.verity/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after merging defaults, config file, env vars and flags. Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configFile := viper.ConfigFileUsed(); configFile != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n\n", configFile)
		} else {
			fmt.Fprintf(os.Stderr, "No configuration file found (using defaults)\n\n")
		}

		yamlData, err := yaml.Marshal(redacted(cfg))
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(yamlData))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize default configuration file",
	Long:  `Create a default configuration file at ~/.verity/config.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		configPath := cfgFile
		if configPath == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("error finding home directory: %w", err)
			}
			configPath = filepath.Join(home, ".verity", "config.yaml")
		}

		// Check if config already exists
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists: %s\nUse 'verity config show' to view it, or delete it first to recreate", configPath)
		}
		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}

		yamlData, err := yaml.Marshal(model.DefaultConfig())
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}

		var buf bytes.Buffer
		buf.WriteString("# Verity Configuration File\n")
		buf.WriteString("#\n")
		buf.WriteString("# Configuration hierarchy (highest to lowest priority):\n")
		buf.WriteString("#   1. CLI flags\n")
		buf.WriteString("#   2. Environment variables (VERITY_*, e.g. VERITY_LLM_API_KEY)\n")
		buf.WriteString("#   3. This config file\n")
		buf.WriteString("#   4. Built-in defaults\n\n")
		buf.Write(yamlData)
		buf.WriteString("\n# API keys are better kept in the environment:\n")
		buf.WriteString("#   export VERITY_LLM_API_KEY=sk-...\n")
		buf.WriteString("#   export VERITY_RATE_LIMIT_API_KEYS=key1,key2\n")

		if err := os.WriteFile(configPath, buf.Bytes(), 0o600); err != nil {
			return fmt.Errorf("error writing config: %w", err)
		}

		fmt.Printf("✓ Created default configuration: %s\n", configPath)
		fmt.Printf("\nTo view the configuration:\n")
		fmt.Printf("  verity config show\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
