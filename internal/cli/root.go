// Package cli implements the verity command line
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/verity/internal/logger"
	"github.com/ppiankov/verity/internal/model"
)

// Version is set at build time with -ldflags "-X github.com/ppiankov/verity/internal/cli.Version=..."
var Version = "v0.1.0-dev"

var (
	cfgFile string
	verbose bool

	// cfg is read once in PersistentPreRunE and never changed afterwards
	cfg model.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "verity",
	Short: "Verity - claim verification against published fact-checks",
	Long: `Verity checks a claim against a corpus of published fact-checks.

A claim is embedded, matched against the fact-check index and, when matching
evidence exists, summarized by a language model into a verdict with sources.
Claims without matching evidence are reported as unverified.

Verity never judges a claim on its own; it reports what fact-checkers found.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = loaded

		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger.Init(logger.Options{
			Level:   level,
			Format:  cfg.Log.Format,
			Service: "verity",
			Writer:  os.Stderr,
		})
		if used := viper.ConfigFileUsed(); used != "" {
			logger.Named("cli").Debug().Str("file", used).Msg("using config file")
		}
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number of Verity.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("verity %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.verity/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().String("log-format", "", "log format: console or json")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig points viper at the config file and the VERITY_ environment
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".verity"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// VERITY_LLM_API_KEY maps to llm.api_key
	viper.SetEnvPrefix("VERITY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
