package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/verity/internal/api"
	"github.com/ppiankov/verity/internal/logger"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fact-check HTTP API",
	Long: `Serve opens the index, loads the configured corpus files and answers
fact-check requests over HTTP until interrupted.

Endpoints:
  POST /v1/factcheck   verify a claim
  GET  /v1/search      nearest fact-checks for a query, no LLM call
  GET  /v1/sources     corpus publishers
  GET  /health         liveness and corpus size
  GET  /metrics        prometheus metrics

Example:
  verity serve --addr :8080
  VERITY_LLM_PROVIDER=ollama VERITY_LLM_MODEL=llama3 verity serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	serveCmd.Flags().StringSlice("corpus", nil, "corpus files to load before serving")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("corpus.files", serveCmd.Flags().Lookup("corpus"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.close(closeCtx)
	}()

	if err := a.loadCorpus(ctx); err != nil {
		return err
	}
	if a.limiter != nil {
		go a.limiter.Run(ctx)
	}

	srv := api.NewServer(api.Options{
		Config:   cfg.Server,
		Pipeline: a.pipeline,
		Limiter:  a.limiter,
		Metrics:  a.metrics,
		Version:  Version,
	})
	err = srv.Run(ctx)
	logger.Named("cli").Info().Msg("server stopped")
	return err
}
