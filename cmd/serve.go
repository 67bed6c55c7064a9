package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/csv-analyst/internal/ai"
	"github.com/KaramelBytes/csv-analyst/internal/session"
	"github.com/KaramelBytes/csv-analyst/internal/web"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the browser UI and JSON API",
	Example: `  csvanalyst serve
  csvanalyst serve --addr 0.0.0.0:8501 --provider ollama --model llama3.1:8b`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") && serveAddr != "" {
			c.HTTPAddr = serveAddr
		}
		logger := newLogger(c)

		a, err := newAnalyst(c, logger)
		if err != nil {
			if !errors.Is(err, ai.ErrMissingAPIKey) {
				return err
			}
			// uploads, previews and charts still work without a model
			logger.Warn("no API key configured; questions are disabled", slog.String("provider", c.DefaultProvider))
			a = nil
		}

		ctx := cmd.Context()
		sessions := session.NewStore(c.SessionTTL(), c.AskRatePerMin, c.AskBurst)
		go sessions.Run(ctx, time.Minute)

		server := &http.Server{
			Addr:              c.HTTPAddr,
			Handler:           web.NewHandler(c, web.Dependencies{Logger: logger, Analyst: a, Sessions: sessions}),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		}

		serveErr := make(chan error, 1)
		go func() {
			logger.Info("starting web server",
				slog.String("addr", c.HTTPAddr),
				slog.String("provider", c.DefaultProvider),
				slog.String("model", c.DefaultModel),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Serving on http://%s\n", c.HTTPAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		select {
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("web server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down web server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides http_addr)")
}
