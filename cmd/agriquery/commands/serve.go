package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/DevjeetSahu/agriquery-go/internal/logging"
	"github.com/DevjeetSahu/agriquery-go/internal/server"
	"github.com/DevjeetSahu/agriquery-go/internal/tracing"
)

// NewServeCmd constructs the `agriquery serve` command, which starts the
// HTTP server fronting the query-answering engine.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agriquery HTTP server",
		Long: `Start the agriquery HTTP server.

The server exposes the query-answering engine over REST: single-shot answers,
workflow execution, index rebuilds, answer history, health/readiness probes,
and Prometheus metrics on /metrics.

Examples:
  agriquery serve
  agriquery serve --port 9090
  MODEL_PROVIDER=ollama agriquery serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			core, err := buildCore(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer core.Close()

			srv, err := server.New(core.Engine, core.History, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: core.Pingers,
				APIKey:  os.Getenv("AGRIQUERY_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
