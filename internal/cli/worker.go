package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/transport"
	"github.com/aristath/nexus/internal/workers"
	"github.com/aristath/nexus/pkg/logger"
)

const reconnectDelay = 5 * time.Second

type workerOptions struct {
	id            string
	capabilities  []string
	delay         time.Duration
	heartbeat     time.Duration
	maxConcurrent int
	logLevel      string
}

func newWorkerCmd(opts *options) *cobra.Command {
	wopts := &workerOptions{}
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker that executes delegated tasks over WebSocket",
		Long: `Runs a worker process. The worker registers with the orchestrator,
connects to the WebSocket endpoint, executes the tasks it receives and sends
the results back. The server must run with TASK_TRANSPORT=websocket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, opts, wopts)
		},
	}

	cmd.Flags().StringVar(&wopts.id, "id", "", "Worker ID (generated when empty)")
	cmd.Flags().StringSliceVar(&wopts.capabilities, "capabilities",
		[]string{domain.CapabilityEquityTrader, domain.CapabilityCryptoTrader, domain.CapabilityRiskAnalyzer},
		"Capabilities to serve")
	cmd.Flags().DurationVar(&wopts.delay, "delay", 500*time.Millisecond, "Simulated execution latency")
	cmd.Flags().DurationVar(&wopts.heartbeat, "heartbeat", 30*time.Second, "Heartbeat interval")
	cmd.Flags().IntVar(&wopts.maxConcurrent, "max-concurrent", 4, "Maximum concurrent tasks")
	cmd.Flags().StringVar(&wopts.logLevel, "log-level", "info", "Log level")
	return cmd
}

// executorsFor returns one executor per requested capability
func executorsFor(capabilities []string) ([]workers.Executor, error) {
	var executors []workers.Executor
	for _, c := range capabilities {
		switch strings.TrimSpace(c) {
		case domain.CapabilityEquityTrader:
			executors = append(executors, workers.NewEquityTrader(nil))
		case domain.CapabilityCryptoTrader:
			executors = append(executors, workers.NewCryptoTrader(nil))
		case domain.CapabilityRiskAnalyzer:
			executors = append(executors, workers.NewRiskAnalyst())
		default:
			return nil, fmt.Errorf("unknown capability %q", c)
		}
	}
	if len(executors) == 0 {
		return nil, fmt.Errorf("at least one capability is required")
	}
	return executors, nil
}

// websocketURL maps http://host:port to ws://host:port/api/mcu/ws
func websocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/mcu/ws"
	return u.String(), nil
}

func runWorker(ctx context.Context, opts *options, wopts *workerOptions) error {
	log := logger.New(logger.Config{Level: wopts.logLevel, Pretty: true})

	if wopts.id == "" {
		wopts.id = "worker-" + uuid.NewString()[:8]
	}
	executors, err := executorsFor(wopts.capabilities)
	if err != nil {
		return err
	}
	wsURL, err := websocketURL(opts.server)
	if err != nil {
		return err
	}

	client := opts.client()

	for {
		if err := client.RegisterWorker(wopts.id, wopts.capabilities, wsURL); err != nil {
			log.Error().Err(err).Msg("Failed to register worker")
		} else if err := serveOnce(ctx, client, wsURL, wopts, executors); err != nil {
			log.Error().Err(err).Str("worker_id", wopts.id).Msg("Worker connection lost")
		}

		select {
		case <-ctx.Done():
			log.Info().Str("worker_id", wopts.id).Msg("Worker stopped")
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func serveOnce(ctx context.Context, client *Client, wsURL string, wopts *workerOptions, executors []workers.Executor) error {
	log := logger.New(logger.Config{Level: wopts.logLevel, Pretty: true})

	conn, err := transport.DialWebSocket(ctx, wsURL, wopts.id, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	w := workers.New(wopts.id, workers.Config{
		Delay:             wopts.delay,
		HeartbeatInterval: wopts.heartbeat,
		MaxConcurrent:     wopts.maxConcurrent,
	}, conn, client, log, executors...)

	log.Info().
		Str("worker_id", wopts.id).
		Strs("capabilities", w.Capabilities()).
		Str("url", wsURL).
		Msg("Worker connected")
	return w.Run(ctx)
}
