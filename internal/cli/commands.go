package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type options struct {
	server  string
	timeout time.Duration
	output  string
	user    string
}

func (o *options) client() *Client {
	return NewClient(o.server, o.timeout)
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "nexusctl",
		Short: "nexusctl - command line client for the Nexus portfolio coordinator",
		Long: `nexusctl talks to a running Nexus server. It manages cash flows, risk
profiles, goals and trading settings, inspects the task orchestrator, and can
run a worker process that executes delegated tasks over WebSocket.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != "json" && opts.output != "yaml" {
				return fmt.Errorf("invalid output format %q (json|yaml)", opts.output)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("NEXUS_SERVER", "http://localhost:8000"), "Nexus server base URL")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "Output format (json|yaml)")
	rootCmd.PersistentFlags().StringVarP(&opts.user, "user", "u", "", "User ID")

	rootCmd.AddCommand(newPortfolioCmd(opts))
	rootCmd.AddCommand(newCashFlowCmd(opts, "deposit", "DEPOSIT"))
	rootCmd.AddCommand(newCashFlowCmd(opts, "withdraw", "WITHDRAWAL"))
	rootCmd.AddCommand(newRiskProfileCmd(opts))
	rootCmd.AddCommand(newGoalCmd(opts))
	rootCmd.AddCommand(newSettingsCmd(opts))
	rootCmd.AddCommand(newMarketCmd(opts))
	rootCmd.AddCommand(newDecisionsCmd(opts))
	rootCmd.AddCommand(newMCUCmd(opts))
	rootCmd.AddCommand(newWorkerCmd(opts))

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireUser(opts *options) error {
	if opts.user == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}

func newPortfolioCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio",
		Short: "Show a user's portfolio, allocation, risk and recent decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			data, err := opts.client().Get("/api/portfolio?user_id=" + url.QueryEscape(opts.user))
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, data)
		},
	}
}

func newCashFlowCmd(opts *options, use, kind string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " AMOUNT",
		Short: fmt.Sprintf("Record a %s for a user", strings.ToLower(kind)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			amount, err := strconv.ParseFloat(args[0], 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("invalid amount %q", args[0])
			}
			data, err := opts.client().Post("/api/cash_flow", map[string]interface{}{
				"user_id": opts.user,
				"amount":  amount,
				"type":    kind,
			})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, data)
		},
	}
}

func newRiskProfileCmd(opts *options) *cobra.Command {
	var score int
	cmd := &cobra.Command{
		Use:   "risk-profile LEVEL",
		Short: "Set a user's risk level (conservative, moderate, aggressive)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			body := map[string]interface{}{
				"user_id":    opts.user,
				"risk_level": args[0],
			}
			if cmd.Flags().Changed("score") {
				body["risk_score"] = score
			}
			data, err := opts.client().Post("/api/risk_profile", body)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, data)
		},
	}
	cmd.Flags().IntVar(&score, "score", 0, "Risk score 1-10")
	return cmd
}

func newGoalCmd(opts *options) *cobra.Command {
	var (
		target   float64
		date     string
		priority string
	)
	cmd := &cobra.Command{
		Use:   "goal NAME",
		Short: "Add a financial goal for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			data, err := opts.client().Post("/api/goals", map[string]interface{}{
				"user_id":       opts.user,
				"name":          args[0],
				"target_amount": target,
				"target_date":   date,
				"priority":      priority,
			})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, data)
		},
	}
	cmd.Flags().Float64Var(&target, "target", 0, "Target amount")
	cmd.Flags().StringVar(&date, "date", "", "Target date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&priority, "priority", "medium", "Priority (high, medium, low)")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func newSettingsCmd(opts *options) *cobra.Command {
	var trading bool
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Enable or disable trading for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			data, err := opts.client().Post("/api/user/settings", map[string]interface{}{
				"user_id":         opts.user,
				"trading_enabled": trading,
			})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, data)
		},
	}
	cmd.Flags().BoolVar(&trading, "trading", true, "Whether trading is enabled")
	return cmd
}

func newMarketCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Show the market summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.client().Get("/api/market")
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, data)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "query QUESTION",
		Short: "Ask a free-text market question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.client().Post("/api/market/query", map[string]string{
				"query": strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, data)
		},
	})
	return cmd
}

func newDecisionsCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Show a user's recent decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			q := url.Values{}
			q.Set("user_id", opts.user)
			q.Set("limit", strconv.Itoa(limit))
			data, err := opts.client().Get("/api/decisions?" + q.Encode())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, data)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of decisions")
	return cmd
}

func newMCUCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcu",
		Short: "Inspect the task orchestrator",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show registered workers and task counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.client().Get("/api/mcu/status")
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, data)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "task TASK_ID",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.client().Get("/api/mcu/tasks/" + url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, data)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Cancel a pending or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.client().Delete("/api/mcu/tasks/" + url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, data)
		},
	})
	return cmd
}

// render pretty-prints a JSON document in the requested format
func render(w io.Writer, format string, data json.RawMessage) error {
	if format == "yaml" {
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		out, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		_, err = w.Write(out)
		return err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
