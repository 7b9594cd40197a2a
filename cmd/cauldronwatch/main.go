package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/cauldronwatch/internal/assistant"
	"github.com/stellarlinkco/cauldronwatch/internal/config"
	"github.com/stellarlinkco/cauldronwatch/internal/dashboard"
	"github.com/stellarlinkco/cauldronwatch/internal/dataset"
	"github.com/stellarlinkco/cauldronwatch/internal/gateway"
	"github.com/stellarlinkco/cauldronwatch/internal/telemetry"
	"github.com/stellarlinkco/cauldronwatch/internal/transcript"
)

const (
	cliSession     = "cli"
	missingKeyHint = "API key not set. Run 'cauldronwatch onboard' or set CAULDRON_API_KEY / OPENROUTER_API_KEY"
)

// Options carries injectable dependencies for the assistant commands.
type Options struct {
	ModelFactory assistant.ModelFactory
	Stdin        io.Reader
	Stdout       io.Writer
	Stderr       io.Writer
}

func (o Options) withDefaults() Options {
	if o.ModelFactory == nil {
		o.ModelFactory = assistant.NewModel
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

var rootCmd = &cobra.Command{
	Use:   "cauldronwatch",
	Short: "cauldronwatch - potion cauldron network dashboard",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Serve the dashboard, live updates and chat channels",
	RunE:  runGateway,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print one set of synthesized readings and the network summary",
	RunE:  runSnapshot,
}

var discrepanciesCmd = &cobra.Command{
	Use:   "discrepancies",
	Short: "Print synthesized ticket discrepancies",
	RunE:  runDiscrepancies,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the hourly historical volume series",
	RunE:  runHistory,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print daily ticket statistics and couriers under review",
	RunE:  runStats,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the network assistant in single message or REPL mode",
	RunE:  runChat,
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the discrepancy analysis agent once and print its report",
	RunE:  runAgent,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Write the default config",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cauldronwatch status",
	RunE:  runStatus,
}

var (
	messageFlag    string
	clearFlag      bool
	seedFlag       uint64
	daysFlag       int
	severityFlag   string
	unresolvedFlag bool
)

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	chatCmd.Flags().BoolVar(&clearFlag, "clear", false, "Reset the chat transcript")
	for _, c := range []*cobra.Command{snapshotCmd, discrepanciesCmd, historyCmd, statsCmd, agentCmd} {
		c.Flags().Uint64Var(&seedFlag, "seed", 0, "Random seed for reproducible output (0 uses the config or the clock)")
	}
	historyCmd.Flags().IntVar(&daysFlag, "days", 0, "Number of days of history (default from config)")
	discrepanciesCmd.Flags().StringVar(&severityFlag, "severity", "", "Only show low, medium or high")
	discrepanciesCmd.Flags().BoolVar(&unresolvedFlag, "unresolved", false, "Only show unresolved discrepancies")
	rootCmd.AddCommand(gatewayCmd, snapshotCmd, discrepanciesCmd, historyCmd, statsCmd, chatCmd, agentCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

// newHub builds a one-shot hub for the synthesis commands.
func newHub() (*config.Config, *dashboard.Hub, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	data, err := dataset.Open(cfg.Dashboard.DatasetDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load dataset: %w", err)
	}
	seed := cfg.Dashboard.Seed
	if seedFlag != 0 {
		seed = seedFlag
	}
	return cfg, dashboard.NewHub(data, telemetry.NewSource(seed)), nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	_, hub, err := newHub()
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"readings": hub.Readings(),
		"summary":  hub.Summary(),
	})
}

func runDiscrepancies(cmd *cobra.Command, args []string) error {
	_, hub, err := newHub()
	if err != nil {
		return err
	}
	f := dashboard.DiscrepancyFilter{UnresolvedOnly: unresolvedFlag}
	if severityFlag != "" {
		switch sev := telemetry.Severity(strings.ToLower(severityFlag)); sev {
		case telemetry.SeverityLow, telemetry.SeverityMedium, telemetry.SeverityHigh:
			f.Severity = sev
		default:
			return fmt.Errorf("unknown severity %q", severityFlag)
		}
	}
	ds := hub.Discrepancies(f)
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"discrepancies": ds,
		"counts":        telemetry.SeverityCounts(ds),
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, hub, err := newHub()
	if err != nil {
		return err
	}
	days := daysFlag
	if days <= 0 {
		days = cfg.Dashboard.HistoryDays
	}
	return printJSON(cmd.OutOrStdout(), hub.History(days))
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, hub, err := newHub()
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"daily":           hub.DailyStats(),
		"flaggedCouriers": hub.FlaggedCouriers(cfg.Dashboard.CourierFlagAt),
	})
}

func newModel(cfg *config.Config, factory assistant.ModelFactory) (assistant.Model, error) {
	m, err := factory(cfg)
	if errors.Is(err, assistant.ErrMissingAPIKey) {
		return nil, errors.New(missingKeyHint)
	}
	if err != nil {
		return nil, fmt.Errorf("create model: %w", err)
	}
	return m, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(Options{Stdout: cmd.OutOrStdout()})
}

// runChatWithOptions runs the chat with injectable dependencies for testing
func runChatWithOptions(opts Options) error {
	opts = opts.withDefaults()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := transcript.Open(cfg)
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}
	defer store.Close()

	if clearFlag {
		if err := store.Clear(cliSession); err != nil {
			return fmt.Errorf("clear transcript: %w", err)
		}
		fmt.Fprintln(opts.Stdout, transcript.WelcomeMessage)
		return nil
	}

	m, err := newModel(cfg, opts.ModelFactory)
	if err != nil {
		return err
	}
	conv := assistant.NewConversation(assistant.New(m, cfg.Assistant), store)
	ctx := context.Background()

	// Single message mode
	if messageFlag != "" {
		msgs, err := conv.Send(ctx, cliSession, messageFlag)
		if msgs == nil {
			return err
		}
		fmt.Fprintln(opts.Stdout, msgs[len(msgs)-1].Content)
		if err != nil {
			return fmt.Errorf("chat error: %w", err)
		}
		return nil
	}

	// REPL mode
	fmt.Fprintln(opts.Stdout, "cauldronwatch chat (type 'exit' to quit, '/clear' to reset)")
	if hist, err := conv.History(cliSession); err == nil && len(hist) > 0 {
		fmt.Fprintln(opts.Stdout, hist[len(hist)-1].Content)
	}
	scanner := bufio.NewScanner(opts.Stdin)
	for {
		fmt.Fprint(opts.Stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		if input == "/clear" {
			if _, err := conv.Clear(cliSession); err != nil {
				fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
				continue
			}
			fmt.Fprintln(opts.Stdout, transcript.WelcomeMessage)
			continue
		}

		msgs, err := conv.Send(ctx, cliSession, input)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		}
		if len(msgs) > 0 {
			fmt.Fprintln(opts.Stdout, msgs[len(msgs)-1].Content)
		}
	}
	return nil
}

func runAgent(cmd *cobra.Command, args []string) error {
	return runAgentWithOptions(Options{Stdout: cmd.OutOrStdout()})
}

func runAgentWithOptions(opts Options) error {
	opts = opts.withDefaults()

	cfg, hub, err := newHub()
	if err != nil {
		return err
	}
	m, err := newModel(cfg, opts.ModelFactory)
	if err != nil {
		return err
	}

	agent := assistant.NewAgent(m, cfg.Assistant)
	report, err := agent.Analyze(context.Background(), hub.Discrepancies(dashboard.DiscrepancyFilter{}), hub.Readings())
	if err != nil {
		return fmt.Errorf("agent error: %w", err)
	}
	ds := hub.ApplyResolutions(report.ResolvedIDs)

	fmt.Fprintln(opts.Stdout, report.Analysis)
	fmt.Fprintf(opts.Stdout, "\nResolved: %d (%s)\n", report.ActionsCount, strings.Join(report.ResolvedIDs, ", "))
	fmt.Fprintf(opts.Stdout, "Remaining unresolved: %d\n", telemetry.SeverityCounts(ds).Unresolved)
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your API key\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set CAULDRON_API_KEY environment variable")
	fmt.Fprintln(out, "  3. Run 'cauldronwatch gateway' and open the dashboard")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Model: %s\n", cfg.Assistant.Model)
	fmt.Fprintf(out, "Endpoint: %s\n", cfg.Provider.BaseURL)
	fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.Provider.APIKey))
	fmt.Fprintf(out, "Transcript: %s (%s)\n", cfg.Transcript.Backend, cfg.TranscriptPath())
	dash, network := cfg.TickIntervals()
	fmt.Fprintf(out, "Ticks: dashboard=%s network=%s\n", dash, network)
	fmt.Fprintf(out, "Dashboard: http://%s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Fprintf(out, "WebUI: enabled=%v\n", cfg.Channels.WebUI.Enabled)
	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)

	if data, err := dataset.Open(cfg.Dashboard.DatasetDir); err != nil {
		fmt.Fprintf(out, "Dataset: error (%v)\n", err)
	} else {
		fmt.Fprintf(out, "Dataset: %d cauldrons, %d tickets\n", len(data.Cauldrons), len(data.Tickets))
	}
	return nil
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}
