package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ucode/internal/config"
	"ucode/internal/gate"
	"ucode/internal/history"
	"ucode/internal/logging"
	"ucode/internal/provider"
	"ucode/internal/session"
)

const version = "1.0.0"

var (
	// Global flags
	verbose   bool
	workspace string
	timeout   time.Duration

	// Logger for non-interactive subcommands
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ucode",
	Short: "uCODE - command dispatch and safety shell",
	Long: `uCODE is an interactive terminal shell that classifies every input
line as a known command, a validated shell command, or a question for an
AI provider.

Known commands are matched with confidence scoring (typos are corrected
or confirmed), raw shell commands pass an injection validator, and AI
questions route between a local model server and a gated cloud broker.

Run without arguments to start the interactive shell.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The interactive shell has its own logging; zap serves the
		// one-shot subcommands.
		if cmd.Use == "ucode" && cmd.CalledAs() == "ucode" {
			return nil
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell()
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the AI providers a single question and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var askCloud bool

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Inspect and control the network gate",
}

var gateTTL time.Duration

var gateOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Open the gate for outbound network access",
	RunE:  runGateOpen,
}

var gateCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the gate",
	RunE:  runGateClose,
}

var gateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the gate state and recent transitions",
	RunE:  runGateStatus,
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [clear]",
	Short: "Show or clear the command history",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the uCODE version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ucode %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	askCmd.Flags().BoolVar(&askCloud, "cloud", false, "Prefer the cloud provider for this question")
	gateOpenCmd.Flags().DurationVar(&gateTTL, "ttl", 0, "How long the gate stays open (default from config)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of entries to show")

	gateCmd.AddCommand(gateOpenCmd)
	gateCmd.AddCommand(gateCloseCmd)
	gateCmd.AddCommand(gateStatusCmd)

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveWorkspace returns the configured workspace or the current
// directory, plus the loaded configuration.
func resolveWorkspace() (string, *config.Config, error) {
	ws := workspace
	if ws == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", nil, fmt.Errorf("cannot determine workspace: %w", err)
		}
		ws = cwd
	}

	cfg, err := config.Load(config.Path(ws))
	if err != nil {
		return "", nil, err
	}
	if err := cfg.Validate(); err != nil {
		return "", nil, err
	}
	return ws, cfg, nil
}

// runShell starts the interactive session.
func runShell() error {
	ws, cfg, err := resolveWorkspace()
	if err != nil {
		return err
	}

	if err := logging.Initialize(ws); err != nil {
		fmt.Fprintf(os.Stderr, "warning: file logging disabled: %v\n", err)
	}
	defer logging.Close()

	s, err := session.New(ws, cfg, os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.Run(context.Background())
}

// runAsk routes one question and prints the answer.
func runAsk(cmd *cobra.Command, args []string) error {
	ws, cfg, err := resolveWorkspace()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	g := gate.New(config.ResolvePath(ws, cfg.Gate.RecordPath))
	router := buildRouter(cfg, g)

	question := strings.Join(args, " ")
	logger.Info("routing question", zap.Int("length", len(question)), zap.Bool("prefer_cloud", askCloud))

	result := router.Route(ctx, question, askCloud)
	switch result.Status {
	case provider.RouteSuccess, provider.RouteFallbackOK:
		fmt.Println(result.Response)
		if result.Status == provider.RouteFallbackOK {
			logger.Warn("answered by fallback provider", zap.String("provider", result.ProviderUsed))
		}
		return nil
	default:
		return fmt.Errorf("no provider could answer: %s", result.Message)
	}
}

func runGateOpen(cmd *cobra.Command, args []string) error {
	ws, cfg, err := resolveWorkspace()
	if err != nil {
		return err
	}

	ttl := gateTTL
	if ttl <= 0 {
		ttl = cfg.GetGateTTL()
	}

	g := gate.New(config.ResolvePath(ws, cfg.Gate.RecordPath))
	state, err := g.Open(ttl, "cli", "manual open")
	if err != nil {
		return err
	}
	fmt.Printf("gate open until %s\n", state.ExpiresAt.Format(time.RFC3339))
	return nil
}

func runGateClose(cmd *cobra.Command, args []string) error {
	ws, cfg, err := resolveWorkspace()
	if err != nil {
		return err
	}

	g := gate.New(config.ResolvePath(ws, cfg.Gate.RecordPath))
	if _, err := g.Close("manual close"); err != nil {
		return err
	}
	fmt.Println("gate closed")
	return nil
}

func runGateStatus(cmd *cobra.Command, args []string) error {
	ws, cfg, err := resolveWorkspace()
	if err != nil {
		return err
	}

	g := gate.New(config.ResolvePath(ws, cfg.Gate.RecordPath))
	state, err := g.Status()
	if err != nil {
		return err
	}

	if state.Open {
		fmt.Printf("gate: open (scope %q, expires %s)\n", state.Scope, state.ExpiresAt.Format(time.RFC3339))
	} else {
		reason := state.CloseReason
		if reason == "" {
			reason = "closed"
		}
		fmt.Printf("gate: closed (%s)\n", reason)
	}

	for _, e := range state.Events {
		fmt.Printf("  %s  %-5s %s %s\n", e.Timestamp.Format(time.RFC3339), e.Action, e.Actor, e.Reason)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ws, cfg, err := resolveWorkspace()
	if err != nil {
		return err
	}

	store, err := history.NewStore(config.ResolvePath(ws, cfg.History.DatabasePath), cfg.History.MaxEntries)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		if !strings.EqualFold(args[0], "clear") {
			return fmt.Errorf("unknown history action %q", args[0])
		}
		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Println("history cleared")
		return nil
	}

	entries, err := store.Recent(historyLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no history yet")
		return nil
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Printf("%4d  %-12s %s\n", e.ID, e.Status, e.Input)
	}
	return nil
}

// buildRouter assembles the provider pair for one-shot commands.
func buildRouter(cfg *config.Config, g *gate.Gate) *provider.Router {
	local := provider.NewOllama(provider.OllamaConfig{
		Endpoint:        cfg.Providers.Local.Endpoint,
		Model:           cfg.Providers.Local.Model,
		LivenessTimeout: cfg.GetLivenessTimeout(),
		GenerateTimeout: cfg.GetGenerateTimeout(),
	})
	cloud := provider.NewBroker(provider.BrokerConfig{
		BaseURL: cfg.Providers.Cloud.BaseURL,
		APIKey:  cfg.Providers.Cloud.APIKey,
		Model:   cfg.Providers.Cloud.Model,
		Timeout: cfg.GetCloudTimeout(),
		Gate:    g,
	})
	return provider.NewRouter(local, cloud, provider.RouterConfig{
		Primary:            cfg.Providers.Primary,
		AutoFallback:       cfg.Providers.AutoFallback,
		CloudSanityCheck:   cfg.Providers.CloudSanityCheck,
		LocalFallbackModel: cfg.Providers.Local.FallbackModel,
	})
}
