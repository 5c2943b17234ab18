// Command conductor drives an agent team through the fixed delivery phase
// chain, pausing for human approval as the autonomy mode requires.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conductor/pkg/agents"
	"conductor/pkg/autonomy"
	"conductor/pkg/commit"
	"conductor/pkg/config"
	"conductor/pkg/gate"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/orch"
	"conductor/pkg/phase"
	"conductor/pkg/state"
	"conductor/pkg/vigilance"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: conductor [flags] <command> [args]

Commands:
  run <brief-file>      start the chain from its first phase
  resume <phase> <file> regenerate one phase from an input file
  status                print phases, pending approvals, and alerts
  approve <id> [note]   approve a pending request
  reject <id> [note]    reject a pending request
  mode <1-5>            switch the autonomy mode
  reset                 return every phase to pending and clear approvals
  report <prom-url>     summarize run metrics from a Prometheus server

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	var (
		configPath  string
		modeFlag    int
		metricsAddr string
	)
	flag.StringVar(&configPath, "config", "conductor.yaml", "Path to config file")
	flag.IntVar(&modeFlag, "mode", 0, "Override the configured autonomy mode (1-5)")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9090)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if modeFlag != 0 {
		cfg.AutonomyMode = modeFlag
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid mode override: %v", err)
		}
	}

	logger := logx.NewLogger("conductor")
	reg := prometheus.NewRegistry()

	o, err := buildOrchestrator(cfg, reg)
	if err != nil {
		log.Fatalf("Failed to build orchestrator: %v", err)
	}
	if err := o.Restore(); err != nil {
		log.Fatalf("Failed to restore session: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, reg, logger)
	}

	if err := dispatch(ctx, o, logger, flag.Args()); err != nil {
		log.Fatalf("%v", err)
	}
}

func buildOrchestrator(cfg *config.Config, reg prometheus.Registerer) (*orch.Orchestrator, error) {
	invoker, err := buildInvoker(cfg)
	if err != nil {
		return nil, err
	}

	opts := []agents.RosterOption{
		agents.WithTimeout(cfg.Agents.Timeout.Std()),
		agents.WithTokenBudget(cfg.Agents.TokenBudget),
	}
	for roleName, model := range cfg.Agents.RoleModels {
		roleInvoker, err := buildRoleInvoker(cfg, model)
		if err != nil {
			return nil, err
		}
		opts = append(opts, agents.WithRoleInvoker(phase.Role(roleName), roleInvoker))
	}
	roster, err := agents.NewRoster(invoker, opts...)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}
	sink, err := buildSink(cfg)
	if err != nil {
		return nil, err
	}

	return orch.New(orch.Config{
		Roster:    roster,
		Preflight: gate.NewContradictionGate(),
		Sink:      sink,
		Store:     store,
		Metrics:   metrics.New(reg),
		Mode:      autonomy.Mode(cfg.AutonomyMode),
	})
}

func buildInvoker(cfg *config.Config) (agents.Invoker, error) {
	return buildRoleInvoker(cfg, cfg.Agents.Model)
}

func buildRoleInvoker(cfg *config.Config, model string) (agents.Invoker, error) {
	switch cfg.Agents.Provider {
	case "anthropic":
		key, err := cfg.APIKey()
		if err != nil {
			return nil, err
		}
		return agents.NewClaudeInvoker(key, model), nil
	case "openai":
		key, err := cfg.APIKey()
		if err != nil {
			return nil, err
		}
		return agents.NewOpenAIInvoker(key, model), nil
	case "ollama":
		return agents.NewOllamaInvoker(cfg.Agents.OllamaHost, model), nil
	case "mock":
		return agents.NewMockInvoker(nil), nil
	default:
		return nil, fmt.Errorf("unknown agent provider %q", cfg.Agents.Provider)
	}
}

func buildStore(cfg *config.Config) (state.Store, error) {
	switch cfg.State.Backend {
	case config.StoreMemory:
		return state.NewMemoryStore(), nil
	case config.StoreFile:
		return state.NewFileStore(cfg.State.Path)
	case config.StoreSQLite:
		return state.NewSQLiteStore(cfg.State.Path)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

func buildSink(cfg *config.Config) (commit.Sink, error) {
	switch cfg.Commit.Backend {
	case "local":
		return commit.NewLocalSink(cfg.Commit.Dir)
	case "github":
		token, err := cfg.GitHubToken()
		if err != nil {
			return nil, err
		}
		return commit.NewGitHubSink(token, cfg.Commit.Owner, cfg.Commit.Repo, cfg.Commit.Branch)
	default:
		return nil, fmt.Errorf("unknown commit backend %q", cfg.Commit.Backend)
	}
}

func dispatch(ctx context.Context, o *orch.Orchestrator, logger *logx.Logger, args []string) error {
	o.OnMessage(func(code phase.Code, msg string) {
		fmt.Printf("[%s] %s\n", code, msg)
	})
	o.OnAlert(func(a vigilance.Alert) {
		logger.Warn("alert %s (%s) on phase %s: %s", a.ID, a.Severity, a.Phase, a.Message)
	})

	switch args[0] {
	case "run":
		if len(args) < 2 {
			return fmt.Errorf("run requires a brief file")
		}
		brief, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read brief: %w", err)
		}
		if err := o.Start(ctx, string(brief)); err != nil {
			return err
		}
		printStatus(o)
		return nil

	case "resume":
		if len(args) < 3 {
			return fmt.Errorf("resume requires a phase code and an input file")
		}
		input, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if err := o.RunPhase(ctx, phase.Code(args[1]), string(input)); err != nil {
			return err
		}
		printStatus(o)
		return nil

	case "status":
		printStatus(o)
		return nil

	case "approve":
		if len(args) < 2 {
			return fmt.Errorf("approve requires a request id")
		}
		return o.Approve(ctx, args[1], strings.Join(args[2:], " "))

	case "reject":
		if len(args) < 2 {
			return fmt.Errorf("reject requires a request id")
		}
		return o.Reject(args[1], strings.Join(args[2:], " "))

	case "mode":
		if len(args) < 2 {
			return fmt.Errorf("mode requires a level 1-5")
		}
		var m int
		if _, err := fmt.Sscanf(args[1], "%d", &m); err != nil {
			return fmt.Errorf("invalid mode %q", args[1])
		}
		return o.SetAutonomyMode(autonomy.Mode(m))

	case "reset":
		o.Reset()
		printStatus(o)
		return nil

	case "report":
		if len(args) < 2 {
			return fmt.Errorf("report requires a Prometheus server URL")
		}
		qs, err := metrics.NewQueryService(args[1])
		if err != nil {
			return err
		}
		report, err := qs.Report(ctx)
		if err != nil {
			return err
		}
		printReport(report)
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printReport(r *metrics.SessionReport) {
	fmt.Printf("Phases: %d started, %d completed, %d blocked\n",
		r.PhasesStarted, r.PhasesCompleted, r.PhasesBlocked)
	fmt.Printf("Approvals pending: %d\n", r.ApprovalsPending)
	for alertType, n := range r.AlertsByType {
		fmt.Printf("Alerts %s: %d\n", alertType, n)
	}
	for reason, n := range r.FilteredByReason {
		fmt.Printf("Filtered %s: %d\n", reason, n)
	}
}

func printStatus(o *orch.Orchestrator) {
	fmt.Println("Phases:")
	for _, p := range o.Phases() {
		spec, _ := phase.Lookup(p.Code)
		line := fmt.Sprintf("  %-4s %-26s %-12s", p.Code, spec.Name, p.Status)
		if p.BlockReason != "" {
			line += " " + p.BlockReason
		}
		fmt.Println(line)
	}

	pending := o.Approvals().Pending()
	if len(pending) > 0 {
		fmt.Println("Pending approvals:")
		for _, req := range pending {
			fmt.Printf("  %s phase=%s unit=%s role=%s\n", req.ID, req.Phase, req.UnitKey, req.AgentRole)
			fmt.Printf("    %s\n", req.Summary)
		}
	}

	if alerts := o.Vigilance().Alerts(); len(alerts) > 0 {
		fmt.Println("Alerts:")
		for _, a := range alerts {
			disposition := "open"
			if a.Resolved {
				disposition = "resolved"
			}
			fmt.Printf("  %s [%s/%s] phase=%s %s (%s)\n", a.ID, a.Type, a.Severity, a.Phase, a.Message, disposition)
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped: %v", err)
	}
}
