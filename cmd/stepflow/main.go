// Command stepflow runs one troubleshooting session in the terminal: it
// loads the incident, its TSG and PlanDAG, seeds the session memory, drives
// the DAG scheduler, and prints the conclusion.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/stepflow-io/stepflow/pkg/agent"
	"github.com/stepflow-io/stepflow/pkg/config"
	"github.com/stepflow-io/stepflow/pkg/datastore"
	"github.com/stepflow-io/stepflow/pkg/llm"
	"github.com/stepflow-io/stepflow/pkg/memory"
	"github.com/stepflow-io/stepflow/pkg/plan"
	"github.com/stepflow-io/stepflow/pkg/scheduler"
	"github.com/stepflow-io/stepflow/pkg/tools"
	"github.com/stepflow-io/stepflow/pkg/trace"
	"github.com/stepflow-io/stepflow/pkg/tsg"
	"github.com/stepflow-io/stepflow/pkg/version"
)

func main() {
	if err := run(); err != nil {
		slog.Error("session failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	incidentID := flag.String("incident", "", "incident identifier to diagnose")
	incidentsPath := flag.String("incidents", "demo_data/incidents.json", "incident to TSG mapping file")
	tsgDir := flag.String("tsg-dir", "demo_data/tsgs", "directory holding TSG documents")
	planPath := flag.String("plan", "", "PlanDAG JSON file (defaults to <tsg-dir>/<tsg>.plan.json)")
	flag.Parse()

	// .env is optional; the environment may already be populated.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	slog.Info("starting", "version", version.Full())

	if *incidentID == "" {
		return fmt.Errorf("the -incident flag is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	sessionID := fmt.Sprintf("%s_%s", time.Now().Format("20060102_150405"), uuid.NewString()[:8])
	log := slog.With("session_id", sessionID)
	log.Info("session created", "incident", *incidentID)

	mem := memory.NewService(sessionID)
	tracer, err := trace.NewLogger(cfg.TraceDir, sessionID)
	if err != nil {
		return err
	}

	info, err := seedIncident(mem, *incidentID, *incidentsPath)
	if err != nil {
		return err
	}
	tsgPath := filepath.Join(*tsgDir, info.TSG)
	content, err := tsg.LoadDocument(tsgPath)
	if err != nil {
		return fmt.Errorf("load TSG: %w", err)
	}
	if _, err := mem.UpdateByKey(memory.KeyTSGContent, content, "tsg", "Troubleshooting guide content"); err != nil {
		return err
	}

	resolvedPlan := *planPath
	if resolvedPlan == "" {
		resolvedPlan = planFileFor(tsgPath)
	}
	p, err := plan.Load(resolvedPlan)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	nodes, edges := p.InitialTables()
	p.Bootstrap(nodes, edges)
	if _, err := mem.UpdateByKey(memory.KeyNodeStatus, nodes, "node_status", "PlanDAG node status table"); err != nil {
		return err
	}
	if _, err := mem.UpdateByKey(memory.KeyEdgeStatus, edges, "edge_status", "PlanDAG edge status table"); err != nil {
		return err
	}

	prepareDemoStore(cfg.Tools.DefaultDatabase, log)

	client, err := llm.New(llm.Options{
		APIKey:      os.Getenv(cfg.LLM.APIKeyEnv),
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return err
	}

	prompter := tools.NewTerminalPrompter(os.Stdin, os.Stdout)
	factory := workerFactory(mem, p, client, prompter, tracer, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(mem, p, factory, tracer, scheduler.Config{
		CheckInterval:   cfg.Scheduler.CheckInterval.Std(),
		ExecutorTimeout: cfg.Scheduler.ExecutorTimeout.Std(),
		MaxExecutors:    cfg.Scheduler.MaxExecutors,
	})
	summary, err := sched.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(summary.String())
	fmt.Printf("Traces written to %s\n", tracer.Dir())
	return nil
}

// seedIncident resolves the incident and stores its details. A missing
// mapping entry is a warning, not a failure: the session still starts with
// whatever the user can tell the workers.
func seedIncident(mem *memory.Service, incidentID, incidentsPath string) (tsg.IncidentInfo, error) {
	mapping, err := tsg.LoadMapping(incidentsPath)
	if err != nil {
		return tsg.IncidentInfo{}, err
	}
	info, ok := mapping.Lookup(incidentID)
	if !ok {
		slog.Warn("incident not found in mapping", "incident", incidentID)
		info = tsg.IncidentInfo{Description: "unmapped incident " + incidentID}
	}
	if _, err := mem.UpdateByKey(memory.KeyIncidentID, incidentID, "incident", "Incident identifier"); err != nil {
		return info, err
	}
	payload := map[string]any{
		"incident_id": incidentID,
		"description": info.Description,
		"severity":    info.Severity,
		"service":     info.Service,
	}
	if _, err := mem.UpdateByKey(memory.KeyIncidentInfo, payload, "incident", "Incident details"); err != nil {
		return info, err
	}
	return info, nil
}

// planFileFor derives the plan path from the TSG path: guide.md -> guide.plan.json.
func planFileFor(tsgPath string) string {
	ext := filepath.Ext(tsgPath)
	return tsgPath[:len(tsgPath)-len(ext)] + ".plan.json"
}

// prepareDemoStore migrates and seeds the demo telemetry database. Failures
// are non-fatal: the SQL tool reports them per query.
func prepareDemoStore(path string, log *slog.Logger) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn("demo store dir create failed", "error", err)
		return
	}
	db, err := datastore.Open(path)
	if err != nil {
		log.Warn("demo store open failed", "path", path, "error", err)
		return
	}
	defer db.Close()
	if err := datastore.MigrateDemo(db); err != nil {
		log.Warn("demo store migration failed", "error", err)
		return
	}
	if err := datastore.SeedDemo(db, 2000, time.Now().Add(-time.Hour)); err != nil {
		log.Warn("demo store seed failed", "error", err)
	}
}

// workerFactory builds one agent executor per dispatched node, each with its
// own role-filtered tool registry.
func workerFactory(mem *memory.Service, p *plan.Plan, client agent.LLMClient,
	prompter tools.Prompter, tracer *trace.Logger, cfg *config.Config) scheduler.WorkerFactory {

	return func(nodeName, executorID string) scheduler.Worker {
		registry, err := tools.BuildRegistry(executorID, tools.Deps{
			Mem:       mem,
			Prompter:  prompter,
			Generator: client,
			Runner:    tools.SubprocessRunner{Command: cfg.Tools.CodeInterpreter.Command},
		}, tools.Options{
			DefaultDatabase: cfg.Tools.DefaultDatabase,
			PromptTimeout:   cfg.Tools.UserPromptTimeout.Std(),
			Interpreter: tools.CodeInterpreterConfig{
				MaxAttempts:    cfg.Tools.CodeInterpreter.MaxAttempts,
				AllowedModules: cfg.Tools.CodeInterpreter.AllowedModules,
			},
			AllowedTools:  cfg.Roles["executor"].AllowedTools,
			EnablePlugins: cfg.Tools.EnablePlugins,
			PluginDir:     cfg.Tools.PluginDir,
		})
		if err != nil {
			slog.Warn("tool registry build failed, continuing without plugins",
				"node", nodeName, "error", err)
			registry, _ = tools.BuildRegistry(executorID, tools.Deps{
				Mem:       mem,
				Prompter:  prompter,
				Generator: client,
				Runner:    tools.SubprocessRunner{Command: cfg.Tools.CodeInterpreter.Command},
			}, tools.Options{
				DefaultDatabase: cfg.Tools.DefaultDatabase,
				PromptTimeout:   cfg.Tools.UserPromptTimeout.Std(),
				AllowedTools:    cfg.Roles["executor"].AllowedTools,
			})
		}
		return agent.NewExecutor(nodeName, mem.SessionID(), executorID, mem, client, registry, p, tracer, agent.Config{
			MaxIterations:   cfg.Executor.MaxIterations,
			ParseRetryLimit: cfg.Executor.ParseRetryLimit,
		})
	}
}
