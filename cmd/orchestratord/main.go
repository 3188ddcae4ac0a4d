// Command orchestratord runs the multi-agent task orchestrator: the HTTP
// surface, the streaming chat gateway, and the periodic sweepers, wired
// together through spf13/cobra subcommands, keeping main() a thin
// dispatcher over explicit setup functions.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orchestrator/taskorch/graph"
	"github.com/orchestrator/taskorch/graph/store"
	"github.com/orchestrator/taskorch/internal/agents"
	"github.com/orchestrator/taskorch/internal/api"
	"github.com/orchestrator/taskorch/internal/approval"
	"github.com/orchestrator/taskorch/internal/config"
	"github.com/orchestrator/taskorch/internal/eventbus"
	"github.com/orchestrator/taskorch/internal/gateway"
	"github.com/orchestrator/taskorch/internal/lifecycle"
	"github.com/orchestrator/taskorch/internal/obs"
	"github.com/orchestrator/taskorch/internal/persistence"
	"github.com/orchestrator/taskorch/internal/planner"
	"github.com/orchestrator/taskorch/internal/specialist"
	"github.com/orchestrator/taskorch/internal/tools"
	"github.com/orchestrator/taskorch/internal/workflow"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "orchestratord",
		Short: "multi-agent task orchestrator daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to an optional YAML config overlay")

	root.AddCommand(serveCmd(), migrateCmd(), sweepCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type deps struct {
	cfg       config.Config
	adapter   persistence.Adapter
	wfStore   store.Store[workflow.State]
	bundle    *obs.Bundle
	bus       *eventbus.Bus
	approvals *approval.Gate
	lifecycle *lifecycle.Manager
	registry  *agents.Registry
	catalogue *tools.Catalogue
	planner   *planner.Planner
	runner    *workflow.EngineRunner
}

func wire(cmd *cobra.Command) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	adapter, err := persistence.NewSQLiteAdapter(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open persistence adapter: %w", err)
	}

	wfStore, err := newWorkflowStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open workflow store: %w", err)
	}

	bundle, err := obs.New(os.Stdout, "orchestratord")
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	bus := eventbus.New(bundle.Emitter)
	approvals := approval.New(adapter, bus, cfg.ApprovalExpiry())
	lc := lifecycle.New(adapter, bus, cfg.WorkflowTTL(), cfg.ChainMaxDepth)
	registry := agents.New(adapter, bus)
	if err := registry.Load(cmd.Context()); err != nil {
		return nil, fmt.Errorf("load agent registry: %w", err)
	}

	catalogue := tools.NewCatalogue()
	if cfg.ToolManifestPath != "" {
		if err := catalogue.LoadFile(cfg.ToolManifestPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load tool catalogue: %w", err)
		}
	}

	pl := planner.New(stubProposer, bus)

	dispatcher := &specialist.Dispatcher{
		Model:     specialist.NewChatModel(cfg),
		Catalogue: catalogue,
		Tools:     specialist.NewRegistry(catalogue),
		Strategy:  tools.Strategy(cfg.DisclosureStrategy),
		MaxTools:  cfg.DisclosureMaxTools,
	}
	nodes := workflow.Nodes{
		Dispatch:        dispatcher.Dispatch,
		RequestApproval: makeApprovalRequester(approvals),
		NeedsApproval:   planner.IsHighRisk,
	}
	engineOpts := graph.Options{
		DefaultNodeTimeout: cfg.EngineNodeTimeout(),
		Retries:            cfg.EngineMaxRetries,
		Metrics:            bundle.Metrics,
	}
	engine, err := workflow.Build(wfStore, bundle.Emitter, nodes, engineOpts)
	if err != nil {
		return nil, fmt.Errorf("build workflow engine: %w", err)
	}
	runner := &workflow.EngineRunner{Engine: engine, Store: wfStore}

	return &deps{
		cfg: cfg, adapter: adapter, wfStore: wfStore, bundle: bundle, bus: bus,
		approvals: approvals, lifecycle: lc, registry: registry, catalogue: catalogue,
		planner: pl, runner: runner,
	}, nil
}

// newWorkflowStore builds the checkpoint store backing the workflow engine,
// selected by cfg.StoreDriver: "mysql" dials cfg.MySQLDSN via
// graph/store's MySQLStore, anything else (including the empty default)
// opens the local SQLite file at cfg.StorePath.
func newWorkflowStore(cfg config.Config) (store.Store[workflow.State], error) {
	switch cfg.StoreDriver {
	case "mysql":
		return store.NewMySQLStore[workflow.State](cfg.MySQLDSN)
	default:
		return store.NewSQLiteStore[workflow.State](cfg.StorePath)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the HTTP server and background sweepers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := wire(cmd)
			if err != nil {
				return err
			}

			server := api.NewServer(d.adapter, d.planner, d.approvals, d.lifecycle, d.registry, d.bus, d.runner, d.bundle.MetricsHandler())
			chatGateway := gateway.New(makeChatSource(d.runner), d.cfg.GatewayStreamBuffer)

			mux := http.NewServeMux()
			mux.Handle("/", server.Router())
			mux.HandleFunc("/chat/stream", chatGateway.ServeHTTP)
			httpServer := &http.Server{Addr: d.cfg.HTTPAddr, Handler: mux}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go runSweepers(ctx, d)

			errCh := make(chan error, 1)
			go func() { errCh <- httpServer.ListenAndServe() }()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			case err := <-errCh:
				if err == http.ErrServerClosed {
					return nil
				}
				return err
			}
		},
	}
}

func runSweepers(ctx context.Context, d *deps) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = d.lifecycle.Sweep(ctx)
			_, _ = d.approvals.SweepExpired(ctx)
			_ = d.registry.SweepOffline(ctx, agents.HeartbeatTTL)
		}
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or upgrade the persistence schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := wire(cmd)
			return err
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "run the TTL/approval/agent sweepers once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := wire(cmd)
			if err != nil {
				return err
			}
			expired, err := d.lifecycle.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("expired %d workflows\n", expired)
			approvalsExpired, err := d.approvals.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("expired %d approvals\n", approvalsExpired)
			return d.registry.SweepOffline(cmd.Context(), agents.HeartbeatTTL)
		},
	}
}
